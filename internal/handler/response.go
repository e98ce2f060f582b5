// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"github.com/hitoshi/perpus/internal/middleware"
	"github.com/hitoshi/perpus/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// listResponse はページング付き一覧のAPIレスポンス。
type listResponse[T any] struct {
	Items []T `json:"items"`
	Page  int `json:"page"`
	Total int `json:"total,omitempty"`
}

func newListResponse[T any](items []T, page model.Page, total int) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	number := page.Number
	if number < 1 {
		number = 1
	}
	return listResponse[T]{Items: items, Page: number, Total: total}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをデコードする。失敗時は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return false
	}
	return true
}

// requireActor はコンテキストから操作主体を取り出す。未認証なら401を書き込みfalseを返す。
func requireActor(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, &model.APIError{
			Code:     model.ErrCodeUnauthorized,
			Message:  "認証が必要です。",
			Category: "auth",
			Action:   "ログインしてください。",
		})
		return model.Actor{}, false
	}
	return actor, true
}

// parsePage はpage・per_pageクエリを読み取る。未指定は0として返し、補正はサービス層に任せる。
func parsePage(r *http.Request) (model.Page, error) {
	var page model.Page
	var err error
	if page.Number, err = queryInt(r, "page"); err != nil {
		return page, err
	}
	if page.PerPage, err = queryInt(r, "per_page"); err != nil {
		return page, err
	}
	return page, nil
}

// queryInt は整数のクエリパラメータを読み取る。未指定なら0。
func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, model.NewInvalidValueError(key, "整数で指定してください")
	}
	return n, nil
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		if statusCode >= http.StatusInternalServerError {
			slog.Error("service error",
				slog.String("code", apiErr.Code),
				slog.Any("error", err),
			)
		}
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
// 在庫切れ・貸出重複・返却済みは「許可されない操作」として403で返す。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeNotFound, model.ErrCodeUserNotFound, model.ErrCodeBookNotFound, model.ErrCodeLoanNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidValue, model.ErrCodeInvalidURL:
		return http.StatusBadRequest
	case model.ErrCodeOutOfStock, model.ErrCodeAlreadyBorrowed, model.ErrCodeAlreadyReturned, model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeSSRFBlocked:
		return http.StatusForbidden
	case model.ErrCodeDuplicateUsername:
		return http.StatusConflict
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeFetchFailed:
		return http.StatusBadGateway
	case model.ErrCodeParseFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
