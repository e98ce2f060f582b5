package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/perpus/internal/model"
)

func TestMapAPIErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *model.APIError
		want int
	}{
		{model.NewNotFoundError("書籍", "x"), http.StatusNotFound},
		{model.NewUserNotFoundError("u"), http.StatusNotFound},
		{model.NewBookNotFoundError("b"), http.StatusNotFound},
		{model.NewLoanNotFoundError("l"), http.StatusNotFound},
		{model.NewInvalidValueError("title", "短すぎます"), http.StatusBadRequest},
		{model.NewInvalidURLError("空です"), http.StatusBadRequest},
		{model.NewOutOfStockError("b"), http.StatusForbidden},
		{model.NewAlreadyBorrowedError("b"), http.StatusForbidden},
		{model.NewAlreadyReturnedError("l"), http.StatusForbidden},
		{model.NewForbiddenError("だめ"), http.StatusForbidden},
		{model.NewSSRFBlockedError(), http.StatusForbidden},
		{model.NewDuplicateUsernameError("alice"), http.StatusConflict},
		{model.NewUnauthorizedError(), http.StatusUnauthorized},
		{model.NewFetchFailedError("timeout"), http.StatusBadGateway},
		{model.NewParseFailedError(), http.StatusUnprocessableEntity},
		{model.NewStorageFailureError(errors.New("conn reset")), http.StatusInternalServerError},
		{&model.APIError{Code: "SOMETHING_ELSE"}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Code, func(t *testing.T) {
			if got := mapAPIErrorToHTTPStatus(tt.err); got != tt.want {
				t.Errorf("mapAPIErrorToHTTPStatus(%s) = %d, want %d", tt.err.Code, got, tt.want)
			}
		})
	}
}

func TestHandleServiceError_WrappedAPIError(t *testing.T) {
	w := httptest.NewRecorder()
	handleServiceError(w, fmt.Errorf("borrow: %w", model.NewOutOfStockError("book-1")))

	assertErrorCode(t, w, http.StatusForbidden, model.ErrCodeOutOfStock)
}

func TestHandleServiceError_UnknownError_Returns500(t *testing.T) {
	w := httptest.NewRecorder()
	handleServiceError(w, errors.New("pq: relation \"loans\" does not exist"))

	assertErrorCode(t, w, http.StatusInternalServerError, "INTERNAL_ERROR")
}

func TestHandleServiceError_StorageFailureHidesCause(t *testing.T) {
	w := httptest.NewRecorder()
	handleServiceError(w, model.NewStorageFailureError(errors.New("dial tcp 10.0.0.5:5432: connection refused")))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	body := w.Body.String()
	if strings.Contains(body, "10.0.0.5") {
		t.Errorf("response leaks backend detail: %s", body)
	}
}

func TestParsePage(t *testing.T) {
	tests := []struct {
		query   string
		want    model.Page
		wantErr string
	}{
		{"", model.Page{}, ""},
		{"page=2&per_page=25", model.Page{Number: 2, PerPage: 25}, ""},
		{"page=abc", model.Page{}, "page"},
		{"per_page=1.5", model.Page{}, "per_page"},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/books?"+tt.query, nil)
			got, err := parsePage(req)
			if tt.wantErr != "" {
				var apiErr *model.APIError
				if !errors.As(err, &apiErr) || apiErr.Field != tt.wantErr {
					t.Fatalf("err = %v, want INVALID_VALUE on %s", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("page = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNewListResponse_NilItemsBecomeEmpty(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusOK, newListResponse[*model.Book](nil, model.Page{}, 0))

	if got := strings.TrimSpace(w.Body.String()); got != `{"items":[],"page":1}` {
		t.Errorf("body = %q", got)
	}
}
