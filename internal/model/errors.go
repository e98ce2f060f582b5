// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code       string // エラーコード
	Message    string // エラーメッセージ
	Category   string // カテゴリ: auth, validation, loan, inventory, system
	Action     string // ユーザー向け対処方法
	Field      string // 入力エラーの対象フィールド（任意）
	Identifier string // 対象エンティティのID（任意）

	// Err は内部原因。レスポンスには含めずログにのみ出力する。
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は内部原因を返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeUserNotFound      = "USER_NOT_FOUND"
	ErrCodeBookNotFound      = "BOOK_NOT_FOUND"
	ErrCodeLoanNotFound      = "LOAN_NOT_FOUND"
	ErrCodeInvalidValue      = "INVALID_VALUE"
	ErrCodeOutOfStock        = "OUT_OF_STOCK"
	ErrCodeAlreadyBorrowed   = "ALREADY_BORROWED"
	ErrCodeAlreadyReturned   = "ALREADY_RETURNED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeDuplicateUsername = "DUPLICATE_USERNAME"
	ErrCodeStorageFailure    = "STORAGE_FAILURE"
	ErrCodeInvalidURL        = "INVALID_URL"
	ErrCodeSSRFBlocked       = "SSRF_BLOCKED"
	ErrCodeFetchFailed       = "FETCH_FAILED"
	ErrCodeParseFailed       = "PARSE_FAILED"
)

// ErrorCode はエラーチェーン中のAPIErrorのコードを返す。APIErrorでなければ空文字列。
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// IsNotFound はエラーが未検出系かどうかを返す。
func IsNotFound(err error) bool {
	switch ErrorCode(err) {
	case ErrCodeNotFound, ErrCodeUserNotFound, ErrCodeBookNotFound, ErrCodeLoanNotFound:
		return true
	}
	return false
}

// NewNotFoundError は汎用の未検出エラーを生成する。
func NewNotFoundError(entity, id string) *APIError {
	return &APIError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%sが見つかりません: %s", entity, id),
		Category:   "validation",
		Action:     "IDを確認してください。",
		Identifier: id,
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError(userID string) *APIError {
	return &APIError{
		Code:       ErrCodeUserNotFound,
		Message:    fmt.Sprintf("指定されたユーザーが見つかりません: %s", userID),
		Category:   "auth",
		Action:     "ユーザーIDを確認してください。",
		Identifier: userID,
	}
}

// NewBookNotFoundError は書籍が見つからない場合のエラーを生成する。
func NewBookNotFoundError(bookID string) *APIError {
	return &APIError{
		Code:       ErrCodeBookNotFound,
		Message:    fmt.Sprintf("指定された書籍が見つかりません: %s", bookID),
		Category:   "inventory",
		Action:     "書籍IDを確認してください。",
		Identifier: bookID,
	}
}

// NewLoanNotFoundError は貸出記録が見つからない場合のエラーを生成する。
func NewLoanNotFoundError(loanID string) *APIError {
	return &APIError{
		Code:       ErrCodeLoanNotFound,
		Message:    fmt.Sprintf("指定された貸出記録が見つかりません: %s", loanID),
		Category:   "loan",
		Action:     "貸出IDを確認してください。",
		Identifier: loanID,
	}
}

// NewInvalidValueError は入力値が不正な場合のエラーを生成する。
func NewInvalidValueError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidValue,
		Message:  fmt.Sprintf("%s の値が不正です: %s", field, reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
		Field:    field,
	}
}

// NewOutOfStockError は在庫切れエラーを生成する。
func NewOutOfStockError(bookID string) *APIError {
	return &APIError{
		Code:       ErrCodeOutOfStock,
		Message:    "この書籍は現在在庫がありません。",
		Category:   "inventory",
		Action:     "返却されるまでお待ちください。",
		Identifier: bookID,
	}
}

// NewAlreadyBorrowedError は同じ書籍を既に借りている場合のエラーを生成する。
func NewAlreadyBorrowedError(bookID string) *APIError {
	return &APIError{
		Code:       ErrCodeAlreadyBorrowed,
		Message:    "この書籍は既に貸出中です。",
		Category:   "loan",
		Action:     "返却してから再度借りてください。",
		Identifier: bookID,
	}
}

// NewAlreadyReturnedError は返却済みの貸出を再度返却しようとした場合のエラーを生成する。
func NewAlreadyReturnedError(loanID string) *APIError {
	return &APIError{
		Code:       ErrCodeAlreadyReturned,
		Message:    "この貸出は既に返却済みです。",
		Category:   "loan",
		Action:     "貸出状況を確認してください。",
		Identifier: loanID,
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  reason,
		Category: "auth",
		Action:   "管理者に問い合わせてください。",
	}
}

// NewUnauthorizedError は認証失敗エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "ユーザー名またはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewDuplicateUsernameError はユーザー名が既に使われている場合のエラーを生成する。
func NewDuplicateUsernameError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateUsername,
		Message:  fmt.Sprintf("ユーザー名は既に使用されています: %s", username),
		Category: "validation",
		Action:   "別のユーザー名を指定してください。",
		Field:    "username",
	}
}

// NewStorageFailureError はストレージ障害を表すエラーを生成する。
// 原因はErrに保持し、メッセージにはバックエンドの詳細を含めない。
func NewStorageFailureError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeStorageFailure,
		Message:  "データベース処理に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      cause,
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
		Field:    "url",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを入力してください。",
		Field:    "url",
	}
}

// NewFetchFailedError はカタログ取得失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("カタログの取得に失敗しました: %s", reason),
		Category: "inventory",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewParseFailedError はカタログのパース失敗エラーを生成する。
func NewParseFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeParseFailed,
		Message:  "カタログフィードの解析に失敗しました。",
		Category: "inventory",
		Action:   "有効なRSS/Atomフィードかどうか確認してください。",
	}
}
