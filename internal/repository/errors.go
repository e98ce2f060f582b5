package repository

import (
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgreSQLのSQLSTATE
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
	pqCheckViolation      = "23514"
)

// 制約名
const (
	constraintActiveLoan     = "uq_loans_active_user_book"
	constraintUsernameUnique = "users_username_key"
)

func pqError(err error) (*pq.Error, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr, true
	}
	return nil, false
}

func isUniqueViolation(err error, constraint string) bool {
	pqErr, ok := pqError(err)
	return ok && pqErr.Code == pqUniqueViolation && pqErr.Constraint == constraint
}

func isForeignKeyViolation(err error) bool {
	pqErr, ok := pqError(err)
	return ok && pqErr.Code == pqForeignKeyViolation
}

func isCheckViolation(err error) bool {
	pqErr, ok := pqError(err)
	return ok && pqErr.Code == pqCheckViolation
}

// validID はuuidカラムに渡せる文字列かを返す。
// 形式不正のIDはPostgreSQLで構文エラーになるため、未検出として扱う。
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// likePattern はLIKE/ILIKE用に特殊文字をエスケープした部分一致パターンを返す。
func likePattern(keyword string) string {
	escaped := make([]rune, 0, len(keyword)+2)
	for _, r := range keyword {
		if r == '%' || r == '_' || r == '\\' {
			escaped = append(escaped, '\\')
		}
		escaped = append(escaped, r)
	}
	return "%" + string(escaped) + "%"
}
