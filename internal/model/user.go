// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの権限種別。
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid は既知のロールかどうかを返す。
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// User は図書館サービスの利用者を表す。
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsAdmin は管理者かどうかを返す。
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// UserPatch はユーザーの部分更新内容。nilのフィールドは変更しない。
type UserPatch struct {
	Username     *string
	PasswordHash *string
	Role         *Role
}

// IsEmpty は更新対象フィールドが1つもないかを返す。
func (p UserPatch) IsEmpty() bool {
	return p.Username == nil && p.PasswordHash == nil && p.Role == nil
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	Role      Role
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Actor は認証済みの操作主体。セッションから取り出した値をそのまま信頼する。
type Actor struct {
	UserID string
	Role   Role
}

// IsAdmin は管理者かどうかを返す。
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// CanAccessUser は指定ユーザーのデータにアクセスできるかを返す。本人か管理者のみ許可する。
func (a Actor) CanAccessUser(userID string) bool {
	return a.IsAdmin() || a.UserID == userID
}
