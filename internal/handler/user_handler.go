package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/perpus/internal/model"
	"github.com/hitoshi/perpus/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	Create(ctx context.Context, in user.CreateInput) (*model.User, error)
	Get(ctx context.Context, id string) (*model.User, error)
	List(ctx context.Context, page model.Page) ([]*model.User, error)
	Search(ctx context.Context, keyword string) ([]*model.User, error)
	// Update は指定フィールドのみ更新する。パスワード・ロール変更時は既存セッションを破棄する。
	Update(ctx context.Context, id string, in user.UpdateInput) (*model.User, error)
	// Delete はユーザーを削除する。自分自身は削除できない。
	Delete(ctx context.Context, actor model.Actor, id string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

type createUserRequest struct {
	Username string     `json:"username"`
	Password string     `json:"password"`
	Role     model.Role `json:"role"`
}

type updateUserRequest struct {
	Username *string     `json:"username,omitempty"`
	Password *string     `json:"password,omitempty"`
	Role     *model.Role `json:"role,omitempty"`
}

// Create はユーザーを登録する（管理者のみ）。
// POST /users
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.service.Create(r.Context(), user.CreateInput{
		Username: req.Username,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// List はユーザー一覧を返す（管理者のみ）。
// GET /users?page=&per_page=
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	users, err := h.service.List(r.Context(), page)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(users, page, 0))
}

// Search はユーザー名で検索する（管理者のみ）。
// GET /users/search?q=
func (h *UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if users == nil {
		users = []*model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// Get はユーザー詳細を返す。本人または管理者のみ。
// GET /users/{id}
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if !actor.CanAccessUser(id) {
		handleServiceError(w, model.NewForbiddenError("他のユーザーの情報は参照できません。"))
		return
	}

	u, err := h.service.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Update はユーザー情報を更新する。本人または管理者のみ。ロールの変更は管理者のみ。
// PUT /users/{id}
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if !actor.CanAccessUser(id) {
		handleServiceError(w, model.NewForbiddenError("他のユーザーの情報は変更できません。"))
		return
	}

	var req updateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Role != nil && !actor.IsAdmin() {
		handleServiceError(w, model.NewForbiddenError("ロールを変更する権限がありません。"))
		return
	}

	u, err := h.service.Update(r.Context(), id, user.UpdateInput{
		Username: req.Username,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Delete はユーザーを削除する（管理者のみ）。
// DELETE /users/{id}
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
