// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/perpus/internal/model"
	"github.com/hitoshi/perpus/internal/repository"
)

const (
	usernameMinLen    = 3
	usernameMaxLen    = 20
	passwordMinLen    = 8
	keywordMinLen     = 2
	maxPageSize       = 100
	defaultPageSize   = 10
	bcryptPasswordMax = 72
)

// CreateInput はユーザー登録時の入力値。
type CreateInput struct {
	Username string
	Password string
	Role     model.Role
}

// UpdateInput はユーザー更新時の入力値。nilのフィールドは変更しない。
type UpdateInput struct {
	Username *string
	Password *string
	Role     *model.Role
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	bcryptCost  int
	logger      *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	bcryptCost int,
	logger *slog.Logger,
) *Service {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		bcryptCost:  bcryptCost,
		logger:      logger,
	}
}

// Create はユーザーを登録する。ロール未指定の場合は一般ユーザーとする。
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	if err := validateUsername(in.Username); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	if in.Role == "" {
		in.Role = model.RoleUser
	}
	if !in.Role.Valid() {
		return nil, model.NewInvalidValueError("role", "admin または user を指定してください")
	}

	existing, err := s.userRepo.FindByUsername(ctx, in.Username)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateUsernameError(in.Username)
	}

	hash, err := s.hash(in.Password)
	if err != nil {
		return nil, err
	}

	u := &model.User{
		ID:           uuid.NewString(),
		Username:     in.Username,
		PasswordHash: hash,
		Role:         in.Role,
	}
	// 事前確認と登録の間に同名ユーザーが作られた場合はリポジトリがDUPLICATE_USERNAMEを返す
	if err := s.userRepo.Create(ctx, u); err != nil {
		return nil, fmt.Errorf("ユーザーの登録に失敗しました: %w", err)
	}

	s.logger.Info("ユーザーを登録しました",
		slog.String("user_id", u.ID),
		slog.String("role", string(u.Role)),
	)
	return u, nil
}

// Get はユーザーを1件取得する。
func (s *Service) Get(ctx context.Context, id string) (*model.User, error) {
	u, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError(id)
	}
	return u, nil
}

// List はユーザー一覧を返す。
func (s *Service) List(ctx context.Context, page model.Page) ([]*model.User, error) {
	if page.Number < 1 {
		page.Number = 1
	}
	if page.PerPage < 1 {
		page.PerPage = defaultPageSize
	}
	if page.PerPage > maxPageSize {
		page.PerPage = maxPageSize
	}
	users, err := s.userRepo.List(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	return users, nil
}

// Search はユーザー名の部分一致で検索する。
func (s *Service) Search(ctx context.Context, keyword string) ([]*model.User, error) {
	keyword = strings.TrimSpace(keyword)
	if utf8.RuneCountInString(keyword) < keywordMinLen {
		return nil, model.NewInvalidValueError("q", fmt.Sprintf("%d文字以上で入力してください", keywordMinLen))
	}
	users, err := s.userRepo.Search(ctx, keyword)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの検索に失敗しました: %w", err)
	}
	return users, nil
}

// Update は指定されたフィールドのみ更新する。
// パスワードを変更した場合は既存セッションを全て破棄する。
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*model.User, error) {
	var patch model.UserPatch

	if in.Username != nil {
		name := strings.TrimSpace(*in.Username)
		if err := validateUsername(name); err != nil {
			return nil, err
		}
		patch.Username = &name
	}
	if in.Password != nil {
		if err := validatePassword(*in.Password); err != nil {
			return nil, err
		}
		hash, err := s.hash(*in.Password)
		if err != nil {
			return nil, err
		}
		patch.PasswordHash = &hash
	}
	if in.Role != nil {
		if !in.Role.Valid() {
			return nil, model.NewInvalidValueError("role", "admin または user を指定してください")
		}
		patch.Role = in.Role
	}
	if patch.IsEmpty() {
		return nil, model.NewInvalidValueError("update_data", "更新する項目がありません")
	}

	u, err := s.userRepo.Update(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの更新に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError(id)
	}

	if patch.PasswordHash != nil || patch.Role != nil {
		if err := s.sessionRepo.DeleteByUserID(ctx, id); err != nil {
			return nil, fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}
	return u, nil
}

// Delete はユーザーを削除する。自分自身は削除できない。
// 貸出記録が残っているユーザーはストレージ側の制約で拒否される。
func (s *Service) Delete(ctx context.Context, actor model.Actor, id string) error {
	if actor.UserID == id {
		return model.NewForbiddenError("自分自身は削除できません。")
	}

	u, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return model.NewUserNotFoundError(id)
	}

	if err := s.sessionRepo.DeleteByUserID(ctx, id); err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}
	if err := s.userRepo.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	s.logger.Info("ユーザーを削除しました",
		slog.String("user_id", id),
		slog.String("deleted_by", actor.UserID),
	)
	return nil
}

func (s *Service) hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}
	return string(b), nil
}

func validateUsername(name string) error {
	n := utf8.RuneCountInString(name)
	if n < usernameMinLen || n > usernameMaxLen {
		return model.NewInvalidValueError("username", fmt.Sprintf("%d〜%d文字で入力してください", usernameMinLen, usernameMaxLen))
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < passwordMinLen {
		return model.NewInvalidValueError("password", fmt.Sprintf("%d文字以上で入力してください", passwordMinLen))
	}
	// bcryptは72バイトを超える入力を拒否する
	if len(password) > bcryptPasswordMax {
		return model.NewInvalidValueError("password", fmt.Sprintf("%dバイト以内で入力してください", bcryptPasswordMax))
	}
	return nil
}
