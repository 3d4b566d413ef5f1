// Package account はアカウントの登録・プロフィール更新・退会のドメインロジックを提供する。
package account

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/tweetbox/internal/model"
	"github.com/hitoshi/tweetbox/internal/repository"
	"github.com/hitoshi/tweetbox/internal/security"
	"github.com/hitoshi/tweetbox/internal/storage"
)

// 入力値の文字数制限（ルーン数）
const (
	MinNameLength     = 2
	MaxNameLength     = 100
	MinUsernameLength = 5
	MaxUsernameLength = 50
	MaxBioLength      = 255
	MinPasswordLength = 2
	MaxPasswordLength = 100

	// maxPasswordBytes はbcryptが扱える入力の上限。
	maxPasswordBytes = 72
)

// アバター関連のデフォルト値
const (
	DefaultAvatarMaxSize      = 5 << 20
	DefaultAvatarFetchTimeout = 10 * time.Second
)

// PasswordHasher はパスワードのハッシュ化と照合のインターフェース。
type PasswordHasher interface {
	Hash(password string) (string, error)
	Check(hash, password string) bool
}

// Config はアカウントサービスの設定。
type Config struct {
	AvatarMaxSize      int64         // アバター画像の最大バイト数
	AvatarFetchTimeout time.Duration // URLからのアバター取得のタイムアウト
}

// RegisterInput はアカウント登録の入力。
type RegisterInput struct {
	Name      string
	Email     string
	Username  string
	Password  string
	Bio       string
	Birthday  *time.Time
	Protected bool
}

// UpdateProfileInput はプロフィール更新の入力。nilのフィールドは変更しない。
type UpdateProfileInput struct {
	Name      *string
	Bio       *string
	Birthday  *time.Time
	Protected *bool
}

// Service はアカウント管理のサービス層。
type Service struct {
	accountRepo repository.AccountRepository
	blobs       storage.BlobStore
	hasher      PasswordHasher
	guard       security.SSRFGuardService
	config      Config
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	accountRepo repository.AccountRepository,
	blobs storage.BlobStore,
	hasher PasswordHasher,
	guard security.SSRFGuardService,
	config Config,
) *Service {
	if config.AvatarMaxSize <= 0 {
		config.AvatarMaxSize = DefaultAvatarMaxSize
	}
	if config.AvatarFetchTimeout <= 0 {
		config.AvatarFetchTimeout = DefaultAvatarFetchTimeout
	}
	return &Service{
		accountRepo: accountRepo,
		blobs:       blobs,
		hasher:      hasher,
		guard:       guard,
		config:      config,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Register は新しいアカウントを登録する。
// アカウントは有効・公開・フォロー関係なし・センチネルのアバターで作成される。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.Account, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.TrimSpace(in.Email)

	if err := validateName(name); err != nil {
		return nil, err
	}
	if _, err := mail.ParseAddress(email); err != nil || strings.ContainsAny(email, "<> ") {
		return nil, model.NewBadInputError("メールアドレスの形式が正しくありません")
	}
	if err := validateUsername(in.Username); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	if err := validateBio(in.Bio); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}

	now := s.now()
	account := &model.Account{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     in.Username,
		Name:         name,
		PasswordHash: hash,
		Bio:          in.Bio,
		Birthday:     in.Birthday,
		Protected:    in.Protected,
		IsActive:     true,
		Avatar:       model.DefaultAvatar(),
		Followers:    []string{},
		Following:    []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.accountRepo.Create(ctx, account); err != nil {
		return nil, err
	}

	slog.Info("アカウントを登録しました",
		slog.String("account_id", account.ID),
		slog.String("username", account.Username),
	)
	return account.Scrubbed(), nil
}

// Get は指定IDのアカウントを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Account, error) {
	account, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	return account.Scrubbed(), nil
}

// List は全アカウントを作成順に返す。0件の場合はNOT_FOUNDを返す。
func (s *Service) List(ctx context.Context) ([]*model.Account, error) {
	accounts, err := s.accountRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("アカウント一覧の取得に失敗しました: %w", err)
	}
	if len(accounts) == 0 {
		return nil, model.NewEmptyResultError("アカウント")
	}
	for i, a := range accounts {
		accounts[i] = a.Scrubbed()
	}
	return accounts, nil
}

// UpdateProfile はプロフィール項目を更新する。本人のみが、現在のパスワードを添えて実行できる。
// フォロー関係とカウンタはこの経路では変更できない。
func (s *Service) UpdateProfile(ctx context.Context, caller *model.CallerIdentity, id string, in UpdateProfileInput, currentPassword string) (*model.Account, error) {
	account, err := s.owned(ctx, caller, id, currentPassword)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if err := validateName(name); err != nil {
			return nil, err
		}
		account.Name = name
	}
	if in.Bio != nil {
		if err := validateBio(*in.Bio); err != nil {
			return nil, err
		}
		account.Bio = *in.Bio
	}
	if in.Birthday != nil {
		account.Birthday = in.Birthday
	}
	if in.Protected != nil {
		account.Protected = *in.Protected
	}

	if err := s.accountRepo.UpdateProfile(ctx, account); err != nil {
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}

	slog.Info("プロフィールを更新しました", slog.String("account_id", account.ID))
	return account.Scrubbed(), nil
}

// ChangePassword は現在のパスワードを確認したうえでパスワードを変更する。
func (s *Service) ChangePassword(ctx context.Context, caller *model.CallerIdentity, current, next string) error {
	if !caller.Valid() {
		return model.NewUnauthorizedError()
	}
	account, err := s.owned(ctx, caller, caller.AccountID, current)
	if err != nil {
		return err
	}
	if err := validatePassword(next); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}
	if err := s.accountRepo.UpdatePasswordHash(ctx, account.ID, hash); err != nil {
		return fmt.Errorf("パスワードの更新に失敗しました: %w", err)
	}

	slog.Info("パスワードを変更しました", slog.String("account_id", account.ID))
	return nil
}

// Delete はアカウントを退会させる。本人のみが実行できる。
// 他アカウントのフォロー集合からの除去と行の削除は同一トランザクションで行い、
// アバター画像の削除はコミット後にベストエフォートで行う。
// 投稿は削除せず、作成時点のAuthorSnapshotを保持したまま残る。
func (s *Service) Delete(ctx context.Context, caller *model.CallerIdentity, id string) error {
	if !caller.Valid() {
		return model.NewUnauthorizedError()
	}
	if caller.AccountID != id {
		return model.NewForbiddenAccountError(id)
	}
	account, err := s.find(ctx, id)
	if err != nil {
		return err
	}

	slog.Info("退会処理を開始します", slog.String("account_id", id))

	err = s.accountRepo.WithTx(ctx, func(repo repository.AccountRepository) error {
		if err := repo.RemoveFromFollowGraph(ctx, id); err != nil {
			return fmt.Errorf("フォロー関係の削除に失敗しました: %w", err)
		}
		if err := repo.DeleteByID(ctx, id); err != nil {
			return fmt.Errorf("アカウントの削除に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.deleteAvatarObject(ctx, account.ID, account.Avatar)
	slog.Info("退会処理が完了しました", slog.String("account_id", id))
	return nil
}

// find はアカウントを取得し、見つからなければNOT_FOUNDを返す。
func (s *Service) find(ctx context.Context, id string) (*model.Account, error) {
	account, err := s.accountRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}
	if account == nil {
		return nil, model.NewAccountNotFoundError(id)
	}
	return account, nil
}

// owned は呼び出し元がidの本人であり、passwordが一致する場合にアカウントを返す。
func (s *Service) owned(ctx context.Context, caller *model.CallerIdentity, id, password string) (*model.Account, error) {
	if !caller.Valid() {
		return nil, model.NewUnauthorizedError()
	}
	if caller.AccountID != id {
		return nil, model.NewForbiddenAccountError(id)
	}
	account, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.hasher.Check(account.PasswordHash, password) {
		return nil, model.NewInvalidCredentialsError()
	}
	return account, nil
}

func validateName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < MinNameLength || n > MaxNameLength {
		return model.NewBadInputError(fmt.Sprintf("nameは%d〜%d文字で入力してください", MinNameLength, MaxNameLength))
	}
	return nil
}

func validateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n < MinUsernameLength || n > MaxUsernameLength {
		return model.NewBadInputError(fmt.Sprintf("usernameは%d〜%d文字で入力してください", MinUsernameLength, MaxUsernameLength))
	}
	if strings.IndexFunc(username, unicode.IsSpace) >= 0 {
		return model.NewBadInputError("usernameに空白は使用できません")
	}
	return nil
}

func validatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength || n > MaxPasswordLength {
		return model.NewBadInputError(fmt.Sprintf("passwordは%d〜%d文字で入力してください", MinPasswordLength, MaxPasswordLength))
	}
	if len(password) > maxPasswordBytes {
		return model.NewBadInputError(fmt.Sprintf("passwordは%dバイト以内で入力してください", maxPasswordBytes))
	}
	return nil
}

func validateBio(bio string) error {
	if utf8.RuneCountInString(bio) > MaxBioLength {
		return model.NewBadInputError(fmt.Sprintf("bioは%d文字以内で入力してください", MaxBioLength))
	}
	return nil
}
