// Package auth はパスワード認証とアクセストークンの発行・検証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/tweetbox/internal/model"
)

// Issuer はトークンのiss。
const Issuer = "tweetbox"

// DefaultTokenTTL はJWT_TTL未指定時のトークン有効期間。
const DefaultTokenTTL = 24 * time.Hour

// AccountFinder は認証に必要なアカウント参照インターフェース。
type AccountFinder interface {
	FindByID(ctx context.Context, id string) (*model.Account, error)
	FindByEmail(ctx context.Context, email string) (*model.Account, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	Secret   string
	TokenTTL time.Duration
}

// Claims はアクセストークンのクレーム。
type Claims struct {
	AccountID string `json:"account_id"`
	Username  string `json:"username"`
	jwt.RegisteredClaims
}

// Token は発行済みアクセストークン。
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	accounts AccountFinder
	config   ServiceConfig
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(accounts AccountFinder, config ServiceConfig) *Service {
	if config.TokenTTL <= 0 {
		config.TokenTTL = DefaultTokenTTL
	}
	return &Service{
		accounts: accounts,
		config:   config,
		now:      time.Now,
	}
}

// Login はメールアドレスとパスワードを検証し、アクセストークンを発行する。
// アカウントが存在しない場合もパスワード不一致と同じエラーを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*Token, error) {
	if email == "" || password == "" {
		return nil, model.NewBadInputError("メールアドレスとパスワードは必須です")
	}

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil || !account.IsActive || !CheckPassword(account.PasswordHash, password) {
		// 入力されたメールアドレスはログに残さない
		attrs := []any{slog.Bool("account_found", account != nil)}
		if account != nil {
			attrs = append(attrs, slog.String("account_id", account.ID))
		}
		slog.Warn("login failed", attrs...)
		return nil, model.NewInvalidCredentialsError()
	}

	token, err := s.IssueToken(account)
	if err != nil {
		return nil, err
	}

	slog.Info("account logged in", slog.String("account_id", account.ID))
	return token, nil
}

// IssueToken はアカウントのアクセストークンを署名して返す。
func (s *Service) IssueToken(account *model.Account) (*Token, error) {
	now := s.now()
	expiresAt := now.Add(s.config.TokenTTL)

	claims := Claims{
		AccountID: account.ID,
		Username:  account.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.Secret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &Token{AccessToken: signed, ExpiresAt: expiresAt}, nil
}

// Authenticate はアクセストークンを検証し、呼び出し元を返す。
// 署名・有効期限・発行者の不一致、アカウントの削除または無効化はすべてUNAUTHORIZEDとなる。
func (s *Service) Authenticate(ctx context.Context, tokenString string) (*model.CallerIdentity, error) {
	if tokenString == "" {
		return nil, model.NewUnauthorizedError()
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) {
			return []byte(s.config.Secret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if !errors.Is(err, jwt.ErrTokenExpired) {
			slog.Warn("invalid token", slog.String("error", err.Error()))
		}
		return nil, model.NewUnauthorizedError()
	}

	account, err := s.accounts.FindByID(ctx, claims.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil || !account.IsActive {
		return nil, model.NewUnauthorizedError()
	}

	return &model.CallerIdentity{AccountID: account.ID, Username: account.Username}, nil
}
