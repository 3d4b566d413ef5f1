package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/tweetbox/internal/account"
	"github.com/hitoshi/tweetbox/internal/auth"
	"github.com/hitoshi/tweetbox/internal/middleware"
	"github.com/hitoshi/tweetbox/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	// Login はメールアドレスとパスワードを照合してアクセストークンを発行する。
	Login(ctx context.Context, email, password string) (*auth.Token, error)
}

// RegistrationServiceInterface はアカウント登録のサービスインターフェース。
type RegistrationServiceInterface interface {
	Register(ctx context.Context, in account.RegisterInput) (*model.Account, error)
}

// AuthHandler は登録とログインのHTTPハンドラー。
type AuthHandler struct {
	service      AuthServiceInterface
	registration RegistrationServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, registration RegistrationServiceInterface) *AuthHandler {
	return &AuthHandler{
		service:      service,
		registration: registration,
	}
}

// registerRequest はアカウント登録リクエストのボディ。
type registerRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Bio       string `json:"bio"`
	Birthday  string `json:"birthday"` // YYYY-MM-DD
	Protected bool   `json:"protected"`
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register はアカウントを登録する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	birthday, err := parseBirthday(req.Birthday)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	created, err := h.registration.Register(r.Context(), account.RegisterInput{
		Name:      req.Name,
		Email:     req.Email,
		Username:  req.Username,
		Password:  req.Password,
		Bio:       req.Bio,
		Birthday:  birthday,
		Protected: req.Protected,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAccountResponse(created))
}

// Login はアクセストークンを発行する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	token, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   token.ExpiresAt,
	})
}

// parseBirthday はYYYY-MM-DD形式の誕生日を解釈する。空文字列はnil。
func parseBirthday(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, model.NewBadInputError("birthdayはYYYY-MM-DD形式で指定してください")
	}
	return &t, nil
}
