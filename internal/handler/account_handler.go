package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/tweetbox/internal/account"
	"github.com/hitoshi/tweetbox/internal/middleware"
	"github.com/hitoshi/tweetbox/internal/model"
)

// avatarFormField はアバターアップロードのmultipartフィールド名。
const avatarFormField = "avatar"

// multipartOverhead はmultipartの境界やヘッダー分としてファイル上限に上乗せするバイト数。
const multipartOverhead = 64 << 10

// AccountServiceInterface はアカウントハンドラーが必要とするサービスインターフェース。
type AccountServiceInterface interface {
	Get(ctx context.Context, id string) (*model.Account, error)
	List(ctx context.Context) ([]*model.Account, error)
	UpdateProfile(ctx context.Context, caller *model.CallerIdentity, id string, in account.UpdateProfileInput, currentPassword string) (*model.Account, error)
	ChangePassword(ctx context.Context, caller *model.CallerIdentity, current, next string) error
	UpdateAvatar(ctx context.Context, caller *model.CallerIdentity, filename, contentType string, body io.Reader) (*model.Account, error)
	ImportAvatarFromURL(ctx context.Context, caller *model.CallerIdentity, rawURL string) (*model.Account, error)
	Delete(ctx context.Context, caller *model.CallerIdentity, id string) error
}

// AccountHandler はアカウント管理のHTTPハンドラー。
type AccountHandler struct {
	service        AccountServiceInterface
	maxUploadBytes int64
}

// NewAccountHandler はAccountHandlerを生成する。
// avatarMaxSizeはmultipartボディ全体の上限を決めるために使う。
func NewAccountHandler(service AccountServiceInterface, avatarMaxSize int64) *AccountHandler {
	if avatarMaxSize <= 0 {
		avatarMaxSize = account.DefaultAvatarMaxSize
	}
	return &AccountHandler{
		service:        service,
		maxUploadBytes: avatarMaxSize + multipartOverhead,
	}
}

// updateProfileRequest はプロフィール更新リクエストのボディ。
// 省略したフィールドは変更しない。
type updateProfileRequest struct {
	Name            *string `json:"name"`
	Bio             *string `json:"bio"`
	Birthday        *string `json:"birthday"`
	Protected       *bool   `json:"protected"`
	CurrentPassword string  `json:"current_password"`
}

// changePasswordRequest はパスワード変更リクエストのボディ。
type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// importAvatarRequest はURLからのアバター取り込みリクエストのボディ。
type importAvatarRequest struct {
	URL string `json:"url"`
}

// ListAccounts は全アカウントを返す。
// GET /api/accounts
func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.List(r.Context())
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponses(accounts))
}

// GetAccount は指定IDのアカウントを返す。
// GET /api/accounts/{id}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	h.writeAccount(w, r, chi.URLParam(r, "id"))
}

// Me は呼び出し元自身のアカウントを返す。
// GET /api/accounts/me
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	caller := requireCaller(w, r)
	if caller == nil {
		return
	}
	h.writeAccount(w, r, caller.AccountID)
}

func (h *AccountHandler) writeAccount(w http.ResponseWriter, r *http.Request, id string) {
	a, err := h.service.Get(r.Context(), id)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(a))
}

// UpdateProfile は呼び出し元のプロフィールを更新する。現在のパスワードが必要。
// PATCH /api/accounts/me
func (h *AccountHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	caller := requireCaller(w, r)
	if caller == nil {
		return
	}

	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in := account.UpdateProfileInput{
		Name:      req.Name,
		Bio:       req.Bio,
		Protected: req.Protected,
	}
	if req.Birthday != nil {
		birthday, err := parseBirthday(*req.Birthday)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		in.Birthday = birthday
	}

	updated, err := h.service.UpdateProfile(r.Context(), caller, caller.AccountID, in, req.CurrentPassword)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(updated))
}

// ChangePassword は呼び出し元のパスワードを変更する。
// PUT /api/accounts/me/password
func (h *AccountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	caller := requireCaller(w, r)
	if caller == nil {
		return
	}

	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), caller, req.CurrentPassword, req.NewPassword); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UploadAvatar はmultipartで送られた画像をアバターに設定する。
// PUT /api/accounts/me/avatar
func (h *AccountHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	caller := requireCaller(w, r)
	if caller == nil {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	file, header, err := r.FormFile(avatarFormField)
	if err != nil {
		middleware.WriteError(w, r, model.NewBadInputError("avatarフィールドに画像ファイルを指定してください"))
		return
	}
	defer file.Close()

	updated, err := h.service.UpdateAvatar(r.Context(), caller, header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(updated))
}

// ImportAvatar は外部URLの画像を取得してアバターに設定する。
// POST /api/accounts/me/avatar/import
func (h *AccountHandler) ImportAvatar(w http.ResponseWriter, r *http.Request) {
	caller := requireCaller(w, r)
	if caller == nil {
		return
	}

	var req importAvatarRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	updated, err := h.service.ImportAvatarFromURL(r.Context(), caller, req.URL)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(updated))
}

// DeleteAccount は呼び出し元のアカウントを削除する。
// DELETE /api/accounts/me
func (h *AccountHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	caller := requireCaller(w, r)
	if caller == nil {
		return
	}

	if err := h.service.Delete(r.Context(), caller, caller.AccountID); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
