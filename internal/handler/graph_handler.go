package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/tweetbox/internal/middleware"
	"github.com/hitoshi/tweetbox/internal/model"
)

// GraphServiceInterface はフォロー関係ハンドラーが必要とするサービスインターフェース。
type GraphServiceInterface interface {
	// Follow はcallerがtargetIDをフォローし、更新後のcallerのアカウントを返す。
	Follow(ctx context.Context, caller *model.CallerIdentity, targetID string) (*model.Account, error)
	// Unfollow はフォローを解除し、更新後のcallerのアカウントを返す。
	Unfollow(ctx context.Context, caller *model.CallerIdentity, targetID string) (*model.Account, error)
	Followers(ctx context.Context, accountID string) ([]*model.Account, error)
	Following(ctx context.Context, accountID string) ([]*model.Account, error)
}

// GraphHandler はフォロー関係のHTTPハンドラー。
type GraphHandler struct {
	service GraphServiceInterface
}

// NewGraphHandler はGraphHandlerを生成する。
func NewGraphHandler(service GraphServiceInterface) *GraphHandler {
	return &GraphHandler{service: service}
}

// Follow は指定アカウントをフォローする。
// POST /api/accounts/{id}/follow
func (h *GraphHandler) Follow(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.service.Follow)
}

// Unfollow は指定アカウントのフォローを解除する。
// DELETE /api/accounts/{id}/follow
func (h *GraphHandler) Unfollow(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.service.Unfollow)
}

func (h *GraphHandler) mutate(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, caller *model.CallerIdentity, targetID string) (*model.Account, error),
) {
	caller := requireCaller(w, r)
	if caller == nil {
		return
	}

	updated, err := op(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(updated))
}

// Followers は指定アカウントのフォロワー一覧を返す。
// GET /api/accounts/{id}/followers
func (h *GraphHandler) Followers(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.service.Followers)
}

// Following は指定アカウントのフォロー先一覧を返す。
// GET /api/accounts/{id}/following
func (h *GraphHandler) Following(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.service.Following)
}

func (h *GraphHandler) list(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, accountID string) ([]*model.Account, error),
) {
	accounts, err := op(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponses(accounts))
}
