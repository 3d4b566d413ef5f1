package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/tweetbox/internal/middleware"
	"github.com/hitoshi/tweetbox/internal/model"
	"github.com/hitoshi/tweetbox/internal/post"
)

// PostServiceInterface は投稿ハンドラーが必要とするサービスインターフェース。
type PostServiceInterface interface {
	Create(ctx context.Context, caller *model.CallerIdentity, in post.CreatePostInput) (*model.Post, error)
	Get(ctx context.Context, postID string, includeChildren bool) (*model.PostWithChildren, error)
	List(ctx context.Context, authorID string) ([]*model.Post, error)
	ToggleLike(ctx context.Context, caller *model.CallerIdentity, postID string) (*model.Post, error)
	ToggleDislike(ctx context.Context, caller *model.CallerIdentity, postID string) (*model.Post, error)
	Share(ctx context.Context, caller *model.CallerIdentity, postID string) (*model.Post, error)
	Remove(ctx context.Context, caller *model.CallerIdentity, postID string) error
}

// PostHandler は投稿とエンゲージメントのHTTPハンドラー。
type PostHandler struct {
	service PostServiceInterface
}

// NewPostHandler はPostHandlerを生成する。
func NewPostHandler(service PostServiceInterface) *PostHandler {
	return &PostHandler{service: service}
}

// createPostRequest は投稿作成リクエストのボディ。
type createPostRequest struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Images []string `json:"images"`
}

// CreatePost は投稿を作成する。
// POST /api/posts
func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	caller := requireCaller(w, r)
	if caller == nil {
		return
	}

	var req createPostRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.service.Create(r.Context(), caller, post.CreatePostInput{
		Title:  req.Title,
		Body:   req.Body,
		Images: req.Images,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toPostResponse(p))
}

// ListPosts は投稿一覧を新しい順に返す。
// GET /api/posts?mine=true
func (h *PostHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	caller := requireCaller(w, r)
	if caller == nil {
		return
	}

	authorID := ""
	if queryBool(r, "mine") {
		authorID = caller.AccountID
	}

	posts, err := h.service.List(r.Context(), authorID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPostResponses(posts))
}

// GetPost は投稿を取得する。
// GET /api/posts/{id}?children=true
func (h *PostHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Get(r.Context(), chi.URLParam(r, "id"), queryBool(r, "children"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPostWithChildrenResponse(p))
}

// DeletePost は投稿を削除する。作成者本人のみ実行できる。
// DELETE /api/posts/{id}
func (h *PostHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	caller := requireCaller(w, r)
	if caller == nil {
		return
	}

	if err := h.service.Remove(r.Context(), caller, chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Like はいいねをトグルする。
// POST /api/posts/{id}/like
func (h *PostHandler) Like(w http.ResponseWriter, r *http.Request) {
	h.engage(w, r, h.service.ToggleLike, http.StatusOK)
}

// Deslike はよくないねをトグルする。
// POST /api/posts/{id}/deslike
func (h *PostHandler) Deslike(w http.ResponseWriter, r *http.Request) {
	h.engage(w, r, h.service.ToggleDislike, http.StatusOK)
}

// Share は投稿をシェアし、派生投稿を返す。
// POST /api/posts/{id}/share
func (h *PostHandler) Share(w http.ResponseWriter, r *http.Request) {
	h.engage(w, r, h.service.Share, http.StatusCreated)
}

func (h *PostHandler) engage(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, caller *model.CallerIdentity, postID string) (*model.Post, error),
	successStatus int,
) {
	caller := requireCaller(w, r)
	if caller == nil {
		return
	}

	p, err := op(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, successStatus, toPostResponse(p))
}
