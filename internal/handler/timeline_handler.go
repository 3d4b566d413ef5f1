package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/tweetbox/internal/middleware"
	"github.com/hitoshi/tweetbox/internal/model"
	"github.com/hitoshi/tweetbox/internal/timeline"
)

// TimelineServiceInterface はタイムラインハンドラーが必要とするサービスインターフェース。
type TimelineServiceInterface interface {
	GlobalFeed(ctx context.Context, pageSize, pageIndex int) ([]*model.Post, error)
	AccountTimeline(ctx context.Context, viewer *model.CallerIdentity, targetID string, includeChildren bool) ([]*model.PostWithChildren, error)
	Search(ctx context.Context, query string) (*timeline.SearchResult, error)
}

// TimelineHandler はフィード・タイムライン・検索のHTTPハンドラー。
type TimelineHandler struct {
	service TimelineServiceInterface
}

// NewTimelineHandler はTimelineHandlerを生成する。
func NewTimelineHandler(service TimelineServiceInterface) *TimelineHandler {
	return &TimelineHandler{service: service}
}

// searchRequest は検索リクエストのボディ。
type searchRequest struct {
	Query string `json:"query"`
}

// Feed は全投稿のフィードを新しい順にページングして返す。
// GET /api/feed?per_page=10&page=0
func (h *TimelineHandler) Feed(w http.ResponseWriter, r *http.Request) {
	pageSize, err := queryInt(r, "per_page")
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	pageIndex, err := queryInt(r, "page")
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	posts, err := h.service.GlobalFeed(r.Context(), pageSize, pageIndex)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPostResponses(posts))
}

// AccountTimeline は指定アカウントの投稿を返す。非公開アカウントはフォロワーと本人のみ閲覧できる。
// GET /api/accounts/{id}/timeline?children=true
func (h *TimelineHandler) AccountTimeline(w http.ResponseWriter, r *http.Request) {
	caller := requireCaller(w, r)
	if caller == nil {
		return
	}

	posts, err := h.service.AccountTimeline(r.Context(), caller, chi.URLParam(r, "id"), queryBool(r, "children"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPostWithChildrenResponses(posts))
}

// Search は@username または #hashtag で検索する。
// POST /api/search
func (h *TimelineHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Search(r.Context(), req.Query)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toSearchResponse(result))
}

// queryInt は整数のクエリパラメータを解釈する。未指定は0。
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, model.NewBadInputError(name + "は整数で指定してください")
	}
	return n, nil
}
