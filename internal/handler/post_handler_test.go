package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/tweetbox/internal/middleware"
	"github.com/hitoshi/tweetbox/internal/model"
	"github.com/hitoshi/tweetbox/internal/post"
)

// --- モック定義 ---

type mockPostService struct {
	createFn        func(ctx context.Context, caller *model.CallerIdentity, in post.CreatePostInput) (*model.Post, error)
	getFn           func(ctx context.Context, postID string, includeChildren bool) (*model.PostWithChildren, error)
	listFn          func(ctx context.Context, authorID string) ([]*model.Post, error)
	toggleLikeFn    func(ctx context.Context, caller *model.CallerIdentity, postID string) (*model.Post, error)
	toggleDislikeFn func(ctx context.Context, caller *model.CallerIdentity, postID string) (*model.Post, error)
	shareFn         func(ctx context.Context, caller *model.CallerIdentity, postID string) (*model.Post, error)
	removeFn        func(ctx context.Context, caller *model.CallerIdentity, postID string) error
}

func (m *mockPostService) Create(ctx context.Context, caller *model.CallerIdentity, in post.CreatePostInput) (*model.Post, error) {
	if m.createFn != nil {
		return m.createFn(ctx, caller, in)
	}
	return nil, nil
}

func (m *mockPostService) Get(ctx context.Context, postID string, includeChildren bool) (*model.PostWithChildren, error) {
	if m.getFn != nil {
		return m.getFn(ctx, postID, includeChildren)
	}
	return nil, nil
}

func (m *mockPostService) List(ctx context.Context, authorID string) ([]*model.Post, error) {
	if m.listFn != nil {
		return m.listFn(ctx, authorID)
	}
	return nil, nil
}

func (m *mockPostService) ToggleLike(ctx context.Context, caller *model.CallerIdentity, postID string) (*model.Post, error) {
	if m.toggleLikeFn != nil {
		return m.toggleLikeFn(ctx, caller, postID)
	}
	return nil, nil
}

func (m *mockPostService) ToggleDislike(ctx context.Context, caller *model.CallerIdentity, postID string) (*model.Post, error) {
	if m.toggleDislikeFn != nil {
		return m.toggleDislikeFn(ctx, caller, postID)
	}
	return nil, nil
}

func (m *mockPostService) Share(ctx context.Context, caller *model.CallerIdentity, postID string) (*model.Post, error) {
	if m.shareFn != nil {
		return m.shareFn(ctx, caller, postID)
	}
	return nil, nil
}

func (m *mockPostService) Remove(ctx context.Context, caller *model.CallerIdentity, postID string) error {
	if m.removeFn != nil {
		return m.removeFn(ctx, caller, postID)
	}
	return nil
}

// --- テストヘルパー ---

var testCaller = &model.CallerIdentity{AccountID: "acc-1", Username: "alice01"}

// withCaller は認証済みの呼び出し元をリクエストに設定する。
func withCaller(req *http.Request, caller *model.CallerIdentity) *http.Request {
	return req.WithContext(middleware.ContextWithCaller(req.Context(), caller))
}

// withURLParams はchiのURLパラメータをリクエストに設定する。
func withURLParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func testPost(id string) *model.Post {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return &model.Post{
		ID:       id,
		Title:    "Hello",
		Body:     "hello #go",
		Hashtags: []string{"go"},
		Author: model.AuthorSnapshot{
			ID:       "acc-1",
			Name:     "Alice",
			Username: "alice01",
			Avatar:   model.DefaultAvatar(),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// --- テスト ---

func TestPostHandler_CreatePost_Success(t *testing.T) {
	svc := &mockPostService{
		createFn: func(ctx context.Context, caller *model.CallerIdentity, in post.CreatePostInput) (*model.Post, error) {
			if caller.AccountID != "acc-1" {
				t.Errorf("caller = %q, want acc-1", caller.AccountID)
			}
			if in.Title != "Hello" || in.Body != "hello #go" || len(in.Images) != 1 {
				t.Errorf("unexpected input: %+v", in)
			}
			return testPost("post-1"), nil
		},
	}
	h := NewPostHandler(svc)

	req := jsonRequest(t, http.MethodPost, "/api/posts", map[string]interface{}{
		"title":  "Hello",
		"body":   "hello #go",
		"images": []string{"https://example.com/a.png"},
	})
	w := httptest.NewRecorder()

	h.CreatePost(w, withCaller(req, testCaller))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}

	var body postResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.ID != "post-1" {
		t.Errorf("id = %q, want post-1", body.ID)
	}
	if body.Author.Username != "alice01" {
		t.Errorf("author.username = %q, want alice01", body.Author.Username)
	}
	if body.ParentPostID != nil {
		t.Errorf("parent_post_id = %v, want nil", *body.ParentPostID)
	}
	if body.LikeList == nil || body.DeslikeList == nil || body.Images == nil {
		t.Error("list fields should be encoded as empty arrays")
	}
}

func TestPostHandler_CreatePost_Unauthenticated(t *testing.T) {
	h := NewPostHandler(&mockPostService{
		createFn: func(ctx context.Context, caller *model.CallerIdentity, in post.CreatePostInput) (*model.Post, error) {
			t.Error("Create should not be called")
			return nil, nil
		},
	})

	req := jsonRequest(t, http.MethodPost, "/api/posts", map[string]string{"title": "Hello"})
	w := httptest.NewRecorder()

	h.CreatePost(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestPostHandler_CreatePost_ValidationError(t *testing.T) {
	h := NewPostHandler(&mockPostService{
		createFn: func(ctx context.Context, caller *model.CallerIdentity, in post.CreatePostInput) (*model.Post, error) {
			return nil, model.NewBadInputError("titleは2文字以上50文字以下で入力してください")
		},
	})

	req := jsonRequest(t, http.MethodPost, "/api/posts", map[string]string{"title": "x", "body": "hello"})
	w := httptest.NewRecorder()

	h.CreatePost(w, withCaller(req, testCaller))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := decodeErrorBody(t, w); body.Code != model.ErrCodeBadInput {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeBadInput)
	}
}

func TestPostHandler_ListPosts_Mine(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantAuthor string
	}{
		{name: "all posts", query: "", wantAuthor: ""},
		{name: "mine=true", query: "?mine=true", wantAuthor: "acc-1"},
		{name: "mine=1", query: "?mine=1", wantAuthor: "acc-1"},
		{name: "mine=false", query: "?mine=false", wantAuthor: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAuthor string
			h := NewPostHandler(&mockPostService{
				listFn: func(ctx context.Context, authorID string) ([]*model.Post, error) {
					gotAuthor = authorID
					return []*model.Post{testPost("post-1")}, nil
				},
			})

			req := httptest.NewRequest(http.MethodGet, "/api/posts"+tt.query, nil)
			w := httptest.NewRecorder()

			h.ListPosts(w, withCaller(req, testCaller))

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
			}
			if gotAuthor != tt.wantAuthor {
				t.Errorf("authorID = %q, want %q", gotAuthor, tt.wantAuthor)
			}
		})
	}
}

func TestPostHandler_ListPosts_Empty(t *testing.T) {
	h := NewPostHandler(&mockPostService{
		listFn: func(ctx context.Context, authorID string) ([]*model.Post, error) {
			return nil, model.NewEmptyResultError("投稿")
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
	w := httptest.NewRecorder()

	h.ListPosts(w, withCaller(req, testCaller))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestPostHandler_GetPost_WithChildren(t *testing.T) {
	svc := &mockPostService{
		getFn: func(ctx context.Context, postID string, includeChildren bool) (*model.PostWithChildren, error) {
			if postID != "post-1" {
				t.Errorf("postID = %q, want post-1", postID)
			}
			if !includeChildren {
				t.Error("includeChildren should be true")
			}
			parent := "post-1"
			child := testPost("post-2")
			child.ParentPostID = &parent
			return &model.PostWithChildren{Post: *testPost("post-1"), Children: []model.Post{*child}}, nil
		},
	}
	h := NewPostHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/posts/post-1?children=true", nil)
	req = withURLParams(req, map[string]string{"id": "post-1"})
	w := httptest.NewRecorder()

	h.GetPost(w, withCaller(req, testCaller))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body postResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(body.Children) != 1 || body.Children[0].ID != "post-2" {
		t.Fatalf("children = %+v, want [post-2]", body.Children)
	}
	if body.Children[0].ParentPostID == nil || *body.Children[0].ParentPostID != "post-1" {
		t.Error("child parent_post_id should be post-1")
	}
}

func TestPostHandler_GetPost_NotFound(t *testing.T) {
	h := NewPostHandler(&mockPostService{
		getFn: func(ctx context.Context, postID string, includeChildren bool) (*model.PostWithChildren, error) {
			return nil, model.NewPostNotFoundError(postID)
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/posts/missing", nil)
	req = withURLParams(req, map[string]string{"id": "missing"})
	w := httptest.NewRecorder()

	h.GetPost(w, withCaller(req, testCaller))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestPostHandler_DeletePost(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "owner", err: nil, wantStatus: http.StatusNoContent},
		{name: "not owner", err: model.NewForbiddenPostError("post-1"), wantStatus: http.StatusUnauthorized},
		{name: "not found", err: model.NewPostNotFoundError("post-1"), wantStatus: http.StatusNotFound},
		{name: "store failure", err: errors.New("connection reset"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewPostHandler(&mockPostService{
				removeFn: func(ctx context.Context, caller *model.CallerIdentity, postID string) error {
					return tt.err
				},
			})

			req := httptest.NewRequest(http.MethodDelete, "/api/posts/post-1", nil)
			req = withURLParams(req, map[string]string{"id": "post-1"})
			w := httptest.NewRecorder()

			h.DeletePost(w, withCaller(req, testCaller))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestPostHandler_Engagement(t *testing.T) {
	var called string
	record := func(name string) func(ctx context.Context, caller *model.CallerIdentity, postID string) (*model.Post, error) {
		return func(ctx context.Context, caller *model.CallerIdentity, postID string) (*model.Post, error) {
			called = name
			if caller.AccountID != "acc-1" || postID != "post-1" {
				t.Errorf("%s(%q, %q)", name, caller.AccountID, postID)
			}
			return testPost("post-1"), nil
		}
	}
	svc := &mockPostService{
		toggleLikeFn:    record("like"),
		toggleDislikeFn: record("deslike"),
		shareFn:         record("share"),
	}
	h := NewPostHandler(svc)

	tests := []struct {
		name       string
		handle     http.HandlerFunc
		wantCall   string
		wantStatus int
	}{
		{name: "like", handle: h.Like, wantCall: "like", wantStatus: http.StatusOK},
		{name: "deslike", handle: h.Deslike, wantCall: "deslike", wantStatus: http.StatusOK},
		{name: "share", handle: h.Share, wantCall: "share", wantStatus: http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = ""
			req := httptest.NewRequest(http.MethodPost, "/api/posts/post-1/"+tt.name, nil)
			req = withURLParams(req, map[string]string{"id": "post-1"})
			w := httptest.NewRecorder()

			tt.handle(w, withCaller(req, testCaller))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if called != tt.wantCall {
				t.Errorf("called = %q, want %q", called, tt.wantCall)
			}
		})
	}
}

func TestPostHandler_Share_SourceNotFound(t *testing.T) {
	h := NewPostHandler(&mockPostService{
		shareFn: func(ctx context.Context, caller *model.CallerIdentity, postID string) (*model.Post, error) {
			return nil, model.NewPostNotFoundError(postID)
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/posts/post-1/share", nil)
	req = withURLParams(req, map[string]string{"id": "post-1"})
	w := httptest.NewRecorder()

	h.Share(w, withCaller(req, testCaller))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
