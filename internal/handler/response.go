package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/tweetbox/internal/middleware"
	"github.com/hitoshi/tweetbox/internal/model"
	"github.com/hitoshi/tweetbox/internal/timeline"
)

// avatarResponse はアバター参照のAPIレスポンス。
type avatarResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// accountResponse はアカウント情報のAPIレスポンス。パスワードハッシュは含めない。
type accountResponse struct {
	ID             string         `json:"id"`
	Email          string         `json:"email"`
	Username       string         `json:"username"`
	Name           string         `json:"name"`
	Bio            string         `json:"bio"`
	Birthday       *string        `json:"birthday,omitempty"`
	Protected      bool           `json:"protected"`
	IsActive       bool           `json:"is_active"`
	Avatar         avatarResponse `json:"avatar"`
	Followers      []string       `json:"followers"`
	FollowersCount int            `json:"followers_count"`
	Following      []string       `json:"following"`
	FollowingCount int            `json:"following_count"`
	StatusesCount  int            `json:"statuses_count"`
	FavoritesCount int            `json:"favorites_count"`
	CreatedAt      time.Time      `json:"created_at"`
}

// authorResponse は投稿に埋め込まれた作成者スナップショットのAPIレスポンス。
type authorResponse struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Username  string         `json:"username"`
	Protected bool           `json:"protected"`
	Avatar    avatarResponse `json:"avatar"`
}

// postResponse は投稿のAPIレスポンス。
type postResponse struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Body         string         `json:"body"`
	Images       []string       `json:"images"`
	Hashtags     []string       `json:"hashtags"`
	Author       authorResponse `json:"author"`
	ParentPostID *string        `json:"parent_post_id"`
	LikeCount    int            `json:"like_count"`
	LikeList     []string       `json:"like_list"`
	DeslikeCount int            `json:"deslike_count"`
	DeslikeList  []string       `json:"deslike_list"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Children     []postResponse `json:"children,omitempty"`
}

// tokenResponse はログイン成功時のAPIレスポンス。
type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// searchResponse は検索結果のAPIレスポンス。該当しない側は空配列。
type searchResponse struct {
	Accounts []accountResponse `json:"accounts"`
	Posts    []postResponse    `json:"posts"`
}

func toAccountResponse(a *model.Account) accountResponse {
	resp := accountResponse{
		ID:             a.ID,
		Email:          a.Email,
		Username:       a.Username,
		Name:           a.Name,
		Bio:            a.Bio,
		Protected:      a.Protected,
		IsActive:       a.IsActive,
		Avatar:         avatarResponse{Key: a.Avatar.Key, URL: a.Avatar.URL},
		Followers:      orEmpty(a.Followers),
		FollowersCount: a.FollowersCount,
		Following:      orEmpty(a.Following),
		FollowingCount: a.FollowingCount,
		StatusesCount:  a.StatusesCount,
		FavoritesCount: a.FavoritesCount,
		CreatedAt:      a.CreatedAt,
	}
	if a.Birthday != nil {
		birthday := a.Birthday.Format(time.DateOnly)
		resp.Birthday = &birthday
	}
	return resp
}

func toAccountResponses(accounts []*model.Account) []accountResponse {
	resp := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		resp = append(resp, toAccountResponse(a))
	}
	return resp
}

func toPostResponse(p *model.Post) postResponse {
	return postResponse{
		ID:       p.ID,
		Title:    p.Title,
		Body:     p.Body,
		Images:   orEmpty(p.Images),
		Hashtags: orEmpty(p.Hashtags),
		Author: authorResponse{
			ID:        p.Author.ID,
			Name:      p.Author.Name,
			Username:  p.Author.Username,
			Protected: p.Author.Protected,
			Avatar:    avatarResponse{Key: p.Author.Avatar.Key, URL: p.Author.Avatar.URL},
		},
		ParentPostID: p.ParentPostID,
		LikeCount:    p.LikeCount,
		LikeList:     orEmpty(p.LikeList),
		DeslikeCount: p.DeslikeCount,
		DeslikeList:  orEmpty(p.DeslikeList),
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func toPostResponses(posts []*model.Post) []postResponse {
	resp := make([]postResponse, 0, len(posts))
	for _, p := range posts {
		resp = append(resp, toPostResponse(p))
	}
	return resp
}

// toPostWithChildrenResponse は子投稿を含めたレスポンスに変換する。
// 子投稿のさらに下の階層は含めない。
func toPostWithChildrenResponse(p *model.PostWithChildren) postResponse {
	resp := toPostResponse(&p.Post)
	for i := range p.Children {
		resp.Children = append(resp.Children, toPostResponse(&p.Children[i]))
	}
	return resp
}

func toPostWithChildrenResponses(posts []*model.PostWithChildren) []postResponse {
	resp := make([]postResponse, 0, len(posts))
	for _, p := range posts {
		resp = append(resp, toPostWithChildrenResponse(p))
	}
	return resp
}

func toSearchResponse(result *timeline.SearchResult) searchResponse {
	return searchResponse{
		Accounts: toAccountResponses(result.Accounts),
		Posts:    toPostResponses(result.Posts),
	}
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// decodeJSON はリクエストボディをdstにデコードする。
// 失敗した場合は400を書き込んでfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return false
	}
	return true
}

// requireCaller はコンテキストから呼び出し元を取り出す。
// 認証ミドルウェアを通過していない場合は401を書き込んでnilを返す。
func requireCaller(w http.ResponseWriter, r *http.Request) *model.CallerIdentity {
	caller := middleware.CallerFromContext(r.Context())
	if !caller.Valid() {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return nil
	}
	return caller
}

// queryBool はクエリパラメータを真偽値として解釈する。"true"と"1"のみtrue。
func queryBool(r *http.Request, name string) bool {
	switch r.URL.Query().Get(name) {
	case "true", "1":
		return true
	default:
		return false
	}
}
