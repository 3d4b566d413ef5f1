// Package model はドメインモデルを定義する。
package model

import (
	"regexp"
	"slices"
	"strings"
	"time"
)

// Post は短文投稿（ツイート）を表す。
//
// LikeCount == len(LikeList)、DeslikeCount == len(DeslikeList) を常に満たす。
// LikeListとDeslikeListは独立しており、同じアカウントが両方に含まれることを許容する。
type Post struct {
	ID           string
	Title        string
	Body         string
	Images       []string
	Hashtags     []string
	Author       AuthorSnapshot
	ParentPostID *string // シェアの場合は元投稿のID、オリジナル投稿はnil
	LikeCount    int
	LikeList     []string
	DeslikeCount int
	DeslikeList  []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PostWithChildren は投稿と、その投稿をParentPostIDに持つ直下の子投稿（1階層のみ）。
type PostWithChildren struct {
	Post
	Children []Post
}

// IsShare はシェアによって作られた派生投稿かを返す。
func (p *Post) IsShare() bool {
	return p.ParentPostID != nil
}

// ToggleLike はいいねをトグルする。
// 未登録なら追加、登録済みなら削除し、トグル後にいいね状態であればtrueを返す。
func (p *Post) ToggleLike(accountID string) bool {
	var liked bool
	p.LikeList, liked = toggleMember(p.LikeList, accountID)
	p.LikeCount = len(p.LikeList)
	return liked
}

// ToggleDeslike はよくないねをトグルする。いいねには影響しない。
func (p *Post) ToggleDeslike(accountID string) bool {
	var disliked bool
	p.DeslikeList, disliked = toggleMember(p.DeslikeList, accountID)
	p.DeslikeCount = len(p.DeslikeList)
	return disliked
}

func toggleMember(list []string, id string) ([]string, bool) {
	if idx := slices.Index(list, id); idx >= 0 {
		return slices.Delete(list, idx, idx+1), false
	}
	return append(list, id), true
}

// hashtagSeparator は本文を単語に分割する区切り（空白・改行の連続）。
var hashtagSeparator = regexp.MustCompile(`[\s\r\n]+`)

// ExtractHashtags は本文からハッシュタグを抽出する。
// 先頭が#の単語について最初の#だけを取り除いたものを、出現順に返す。
// 重複除去や大文字小文字の正規化は行わない。
func ExtractHashtags(body string) []string {
	hashtags := []string{}
	for _, word := range hashtagSeparator.Split(body, -1) {
		if strings.HasPrefix(word, "#") {
			hashtags = append(hashtags, strings.Replace(word, "#", "", 1))
		}
	}
	return hashtags
}
