package post

import (
	"context"
	"fmt"

	"github.com/hitoshi/tweetbox/internal/model"
	"github.com/hitoshi/tweetbox/internal/repository"
)

// LoadChildren は各投稿に、その投稿をparentPostIdとして持つ直下の投稿を付与する。
// 孫以降は辿らない。子投稿は1回のクエリでまとめて取得する。
func LoadChildren(ctx context.Context, repo repository.PostRepository, posts []*model.Post) ([]*model.PostWithChildren, error) {
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}

	children, err := repo.ListByParentIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("子投稿の取得に失敗しました: %w", err)
	}

	byParent := make(map[string][]model.Post, len(posts))
	for _, c := range children {
		if c.ParentPostID == nil {
			continue
		}
		byParent[*c.ParentPostID] = append(byParent[*c.ParentPostID], *c)
	}

	result := make([]*model.PostWithChildren, len(posts))
	for i, p := range posts {
		kids := byParent[p.ID]
		if kids == nil {
			kids = []model.Post{}
		}
		result[i] = &model.PostWithChildren{Post: *p, Children: kids}
	}
	return result, nil
}
