// Package timeline は読み取り系の合成処理（全体フィード・アカウント別タイムライン・検索）を提供する。
package timeline

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/hitoshi/tweetbox/internal/model"
	"github.com/hitoshi/tweetbox/internal/post"
	"github.com/hitoshi/tweetbox/internal/repository"
)

// DefaultPageSize はページサイズ未指定時の件数。
const DefaultPageSize = 10

// SearchLimit はハッシュタグ検索の最大件数。
const SearchLimit = 10

// SearchResult は検索結果。クエリの接頭辞に応じてAccountsかPostsのどちらかが設定される。
type SearchResult struct {
	Accounts []*model.Account
	Posts    []*model.Post
}

// Service はタイムラインのサービス層。
type Service struct {
	postRepo        repository.PostRepository
	accountRepo     repository.AccountRepository
	defaultPageSize int
	maxPageSize     int
}

// NewService はServiceの新しいインスタンスを生成する。
// defaultPageSizeが0以下の場合はDefaultPageSize、maxPageSizeが0以下の場合は上限なし。
func NewService(postRepo repository.PostRepository, accountRepo repository.AccountRepository, defaultPageSize, maxPageSize int) *Service {
	if defaultPageSize <= 0 {
		defaultPageSize = DefaultPageSize
	}
	return &Service{
		postRepo:        postRepo,
		accountRepo:     accountRepo,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
	}
}

// GlobalFeed は全投稿を新しい順にページングして返す。プライバシーによる絞り込みは行わない。
// pageIndexは0始まり。
func (s *Service) GlobalFeed(ctx context.Context, pageSize, pageIndex int) ([]*model.Post, error) {
	if pageIndex < 0 {
		return nil, model.NewBadInputError("pageは0以上で指定してください")
	}
	if pageSize <= 0 {
		pageSize = s.defaultPageSize
	}
	if s.maxPageSize > 0 && pageSize > s.maxPageSize {
		pageSize = s.maxPageSize
	}
	// オフセットがintに収まらないページは拒否する
	if pageIndex > math.MaxInt/pageSize {
		return nil, model.NewBadInputError("pageが大きすぎます")
	}

	posts, err := s.postRepo.List(ctx, repository.PostQuery{
		Limit:  pageSize,
		Offset: pageSize * pageIndex,
	})
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	if posts == nil {
		posts = []*model.Post{}
	}
	return posts, nil
}

// AccountTimeline はtargetIDが作成した投稿を新しい順に返す。
// 非公開アカウントは本人とフォロワーのみ閲覧できる。
func (s *Service) AccountTimeline(ctx context.Context, viewer *model.CallerIdentity, targetID string, includeChildren bool) ([]*model.PostWithChildren, error) {
	if !viewer.Valid() {
		return nil, model.NewUnauthorizedError()
	}

	target, err := s.accountRepo.FindByID(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}
	if target == nil {
		return nil, model.NewAccountNotFoundError(targetID)
	}
	if !canView(viewer, target) {
		return nil, model.NewProtectedTimelineError(targetID)
	}

	posts, err := s.postRepo.List(ctx, repository.PostQuery{AuthorID: target.ID})
	if err != nil {
		return nil, fmt.Errorf("タイムラインの取得に失敗しました: %w", err)
	}

	if includeChildren && len(posts) > 0 {
		return post.LoadChildren(ctx, s.postRepo, posts)
	}

	result := make([]*model.PostWithChildren, len(posts))
	for i, p := range posts {
		result[i] = &model.PostWithChildren{Post: *p}
	}
	return result, nil
}

// canView はviewerがtargetのタイムラインを閲覧できるかを返す。
func canView(viewer *model.CallerIdentity, target *model.Account) bool {
	if !target.Protected || viewer.AccountID == target.ID {
		return true
	}
	return target.HasFollower(viewer.AccountID)
}

// Search はクエリの先頭文字で検索対象を切り替える。
//   - "@xxx": usernameにxxxを含むアカウント（大文字小文字を区別、作成順）
//   - "#xxx": ハッシュタグにxxxと一致する要素を持つ投稿（新しい順、最大SearchLimit件）
//
// それ以外の先頭文字はBAD_INPUT、結果が0件の場合はNOT_FOUNDを返す。
func (s *Service) Search(ctx context.Context, query string) (*SearchResult, error) {
	if query == "" {
		return nil, model.NewBadInputError("検索クエリが空です")
	}

	term := query[1:]
	switch query[0] {
	case '@':
		if strings.TrimSpace(term) == "" {
			return nil, model.NewBadInputError("ユーザー名が空です")
		}
		accounts, err := s.accountRepo.SearchByUsername(ctx, term)
		if err != nil {
			return nil, fmt.Errorf("アカウント検索に失敗しました: %w", err)
		}
		if len(accounts) == 0 {
			return nil, model.NewEmptyResultError("アカウント")
		}
		for i, a := range accounts {
			accounts[i] = a.Scrubbed()
		}
		return &SearchResult{Accounts: accounts}, nil

	case '#':
		if strings.TrimSpace(term) == "" {
			return nil, model.NewBadInputError("ハッシュタグが空です")
		}
		posts, err := s.postRepo.List(ctx, repository.PostQuery{Hashtag: term, Limit: SearchLimit})
		if err != nil {
			return nil, fmt.Errorf("投稿検索に失敗しました: %w", err)
		}
		if len(posts) == 0 {
			return nil, model.NewEmptyResultError("投稿")
		}
		return &SearchResult{Posts: posts}, nil

	default:
		return nil, model.NewBadInputError("検索クエリは@または#で始めてください")
	}
}
