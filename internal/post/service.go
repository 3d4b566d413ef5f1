// Package post は投稿の作成・エンゲージメント（like/deslike）・シェア・削除の
// ドメインロジックを提供する。
package post

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/tweetbox/internal/metrics"
	"github.com/hitoshi/tweetbox/internal/model"
	"github.com/hitoshi/tweetbox/internal/repository"
	"github.com/hitoshi/tweetbox/internal/security"
)

// 投稿の文字数制限（ルーン数）
const (
	MinTitleLength = 2
	MaxTitleLength = 50
	MinBodyLength  = 2
	MaxBodyLength  = 144
	MaxImages      = 4
)

// URLValidator は画像URLの静的検証インターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// CreatePostInput は投稿作成の入力。
type CreatePostInput struct {
	Title  string
	Body   string
	Images []string
}

// Service は投稿のサービス層。
type Service struct {
	postRepo    repository.PostRepository
	accountRepo repository.AccountRepository
	sanitizer   security.ContentSanitizerService
	urlGuard    URLValidator
	metrics     metrics.MetricsCollector
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	postRepo repository.PostRepository,
	accountRepo repository.AccountRepository,
	sanitizer security.ContentSanitizerService,
	urlGuard URLValidator,
	mc metrics.MetricsCollector,
) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		postRepo:    postRepo,
		accountRepo: accountRepo,
		sanitizer:   sanitizer,
		urlGuard:    urlGuard,
		metrics:     mc,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Create は新しい投稿を作成する。
// 作成者のAuthorSnapshotはこの時点のアカウントから複製され、以後更新されない。
func (s *Service) Create(ctx context.Context, caller *model.CallerIdentity, in CreatePostInput) (*model.Post, error) {
	if !caller.Valid() {
		return nil, model.NewUnauthorizedError()
	}

	title := s.sanitizer.Sanitize(strings.TrimSpace(in.Title))
	body := s.sanitizer.Sanitize(strings.TrimSpace(in.Body))
	if err := validateLength("title", title, MinTitleLength, MaxTitleLength); err != nil {
		return nil, err
	}
	if err := validateLength("body", body, MinBodyLength, MaxBodyLength); err != nil {
		return nil, err
	}
	images, err := s.validateImages(in.Images)
	if err != nil {
		return nil, err
	}

	author, err := s.accountRepo.FindByID(ctx, caller.AccountID)
	if err != nil {
		return nil, fmt.Errorf("投稿者の取得に失敗しました: %w", err)
	}
	if author == nil {
		return nil, model.NewUnauthorizedError()
	}

	now := s.now()
	p := &model.Post{
		ID:          uuid.NewString(),
		Title:       title,
		Body:        body,
		Images:      images,
		Hashtags:    model.ExtractHashtags(body),
		Author:      author.Snapshot(),
		LikeList:    []string{},
		DeslikeList: []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.postRepo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}

	s.adjustStatuses(ctx, author.ID, 1)
	s.metrics.RecordPostCreated()
	slog.Info("投稿を作成しました",
		slog.String("account_id", author.ID),
		slog.String("post_id", p.ID),
		slog.Int("hashtags", len(p.Hashtags)),
	)
	return p, nil
}

// Get は投稿を取得する。includeChildrenがtrueの場合は直下のシェア投稿も返す。
func (s *Service) Get(ctx context.Context, postID string, includeChildren bool) (*model.PostWithChildren, error) {
	p, err := s.postRepo.FindByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewPostNotFoundError(postID)
	}
	if !includeChildren {
		return &model.PostWithChildren{Post: *p}, nil
	}

	withChildren, err := LoadChildren(ctx, s.postRepo, []*model.Post{p})
	if err != nil {
		return nil, err
	}
	return withChildren[0], nil
}

// List は投稿を新しい順に返す。authorIDが空でなければその作成者の投稿のみを返す。
// 1件もない場合はNOT_FOUNDを返す。
func (s *Service) List(ctx context.Context, authorID string) ([]*model.Post, error) {
	posts, err := s.postRepo.List(ctx, repository.PostQuery{AuthorID: authorID})
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}
	if len(posts) == 0 {
		return nil, model.NewEmptyResultError("投稿")
	}
	return posts, nil
}

// ToggleLike はcallerのいいねをトグルする。
// いいね/取り消しに応じてcallerのfavoritesCountを増減する（失敗してもトグルは確定する）。
func (s *Service) ToggleLike(ctx context.Context, caller *model.CallerIdentity, postID string) (*model.Post, error) {
	var liked bool
	p, err := s.toggle(ctx, caller, postID, func(p *model.Post) {
		liked = p.ToggleLike(caller.AccountID)
	})
	if err != nil {
		return nil, err
	}

	delta := -1
	if liked {
		delta = 1
	}
	if err := s.accountRepo.AdjustFavoritesCount(ctx, caller.AccountID, delta); err != nil {
		slog.Warn("favorites_countの更新に失敗しました",
			slog.String("account_id", caller.AccountID),
			slog.String("post_id", postID),
			slog.String("error", err.Error()),
		)
	}
	s.metrics.RecordEngagementToggle(metrics.KindLike)
	return p, nil
}

// ToggleDislike はcallerのよくないねをトグルする。いいねの状態には影響しない。
func (s *Service) ToggleDislike(ctx context.Context, caller *model.CallerIdentity, postID string) (*model.Post, error) {
	p, err := s.toggle(ctx, caller, postID, func(p *model.Post) {
		p.ToggleDeslike(caller.AccountID)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordEngagementToggle(metrics.KindDeslike)
	return p, nil
}

// toggle は投稿を行ロックして読み、applyで変更したリストとカウンタを同一トランザクションで保存する。
func (s *Service) toggle(ctx context.Context, caller *model.CallerIdentity, postID string, apply func(p *model.Post)) (*model.Post, error) {
	if !caller.Valid() {
		return nil, model.NewUnauthorizedError()
	}

	var updated *model.Post
	err := s.postRepo.WithTx(ctx, func(repo repository.PostRepository) error {
		p, err := repo.FindByIDForUpdate(ctx, postID)
		if err != nil {
			return fmt.Errorf("投稿の取得に失敗しました: %w", err)
		}
		if p == nil {
			return model.NewPostNotFoundError(postID)
		}

		apply(p)
		if err := repo.UpdateEngagement(ctx, p); err != nil {
			return fmt.Errorf("エンゲージメントの保存に失敗しました: %w", err)
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Share は投稿をシェアし、callerを作成者とする派生投稿を作成する。
// 派生投稿は元投稿の内容を複製し、エンゲージメントは空から始まる。元投稿は変更しない。
func (s *Service) Share(ctx context.Context, caller *model.CallerIdentity, postID string) (*model.Post, error) {
	if !caller.Valid() {
		return nil, model.NewUnauthorizedError()
	}

	source, err := s.postRepo.FindByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if source == nil {
		return nil, model.NewPostNotFoundError(postID)
	}

	sharer, err := s.accountRepo.FindByID(ctx, caller.AccountID)
	if err != nil {
		return nil, fmt.Errorf("シェアしたアカウントの取得に失敗しました: %w", err)
	}
	if sharer == nil {
		return nil, model.NewUnauthorizedError()
	}

	now := s.now()
	parentID := source.ID
	child := &model.Post{
		ID:           uuid.NewString(),
		Title:        source.Title,
		Body:         source.Body,
		Images:       append([]string{}, source.Images...),
		Hashtags:     append([]string{}, source.Hashtags...),
		Author:       sharer.Snapshot(),
		ParentPostID: &parentID,
		LikeList:     []string{},
		DeslikeList:  []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.postRepo.Create(ctx, child); err != nil {
		return nil, fmt.Errorf("シェア投稿の作成に失敗しました: %w", err)
	}

	s.adjustStatuses(ctx, sharer.ID, 1)
	s.metrics.RecordPostShared()
	slog.Info("投稿をシェアしました",
		slog.String("account_id", sharer.ID),
		slog.String("post_id", child.ID),
		slog.String("parent_post_id", source.ID),
	)
	return child, nil
}

// Remove は投稿を削除する。作成者本人のみ削除できる。
// この投稿をシェアした派生投稿は削除されず、parentPostIdはそのまま残る。
func (s *Service) Remove(ctx context.Context, caller *model.CallerIdentity, postID string) error {
	if !caller.Valid() {
		return model.NewUnauthorizedError()
	}

	p, err := s.postRepo.FindByID(ctx, postID)
	if err != nil {
		return fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if p == nil {
		return model.NewPostNotFoundError(postID)
	}
	if p.Author.ID != caller.AccountID {
		return model.NewForbiddenPostError(postID)
	}

	if err := s.postRepo.DeleteByID(ctx, postID); err != nil {
		return fmt.Errorf("投稿の削除に失敗しました: %w", err)
	}

	s.adjustStatuses(ctx, caller.AccountID, -1)
	slog.Info("投稿を削除しました",
		slog.String("account_id", caller.AccountID),
		slog.String("post_id", postID),
	)
	return nil
}

// adjustStatuses はstatuses_countを更新する。失敗はログに残し、呼び出し元には返さない。
func (s *Service) adjustStatuses(ctx context.Context, accountID string, delta int) {
	if err := s.accountRepo.AdjustStatusesCount(ctx, accountID, delta); err != nil {
		slog.Warn("statuses_countの更新に失敗しました",
			slog.String("account_id", accountID),
			slog.Int("delta", delta),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) validateImages(images []string) ([]string, error) {
	if len(images) > MaxImages {
		return nil, model.NewBadInputError(fmt.Sprintf("画像は%d枚までです", MaxImages))
	}
	out := make([]string, 0, len(images))
	for _, img := range images {
		img = strings.TrimSpace(img)
		if err := s.urlGuard.ValidateURL(img); err != nil {
			return nil, model.NewBadInputError(fmt.Sprintf("画像URLが不正です: %v", err))
		}
		out = append(out, img)
	}
	return out, nil
}

func validateLength(field, value string, lo, hi int) error {
	n := utf8.RuneCountInString(value)
	if n < lo || n > hi {
		return model.NewBadInputError(fmt.Sprintf("%sは%d〜%d文字で入力してください", field, lo, hi))
	}
	return nil
}
