// Package graph はフォロー関係（フォローグラフ）を管理するドメインロジックを提供する。
//
// フォロー関係はフォローする側のfollowingとされる側のfollowersの両方に記録される。
// 2つのアカウントの更新は単一トランザクション内で行い、行ロックで直列化する。
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/hitoshi/tweetbox/internal/metrics"
	"github.com/hitoshi/tweetbox/internal/model"
	"github.com/hitoshi/tweetbox/internal/repository"
)

// Service はフォローグラフのサービス層。
type Service struct {
	accountRepo repository.AccountRepository
	metrics     metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
// mcがnilの場合はメトリクスを記録しない。
func NewService(accountRepo repository.AccountRepository, mc metrics.MetricsCollector) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{accountRepo: accountRepo, metrics: mc}
}

// Follow はcallerがtargetIDをフォローする。
// 成功時はパスワードハッシュを除去したフォロー元アカウントを返す。
func (s *Service) Follow(ctx context.Context, caller *model.CallerIdentity, targetID string) (*model.Account, error) {
	if !caller.Valid() {
		return nil, model.NewUnauthorizedError()
	}
	if caller.AccountID == targetID {
		return nil, model.NewSelfReferenceError()
	}

	var updated *model.Account
	err := s.accountRepo.WithTx(ctx, func(repo repository.AccountRepository) error {
		follower, target, err := lockPair(ctx, repo, caller.AccountID, targetID)
		if err != nil {
			return err
		}

		// 無効化されたアカウントは新規フォローの対象にしない
		if !target.IsActive {
			return model.NewAccountNotFoundError(target.ID)
		}
		if follower.IsFollowing(target.ID) {
			return model.NewAlreadyFollowingError(target.ID)
		}

		follower.AddFollowing(target.ID)
		target.AddFollower(follower.ID)

		if err := persistPair(ctx, repo, follower, target); err != nil {
			return err
		}
		updated = follower
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordFollowOp(metrics.OpFollow)
	slog.Info("フォローしました",
		slog.String("account_id", caller.AccountID),
		slog.String("target_id", targetID),
	)
	return updated.Scrubbed(), nil
}

// Unfollow はcallerによるtargetIDのフォローを解除する。
// どちらか一方の側にしか関係が記録されていない場合もNOT_FOLLOWINGとし、修復は行わない。
func (s *Service) Unfollow(ctx context.Context, caller *model.CallerIdentity, targetID string) (*model.Account, error) {
	if !caller.Valid() {
		return nil, model.NewUnauthorizedError()
	}
	if caller.AccountID == targetID {
		return nil, model.NewSelfReferenceError()
	}

	var updated *model.Account
	err := s.accountRepo.WithTx(ctx, func(repo repository.AccountRepository) error {
		follower, target, err := lockPair(ctx, repo, caller.AccountID, targetID)
		if err != nil {
			return err
		}

		if !follower.IsFollowing(target.ID) || !target.HasFollower(follower.ID) {
			return model.NewNotFollowingError(target.ID)
		}

		follower.RemoveFollowing(target.ID)
		target.RemoveFollower(follower.ID)

		if err := persistPair(ctx, repo, follower, target); err != nil {
			return err
		}
		updated = follower
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordFollowOp(metrics.OpUnfollow)
	slog.Info("フォローを解除しました",
		slog.String("account_id", caller.AccountID),
		slog.String("target_id", targetID),
	)
	return updated.Scrubbed(), nil
}

// Followers はaccountIDをフォローしているアカウントの一覧を返す。
func (s *Service) Followers(ctx context.Context, accountID string) ([]*model.Account, error) {
	return s.relation(ctx, accountID, func(a *model.Account) []string { return a.Followers })
}

// Following はaccountIDがフォローしているアカウントの一覧を返す。
func (s *Service) Following(ctx context.Context, accountID string) ([]*model.Account, error) {
	return s.relation(ctx, accountID, func(a *model.Account) []string { return a.Following })
}

// relation はside(account)のID順にアカウントを解決して返す。
// 削除済みなどで解決できないIDは結果から除外する。
func (s *Service) relation(ctx context.Context, accountID string, side func(*model.Account) []string) ([]*model.Account, error) {
	account, err := s.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}
	if account == nil {
		return nil, model.NewAccountNotFoundError(accountID)
	}

	ids := side(account)
	if len(ids) == 0 {
		return []*model.Account{}, nil
	}

	found, err := s.accountRepo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("関係アカウントの取得に失敗しました: %w", err)
	}
	byID := make(map[string]*model.Account, len(found))
	for _, a := range found {
		byID[a.ID] = a
	}

	result := make([]*model.Account, 0, len(ids))
	for _, id := range ids {
		if a, ok := byID[id]; ok {
			result = append(result, a.Scrubbed())
		}
	}
	return result, nil
}

// lockPair は2つのアカウントをID昇順で行ロックして取得する。
// ロック順を固定することで、A→BとB→Aの同時操作によるデッドロックを防ぐ。
func lockPair(ctx context.Context, repo repository.AccountRepository, followerID, targetID string) (follower, target *model.Account, err error) {
	ids := []string{followerID, targetID}
	slices.Sort(ids)

	locked := make(map[string]*model.Account, 2)
	for _, id := range ids {
		a, err := repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("アカウントのロックに失敗しました: %w", err)
		}
		if a == nil {
			return nil, nil, model.NewAccountNotFoundError(id)
		}
		locked[id] = a
	}
	return locked[followerID], locked[targetID], nil
}

func persistPair(ctx context.Context, repo repository.AccountRepository, follower, target *model.Account) error {
	if err := repo.UpdateFollowState(ctx, follower); err != nil {
		return fmt.Errorf("フォロー元の更新に失敗しました: %w", err)
	}
	if err := repo.UpdateFollowState(ctx, target); err != nil {
		return fmt.Errorf("フォロー先の更新に失敗しました: %w", err)
	}
	return nil
}
