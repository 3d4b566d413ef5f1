// Package repotest はテスト用のインメモリリポジトリ実装を提供する。
//
// WithTxは単一のミューテックスで直列化し、コールバックがエラーを返した場合は
// 開始時点のスナップショットへ巻き戻す。PostgreSQL実装の行ロックと
// ロールバックの振る舞いをテストで再現するためのもの。
package repotest

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/tweetbox/internal/model"
	"github.com/hitoshi/tweetbox/internal/repository"
)

// AccountRepo はインメモリのAccountRepository。
type AccountRepo struct {
	txMu sync.Mutex // WithTxの直列化

	mu    sync.Mutex
	rows  map[string]*model.Account
	order []string // 挿入順

	// FailUpdateFollowState が設定されていれば、UpdateFollowStateはこのIDに対してエラーを返す。
	FailUpdateFollowState string
	// FailAdjust が設定されていれば、Adjust系はエラーを返す。
	FailAdjust error
}

// NewAccountRepo は空のAccountRepoを生成する。
func NewAccountRepo() *AccountRepo {
	return &AccountRepo{rows: make(map[string]*model.Account)}
}

// Seed はアカウントをそのまま格納する。テストの前提データ作成用。
func (r *AccountRepo) Seed(accounts ...*model.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range accounts {
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now().UTC()
		}
		if _, ok := r.rows[a.ID]; !ok {
			r.order = append(r.order, a.ID)
		}
		r.rows[a.ID] = cloneAccount(a)
	}
}

// Get はテスト検証用に格納済みアカウントのコピーを返す。
func (r *AccountRepo) Get(id string) *model.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.rows[id]; ok {
		return cloneAccount(a)
	}
	return nil
}

func (r *AccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	return r.Get(id), nil
}

func (r *AccountRepo) FindByIDForUpdate(ctx context.Context, id string) (*model.Account, error) {
	return r.Get(id), nil
}

func (r *AccountRepo) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		if a := r.rows[id]; a.Email == email {
			return cloneAccount(a), nil
		}
	}
	return nil, nil
}

func (r *AccountRepo) FindByIDs(ctx context.Context, ids []string) ([]*model.Account, error) {
	return r.filter(func(a *model.Account) bool { return slices.Contains(ids, a.ID) }), nil
}

func (r *AccountRepo) List(ctx context.Context) ([]*model.Account, error) {
	return r.filter(func(*model.Account) bool { return true }), nil
}

func (r *AccountRepo) SearchByUsername(ctx context.Context, substr string) ([]*model.Account, error) {
	return r.filter(func(a *model.Account) bool { return strings.Contains(a.Username, substr) }), nil
}

func (r *AccountRepo) filter(keep func(*model.Account) bool) []*model.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Account
	for _, id := range r.order {
		if a := r.rows[id]; keep(a) {
			out = append(out, cloneAccount(a))
		}
	}
	return out
}

func (r *AccountRepo) Create(ctx context.Context, account *model.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.rows {
		if a.Email == account.Email {
			return model.NewConflictError("email")
		}
		if a.Username == account.Username {
			return model.NewConflictError("username")
		}
	}
	r.rows[account.ID] = cloneAccount(account)
	r.order = append(r.order, account.ID)
	return nil
}

func (r *AccountRepo) UpdateProfile(ctx context.Context, account *model.Account) error {
	return r.update(account.ID, func(a *model.Account) error {
		a.Name = account.Name
		a.Bio = account.Bio
		a.Birthday = account.Birthday
		a.Protected = account.Protected
		a.IsActive = account.IsActive
		return nil
	})
}

func (r *AccountRepo) UpdateAvatar(ctx context.Context, id string, avatar model.Avatar) error {
	return r.update(id, func(a *model.Account) error {
		a.Avatar = avatar
		return nil
	})
}

func (r *AccountRepo) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return r.update(id, func(a *model.Account) error {
		a.PasswordHash = hash
		return nil
	})
}

func (r *AccountRepo) UpdateFollowState(ctx context.Context, account *model.Account) error {
	if r.FailUpdateFollowState != "" && r.FailUpdateFollowState == account.ID {
		return errStore
	}
	return r.update(account.ID, func(a *model.Account) error {
		a.Followers = slices.Clone(account.Followers)
		a.FollowersCount = len(a.Followers)
		a.Following = slices.Clone(account.Following)
		a.FollowingCount = len(a.Following)
		return nil
	})
}

func (r *AccountRepo) AdjustStatusesCount(ctx context.Context, id string, delta int) error {
	if r.FailAdjust != nil {
		return r.FailAdjust
	}
	return r.update(id, func(a *model.Account) error {
		a.StatusesCount = max(a.StatusesCount+delta, 0)
		return nil
	})
}

func (r *AccountRepo) AdjustFavoritesCount(ctx context.Context, id string, delta int) error {
	if r.FailAdjust != nil {
		return r.FailAdjust
	}
	return r.update(id, func(a *model.Account) error {
		a.FavoritesCount = max(a.FavoritesCount+delta, 0)
		return nil
	})
}

func (r *AccountRepo) RemoveFromFollowGraph(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.rows {
		a.RemoveFollower(id)
		a.RemoveFollowing(id)
	}
	return nil
}

func (r *AccountRepo) DeleteByID(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return model.NewAccountNotFoundError(id)
	}
	delete(r.rows, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
	return nil
}

// WithTx はfnを直列化して実行し、エラー時には開始時点の状態へ戻す。
func (r *AccountRepo) WithTx(ctx context.Context, fn func(repo repository.AccountRepository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	saved := make(map[string]*model.Account, len(r.rows))
	for id, a := range r.rows {
		saved[id] = cloneAccount(a)
	}
	savedOrder := slices.Clone(r.order)
	r.mu.Unlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.rows = saved
		r.order = savedOrder
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *AccountRepo) update(id string, apply func(a *model.Account) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return model.NewAccountNotFoundError(id)
	}
	if err := apply(a); err != nil {
		return err
	}
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func cloneAccount(a *model.Account) *model.Account {
	cp := *a
	cp.Followers = slices.Clone(a.Followers)
	cp.Following = slices.Clone(a.Following)
	return &cp
}

// PostRepo はインメモリのPostRepository。
type PostRepo struct {
	txMu sync.Mutex

	mu   sync.Mutex
	rows map[string]*model.Post
	seq  int64 // 同時刻の作成順を安定させる
	ord  map[string]int64

	// FailCreate が設定されていれば、Createはこのエラーを返す。
	FailCreate error
}

// NewPostRepo は空のPostRepoを生成する。
func NewPostRepo() *PostRepo {
	return &PostRepo{rows: make(map[string]*model.Post), ord: make(map[string]int64)}
}

// Get はテスト検証用に格納済み投稿のコピーを返す。
func (r *PostRepo) Get(id string) *model.Post {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.rows[id]; ok {
		return clonePost(p)
	}
	return nil
}

// Len は格納済み投稿数を返す。
func (r *PostRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func (r *PostRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	return r.Get(id), nil
}

func (r *PostRepo) FindByIDForUpdate(ctx context.Context, id string) (*model.Post, error) {
	return r.Get(id), nil
}

func (r *PostRepo) Create(ctx context.Context, post *model.Post) error {
	if r.FailCreate != nil {
		return r.FailCreate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.rows[post.ID] = clonePost(post)
	r.ord[post.ID] = r.seq
	return nil
}

func (r *PostRepo) UpdateEngagement(ctx context.Context, post *model.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[post.ID]
	if !ok {
		return model.NewPostNotFoundError(post.ID)
	}
	p.LikeList = slices.Clone(post.LikeList)
	p.LikeCount = len(p.LikeList)
	p.DeslikeList = slices.Clone(post.DeslikeList)
	p.DeslikeCount = len(p.DeslikeList)
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *PostRepo) DeleteByID(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return model.NewPostNotFoundError(id)
	}
	delete(r.rows, id)
	delete(r.ord, id)
	return nil
}

func (r *PostRepo) List(ctx context.Context, q repository.PostQuery) ([]*model.Post, error) {
	posts := r.sorted(func(p *model.Post) bool {
		if q.AuthorID != "" && p.Author.ID != q.AuthorID {
			return false
		}
		if q.Hashtag != "" && !slices.Contains(p.Hashtags, q.Hashtag) {
			return false
		}
		return true
	})
	if q.Offset > 0 {
		if q.Offset >= len(posts) {
			return nil, nil
		}
		posts = posts[q.Offset:]
	}
	if q.Limit > 0 && len(posts) > q.Limit {
		posts = posts[:q.Limit]
	}
	return posts, nil
}

func (r *PostRepo) ListByParentIDs(ctx context.Context, parentIDs []string) ([]*model.Post, error) {
	return r.sorted(func(p *model.Post) bool {
		return p.ParentPostID != nil && slices.Contains(parentIDs, *p.ParentPostID)
	}), nil
}

// sorted はkeepに一致する投稿を作成日時の降順で返す。
func (r *PostRepo) sorted(keep func(*model.Post) bool) []*model.Post {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Post
	for _, p := range r.rows {
		if keep(p) {
			out = append(out, clonePost(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return r.ord[out[i].ID] > r.ord[out[j].ID]
	})
	return out
}

// WithTx はfnを直列化して実行し、エラー時には開始時点の状態へ戻す。
func (r *PostRepo) WithTx(ctx context.Context, fn func(repo repository.PostRepository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	saved := make(map[string]*model.Post, len(r.rows))
	for id, p := range r.rows {
		saved[id] = clonePost(p)
	}
	r.mu.Unlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.rows = saved
		r.mu.Unlock()
		return err
	}
	return nil
}

func clonePost(p *model.Post) *model.Post {
	cp := *p
	cp.Images = slices.Clone(p.Images)
	cp.Hashtags = slices.Clone(p.Hashtags)
	cp.LikeList = slices.Clone(p.LikeList)
	cp.DeslikeList = slices.Clone(p.DeslikeList)
	if p.ParentPostID != nil {
		parent := *p.ParentPostID
		cp.ParentPostID = &parent
	}
	return &cp
}

type storeError string

func (e storeError) Error() string { return string(e) }

// errStore は注入されたストア障害。
const errStore = storeError("repotest: injected store failure")

var (
	_ repository.AccountRepository = (*AccountRepo)(nil)
	_ repository.PostRepository    = (*PostRepo)(nil)
)
