// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/tweetbox/internal/model"
)

// AccountRepository はアカウントデータ（Identity Store）の永続化インターフェース。
type AccountRepository interface {
	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Account, error)

	// FindByIDForUpdate は指定IDのアカウントを行ロック付きで取得する。
	// WithTxのコールバック内でのみ意味を持つ。見つからない場合はnilを返す。
	FindByIDForUpdate(ctx context.Context, id string) (*model.Account, error)

	// FindByEmail はメールアドレスでアカウントを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Account, error)

	// FindByIDs は指定IDのアカウントをまとめて取得する。存在しないIDは結果に含まれない。
	// 返却順は不定。
	FindByIDs(ctx context.Context, ids []string) ([]*model.Account, error)

	// List は全アカウントを作成順に返す。
	List(ctx context.Context) ([]*model.Account, error)

	// SearchByUsername はusernameに部分文字列を含むアカウントを作成順に返す。
	// 大文字小文字を区別する。
	SearchByUsername(ctx context.Context, substr string) ([]*model.Account, error)

	// Create はアカウントを作成する。email/usernameの重複はCONFLICTを返す。
	Create(ctx context.Context, account *model.Account) error

	// UpdateProfile はname, bio, birthday, protected, is_activeを更新する。
	UpdateProfile(ctx context.Context, account *model.Account) error

	// UpdateAvatar はアバター参照を更新する。
	UpdateAvatar(ctx context.Context, id string, avatar model.Avatar) error

	// UpdatePasswordHash はパスワードハッシュを更新する。
	UpdatePasswordHash(ctx context.Context, id, hash string) error

	// UpdateFollowState はfollowers/followingとそれぞれのカウンタを1文で保存する。
	UpdateFollowState(ctx context.Context, account *model.Account) error

	// AdjustStatusesCount はstatuses_countをdelta分だけ原子的に加算する。
	AdjustStatusesCount(ctx context.Context, id string, delta int) error

	// AdjustFavoritesCount はfavorites_countをdelta分だけ原子的に加算する。
	AdjustFavoritesCount(ctx context.Context, id string, delta int) error

	// RemoveFromFollowGraph は他の全アカウントのfollowers/followingから指定IDを取り除き、
	// カウンタを再計算する。アカウント削除時に使用する。
	RemoveFromFollowGraph(ctx context.Context, id string) error

	// DeleteByID は指定IDのアカウントを削除する。
	DeleteByID(ctx context.Context, id string) error

	// WithTx はfnを単一トランザクション内で実行する。
	// fnに渡されるリポジトリはトランザクションに束縛されている。
	// fnがエラーを返した場合はロールバックする。
	WithTx(ctx context.Context, fn func(repo AccountRepository) error) error
}

// PostQuery は投稿一覧の絞り込み条件。ゼロ値のフィールドは条件に含めない。
type PostQuery struct {
	AuthorID string
	Hashtag  string
	Limit    int
	Offset   int
}

// PostRepository は投稿データ（Post Store）の永続化インターフェース。
type PostRepository interface {
	// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Post, error)

	// FindByIDForUpdate は指定IDの投稿を行ロック付きで取得する。見つからない場合はnilを返す。
	FindByIDForUpdate(ctx context.Context, id string) (*model.Post, error)

	// Create は投稿を作成する。
	Create(ctx context.Context, post *model.Post) error

	// UpdateEngagement はlike/deslikeのリストとカウンタを同時に保存する。
	UpdateEngagement(ctx context.Context, post *model.Post) error

	// DeleteByID は指定IDの投稿を削除する。子投稿は削除しない。
	DeleteByID(ctx context.Context, id string) error

	// List は条件に一致する投稿をcreated_at降順で返す。
	List(ctx context.Context, q PostQuery) ([]*model.Post, error)

	// ListByParentIDs はparent_post_idが指定IDのいずれかに一致する投稿を
	// created_at降順で返す。
	ListByParentIDs(ctx context.Context, parentIDs []string) ([]*model.Post, error)

	// WithTx はfnを単一トランザクション内で実行する。
	WithTx(ctx context.Context, fn func(repo PostRepository) error) error
}

// DBTX は*sql.DBと*sql.Txに共通するクエリ実行インターフェース。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
