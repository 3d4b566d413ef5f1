package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/tweetbox/internal/model"
	"github.com/lib/pq"
)

// accountColumns はaccountsテーブルのSELECT対象カラム。scanAccountと順序を合わせる。
const accountColumns = `id, email, username, name, password_hash, bio, birthday,
	protected, is_active, avatar_key, avatar_url,
	followers, followers_count, following, following_count,
	statuses_count, favorites_count, created_at, updated_at`

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db DBTX
	tx TxBeginner // トランザクション内で生成された場合はnil
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	if db == nil {
		return &PostgresAccountRepo{}
	}
	return &PostgresAccountRepo{db: db, tx: db}
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	if !isUUID(id) {
		return nil, nil
	}
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

// FindByIDForUpdate は指定IDのアカウントをFOR UPDATEで取得する。
func (r *PostgresAccountRepo) FindByIDForUpdate(ctx context.Context, id string) (*model.Account, error) {
	if !isUUID(id) {
		return nil, nil
	}
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
}

// FindByEmail はメールアドレスでアカウントを検索する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
}

func (r *PostgresAccountRepo) findOne(ctx context.Context, query string, arg string) (*model.Account, error) {
	account, err := scanAccount(r.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return account, nil
}

// FindByIDs は指定IDのアカウントを1回のクエリで取得する。
func (r *PostgresAccountRepo) FindByIDs(ctx context.Context, ids []string) ([]*model.Account, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if isUUID(id) {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return nil, nil
	}
	return r.findMany(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ANY($1::uuid[])`, pq.Array(valid))
}

// List は全アカウントを作成順に返す。
func (r *PostgresAccountRepo) List(ctx context.Context) ([]*model.Account, error) {
	return r.findMany(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at, id`)
}

// SearchByUsername はusernameに部分文字列を含むアカウントを作成順に返す。
// LIKEのメタ文字はエスケープし、入力をそのまま部分一致として扱う。
func (r *PostgresAccountRepo) SearchByUsername(ctx context.Context, substr string) ([]*model.Account, error) {
	return r.findMany(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE username LIKE '%' || $1 || '%' ESCAPE '\'
		 ORDER BY created_at, id`,
		escapeLike(substr),
	)
}

func (r *PostgresAccountRepo) findMany(ctx context.Context, query string, args ...interface{}) ([]*model.Account, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*model.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}
	return accounts, nil
}

// Create はアカウントを作成する。
func (r *PostgresAccountRepo) Create(ctx context.Context, a *model.Account) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		a.ID, a.Email, a.Username, a.Name, a.PasswordHash, a.Bio, a.Birthday,
		a.Protected, a.IsActive, a.Avatar.Key, a.Avatar.URL,
		pq.Array(nonNil(a.Followers)), a.FollowersCount, pq.Array(nonNil(a.Following)), a.FollowingCount,
		a.StatusesCount, a.FavoritesCount, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if field, ok := uniqueViolationField(err); ok {
			return model.NewConflictError(field)
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// UpdateProfile はプロフィール項目を更新する。フォロー関係は更新しない。
func (r *PostgresAccountRepo) UpdateProfile(ctx context.Context, a *model.Account) error {
	return r.execOne(ctx, "update account profile",
		`UPDATE accounts SET name = $2, bio = $3, birthday = $4, protected = $5, is_active = $6, updated_at = $7
		 WHERE id = $1`,
		a.ID, a.Name, a.Bio, a.Birthday, a.Protected, a.IsActive, time.Now().UTC(),
	)
}

// UpdateAvatar はアバター参照を更新する。
func (r *PostgresAccountRepo) UpdateAvatar(ctx context.Context, id string, avatar model.Avatar) error {
	return r.execOne(ctx, "update avatar",
		`UPDATE accounts SET avatar_key = $2, avatar_url = $3, updated_at = $4 WHERE id = $1`,
		id, avatar.Key, avatar.URL, time.Now().UTC(),
	)
}

// UpdatePasswordHash はパスワードハッシュを更新する。
func (r *PostgresAccountRepo) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return r.execOne(ctx, "update password",
		`UPDATE accounts SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id, hash, time.Now().UTC(),
	)
}

// UpdateFollowState はfollowers/followingとカウンタを同一文で保存する。
// カウンタは集合と同じ値から書き込むため、片方だけが更新されることはない。
func (r *PostgresAccountRepo) UpdateFollowState(ctx context.Context, a *model.Account) error {
	return r.execOne(ctx, "update follow state",
		`UPDATE accounts SET followers = $2, followers_count = $3, following = $4, following_count = $5, updated_at = $6
		 WHERE id = $1`,
		a.ID, pq.Array(nonNil(a.Followers)), len(a.Followers), pq.Array(nonNil(a.Following)), len(a.Following), time.Now().UTC(),
	)
}

// AdjustStatusesCount はstatuses_countを原子的に加算する。0未満にはしない。
func (r *PostgresAccountRepo) AdjustStatusesCount(ctx context.Context, id string, delta int) error {
	return r.execOne(ctx, "adjust statuses count",
		`UPDATE accounts SET statuses_count = GREATEST(statuses_count + $2, 0) WHERE id = $1`,
		id, delta,
	)
}

// AdjustFavoritesCount はfavorites_countを原子的に加算する。0未満にはしない。
func (r *PostgresAccountRepo) AdjustFavoritesCount(ctx context.Context, id string, delta int) error {
	return r.execOne(ctx, "adjust favorites count",
		`UPDATE accounts SET favorites_count = GREATEST(favorites_count + $2, 0) WHERE id = $1`,
		id, delta,
	)
}

// RemoveFromFollowGraph は他アカウントのフォロー集合から指定IDを取り除く。
func (r *PostgresAccountRepo) RemoveFromFollowGraph(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET
		     followers = array_remove(followers, $1),
		     followers_count = cardinality(array_remove(followers, $1)),
		     following = array_remove(following, $1),
		     following_count = cardinality(array_remove(following, $1)),
		     updated_at = $2
		 WHERE $1 = ANY(followers) OR $1 = ANY(following)`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to remove account from follow graph: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのアカウントを削除する。
func (r *PostgresAccountRepo) DeleteByID(ctx context.Context, id string) error {
	return r.execOne(ctx, "delete account", `DELETE FROM accounts WHERE id = $1`, id)
}

// WithTx はfnを単一トランザクション内で実行する。
// 既にトランザクション内であればそのままfnを実行する。
func (r *PostgresAccountRepo) WithTx(ctx context.Context, fn func(repo AccountRepository) error) error {
	if r.tx == nil {
		return fn(r)
	}
	return runInTx(ctx, r.tx, func(tx *sql.Tx) error {
		return fn(&PostgresAccountRepo{db: tx})
	})
}

// execOne は1行だけを更新する文を実行し、対象行がなければNOT_FOUNDを返す。
// 第1引数（$1）は常にアカウントIDとする。
func (r *PostgresAccountRepo) execOne(ctx context.Context, op, query, id string, rest ...interface{}) error {
	if !isUUID(id) {
		return model.NewAccountNotFoundError(id)
	}
	args := append([]interface{}{id}, rest...)
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.NewAccountNotFoundError(id)
	}
	return nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*model.Account, error) {
	a := &model.Account{}
	var bio sql.NullString
	var birthday sql.NullTime

	err := row.Scan(
		&a.ID, &a.Email, &a.Username, &a.Name, &a.PasswordHash, &bio, &birthday,
		&a.Protected, &a.IsActive, &a.Avatar.Key, &a.Avatar.URL,
		pq.Array(&a.Followers), &a.FollowersCount, pq.Array(&a.Following), &a.FollowingCount,
		&a.StatusesCount, &a.FavoritesCount, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Bio = nullStringValue(bio)
	if birthday.Valid {
		a.Birthday = &birthday.Time
	}
	return a, nil
}

// uniqueViolationField は一意制約違反(23505)であれば違反したフィールド名を返す。
func uniqueViolationField(err error) (string, bool) {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return "", false
	}
	switch {
	case strings.Contains(pqErr.Constraint, "email"):
		return "email", true
	case strings.Contains(pqErr.Constraint, "username"):
		return "username", true
	default:
		return pqErr.Constraint, true
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
