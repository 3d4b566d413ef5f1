package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/tweetbox/internal/model"
	"github.com/lib/pq"
)

// postColumns はpostsテーブルのSELECT対象カラム。scanPostと順序を合わせる。
const postColumns = `id, title, body, images, hashtags,
	author_id, author_name, author_username, author_protected, author_avatar_key, author_avatar_url,
	parent_post_id, like_count, like_list, deslike_count, deslike_list, created_at, updated_at`

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresPostRepo struct {
	db DBTX
	tx TxBeginner // トランザクション内で生成された場合はnil
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	if db == nil {
		return &PostgresPostRepo{}
	}
	return &PostgresPostRepo{db: db, tx: db}
}

// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	return r.findOne(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id)
}

// FindByIDForUpdate は指定IDの投稿をFOR UPDATEで取得する。
// 同じ投稿へのトグルはこのロックで直列化される。
func (r *PostgresPostRepo) FindByIDForUpdate(ctx context.Context, id string) (*model.Post, error) {
	return r.findOne(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresPostRepo) findOne(ctx context.Context, query, id string) (*model.Post, error) {
	if !isUUID(id) {
		return nil, nil
	}
	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	return post, nil
}

// Create は投稿を作成する。
func (r *PostgresPostRepo) Create(ctx context.Context, p *model.Post) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO posts (`+postColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		p.ID, p.Title, p.Body, pq.Array(nonNil(p.Images)), pq.Array(nonNil(p.Hashtags)),
		p.Author.ID, p.Author.Name, p.Author.Username, p.Author.Protected, p.Author.Avatar.Key, p.Author.Avatar.URL,
		p.ParentPostID, p.LikeCount, pq.Array(nonNil(p.LikeList)), p.DeslikeCount, pq.Array(nonNil(p.DeslikeList)),
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateEngagement はlike/deslikeのリストとカウンタを同時に保存する。
// カウンタはリストの長さから書き込む。
func (r *PostgresPostRepo) UpdateEngagement(ctx context.Context, p *model.Post) error {
	p.UpdatedAt = time.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		`UPDATE posts SET like_list = $2, like_count = $3, deslike_list = $4, deslike_count = $5, updated_at = $6
		 WHERE id = $1`,
		p.ID, pq.Array(nonNil(p.LikeList)), len(p.LikeList), pq.Array(nonNil(p.DeslikeList)), len(p.DeslikeList), p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("投稿のエンゲージメント更新に失敗しました: %w", err)
	}
	return requireOneRow(result, p.ID)
}

// DeleteByID は指定IDの投稿を削除する。parent_post_idで参照している子投稿はそのまま残る。
func (r *PostgresPostRepo) DeleteByID(ctx context.Context, id string) error {
	if !isUUID(id) {
		return model.NewPostNotFoundError(id)
	}
	result, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("投稿の削除に失敗しました: %w", err)
	}
	return requireOneRow(result, id)
}

// List は条件に一致する投稿をcreated_at降順で返す。
func (r *PostgresPostRepo) List(ctx context.Context, q PostQuery) ([]*model.Post, error) {
	var conds []string
	var args []interface{}

	if q.AuthorID != "" {
		args = append(args, q.AuthorID)
		conds = append(conds, fmt.Sprintf("author_id = $%d", len(args)))
	}
	if q.Hashtag != "" {
		args = append(args, q.Hashtag)
		conds = append(conds, fmt.Sprintf("$%d = ANY(hashtags)", len(args)))
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + postColumns + ` FROM posts`)
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY created_at DESC, id DESC")
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	return r.findMany(ctx, sb.String(), args...)
}

// ListByParentIDs はparent_post_idが指定IDのいずれかに一致する投稿を1回のクエリで取得する。
func (r *PostgresPostRepo) ListByParentIDs(ctx context.Context, parentIDs []string) ([]*model.Post, error) {
	ids := make([]string, 0, len(parentIDs))
	for _, id := range parentIDs {
		if isUUID(id) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return r.findMany(ctx,
		`SELECT `+postColumns+` FROM posts WHERE parent_post_id = ANY($1::uuid[]) ORDER BY created_at DESC, id DESC`,
		pq.Array(ids),
	)
}

func (r *PostgresPostRepo) findMany(ctx context.Context, query string, args ...interface{}) ([]*model.Post, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var posts []*model.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("投稿の読み取りに失敗しました: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("投稿一覧の走査に失敗しました: %w", err)
	}
	return posts, nil
}

// WithTx はfnを単一トランザクション内で実行する。
func (r *PostgresPostRepo) WithTx(ctx context.Context, fn func(repo PostRepository) error) error {
	if r.tx == nil {
		return fn(r)
	}
	return runInTx(ctx, r.tx, func(tx *sql.Tx) error {
		return fn(&PostgresPostRepo{db: tx})
	})
}

func scanPost(row rowScanner) (*model.Post, error) {
	p := &model.Post{}
	var parentID sql.NullString

	err := row.Scan(
		&p.ID, &p.Title, &p.Body, pq.Array(&p.Images), pq.Array(&p.Hashtags),
		&p.Author.ID, &p.Author.Name, &p.Author.Username, &p.Author.Protected,
		&p.Author.Avatar.Key, &p.Author.Avatar.URL,
		&parentID, &p.LikeCount, pq.Array(&p.LikeList), &p.DeslikeCount, pq.Array(&p.DeslikeList),
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		p.ParentPostID = &parentID.String
	}
	return p, nil
}

func requireOneRow(result sql.Result, postID string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.NewPostNotFoundError(postID)
	}
	return nil
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
