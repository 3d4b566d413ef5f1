package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// runInTx はトランザクションを開始してfnを実行する。
// fnが成功すればコミットし、失敗またはpanicの場合はロールバックする。
func runInTx(ctx context.Context, db TxBeginner, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isUUID はidがUUID形式かを返す。uuid型のカラムに不正な値を渡すと
// クエリ自体がエラーになるため、未検出として扱うために使う。
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// nonNil はnilスライスを空スライスに置き換える。
// NOT NULLの配列カラムにNULLを書き込まないようにするため。
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
