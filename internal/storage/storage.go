// Package storage はアバター画像などのバイナリオブジェクトの保存先を提供する。
package storage

import (
	"context"
	"io"
)

// Object は保存済みオブジェクトのキーと公開URLの組。
type Object struct {
	Key string
	URL string
}

// BlobStore はバイナリオブジェクトの保存・削除のインターフェース。
type BlobStore interface {
	// Upload はbodyをkeyで保存し、公開URLを返す。同じキーは上書きされる。
	Upload(ctx context.Context, key, contentType string, body io.Reader) (Object, error)

	// Delete はkeyのオブジェクトを削除する。存在しないキーはエラーにしない。
	Delete(ctx context.Context, key string) error
}
