package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryBlobStore はプロセス内メモリに保存するBlobStore。
// AWS_BUCKET_NAME未設定時のローカル実行とテストで使用する。
type MemoryBlobStore struct {
	baseURL string

	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	contentType string
	data        []byte
}

// NewMemoryBlobStore はbaseURLをURLの接頭辞とするMemoryBlobStoreを生成する。
func NewMemoryBlobStore(baseURL string) *MemoryBlobStore {
	return &MemoryBlobStore{
		baseURL: baseURL,
		objects: make(map[string]memoryObject),
	}
}

// Upload はbodyを読み切ってメモリに保存する。
func (m *MemoryBlobStore) Upload(ctx context.Context, key, contentType string, body io.Reader) (Object, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return Object{}, fmt.Errorf("failed to read object body: %w", err)
	}

	m.mu.Lock()
	m.objects[key] = memoryObject{contentType: contentType, data: data}
	m.mu.Unlock()

	return Object{Key: key, URL: m.baseURL + "/" + key}, nil
}

// Delete はオブジェクトを削除する。
func (m *MemoryBlobStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

// Open は保存済みオブジェクトの内容とContent-Typeを返す。見つからない場合はfalse。
func (m *MemoryBlobStore) Open(key string) (io.Reader, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, "", false
	}
	return bytes.NewReader(obj.data), obj.contentType, true
}

// Len は保存済みオブジェクト数を返す。
func (m *MemoryBlobStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

var _ BlobStore = (*MemoryBlobStore)(nil)
