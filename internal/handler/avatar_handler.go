package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/tweetbox/internal/middleware"
	"github.com/hitoshi/tweetbox/internal/model"
)

// AvatarReader はアバター画像を読み出すインターフェース。
// storage.MemoryBlobStoreが実装する。S3を使う場合は配信をS3に任せるためnilとする。
type AvatarReader interface {
	Open(key string) (io.Reader, string, bool)
}

// AvatarHandler はアバター画像を配信するHTTPハンドラー。
type AvatarHandler struct {
	reader AvatarReader
}

// NewAvatarHandler はAvatarHandlerを生成する。
func NewAvatarHandler(reader AvatarReader) *AvatarHandler {
	return &AvatarHandler{reader: reader}
}

// ServeAvatar はアバター画像を返す。
// GET /avatars/{key}
func (h *AvatarHandler) ServeAvatar(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	body, contentType, ok := h.reader.Open(key)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     model.ErrCodeNotFound,
			Message:  "画像が見つかりません。",
			Category: "not_found",
			Action:   "URLを確認してください。",
		})
		return
	}

	w.Header().Set("Content-Type", contentType)
	// キーはアップロードごとに新しく採番されるため内容は変わらない
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		slog.Warn("failed to write avatar",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}
