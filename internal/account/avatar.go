package account

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/tweetbox/internal/model"
)

// avatarExtensions は受け付けるアバター画像のMIMEタイプと保存時の拡張子。
var avatarExtensions = map[string]string{
	"image/jpg":  ".jpg",
	"image/jpeg": ".jpeg",
	"image/png":  ".png",
}

// UpdateAvatar はアップロードされた画像をアバターとして保存する。
// 新しいオブジェクトを保存して参照を更新した後、以前のオブジェクトを削除する。
// センチネルのアバターは削除しない。
func (s *Service) UpdateAvatar(ctx context.Context, caller *model.CallerIdentity, filename, contentType string, body io.Reader) (*model.Account, error) {
	if !caller.Valid() {
		return nil, model.NewUnauthorizedError()
	}
	mimeType, ext, err := avatarType(contentType, filename)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(body, s.config.AvatarMaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("アバター画像の読み取りに失敗しました: %w", err)
	}
	if int64(len(data)) > s.config.AvatarMaxSize {
		return nil, model.NewBadInputError(fmt.Sprintf("アバター画像は%dバイト以内にしてください", s.config.AvatarMaxSize))
	}
	if len(data) == 0 {
		return nil, model.NewBadInputError("アバター画像が空です")
	}

	return s.replaceAvatar(ctx, caller.AccountID, mimeType, ext, data)
}

// ImportAvatarFromURL は外部URLの画像を取得してアバターとして保存する。
// 取得はSSRF対策済みのHTTPクライアントで行う。
func (s *Service) ImportAvatarFromURL(ctx context.Context, caller *model.CallerIdentity, rawURL string) (*model.Account, error) {
	if !caller.Valid() {
		return nil, model.NewUnauthorizedError()
	}
	if err := s.guard.ValidateURL(rawURL); err != nil {
		return nil, model.NewBadInputError(fmt.Sprintf("画像URLが不正です: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, model.NewBadInputError(fmt.Sprintf("画像URLが不正です: %v", err))
	}
	req.Header.Set("User-Agent", "tweetbox/1.0 avatar-import")

	resp, err := s.guard.NewSafeClient(s.config.AvatarFetchTimeout).Do(req)
	if err != nil {
		slog.Warn("アバター取得: HTTPリクエスト失敗", "url", rawURL, "error", err)
		return nil, model.NewBadInputError("画像を取得できませんでした")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("アバター取得: HTTPステータス異常", "url", rawURL, "status", resp.StatusCode)
		return nil, model.NewBadInputError(fmt.Sprintf("画像を取得できませんでした（HTTP %d）", resp.StatusCode))
	}

	return s.UpdateAvatar(ctx, caller, path.Base(req.URL.Path), resp.Header.Get("Content-Type"), resp.Body)
}

func (s *Service) replaceAvatar(ctx context.Context, accountID, mimeType, ext string, data []byte) (*model.Account, error) {
	account, err := s.find(ctx, accountID)
	if err != nil {
		return nil, err
	}
	previous := account.Avatar

	key := "avatar-" + uuid.NewString() + ext
	obj, err := s.blobs.Upload(ctx, key, mimeType, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("アバター画像の保存に失敗しました: %w", err)
	}

	avatar := model.Avatar{Key: obj.Key, URL: obj.URL}
	if err := s.accountRepo.UpdateAvatar(ctx, accountID, avatar); err != nil {
		s.deleteAvatarObject(ctx, accountID, avatar)
		return nil, fmt.Errorf("アバターの更新に失敗しました: %w", err)
	}
	s.deleteAvatarObject(ctx, accountID, previous)

	slog.Info("アバターを更新しました",
		slog.String("account_id", accountID),
		slog.String("key", obj.Key),
		slog.Int("size", len(data)),
	)
	account.Avatar = avatar
	return account.Scrubbed(), nil
}

// deleteAvatarObject はアバターのオブジェクトを削除する。センチネルは対象外。
// 失敗はログに残し、呼び出し元には返さない。
func (s *Service) deleteAvatarObject(ctx context.Context, accountID string, avatar model.Avatar) {
	if avatar.IsDefault() {
		return
	}
	if err := s.blobs.Delete(ctx, avatar.Key); err != nil {
		slog.Warn("アバター画像の削除に失敗しました",
			slog.String("account_id", accountID),
			slog.String("key", avatar.Key),
			slog.String("error", err.Error()),
		)
	}
}

// avatarType はContent-Typeを検証し、正規化したMIMEタイプと拡張子を返す。
// 拡張子はファイル名のものを優先し、画像形式と一致しない場合はMIMEタイプから決める。
func avatarType(contentType, filename string) (string, string, error) {
	mimeType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mimeType = strings.TrimSpace(contentType)
	}
	mimeType = strings.ToLower(mimeType)

	ext, ok := avatarExtensions[mimeType]
	if !ok {
		return "", "", model.NewBadInputError("ファイル形式はjpg, jpeg, pngのいずれかにしてください")
	}
	switch fileExt := strings.ToLower(path.Ext(filename)); fileExt {
	case ".jpg", ".jpeg", ".png":
		ext = fileExt
	}
	return mimeType, ext, nil
}
