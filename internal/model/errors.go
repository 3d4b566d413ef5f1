// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// Codeは常に設定され、トランスポート層はCodeだけでステータスを決定できる。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, graph, post, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeSelfReference    = "SELF_REFERENCE"
	ErrCodeAlreadyFollowing = "ALREADY_FOLLOWING"
	ErrCodeNotFollowing     = "NOT_FOLLOWING"
	ErrCodeBadInput         = "BAD_INPUT"
	ErrCodeConflict         = "CONFLICT"
)

// IsCode はerrのチェーンに指定コードのAPIErrorが含まれるかを返す。
func IsCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewAccountNotFoundError はアカウント未検出エラーを生成する。
func NewAccountNotFoundError(accountID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定されたアカウントが見つかりません: %s", accountID),
		Category: "graph",
		Action:   "アカウントIDを確認してください。",
	}
}

// NewPostNotFoundError は投稿未検出エラーを生成する。
func NewPostNotFoundError(postID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定された投稿が見つかりません: %s", postID),
		Category: "post",
		Action:   "投稿IDを確認してください。",
	}
}

// NewEmptyResultError は検索・一覧の結果が0件だった場合のエラーを生成する。
func NewEmptyResultError(what string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%sが見つかりません。", what),
		Category: "post",
		Action:   "条件を変えて再度お試しください。",
	}
}

// NewUnauthorizedError は呼び出し元の認証情報がない場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidCredentialsError はログイン情報が一致しない場合のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認してください。",
	}
}

// NewForbiddenPostError は投稿の作成者以外が操作しようとした場合のエラーを生成する。
func NewForbiddenPostError(postID string) *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  fmt.Sprintf("この投稿はあなたのものではありません: %s", postID),
		Category: "post",
		Action:   "自分の投稿のみ削除できます。",
	}
}

// NewForbiddenAccountError は本人以外がアカウントを操作しようとした場合のエラーを生成する。
func NewForbiddenAccountError(accountID string) *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  fmt.Sprintf("このアカウントを操作する権限がありません: %s", accountID),
		Category: "auth",
		Action:   "自分のアカウントのみ変更できます。",
	}
}

// NewProtectedTimelineError は非公開アカウントのタイムラインを
// フォロワー以外が閲覧しようとした場合のエラーを生成する。
func NewProtectedTimelineError(accountID string) *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  fmt.Sprintf("このアカウントは非公開です: %s", accountID),
		Category: "graph",
		Action:   "フォローが承認されると閲覧できます。",
	}
}

// NewSelfReferenceError は自分自身をフォロー/フォロー解除しようとした場合のエラーを生成する。
func NewSelfReferenceError() *APIError {
	return &APIError{
		Code:     ErrCodeSelfReference,
		Message:  "自分自身をフォローすることはできません。",
		Category: "graph",
		Action:   "別のアカウントを指定してください。",
	}
}

// NewAlreadyFollowingError は既にフォロー済みの場合のエラーを生成する。
func NewAlreadyFollowingError(targetID string) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyFollowing,
		Message:  fmt.Sprintf("既にフォローしています: %s", targetID),
		Category: "graph",
		Action:   "フォロー一覧を確認してください。",
	}
}

// NewNotFollowingError はフォロー関係が存在しない場合のエラーを生成する。
func NewNotFollowingError(targetID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFollowing,
		Message:  fmt.Sprintf("フォローしていません: %s", targetID),
		Category: "graph",
		Action:   "フォロー一覧を確認してください。",
	}
}

// NewBadInputError は入力値が不正な場合のエラーを生成する。
func NewBadInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeBadInput,
		Message:  fmt.Sprintf("入力値が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewConflictError は一意制約違反のエラーを生成する。
// fieldには重複したカラム名（email, username）を指定する。
func NewConflictError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  fmt.Sprintf("'%s' は既に使用されています。", field),
		Category: "validation",
		Action:   "別の値を指定してください。",
	}
}
