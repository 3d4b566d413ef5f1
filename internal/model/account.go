// Package model はドメインモデルを定義する。
package model

import (
	"slices"
	"time"
)

// DefaultAvatarKey はアバター未設定時に使用するセンチネルのキー。
const DefaultAvatarKey = "unknown.png"

// Avatar はBlobStoreに保存されたアバター画像の参照（キーとURLの組）。
type Avatar struct {
	Key string
	URL string
}

// DefaultAvatar はセンチネルのアバター参照を返す。
func DefaultAvatar() Avatar {
	return Avatar{Key: DefaultAvatarKey, URL: DefaultAvatarKey}
}

// IsDefault はセンチネルのアバターかどうかを返す。
func (a Avatar) IsDefault() bool {
	return a.Key == "" || a.Key == DefaultAvatarKey
}

// Account はサービス利用アカウントを表す。
//
// FollowersCount == len(Followers)、FollowingCount == len(Following) を常に満たす。
// フォロー関係の変更は必ず下記のメソッド経由で行い、集合とカウンタを同時に更新する。
type Account struct {
	ID             string
	Email          string
	Username       string
	Name           string
	PasswordHash   string
	Bio            string
	Birthday       *time.Time
	Protected      bool
	IsActive       bool
	Avatar         Avatar
	Followers      []string
	FollowersCount int
	Following      []string
	FollowingCount int
	StatusesCount  int
	FavoritesCount int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsFollowing はこのアカウントがtargetIDをフォローしているかを返す。
func (a *Account) IsFollowing(targetID string) bool {
	return slices.Contains(a.Following, targetID)
}

// HasFollower はfollowerIDがこのアカウントのフォロワーかを返す。
func (a *Account) HasFollower(followerID string) bool {
	return slices.Contains(a.Followers, followerID)
}

// AddFollowing はフォロー先を追加する。既に含まれている場合や自分自身の場合はfalseを返す。
func (a *Account) AddFollowing(targetID string) bool {
	if targetID == a.ID || a.IsFollowing(targetID) {
		return false
	}
	a.Following = append(a.Following, targetID)
	a.FollowingCount = len(a.Following)
	return true
}

// RemoveFollowing はフォロー先を削除する。含まれていない場合はfalseを返す。
func (a *Account) RemoveFollowing(targetID string) bool {
	idx := slices.Index(a.Following, targetID)
	if idx < 0 {
		return false
	}
	a.Following = slices.Delete(a.Following, idx, idx+1)
	a.FollowingCount = len(a.Following)
	return true
}

// AddFollower はフォロワーを追加する。既に含まれている場合や自分自身の場合はfalseを返す。
func (a *Account) AddFollower(followerID string) bool {
	if followerID == a.ID || a.HasFollower(followerID) {
		return false
	}
	a.Followers = append(a.Followers, followerID)
	a.FollowersCount = len(a.Followers)
	return true
}

// RemoveFollower はフォロワーを削除する。含まれていない場合はfalseを返す。
func (a *Account) RemoveFollower(followerID string) bool {
	idx := slices.Index(a.Followers, followerID)
	if idx < 0 {
		return false
	}
	a.Followers = slices.Delete(a.Followers, idx, idx+1)
	a.FollowersCount = len(a.Followers)
	return true
}

// Scrubbed はパスワードハッシュを除去したコピーを返す。
// 呼び出し側へ返すアカウントは必ずこれを通す。
func (a *Account) Scrubbed() *Account {
	cp := *a
	cp.PasswordHash = ""
	cp.Followers = slices.Clone(a.Followers)
	cp.Following = slices.Clone(a.Following)
	return &cp
}

// Snapshot はこの時点のアカウントの公開情報をAuthorSnapshotとして複製する。
func (a *Account) Snapshot() AuthorSnapshot {
	return AuthorSnapshot{
		ID:        a.ID,
		Name:      a.Name,
		Username:  a.Username,
		Protected: a.Protected,
		Avatar:    a.Avatar,
	}
}

// AuthorSnapshot は投稿に埋め込まれる作成者情報のスナップショット。
// 作成時点のコピーであり、元アカウントの変更は反映されない。
type AuthorSnapshot struct {
	ID        string
	Name      string
	Username  string
	Protected bool
	Avatar    Avatar
}

// CallerIdentity は認証済みの呼び出し元を表す。
// 認可が必要な操作には必ず引数として明示的に渡す。
type CallerIdentity struct {
	AccountID string
	Username  string
}

// Valid は呼び出し元が特定できているかを返す。nilレシーバでも安全。
func (c *CallerIdentity) Valid() bool {
	return c != nil && c.AccountID != ""
}
