package model

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestExtractHashtags(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{"本文中のタグ", "hello #world and #test", []string{"world", "test"}},
		{"改行区切り", "#a\n#b\r\n#c", []string{"a", "b", "c"}},
		{"重複は保持", "#go #go", []string{"go", "go"}},
		{"大文字小文字はそのまま", "#Go #go", []string{"Go", "go"}},
		{"先頭の#のみ除去", "##double", []string{"#double"}},
		{"単語途中の#は対象外", "a#b c", []string{}},
		{"タグなし", "no tags here", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractHashtags(tt.body)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractHashtags(%q) = %#v, want %#v", tt.body, got, tt.want)
			}
		})
	}
}

func TestPost_ToggleLike_IsInvolution(t *testing.T) {
	p := &Post{ID: "p1"}

	if liked := p.ToggleLike("u2"); !liked {
		t.Fatal("expected first toggle to like")
	}
	if p.LikeCount != 1 || !reflect.DeepEqual(p.LikeList, []string{"u2"}) {
		t.Fatalf("after like: count=%d list=%v", p.LikeCount, p.LikeList)
	}

	if liked := p.ToggleLike("u2"); liked {
		t.Fatal("expected second toggle to unlike")
	}
	if p.LikeCount != 0 || len(p.LikeList) != 0 {
		t.Fatalf("after unlike: count=%d list=%v", p.LikeCount, p.LikeList)
	}
}

func TestPost_LikeAndDeslikeAreIndependent(t *testing.T) {
	p := &Post{ID: "p1"}
	p.ToggleLike("u1")
	p.ToggleDeslike("u1")

	if p.LikeCount != 1 || p.DeslikeCount != 1 {
		t.Errorf("like=%d deslike=%d, want 1 and 1", p.LikeCount, p.DeslikeCount)
	}
	p.ToggleDeslike("u1")
	if p.LikeCount != 1 || p.DeslikeCount != 0 {
		t.Errorf("like=%d deslike=%d, want 1 and 0", p.LikeCount, p.DeslikeCount)
	}
}

func TestPost_CountsMatchListsAfterManyToggles(t *testing.T) {
	p := &Post{ID: "p1"}
	users := []string{"a", "b", "c", "a", "d", "b", "a"}
	for _, u := range users {
		p.ToggleLike(u)
		p.ToggleDeslike(u)
	}
	if p.LikeCount != len(p.LikeList) {
		t.Errorf("LikeCount = %d, len(LikeList) = %d", p.LikeCount, len(p.LikeList))
	}
	if p.DeslikeCount != len(p.DeslikeList) {
		t.Errorf("DeslikeCount = %d, len(DeslikeList) = %d", p.DeslikeCount, len(p.DeslikeList))
	}
}

func TestAccount_FollowSetsKeepCounters(t *testing.T) {
	a := &Account{ID: "a"}

	if !a.AddFollowing("b") {
		t.Fatal("expected AddFollowing to succeed")
	}
	if a.AddFollowing("b") {
		t.Error("duplicate AddFollowing should be rejected")
	}
	if a.AddFollowing("a") {
		t.Error("self AddFollowing should be rejected")
	}
	if a.AddFollower("a") {
		t.Error("self AddFollower should be rejected")
	}
	a.AddFollower("c")

	if a.FollowingCount != 1 || a.FollowersCount != 1 {
		t.Fatalf("counts = (%d, %d), want (1, 1)", a.FollowingCount, a.FollowersCount)
	}

	if a.RemoveFollowing("zzz") {
		t.Error("removing an absent id should report false")
	}
	a.RemoveFollowing("b")
	a.RemoveFollower("c")
	if a.FollowingCount != 0 || a.FollowersCount != 0 {
		t.Errorf("counts = (%d, %d), want (0, 0)", a.FollowingCount, a.FollowersCount)
	}
}

func TestAccount_ScrubbedClearsPasswordAndCopiesSets(t *testing.T) {
	a := &Account{ID: "a", PasswordHash: "secret", Following: []string{"b"}}
	s := a.Scrubbed()

	if s.PasswordHash != "" {
		t.Error("expected password hash to be cleared")
	}
	if a.PasswordHash != "secret" {
		t.Error("original must not be modified")
	}
	s.Following[0] = "x"
	if a.Following[0] != "b" {
		t.Error("scrubbed copy must not share the following slice")
	}
}

func TestAccount_SnapshotIsPointInTime(t *testing.T) {
	a := &Account{ID: "a", Name: "Alice", Username: "alice", Avatar: DefaultAvatar()}
	snap := a.Snapshot()

	a.Name = "Renamed"
	if snap.Name != "Alice" {
		t.Errorf("snapshot name = %q, want %q", snap.Name, "Alice")
	}
}

func TestIsCode_UnwrapsChain(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewSelfReferenceError())
	if !IsCode(err, ErrCodeSelfReference) {
		t.Error("expected SELF_REFERENCE to be found through wrapping")
	}
	if IsCode(errors.New("plain"), ErrCodeSelfReference) {
		t.Error("plain errors carry no code")
	}
}

func TestCallerIdentity_Valid(t *testing.T) {
	var nilCaller *CallerIdentity
	if nilCaller.Valid() {
		t.Error("nil caller must be invalid")
	}
	if (&CallerIdentity{}).Valid() {
		t.Error("empty caller must be invalid")
	}
	if !(&CallerIdentity{AccountID: "a"}).Valid() {
		t.Error("caller with id must be valid")
	}
}
