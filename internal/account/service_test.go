package account

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/tweetbox/internal/auth"
	"github.com/hitoshi/tweetbox/internal/graph"
	"github.com/hitoshi/tweetbox/internal/model"
	"github.com/hitoshi/tweetbox/internal/repository/repotest"
	"github.com/hitoshi/tweetbox/internal/security"
	"github.com/hitoshi/tweetbox/internal/storage"
)

// --- モック定義 ---

// mockGuard はURL検証を常に通し、指定のクライアントを返す。
type mockGuard struct {
	client      *http.Client
	validateErr error
}

func (m *mockGuard) NewSafeClient(time.Duration) *http.Client { return m.client }
func (m *mockGuard) ValidateURL(string) error                 { return m.validateErr }

type mockBlobStore struct {
	uploadFn func(ctx context.Context, key, contentType string, body io.Reader) (storage.Object, error)
	deleted  []string
}

func (m *mockBlobStore) Upload(ctx context.Context, key, contentType string, body io.Reader) (storage.Object, error) {
	if m.uploadFn != nil {
		return m.uploadFn(ctx, key, contentType, body)
	}
	return storage.Object{Key: key, URL: "https://cdn.example.com/" + key}, nil
}

func (m *mockBlobStore) Delete(_ context.Context, key string) error {
	m.deleted = append(m.deleted, key)
	return nil
}

// --- compile-time interface checks ---
var _ security.SSRFGuardService = (*mockGuard)(nil)
var _ storage.BlobStore = (*mockBlobStore)(nil)

type fixture struct {
	svc      *Service
	accounts *repotest.AccountRepo
	blobs    *storage.MemoryBlobStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	accounts := repotest.NewAccountRepo()
	blobs := storage.NewMemoryBlobStore("http://localhost:8080/avatars")
	svc := NewService(accounts, blobs, auth.Hasher{Cost: bcrypt.MinCost}, security.NewSSRFGuard(), Config{AvatarMaxSize: 16})
	return &fixture{svc: svc, accounts: accounts, blobs: blobs}
}

func (f *fixture) register(t *testing.T, username string) *model.Account {
	t.Helper()
	a, err := f.svc.Register(context.Background(), RegisterInput{
		Name:     "Name " + username,
		Email:    username + "@example.com",
		Username: username,
		Password: "password1",
	})
	if err != nil {
		t.Fatalf("register %s failed: %v", username, err)
	}
	return a
}

func callerOf(a *model.Account) *model.CallerIdentity {
	return &model.CallerIdentity{AccountID: a.ID, Username: a.Username}
}

func ptr[T any](v T) *T { return &v }

// --- テスト ---

func TestRegister_Defaults(t *testing.T) {
	f := newFixture(t)
	a := f.register(t, "alice")

	if a.PasswordHash != "" {
		t.Error("returned account must not carry the password hash")
	}
	stored := f.accounts.Get(a.ID)
	if stored.PasswordHash == "" || stored.PasswordHash == "password1" {
		t.Errorf("stored hash = %q, want bcrypt hash", stored.PasswordHash)
	}
	if !stored.IsActive || stored.Protected {
		t.Errorf("active=%v protected=%v, want active and public", stored.IsActive, stored.Protected)
	}
	if !stored.Avatar.IsDefault() {
		t.Errorf("avatar = %+v, want sentinel", stored.Avatar)
	}
	if stored.FollowersCount != 0 || stored.FollowingCount != 0 || len(stored.Followers) != 0 {
		t.Error("new account must have an empty graph")
	}
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)
	valid := RegisterInput{Name: "Alice", Email: "alice@example.com", Username: "alice", Password: "pw"}

	tests := []struct {
		name   string
		mutate func(in *RegisterInput)
	}{
		{"name too short", func(in *RegisterInput) { in.Name = "A" }},
		{"name too long", func(in *RegisterInput) { in.Name = strings.Repeat("a", 101) }},
		{"bad email", func(in *RegisterInput) { in.Email = "not-an-email" }},
		{"display-name email", func(in *RegisterInput) { in.Email = "Alice <alice@example.com>" }},
		{"username too short", func(in *RegisterInput) { in.Username = "ali" }},
		{"username with space", func(in *RegisterInput) { in.Username = "ali ce" }},
		{"empty password", func(in *RegisterInput) { in.Password = "" }},
		{"password over bcrypt limit", func(in *RegisterInput) { in.Password = strings.Repeat("あ", 30) }},
		{"bio too long", func(in *RegisterInput) { in.Bio = strings.Repeat("b", 256) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			_, err := f.svc.Register(context.Background(), in)
			if !model.IsCode(err, model.ErrCodeBadInput) {
				t.Errorf("err = %v, want BAD_INPUT", err)
			}
		})
	}
}

func TestRegister_Duplicate(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")

	_, err := f.svc.Register(context.Background(), RegisterInput{
		Name: "Other", Email: "alice@example.com", Username: "alice2", Password: "pw",
	})
	if !model.IsCode(err, model.ErrCodeConflict) {
		t.Errorf("duplicate email: err = %v, want CONFLICT", err)
	}

	_, err = f.svc.Register(context.Background(), RegisterInput{
		Name: "Other", Email: "other@example.com", Username: "alice", Password: "pw",
	})
	if !model.IsCode(err, model.ErrCodeConflict) {
		t.Errorf("duplicate username: err = %v, want CONFLICT", err)
	}
}

func TestGetAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.List(ctx); !model.IsCode(err, model.ErrCodeNotFound) {
		t.Errorf("empty list: err = %v, want NOT_FOUND", err)
	}
	if _, err := f.svc.Get(ctx, "missing"); !model.IsCode(err, model.ErrCodeNotFound) {
		t.Errorf("missing: err = %v, want NOT_FOUND", err)
	}

	alice := f.register(t, "alice")
	f.register(t, "bobby")

	got, err := f.svc.Get(ctx, alice.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Username != "alice" || got.PasswordHash != "" {
		t.Errorf("got = %+v", got)
	}

	all, err := f.svc.List(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 2 || all[0].Username != "alice" || all[1].Username != "bobby" {
		t.Errorf("list = %v", all)
	}
	for _, a := range all {
		if a.PasswordHash != "" {
			t.Error("list must scrub password hashes")
		}
	}
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")

	got, err := f.svc.UpdateProfile(context.Background(), callerOf(alice), alice.ID, UpdateProfileInput{
		Name:      ptr("Alice Liddell"),
		Bio:       ptr("hello"),
		Protected: ptr(true),
	}, "password1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "Alice Liddell" || got.Bio != "hello" || !got.Protected {
		t.Errorf("got = %+v", got)
	}
	if stored := f.accounts.Get(alice.ID); !stored.Protected {
		t.Error("protected flag was not persisted")
	}
}

func TestUpdateProfile_Rejections(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")
	bob := f.register(t, "bobby")
	ctx := context.Background()
	in := UpdateProfileInput{Name: ptr("New Name")}

	if _, err := f.svc.UpdateProfile(ctx, nil, alice.ID, in, "password1"); !model.IsCode(err, model.ErrCodeUnauthorized) {
		t.Errorf("nil caller: err = %v", err)
	}
	if _, err := f.svc.UpdateProfile(ctx, callerOf(bob), alice.ID, in, "password1"); !model.IsCode(err, model.ErrCodeUnauthorized) {
		t.Errorf("other account: err = %v", err)
	}
	if _, err := f.svc.UpdateProfile(ctx, callerOf(alice), alice.ID, in, "wrong"); !model.IsCode(err, model.ErrCodeUnauthorized) {
		t.Errorf("wrong password: err = %v", err)
	}
	if _, err := f.svc.UpdateProfile(ctx, callerOf(alice), alice.ID, UpdateProfileInput{Name: ptr("x")}, "password1"); !model.IsCode(err, model.ErrCodeBadInput) {
		t.Errorf("short name: err = %v", err)
	}
	if got := f.accounts.Get(alice.ID); got.Name != "Name alice" {
		t.Errorf("name changed to %q after rejected updates", got.Name)
	}
}

func TestUpdateProfile_KeepsFollowState(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")
	bob := f.register(t, "bobby")
	if _, err := graph.NewService(f.accounts, nil).Follow(context.Background(), callerOf(bob), alice.ID); err != nil {
		t.Fatalf("follow failed: %v", err)
	}

	if _, err := f.svc.UpdateProfile(context.Background(), callerOf(alice), alice.ID, UpdateProfileInput{Bio: ptr("x")}, "password1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := f.accounts.Get(alice.ID)
	if got.FollowersCount != 1 || !got.HasFollower(bob.ID) {
		t.Errorf("followers = %v (%d), want [bob]", got.Followers, got.FollowersCount)
	}
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")
	ctx := context.Background()

	if err := f.svc.ChangePassword(ctx, callerOf(alice), "wrong", "newpass"); !model.IsCode(err, model.ErrCodeUnauthorized) {
		t.Errorf("wrong current: err = %v", err)
	}
	if err := f.svc.ChangePassword(ctx, callerOf(alice), "password1", ""); !model.IsCode(err, model.ErrCodeBadInput) {
		t.Errorf("empty next: err = %v", err)
	}
	if err := f.svc.ChangePassword(ctx, callerOf(alice), "password1", "newpass"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hash := f.accounts.Get(alice.ID).PasswordHash
	if !auth.CheckPassword(hash, "newpass") || auth.CheckPassword(hash, "password1") {
		t.Error("password hash was not replaced")
	}
}

func TestUpdateAvatar_ReplacesPreviousObject(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")
	ctx := context.Background()

	first, err := f.svc.UpdateAvatar(ctx, callerOf(alice), "me.png", "image/png", strings.NewReader("png-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(first.Avatar.Key, "avatar-") || !strings.HasSuffix(first.Avatar.Key, ".png") {
		t.Errorf("key = %q", first.Avatar.Key)
	}
	if first.Avatar.URL != "http://localhost:8080/avatars/"+first.Avatar.Key {
		t.Errorf("url = %q", first.Avatar.URL)
	}

	second, err := f.svc.UpdateAvatar(ctx, callerOf(alice), "me.jpg", "image/jpeg", strings.NewReader("jpg-2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Avatar.Key == first.Avatar.Key {
		t.Error("each upload must use a fresh key")
	}
	if _, _, ok := f.blobs.Open(first.Avatar.Key); ok {
		t.Error("previous avatar object should be deleted")
	}
	if f.blobs.Len() != 1 {
		t.Errorf("blob count = %d, want 1", f.blobs.Len())
	}
	if stored := f.accounts.Get(alice.ID); stored.Avatar != second.Avatar {
		t.Errorf("stored avatar = %+v, want %+v", stored.Avatar, second.Avatar)
	}
}

func TestUpdateAvatar_SentinelIsNotDeleted(t *testing.T) {
	accounts := repotest.NewAccountRepo()
	blobs := &mockBlobStore{}
	svc := NewService(accounts, blobs, auth.Hasher{Cost: bcrypt.MinCost}, &mockGuard{}, Config{})
	accounts.Seed(&model.Account{ID: "a1", Username: "alice", Avatar: model.DefaultAvatar()})

	if _, err := svc.UpdateAvatar(context.Background(), &model.CallerIdentity{AccountID: "a1"}, "a.png", "image/png", strings.NewReader("x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(blobs.deleted) != 0 {
		t.Errorf("deleted = %v, sentinel must never be deleted", blobs.deleted)
	}
}

func TestUpdateAvatar_Rejections(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")
	ctx := context.Background()

	tests := []struct {
		name        string
		contentType string
		body        string
		code        string
	}{
		{"gif", "image/gif", "gif", model.ErrCodeBadInput},
		{"text", "text/plain", "hello", model.ErrCodeBadInput},
		{"too large", "image/png", strings.Repeat("x", 17), model.ErrCodeBadInput},
		{"empty", "image/png", "", model.ErrCodeBadInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.UpdateAvatar(ctx, callerOf(alice), "a", tt.contentType, strings.NewReader(tt.body))
			if !model.IsCode(err, tt.code) {
				t.Errorf("err = %v, want %s", err, tt.code)
			}
		})
	}
	if f.blobs.Len() != 0 {
		t.Errorf("blob count = %d, rejected uploads must not be stored", f.blobs.Len())
	}
}

func TestUpdateAvatar_UploadFailure(t *testing.T) {
	accounts := repotest.NewAccountRepo()
	accounts.Seed(&model.Account{ID: "a1", Avatar: model.Avatar{Key: "old.png", URL: "u"}})
	blobs := &mockBlobStore{
		uploadFn: func(context.Context, string, string, io.Reader) (storage.Object, error) {
			return storage.Object{}, errors.New("s3 unavailable")
		},
	}
	svc := NewService(accounts, blobs, auth.Hasher{Cost: bcrypt.MinCost}, &mockGuard{}, Config{})

	_, err := svc.UpdateAvatar(context.Background(), &model.CallerIdentity{AccountID: "a1"}, "a.png", "image/png", strings.NewReader("x"))
	if err == nil {
		t.Fatal("expected error")
	}
	if got := accounts.Get("a1").Avatar.Key; got != "old.png" {
		t.Errorf("avatar key = %q, want old.png kept", got)
	}
	if len(blobs.deleted) != 0 {
		t.Errorf("deleted = %v, previous object must survive a failed upload", blobs.deleted)
	}
}

func TestImportAvatarFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pics/cat.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	accounts := repotest.NewAccountRepo()
	accounts.Seed(&model.Account{ID: "a1", Avatar: model.DefaultAvatar()})
	blobs := storage.NewMemoryBlobStore("http://cdn")
	svc := NewService(accounts, blobs, auth.Hasher{Cost: bcrypt.MinCost}, &mockGuard{client: srv.Client()}, Config{})
	caller := &model.CallerIdentity{AccountID: "a1"}

	got, err := svc.ImportAvatarFromURL(context.Background(), caller, srv.URL+"/pics/cat.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r, contentType, ok := blobs.Open(got.Avatar.Key)
	if !ok {
		t.Fatal("imported object not stored")
	}
	data, _ := io.ReadAll(r)
	if !bytes.Equal(data, []byte("png-bytes")) || contentType != "image/png" {
		t.Errorf("stored %q (%s)", data, contentType)
	}

	if _, err := svc.ImportAvatarFromURL(context.Background(), caller, srv.URL+"/missing.png"); !model.IsCode(err, model.ErrCodeBadInput) {
		t.Errorf("404: err = %v, want BAD_INPUT", err)
	}
}

func TestImportAvatarFromURL_BlockedByGuard(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")

	_, err := f.svc.ImportAvatarFromURL(context.Background(), callerOf(alice), "http://169.254.169.254/latest/meta-data")
	if !model.IsCode(err, model.ErrCodeBadInput) {
		t.Errorf("err = %v, want BAD_INPUT", err)
	}
}

func TestDelete_RemovesFromFollowGraph(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")
	bob := f.register(t, "bobby")
	carol := f.register(t, "carol")
	ctx := context.Background()
	g := graph.NewService(f.accounts, nil)

	for _, pair := range [][2]*model.Account{{bob, alice}, {alice, carol}, {bob, carol}} {
		if _, err := g.Follow(ctx, callerOf(pair[0]), pair[1].ID); err != nil {
			t.Fatalf("follow failed: %v", err)
		}
	}
	withAvatar, err := f.svc.UpdateAvatar(ctx, callerOf(alice), "a.png", "image/png", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("avatar failed: %v", err)
	}

	if err := f.svc.Delete(ctx, callerOf(alice), alice.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.accounts.Get(alice.ID) != nil {
		t.Error("account still exists")
	}
	b := f.accounts.Get(bob.ID)
	if b.IsFollowing(alice.ID) || b.FollowingCount != 1 {
		t.Errorf("bob following = %v (%d), want [carol]", b.Following, b.FollowingCount)
	}
	c := f.accounts.Get(carol.ID)
	if c.HasFollower(alice.ID) || c.FollowersCount != 1 {
		t.Errorf("carol followers = %v (%d), want [bob]", c.Followers, c.FollowersCount)
	}
	if _, _, ok := f.blobs.Open(withAvatar.Avatar.Key); ok {
		t.Error("avatar object should be deleted with the account")
	}
}

func TestDelete_Rejections(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")
	bob := f.register(t, "bobby")
	ctx := context.Background()

	if err := f.svc.Delete(ctx, nil, alice.ID); !model.IsCode(err, model.ErrCodeUnauthorized) {
		t.Errorf("nil caller: err = %v", err)
	}
	if err := f.svc.Delete(ctx, callerOf(bob), alice.ID); !model.IsCode(err, model.ErrCodeUnauthorized) {
		t.Errorf("other account: err = %v", err)
	}
	if f.accounts.Get(alice.ID) == nil {
		t.Error("account deleted by a non-owner")
	}

	ghost := &model.CallerIdentity{AccountID: "ghost"}
	if err := f.svc.Delete(ctx, ghost, "ghost"); !model.IsCode(err, model.ErrCodeNotFound) {
		t.Errorf("missing: err = %v, want NOT_FOUND", err)
	}
}
