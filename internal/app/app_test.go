package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/hitoshi/tweetbox/internal/config"
	"github.com/hitoshi/tweetbox/internal/storage"
)

func TestInit_WithValidConfig_Succeeds(t *testing.T) {
	setTestEnv(t)
	t.Setenv("LOG_LEVEL", "warn")

	var buf bytes.Buffer
	cfg, err := Init(&buf, CommandServe)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg == nil {
		t.Fatal("expected non-nil config")
	}

	if cfg.DatabaseURL != testDatabaseURL {
		t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, testDatabaseURL)
	}

	// LOG_LEVEL=warn のためInfoは出力されない
	slog.Default().Info("suppressed")
	slog.Default().Warn("init test")

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected a single JSON log line, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "init test")
	}
	if entry["service"] != "tweetbox" {
		t.Errorf("service = %v, want tweetbox", entry["service"])
	}
	if entry["mode"] != "serve" {
		t.Errorf("mode = %v, want serve", entry["mode"])
	}
}

func TestInit_WithMissingConfig_ReturnsError(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")

	var buf bytes.Buffer
	cfg, err := Init(&buf, CommandServe)
	if err == nil {
		t.Fatal("expected error for missing required env vars, got nil")
	}
	if cfg != nil {
		t.Error("expected nil config on error")
	}
}

func TestNewBlobStore_WithoutBucketUsesMemory(t *testing.T) {
	cfg := &config.Config{BaseURL: "http://localhost:8080"}

	blobs, reader, err := newBlobStore(cfg)
	if err != nil {
		t.Fatalf("newBlobStore: %v", err)
	}
	mem, ok := blobs.(*storage.MemoryBlobStore)
	if !ok {
		t.Fatalf("blob store = %T, want *storage.MemoryBlobStore", blobs)
	}
	if reader == nil {
		t.Fatal("in-memory store should also be served as AvatarReader")
	}

	obj, err := mem.Upload(t.Context(), "avatar-1.png", "image/png", strings.NewReader("png"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if obj.URL != "http://localhost:8080/avatars/avatar-1.png" {
		t.Errorf("URL = %q", obj.URL)
	}
	if _, _, ok := reader.Open("avatar-1.png"); !ok {
		t.Error("uploaded avatar should be readable")
	}
}

func TestNewBlobStore_WithBucketUsesS3(t *testing.T) {
	cfg := &config.Config{AWSRegion: "us-east-1", AWSBucketName: "tweetbox-avatars"}

	blobs, reader, err := newBlobStore(cfg)
	if err != nil {
		t.Fatalf("newBlobStore: %v", err)
	}
	if _, ok := blobs.(*storage.S3BlobStore); !ok {
		t.Errorf("blob store = %T, want *storage.S3BlobStore", blobs)
	}
	if reader != nil {
		t.Error("S3 objects are served by S3, AvatarReader should be nil")
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	masked := maskDatabaseURL("postgres://user:secret@db:5432/tweetbox")
	if strings.Contains(masked, "secret") {
		t.Errorf("masked URL leaks password: %q", masked)
	}
	if got := maskDatabaseURL("short"); got != "***" {
		t.Errorf("maskDatabaseURL(short) = %q, want ***", got)
	}
}
