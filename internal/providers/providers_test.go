package providers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestLocalUploaderUploadBytes(t *testing.T) {
	tmpDir := t.TempDir()
	uploader := NewLocalUploader(tmpDir)

	url, err := uploader.UploadBytes(context.Background(), "strategies/alice/s1.ts", "text/typescript", []byte("export const x = 1;"))
	if err != nil {
		t.Fatalf("UploadBytes failed: %v", err)
	}
	if !strings.HasPrefix(url, "file://") {
		t.Fatalf("unexpected url %q", url)
	}

	content, err := os.ReadFile(filepath.Join(tmpDir, "strategies", "alice", "s1.ts"))
	if err != nil {
		t.Fatalf("Failed to read uploaded file: %v", err)
	}
	if string(content) != "export const x = 1;" {
		t.Errorf("unexpected content %q", content)
	}
}

func TestLocalUploaderOverwrites(t *testing.T) {
	tmpDir := t.TempDir()
	uploader := NewLocalUploader(tmpDir)
	ctx := context.Background()

	for _, body := range []string{"v1", "v2"} {
		if _, err := uploader.UploadBytes(ctx, "a/b.ts", "text/plain", []byte(body)); err != nil {
			t.Fatalf("UploadBytes failed: %v", err)
		}
	}
	content, _ := os.ReadFile(filepath.Join(tmpDir, "a", "b.ts"))
	if string(content) != "v2" {
		t.Fatalf("expected latest content, got %q", content)
	}
	entries, _ := os.ReadDir(filepath.Join(tmpDir, "a"))
	if len(entries) != 1 {
		t.Fatalf("temporary files left behind: %d entries", len(entries))
	}
}

func TestLocalUploaderStaysBelowRoot(t *testing.T) {
	tmpDir := t.TempDir()
	root := filepath.Join(tmpDir, "root")
	uploader := NewLocalUploader(root)

	if _, err := uploader.UploadBytes(context.Background(), "../../escape.ts", "text/plain", []byte("x")); err != nil {
		t.Fatalf("UploadBytes failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "escape.ts")); !os.IsNotExist(err) {
		t.Fatal("upload escaped the root directory")
	}
	if _, err := os.Stat(filepath.Join(root, "escape.ts")); err != nil {
		t.Fatalf("expected file under root: %v", err)
	}
	if _, err := uploader.UploadBytes(context.Background(), "..", "text/plain", []byte("x")); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestNewRedisProvider(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewRedisProvider(mr.Addr(), "", 0)
	defer client.Close()

	if err := CheckRedis(context.Background(), client, time.Second); err != nil {
		t.Fatalf("check: %v", err)
	}

	mr.Close()
	err := CheckRedis(context.Background(), client, 200*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), mr.Addr()) {
		t.Fatalf("expected error naming the address, got %v", err)
	}
}
