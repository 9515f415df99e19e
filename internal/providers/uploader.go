package providers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Uploader stores exported artifacts and returns a URL for them.
type Uploader interface {
	UploadBytes(ctx context.Context, objectPath string, contentType string, data []byte) (string, error)
}

type localUploader struct {
	rootDir string
}

// NewLocalUploader writes artifacts below rootDir and answers file:// URLs.
func NewLocalUploader(rootDir string) Uploader {
	return &localUploader{rootDir: rootDir}
}

func (u *localUploader) UploadBytes(ctx context.Context, objectPath string, contentType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean := filepath.Clean("/" + filepath.FromSlash(objectPath))
	if clean == string(filepath.Separator) {
		return "", fmt.Errorf("upload: empty object path")
	}
	dst := filepath.Join(u.rootDir, strings.TrimPrefix(clean, string(filepath.Separator)))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("upload mkdir: %w", err)
	}
	// Write then rename so readers never see a partial artifact.
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("upload create: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("upload write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("upload close: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("upload rename: %w", err)
	}
	abs, _ := filepath.Abs(dst)
	return "file://" + abs, nil
}
