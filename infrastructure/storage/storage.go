// Package storage persists inbound and outbound media and exposes it at
// stable public URLs served from the media path.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ObjectStorage stores media blobs and returns both the local path and
// the public URL the UI embeds.
type ObjectStorage interface {
	Save(ctx context.Context, kind, ext string, data []byte) (localPath, publicURL string, err error)
	Open(name string) (string, error)
	Remove(name string) error
}

// LocalStorage writes blobs under a media directory on disk.
type LocalStorage struct {
	dir     string
	baseURL string
}

func NewLocalStorage(dir, publicBaseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media dir %s: %w", dir, err)
	}
	return &LocalStorage{
		dir:     dir,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

// Save writes the blob as <kind>_<ts>_<rand>.<ext> and returns its local
// path and public URL.
func (s *LocalStorage) Save(_ context.Context, kind, ext string, data []byte) (string, string, error) {
	ext = strings.TrimPrefix(ext, ".")
	name := fmt.Sprintf("%s_%s_%s", kind, time.Now().UTC().Format("20060102150405"), uuid.NewString()[:8])
	if ext != "" {
		name += "." + ext
	}
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write media file: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"file": name,
		"size": len(data),
	}).Debug("[MEDIA] stored blob")
	return path, s.baseURL + "/media/" + name, nil
}

// Open resolves a public file name back to its on-disk path, rejecting
// traversal outside the media dir.
func (s *LocalStorage) Open(name string) (string, error) {
	clean := filepath.Base(name)
	if clean != name || clean == "." || clean == ".." {
		return "", fmt.Errorf("invalid media name: %s", name)
	}
	path := filepath.Join(s.dir, clean)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("media %s not found: %w", clean, err)
	}
	return path, nil
}

func (s *LocalStorage) Remove(name string) error {
	path, err := s.Open(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// ExtForContentType maps a MIME type to the file extension used on disk.
func ExtForContentType(contentType string) string {
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	switch strings.TrimSpace(contentType) {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "audio/ogg", "audio/opus":
		return "ogg"
	case "audio/mpeg":
		return "mp3"
	case "audio/mp4", "audio/m4a":
		return "m4a"
	case "audio/amr":
		return "amr"
	case "video/mp4":
		return "mp4"
	case "video/3gpp":
		return "3gp"
	case "application/pdf":
		return "pdf"
	default:
		if i := strings.LastIndex(contentType, "/"); i >= 0 && i < len(contentType)-1 {
			return contentType[i+1:]
		}
		return "bin"
	}
}
