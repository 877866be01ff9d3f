// Package assets reads the image files attached to problems and
// explanations. It never writes; uploads are handled elsewhere.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/studyhub/backend/internal/config"
	"github.com/studyhub/backend/internal/llm"
	"github.com/studyhub/backend/internal/logger"
)

type Reader interface {
	Read(ctx context.Context, ref string) ([]byte, error)
}

func New(cfg config.StorageConfig) (Reader, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalReader(cfg.LocalPath), nil
	case "minio":
		return NewMinioReader(cfg)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// ── Local filesystem ────────────────────────────────────

type LocalReader struct {
	root string
}

func NewLocalReader(root string) *LocalReader {
	return &LocalReader{root: root}
}

// Read opens ref relative to the root; refs that would escape it fail.
func (r *LocalReader) Read(ctx context.Context, ref string) ([]byte, error) {
	root, err := os.OpenRoot(r.root)
	if err != nil {
		return nil, fmt.Errorf("open storage root: %w", err)
	}
	defer root.Close()

	f, err := root.Open(filepath.FromSlash(strings.TrimPrefix(ref, "/")))
	if err != nil {
		return nil, fmt.Errorf("open asset %q: %w", ref, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

// ── MinIO ───────────────────────────────────────────────

type MinioReader struct {
	client *minio.Client
	bucket string
}

func NewMinioReader(cfg config.StorageConfig) (*MinioReader, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinioReader{client: client, bucket: cfg.MinioBucket}, nil
}

func (r *MinioReader) Read(ctx context.Context, ref string) ([]byte, error) {
	obj, err := r.client.GetObject(ctx, r.bucket, strings.TrimPrefix(ref, "/"), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %q: %w", ref, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %q: %w", ref, err)
	}
	return data, nil
}

// ── Image loading ───────────────────────────────────────

var ErrNotImage = errors.New("not an image")

var extensionTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// MediaType sniffs the content and falls back to the file extension.
func MediaType(ref string, data []byte) (string, error) {
	if mt := mimetype.Detect(data); strings.HasPrefix(mt.String(), "image/") {
		return mt.String(), nil
	}
	if mt, ok := extensionTypes[strings.ToLower(path.Ext(ref))]; ok {
		return mt, nil
	}
	return "", ErrNotImage
}

// LoadImages reads up to limit refs in order. Missing or non-image files are
// skipped with a warning so one bad attachment never blocks a completion.
func LoadImages(ctx context.Context, r Reader, refs []string, limit int, log *logger.Logger) []llm.Image {
	if r == nil {
		return nil
	}
	var images []llm.Image
	for _, ref := range refs {
		if len(images) >= limit {
			break
		}
		data, err := r.Read(ctx, ref)
		if err != nil {
			log.Warn("skipping unreadable image", "ref", ref, "error", err)
			continue
		}
		mt, err := MediaType(ref, data)
		if err != nil {
			log.Warn("skipping attachment", "ref", ref, "error", err)
			continue
		}
		images = append(images, llm.Image{MediaType: mt, Data: data})
	}
	return images
}
