package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/eleven-am/gantry/internal/domain"
	"github.com/eleven-am/gantry/internal/ports"
)

const fileScheme = "file://"

// FileStorage stores content under dir/<fp[:2]>/<fp>, so identical content is
// written once.
type FileStorage struct {
	dir string
}

func NewFileStorage(dir string) (*FileStorage, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(abs, ".tmp"), 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &FileStorage{dir: abs}, nil
}

func (s *FileStorage) Store(ctx context.Context, name string, r io.Reader) (ports.StoredObject, error) {
	tmp, err := os.CreateTemp(filepath.Join(s.dir, ".tmp"), "upload-*")
	if err != nil {
		return ports.StoredObject{}, domain.NewStorageError("store", name, err)
	}
	defer os.Remove(tmp.Name())

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hash), &ctxReader{ctx: ctx, r: r})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return ports.StoredObject{}, domain.NewStorageError("store", name, err)
	}

	fingerprint := hex.EncodeToString(hash.Sum(nil))
	target := s.pathFor(fingerprint)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return ports.StoredObject{}, domain.NewStorageError("store", name, err)
	}
	if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
		if err := os.Rename(tmp.Name(), target); err != nil {
			return ports.StoredObject{}, domain.NewStorageError("store", name, err)
		}
	}

	return ports.StoredObject{
		Location:    fileScheme + target,
		Fingerprint: fingerprint,
		Size:        size,
	}, nil
}

func (s *FileStorage) Open(_ context.Context, location string) (io.ReadCloser, error) {
	path, err := s.resolve(location)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.NewStorageError("open", location, domain.ErrNotFound)
	}
	if err != nil {
		return nil, domain.NewStorageError("open", location, err)
	}
	return f, nil
}

func (s *FileStorage) Delete(_ context.Context, location string) error {
	path, err := s.resolve(location)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return domain.NewStorageError("delete", location, err)
	}
	return nil
}

func (s *FileStorage) pathFor(fingerprint string) string {
	return filepath.Join(s.dir, fingerprint[:2], fingerprint)
}

func (s *FileStorage) resolve(location string) (string, error) {
	if !strings.HasPrefix(location, fileScheme) {
		return "", domain.NewStorageError("resolve", location, domain.ErrInvalidInput)
	}
	path := filepath.Clean(strings.TrimPrefix(location, fileScheme))
	if !strings.HasPrefix(path, s.dir+string(filepath.Separator)) {
		return "", domain.NewStorageError("resolve", location, domain.ErrInvalidInput)
	}
	return path, nil
}

// ctxReader stops a copy once ctx is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
