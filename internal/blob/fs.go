package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"
)

// FSStore 将对象保存在本地目录。
type FSStore struct {
	*Signer
	root string
}

func NewFSStore(root string, signer *Signer) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FSStore{Signer: signer, root: root}, nil
}

// resolve 把对象路径限制在 root 之内。
func (s *FSStore) resolve(p string) string {
	return filepath.Join(s.root, filepath.FromSlash(path.Clean("/"+p)))
}

// Put 先写临时文件再重命名，读者不会看到半个文件。
func (s *FSStore) Put(ctx context.Context, p string, r io.Reader, _ string) error {
	full := s.resolve(p)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write blob %s: %w", p, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close blob %s: %w", p, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return fmt.Errorf("commit blob %s: %w", p, err)
	}
	return nil
}

func (s *FSStore) Get(_ context.Context, p string) ([]byte, error) {
	data, err := os.ReadFile(s.resolve(p))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", p, err)
	}
	return data, nil
}

// Delete 删除对象，不存在时视为成功。
func (s *FSStore) Delete(_ context.Context, p string) error {
	err := os.Remove(s.resolve(p))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blob %s: %w", p, err)
	}
	return nil
}

func (s *FSStore) SignedURL(ctx context.Context, p string, ttl time.Duration) (string, error) {
	if _, err := os.Stat(s.resolve(p)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("stat blob %s: %w", p, err)
	}
	return s.Sign(p, ttl), nil
}

func (s *FSStore) Close() error { return nil }
