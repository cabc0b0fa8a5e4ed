package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/timshannon/badgerhold/v4"
)

// object 是 badger 中保存的对象。
type object struct {
	Path        string
	ContentType string
	Data        []byte
	UpdatedAt   time.Time
}

// BadgerStore 将对象保存在嵌入式 badger 库中，适合单机部署。
type BadgerStore struct {
	*Signer
	store *badgerhold.Store
}

func NewBadgerStore(dir string, signer *Signer) (*BadgerStore, error) {
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{Signer: signer, store: store}, nil
}

func (s *BadgerStore) Put(ctx context.Context, p string, r io.Reader, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read blob %s: %w", p, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	obj := object{Path: p, ContentType: contentType, Data: data, UpdatedAt: time.Now()}
	if err := s.store.Upsert(p, &obj); err != nil {
		return fmt.Errorf("put blob %s: %w", p, err)
	}
	return nil
}

func (s *BadgerStore) Get(_ context.Context, p string) ([]byte, error) {
	var obj object
	if err := s.store.Get(p, &obj); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get blob %s: %w", p, err)
	}
	return obj.Data, nil
}

func (s *BadgerStore) Delete(_ context.Context, p string) error {
	if err := s.store.Delete(p, &object{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("delete blob %s: %w", p, err)
	}
	return nil
}

func (s *BadgerStore) SignedURL(ctx context.Context, p string, ttl time.Duration) (string, error) {
	var obj object
	if err := s.store.Get(p, &obj); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get blob %s: %w", p, err)
	}
	return s.Sign(p, ttl), nil
}

func (s *BadgerStore) Close() error {
	return s.store.Close()
}
