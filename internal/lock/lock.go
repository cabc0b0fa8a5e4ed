package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLocked 表示锁已被其他调用方持有。
var ErrLocked = errors.New("lock held")

// Locker 为同一任务的推进提供互斥，Acquire 成功后返回释放函数。
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// MemoryLocker 进程内锁，单实例部署时使用。
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.held[key]; ok && now.Before(exp) {
		return nil, ErrLocked
	}
	expires := now.Add(ttl)
	m.held[key] = expires

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			// 过期后可能已被他人重新获取，只释放自己的那一把。
			if m.held[key].Equal(expires) {
				delete(m.held, key)
			}
		})
	}, nil
}
