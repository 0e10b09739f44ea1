// Package lock 提供按组织串行化的互斥锁
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrLockTimeout = errors.New("acquire lock timeout")

// Locker 以 key 为粒度的互斥锁，不同 key 之间互不阻塞
type Locker interface {
	// Lock 阻塞直到获得锁或 ctx 结束，返回的 unlock 只能调用一次
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// OrganizationKey 组织账本锁的 key
func OrganizationKey(organizationID int64) string {
	return fmt.Sprintf("org:%d", organizationID)
}

type keyedSlot struct {
	ch   chan struct{}
	refs int
}

// LocalLocker 进程内按 key 互斥，无全局锁
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*keyedSlot
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*keyedSlot)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &keyedSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, slot)
		return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			l.release(key, slot)
		})
	}, nil
}

func (l *LocalLocker) release(key string, slot *keyedSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}

// size 当前持有或等待中的 key 数量
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
