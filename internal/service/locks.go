package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloo-solutions/docpipe/internal/domain"
)

// SharedLocker claims a document across every process that shares the
// database. release must be called exactly once when ok is true.
type SharedLocker interface {
	TryAcquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

// DocumentLocks serializes processing per document id. A second attempt on a
// held id is rejected rather than queued. The in-process map answers first;
// the shared locker, when set, extends the guarantee to other replicas.
type DocumentLocks struct {
	mu     sync.Mutex
	held   map[string]struct{}
	shared SharedLocker
}

func NewDocumentLocks() *DocumentLocks {
	return &DocumentLocks{held: make(map[string]struct{})}
}

// NewSharedDocumentLocks returns locks backed by shared.
func NewSharedDocumentLocks(shared SharedLocker) *DocumentLocks {
	l := NewDocumentLocks()
	l.shared = shared
	return l
}

// TryLock reports whether the caller now holds id within this process.
func (l *DocumentLocks) TryLock(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[id]; busy {
		return false
	}
	l.held[id] = struct{}{}
	return true
}

func (l *DocumentLocks) Unlock(id string) {
	l.mu.Lock()
	delete(l.held, id)
	l.mu.Unlock()
}

// Acquire claims id locally and then through the shared locker. It returns
// domain.ErrDocumentBusy when either claim is already held.
func (l *DocumentLocks) Acquire(ctx context.Context, id string) (func(), error) {
	if !l.TryLock(id) {
		return nil, domain.ErrDocumentBusy
	}
	if l.shared == nil {
		return func() { l.Unlock(id) }, nil
	}

	release, ok, err := l.shared.TryAcquire(ctx, "document:"+id)
	if err != nil {
		l.Unlock(id)
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, fmt.Sprintf("failed to lock document %s", id), err)
	}
	if !ok {
		l.Unlock(id)
		return nil, domain.ErrDocumentBusy
	}
	return func() {
		release()
		l.Unlock(id)
	}, nil
}
