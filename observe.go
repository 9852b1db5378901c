package leadpilot

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// listeners is a set of callbacks released through Subscription handles.
type listeners[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	fns    map[uint64]func(T)
	order  []uint64
}

func (l *listeners[T]) add(fn func(T)) *Subscription {
	l.mu.Lock()
	if l.fns == nil {
		l.fns = make(map[uint64]func(T))
	}
	l.nextID++
	id := l.nextID
	l.fns[id] = fn
	l.order = append(l.order, id)
	l.mu.Unlock()

	return &Subscription{cancel: func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
		for i, v := range l.order {
			if v == id {
				l.order = append(l.order[:i:i], l.order[i+1:]...)
				break
			}
		}
	}}
}

func (l *listeners[T]) emit(v T) {
	l.mu.RLock()
	fns := make([]func(T), 0, len(l.order))
	for _, id := range l.order {
		fns = append(fns, l.fns[id])
	}
	l.mu.RUnlock()
	for _, fn := range fns {
		fn(v)
	}
}

const detachedTimeout = 15 * time.Second

// background runs detached best-effort tasks. A task's error is observed only
// for logging; callers drop the outcome on purpose.
type background struct {
	log *zap.Logger
	wg  sync.WaitGroup
}

// Go starts fn detached from ctx's cancellation but keeping its values.
func (b *background) Go(ctx context.Context, name string, fn func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, detachedTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			b.log.Warn("background task failed", zap.String("task", name), zap.Error(err))
		}
	}()
}

// Wait blocks until every started task has returned.
func (b *background) Wait() {
	b.wg.Wait()
}
