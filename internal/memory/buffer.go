package memory

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMaxThreads = 1024

// Buffer keeps the last size entries of each thread in process memory.
// Threads beyond the thread cap are evicted least recently used first.
type Buffer struct {
	mu      sync.Mutex
	size    int
	threads *lru.Cache[string, []Entry]
}

// NewBuffer creates a Buffer holding up to size entries per thread for
// at most 1024 threads.
func NewBuffer(size int) *Buffer {
	return NewBoundedBuffer(size, defaultMaxThreads)
}

// NewBoundedBuffer is NewBuffer with an explicit thread cap.
func NewBoundedBuffer(size, maxThreads int) *Buffer {
	if size <= 0 {
		size = 50
	}
	if maxThreads <= 0 {
		maxThreads = defaultMaxThreads
	}
	// lru.New only fails on a non-positive size.
	threads, _ := lru.New[string, []Entry](maxThreads)
	return &Buffer{size: size, threads: threads}
}

// Recall returns the newest limit entries of the thread, oldest first.
func (b *Buffer) Recall(_ context.Context, threadID, _ string, limit int) ([]Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	all, _ := b.threads.Get(threadID)
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]Entry(nil), all...), nil
}

// Remember appends entries, evicting the oldest beyond the buffer size.
func (b *Buffer) Remember(_ context.Context, threadID string, entries ...Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	all, _ := b.threads.Get(threadID)
	all = append([]Entry(nil), all...)
	for _, e := range entries {
		if e.At.IsZero() {
			e.At = time.Now()
		}
		all = append(all, e)
	}
	if len(all) > b.size {
		all = all[len(all)-b.size:]
	}
	b.threads.Add(threadID, all)
	return nil
}

// Threads reports how many threads are held.
func (b *Buffer) Threads() int { return b.threads.Len() }
