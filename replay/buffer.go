package replay

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
)

type BufferUnderflowError struct {
	Have int
	Need int
}

func (e *BufferUnderflowError) Error() string {
	return fmt.Sprintf("replay buffer underflow: have %d entries, need %d", e.Have, e.Need)
}

// Buffer is a fixed-capacity FIFO of training entries. Adding to a full
// buffer evicts the oldest entry.
type Buffer struct {
	mu       sync.Mutex
	entries  []Entry
	next     int
	size     int
	total    int64
	minReady int
	// ready is closed and replaced whenever entries are added.
	ready chan struct{}
}

// New returns a buffer holding at most capacity entries. Sample blocks until
// at least minEntries are present.
func New(capacity, minEntries int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	if minEntries < 1 {
		minEntries = 1
	}
	if minEntries > capacity {
		minEntries = capacity
	}
	return &Buffer{
		entries:  make([]Entry, capacity),
		minReady: minEntries,
		ready:    make(chan struct{}),
	}
}

func (b *Buffer) Capacity() int { return len(b.entries) }

// Len is the number of entries currently held.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Total is the number of entries ever added.
func (b *Buffer) Total() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

func (b *Buffer) Add(entries ...Entry) {
	if len(entries) == 0 {
		return
	}
	b.mu.Lock()
	for _, e := range entries {
		b.entries[b.next] = e
		b.next = (b.next + 1) % len(b.entries)
		if b.size < len(b.entries) {
			b.size++
		}
	}
	b.total += int64(len(entries))
	close(b.ready)
	b.ready = make(chan struct{})
	b.mu.Unlock()
}

// TrySample draws n entries uniformly with replacement, or fails with a
// *BufferUnderflowError when fewer than the minimum are present.
func (b *Buffer) TrySample(n int, rng *rand.Rand) ([]Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size < b.minReady {
		return nil, &BufferUnderflowError{Have: b.size, Need: b.minReady}
	}
	return b.sampleLocked(n, rng), nil
}

// Sample is TrySample that waits for enough entries instead of failing.
func (b *Buffer) Sample(ctx context.Context, n int, rng *rand.Rand) ([]Entry, error) {
	for {
		b.mu.Lock()
		if b.size >= b.minReady {
			out := b.sampleLocked(n, rng)
			b.mu.Unlock()
			return out, nil
		}
		wait := b.ready
		b.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (b *Buffer) sampleLocked(n int, rng *rand.Rand) []Entry {
	out := make([]Entry, n)
	for i := range out {
		out[i] = b.entries[b.index(rng.Intn(b.size))]
	}
	return out
}

// index maps position i (0 = oldest) to a slot.
func (b *Buffer) index(i int) int {
	start := b.next - b.size
	if start < 0 {
		start += len(b.entries)
	}
	return (start + i) % len(b.entries)
}

// Snapshot copies the held entries, oldest first.
func (b *Buffer) Snapshot() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, b.size)
	for i := range out {
		out[i] = b.entries[b.index(i)]
	}
	return out
}
