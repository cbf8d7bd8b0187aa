package actions

import "sync"

// Cursor is the process-wide rotation counter used when option selection has
// no keyword signal. It advances on every fallback pick and is never reset
// mid-run, so fallback choices diversify across every run in the process
// lifetime rather than repeating the same index. Shared across parallel runs
// on purpose; pass a fresh Cursor to isolate instead.
type Cursor struct {
	mu sync.Mutex
	n  uint64
}

func NewCursor() *Cursor {
	return &Cursor{}
}

// Next returns the current position modulo n and advances the cursor.
func (c *Cursor) Next(n int) int {
	if n <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := int(c.n % uint64(n))
	c.n++
	return idx
}
