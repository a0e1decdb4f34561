package models

import (
	"math"
	"sync"
	"time"
)

// Tracker records the progress of one download. It is owned by a single
// call; the storage handler reports into it while the caller reads.
// Progress is a ratio in [0,1].
type Tracker struct {
	mu       sync.Mutex
	progress float64
	chunks   [][]byte
}

// NewTracker returns a tracker at zero progress.
func NewTracker() *Tracker {
	return &Tracker{}
}

// SetRatio stores progress, clamped to [0,1].
func (t *Tracker) SetRatio(r float64) {
	if math.IsNaN(r) || r < 0 {
		r = 0
	}
	if r > 1 {
		r = 1
	}
	t.mu.Lock()
	t.progress = r
	t.mu.Unlock()
}

// Report stores progress as done/total bytes.
func (t *Tracker) Report(done, total int64) {
	if total <= 0 {
		t.SetRatio(1)
		return
	}
	t.SetRatio(float64(done) / float64(total))
}

// AddChunk appends a received chunk.
func (t *Tracker) AddChunk(b []byte) {
	t.mu.Lock()
	t.chunks = append(t.chunks, b)
	t.mu.Unlock()
}

// Progress returns the current ratio.
func (t *Tracker) Progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// Percent returns progress rounded to a whole percentage.
func (t *Tracker) Percent() int {
	return int(math.Round(t.Progress() * 100))
}

// Chunks returns the chunks received so far.
func (t *Tracker) Chunks() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.chunks))
	copy(out, t.chunks)
	return out
}

// CacheEntry describes one file held by the preview cache.
type CacheEntry struct {
	Key        string
	LocalPath  string
	Size       int64
	Pinned     bool
	LastAccess time.Time
}
