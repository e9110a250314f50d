package pipe

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics tracks resource activity. Counters are updated atomically
// on every operation; they are always collected.
type Statistics struct {
	reads        int64
	writes       int64
	bytesRead    int64
	bytesWritten int64
	wouldBlocks  int64
	interrupts   int64
	broadcasts   int64
	notifies     int64
	resizes      int64
	clears       int64

	mu        sync.RWMutex
	startTime time.Time
	fill      int64
	maxFill   int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

// Read records a read of n bytes.
func (s *Statistics) Read(n int) {
	atomic.AddInt64(&s.reads, 1)
	atomic.AddInt64(&s.bytesRead, int64(n))
}

// Write records a write of n bytes.
func (s *Statistics) Write(n int) {
	atomic.AddInt64(&s.writes, 1)
	atomic.AddInt64(&s.bytesWritten, int64(n))
}

// WouldBlock records a non-blocking operation that could not proceed.
func (s *Statistics) WouldBlock() {
	atomic.AddInt64(&s.wouldBlocks, 1)
}

// Interrupt records a blocking wait cancelled by its context.
func (s *Statistics) Interrupt() {
	atomic.AddInt64(&s.interrupts, 1)
}

// Broadcast records a wakeup broadcast to blocked callers.
func (s *Statistics) Broadcast() {
	atomic.AddInt64(&s.broadcasts, 1)
}

// Notify records an edge-triggered event fan-out.
func (s *Statistics) Notify() {
	atomic.AddInt64(&s.notifies, 1)
}

// Resize records a capacity change.
func (s *Statistics) Resize() {
	atomic.AddInt64(&s.resizes, 1)
}

// Clear records a buffer truncation.
func (s *Statistics) Clear() {
	atomic.AddInt64(&s.clears, 1)
}

// UpdateFill records the current fill level.
func (s *Statistics) UpdateFill(fill int64) {
	s.mu.Lock()
	s.fill = fill
	if fill > s.maxFill {
		s.maxFill = fill
	}
	s.mu.Unlock()
}

// Reads returns the total number of completed reads.
func (s *Statistics) Reads() int64 { return atomic.LoadInt64(&s.reads) }

// Writes returns the total number of completed write chunks.
func (s *Statistics) Writes() int64 { return atomic.LoadInt64(&s.writes) }

// BytesRead returns the total bytes drained.
func (s *Statistics) BytesRead() int64 { return atomic.LoadInt64(&s.bytesRead) }

// BytesWritten returns the total bytes appended.
func (s *Statistics) BytesWritten() int64 { return atomic.LoadInt64(&s.bytesWritten) }

// WouldBlocks returns the total non-blocking rejections.
func (s *Statistics) WouldBlocks() int64 { return atomic.LoadInt64(&s.wouldBlocks) }

// Interrupts returns the total cancelled waits.
func (s *Statistics) Interrupts() int64 { return atomic.LoadInt64(&s.interrupts) }

// Broadcasts returns the total wakeup broadcasts.
func (s *Statistics) Broadcasts() int64 { return atomic.LoadInt64(&s.broadcasts) }

// Notifies returns the total edge-triggered fan-outs.
func (s *Statistics) Notifies() int64 { return atomic.LoadInt64(&s.notifies) }

// Resizes returns the total capacity changes.
func (s *Statistics) Resizes() int64 { return atomic.LoadInt64(&s.resizes) }

// Clears returns the total buffer truncations.
func (s *Statistics) Clears() int64 { return atomic.LoadInt64(&s.clears) }

// Fill returns the current fill level.
func (s *Statistics) Fill() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fill
}

// MaxFill returns the highest fill level observed.
func (s *Statistics) MaxFill() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxFill
}

// Uptime returns how long the resource has existed.
func (s *Statistics) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startTime)
}

// Summary is a point-in-time snapshot of all statistics.
type Summary struct {
	Reads        int64         `json:"reads"`
	Writes       int64         `json:"writes"`
	BytesRead    int64         `json:"bytes_read"`
	BytesWritten int64         `json:"bytes_written"`
	WouldBlocks  int64         `json:"would_blocks"`
	Interrupts   int64         `json:"interrupts"`
	Broadcasts   int64         `json:"broadcasts"`
	Notifies     int64         `json:"notifies"`
	Resizes      int64         `json:"resizes"`
	Clears       int64         `json:"clears"`
	Fill         int64         `json:"fill"`
	MaxFill      int64         `json:"max_fill"`
	Uptime       time.Duration `json:"uptime"`
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() Summary {
	return Summary{
		Reads:        s.Reads(),
		Writes:       s.Writes(),
		BytesRead:    s.BytesRead(),
		BytesWritten: s.BytesWritten(),
		WouldBlocks:  s.WouldBlocks(),
		Interrupts:   s.Interrupts(),
		Broadcasts:   s.Broadcasts(),
		Notifies:     s.Notifies(),
		Resizes:      s.Resizes(),
		Clears:       s.Clears(),
		Fill:         s.Fill(),
		MaxFill:      s.MaxFill(),
		Uptime:       s.Uptime(),
	}
}
