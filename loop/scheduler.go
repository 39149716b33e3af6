package loop

import (
	"context"
	"sort"
	"sync"
	"time"
)

// FrameID identifies a pending frame request. Zero is never issued.
type FrameID uint64

// A Scheduler calls back before the next frame is presented.
type Scheduler interface {
	RequestFrame(fn func()) FrameID
	CancelFrame(id FrameID)
}

// frameQueue holds the callbacks waiting for the next frame.
type frameQueue struct {
	mu      sync.Mutex
	next    FrameID
	pending map[FrameID]func()
}

func (q *frameQueue) request(fn func()) FrameID {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == nil {
		q.pending = make(map[FrameID]func())
	}
	q.next++
	q.pending[q.next] = fn
	return q.next
}

func (q *frameQueue) cancel(id FrameID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, id)
}

func (q *frameQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// flush runs every callback requested before the flush began, oldest first.
// Callbacks requested while flushing wait for the following frame.
func (q *frameQueue) flush() int {
	q.mu.Lock()
	ids := make([]FrameID, 0, len(q.pending))
	for id := range q.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, q.pending[id])
		delete(q.pending, id)
	}
	q.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// TickerScheduler presents frames at a fixed rate. Callbacks run one at a
// time on the goroutine that calls Run.
type TickerScheduler struct {
	queue    frameQueue
	interval time.Duration
}

// NewTickerScheduler creates a TickerScheduler for the given frames per second.
func NewTickerScheduler(frameRate float64) *TickerScheduler {
	s := new(TickerScheduler)
	if frameRate <= 0 {
		frameRate = 60
	}
	s.interval = time.Duration(float64(time.Second) / frameRate)
	return s
}

func (s *TickerScheduler) RequestFrame(fn func()) FrameID {
	return s.queue.request(fn)
}

func (s *TickerScheduler) CancelFrame(id FrameID) {
	s.queue.cancel(id)
}

// Interval returns the time between frames.
func (s *TickerScheduler) Interval() time.Duration {
	return s.interval
}

// Run presents frames until ctx is done.
func (s *TickerScheduler) Run(ctx context.Context) error {
	frameTimer := time.NewTicker(s.interval)
	defer frameTimer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-frameTimer.C:
			s.queue.flush()
		}
	}
}

// ManualScheduler presents a frame each time Step is called.
type ManualScheduler struct {
	queue frameQueue
}

func (s *ManualScheduler) RequestFrame(fn func()) FrameID {
	return s.queue.request(fn)
}

func (s *ManualScheduler) CancelFrame(id FrameID) {
	s.queue.cancel(id)
}

// Step presents one frame and returns how many callbacks ran.
func (s *ManualScheduler) Step() int {
	return s.queue.flush()
}

// Pending returns the number of callbacks waiting for the next frame.
func (s *ManualScheduler) Pending() int {
	return s.queue.len()
}
