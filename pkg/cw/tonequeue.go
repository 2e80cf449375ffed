package cw

import (
	"fmt"
	"sync"
)

// Tone queue sizing. 3000 tones is roughly five minutes of elements at
// 12 WPM, which is far more headroom than any interactive sender needs.
const (
	ToneQueueCapacity      = 3000
	ToneQueueHighWaterMark = 2900
)

// ToneQueue is a fixed-capacity circular buffer of tones sitting between
// the control path (keyer, send functions) and the generator's playback
// goroutine. One producer, one consumer. All blocking is done on a condvar;
// there is no polling anywhere.
type ToneQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	queue []Tone
	head  int // index of next tone to dequeue
	tail  int // index of next free slot
	len   int

	// Monotonic count of successful dequeues, used by WaitForTone.
	dequeues uint64

	lowWaterMark     int
	lowWaterCallback func()
}

// NewToneQueue creates a queue with the given capacity. Capacity must be
// positive; use ToneQueueCapacity for the standard size.
func NewToneQueue(capacity int) (*ToneQueue, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: queue capacity %d", ErrInvalidArgument, capacity)
	}
	tq := &ToneQueue{queue: make([]Tone, capacity)}
	tq.cond = sync.NewCond(&tq.mu)
	return tq, nil
}

// Capacity returns the fixed capacity of the queue.
func (tq *ToneQueue) Capacity() int {
	return len(tq.queue)
}

// Length returns the number of tones currently queued.
func (tq *ToneQueue) Length() int {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	return tq.len
}

// IsFull reports whether another Enqueue would fail with ErrQueueFull.
func (tq *ToneQueue) IsFull() bool {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	return tq.len == len(tq.queue)
}

// Enqueue appends a tone at the tail of the queue. It fails with
// ErrInvalidArgument for a negative duration or an out-of-range frequency,
// and with ErrQueueFull when there is no room; in both cases the queue is
// unchanged.
func (tq *ToneQueue) Enqueue(tone Tone) error {
	if tone.Duration < 0 {
		return fmt.Errorf("%w: tone duration %v", ErrInvalidArgument, tone.Duration)
	}
	if tone.Frequency < FrequencyMin || tone.Frequency > FrequencyMax {
		return fmt.Errorf("%w: tone frequency %d Hz", ErrInvalidArgument, tone.Frequency)
	}

	tq.mu.Lock()
	defer tq.mu.Unlock()

	if tq.len == len(tq.queue) {
		return ErrQueueFull
	}

	tq.queue[tq.tail] = tone
	tq.tail = (tq.tail + 1) % len(tq.queue)
	tq.len++
	return nil
}

// Dequeue pops the tone at the head of the queue, or fails with
// ErrQueueEmpty. Every successful dequeue wakes all blocked waiters. If the
// new length crosses from above the registered low water mark to at or
// below it, the callback fires exactly once for that crossing, after the
// queue lock has been released.
func (tq *ToneQueue) Dequeue() (Tone, error) {
	tq.mu.Lock()

	if tq.len == 0 {
		tq.mu.Unlock()
		return Tone{}, ErrQueueEmpty
	}

	prevLen := tq.len
	tone := tq.queue[tq.head]
	tq.head = (tq.head + 1) % len(tq.queue)
	tq.len--
	tq.dequeues++

	// The callback most likely enqueues more tones, so it must run
	// without the queue lock held.
	var callback func()
	if tq.lowWaterCallback != nil &&
		prevLen > tq.lowWaterMark && tq.len <= tq.lowWaterMark {
		callback = tq.lowWaterCallback
	}

	tq.cond.Broadcast()
	tq.mu.Unlock()

	if callback != nil {
		callback()
	}
	return tone, nil
}

// Flush discards every queued tone and unblocks any waiter stuck in
// WaitForLevel. The head position is preserved so FIFO order is unaffected
// for tones enqueued afterwards.
func (tq *ToneQueue) Flush() {
	tq.mu.Lock()
	tq.tail = tq.head
	tq.len = 0
	tq.cond.Broadcast()
	tq.mu.Unlock()
}

// WaitForLevel blocks the caller until the queue length drops to at most
// n. The wait is a suspension on the queue's condvar; it is woken by every
// successful dequeue and by Flush.
func (tq *ToneQueue) WaitForLevel(n int) {
	tq.mu.Lock()
	for tq.len > n {
		tq.cond.Wait()
	}
	tq.mu.Unlock()
}

// WaitForTone blocks until at least one dequeue has occurred since the
// call was made.
func (tq *ToneQueue) WaitForTone() {
	tq.mu.Lock()
	seen := tq.dequeues
	for tq.dequeues == seen {
		tq.cond.Wait()
	}
	tq.mu.Unlock()
}

// RegisterLowWaterCallback installs cb to be called whenever a dequeue
// takes the queue length from above level to at or below it. A new
// registration replaces any previous one; a nil cb removes it. The level
// must be non-negative and below the queue capacity.
func (tq *ToneQueue) RegisterLowWaterCallback(cb func(), level int) error {
	if level < 0 || level >= len(tq.queue) {
		return fmt.Errorf("%w: low water mark %d", ErrInvalidArgument, level)
	}

	tq.mu.Lock()
	tq.lowWaterMark = level
	tq.lowWaterCallback = cb
	tq.mu.Unlock()
	return nil
}
