package cw

import (
	"sync"
	"sync/atomic"
	"time"
)

// KeyerState is a node in the iambic keyer's state graph. The A/B suffix
// records whether a Curtis mode B "one more element owed" decision is
// pending for the element in flight.
type KeyerState int

const (
	KeyerIdle KeyerState = iota
	KeyerInDotA
	KeyerInDotB
	KeyerInDashA
	KeyerInDashB
	KeyerAfterDotA
	KeyerAfterDotB
	KeyerAfterDashA
	KeyerAfterDashB
)

// String returns the state name for logs.
func (s KeyerState) String() string {
	switch s {
	case KeyerIdle:
		return "idle"
	case KeyerInDotA:
		return "in-dot-a"
	case KeyerInDotB:
		return "in-dot-b"
	case KeyerInDashA:
		return "in-dash-a"
	case KeyerInDashB:
		return "in-dash-b"
	case KeyerAfterDotA:
		return "after-dot-a"
	case KeyerAfterDotB:
		return "after-dot-b"
	case KeyerAfterDashA:
		return "after-dash-a"
	case KeyerAfterDashB:
		return "after-dash-b"
	default:
		return "unknown"
	}
}

// IambicKeyer turns dual-paddle events into correctly timed elements on
// the generator's tone queue. The state machine advances one step per
// generator tick, which the playback goroutine delivers once per
// dequeued tone, so element pacing comes entirely from the audio clock.
//
// Latches remember taps that happen while an element is in flight:
// tapping the dash paddle during a dot queues exactly one dash even if
// the paddle is released before the dot finishes. In Curtis mode B a
// squeeze (both paddles) additionally owes one opposite element after
// both paddles are released; mode A sends nothing after release.
type IambicKeyer struct {
	mu  sync.Mutex
	gen *Generator

	state KeyerState
	modeB bool

	dotPaddle  bool
	dashPaddle bool
	dotLatch   bool
	dashLatch  bool

	// Set on a squeeze in mode B, consumed when the owed element's
	// in-flight state is entered.
	curtisBLatch bool

	// Guards against a tick arriving while an update is already in
	// progress; the late tick is dropped, not queued.
	updating atomic.Bool

	// Optional observer of key-down/key-up transitions, for callers
	// keying an external transmitter alongside the sidetone.
	keyCallback func(down bool)
}

// NewIambicKeyer creates an idle keyer in Curtis mode A attached to the
// generator. The generator ticks the keyer from its playback goroutine.
func NewIambicKeyer(gen *Generator) *IambicKeyer {
	k := &IambicKeyer{gen: gen}
	gen.attachKeyer(k)
	return k
}

// SetCurtisModeB selects between Curtis mode A (false) and mode B.
func (k *IambicKeyer) SetCurtisModeB(enabled bool) {
	k.mu.Lock()
	k.modeB = enabled
	k.mu.Unlock()
}

// CurtisModeB reports whether Curtis mode B is selected.
func (k *IambicKeyer) CurtisModeB() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.modeB
}

// State returns the current graph state.
func (k *IambicKeyer) State() KeyerState {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// IsBusy reports whether the keyer is mid-element or mid-space.
func (k *IambicKeyer) IsBusy() bool {
	return k.State() != KeyerIdle
}

// Paddles returns the current physical paddle states.
func (k *IambicKeyer) Paddles() (dot, dash bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.dotPaddle, k.dashPaddle
}

// Latches returns the current paddle latch states.
func (k *IambicKeyer) Latches() (dot, dash bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.dotLatch, k.dashLatch
}

// RegisterKeyCallback installs an observer called on every key-down and
// key-up the keyer produces. A nil callback removes it.
func (k *IambicKeyer) RegisterKeyCallback(cb func(down bool)) {
	k.mu.Lock()
	k.keyCallback = cb
	k.mu.Unlock()
}

// Reset forces the keyer back to idle, clearing paddles and latches and
// silencing the generator. Used when the operator aborts mid-character.
func (k *IambicKeyer) Reset() {
	k.mu.Lock()
	k.state = KeyerIdle
	k.dotPaddle = false
	k.dashPaddle = false
	k.dotLatch = false
	k.dashLatch = false
	k.curtisBLatch = false
	k.mu.Unlock()
	k.gen.Silence()
}

// PaddleEvent records a change of the physical paddle states. Pressed
// paddles set their latches, and a mode B squeeze sets the Curtis latch.
// If the keyer is idle, the event also kicks the state machine into
// motion; afterwards it advances on generator ticks alone.
func (k *IambicKeyer) PaddleEvent(dot, dash bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.dotPaddle = dot
	k.dashPaddle = dash
	if dot {
		k.dotLatch = true
	}
	if dash {
		k.dashLatch = true
	}
	if k.modeB && dot && dash {
		k.curtisBLatch = true
	}

	if k.state != KeyerIdle {
		return
	}

	// Seed the graph by pretending the opposite element just finished,
	// then take one normal step. The step sees the fresh latch and
	// starts the first real element.
	switch {
	case dot:
		if k.curtisBLatch {
			k.state = KeyerAfterDashB
		} else {
			k.state = KeyerAfterDashA
		}
		k.update()
	case dash:
		if k.curtisBLatch {
			k.state = KeyerAfterDotB
		} else {
			k.state = KeyerAfterDotA
		}
		k.update()
	}
}

// DotPaddleEvent reports a change of the dot paddle only.
func (k *IambicKeyer) DotPaddleEvent(down bool) {
	_, dash := k.Paddles()
	k.PaddleEvent(down, dash)
}

// DashPaddleEvent reports a change of the dash paddle only.
func (k *IambicKeyer) DashPaddleEvent(down bool) {
	dot, _ := k.Paddles()
	k.PaddleEvent(dot, down)
}

// Tick advances the state machine one step. The generator calls this
// once per dequeued tone. A tick that lands while another update is
// running is dropped.
func (k *IambicKeyer) Tick() {
	if !k.updating.CompareAndSwap(false, true) {
		return
	}
	defer k.updating.Store(false)

	k.mu.Lock()
	k.update()
	k.mu.Unlock()
}

// update takes one step through the state graph. Callers hold mu.
func (k *IambicKeyer) update() {
	switch k.state {

	case KeyerIdle:
		// Ticks keep arriving for tones queued by other producers.

	case KeyerInDotA, KeyerInDotB:
		// The dot has played out; key up for the inter-element space.
		k.keyUp()
		if k.state == KeyerInDotA {
			k.state = KeyerAfterDotA
		} else {
			k.state = KeyerAfterDotB
		}

	case KeyerInDashA, KeyerInDashB:
		k.keyUp()
		if k.state == KeyerInDashA {
			k.state = KeyerAfterDashA
		} else {
			k.state = KeyerAfterDashB
		}

	case KeyerAfterDotA, KeyerAfterDotB:
		if !k.dotPaddle {
			k.dotLatch = false
		}
		switch {
		case k.state == KeyerAfterDotB:
			// Owed element from a mode B squeeze: one dash,
			// unconditionally, then back on the A track.
			k.state = KeyerInDashA
			k.keyDownDash()
		case k.dashLatch:
			if k.curtisBLatch {
				k.curtisBLatch = false
				k.state = KeyerInDashB
			} else {
				k.state = KeyerInDashA
			}
			k.keyDownDash()
		case k.dotLatch:
			k.state = KeyerInDotA
			k.keyDownDot()
		default:
			k.state = KeyerIdle
		}

	case KeyerAfterDashA, KeyerAfterDashB:
		if !k.dashPaddle {
			k.dashLatch = false
		}
		switch {
		case k.state == KeyerAfterDashB:
			k.state = KeyerInDotA
			k.keyDownDot()
		case k.dotLatch:
			if k.curtisBLatch {
				k.curtisBLatch = false
				k.state = KeyerInDotB
			} else {
				k.state = KeyerInDotA
			}
			k.keyDownDot()
		case k.dashLatch:
			k.state = KeyerInDashA
			k.keyDownDash()
		default:
			k.state = KeyerIdle
		}
	}
}

func (k *IambicKeyer) keyDownDot() {
	k.keyDown(k.gen.TimingParameters().Dot)
}

func (k *IambicKeyer) keyDownDash() {
	k.keyDown(k.gen.TimingParameters().Dash)
}

func (k *IambicKeyer) keyDown(d time.Duration) {
	_ = k.gen.enqueueMark(d)
	if k.keyCallback != nil {
		k.keyCallback(true)
	}
}

func (k *IambicKeyer) keyUp() {
	_ = k.gen.enqueueSilence(k.gen.TimingParameters().EOEDelay)
	if k.keyCallback != nil {
		k.keyCallback(false)
	}
}

// Quantum of tone queued while a straight key is held down. Short enough
// that releasing the key cuts the tone promptly.
const straightKeyQuantum = 20 * time.Millisecond

// StraightKey keys the generator directly: tone while down, silence
// while up, with the operator supplying all timing. While the key is
// held it keeps a small reserve of tone quanta on the queue through the
// queue's low water callback.
type StraightKey struct {
	mu   sync.Mutex
	gen  *Generator
	down bool

	keyCallback func(down bool)
}

// NewStraightKey creates a straight key attached to the generator. The
// key takes over the tone queue's low water callback while it is down.
func NewStraightKey(gen *Generator) *StraightKey {
	return &StraightKey{gen: gen}
}

// IsDown reports whether the key is currently closed.
func (sk *StraightKey) IsDown() bool {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	return sk.down
}

// RegisterKeyCallback installs an observer of key transitions.
func (sk *StraightKey) RegisterKeyCallback(cb func(down bool)) {
	sk.mu.Lock()
	sk.keyCallback = cb
	sk.mu.Unlock()
}

// Notify reports a change of the key's state. Repeated notifications of
// the same state are ignored.
func (sk *StraightKey) Notify(down bool) {
	sk.mu.Lock()
	if down == sk.down {
		sk.mu.Unlock()
		return
	}
	sk.down = down
	cb := sk.keyCallback
	sk.mu.Unlock()

	if down {
		_ = sk.gen.Queue().RegisterLowWaterCallback(sk.refill, 1)
		sk.gen.mu.RLock()
		frequency := sk.gen.frequency
		sk.gen.mu.RUnlock()
		_ = sk.gen.Queue().Enqueue(Tone{
			Frequency: frequency,
			Duration:  straightKeyQuantum,
			Slope:     SlopeRising,
		})
		_ = sk.refillOne()
	} else {
		_ = sk.gen.Queue().RegisterLowWaterCallback(nil, 1)
		sk.gen.Queue().Flush()
		sk.gen.mu.RLock()
		frequency := sk.gen.frequency
		sk.gen.mu.RUnlock()
		_ = sk.gen.Queue().Enqueue(Tone{
			Frequency: frequency,
			Duration:  straightKeyQuantum,
			Slope:     SlopeFalling,
		})
	}

	if cb != nil {
		cb(down)
	}
}

// refill is the low water callback: top the queue back up while down.
func (sk *StraightKey) refill() {
	sk.mu.Lock()
	down := sk.down
	sk.mu.Unlock()
	if down {
		_ = sk.refillOne()
	}
}

func (sk *StraightKey) refillOne() error {
	sk.gen.mu.RLock()
	frequency := sk.gen.frequency
	sk.gen.mu.RUnlock()
	return sk.gen.Queue().Enqueue(Tone{
		Frequency: frequency,
		Duration:  straightKeyQuantum,
		Slope:     SlopeNone,
	})
}
