// Package sampler periodically snapshots the call stack of a running
// interpreter.
//
// A Sampler owns one goroutine. On every tick it reads the target's active
// coroutine, walks the frame stacks up the coroutine parent chain and hands
// the result to a Sink. It never takes a lock shared with the interpreter:
// everything it reads is published through atomics, so a sample may mix
// states from a few instructions apart but is never torn.
package sampler

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/gigfork/kahlua2/vm"
)

var (
	ErrAlreadyStarted = errors.New("sampler: already started")
	ErrStopped        = errors.New("sampler: stopped")
	ErrBadPeriod      = errors.New("sampler: period must be positive")
	ErrNoTarget       = errors.New("sampler: nil target")
	ErrNoSink         = errors.New("sampler: nil sink")
)

// Target is an interpreter whose running coroutine can be read from any
// goroutine. *vm.State implements it.
type Target interface {
	CurrentCoroutine() *vm.Coroutine
}

// Sample is one snapshot of the logical call stack.
type Sample struct {
	Frames    []Frame // innermost first
	Period    time.Duration
	Time      time.Time
	SamplerID string
}

// Sink receives samples on the sampling goroutine.
type Sink interface {
	ReceiveSample(Sample)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Sample)

func (fn SinkFunc) ReceiveSample(s Sample) { fn(s) }

// Stats counts what a sampler has done so far.
type Stats struct {
	Ticks     uint64 // ticks started
	Delivered uint64 // samples handed to the sink
	Dropped   uint64 // ticks that panicked
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithID sets the identifier stamped on every sample.
func WithID(id string) Option {
	return func(s *Sampler) { s.id = id }
}

// WithLogger sets the logger for dropped ticks.
func WithLogger(logger commonlog.Logger) Option {
	return func(s *Sampler) { s.log = logger }
}

// WithClock replaces time.Now as the source of sample timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Sampler) { s.now = now }
}

const (
	stateIdle int32 = iota
	stateRunning
	stateStopped
)

// Sampler takes a Sample of its target every period.
type Sampler struct {
	id     string
	target Target
	period time.Duration
	sink   Sink
	log    commonlog.Logger
	now    func() time.Time

	mu    sync.Mutex
	state atomic.Int32
	stop  chan struct{}
	done  chan struct{}

	ticks     atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a stopped sampler. Unless WithID is given, the sampler gets a
// random UUID as its identifier.
func New(target Target, period time.Duration, sink Sink, opts ...Option) (*Sampler, error) {
	switch {
	case target == nil:
		return nil, ErrNoTarget
	case sink == nil:
		return nil, ErrNoSink
	case period <= 0:
		return nil, fmt.Errorf("%w: %s", ErrBadPeriod, period)
	}
	s := &Sampler{
		target: target,
		period: period,
		sink:   sink,
		log:    commonlog.GetLogger("kahlua.sampler"),
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	return s, nil
}

// ID returns the identifier stamped on samples.
func (s *Sampler) ID() string { return s.id }

// Period returns the sampling period.
func (s *Sampler) Period() time.Duration { return s.period }

// Start launches the sampling goroutine. The first sample is taken
// immediately, the following ones at a fixed rate; ticks missed while a
// sink is slow are coalesced, never queued. A sampler can be started once.
func (s *Sampler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state.Load() {
	case stateRunning:
		return ErrAlreadyStarted
	case stateStopped:
		return ErrStopped
	}
	s.state.Store(stateRunning)
	go s.run()
	return nil
}

// Stop ends sampling. Once Stop returns no new tick begins; a tick already
// in progress may still deliver its sample. Stop is idempotent.
func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Load() == stateStopped {
		return
	}
	wasRunning := s.state.Load() == stateRunning
	s.state.Store(stateStopped)
	if wasRunning {
		close(s.stop)
	} else {
		close(s.done)
	}
}

// Wait blocks until the sampling goroutine has exited, which happens after
// Stop once any tick in progress has delivered its sample. Sinks can be
// closed safely after Wait returns. Wait on a sampler that was never stopped
// blocks until Stop is called.
func (s *Sampler) Wait() {
	<-s.done
}

// Stats returns the sampler's counters.
func (s *Sampler) Stats() Stats {
	return Stats{
		Ticks:     s.ticks.Load(),
		Delivered: s.delivered.Load(),
		Dropped:   s.dropped.Load(),
	}
}

func (s *Sampler) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	s.tick()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Sampler) tick() {
	if s.state.Load() != stateRunning {
		return
	}
	s.ticks.Add(1)
	defer func() {
		if r := recover(); r != nil {
			s.dropped.Add(1)
			s.log.Debugf("sampler %s: dropped tick: %v", s.id, r)
		}
	}()

	sample := Sample{
		Frames:    Walk(s.target.CurrentCoroutine()),
		Period:    s.period,
		Time:      s.now(),
		SamplerID: s.id,
	}
	s.sink.ReceiveSample(sample)
	s.delivered.Add(1)
}
