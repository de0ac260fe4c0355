package profile

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gigfork/kahlua2/sampler"
)

// FunctionStat counts the samples that hit a function.
type FunctionStat struct {
	Function string `cbor:"1,keyasint" yaml:"function"`
	Native   bool   `cbor:"2,keyasint,omitempty" yaml:"native,omitempty"`
	Self     uint64 `cbor:"3,keyasint" yaml:"self"`  // innermost frame
	Total    uint64 `cbor:"4,keyasint" yaml:"total"` // anywhere on the stack
}

// LineStat counts the samples whose innermost frame was on a source line.
type LineStat struct {
	Function string `cbor:"1,keyasint" yaml:"function"`
	Line     int    `cbor:"2,keyasint" yaml:"line"`
	Self     uint64 `cbor:"3,keyasint" yaml:"self"`
}

// StackStat is a collapsed stack, outermost frame first, separated by ';'.
type StackStat struct {
	Stack string `cbor:"1,keyasint" yaml:"stack"`
	Count uint64 `cbor:"2,keyasint" yaml:"count"`
}

// Snapshot is a sorted, point-in-time copy of an Aggregator.
type Snapshot struct {
	Samples   uint64         `cbor:"1,keyasint" yaml:"samples"`
	Empty     uint64         `cbor:"2,keyasint,omitempty" yaml:"empty,omitempty"`
	Period    time.Duration  `cbor:"3,keyasint" yaml:"period"`
	Functions []FunctionStat `cbor:"4,keyasint" yaml:"functions"`
	Lines     []LineStat     `cbor:"5,keyasint" yaml:"lines"`
	Stacks    []StackStat    `cbor:"6,keyasint,omitempty" yaml:"stacks,omitempty"`
}

type funcProfile struct {
	native bool
	self   atomic.Uint64
	total  atomic.Uint64
}

type lineKey struct {
	function string
	line     int
}

// Aggregator is a Sink that keeps running self/total counts per function
// and per line, plus collapsed stacks. It is safe for concurrent use.
type Aggregator struct {
	samples atomic.Uint64
	empty   atomic.Uint64 // samples without frames
	period  atomic.Int64

	funcs  sync.Map // string -> *funcProfile
	lines  sync.Map // lineKey -> *atomic.Uint64
	stacks sync.Map // string -> *atomic.Uint64
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// ReceiveSample implements sampler.Sink.
func (a *Aggregator) ReceiveSample(s sampler.Sample) {
	a.Add(NewRecord(s))
}

// Add counts one record.
func (a *Aggregator) Add(r Record) {
	a.samples.Add(1)
	a.period.Store(r.PeriodNanos)
	if len(r.Frames) == 0 {
		a.empty.Add(1)
		return
	}

	leaf := r.Frames[0]
	a.function(leaf).self.Add(1)
	if !leaf.Native {
		counter(&a.lines, lineKey{leaf.Function(), leaf.Line}).Add(1)
	}

	// Recursion puts a function on the stack more than once; total counts
	// it once per sample.
	seen := make(map[string]bool, len(r.Frames))
	labels := make([]string, len(r.Frames))
	for i, f := range r.Frames {
		name := f.Function()
		labels[len(r.Frames)-1-i] = name
		if !seen[name] {
			seen[name] = true
			a.function(f).total.Add(1)
		}
	}
	counter(&a.stacks, strings.Join(labels, ";")).Add(1)
}

func (a *Aggregator) function(f FrameRecord) *funcProfile {
	val, _ := a.funcs.LoadOrStore(f.Function(), &funcProfile{native: f.Native})
	return val.(*funcProfile)
}

func counter(m *sync.Map, key any) *atomic.Uint64 {
	val, _ := m.LoadOrStore(key, new(atomic.Uint64))
	return val.(*atomic.Uint64)
}

// Samples returns the number of records counted so far.
func (a *Aggregator) Samples() uint64 { return a.samples.Load() }

// Reset forgets everything counted so far.
func (a *Aggregator) Reset() {
	a.funcs.Clear()
	a.lines.Clear()
	a.stacks.Clear()
	a.samples.Store(0)
	a.empty.Store(0)
}

// Snapshot copies the current counts. Functions and lines are sorted
// hottest first and cut to the top n entries when n > 0; stacks are sorted
// by name and never cut.
func (a *Aggregator) Snapshot(n int) Snapshot {
	snap := Snapshot{
		Samples: a.samples.Load(),
		Empty:   a.empty.Load(),
		Period:  time.Duration(a.period.Load()),
	}

	a.funcs.Range(func(key, value any) bool {
		p := value.(*funcProfile)
		snap.Functions = append(snap.Functions, FunctionStat{
			Function: key.(string),
			Native:   p.native,
			Self:     p.self.Load(),
			Total:    p.total.Load(),
		})
		return true
	})
	sort.Slice(snap.Functions, func(i, j int) bool {
		x, y := snap.Functions[i], snap.Functions[j]
		if x.Self != y.Self {
			return x.Self > y.Self
		}
		if x.Total != y.Total {
			return x.Total > y.Total
		}
		return x.Function < y.Function
	})

	a.lines.Range(func(key, value any) bool {
		k := key.(lineKey)
		snap.Lines = append(snap.Lines, LineStat{Function: k.function, Line: k.line, Self: value.(*atomic.Uint64).Load()})
		return true
	})
	sort.Slice(snap.Lines, func(i, j int) bool {
		x, y := snap.Lines[i], snap.Lines[j]
		if x.Self != y.Self {
			return x.Self > y.Self
		}
		if x.Function != y.Function {
			return x.Function < y.Function
		}
		return x.Line < y.Line
	})

	a.stacks.Range(func(key, value any) bool {
		snap.Stacks = append(snap.Stacks, StackStat{Stack: key.(string), Count: value.(*atomic.Uint64).Load()})
		return true
	})
	sort.Slice(snap.Stacks, func(i, j int) bool { return snap.Stacks[i].Stack < snap.Stacks[j].Stack })

	if n > 0 {
		snap.Functions = snap.Functions[:min(n, len(snap.Functions))]
		snap.Lines = snap.Lines[:min(n, len(snap.Lines))]
	}
	return snap
}

// WriteFolded writes the collapsed stacks in the "frame;frame count" format
// read by flame graph tools.
func WriteFolded(w io.Writer, snap Snapshot) error {
	bw := bufio.NewWriter(w)
	for _, s := range snap.Stacks {
		if _, err := fmt.Fprintf(bw, "%s %d\n", s.Stack, s.Count); err != nil {
			return err
		}
	}
	return bw.Flush()
}
