package profile

import (
	"bytes"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/gigfork/kahlua2/sampler"
	"github.com/gigfork/kahlua2/vm"
)

func guest(name string, lineDefined, line int) FrameRecord {
	return FrameRecord{Name: name, Source: "t.lua", LineDefined: lineDefined, Line: line}
}

func native(name string) FrameRecord {
	return FrameRecord{Native: true, Name: name}
}

func record(frames ...FrameRecord) Record {
	return Record{SamplerID: "s1", TimeNanos: 1, PeriodNanos: int64(10 * time.Millisecond), Frames: frames}
}

// testRecords exercises leaf counting, natives, recursion and an empty
// sample.
func testRecords() []Record {
	main := guest("", 0, 1)
	return []Record{
		record(guest("g", 5, 5), guest("f", 2, 3), main),
		record(guest("g", 5, 6), guest("f", 2, 3), main),
		record(guest("f", 2, 4), main),
		record(native("print"), guest("f", 2, 4), main),
		record(guest("f", 2, 2), guest("f", 2, 3), main),
		record(),
	}
}

func TestAggregatorCounts(t *testing.T) {
	a := NewAggregator()
	for _, r := range testRecords() {
		a.Add(r)
	}
	snap := a.Snapshot(0)

	if snap.Samples != 6 || snap.Empty != 1 || snap.Period != 10*time.Millisecond {
		t.Errorf("header = %d samples, %d empty, period %s", snap.Samples, snap.Empty, snap.Period)
	}

	wantFuncs := []FunctionStat{
		{Function: "t.lua:2 (f)", Self: 2, Total: 5},
		{Function: "t.lua:5 (g)", Self: 2, Total: 2},
		{Function: "[native] print", Native: true, Self: 1, Total: 1},
		{Function: "t.lua:0", Self: 0, Total: 5},
	}
	if !reflect.DeepEqual(snap.Functions, wantFuncs) {
		t.Errorf("functions:\ngot  %+v\nwant %+v", snap.Functions, wantFuncs)
	}

	wantLines := []LineStat{
		{Function: "t.lua:2 (f)", Line: 2, Self: 1},
		{Function: "t.lua:2 (f)", Line: 4, Self: 1},
		{Function: "t.lua:5 (g)", Line: 5, Self: 1},
		{Function: "t.lua:5 (g)", Line: 6, Self: 1},
	}
	if !reflect.DeepEqual(snap.Lines, wantLines) {
		t.Errorf("lines:\ngot  %+v\nwant %+v", snap.Lines, wantLines)
	}

	wantStacks := []StackStat{
		{Stack: "t.lua:0;t.lua:2 (f)", Count: 1},
		{Stack: "t.lua:0;t.lua:2 (f);[native] print", Count: 1},
		{Stack: "t.lua:0;t.lua:2 (f);t.lua:2 (f)", Count: 1},
		{Stack: "t.lua:0;t.lua:2 (f);t.lua:5 (g)", Count: 2},
	}
	if !reflect.DeepEqual(snap.Stacks, wantStacks) {
		t.Errorf("stacks:\ngot  %+v\nwant %+v", snap.Stacks, wantStacks)
	}

	top := a.Snapshot(2)
	if len(top.Functions) != 2 || len(top.Lines) != 2 || len(top.Stacks) != 4 {
		t.Errorf("Snapshot(2) sizes = %d, %d, %d", len(top.Functions), len(top.Lines), len(top.Stacks))
	}
}

func TestWriteFolded(t *testing.T) {
	a := NewAggregator()
	for _, r := range testRecords() {
		a.Add(r)
	}
	var buf bytes.Buffer
	if err := WriteFolded(&buf, a.Snapshot(0)); err != nil {
		t.Fatal(err)
	}
	want := "t.lua:0;t.lua:2 (f) 1\n" +
		"t.lua:0;t.lua:2 (f);[native] print 1\n" +
		"t.lua:0;t.lua:2 (f);t.lua:2 (f) 1\n" +
		"t.lua:0;t.lua:2 (f);t.lua:5 (g) 2\n"
	if buf.String() != want {
		t.Errorf("folded:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestAggregatorReset(t *testing.T) {
	a := NewAggregator()
	for _, r := range testRecords() {
		a.Add(r)
	}
	a.Reset()
	snap := a.Snapshot(0)
	if a.Samples() != 0 || len(snap.Functions) != 0 || len(snap.Lines) != 0 || len(snap.Stacks) != 0 {
		t.Errorf("after Reset: %+v", snap)
	}
}

func TestAggregatorConcurrentAdds(t *testing.T) {
	a := NewAggregator()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				a.Add(record(guest("f", 2, 3)))
			}
		}()
	}
	wg.Wait()
	snap := a.Snapshot(0)
	if snap.Samples != 4000 || len(snap.Functions) != 1 || snap.Functions[0].Self != 4000 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestAggregatorAsSink(t *testing.T) {
	p := &vm.Prototype{Name: "work", Source: "job.lua", LineDefined: 7, LineInfo: []int32{8, 9, 10}}
	fn := vm.NewNativeFunction("string.rep", nil)
	a := NewAggregator()
	var sink sampler.Sink = a
	sink.ReceiveSample(sampler.Sample{
		Frames: []sampler.Frame{
			{Kind: sampler.Native, Native: fn},
			{Kind: sampler.Guest, Proto: p, PC: 2},
		},
		Period:    time.Millisecond,
		Time:      time.Unix(100, 0),
		SamplerID: "live",
	})
	snap := a.Snapshot(0)
	if len(snap.Functions) != 2 || snap.Functions[0].Function != "[native] string.rep" || snap.Functions[1].Function != "job.lua:7 (work)" {
		t.Errorf("functions = %+v", snap.Functions)
	}
	if len(snap.Lines) != 0 {
		t.Errorf("a native leaf should not count a line: %+v", snap.Lines)
	}
	if len(snap.Stacks) != 1 || snap.Stacks[0].Stack != "job.lua:7 (work);[native] string.rep" {
		t.Errorf("stacks = %+v", snap.Stacks)
	}
}

func TestNewRecord(t *testing.T) {
	p := &vm.Prototype{Name: "work", Source: "job.lua", LineDefined: 7, LineInfo: []int32{8, 9, 10}}
	stamp := time.Unix(5, 42)
	rec := NewRecord(sampler.Sample{
		Frames: []sampler.Frame{
			{Kind: sampler.Guest, Proto: p, PC: 1},
			{Kind: sampler.Native},
			{Kind: sampler.Guest}, // no prototype: dropped
		},
		Period:    3 * time.Millisecond,
		Time:      stamp,
		SamplerID: "id",
	})
	want := Record{
		SamplerID:   "id",
		TimeNanos:   stamp.UnixNano(),
		PeriodNanos: int64(3 * time.Millisecond),
		Frames: []FrameRecord{
			{Name: "work", Source: "job.lua", LineDefined: 7, Line: 9, PC: 1},
			{Native: true},
		},
	}
	if !reflect.DeepEqual(rec, want) {
		t.Errorf("record:\ngot  %+v\nwant %+v", rec, want)
	}
	if !rec.Time().Equal(stamp) || rec.Period() != 3*time.Millisecond {
		t.Errorf("time %v period %v", rec.Time(), rec.Period())
	}
	if s := rec.Frames[0].String(); s != "job.lua:7 (work):9" {
		t.Errorf("frame string = %q", s)
	}
}

func TestTee(t *testing.T) {
	a, b := NewAggregator(), NewAggregator()
	var buf bytes.Buffer
	rec, err := NewRecorder(&buf)
	if err != nil {
		t.Fatal(err)
	}
	var sink sampler.Sink = Tee{a, b, rec}
	sink.ReceiveSample(sampler.Sample{SamplerID: "tee", Period: time.Millisecond})
	if a.Samples() != 1 || b.Samples() != 1 || rec.Count() != 1 {
		t.Errorf("samples = %d, %d, %d", a.Samples(), b.Samples(), rec.Count())
	}
}
