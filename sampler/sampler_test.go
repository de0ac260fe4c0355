package sampler

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gigfork/kahlua2/compiler"
	"github.com/gigfork/kahlua2/jit"
	"github.com/gigfork/kahlua2/vm"
)

func guestProto(name string) *vm.Prototype {
	return &vm.Prototype{
		Name:        name,
		Source:      name + ".lua",
		LineDefined: 1,
		MaxStack:    2,
		LineInfo:    []int32{10, 11, 12, 13, 14, 15},
	}
}

func guestFrame(co *vm.Coroutine, p *vm.Prototype, pc int) {
	f := co.PushClosureFrame(vm.NewClosure(p, nil))
	f.SetPC(pc)
}

func TestWalkThreeCoroutines(t *testing.T) {
	pa, pb, pc := guestProto("a"), guestProto("b"), guestProto("c")
	nat := vm.NewNativeFunction("coroutine.resume", nil)

	root := vm.NewCoroutine(nil)
	guestFrame(root, pa, 1)
	guestFrame(root, pa, 3)
	root.PushNativeFrame(nat)

	mid := vm.NewCoroutine(root)
	guestFrame(mid, pb, 2)
	mid.PushNativeFrame(nat)

	leaf := vm.NewCoroutine(mid)
	guestFrame(leaf, pc, 0) // not started yet: pc clamps to 0
	guestFrame(leaf, pc, 5)

	got := Walk(leaf)
	want := []Frame{
		{Kind: Guest, Proto: pc, PC: 4},
		{Kind: Guest, Proto: pc, PC: 0},
		{Kind: Native, Native: nat},
		{Kind: Guest, Proto: pb, PC: 1},
		{Kind: Native, Native: nat},
		{Kind: Guest, Proto: pa, PC: 2},
		{Kind: Guest, Proto: pa, PC: 0},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d frames %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d = %v, want %v", i, got[i], want[i])
		}
	}
	if got[0].Line() != 14 || got[2].Line() != 0 {
		t.Errorf("lines = %d, %d", got[0].Line(), got[2].Line())
	}
	if got[0].String() != "c.lua:1 (c):14" || got[2].String() != "[native] coroutine.resume" {
		t.Errorf("strings = %q, %q", got[0], got[2])
	}
}

func TestWalkEmptyAndDeep(t *testing.T) {
	if frames := Walk(nil); len(frames) != 0 {
		t.Errorf("Walk(nil) = %v", frames)
	}
	if frames := Walk(vm.NewCoroutine(nil)); len(frames) != 0 {
		t.Errorf("Walk(empty) = %v", frames)
	}

	p := guestProto("deep")
	var co *vm.Coroutine
	for i := 0; i < MaxCoroutineDepth+10; i++ {
		co = vm.NewCoroutine(co)
		guestFrame(co, p, 1)
	}
	if frames := Walk(co); len(frames) != MaxCoroutineDepth {
		t.Errorf("deep chain gave %d frames, want %d", len(frames), MaxCoroutineDepth)
	}
}

func TestWalkAfterPop(t *testing.T) {
	p := guestProto("p")
	co := vm.NewCoroutine(nil)
	guestFrame(co, p, 1)
	guestFrame(co, p, 2)
	co.PopFrame()
	frames := Walk(co)
	if len(frames) != 1 || frames[0].PC != 0 {
		t.Errorf("frames = %v", frames)
	}
}

type staticTarget struct{ co *vm.Coroutine }

func (s staticTarget) CurrentCoroutine() *vm.Coroutine { return s.co }

func TestNewValidates(t *testing.T) {
	sink := SinkFunc(func(Sample) {})
	target := staticTarget{vm.NewCoroutine(nil)}
	if _, err := New(nil, time.Millisecond, sink); !errors.Is(err, ErrNoTarget) {
		t.Errorf("nil target: %v", err)
	}
	if _, err := New(target, time.Millisecond, nil); !errors.Is(err, ErrNoSink) {
		t.Errorf("nil sink: %v", err)
	}
	if _, err := New(target, 0, sink); !errors.Is(err, ErrBadPeriod) {
		t.Errorf("zero period: %v", err)
	}
}

func TestStartStop(t *testing.T) {
	co := vm.NewCoroutine(nil)
	guestFrame(co, guestProto("main"), 1)
	samples := make(chan Sample, 16)
	stamp := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	s, err := New(staticTarget{co}, time.Hour, SinkFunc(func(smp Sample) {
		select {
		case samples <- smp:
		default:
		}
	}), WithID("test-sampler"), WithClock(func() time.Time { return stamp }))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v", err)
	}

	// With an hour-long period only the immediate first tick can arrive.
	select {
	case smp := <-samples:
		if smp.SamplerID != "test-sampler" || smp.Period != time.Hour || !smp.Time.Equal(stamp) {
			t.Errorf("sample header = %+v", smp)
		}
		if len(smp.Frames) != 1 || smp.Frames[0].PC != 0 {
			t.Errorf("frames = %v", smp.Frames)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no immediate first sample")
	}

	s.Stop()
	s.Stop()
	if err := s.Start(); !errors.Is(err, ErrStopped) {
		t.Errorf("Start after Stop = %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for s.Stats().Delivered == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if st := s.Stats(); st.Ticks != 1 || st.Delivered != 1 || st.Dropped != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestStopBeforeStart(t *testing.T) {
	s, err := New(staticTarget{vm.NewCoroutine(nil)}, time.Millisecond, SinkFunc(func(Sample) {}))
	if err != nil {
		t.Fatal(err)
	}
	s.Stop()
	if err := s.Start(); !errors.Is(err, ErrStopped) {
		t.Errorf("Start = %v", err)
	}
	s.Wait()
}

func TestWaitForInFlightTick(t *testing.T) {
	co := vm.NewCoroutine(nil)
	guestFrame(co, guestProto("main"), 1)
	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	s, err := New(staticTarget{co}, time.Hour, SinkFunc(func(Sample) {
		close(entered)
		<-release
		finished.Store(true)
	}))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	<-entered
	s.Stop()

	waited := make(chan struct{})
	go func() {
		s.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		t.Fatal("Wait returned while a tick was still delivering")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after the tick finished")
	}
	if !finished.Load() || s.Stats().Delivered != 1 {
		t.Errorf("finished %v, stats %+v", finished.Load(), s.Stats())
	}
}

func TestDefaultIDIsUUID(t *testing.T) {
	a, _ := New(staticTarget{}, time.Second, SinkFunc(func(Sample) {}))
	b, _ := New(staticTarget{}, time.Second, SinkFunc(func(Sample) {}))
	if _, err := uuid.Parse(a.ID()); err != nil {
		t.Errorf("ID %q is not a UUID: %v", a.ID(), err)
	}
	if a.ID() == b.ID() {
		t.Error("two samplers share an ID")
	}
}

func TestFixedRateAndStop(t *testing.T) {
	var mu sync.Mutex
	var times []time.Time
	s, err := New(staticTarget{vm.NewCoroutine(nil)}, 5*time.Millisecond, SinkFunc(func(smp Sample) {
		mu.Lock()
		times = append(times, smp.Time)
		mu.Unlock()
	}))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	mu.Lock()
	n := len(times)
	for i := 1; i < n; i++ {
		if times[i].Before(times[i-1]) {
			t.Errorf("sample %d earlier than sample %d", i, i-1)
		}
	}
	mu.Unlock()
	// 100ms at 5ms is 21 ticks; allow generous scheduling slack but require
	// that ticks repeat and do not pile up.
	if n < 3 || n > 25 {
		t.Errorf("got %d samples in 100ms at a 5ms period", n)
	}

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	after := len(times)
	mu.Unlock()
	if after > n+1 {
		t.Errorf("%d samples delivered after Stop", after-n)
	}
}

func TestPanickingSinkIsDropped(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	done := make(chan struct{})
	s, err := New(staticTarget{vm.NewCoroutine(nil)}, time.Millisecond, SinkFunc(func(Sample) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		switch calls {
		case 1:
			panic("sink failure")
		case 3:
			close(done)
		}
	}))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sampling stopped after a panicking tick")
	}
	s.Stop()
	if st := s.Stats(); st.Dropped != 1 || st.Delivered < 1 {
		t.Errorf("stats = %+v", st)
	}
}

// sampleBusyScript runs a CPU-bound script on L while a sampler watches it
// and reports whether any sample caught a frame of the script.
func sampleBusyScript(t *testing.T, generated bool) bool {
	t.Helper()
	p, err := compiler.Compile(`
local function spin(stop)
  local n = 0
  while os.clock() < stop do n = n + 1 end
  return n
end
return spin(os.clock() + 0.2)`, "busy")
	if err != nil {
		t.Fatal(err)
	}
	L := vm.NewState()
	defer L.Close()
	cl := vm.NewClosure(p, L.Globals())
	if generated {
		u, err := jit.Generate(p)
		if err != nil {
			t.Fatal(err)
		}
		if err := u.Bind(cl); err != nil {
			t.Fatal(err)
		}
	}

	var mu sync.Mutex
	found := false
	s, err := New(L, time.Millisecond, SinkFunc(func(smp Sample) {
		for _, f := range smp.Frames {
			if f.Kind == Guest && f.Proto.Name == "spin" && f.Line() == 4 {
				mu.Lock()
				found = true
				mu.Unlock()
			}
		}
	}))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	_, err = L.Call(cl)
	s.Stop()
	if err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	return found
}

func TestSamplesRunningInterpreter(t *testing.T) {
	if !sampleBusyScript(t, false) {
		t.Error("no sample caught the interpreted loop")
	}
}

func TestSamplesGeneratedCode(t *testing.T) {
	if !sampleBusyScript(t, true) {
		t.Error("no sample caught the generated loop")
	}
}
