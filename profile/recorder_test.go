package profile

import (
	"bufio"
	"bytes"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/gigfork/kahlua2/sampler"
)

func TestRecordingRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	rec, err := NewRecorder(&buf)
	if err != nil {
		t.Fatal(err)
	}
	want := testRecords()
	for _, r := range want {
		if err := rec.Write(r); err != nil {
			t.Fatal(err)
		}
	}
	if rec.Count() != uint64(len(want)) || rec.Err() != nil {
		t.Errorf("count %d err %v", rec.Count(), rec.Err())
	}

	got, err := ReadRecording(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("records:\ngot  %+v\nwant %+v", got, want)
	}

	// Replaying a recording gives the same profile as live aggregation.
	live, replay := NewAggregator(), NewAggregator()
	for i := range want {
		live.Add(want[i])
		replay.Add(got[i])
	}
	if !reflect.DeepEqual(live.Snapshot(0), replay.Snapshot(0)) {
		t.Error("replayed profile differs")
	}
}

func TestEmptyRecording(t *testing.T) {
	var buf bytes.Buffer
	if _, err := NewRecorder(&buf); err != nil {
		t.Fatal(err)
	}
	got, err := ReadRecording(&buf)
	if err != nil || len(got) != 0 {
		t.Errorf("got %v, %v", got, err)
	}
}

func TestReadRecordingRejects(t *testing.T) {
	wrongMagic, _ := cbor.Marshal(recordingHeader{Magic: "something-else", Version: RecordingVersion})
	newer, _ := cbor.Marshal(recordingHeader{Magic: RecordingMagic, Version: RecordingVersion + 1})

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrNotRecording},
		{"text", []byte("hello, world"), ErrNotRecording},
		{"magic", wrongMagic, ErrNotRecording},
		{"version", newer, ErrRecordingVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadRecording(bytes.NewReader(tt.data))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReadTruncatedRecording(t *testing.T) {
	var buf bytes.Buffer
	rec, err := NewRecorder(&buf)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range testRecords()[:3] {
		rec.Write(r)
	}
	data := buf.Bytes()[:buf.Len()-1]
	got, err := ReadRecording(bytes.NewReader(data))
	if err == nil {
		t.Fatal("truncated recording read without error")
	}
	if len(got) != 2 {
		t.Errorf("kept %d complete records, want 2", len(got))
	}
}

// failingWriter accepts n writes and fails after that.
type failingWriter struct{ n int }

var errDiskFull = errors.New("disk full")

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.n == 0 {
		return 0, errDiskFull
	}
	w.n--
	return len(p), nil
}

func TestRecorderWriteErrors(t *testing.T) {
	if _, err := NewRecorder(&failingWriter{}); !errors.Is(err, errDiskFull) {
		t.Errorf("NewRecorder = %v", err)
	}

	rec, err := NewRecorder(&failingWriter{n: 2})
	if err != nil {
		t.Fatal(err)
	}
	records := testRecords()
	if err := rec.Write(records[0]); err != nil {
		t.Fatal(err)
	}
	if err := rec.Write(records[1]); !errors.Is(err, errDiskFull) {
		t.Errorf("second write = %v", err)
	}
	if err := rec.Write(records[2]); !errors.Is(err, errDiskFull) {
		t.Errorf("write after failure = %v", err)
	}
	if rec.Count() != 1 || !errors.Is(rec.Err(), errDiskFull) {
		t.Errorf("count %d err %v", rec.Count(), rec.Err())
	}
}

func TestRecorderClose(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	rec, err := NewRecorder(bw)
	if err != nil {
		t.Fatal(err)
	}
	records := testRecords()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, r := range records {
				if err := rec.Write(r); err != nil && !errors.Is(err, ErrRecorderClosed) {
					t.Error(err)
				}
			}
		}()
	}
	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}
	wg.Wait()

	if err := rec.Write(records[0]); !errors.Is(err, ErrRecorderClosed) {
		t.Errorf("write after Close = %v", err)
	}
	rec.ReceiveSample(sampler.Sample{SamplerID: "late"})
	if err := rec.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}

	// Close flushed everything written before it.
	got, err := ReadRecording(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if uint64(len(got)) != rec.Count() {
		t.Errorf("read %d records, recorder wrote %d", len(got), rec.Count())
	}
}

func TestRecorderCloseReportsFlushError(t *testing.T) {
	bw := bufio.NewWriterSize(&failingWriter{}, 4096)
	rec, err := NewRecorder(bw)
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.Close(); !errors.Is(err, errDiskFull) {
		t.Errorf("Close = %v", err)
	}
	if !errors.Is(rec.Err(), errDiskFull) {
		t.Errorf("Err = %v", rec.Err())
	}
}
