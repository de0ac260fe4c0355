// Package profile turns samples into something a person can read.
//
// Every sink in this package works on Records, copies of samples detached
// from the live interpreter: the Aggregator keeps running statistics, the
// Recorder streams records to a CBOR file, the Store keeps them in SQLite and
// the Server publishes aggregated snapshots over gRPC.
package profile

import (
	"fmt"
	"time"

	"github.com/gigfork/kahlua2/sampler"
)

// FrameRecord is one sampled frame. It names the function instead of
// pointing at it so that it can outlive the interpreter.
type FrameRecord struct {
	Native      bool   `cbor:"1,keyasint,omitempty"`
	Name        string `cbor:"2,keyasint,omitempty"`
	Source      string `cbor:"3,keyasint,omitempty"`
	LineDefined int    `cbor:"4,keyasint,omitempty"`
	Line        int    `cbor:"5,keyasint,omitempty"`
	PC          int    `cbor:"6,keyasint,omitempty"`
}

// Function labels the function the frame belongs to. Guest functions read
// "source:linedefined (name)", native ones "[native] name".
func (f FrameRecord) Function() string {
	if f.Native {
		return "[native] " + f.Name
	}
	if f.Name != "" {
		return fmt.Sprintf("%s:%d (%s)", f.Source, f.LineDefined, f.Name)
	}
	return fmt.Sprintf("%s:%d", f.Source, f.LineDefined)
}

func (f FrameRecord) String() string {
	if f.Native {
		return f.Function()
	}
	return fmt.Sprintf("%s:%d", f.Function(), f.Line)
}

// Record is a detached sample.
type Record struct {
	SamplerID   string        `cbor:"1,keyasint"`
	TimeNanos   int64         `cbor:"2,keyasint"`
	PeriodNanos int64         `cbor:"3,keyasint"`
	Frames      []FrameRecord `cbor:"4,keyasint"` // innermost first
}

// NewRecord detaches s from the interpreter.
func NewRecord(s sampler.Sample) Record {
	r := Record{
		SamplerID:   s.SamplerID,
		TimeNanos:   s.Time.UnixNano(),
		PeriodNanos: int64(s.Period),
		Frames:      make([]FrameRecord, 0, len(s.Frames)),
	}
	for _, f := range s.Frames {
		switch f.Kind {
		case sampler.Native:
			fr := FrameRecord{Native: true}
			if f.Native != nil {
				fr.Name = f.Native.Name
			}
			r.Frames = append(r.Frames, fr)
		case sampler.Guest:
			if f.Proto == nil {
				continue
			}
			r.Frames = append(r.Frames, FrameRecord{
				Name:        f.Proto.Name,
				Source:      f.Proto.Source,
				LineDefined: f.Proto.LineDefined,
				Line:        f.Line(),
				PC:          f.PC,
			})
		}
	}
	return r
}

func (r Record) Time() time.Time { return time.Unix(0, r.TimeNanos) }

func (r Record) Period() time.Duration { return time.Duration(r.PeriodNanos) }
