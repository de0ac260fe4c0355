package profile

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/tliron/commonlog"

	"github.com/gigfork/kahlua2/sampler"
)

// RecordingMagic starts every recording.
const RecordingMagic = "kahlua-samples"

// RecordingVersion is bumped when Record changes incompatibly.
const RecordingVersion = 1

var (
	ErrNotRecording     = errors.New("profile: not a sample recording")
	ErrRecordingVersion = errors.New("profile: unsupported recording version")
	ErrRecorderClosed   = errors.New("profile: recorder closed")
)

type recordingHeader struct {
	Magic   string `cbor:"1,keyasint"`
	Version int    `cbor:"2,keyasint"`
}

var recordEncMode cbor.EncMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("profile: failed to create CBOR enc mode: %v", err))
	}
	recordEncMode = em
}

// Recorder is a Sink that appends every sample to a CBOR stream: a header
// item followed by one item per Record.
type Recorder struct {
	mu     sync.Mutex
	w      io.Writer
	enc    *cbor.Encoder
	closed bool
	n   uint64
	err error
	log commonlog.Logger
}

// NewRecorder writes the recording header to w and returns a Recorder
// appending to it. The caller owns w.
func NewRecorder(w io.Writer) (*Recorder, error) {
	enc := recordEncMode.NewEncoder(w)
	if err := enc.Encode(recordingHeader{Magic: RecordingMagic, Version: RecordingVersion}); err != nil {
		return nil, fmt.Errorf("writing recording header: %w", err)
	}
	return &Recorder{w: w, enc: enc, log: commonlog.GetLogger("kahlua.profile")}, nil
}

// ReceiveSample implements sampler.Sink. After the first write error the
// recorder discards samples; Err reports the error.
func (r *Recorder) ReceiveSample(s sampler.Sample) {
	if err := r.Write(NewRecord(s)); err != nil {
		r.log.Debugf("recorder: %v", err)
	}
}

// Write appends rec.
func (r *Recorder) Write(rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.closed {
		return ErrRecorderClosed
	}
	if err := r.enc.Encode(rec); err != nil {
		r.err = fmt.Errorf("writing record %d: %w", r.n, err)
		return r.err
	}
	r.n++
	return nil
}

// Close stops the recorder and flushes the underlying writer when it has a
// Flush method (a *bufio.Writer, say). Writes after Close fail with
// ErrRecorderClosed. Close returns the first write error, if any; it does
// not close the writer.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return r.err
	}
	r.closed = true
	if r.err != nil {
		return r.err
	}
	if f, ok := r.w.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			r.err = fmt.Errorf("flushing recording: %w", err)
		}
	}
	return r.err
}

// Count returns the number of records written.
func (r *Recorder) Count() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Err returns the first write error, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// ReadRecording decodes a stream written by a Recorder.
func ReadRecording(rd io.Reader) ([]Record, error) {
	dec := cbor.NewDecoder(rd)
	var hdr recordingHeader
	if err := dec.Decode(&hdr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotRecording, err)
	}
	if hdr.Magic != RecordingMagic {
		return nil, ErrNotRecording
	}
	if hdr.Version != RecordingVersion {
		return nil, fmt.Errorf("%w: %d", ErrRecordingVersion, hdr.Version)
	}

	var records []Record
	for {
		var rec Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return records, fmt.Errorf("reading record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
}
