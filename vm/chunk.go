package vm

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/gigfork/kahlua2/isa"
)

// ---------------------------------------------------------------------------
// Binary chunks
// ---------------------------------------------------------------------------

// ChunkSignature starts every binary chunk.
const ChunkSignature = "\x1bKahlua"

// ErrChunkVersion is returned by Undump for chunks built against another
// instruction set version.
var ErrChunkVersion = errors.New("chunk: instruction set version mismatch")

// chunkHeader and the records below are the CBOR layout of a dumped
// prototype tree.
type chunkHeader struct {
	Version int        `cbor:"1,keyasint"`
	Main    chunkProto `cbor:"2,keyasint"`
}

type chunkProto struct {
	Name            string          `cbor:"1,keyasint,omitempty"`
	Source          string          `cbor:"2,keyasint"`
	LineDefined     int             `cbor:"3,keyasint"`
	LastLineDefined int             `cbor:"4,keyasint"`
	NumParams       int             `cbor:"5,keyasint"`
	IsVararg        bool            `cbor:"6,keyasint"`
	MaxStack        int             `cbor:"7,keyasint"`
	NumUpvalues     int             `cbor:"8,keyasint"`
	Code            []uint32        `cbor:"9,keyasint"`
	Constants       []chunkConstant `cbor:"10,keyasint"`
	Protos          []chunkProto    `cbor:"11,keyasint,omitempty"`
	LineInfo        []int32         `cbor:"12,keyasint,omitempty"`
	UpvalueNames    []string        `cbor:"13,keyasint,omitempty"`
}

type constKind uint8

const (
	constNil constKind = iota
	constBool
	constNumber
	constString
)

type chunkConstant struct {
	Kind constKind `cbor:"1,keyasint"`
	Bool bool      `cbor:"2,keyasint,omitempty"`
	Num  float64   `cbor:"3,keyasint,omitempty"`
	Str  string    `cbor:"4,keyasint,omitempty"`
}

var chunkEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	chunkEncMode = em
}

// IsBinaryChunk reports whether data starts with the chunk signature.
func IsBinaryChunk(data []byte) bool {
	return bytes.HasPrefix(data, []byte(ChunkSignature))
}

// Dump writes p and its nested prototypes as a binary chunk.
func Dump(p *Prototype, w io.Writer) error {
	data, err := chunkEncMode.Marshal(&chunkHeader{Version: isa.Version, Main: dumpProto(p)})
	if err != nil {
		return fmt.Errorf("chunk: marshal: %w", err)
	}
	if _, err := io.WriteString(w, ChunkSignature); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Undump reads a binary chunk written by Dump and validates it.
func Undump(r io.Reader) (*Prototype, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return UndumpBytes(data)
}

// UndumpBytes is Undump over an in-memory chunk.
func UndumpBytes(data []byte) (*Prototype, error) {
	if !IsBinaryChunk(data) {
		return nil, errors.New("chunk: bad signature")
	}
	var h chunkHeader
	if err := cbor.Unmarshal(data[len(ChunkSignature):], &h); err != nil {
		return nil, fmt.Errorf("chunk: unmarshal: %w", err)
	}
	if h.Version != isa.Version {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrChunkVersion, h.Version, isa.Version)
	}
	p, err := undumpProto(&h.Main)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("chunk: %w", err)
	}
	return p, nil
}

func dumpProto(p *Prototype) chunkProto {
	c := chunkProto{
		Name:            p.Name,
		Source:          p.Source,
		LineDefined:     p.LineDefined,
		LastLineDefined: p.LastLineDefined,
		NumParams:       p.NumParams,
		IsVararg:        p.IsVararg,
		MaxStack:        p.MaxStack,
		NumUpvalues:     p.NumUpvalues,
		Code:            make([]uint32, len(p.Code)),
		Constants:       make([]chunkConstant, len(p.Constants)),
		LineInfo:        p.LineInfo,
		UpvalueNames:    p.UpvalueNames,
	}
	for i, ins := range p.Code {
		c.Code[i] = uint32(ins)
	}
	for i, k := range p.Constants {
		switch k := k.(type) {
		case bool:
			c.Constants[i] = chunkConstant{Kind: constBool, Bool: k}
		case float64:
			c.Constants[i] = chunkConstant{Kind: constNumber, Num: k}
		case string:
			c.Constants[i] = chunkConstant{Kind: constString, Str: k}
		}
	}
	for _, child := range p.Protos {
		c.Protos = append(c.Protos, dumpProto(child))
	}
	return c
}

func undumpProto(c *chunkProto) (*Prototype, error) {
	p := &Prototype{
		Name:            c.Name,
		Source:          c.Source,
		LineDefined:     c.LineDefined,
		LastLineDefined: c.LastLineDefined,
		NumParams:       c.NumParams,
		IsVararg:        c.IsVararg,
		MaxStack:        c.MaxStack,
		NumUpvalues:     c.NumUpvalues,
		Code:            make([]isa.Instruction, len(c.Code)),
		Constants:       make([]Value, len(c.Constants)),
		LineInfo:        c.LineInfo,
		UpvalueNames:    c.UpvalueNames,
	}
	for i, w := range c.Code {
		p.Code[i] = isa.Instruction(w)
	}
	for i, k := range c.Constants {
		switch k.Kind {
		case constNil:
		case constBool:
			p.Constants[i] = k.Bool
		case constNumber:
			p.Constants[i] = k.Num
		case constString:
			p.Constants[i] = k.Str
		default:
			return nil, fmt.Errorf("chunk: bad constant kind %d", k.Kind)
		}
	}
	for i := range c.Protos {
		child, err := undumpProto(&c.Protos[i])
		if err != nil {
			return nil, err
		}
		p.Protos = append(p.Protos, child)
	}
	return p, nil
}
