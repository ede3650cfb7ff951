// Package wire implements the fixed-order binary framing used to carry
// call and return envelopes between runtime processes (spec §6). Field
// order is significant and is never reordered across minor versions;
// unknown trailing bytes after the final `error` field are a decode
// error (see DESIGN.md "Open Question decisions").
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	majorVersion byte = '0'
	minorVersion byte = '0'
)

// CallKind distinguishes a call envelope from a return envelope.
type CallKind byte

const (
	KindCall   CallKind = 'c'
	KindReturn CallKind = 'r'
)

// Envelope is the wire-level representation of one call or return frame.
type Envelope struct {
	Receiver      string
	ReturnAddress string // empty if absent

	// Transport failure, set only on the wire by the transport layer
	// itself (not application code).
	FailureCode    string
	FailureMessage string

	CorrelationIDs []string
	ParentUID      string

	CallID string
	Kind   CallKind

	Call   *CallBody
	Return *ReturnBody
}

// CallBody is the payload of a call-kind envelope.
type CallBody struct {
	Lazy      bool
	ActorType string
	Action    string
	IDParts   []string
	Args      []Variant
}

// ReturnBody is the payload of a return-kind envelope.
type ReturnBody struct {
	HasResult bool
	Result    Variant
	ErrorJSON []byte // JSON-serialized ActionError, nil if no error
}

// Encode serializes an envelope per the spec §6 field order.
func Encode(e Envelope) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(majorVersion)
	buf.WriteByte(minorVersion)

	writeString(&buf, e.Receiver)
	writeOptString(&buf, e.ReturnAddress)

	writeOptString(&buf, e.FailureCode)
	writeOptString(&buf, e.FailureMessage)

	writeVaruint(&buf, uint64(len(e.CorrelationIDs)))
	for _, c := range e.CorrelationIDs {
		writeString(&buf, c)
	}
	writeOptString(&buf, e.ParentUID)

	writeString(&buf, e.CallID)
	buf.WriteByte(byte(e.Kind))

	switch e.Kind {
	case KindCall:
		if e.Call == nil {
			return nil, fmt.Errorf("wire: Encode: Kind=call but Call is nil")
		}
		if e.Call.Lazy {
			buf.WriteByte('t')
		} else {
			buf.WriteByte('f')
		}
		writeString(&buf, e.Call.ActorType)
		writeString(&buf, e.Call.Action)
		writeVaruint(&buf, uint64(len(e.Call.IDParts)))
		for _, p := range e.Call.IDParts {
			writeString(&buf, p)
		}
		writeVaruint(&buf, uint64(len(e.Call.Args)))
		for _, a := range e.Call.Args {
			if err := writeVariant(&buf, a); err != nil {
				return nil, err
			}
		}
	case KindReturn:
		if e.Return == nil {
			return nil, fmt.Errorf("wire: Encode: Kind=return but Return is nil")
		}
		if e.Return.HasResult {
			buf.WriteByte(1)
			if err := writeVariant(&buf, e.Return.Result); err != nil {
				return nil, err
			}
		} else {
			buf.WriteByte(0)
		}
		if e.Return.ErrorJSON != nil {
			buf.WriteByte(1)
			writeVaruint(&buf, uint64(len(e.Return.ErrorJSON)))
			buf.Write(e.Return.ErrorJSON)
		} else {
			buf.WriteByte(0)
		}
	default:
		return nil, fmt.Errorf("wire: Encode: unknown Kind: %v", e.Kind)
	}

	return buf.Bytes(), nil
}

// Decode is the inverse of Encode. Any unconsumed trailing bytes are a
// hard decode error.
func Decode(b []byte) (Envelope, error) {
	r := bytes.NewReader(b)
	var e Envelope

	major, err := r.ReadByte()
	if err != nil {
		return e, fmt.Errorf("wire: Decode: reading major version: %w", err)
	}
	if major != majorVersion {
		return e, fmt.Errorf("wire: Decode: unsupported major version: %q", major)
	}
	if _, err := r.ReadByte(); err != nil { // minor version, ignored
		return e, fmt.Errorf("wire: Decode: reading minor version: %w", err)
	}

	if e.Receiver, err = readString(r); err != nil {
		return e, fmt.Errorf("wire: Decode: Receiver: %w", err)
	}
	if e.ReturnAddress, err = readOptString(r); err != nil {
		return e, fmt.Errorf("wire: Decode: ReturnAddress: %w", err)
	}
	if e.FailureCode, err = readOptString(r); err != nil {
		return e, fmt.Errorf("wire: Decode: FailureCode: %w", err)
	}
	if e.FailureMessage, err = readOptString(r); err != nil {
		return e, fmt.Errorf("wire: Decode: FailureMessage: %w", err)
	}

	n, err := readVaruint(r)
	if err != nil {
		return e, fmt.Errorf("wire: Decode: CorrelationIDs length: %w", err)
	}
	e.CorrelationIDs = make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		s, err := readString(r)
		if err != nil {
			return e, fmt.Errorf("wire: Decode: CorrelationIDs[%d]: %w", i, err)
		}
		e.CorrelationIDs = append(e.CorrelationIDs, s)
	}
	if e.ParentUID, err = readOptString(r); err != nil {
		return e, fmt.Errorf("wire: Decode: ParentUID: %w", err)
	}

	if e.CallID, err = readString(r); err != nil {
		return e, fmt.Errorf("wire: Decode: CallID: %w", err)
	}
	kindByte, err := r.ReadByte()
	if err != nil {
		return e, fmt.Errorf("wire: Decode: Kind: %w", err)
	}
	e.Kind = CallKind(kindByte)

	switch e.Kind {
	case KindCall:
		cb := &CallBody{}
		lazyByte, err := r.ReadByte()
		if err != nil {
			return e, fmt.Errorf("wire: Decode: Lazy: %w", err)
		}
		cb.Lazy = lazyByte == 't'
		if cb.ActorType, err = readString(r); err != nil {
			return e, fmt.Errorf("wire: Decode: ActorType: %w", err)
		}
		if cb.Action, err = readString(r); err != nil {
			return e, fmt.Errorf("wire: Decode: Action: %w", err)
		}
		idCount, err := readVaruint(r)
		if err != nil {
			return e, fmt.Errorf("wire: Decode: idPartCount: %w", err)
		}
		cb.IDParts = make([]string, 0, idCount)
		for i := uint64(0); i < idCount; i++ {
			s, err := readString(r)
			if err != nil {
				return e, fmt.Errorf("wire: Decode: idParts[%d]: %w", i, err)
			}
			cb.IDParts = append(cb.IDParts, s)
		}
		argCount, err := readVaruint(r)
		if err != nil {
			return e, fmt.Errorf("wire: Decode: argCount: %w", err)
		}
		cb.Args = make([]Variant, 0, argCount)
		for i := uint64(0); i < argCount; i++ {
			v, err := readVariant(r)
			if err != nil {
				return e, fmt.Errorf("wire: Decode: args[%d]: %w", i, err)
			}
			cb.Args = append(cb.Args, v)
		}
		e.Call = cb
	case KindReturn:
		rb := &ReturnBody{}
		hasResult, err := r.ReadByte()
		if err != nil {
			return e, fmt.Errorf("wire: Decode: hasResult: %w", err)
		}
		if hasResult == 1 {
			v, err := readVariant(r)
			if err != nil {
				return e, fmt.Errorf("wire: Decode: result: %w", err)
			}
			rb.HasResult = true
			rb.Result = v
		}
		hasError, err := r.ReadByte()
		if err != nil {
			return e, fmt.Errorf("wire: Decode: hasError: %w", err)
		}
		if hasError == 1 {
			elen, err := readVaruint(r)
			if err != nil {
				return e, fmt.Errorf("wire: Decode: error length: %w", err)
			}
			buf := make([]byte, elen)
			if _, err := readFull(r, buf); err != nil {
				return e, fmt.Errorf("wire: Decode: error bytes: %w", err)
			}
			rb.ErrorJSON = buf
		}
		e.Return = rb
	default:
		return e, fmt.Errorf("wire: Decode: unknown Kind byte: %q", kindByte)
	}

	if r.Len() != 0 {
		return e, fmt.Errorf("wire: Decode: %d unexpected trailing bytes", r.Len())
	}

	return e, nil
}

func writeVariant(buf *bytes.Buffer, v Variant) error {
	buf.WriteByte(byte(v.tag))
	switch v.tag {
	case tagNull:
	case tagBool:
		if v.b {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case tagInt:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], uint64(v.i))
		buf.Write(tmp[:])
	case tagFloat:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], math.Float64bits(v.f))
		buf.Write(tmp[:])
	case tagString:
		writeString(buf, v.s)
	case tagBytes:
		writeVaruint(buf, uint64(len(v.bytes)))
		buf.Write(v.bytes)
	case tagArray:
		writeVaruint(buf, uint64(len(v.arr)))
		for _, el := range v.arr {
			if err := writeVariant(buf, el); err != nil {
				return err
			}
		}
	case tagMap:
		writeVaruint(buf, uint64(len(v.m)))
		for k, el := range v.m {
			writeString(buf, k)
			if err := writeVariant(buf, el); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("wire: writeVariant: unknown tag: %v", v.tag)
	}
	return nil
}

func readVariant(r *bytes.Reader) (Variant, error) {
	tagByte, err := r.ReadByte()
	if err != nil {
		return Variant{}, err
	}
	tag := variantTag(tagByte)
	switch tag {
	case tagNull:
		return Variant{tag: tagNull, null: true}, nil
	case tagBool:
		b, err := r.ReadByte()
		if err != nil {
			return Variant{}, err
		}
		return BoolVariant(b == 1), nil
	case tagInt:
		var tmp [8]byte
		if _, err := readFull(r, tmp[:]); err != nil {
			return Variant{}, err
		}
		return IntVariant(int64(binary.BigEndian.Uint64(tmp[:]))), nil
	case tagFloat:
		var tmp [8]byte
		if _, err := readFull(r, tmp[:]); err != nil {
			return Variant{}, err
		}
		return FloatVariant(math.Float64frombits(binary.BigEndian.Uint64(tmp[:]))), nil
	case tagString:
		s, err := readString(r)
		if err != nil {
			return Variant{}, err
		}
		return StringVariant(s), nil
	case tagBytes:
		n, err := readVaruint(r)
		if err != nil {
			return Variant{}, err
		}
		buf := make([]byte, n)
		if _, err := readFull(r, buf); err != nil {
			return Variant{}, err
		}
		return Variant{tag: tagBytes, bytes: buf}, nil
	case tagArray:
		n, err := readVaruint(r)
		if err != nil {
			return Variant{}, err
		}
		arr := make([]Variant, 0, n)
		for i := uint64(0); i < n; i++ {
			v, err := readVariant(r)
			if err != nil {
				return Variant{}, err
			}
			arr = append(arr, v)
		}
		return ArrayVariant(arr), nil
	case tagMap:
		n, err := readVaruint(r)
		if err != nil {
			return Variant{}, err
		}
		m := make(map[string]Variant, n)
		for i := uint64(0); i < n; i++ {
			k, err := readString(r)
			if err != nil {
				return Variant{}, err
			}
			v, err := readVariant(r)
			if err != nil {
				return Variant{}, err
			}
			m[k] = v
		}
		return MapVariant(m), nil
	default:
		return Variant{}, fmt.Errorf("wire: readVariant: unknown tag: %v", tag)
	}
}

func writeString(buf *bytes.Buffer, s string) {
	writeVaruint(buf, uint64(len(s)))
	buf.WriteString(s)
}

// writeOptString encodes an "optional string" as a presence byte followed
// by the string bytes when present. An empty string is treated as absent,
// matching the `string?` fields in spec §6 (receiver/return-address/etc
// are never meaningfully distinguished from "" in this system).
func writeOptString(buf *bytes.Buffer, s string) {
	if s == "" {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	writeString(buf, s)
}

func readOptString(r *bytes.Reader) (string, error) {
	present, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if present == 0 {
		return "", nil
	}
	return readString(r)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readVaruint(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := readFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, fmt.Errorf("wire: unexpected EOF")
		}
	}
	return total, nil
}

// writeVaruint writes an unsigned LEB128 varint.
func writeVaruint(buf *bytes.Buffer, v uint64) {
	for v >= 0x80 {
		buf.WriteByte(byte(v) | 0x80)
		v >>= 7
	}
	buf.WriteByte(byte(v))
}

func readVaruint(r *bytes.Reader) (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, fmt.Errorf("wire: varuint overflow")
		}
	}
}
