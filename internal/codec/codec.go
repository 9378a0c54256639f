package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/timewave-computer/causality-sub006/internal/errs"
)

// Marshaler is implemented by values with a canonical binary form.
type Marshaler interface {
	EncodeTo(e *Encoder)
}

// Unmarshaler is implemented by values decodable from their canonical form.
type Unmarshaler interface {
	DecodeFrom(d *Decoder) error
}

// Encoder appends canonical encodings to an internal buffer.
//
// Writes never fail; the zero value is ready to use.
type Encoder struct {
	buf []byte

	// normalize rewrites strings to NFC. Only enabled when computing content
	// views, so that round-trip encoding stays byte-exact.
	normalize bool
}

// NewEncoder returns an Encoder with a preallocated buffer.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 128)}
}

// newContentEncoder returns an Encoder that NFC-normalizes strings.
func newContentEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 128), normalize: true}
}

// Bytes returns the encoded bytes.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Len returns the number of bytes written so far.
func (e *Encoder) Len() int {
	return len(e.buf)
}

func (e *Encoder) WriteU8(v uint8) {
	e.buf = append(e.buf, v)
}

func (e *Encoder) WriteU16(v uint16) {
	e.buf = binary.LittleEndian.AppendUint16(e.buf, v)
}

func (e *Encoder) WriteU32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *Encoder) WriteU64(v uint64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
}

func (e *Encoder) WriteI64(v int64) {
	e.WriteU64(uint64(v))
}

// WriteF64 writes the IEEE-754 bits of v.
func (e *Encoder) WriteF64(v float64) {
	e.WriteU64(math.Float64bits(v))
}

func (e *Encoder) WriteBool(v bool) {
	if v {
		e.buf = append(e.buf, 1)
		return
	}
	e.buf = append(e.buf, 0)
}

// WriteLen writes a sequence length prefix.
func (e *Encoder) WriteLen(n int) {
	e.WriteU64(uint64(n))
}

// WriteBytes writes a length-prefixed byte string.
func (e *Encoder) WriteBytes(b []byte) {
	e.WriteLen(len(b))
	e.buf = append(e.buf, b...)
}

// WriteFixed writes raw bytes with no length prefix (fixed-width fields).
func (e *Encoder) WriteFixed(b []byte) {
	e.buf = append(e.buf, b...)
}

// WriteString writes a length-prefixed UTF-8 string.
func (e *Encoder) WriteString(s string) {
	if e.normalize {
		s = norm.NFC.String(s)
	}
	e.WriteLen(len(s))
	e.buf = append(e.buf, s...)
}

// WriteOption writes the Option discriminant. When present is true the
// caller writes the payload next.
func (e *Encoder) WriteOption(present bool) {
	if present {
		e.buf = append(e.buf, 0x01)
		return
	}
	e.buf = append(e.buf, 0x00)
}

// WriteVariant writes a sum-type discriminant.
func (e *Encoder) WriteVariant(tag uint8) {
	e.WriteU8(tag)
}

// WriteStrings writes a sequence of strings in the given order.
func (e *Encoder) WriteStrings(ss []string) {
	e.WriteLen(len(ss))
	for _, s := range ss {
		e.WriteString(s)
	}
}

// WriteMap writes a string map as a sequence of (key, value) pairs sorted
// by key bytes. Nil and empty maps encode identically.
func (e *Encoder) WriteMap(m map[string]string) {
	keys := SortedKeys(m)
	e.WriteLen(len(keys))
	for _, k := range keys {
		e.WriteString(k)
		e.WriteString(m[k])
	}
}

// Write encodes a nested value.
func (e *Encoder) Write(v Marshaler) {
	v.EncodeTo(e)
}

// SortedKeys returns the keys of m in byte order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Decoder reads canonical encodings from a byte slice.
type Decoder struct {
	data []byte
	off  int
}

// NewDecoder returns a Decoder over data.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.data) - d.off
}

// Finish returns an error if unread bytes remain.
func (d *Decoder) Finish() error {
	if d.Remaining() != 0 {
		return decodeError("trailing bytes: %d", d.Remaining())
	}
	return nil
}

func (d *Decoder) take(n int) ([]byte, error) {
	if n < 0 || d.Remaining() < n {
		return nil, decodeError("unexpected end of input at offset %d (need %d bytes, have %d)", d.off, n, d.Remaining())
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *Decoder) ReadU8() (uint8, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Decoder) ReadU16() (uint16, error) {
	b, err := d.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (d *Decoder) ReadU32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *Decoder) ReadU64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (d *Decoder) ReadI64() (int64, error) {
	v, err := d.ReadU64()
	return int64(v), err
}

func (d *Decoder) ReadF64() (float64, error) {
	v, err := d.ReadU64()
	return math.Float64frombits(v), err
}

func (d *Decoder) ReadBool() (bool, error) {
	b, err := d.ReadU8()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, decodeError("invalid bool byte 0x%02x at offset %d", b, d.off-1)
	}
}

// ReadLen reads a sequence length and checks it against the remaining input,
// given the minimum encoded size of one element.
func (d *Decoder) ReadLen(minElem int) (int, error) {
	n, err := d.ReadU64()
	if err != nil {
		return 0, err
	}
	if minElem < 1 {
		minElem = 1
	}
	if n > uint64(d.Remaining()/minElem) {
		return 0, decodeError("length %d exceeds remaining input", n)
	}
	return int(n), nil
}

func (d *Decoder) ReadBytes() ([]byte, error) {
	n, err := d.ReadLen(1)
	if err != nil {
		return nil, err
	}
	b, err := d.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// ReadFixed reads exactly n raw bytes.
func (d *Decoder) ReadFixed(n int) ([]byte, error) {
	b, err := d.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (d *Decoder) ReadString() (string, error) {
	n, err := d.ReadLen(1)
	if err != nil {
		return "", err
	}
	b, err := d.take(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", decodeError("invalid UTF-8 string at offset %d", d.off-n)
	}
	return string(b), nil
}

// ReadOption reads an Option discriminant.
func (d *Decoder) ReadOption() (bool, error) {
	b, err := d.ReadU8()
	if err != nil {
		return false, err
	}
	switch b {
	case 0x00:
		return false, nil
	case 0x01:
		return true, nil
	default:
		return false, decodeError("invalid option tag 0x%02x", b)
	}
}

// ReadVariant reads a sum-type discriminant and checks it is below limit.
func (d *Decoder) ReadVariant(limit uint8) (uint8, error) {
	tag, err := d.ReadU8()
	if err != nil {
		return 0, err
	}
	if tag >= limit {
		return 0, decodeError("unknown variant %d", tag)
	}
	return tag, nil
}

func (d *Decoder) ReadStrings() ([]string, error) {
	n, err := d.ReadLen(8)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		s, err := d.ReadString()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// ReadMap reads a map written by WriteMap. Keys must be strictly ascending.
func (d *Decoder) ReadMap() (map[string]string, error) {
	n, err := d.ReadLen(16)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, n)
	prev := ""
	for i := 0; i < n; i++ {
		k, err := d.ReadString()
		if err != nil {
			return nil, err
		}
		if i > 0 && k <= prev {
			return nil, decodeError("map keys not in canonical order: %q after %q", k, prev)
		}
		v, err := d.ReadString()
		if err != nil {
			return nil, err
		}
		m[k] = v
		prev = k
	}
	return m, nil
}

// Read decodes a nested value.
func (d *Decoder) Read(v Unmarshaler) error {
	return v.DecodeFrom(d)
}

// Marshal returns the canonical encoding of v.
func Marshal(v Marshaler) []byte {
	e := NewEncoder()
	v.EncodeTo(e)
	return e.Bytes()
}

// Unmarshal decodes data into v. The entire input must be consumed.
func Unmarshal(data []byte, v Unmarshaler) error {
	d := NewDecoder(data)
	if err := v.DecodeFrom(d); err != nil {
		return err
	}
	return d.Finish()
}

func decodeError(format string, args ...any) error {
	return errs.New(errs.Serialization, "codec.decode", format, args...)
}

// Errorf wraps a decode failure for a named type.
func Errorf(typ string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("decode %s: %w", typ, err)
}
