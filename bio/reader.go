// Package bio provides the positioned little-endian byte I/O used by every
// other package in this module: a random-access Reader over an in-memory byte slice,
// and a Writer with an explicit commit lifecycle so that index widths are
// guaranteed final before any index is written (spec.md §4.1/§5).
package bio

import (
	"encoding/binary"
	"io"

	"github.com/clrforge/clrmeta/mderr"
)

// Reader is a positioned, little-endian reader over a fixed byte range.
type Reader struct {
	data []byte
	pos  int
}

// NewReader wraps an in-memory byte slice. The metadata root and each heap
// are fully buffered before any row is decoded (spec.md §5), so the core
// never needs an io.ReaderAt directly once pe.Envelope has carved out the
// slice.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) Len() int { return len(r.data) }
func (r *Reader) Pos() int { return r.pos }

// Seek repositions the cursor to an absolute offset.
func (r *Reader) Seek(offset int) error {
	if offset < 0 || offset > len(r.data) {
		return mderr.New(mderr.PhaseLoad, mderr.KindIndexOutOfRange).
			Detail("seek to %d exceeds buffer length %d", offset, len(r.data)).Build()
	}
	r.pos = offset
	return nil
}

func (r *Reader) need(n int) error {
	if r.pos+n > len(r.data) {
		return mderr.New(mderr.PhaseLoad, mderr.KindMalformedImage).
			Detail("truncated read: need %d bytes at offset %d, have %d", n, r.pos, len(r.data)-r.pos).Build()
	}
	return nil
}

func (r *Reader) ReadU8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) ReadU16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) ReadU32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) ReadU64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

// PeekU8 reads the next byte without advancing the cursor, used by the
// signature codec to look ahead for custom-modifier/sentinel/pinned bytes
// that are optional and self-describing (ECMA-335 §II.23.2).
func (r *Reader) PeekU8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	return r.data[r.pos], nil
}

// ReadBytes returns the next n bytes without copying past the buffer.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadGUID reads a 16-byte GUID in the on-disk field order.
func (r *Reader) ReadGUID() ([16]byte, error) {
	var g [16]byte
	b, err := r.ReadBytes(16)
	if err != nil {
		return g, err
	}
	copy(g[:], b)
	return g, nil
}

// ReadCompressedUint decodes an ECMA-335 §II.23.2 compressed uint at the
// current position.
func (r *Reader) ReadCompressedUint() (uint32, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v, n, err := DecompressUint(r.data[r.pos:])
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}

// ReadCompressedInt decodes an ECMA-335 §II.23.2 compressed signed int.
func (r *Reader) ReadCompressedInt() (int32, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v, n, err := DecompressInt(r.data[r.pos:])
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}

// ReadIndex reads a table row reference of the given byte width (2 or 4).
func (r *Reader) ReadIndex(width int) (uint32, error) {
	if width == 2 {
		v, err := r.ReadU16()
		return uint32(v), err
	}
	return r.ReadU32()
}

// ReadStringAt reads a null-terminated UTF-8 string from the #Strings heap
// bytes at the given offset. offset 0 is the empty string (spec.md §3).
func ReadStringAt(heapBytes []byte, offset uint32) (string, error) {
	if offset == 0 {
		return "", nil
	}
	if int(offset) >= len(heapBytes) {
		return "", mderr.New(mderr.PhaseLoad, mderr.KindIndexOutOfRange).
			Detail("#Strings offset %d exceeds heap size %d", offset, len(heapBytes)).Build()
	}
	end := int(offset)
	for end < len(heapBytes) && heapBytes[end] != 0 {
		end++
	}
	if end >= len(heapBytes) {
		return "", mderr.New(mderr.PhaseLoad, mderr.KindMalformedImage).
			Detail("#Strings entry at %d is not null-terminated", offset).Build()
	}
	return string(heapBytes[offset:end]), nil
}

// ReadBlobAt reads a length-prefixed blob from #Blob heap bytes at offset.
func ReadBlobAt(heapBytes []byte, offset uint32) ([]byte, error) {
	if offset == 0 {
		return nil, nil
	}
	if int(offset) >= len(heapBytes) {
		return nil, mderr.New(mderr.PhaseLoad, mderr.KindIndexOutOfRange).
			Detail("#Blob offset %d exceeds heap size %d", offset, len(heapBytes)).Build()
	}
	length, n, err := DecompressUint(heapBytes[offset:])
	if err != nil {
		return nil, err
	}
	start := int(offset) + n
	end := start + int(length)
	if end > len(heapBytes) {
		return nil, mderr.New(mderr.PhaseLoad, mderr.KindMalformedImage).
			Detail("#Blob entry at %d declares length %d past heap end", offset, length).Build()
	}
	return heapBytes[start:end], nil
}

// ReadUserStringAt reads a #US entry: a length-prefixed UTF-16LE string plus
// a terminal flag byte (spec.md §3).
func ReadUserStringAt(heapBytes []byte, offset uint32) (string, error) {
	if offset == 0 {
		return "", nil
	}
	raw, err := ReadBlobAt(heapBytes, offset)
	if err != nil {
		return "", err
	}
	if len(raw) == 0 {
		return "", nil
	}
	// Last byte is the terminal flag (spec.md §3); not part of the text.
	text := raw[:len(raw)-1]
	if len(text)%2 != 0 {
		return "", mderr.New(mderr.PhaseLoad, mderr.KindMalformedImage).
			Detail("#US entry at %d has odd UTF-16 byte length", offset).Build()
	}
	units := make([]uint16, len(text)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(text[i*2:])
	}
	return decodeUTF16(units), nil
}

func decodeUTF16(units []uint16) string {
	runes := make([]rune, 0, len(units))
	for i := 0; i < len(units); i++ {
		u := units[i]
		if u >= 0xD800 && u <= 0xDBFF && i+1 < len(units) {
			lo := units[i+1]
			if lo >= 0xDC00 && lo <= 0xDFFF {
				r := (rune(u-0xD800)<<10 | rune(lo-0xDC00)) + 0x10000
				runes = append(runes, r)
				i++
				continue
			}
		}
		runes = append(runes, rune(u))
	}
	return string(runes)
}

var _ io.ReaderAt = (*sliceReaderAt)(nil)

// sliceReaderAt adapts a []byte to io.ReaderAt, used when a component needs
// the io.ReaderAt shape (e.g. pe.Envelope) over data bio already buffered.
type sliceReaderAt struct{ data []byte }

func (s *sliceReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// AsReaderAt wraps a []byte as an io.ReaderAt.
func AsReaderAt(data []byte) io.ReaderAt { return &sliceReaderAt{data: data} }
