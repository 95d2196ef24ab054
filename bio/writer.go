package bio

import (
	"bytes"
	"encoding/binary"

	"github.com/clrforge/clrmeta/mderr"
)

// Writer accumulates little-endian bytes with an explicit freeze lifecycle:
// once Freeze is called (at the end of the build pipeline's sizing phase,
// spec.md §4.8), further writes fail with a ContractViolation instead of
// silently producing bytes whose index widths could still change. This
// generalizes the teacher's SafeBuffer commit/reset pattern (safe_buffer.go)
// into the sizing→emission boundary spec.md §5 requires.
type Writer struct {
	buf    bytes.Buffer
	frozen bool
}

// NewWriter returns an empty, unfrozen Writer.
func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) guard() error {
	if w.frozen {
		return mderr.New(mderr.PhaseBuild, mderr.KindContractViolation).
			Detail("write attempted after Writer was frozen").Build()
	}
	return nil
}

// Freeze marks the writer read-only. Idempotent.
func (w *Writer) Freeze() { w.frozen = true }

// Frozen reports whether Freeze has been called.
func (w *Writer) Frozen() bool { return w.frozen }

func (w *Writer) WriteU8(v uint8) error {
	if err := w.guard(); err != nil {
		return err
	}
	w.buf.WriteByte(v)
	return nil
}

func (w *Writer) WriteU16(v uint16) error {
	if err := w.guard(); err != nil {
		return err
	}
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
	return nil
}

func (w *Writer) WriteU32(v uint32) error {
	if err := w.guard(); err != nil {
		return err
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
	return nil
}

func (w *Writer) WriteU64(v uint64) error {
	if err := w.guard(); err != nil {
		return err
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
	return nil
}

func (w *Writer) WriteBytes(b []byte) error {
	if err := w.guard(); err != nil {
		return err
	}
	w.buf.Write(b)
	return nil
}

// WriteZeros appends n zero bytes, used for padding to alignment.
func (w *Writer) WriteZeros(n int) error {
	if err := w.guard(); err != nil {
		return err
	}
	w.buf.Write(make([]byte, n))
	return nil
}

func (w *Writer) WriteGUID(g [16]byte) error {
	return w.WriteBytes(g[:])
}

// WriteCompressedUint writes the ECMA-335 §II.23.2 compressed encoding of v.
func (w *Writer) WriteCompressedUint(v uint32) error {
	b, err := CompressUint(v)
	if err != nil {
		return err
	}
	return w.WriteBytes(b)
}

// WriteCompressedInt writes the ECMA-335 §II.23.2 compressed signed encoding.
func (w *Writer) WriteCompressedInt(v int32) error {
	b, err := CompressInt(v)
	if err != nil {
		return err
	}
	return w.WriteBytes(b)
}

// WriteIndex writes a table row reference at the given byte width (2 or 4),
// fixed once the build pipeline's sizing phase completes (spec.md §4.1).
func (w *Writer) WriteIndex(v uint32, width int) error {
	if width == 2 {
		if v > 0xFFFF {
			return mderr.New(mderr.PhaseBuild, mderr.KindIndexOutOfRange).
				Detail("row number %d does not fit in a 2-byte index", v).Build()
		}
		return w.WriteU16(uint16(v))
	}
	return w.WriteU32(v)
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return w.buf.Len() }

// Bytes returns the accumulated bytes. Safe to call whether or not frozen.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// EncodeUTF16LE returns s as UTF-16LE code units, for #US heap entries.
func EncodeUTF16LE(s string) []byte {
	var out []byte
	for _, r := range s {
		switch {
		case r < 0x10000:
			out = append(out, byte(r), byte(r>>8))
		default:
			r -= 0x10000
			hi := 0xD800 + (r >> 10)
			lo := 0xDC00 + (r & 0x3FF)
			out = append(out, byte(hi), byte(hi>>8), byte(lo), byte(lo>>8))
		}
	}
	return out
}

// IndexWidth returns 2 if rowCount fits a 16-bit index, else 4
// (spec.md §3, "Simple index").
func IndexWidth(rowCount uint32) int {
	if rowCount >= 1<<16 {
		return 4
	}
	return 2
}

// HeapIndexWidth returns 2 if a heap's total size fits a 16-bit offset,
// else 4 (spec.md §3, "Heap index").
func HeapIndexWidth(heapSize int) int {
	if heapSize >= 1<<16 {
		return 4
	}
	return 2
}
