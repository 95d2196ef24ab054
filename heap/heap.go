// Package heap implements the four append-only metadata heaps — #Strings,
// #US, #Blob, #GUID — with content-addressed deduplication (spec.md §3,
// §4.2). Intern is pure and idempotent: the same input always yields the
// same offset/ordinal.
package heap

import (
	"github.com/google/uuid"

	"github.com/clrforge/clrmeta/bio"
	"github.com/clrforge/clrmeta/mderr"
)

// Kind identifies one of the four heaps.
type Kind int

const (
	Strings Kind = iota
	UserStrings
	Blob
	GUID
)

func (k Kind) String() string {
	switch k {
	case Strings:
		return "#Strings"
	case UserStrings:
		return "#US"
	case Blob:
		return "#Blob"
	case GUID:
		return "#GUID"
	default:
		return "?"
	}
}

// byteHeap is the shared implementation for #Strings, #US and #Blob: an
// append-only arena plus a content-addressed map from value to the offset
// it was first interned at.
type byteHeap struct {
	data   []byte
	index  map[string]uint32
	kind   Kind
}

func newByteHeap(kind Kind) *byteHeap {
	h := &byteHeap{kind: kind, index: make(map[string]uint32)}
	// Offset 0 is reserved "absent" for every byte heap (spec.md §3).
	h.data = append(h.data, 0)
	return h
}

// internString interns a null-terminated UTF-8 string into #Strings.
func (h *byteHeap) internString(s string) uint32 {
	if s == "" {
		return 0
	}
	key := "s:" + s
	if off, ok := h.index[key]; ok {
		return off
	}
	off := uint32(len(h.data))
	h.data = append(h.data, []byte(s)...)
	h.data = append(h.data, 0)
	h.index[key] = off
	return off
}

// internBlob interns a length-prefixed blob into #Blob.
func (h *byteHeap) internBlob(b []byte) uint32 {
	if len(b) == 0 {
		return 0
	}
	key := "b:" + string(b)
	if off, ok := h.index[key]; ok {
		return off
	}
	off := uint32(len(h.data))
	length, err := bio.CompressUint(uint32(len(b)))
	if err != nil {
		// Callers are expected to keep blobs under the compressed-uint
		// ceiling (spec.md §8); a signature or custom-attribute blob
		// this large indicates a malformed build input upstream.
		panic(err)
	}
	h.data = append(h.data, length...)
	h.data = append(h.data, b...)
	h.index[key] = off
	return off
}

// internUserString interns a #US entry: UTF-16LE text plus a terminal flag
// byte, length-prefixed as a whole (spec.md §3).
func (h *byteHeap) internUserString(s string) uint32 {
	units := bio.EncodeUTF16LE(s)
	flag := terminalFlag(s)
	payload := append(append([]byte{}, units...), flag)
	key := "u:" + string(payload)
	if off, ok := h.index[key]; ok {
		return off
	}
	off := uint32(len(h.data))
	length, err := bio.CompressUint(uint32(len(payload)))
	if err != nil {
		panic(err)
	}
	h.data = append(h.data, length...)
	h.data = append(h.data, payload...)
	h.index[key] = off
	return off
}

// terminalFlag implements the #US trailing flag byte: bit 0 set if any
// UTF-16 code unit has a high byte set or is one of a small set of special
// characters that force a narrow-string check at read time.
func terminalFlag(s string) byte {
	for _, r := range s {
		if r > 0xFF {
			return 1
		}
		switch r {
		case 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x0E, 0x0F,
			0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18, 0x19,
			0x1A, 0x1B, 0x1C, 0x1D, 0x1E, 0x1F, 0x27, 0x2D, 0x7F:
			return 1
		}
	}
	return 0
}

// guidHeap is #GUID: fixed 16-byte entries indexed by 1-based ordinal,
// deduplicated by value (spec.md §3).
type guidHeap struct {
	entries []([16]byte)
	index   map[[16]byte]uint32
}

func newGUIDHeap() *guidHeap {
	return &guidHeap{index: make(map[[16]byte]uint32)}
}

func (h *guidHeap) intern(g [16]byte) uint32 {
	if off, ok := h.index[g]; ok {
		return off
	}
	h.entries = append(h.entries, g)
	ordinal := uint32(len(h.entries))
	h.index[g] = ordinal
	return ordinal
}

// Manager owns all four heaps for one build or one loaded image.
type Manager struct {
	strings *byteHeap
	us      *byteHeap
	blob    *byteHeap
	guid    *guidHeap
	mvid    uint32
}

// NewManager returns an empty Manager with all four heaps initialised to
// their reserved-zero state.
func NewManager() *Manager {
	return &Manager{
		strings: newByteHeap(Strings),
		us:      newByteHeap(UserStrings),
		blob:    newByteHeap(Blob),
		guid:    newGUIDHeap(),
	}
}

// InternString interns s into #Strings and returns its byte offset.
func (m *Manager) InternString(s string) uint32 { return m.strings.internString(s) }

// InternBlob interns b into #Blob and returns its byte offset.
func (m *Manager) InternBlob(b []byte) uint32 { return m.blob.internBlob(b) }

// InternUserString interns s into #US and returns its byte offset.
func (m *Manager) InternUserString(s string) uint32 { return m.us.internUserString(s) }

// InternGUID interns g into #GUID and returns its 1-based ordinal.
func (m *Manager) InternGUID(g [16]byte) uint32 { return m.guid.intern(g) }

// NewMVID generates a fresh random GUID, interns it, and returns its
// ordinal — the domain stack's source of Module.MVID values (spec.md §3)
// when a model is built programmatically rather than loaded.
func (m *Manager) NewMVID() uint32 {
	if m.mvid != 0 {
		return m.mvid
	}
	id := uuid.New()
	var g [16]byte
	copy(g[:], id[:])
	m.mvid = m.guid.intern(g)
	return m.mvid
}

// StringsBytes returns the finalised #Strings heap bytes.
func (m *Manager) StringsBytes() []byte { return m.strings.data }

// USBytes returns the finalised #US heap bytes.
func (m *Manager) USBytes() []byte { return m.us.data }

// BlobBytes returns the finalised #Blob heap bytes.
func (m *Manager) BlobBytes() []byte { return m.blob.data }

// GUIDBytes returns the finalised #GUID heap bytes, one 16-byte entry per
// ordinal in order.
func (m *Manager) GUIDBytes() []byte {
	out := make([]byte, 0, len(m.guid.entries)*16)
	for _, g := range m.guid.entries {
		out = append(out, g[:]...)
	}
	return out
}

// HeapSizesFlag computes the #~ header's heapSizes byte (spec.md §4.2):
// bit 0 set if #Strings >= 2^16, bit 1 if #GUID >= 2^16, bit 2 if #Blob
// >= 2^16. #US has no bit here: no table column indexes #US, whose offsets
// appear only inside IL string tokens.
func (m *Manager) HeapSizesFlag() byte {
	var flag byte
	if len(m.strings.data) >= 1<<16 {
		flag |= 0x01
	}
	if len(m.guid.entries)*16 >= 1<<16 {
		flag |= 0x02
	}
	if len(m.blob.data) >= 1<<16 {
		flag |= 0x04
	}
	return flag
}

// StringIndexWidth, USIndexWidth, BlobIndexWidth, GUIDIndexWidth return the
// on-disk width (2 or 4) of indexes into each heap, derived from the same
// thresholds as HeapSizesFlag.
func (m *Manager) StringIndexWidth() int { return bio.HeapIndexWidth(len(m.strings.data)) }
func (m *Manager) USIndexWidth() int     { return bio.HeapIndexWidth(len(m.us.data)) }
func (m *Manager) BlobIndexWidth() int   { return bio.HeapIndexWidth(len(m.blob.data)) }
func (m *Manager) GUIDIndexWidth() int   { return bio.HeapIndexWidth(len(m.guid.entries) * 16) }

// LoadManager wraps already-decoded heap byte slices from a parsed image
// (spec.md §4.9 step 3: "Heap decoding... resolve lazily on access").
type LoadManager struct {
	StringsHeap []byte
	USHeap      []byte
	BlobHeap    []byte
	GUIDHeap    []byte
}

// String resolves a #Strings offset.
func (l *LoadManager) String(offset uint32) (string, error) {
	return bio.ReadStringAt(l.StringsHeap, offset)
}

// Blob resolves a #Blob offset.
func (l *LoadManager) Blob(offset uint32) ([]byte, error) {
	return bio.ReadBlobAt(l.BlobHeap, offset)
}

// UserString resolves a #US offset.
func (l *LoadManager) UserString(offset uint32) (string, error) {
	return bio.ReadUserStringAt(l.USHeap, offset)
}

// GUID resolves a 1-based #GUID ordinal.
func (l *LoadManager) GUID(ordinal uint32) ([16]byte, error) {
	var g [16]byte
	if ordinal == 0 {
		return g, nil
	}
	start := (ordinal - 1) * 16
	if int(start+16) > len(l.GUIDHeap) {
		return g, mderr.New(mderr.PhaseLoad, mderr.KindIndexOutOfRange).
			Detail("#GUID ordinal %d exceeds heap size", ordinal).Build()
	}
	copy(g[:], l.GUIDHeap[start:start+16])
	return g, nil
}
