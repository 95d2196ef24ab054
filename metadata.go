package clrmeta

import (
	"github.com/clrforge/clrmeta/bio"
	"github.com/clrforge/clrmeta/heap"
	"github.com/clrforge/clrmeta/mderr"
	"github.com/clrforge/clrmeta/mdtable"
	"github.com/clrforge/clrmeta/token"
)

const metadataSig = 0x424A5342 // "BSJB"

const (
	streamTableHeap = "#~"
	streamStrings   = "#Strings"
	streamUS        = "#US"
	streamGUID      = "#GUID"
	streamBlob      = "#Blob"
)

// metadataVersion is the runtime version string recorded in the metadata
// root, matching what ilasm/csc stamp on a CLR 4 image — the version this
// module writes carries no behavioural meaning for spec.md's purposes, but
// every consumer expects something version-shaped here.
const metadataVersion = "v4.0.30319"

type namedStream struct {
	name string
	data []byte
}

func align4(n int) int { return (n + 3) &^ 3 }

// buildMetadataRoot assembles the BSJB root and its five streams from a
// fully sorted, fully sized table Set and heap Manager (spec.md §4.8 step
// 4, the final piece of the build pipeline's sort-and-emit phase).
func buildMetadataRoot(tables *mdtable.Set, heaps *heap.Manager) ([]byte, error) {
	hw := mdtable.HeapWidths{
		StringIdx: heaps.StringIndexWidth(),
		BlobIdx:   heaps.BlobIndexWidth(),
		GUIDIdx:   heaps.GUIDIndexWidth(),
	}
	rowCounts := tables.RowCounts()

	tilde, err := buildTildeStream(tables, rowCounts, hw, heaps.HeapSizesFlag())
	if err != nil {
		return nil, err
	}

	return assembleRoot([]namedStream{
		{streamTableHeap, tilde},
		{streamStrings, heaps.StringsBytes()},
		{streamUS, heaps.USBytes()},
		{streamGUID, heaps.GUIDBytes()},
		{streamBlob, heaps.BlobBytes()},
	})
}

func assembleRoot(streams []namedStream) ([]byte, error) {
	prefix := bio.NewWriter()
	if err := prefix.WriteU32(metadataSig); err != nil {
		return nil, err
	}
	if err := prefix.WriteU16(1); err != nil {
		return nil, err
	}
	if err := prefix.WriteU16(1); err != nil {
		return nil, err
	}
	if err := prefix.WriteU32(0); err != nil {
		return nil, err
	}
	version := append([]byte(metadataVersion), 0)
	pad := align4(len(version)) - len(version)
	if err := prefix.WriteU32(uint32(len(version) + pad)); err != nil {
		return nil, err
	}
	if err := prefix.WriteBytes(version); err != nil {
		return nil, err
	}
	if err := prefix.WriteZeros(pad); err != nil {
		return nil, err
	}
	if err := prefix.WriteU16(0); err != nil {
		return nil, err
	}
	if err := prefix.WriteU16(uint16(len(streams))); err != nil {
		return nil, err
	}

	names := make([][]byte, len(streams))
	dirSize := 0
	for i, s := range streams {
		nb := append([]byte(s.name), 0)
		nb = append(nb, make([]byte, align4(len(nb))-len(nb))...)
		names[i] = nb
		dirSize += 8 + len(nb)
	}

	offsets := make([]uint32, len(streams))
	offset := uint32(prefix.Len() + dirSize)
	for i, s := range streams {
		offsets[i] = offset
		offset += uint32(align4(len(s.data)))
	}

	dir := bio.NewWriter()
	for i, s := range streams {
		if err := dir.WriteU32(offsets[i]); err != nil {
			return nil, err
		}
		if err := dir.WriteU32(uint32(len(s.data))); err != nil {
			return nil, err
		}
		if err := dir.WriteBytes(names[i]); err != nil {
			return nil, err
		}
	}

	out := bio.NewWriter()
	if err := out.WriteBytes(prefix.Bytes()); err != nil {
		return nil, err
	}
	if err := out.WriteBytes(dir.Bytes()); err != nil {
		return nil, err
	}
	for _, s := range streams {
		if err := out.WriteBytes(s.data); err != nil {
			return nil, err
		}
		if err := out.WriteZeros(align4(len(s.data)) - len(s.data)); err != nil {
			return nil, err
		}
	}
	out.Freeze()
	return out.Bytes(), nil
}

func buildTildeStream(tables *mdtable.Set, rowCounts map[token.TableID]uint32, hw mdtable.HeapWidths, heapSizes byte) ([]byte, error) {
	w := bio.NewWriter()
	if err := w.WriteU32(0); err != nil {
		return nil, err
	}
	if err := w.WriteU8(2); err != nil {
		return nil, err
	}
	if err := w.WriteU8(0); err != nil {
		return nil, err
	}
	if err := w.WriteU8(heapSizes); err != nil {
		return nil, err
	}
	if err := w.WriteU8(1); err != nil {
		return nil, err
	}
	if err := w.WriteU64(tables.ValidMask()); err != nil {
		return nil, err
	}
	if err := w.WriteU64(sortedMask()); err != nil {
		return nil, err
	}
	for id := token.TableID(0); id < token.NumTables; id++ {
		if rowCounts[id] > 0 {
			if err := w.WriteU32(rowCounts[id]); err != nil {
				return nil, err
			}
		}
	}
	for id := token.TableID(0); id < token.NumTables; id++ {
		t := tables.Table(id)
		if t == nil || t.Len() == 0 {
			continue
		}
		if err := t.Emit(w, rowCounts, hw); err != nil {
			return nil, err
		}
	}
	w.Freeze()
	return w.Bytes(), nil
}

// sortedMask returns the #~ header's Sorted bitvector. This module always
// sorts every table spec.md §4.3 names, so the bit is set for exactly the
// keys of mdtable.SortColumns regardless of the loaded image's own Sorted
// value (ECMA-335 readers treat Sorted as informational).
func sortedMask() uint64 {
	var mask uint64
	for id := range mdtable.SortColumns {
		mask |= 1 << uint(id)
	}
	return mask
}

type parsedStreams struct {
	tilde, strings, us, guid, blob []byte
}

// parseMetadataRoot decodes the BSJB root's stream directory and slices out
// each stream's raw bytes (spec.md §4.9 step 1).
func parseMetadataRoot(root []byte) (*parsedStreams, error) {
	r := bio.NewReader(root)
	sig, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if sig != metadataSig {
		return nil, mderr.New(mderr.PhaseLoad, mderr.KindMalformedImage).
			Detail("metadata root signature %#x, expected BSJB", sig).Build()
	}
	if _, err := r.ReadU16(); err != nil { // major version
		return nil, err
	}
	if _, err := r.ReadU16(); err != nil { // minor version
		return nil, err
	}
	if _, err := r.ReadU32(); err != nil { // reserved
		return nil, err
	}
	length, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if _, err := r.ReadBytes(int(length)); err != nil {
		return nil, err
	}
	if _, err := r.ReadU16(); err != nil { // flags
		return nil, err
	}
	count, err := r.ReadU16()
	if err != nil {
		return nil, err
	}

	ps := &parsedStreams{}
	for i := 0; i < int(count); i++ {
		off, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		name, err := readStreamName(r)
		if err != nil {
			return nil, err
		}
		if int(off+size) > len(root) {
			return nil, mderr.New(mderr.PhaseLoad, mderr.KindIndexOutOfRange).
				Detail("stream %q [%d:%d] exceeds metadata root length %d", name, off, off+size, len(root)).Build()
		}
		data := root[off : off+size]
		switch name {
		case streamTableHeap:
			ps.tilde = data
		case streamStrings:
			ps.strings = data
		case streamUS:
			ps.us = data
		case streamGUID:
			ps.guid = data
		case streamBlob:
			ps.blob = data
		}
	}
	if ps.tilde == nil {
		return nil, mderr.New(mderr.PhaseLoad, mderr.KindMalformedImage).
			Detail("metadata root has no #~ stream").Build()
	}
	return ps, nil
}

func readStreamName(r *bio.Reader) (string, error) {
	var b []byte
	for {
		c, err := r.ReadU8()
		if err != nil {
			return "", err
		}
		if c == 0 {
			break
		}
		b = append(b, c)
	}
	for r.Pos()%4 != 0 {
		if _, err := r.ReadU8(); err != nil {
			return "", err
		}
	}
	return string(b), nil
}

// parseTildeStream decodes the #~ header and every present table's rows
// (spec.md §4.9 step 2: "row materialisation... leaving indexes raw").
func parseTildeStream(tilde []byte) (map[token.TableID][]mdtable.Row, mdtable.HeapWidths, error) {
	r := bio.NewReader(tilde)
	if _, err := r.ReadU32(); err != nil { // reserved
		return nil, mdtable.HeapWidths{}, err
	}
	if _, err := r.ReadU8(); err != nil { // major version
		return nil, mdtable.HeapWidths{}, err
	}
	if _, err := r.ReadU8(); err != nil { // minor version
		return nil, mdtable.HeapWidths{}, err
	}
	heapSizes, err := r.ReadU8()
	if err != nil {
		return nil, mdtable.HeapWidths{}, err
	}
	if _, err := r.ReadU8(); err != nil { // reserved
		return nil, mdtable.HeapWidths{}, err
	}
	valid, err := r.ReadU64()
	if err != nil {
		return nil, mdtable.HeapWidths{}, err
	}
	if _, err := r.ReadU64(); err != nil { // sorted, informational only
		return nil, mdtable.HeapWidths{}, err
	}

	hw := mdtable.HeapWidths{StringIdx: 2, BlobIdx: 2, GUIDIdx: 2}
	if heapSizes&0x01 != 0 {
		hw.StringIdx = 4
	}
	if heapSizes&0x02 != 0 {
		hw.GUIDIdx = 4
	}
	if heapSizes&0x04 != 0 {
		hw.BlobIdx = 4
	}

	rowCounts := make(map[token.TableID]uint32, token.NumTables)
	for id := token.TableID(0); id < token.NumTables; id++ {
		if valid&(1<<uint(id)) != 0 {
			n, err := r.ReadU32()
			if err != nil {
				return nil, mdtable.HeapWidths{}, err
			}
			rowCounts[id] = n
		}
	}

	rows := make(map[token.TableID][]mdtable.Row, token.NumTables)
	for id := token.TableID(0); id < token.NumTables; id++ {
		if valid&(1<<uint(id)) == 0 {
			continue
		}
		schema, ok := mdtable.Schemas[id]
		if !ok {
			return nil, mdtable.HeapWidths{}, mderr.New(mderr.PhaseLoad, mderr.KindMalformedImage).
				Detail("Valid bitvector names unknown table %#x", id).Build()
		}
		rr, err := mdtable.Load(r, schema, rowCounts[id], rowCounts, hw)
		if err != nil {
			return nil, mdtable.HeapWidths{}, err
		}
		rows[id] = rr
	}
	return rows, hw, nil
}
