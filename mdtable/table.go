package mdtable

import (
	"sort"

	"github.com/clrforge/clrmeta/bio"
	"github.com/clrforge/clrmeta/mderr"
	"github.com/clrforge/clrmeta/token"
)

// Row is one homogeneous table row: one uint32 slot per schema column,
// holding a row number, coded-index value, or heap offset — never a
// resolved pointer (spec.md §4.9 step 2: "not references").
type Row struct {
	Values []uint32
	Seq    int // insertion order, the sort tie-breaker (spec.md §4.3)
}

// Table is one of the 45 metadata tables: a homogeneous row sequence
// dispatched by table-id rather than by runtime type (spec.md §9's
// "fixed record keyed by table-id" hint).
type Table struct {
	ID     token.TableID
	Schema Schema
	Rows   []Row
}

// Append adds a row and returns its 1-based row number. Row numbers are
// provisional until Sort reassigns them (spec.md §4.8 step 3).
func (t *Table) Append(values []uint32) uint32 {
	t.Rows = append(t.Rows, Row{Values: values, Seq: len(t.Rows)})
	return uint32(len(t.Rows))
}

// Len returns the table's current row count.
func (t *Table) Len() uint32 { return uint32(len(t.Rows)) }

// HeapWidths carries the final on-disk widths of the three heap indexes
// that table columns use (#Strings, #Blob, #GUID),
// fixed once at the end of the build pipeline's sizing phase (spec.md
// §4.8 step 2) or parsed from a loaded image's header.
type HeapWidths struct {
	StringIdx int
	BlobIdx   int
	GUIDIdx   int
}

// Set holds all 45 tables, indexed by table-id.
type Set struct {
	tables [token.NumTables]*Table
}

// NewSet returns an empty Set with every table initialised from Schemas.
func NewSet() *Set {
	s := &Set{}
	for id, schema := range Schemas {
		s.tables[id] = &Table{ID: id, Schema: schema}
	}
	return s
}

// Table returns the table for id, which must be one of the 45 schema ids.
func (s *Set) Table(id token.TableID) *Table { return s.tables[id] }

// RowCounts returns each table's row count, the input coded/simple index
// widths are sized against (spec.md §4.8 step 2).
func (s *Set) RowCounts() map[token.TableID]uint32 {
	counts := make(map[token.TableID]uint32, token.NumTables)
	for id, t := range s.tables {
		if t != nil {
			counts[token.TableID(id)] = t.Len()
		}
	}
	return counts
}

// ValidMask returns the 64-bit "valid" bitmask of the #~ header: bit i set
// iff table i has at least one row (spec.md §6).
func (s *Set) ValidMask() uint64 {
	var mask uint64
	for id, t := range s.tables {
		if t != nil && t.Len() > 0 {
			mask |= 1 << uint(id)
		}
	}
	return mask
}

// Sort re-sorts every table named in SortColumns by its mandated key,
// then reassigns row numbers 1..n in the new order (spec.md §4.8 step 3).
// It returns the old->new row-number remapping per table so callers can
// fix up any coded/simple indexes that referenced the old numbering.
func (s *Set) Sort() map[token.TableID]map[uint32]uint32 {
	remap := make(map[token.TableID]map[uint32]uint32)
	for id, cols := range SortColumns {
		t := s.tables[id]
		if t == nil || len(t.Rows) == 0 {
			continue
		}
		oldOrder := make([]Row, len(t.Rows))
		copy(oldOrder, t.Rows)

		sort.SliceStable(t.Rows, func(a, b int) bool {
			ra, rb := t.Rows[a], t.Rows[b]
			for _, c := range cols {
				if ra.Values[c] != rb.Values[c] {
					return ra.Values[c] < rb.Values[c]
				}
			}
			return ra.Seq < rb.Seq
		})

		m := make(map[uint32]uint32, len(t.Rows))
		for newIdx, row := range t.Rows {
			oldRowNum := uint32(row.Seq + 1)
			m[oldRowNum] = uint32(newIdx + 1)
		}
		remap[id] = m
		_ = oldOrder
	}
	return remap
}

// ColumnWidth returns the on-disk byte width of one column given the final
// row counts and heap widths (spec.md §3).
func ColumnWidth(c Column, rowCounts map[token.TableID]uint32, hw HeapWidths) int {
	switch c.Kind {
	case ColU16:
		return 2
	case ColU32:
		return 4
	case ColStringIdx:
		return hw.StringIdx
	case ColBlobIdx:
		return hw.BlobIdx
	case ColGUIDIdx:
		return hw.GUIDIdx
	case ColSimpleIdx:
		return bio.IndexWidth(rowCounts[c.Target])
	case ColCodedIdx:
		return token.Width(c.Space, rowCounts)
	default:
		return 4
	}
}

// RowByteWidth returns the fixed per-row byte width for a table's schema.
func RowByteWidth(schema Schema, rowCounts map[token.TableID]uint32, hw HeapWidths) int {
	width := 0
	for _, c := range schema {
		width += ColumnWidth(c, rowCounts, hw)
	}
	return width
}

// Emit writes every row of t using widths derived from rowCounts/hw, in
// schema column order (spec.md §4.8 step 3: "write its columns using the
// now-final widths").
func (t *Table) Emit(w *bio.Writer, rowCounts map[token.TableID]uint32, hw HeapWidths) error {
	for _, row := range t.Rows {
		for i, c := range t.Schema {
			width := ColumnWidth(c, rowCounts, hw)
			v := row.Values[i]
			var err error
			switch width {
			case 2:
				if v > 0xFFFF {
					return mderr.New(mderr.PhaseTable, mderr.KindIndexOutOfRange).
						Detail("table %#x column %s value %d overflows 2-byte width", t.ID, c.Name, v).Build()
				}
				err = w.WriteU16(uint16(v))
			case 4:
				err = w.WriteU32(v)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// Load reads n rows of schema from r using the given widths, leaving every
// index field as a raw row number / coded value / heap offset for the
// resolution pass to fix up later (spec.md §4.9 step 2).
func Load(r *bio.Reader, schema Schema, n uint32, rowCounts map[token.TableID]uint32, hw HeapWidths) ([]Row, error) {
	rows := make([]Row, 0, n)
	for i := uint32(0); i < n; i++ {
		values := make([]uint32, len(schema))
		for ci, c := range schema {
			width := ColumnWidth(c, rowCounts, hw)
			var v uint32
			var err error
			switch width {
			case 2:
				var u16 uint16
				u16, err = r.ReadU16()
				v = uint32(u16)
			case 4:
				v, err = r.ReadU32()
			}
			if err != nil {
				return nil, err
			}
			values[ci] = v
		}
		rows = append(rows, Row{Values: values, Seq: int(i)})
	}
	return rows, nil
}
