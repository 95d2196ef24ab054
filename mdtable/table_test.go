package mdtable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clrforge/clrmeta/bio"
	"github.com/clrforge/clrmeta/token"
)

func TestNewSetCoversAllTables(t *testing.T) {
	s := NewSet()
	for id := token.TableID(0); id < token.NumTables; id++ {
		require.NotNil(t, s.Table(id), "table %#x missing", id)
	}
}

func TestAppendAssignsSequentialRowNumbers(t *testing.T) {
	s := NewSet()
	tbl := s.Table(token.Field)
	r1 := tbl.Append([]uint32{0, 1, 0})
	r2 := tbl.Append([]uint32{0, 2, 0})
	require.EqualValues(t, 1, r1)
	require.EqualValues(t, 2, r2)
	require.EqualValues(t, 2, tbl.Len())
}

func TestValidMaskSetOnlyForNonEmptyTables(t *testing.T) {
	s := NewSet()
	s.Table(token.Module).Append([]uint32{0, 0, 0, 0, 0})
	mask := s.ValidMask()
	require.NotZero(t, mask&(1<<uint(token.Module)))
	require.Zero(t, mask&(1<<uint(token.TypeDef)))
}

func TestSortNestedClassByNestedRowNumber(t *testing.T) {
	s := NewSet()
	tbl := s.Table(token.NestedClass)
	tbl.Append([]uint32{5, 1})
	tbl.Append([]uint32{2, 1})
	tbl.Append([]uint32{3, 1})
	s.Sort()
	require.EqualValues(t, 2, tbl.Rows[0].Values[0])
	require.EqualValues(t, 3, tbl.Rows[1].Values[0])
	require.EqualValues(t, 5, tbl.Rows[2].Values[0])
}

func TestSortGenericParamByOwnerThenNumber(t *testing.T) {
	s := NewSet()
	tbl := s.Table(token.GenericParam)
	tbl.Append([]uint32{1, 0, 20, 1}) // Owner=20, Number=1
	tbl.Append([]uint32{0, 0, 20, 2}) // Owner=20, Number=0
	tbl.Append([]uint32{0, 0, 10, 3}) // Owner=10, Number=0
	s.Sort()
	require.EqualValues(t, 10, tbl.Rows[0].Values[2])
	require.EqualValues(t, 20, tbl.Rows[1].Values[2])
	require.EqualValues(t, 0, tbl.Rows[1].Values[0])
	require.EqualValues(t, 20, tbl.Rows[2].Values[2])
	require.EqualValues(t, 1, tbl.Rows[2].Values[0])
}

func TestEmitAndLoadRoundTrip(t *testing.T) {
	s := NewSet()
	tbl := s.Table(token.TypeDef)
	tbl.Append([]uint32{0x100001, 7, 0, 0, 1, 1})

	hw := HeapWidths{StringIdx: 2, BlobIdx: 2, GUIDIdx: 2}
	rowCounts := s.RowCounts()

	w := bio.NewWriter()
	require.NoError(t, tbl.Emit(w, rowCounts, hw))

	r := bio.NewReader(w.Bytes())
	rows, err := Load(r, tbl.Schema, tbl.Len(), rowCounts, hw)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, tbl.Rows[0].Values, rows[0].Values)
}

func TestColumnWidthEscalatesWithRowCount(t *testing.T) {
	hw := HeapWidths{StringIdx: 2, BlobIdx: 2, GUIDIdx: 2}
	small := map[token.TableID]uint32{token.Field: 10}
	c := Column{Kind: ColSimpleIdx, Target: token.Field}
	require.Equal(t, 2, ColumnWidth(c, small, hw))

	large := map[token.TableID]uint32{token.Field: 1 << 16}
	require.Equal(t, 4, ColumnWidth(c, large, hw))
}
