package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValueStringFormatting(t *testing.T) {
	require.Equal(t, "null", NullValue(TypeInt).String())
	require.Equal(t, "true", BoolValue(true).String())
	require.Equal(t, "false", BoolValue(false).String())
	require.Equal(t, "7.0", FloatValue(7).String())
	require.Equal(t, "7.5", FloatValue(7.5).String())
	require.Equal(t, "42", IntValue(42).String())
	require.Equal(t, "42", UIntValue(42).String())
	require.Equal(t, "hello", TextValue("hello").String())
}

func TestValueEqualNullIsAlwaysFalse(t *testing.T) {
	require.False(t, NullValue(TypeInt).Equal(NullValue(TypeInt)))
	require.False(t, IntValue(1).Equal(NullValue(TypeInt)))
	require.True(t, IntValue(1).Equal(IntValue(1)))
	require.False(t, IntValue(1).Equal(IntValue(2)))
}

func TestSchemaColumnIndexAndUniqueColumn(t *testing.T) {
	s := &Schema{Columns: []Column{
		{Name: "a", Type: TypeInt},
		{Name: "b", Type: TypeUInt, Unique: true},
	}}
	require.Equal(t, 0, s.ColumnIndex("a"))
	require.Equal(t, 1, s.ColumnIndex("b"))
	require.Equal(t, -1, s.ColumnIndex("zz"))
	require.Equal(t, 1, s.UniqueColumn())
}

func TestDataTypeNumeric(t *testing.T) {
	require.True(t, TypeInt.Numeric())
	require.True(t, TypeUInt.Numeric())
	require.True(t, TypeFloat.Numeric())
	require.False(t, TypeText.Numeric())
	require.False(t, TypeBool.Numeric())
}

func TestTupleClone(t *testing.T) {
	tup := Tuple{IntValue(1), TextValue("a")}
	clone := tup.Clone()
	clone[0] = IntValue(2)
	require.Equal(t, IntValue(1), tup[0])
	require.Equal(t, IntValue(2), clone[0])
}

func TestRIDString(t *testing.T) {
	r := RID{PageID: 3, Slot: 7}
	require.Equal(t, "(3,7)", r.String())
	require.False(t, r.Invalid())
	require.True(t, RID{}.Invalid())
}
