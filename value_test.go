package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_ZeroIsNull(t *testing.T) {
	var v Value
	assert.True(t, v.IsNull())
	assert.Equal(t, KindNull, v.Kind())
	assert.True(t, v.Equal(Null()))
}

func TestValue_Kinds(t *testing.T) {
	assert.Equal(t, KindInteger, Integer(7).Kind())
	assert.Equal(t, KindReal, Real(1.5).Kind())
	assert.Equal(t, KindText, Text("hi").Kind())
	assert.Equal(t, KindBlob, Blob([]byte{1, 2}).Kind())
}

func TestValue_Equal(t *testing.T) {
	assert.True(t, Integer(3).Equal(Integer(3)))
	assert.False(t, Integer(3).Equal(Integer(4)))
	assert.True(t, Blob([]byte("abc")).Equal(Blob([]byte("abc"))))
	assert.False(t, Text("3").Equal(Integer(3)))
	// Numeric equality does not cross kinds.
	assert.False(t, Integer(3).Equal(Real(3)))
}

func TestValue_BlobCopiesInput(t *testing.T) {
	buf := []byte{1, 2, 3}
	v := Blob(buf)
	buf[0] = 99

	got, ok, err := v.BlobValue()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestValue_Int64(t *testing.T) {
	n, ok, err := Integer(42).Int64()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(42), n)

	// NULL is the empty result, not an error.
	_, ok, err = Null().Int64()
	require.NoError(t, err)
	assert.False(t, ok)

	// Exact reals convert; fractional ones do not.
	n, ok, err = Real(8).Int64()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(8), n)

	_, _, err = Real(8.5).Int64()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.ErrorIs(t, err, ErrConversion)

	_, _, err = Text("42").Int64()
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestValue_Int32Range(t *testing.T) {
	_, _, err := Integer(1 << 40).Int32()
	assert.ErrorIs(t, err, ErrOutOfRange)

	n, ok, err := Integer(-5).Int32()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int32(-5), n)
}

func TestValue_Bool(t *testing.T) {
	b, ok, err := Integer(0).Bool()
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, b)

	b, _, err = Integer(-3).Bool()
	require.NoError(t, err)
	assert.True(t, b)

	_, _, err = Text("true").Bool()
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestValue_Float64Widens(t *testing.T) {
	f, ok, err := Integer(2).Float64()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2.0, f)
}

func TestValue_TextAndBlobStayDistinct(t *testing.T) {
	_, _, err := Text("abc").BlobValue()
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, _, err = Blob([]byte("abc")).TextValue()
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestValue_Time(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	got, ok, err := Text(want.Format(time.RFC3339Nano)).Time()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(want))

	got, ok, err = Integer(want.Unix()).Time()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(want))

	_, _, err = Text("not a timestamp").Time()
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestValueOf_Basics(t *testing.T) {
	cases := []struct {
		in   any
		want Value
	}{
		{nil, Null()},
		{true, Integer(1)},
		{false, Integer(0)},
		{int(7), Integer(7)},
		{int64(-2), Integer(-2)},
		{uint16(9), Integer(9)},
		{3.25, Real(3.25)},
		{"hi", Text("hi")},
		{[]byte{0xde}, Blob([]byte{0xde})},
		{Integer(5), Integer(5)},
	}
	for _, tc := range cases {
		got, err := ValueOf(tc.in)
		require.NoError(t, err, "ValueOf(%v)", tc.in)
		assert.True(t, got.Equal(tc.want), "ValueOf(%v) = %s, want %s", tc.in, got, tc.want)
	}
}

func TestValueOf_Uint64Overflow(t *testing.T) {
	_, err := ValueOf(uint64(1) << 63)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestValueOf_UnsupportedType(t *testing.T) {
	_, err := ValueOf(struct{ X int }{1})
	assert.ErrorIs(t, err, ErrBind)
}

type point struct{ x, y int64 }

func (p point) DatabaseValue() (Value, error) {
	return Text("point"), nil
}

func TestValueOf_Valuer(t *testing.T) {
	got, err := ValueOf(point{1, 2})
	require.NoError(t, err)
	assert.True(t, got.Equal(Text("point")))
}

func TestValueOf_TimeBindings(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	asText, err := valueOf(ts, TimeAsText)
	require.NoError(t, err)
	assert.Equal(t, KindText, asText.Kind())

	asEpoch, err := valueOf(ts, TimeAsEpoch)
	require.NoError(t, err)
	assert.True(t, asEpoch.Equal(Integer(ts.Unix())))
}

func TestValue_String(t *testing.T) {
	assert.Equal(t, "NULL", Null().String())
	assert.Equal(t, "42", Integer(42).String())
	assert.Equal(t, `"hi"`, Text("hi").String())
	assert.Equal(t, "blob(3 bytes)", Blob([]byte{1, 2, 3}).String())
}
