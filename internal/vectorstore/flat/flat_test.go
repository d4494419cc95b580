package flat

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/vectorstore"
)

func newIndex(t *testing.T, vectors ...[]float32) *Index {
	t.Helper()
	x, err := New(len(vectors[0]))
	require.NoError(t, err)
	require.NoError(t, x.Add(vectors))
	return x
}

func TestNew_InvalidDimension(t *testing.T) {
	_, err := New(0)
	assert.Error(t, err)
}

func TestAdd_DimensionMismatch(t *testing.T) {
	x, err := New(2)
	require.NoError(t, err)
	assert.Error(t, x.Add([][]float32{{1, 2}, {1}}))
	assert.Equal(t, 0, x.Len(), "a rejected batch must not be partially applied")
}

func TestSearch_OrderedByAscendingDistance(t *testing.T) {
	x := newIndex(t, []float32{10, 0}, []float32{1, 0}, []float32{3, 0}, []float32{0, 0})

	hits, err := x.Search(context.Background(), []float32{0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []int64{3, 1, 2}, []int64{hits[0].Position, hits[1].Position, hits[2].Position})
	assert.Equal(t, float32(0), hits[0].Distance)
	assert.Equal(t, float32(1), hits[1].Distance)
	assert.Equal(t, float32(9), hits[2].Distance)
}

func TestSearch_TiesBrokenByPosition(t *testing.T) {
	x := newIndex(t, []float32{1, 0}, []float32{0, 1}, []float32{-1, 0})
	hits, err := x.Search(context.Background(), []float32{0, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(0), hits[0].Position)
	assert.Equal(t, int64(1), hits[1].Position)
	assert.Equal(t, int64(2), hits[2].Position)
}

func TestSearch_PadsWithNoMatch(t *testing.T) {
	x := newIndex(t, []float32{1, 1})
	hits, err := x.Search(context.Background(), []float32{0, 0}, 4)
	require.NoError(t, err)
	require.Len(t, hits, 4)
	assert.Equal(t, int64(0), hits[0].Position)
	for _, h := range hits[1:] {
		assert.Equal(t, vectorstore.NoMatch, h.Position)
	}
}

func TestSearch_QueryDimensionMismatch(t *testing.T) {
	x := newIndex(t, []float32{1, 1})
	_, err := x.Search(context.Background(), []float32{1}, 1)
	assert.Error(t, err)
}

func TestSearch_NonPositiveK(t *testing.T) {
	x := newIndex(t, []float32{1, 1})
	hits, err := x.Search(context.Background(), []float32{1, 1}, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestCodec_RoundTrip(t *testing.T) {
	x := newIndex(t, []float32{1.5, -2}, []float32{0.25, 8})
	id := [16]byte{1, 2, 3}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, x, id))
	assert.Equal(t, HeaderSize+2*2*4, buf.Len())

	got, gotID, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.Equal(t, 2, got.Len())
	assert.Equal(t, 2, got.Dimension())
	v, err := got.Vector(1)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, 8}, v)
}

func TestDecode_RejectsDamage(t *testing.T) {
	x := newIndex(t, []float32{1, 2}, []float32{3, 4})
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, x, [16]byte{}))
	blob := buf.Bytes()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short header", blob[:10]},
		{"bad magic", append([]byte("XXXXXXXX"), blob[8:]...)},
		{"truncated payload", blob[:len(blob)-3]},
		{"trailing bytes", append(append([]byte{}, blob...), 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(bytes.NewReader(tt.data))
			assert.ErrorIs(t, err, ErrInvalidBlob)
			_, _, err = DecodeSized(bytes.NewReader(tt.data), int64(len(tt.data)))
			assert.ErrorIs(t, err, ErrInvalidBlob)
		})
	}
}

func damagedHeader(dim, count uint64) []byte {
	hdr := make([]byte, HeaderSize)
	copy(hdr, fileMagic[:])
	binary.LittleEndian.PutUint64(hdr[8:16], dim)
	binary.LittleEndian.PutUint64(hdr[16:24], count)
	return hdr
}

func TestDecode_RejectsOversizedHeader(t *testing.T) {
	tests := []struct {
		name       string
		dim, count uint64
	}{
		{"huge dim", 1 << 30, 1},
		{"dim just over limit", MaxDimension + 1, 1},
		{"count beyond file", 2, 1 << 40},
		{"count overflows", 1, math.MaxUint64 / 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob := damagedHeader(tt.dim, tt.count)
			_, _, err := DecodeSized(bytes.NewReader(blob), int64(len(blob)))
			assert.ErrorIs(t, err, ErrInvalidBlob)
		})
	}

	blob := damagedHeader(1<<30, 1)
	_, _, err := Decode(bytes.NewReader(blob))
	assert.ErrorIs(t, err, ErrInvalidBlob)
}

func TestDecodeSized_AcceptsExactLength(t *testing.T) {
	x := newIndex(t, []float32{1, 2}, []float32{3, 4})
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, x, [16]byte{7}))

	got, id, err := DecodeSized(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.Equal(t, byte(7), id[0])
	assert.Equal(t, 2, got.Len())
}
