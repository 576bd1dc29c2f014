package blob

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOffset(t *testing.T) {
	b := New(2, 3, 4, 5)

	tests := []struct {
		n, c, h, w int
		want       int
	}{
		{0, 0, 0, 0, 0},
		{0, 0, 0, 4, 4},
		{0, 0, 1, 0, 5},
		{0, 1, 0, 0, 20},
		{1, 0, 0, 0, 60},
		{1, 2, 3, 4, 119},
	}

	for _, test := range tests {
		t.Run(fmt.Sprintf("(%d,%d,%d,%d)", test.n, test.c, test.h, test.w), func(t *testing.T) {
			require.Equal(t, test.want, b.Offset(test.n, test.c, test.h, test.w))
		})
	}
}

func TestReshapeReusesBacking(t *testing.T) {
	b := New(4, 3, 8, 8)
	require.Equal(t, 4*3*8*8, len(b.Data))

	backing := &b.Data[0]
	b.Reshape(2, 3, 8, 8)
	require.Equal(t, 2*3*8*8, len(b.Data))
	require.Same(t, backing, &b.Data[0])

	b.Reshape(8, 3, 8, 8)
	require.Equal(t, 8*3*8*8, len(b.Data))
}

func TestSample(t *testing.T) {
	b := New(3, 2, 1, 2)
	for i := range b.Data {
		b.Data[i] = float32(i)
	}

	require.Equal(t, []float32{4, 5, 6, 7}, b.Sample(1))

	// writes through to the blob
	b.Sample(2)[0] = -1
	require.Equal(t, float32(-1), b.Data[8])
}

func TestCopyFrom(t *testing.T) {
	src := New(2, 1, 2, 2)
	for i := range src.Data {
		src.Data[i] = float32(i) * 0.5
	}

	var dst Blob
	dst.CopyFrom(src)

	require.True(t, dst.ShapeEquals(src))
	require.Equal(t, src.Data, dst.Data)

	// later source writes must not show up in the copy
	src.Data[0] = 99
	require.Equal(t, float32(0), dst.Data[0])
}
