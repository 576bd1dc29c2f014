// Package blob holds the dense float32 tensors batches are produced
// into, using the fixed N x C x H x W layout of the downstream consumer.
package blob

import "fmt"

// Blob is a dense float32 tensor stored row-major in one flat slice.
type Blob struct {
	N, C, H, W int
	Data       []float32
}

// New allocates a zero-filled blob of the given shape.
func New(n, c, h, w int) *Blob {
	b := &Blob{}
	b.Reshape(n, c, h, w)
	return b
}

// Reshape resizes the blob, reallocating only when the backing slice is
// too small. Retained elements keep their values.
func (b *Blob) Reshape(n, c, h, w int) {
	count := n * c * h * w
	if cap(b.Data) < count {
		b.Data = make([]float32, count)
	} else {
		b.Data = b.Data[:count]
	}
	b.N, b.C, b.H, b.W = n, c, h, w
}

func (b *Blob) Count() int { return b.N * b.C * b.H * b.W }

// SampleSize is the element count of a single sample, C*H*W.
func (b *Blob) SampleSize() int { return b.C * b.H * b.W }

// Offset is the flat index of element (n, c, h, w).
func (b *Blob) Offset(n, c, h, w int) int {
	return ((n*b.C+c)*b.H+h)*b.W + w
}

// Sample returns the sub-slice backing sample n.
func (b *Blob) Sample(n int) []float32 {
	size := b.SampleSize()
	return b.Data[n*size : (n+1)*size]
}

// CopyFrom reshapes b to match src and copies its contents.
func (b *Blob) CopyFrom(src *Blob) {
	b.Reshape(src.N, src.C, src.H, src.W)
	copy(b.Data, src.Data)
}

func (b *Blob) ShapeEquals(o *Blob) bool {
	return b.N == o.N && b.C == o.C && b.H == o.H && b.W == o.W
}

func (b *Blob) String() string {
	return fmt.Sprintf("(%d, %d, %d, %d)", b.N, b.C, b.H, b.W)
}
