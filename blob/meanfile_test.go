package blob

import (
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestMeanRoundTrip(t *testing.T) {
	mean := New(1, 3, 2, 2)
	for i := range mean.Data {
		mean.Data[i] = float32(i) + 0.25
	}

	got, err := UnmarshalMean(MarshalMean(mean))
	require.NoError(t, err)
	require.True(t, got.ShapeEquals(mean))
	require.Equal(t, mean.Data, got.Data)
}

func TestMeanFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mean.binaryproto")

	mean := New(1, 1, 2, 3)
	copy(mean.Data, []float32{0, 1.5, -2, 3, 4, 128})
	require.NoError(t, WriteMeanFile(path, mean))

	got, err := ReadMeanFile(path)
	require.NoError(t, err)
	require.Equal(t, mean.Data, got.Data)
}

func TestUnmarshalMeanSkipsUnknownFields(t *testing.T) {
	buf := MarshalMean(New(1, 1, 1, 2))

	// trailing fields written by newer producers
	buf = protowire.AppendTag(buf, 7, protowire.BytesType)
	buf = protowire.AppendBytes(buf, []byte{0x08, 0x02})
	buf = protowire.AppendTag(buf, 9, protowire.VarintType)
	buf = protowire.AppendVarint(buf, 42)

	got, err := UnmarshalMean(buf)
	require.NoError(t, err)
	require.Equal(t, []float32{0, 0}, got.Data)
}

func TestUnmarshalMeanUnpackedFloats(t *testing.T) {
	buf := protowire.AppendTag(nil, meanFieldNum, protowire.VarintType)
	buf = protowire.AppendVarint(buf, 1)
	buf = protowire.AppendTag(buf, meanFieldChannels, protowire.VarintType)
	buf = protowire.AppendVarint(buf, 1)
	buf = protowire.AppendTag(buf, meanFieldHeight, protowire.VarintType)
	buf = protowire.AppendVarint(buf, 1)
	buf = protowire.AppendTag(buf, meanFieldWidth, protowire.VarintType)
	buf = protowire.AppendVarint(buf, 2)
	for _, v := range []float32{3.5, -1} {
		buf = protowire.AppendTag(buf, meanFieldData, protowire.Fixed32Type)
		buf = protowire.AppendFixed32(buf, math.Float32bits(v))
	}

	got, err := UnmarshalMean(buf)
	require.NoError(t, err)
	require.Equal(t, []float32{3.5, -1}, got.Data)
}

func TestUnmarshalMeanRejects(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"missing dimensions", func() []byte {
			b := protowire.AppendTag(nil, meanFieldNum, protowire.VarintType)
			return protowire.AppendVarint(b, 1)
		}()},
		{"payload shorter than shape", func() []byte {
			b := protowire.AppendTag(nil, meanFieldNum, protowire.VarintType)
			b = protowire.AppendVarint(b, 1)
			b = protowire.AppendTag(b, meanFieldChannels, protowire.VarintType)
			b = protowire.AppendVarint(b, 1)
			b = protowire.AppendTag(b, meanFieldHeight, protowire.VarintType)
			b = protowire.AppendVarint(b, 2)
			b = protowire.AppendTag(b, meanFieldWidth, protowire.VarintType)
			b = protowire.AppendVarint(b, 2)
			b = protowire.AppendTag(b, meanFieldData, protowire.BytesType)
			// three floats where the shape wants four
			b = protowire.AppendVarint(b, 12)
			for i := 0; i < 3; i++ {
				b = binary.LittleEndian.AppendUint32(b, 0)
			}
			return b
		}()},
		{"truncated payload", MarshalMean(New(1, 1, 1, 1))[:9]},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := UnmarshalMean(test.buf)
			require.Error(t, err)
		})
	}
}
