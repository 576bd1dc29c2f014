package blob

import (
	"encoding/binary"
	"math"
	"os"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the serialized blob message a pixel mean is stored as.
const (
	meanFieldNum      = 1
	meanFieldChannels = 2
	meanFieldHeight   = 3
	meanFieldWidth    = 4
	meanFieldData     = 5
)

// ReadMeanFile loads a serialized pixel mean from disk.
func ReadMeanFile(path string) (*Blob, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read mean file %s", path)
	}
	b, err := UnmarshalMean(buf)
	if err != nil {
		return nil, errors.Wrapf(err, "decode mean file %s", path)
	}
	return b, nil
}

// UnmarshalMean decodes the binary mean format: varint dimension fields
// and a float payload, packed or element-wise. Unknown fields are
// skipped. All four dimensions must be present and the payload must
// match them exactly.
func UnmarshalMean(buf []byte) (*Blob, error) {
	var n, c, h, w int
	var data []float32

	for len(buf) > 0 {
		num, typ, tagLen := protowire.ConsumeTag(buf)
		if tagLen < 0 {
			return nil, protowire.ParseError(tagLen)
		}
		buf = buf[tagLen:]

		switch {
		case typ == protowire.VarintType && num >= meanFieldNum && num <= meanFieldWidth:
			v, m := protowire.ConsumeVarint(buf)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			buf = buf[m:]
			switch num {
			case meanFieldNum:
				n = int(int32(v))
			case meanFieldChannels:
				c = int(int32(v))
			case meanFieldHeight:
				h = int(int32(v))
			case meanFieldWidth:
				w = int(int32(v))
			}
		case num == meanFieldData && typ == protowire.BytesType:
			packed, m := protowire.ConsumeBytes(buf)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			buf = buf[m:]
			if len(packed)%4 != 0 {
				return nil, errors.Errorf("packed float payload of %d bytes is not a multiple of 4", len(packed))
			}
			for len(packed) > 0 {
				data = append(data, math.Float32frombits(binary.LittleEndian.Uint32(packed)))
				packed = packed[4:]
			}
		case num == meanFieldData && typ == protowire.Fixed32Type:
			v, m := protowire.ConsumeFixed32(buf)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			buf = buf[m:]
			data = append(data, math.Float32frombits(v))
		default:
			m := protowire.ConsumeFieldValue(num, typ, buf)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			buf = buf[m:]
		}
	}

	if n <= 0 || c <= 0 || h <= 0 || w <= 0 {
		return nil, errors.Errorf("mean is missing dimensions: (%d, %d, %d, %d)", n, c, h, w)
	}
	if len(data) != n*c*h*w {
		return nil, errors.Errorf("mean holds %d values, shape (%d, %d, %d, %d) wants %d",
			len(data), n, c, h, w, n*c*h*w)
	}

	return &Blob{N: n, C: c, H: h, W: w, Data: data}, nil
}

// MarshalMean encodes b in the binary mean format with a packed payload.
func MarshalMean(b *Blob) []byte {
	buf := protowire.AppendTag(nil, meanFieldNum, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(b.N))
	buf = protowire.AppendTag(buf, meanFieldChannels, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(b.C))
	buf = protowire.AppendTag(buf, meanFieldHeight, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(b.H))
	buf = protowire.AppendTag(buf, meanFieldWidth, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(b.W))
	buf = protowire.AppendTag(buf, meanFieldData, protowire.BytesType)
	buf = protowire.AppendVarint(buf, uint64(4*len(b.Data)))
	for _, v := range b.Data {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return buf
}

// WriteMeanFile serializes b to disk in the binary mean format.
func WriteMeanFile(path string, b *Blob) error {
	if err := os.WriteFile(path, MarshalMean(b), 0o644); err != nil {
		return errors.Wrapf(err, "write mean file %s", path)
	}
	return nil
}
