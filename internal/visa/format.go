package visa

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DataFormat describes how an instrument transfers numeric arrays.
type DataFormat struct {
	Binary bool
	Bits   int
}

var (
	FormatASCII  = DataFormat{}
	FormatReal32 = DataFormat{Binary: true, Bits: 32}
	FormatReal64 = DataFormat{Binary: true, Bits: 64}
)

// ParseDataFormat accepts ascii, ascii,0, real, real,32 and real,64 in any case.
func ParseDataFormat(s string) (DataFormat, error) {
	f := strings.ToUpper(strings.TrimSpace(s))
	switch {
	case f == "":
		return FormatASCII, nil
	case strings.HasPrefix(f, "ASC"):
		return FormatASCII, nil
	case strings.HasPrefix(f, "REAL"):
		if strings.Contains(f, "64") {
			return FormatReal64, nil
		}
		return FormatReal32, nil
	}
	return DataFormat{}, fmt.Errorf("unknown data format %q", s)
}

// SCPI renders the format as a FORM:DATA argument.
func (f DataFormat) SCPI() string {
	if !f.Binary {
		return "ASCii,0"
	}
	if f.Bits == 64 {
		return "REAL,64"
	}
	return "REAL,32"
}

func (f DataFormat) String() string {
	if !f.Binary {
		return "ascii"
	}
	return fmt.Sprintf("real,%d", f.bits())
}

func (f DataFormat) bits() int {
	if f.Bits == 64 {
		return 64
	}
	return 32
}

// ParseASCIIValues splits a comma separated reply into floats.
func ParseASCIIValues(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	fields := strings.Split(s, ",")
	values := make([]float64, 0, len(fields))
	for _, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, fmt.Errorf("parse value %q: %w", field, err)
		}
		values = append(values, v)
	}
	return values, nil
}

// DecodeFloats decodes a binary block payload of 32 or 64 bit IEEE floats.
func DecodeFloats(data []byte, bits int, order binary.ByteOrder) ([]float64, error) {
	size := bits / 8
	if bits != 32 && bits != 64 {
		return nil, fmt.Errorf("unsupported float width %d", bits)
	}
	if len(data)%size != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrInvalidBlock, len(data), size)
	}
	values := make([]float64, len(data)/size)
	for i := range values {
		chunk := data[i*size : (i+1)*size]
		if bits == 64 {
			values[i] = math.Float64frombits(order.Uint64(chunk))
		} else {
			values[i] = float64(math.Float32frombits(order.Uint32(chunk)))
		}
	}
	return values, nil
}

// EncodeFloats packs values into an IEEE 488.2 definite-length block.
func EncodeFloats(values []float64, bits int, order binary.ByteOrder) []byte {
	size := bits / 8
	payload := make([]byte, len(values)*size)
	for i, v := range values {
		chunk := payload[i*size : (i+1)*size]
		if bits == 64 {
			order.PutUint64(chunk, math.Float64bits(v))
		} else {
			order.PutUint32(chunk, math.Float32bits(float32(v)))
		}
	}
	return EncodeBlock(payload)
}

// EncodeBlock wraps payload in a #<n><length><data> header.
func EncodeBlock(payload []byte) []byte {
	length := strconv.Itoa(len(payload))
	header := fmt.Sprintf("#%d%s", len(length), length)
	return append([]byte(header), payload...)
}
