package extractor

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
)

// TensorWithShape is a named checkpoint tensor ready for serialization.
type TensorWithShape struct {
	Values []float32
	Shape  []int
	DType  string // "F32", "F16" or "BF16"
}

// LoadSafetensors reads a safetensors file and returns tensors by name
func LoadSafetensors(path string) (map[string][]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights: %w", err)
	}
	return LoadSafetensorsFromBytes(data)
}

// LoadSafetensorsFromBytes parses safetensors data. F32, F16 and BF16
// tensors are widened to float32; other dtypes are skipped.
func LoadSafetensorsFromBytes(data []byte) (map[string][]float32, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("data too short: need at least 8 bytes for header size")
	}

	// Read header size (first 8 bytes, little-endian)
	headerSize := binary.LittleEndian.Uint64(data[0:8])
	if uint64(len(data)-8) < headerSize {
		return nil, fmt.Errorf("data too short: header size %d but only %d bytes available", headerSize, len(data)-8)
	}

	var rawHeader map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerSize], &rawHeader); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	// Tensor data starts after header
	allData := data[8+headerSize:]

	tensors := make(map[string][]float32)
	for name, raw := range rawHeader {
		if name == "__metadata__" {
			continue
		}

		var info struct {
			DType   string `json:"dtype"`
			Shape   []int  `json:"shape"`
			Offsets []int  `json:"data_offsets"`
		}
		if err := json.Unmarshal(raw, &info); err != nil {
			return nil, fmt.Errorf("tensor %s: bad header entry: %w", name, err)
		}
		if len(info.Offsets) != 2 {
			return nil, fmt.Errorf("tensor %s: data_offsets must have 2 entries", name)
		}

		width := 0
		switch info.DType {
		case "F32":
			width = 4
		case "F16", "BF16":
			width = 2
		default:
			continue
		}

		numElements := 1
		for _, dim := range info.Shape {
			numElements *= dim
		}
		start := info.Offsets[0]
		if start < 0 || start+numElements*width > len(allData) {
			return nil, fmt.Errorf("tensor %s: data out of bounds", name)
		}

		values := make([]float32, numElements)
		for i := range values {
			off := start + i*width
			switch info.DType {
			case "F32":
				values[i] = math.Float32frombits(binary.LittleEndian.Uint32(allData[off:]))
			case "F16":
				values[i] = float16ToFloat32(binary.LittleEndian.Uint16(allData[off:]))
			case "BF16":
				values[i] = bfloat16ToFloat32(binary.LittleEndian.Uint16(allData[off:]))
			}
		}
		tensors[name] = values
	}

	return tensors, nil
}

// SaveSafetensors writes tensors to a safetensors file
func SaveSafetensors(path string, tensors map[string]TensorWithShape) error {
	data, err := SerializeSafetensors(tensors)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// SerializeSafetensors converts tensors to safetensors format bytes
func SerializeSafetensors(tensors map[string]TensorWithShape) ([]byte, error) {
	// Sort names for deterministic order
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]interface{}, len(names))
	offset := 0
	for _, name := range names {
		t := tensors[name]
		width := bytesPerElement(t.DType)
		if width == 0 {
			return nil, fmt.Errorf("tensor %s: unsupported dtype %q", name, t.DType)
		}
		size := len(t.Values) * width
		header[name] = map[string]interface{}{
			"dtype":        t.DType,
			"shape":        t.Shape,
			"data_offsets": []int{offset, offset + size},
		}
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal header: %w", err)
	}

	// [header_size (8 bytes)] [header JSON] [tensor data]
	headerSize := len(headerJSON)
	out := make([]byte, 8+headerSize+offset)
	binary.LittleEndian.PutUint64(out[0:8], uint64(headerSize))
	copy(out[8:], headerJSON)

	pos := 8 + headerSize
	for _, name := range names {
		t := tensors[name]
		for _, v := range t.Values {
			switch t.DType {
			case "F32":
				binary.LittleEndian.PutUint32(out[pos:], math.Float32bits(v))
				pos += 4
			case "F16":
				binary.LittleEndian.PutUint16(out[pos:], float32ToFloat16(v))
				pos += 2
			case "BF16":
				binary.LittleEndian.PutUint16(out[pos:], uint16(math.Float32bits(v)>>16))
				pos += 2
			}
		}
	}
	return out, nil
}

func bytesPerElement(dtype string) int {
	switch dtype {
	case "F32":
		return 4
	case "F16", "BF16":
		return 2
	default:
		return 0
	}
}

// float16ToFloat32 converts a float16 (half precision) to float32
func float16ToFloat32(f16 uint16) float32 {
	sign := uint32((f16 >> 15) & 0x1)
	exponent := uint32((f16 >> 10) & 0x1F)
	mantissa := uint32(f16 & 0x3FF)

	var f32bits uint32
	if exponent == 0 {
		if mantissa == 0 {
			f32bits = sign << 31
		} else {
			// Subnormal
			exponent = 1
			for (mantissa & 0x400) == 0 {
				mantissa <<= 1
				exponent--
			}
			mantissa &= 0x3FF
			f32bits = (sign << 31) | ((exponent + (127 - 15)) << 23) | (mantissa << 13)
		}
	} else if exponent == 0x1F {
		// Inf or NaN
		f32bits = (sign << 31) | (0xFF << 23) | (mantissa << 13)
	} else {
		f32bits = (sign << 31) | ((exponent + (127 - 15)) << 23) | (mantissa << 13)
	}
	return math.Float32frombits(f32bits)
}

// float32ToFloat16 truncates a float32 to half precision (round toward zero).
func float32ToFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16((bits >> 16) & 0x8000)
	exp := int((bits>>23)&0xFF) - 127 + 15
	mant := bits & 0x7FFFFF

	switch {
	case (bits>>23)&0xFF == 0xFF:
		if mant != 0 {
			return sign | 0x7E00
		}
		return sign | 0x7C00
	case exp >= 0x1F:
		return sign | 0x7C00
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		mant |= 0x800000
		return sign | uint16(mant>>uint(14-exp))
	default:
		return sign | uint16(exp<<10) | uint16(mant>>13)
	}
}

// bfloat16ToFloat32 converts a bfloat16 to float32
func bfloat16ToFloat32(bf16 uint16) float32 {
	return math.Float32frombits(uint32(bf16) << 16)
}
