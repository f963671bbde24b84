package onnx

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/samcharles93/tradepolicy/internal/tensor"
)

// ToTensor converts an initializer or Constant value into a dense tensor.
// Floating types widen or narrow to float32; integer and bool types become
// int64.
func ToTensor(tp *TensorProto) (*tensor.Tensor, error) {
	if tp.External {
		return nil, fmt.Errorf("%w: tensor %q uses external data", ErrUnsupported, tp.Name)
	}
	shape := make([]int, len(tp.Dims))
	for i, d := range tp.Dims {
		if d < 0 {
			return nil, fmt.Errorf("%w: tensor %q has negative dim %d", ErrMalformed, tp.Name, d)
		}
		shape[i] = int(d)
	}
	n := tensor.NumElements(shape)
	raw := tp.RawData

	var (
		f32 []float32
		i64 []int64
	)
	switch tp.DataType {
	case DataTypeFloat:
		if len(raw) > 0 {
			f32 = make([]float32, len(raw)/4)
			for i := range f32 {
				f32[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
			}
		} else {
			f32 = tp.FloatData
		}
	case DataTypeDouble:
		src := tp.DoubleData
		if len(raw) > 0 {
			src = make([]float64, len(raw)/8)
			for i := range src {
				src[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
			}
		}
		f32 = make([]float32, len(src))
		for i, v := range src {
			f32[i] = float32(v)
		}
	case DataTypeFloat16, DataTypeBFloat16:
		widen := tensor.FP16ToF32
		if tp.DataType == DataTypeBFloat16 {
			widen = tensor.BF16ToF32
		}
		if len(raw) > 0 {
			f32 = make([]float32, len(raw)/2)
			for i := range f32 {
				f32[i] = widen(binary.LittleEndian.Uint16(raw[2*i:]))
			}
		} else {
			f32 = make([]float32, len(tp.Int32Data))
			for i, v := range tp.Int32Data {
				f32[i] = widen(uint16(v))
			}
		}
	case DataTypeInt64:
		if len(raw) > 0 {
			i64 = make([]int64, len(raw)/8)
			for i := range i64 {
				i64[i] = int64(binary.LittleEndian.Uint64(raw[8*i:]))
			}
		} else {
			i64 = tp.Int64Data
		}
	case DataTypeInt32:
		if len(raw) > 0 {
			i64 = make([]int64, len(raw)/4)
			for i := range i64 {
				i64[i] = int64(int32(binary.LittleEndian.Uint32(raw[4*i:])))
			}
		} else {
			i64 = widenInt32(tp.Int32Data)
		}
	case DataTypeInt8, DataTypeUint8, DataTypeBool:
		if len(raw) > 0 {
			i64 = make([]int64, len(raw))
			for i, v := range raw {
				if tp.DataType == DataTypeInt8 {
					i64[i] = int64(int8(v))
				} else {
					i64[i] = int64(v)
				}
			}
		} else {
			i64 = widenInt32(tp.Int32Data)
		}
	default:
		return nil, fmt.Errorf("%w: tensor %q has data type %s", ErrUnsupported, tp.Name, tp.DataType)
	}

	isInt := tp.DataType != DataTypeFloat && tp.DataType != DataTypeDouble &&
		tp.DataType != DataTypeFloat16 && tp.DataType != DataTypeBFloat16
	if isInt {
		if i64 == nil {
			i64 = []int64{}
		}
		if len(i64) != n {
			return nil, fmt.Errorf("%w: tensor %q has %d values for shape %v", ErrMalformed, tp.Name, len(i64), shape)
		}
		return tensor.FromInt64(shape, i64)
	}
	if f32 == nil {
		f32 = []float32{}
	}
	if len(f32) != n {
		return nil, fmt.Errorf("%w: tensor %q has %d values for shape %v", ErrMalformed, tp.Name, len(f32), shape)
	}
	return tensor.FromFloat32(shape, f32)
}

func widenInt32(src []int32) []int64 {
	out := make([]int64, len(src))
	for i, v := range src {
		out[i] = int64(v)
	}
	return out
}

// FromTensor converts t into a TensorProto with little-endian raw data.
func FromTensor(name string, t *tensor.Tensor) *TensorProto {
	tp := &TensorProto{Name: name, Dims: make([]int64, len(t.Shape))}
	for i, d := range t.Shape {
		tp.Dims[i] = int64(d)
	}
	if t.DType == tensor.Int64 {
		tp.DataType = DataTypeInt64
		tp.RawData = make([]byte, 0, 8*len(t.I64))
		for _, v := range t.I64 {
			tp.RawData = binary.LittleEndian.AppendUint64(tp.RawData, uint64(v))
		}
		return tp
	}
	tp.DataType = DataTypeFloat
	tp.RawData = make([]byte, 0, 4*len(t.F32))
	for _, v := range t.F32 {
		tp.RawData = binary.LittleEndian.AppendUint32(tp.RawData, math.Float32bits(v))
	}
	return tp
}
