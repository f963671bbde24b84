package onnx

import (
	"bytes"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// field is one decoded protobuf field. Scalars land in u64, length-delimited
// payloads in buf.
type field struct {
	num protowire.Number
	typ protowire.Type
	u64 uint64
	buf []byte
}

func parseErr(what string, n int) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformed, what, protowire.ParseError(n))
}

// eachField walks the top-level fields of a protobuf message.
func eachField(what string, b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return parseErr(what, n)
		}
		b = b[n:]
		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u64, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.u64 = uint64(v)
		case protowire.Fixed64Type:
			f.u64, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.buf, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return parseErr(what, n)
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (f field) wrongType(what string) error {
	return fmt.Errorf("%w: %s field %d has wire type %d", ErrMalformed, what, f.num, f.typ)
}

func (f field) bytes(what string) ([]byte, error) {
	if f.typ != protowire.BytesType {
		return nil, f.wrongType(what)
	}
	return f.buf, nil
}

func (f field) str(what string) (string, error) {
	b, err := f.bytes(what)
	return string(b), err
}

func (f field) varint(what string) (uint64, error) {
	if f.typ != protowire.VarintType {
		return 0, f.wrongType(what)
	}
	return f.u64, nil
}

func (f field) float32(what string) (float32, error) {
	if f.typ != protowire.Fixed32Type {
		return 0, f.wrongType(what)
	}
	return math.Float32frombits(uint32(f.u64)), nil
}

// varints decodes a repeated varint field in either packed or unpacked form.
func (f field) varints(what string) ([]uint64, error) {
	switch f.typ {
	case protowire.VarintType:
		return []uint64{f.u64}, nil
	case protowire.BytesType:
		var out []uint64
		for b := f.buf; len(b) > 0; {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, parseErr(what, n)
			}
			out = append(out, v)
			b = b[n:]
		}
		return out, nil
	default:
		return nil, f.wrongType(what)
	}
}

func (f field) fixed32s(what string) ([]uint32, error) {
	switch f.typ {
	case protowire.Fixed32Type:
		return []uint32{uint32(f.u64)}, nil
	case protowire.BytesType:
		if len(f.buf)%4 != 0 {
			return nil, fmt.Errorf("%w: %s: packed fixed32 length %d", ErrMalformed, what, len(f.buf))
		}
		out := make([]uint32, 0, len(f.buf)/4)
		for b := f.buf; len(b) > 0; {
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, parseErr(what, n)
			}
			out = append(out, v)
			b = b[n:]
		}
		return out, nil
	default:
		return nil, f.wrongType(what)
	}
}

func (f field) fixed64s(what string) ([]uint64, error) {
	switch f.typ {
	case protowire.Fixed64Type:
		return []uint64{f.u64}, nil
	case protowire.BytesType:
		if len(f.buf)%8 != 0 {
			return nil, fmt.Errorf("%w: %s: packed fixed64 length %d", ErrMalformed, what, len(f.buf))
		}
		out := make([]uint64, 0, len(f.buf)/8)
		for b := f.buf; len(b) > 0; {
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, parseErr(what, n)
			}
			out = append(out, v)
			b = b[n:]
		}
		return out, nil
	default:
		return nil, f.wrongType(what)
	}
}

// Decode parses a serialized ModelProto. The result does not alias b.
func Decode(b []byte) (*Model, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformed)
	}
	m := &Model{}
	err := eachField("model", b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			var v uint64
			v, err = f.varint("model.ir_version")
			m.IRVersion = int64(v)
		case 2:
			m.ProducerName, err = f.str("model.producer_name")
		case 3:
			m.ProducerVersion, err = f.str("model.producer_version")
		case 4:
			m.Domain, err = f.str("model.domain")
		case 5:
			var v uint64
			v, err = f.varint("model.model_version")
			m.ModelVersion = int64(v)
		case 6:
			m.DocString, err = f.str("model.doc_string")
		case 7:
			var buf []byte
			if buf, err = f.bytes("model.graph"); err == nil {
				m.Graph, err = decodeGraph(buf)
			}
		case 8:
			var buf []byte
			if buf, err = f.bytes("model.opset_import"); err == nil {
				var o OperatorSet
				o, err = decodeOperatorSet(buf)
				m.OpsetImports = append(m.OpsetImports, o)
			}
		case 14:
			var buf []byte
			if buf, err = f.bytes("model.metadata_props"); err == nil {
				var k, v string
				if k, v, err = decodeStringPair(buf); err == nil {
					if m.Metadata == nil {
						m.Metadata = make(map[string]string)
					}
					m.Metadata[k] = v
				}
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if m.Graph == nil {
		return nil, fmt.Errorf("%w: model has no graph", ErrMalformed)
	}
	return m, nil
}

// DecodeGraph parses a serialized GraphProto on its own.
func DecodeGraph(b []byte) (*Graph, error) {
	return decodeGraph(b)
}

func decodeOperatorSet(b []byte) (OperatorSet, error) {
	var o OperatorSet
	err := eachField("opset_import", b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			o.Domain, err = f.str("opset_import.domain")
		case 2:
			var v uint64
			v, err = f.varint("opset_import.version")
			o.Version = int64(v)
		}
		return err
	})
	return o, err
}

func decodeStringPair(b []byte) (string, string, error) {
	var k, v string
	err := eachField("metadata_props", b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			k, err = f.str("metadata_props.key")
		case 2:
			v, err = f.str("metadata_props.value")
		}
		return err
	})
	return k, v, err
}

func decodeGraph(b []byte) (*Graph, error) {
	g := &Graph{}
	err := eachField("graph", b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			var buf []byte
			if buf, err = f.bytes("graph.node"); err == nil {
				var n *Node
				n, err = decodeNode(buf)
				g.Nodes = append(g.Nodes, n)
			}
		case 2:
			g.Name, err = f.str("graph.name")
		case 5:
			var buf []byte
			if buf, err = f.bytes("graph.initializer"); err == nil {
				var t *TensorProto
				t, err = decodeTensor(buf)
				g.Initializers = append(g.Initializers, t)
			}
		case 10:
			g.DocString, err = f.str("graph.doc_string")
		case 11, 12, 13:
			var buf []byte
			if buf, err = f.bytes("graph.value_info"); err == nil {
				var vi *ValueInfo
				if vi, err = decodeValueInfo(buf); err == nil {
					switch f.num {
					case 11:
						g.Inputs = append(g.Inputs, vi)
					case 12:
						g.Outputs = append(g.Outputs, vi)
					default:
						g.ValueInfos = append(g.ValueInfos, vi)
					}
				}
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func decodeNode(b []byte) (*Node, error) {
	n := &Node{}
	err := eachField("node", b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			var s string
			s, err = f.str("node.input")
			n.Inputs = append(n.Inputs, s)
		case 2:
			var s string
			s, err = f.str("node.output")
			n.Outputs = append(n.Outputs, s)
		case 3:
			n.Name, err = f.str("node.name")
		case 4:
			n.OpType, err = f.str("node.op_type")
		case 5:
			var buf []byte
			if buf, err = f.bytes("node.attribute"); err == nil {
				var a *Attribute
				a, err = decodeAttribute(buf)
				n.Attributes = append(n.Attributes, a)
			}
		case 7:
			n.Domain, err = f.str("node.domain")
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

func decodeAttribute(b []byte) (*Attribute, error) {
	a := &Attribute{}
	err := eachField("attribute", b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			a.Name, err = f.str("attribute.name")
		case 2:
			a.Float, err = f.float32("attribute.f")
		case 3:
			var v uint64
			v, err = f.varint("attribute.i")
			a.Int = int64(v)
		case 4:
			var buf []byte
			buf, err = f.bytes("attribute.s")
			a.String = bytes.Clone(buf)
		case 5:
			var buf []byte
			if buf, err = f.bytes("attribute.t"); err == nil {
				a.Tensor, err = decodeTensor(buf)
			}
		case 6:
			var buf []byte
			if buf, err = f.bytes("attribute.g"); err == nil {
				a.Graph, err = decodeGraph(buf)
			}
		case 7:
			var vs []uint32
			vs, err = f.fixed32s("attribute.floats")
			for _, v := range vs {
				a.Floats = append(a.Floats, math.Float32frombits(v))
			}
		case 8:
			var vs []uint64
			vs, err = f.varints("attribute.ints")
			for _, v := range vs {
				a.Ints = append(a.Ints, int64(v))
			}
		case 9:
			var buf []byte
			buf, err = f.bytes("attribute.strings")
			a.Strings = append(a.Strings, bytes.Clone(buf))
		case 20:
			var v uint64
			v, err = f.varint("attribute.type")
			a.Type = AttrType(v)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if a.Type == AttrUndefined {
		a.Type = inferAttrType(a)
	}
	return a, nil
}

// inferAttrType fills in the type for producers that omit it (IR < 2).
func inferAttrType(a *Attribute) AttrType {
	switch {
	case a.Tensor != nil:
		return AttrTensor
	case a.Graph != nil:
		return AttrGraph
	case len(a.Floats) > 0:
		return AttrFloats
	case len(a.Ints) > 0:
		return AttrInts
	case len(a.Strings) > 0:
		return AttrStrings
	case a.String != nil:
		return AttrString
	case a.Float != 0:
		return AttrFloat
	default:
		return AttrInt
	}
}

func decodeTensor(b []byte) (*TensorProto, error) {
	t := &TensorProto{}
	err := eachField("tensor", b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			var vs []uint64
			vs, err = f.varints("tensor.dims")
			for _, v := range vs {
				t.Dims = append(t.Dims, int64(v))
			}
		case 2:
			var v uint64
			v, err = f.varint("tensor.data_type")
			t.DataType = DataType(v)
		case 4:
			var vs []uint32
			vs, err = f.fixed32s("tensor.float_data")
			for _, v := range vs {
				t.FloatData = append(t.FloatData, math.Float32frombits(v))
			}
		case 5:
			var vs []uint64
			vs, err = f.varints("tensor.int32_data")
			for _, v := range vs {
				t.Int32Data = append(t.Int32Data, int32(v))
			}
		case 6:
			var buf []byte
			buf, err = f.bytes("tensor.string_data")
			t.StringData = append(t.StringData, bytes.Clone(buf))
		case 7:
			var vs []uint64
			vs, err = f.varints("tensor.int64_data")
			for _, v := range vs {
				t.Int64Data = append(t.Int64Data, int64(v))
			}
		case 8:
			t.Name, err = f.str("tensor.name")
		case 9:
			var buf []byte
			buf, err = f.bytes("tensor.raw_data")
			t.RawData = bytes.Clone(buf)
		case 10:
			var vs []uint64
			vs, err = f.fixed64s("tensor.double_data")
			for _, v := range vs {
				t.DoubleData = append(t.DoubleData, math.Float64frombits(v))
			}
		case 14:
			var v uint64
			v, err = f.varint("tensor.data_location")
			t.External = v == 1
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func decodeValueInfo(b []byte) (*ValueInfo, error) {
	vi := &ValueInfo{}
	err := eachField("value_info", b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			vi.Name, err = f.str("value_info.name")
		case 2:
			var buf []byte
			if buf, err = f.bytes("value_info.type"); err == nil {
				err = decodeType(buf, vi)
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return vi, nil
}

// decodeType reads TypeProto, keeping only the tensor_type arm.
func decodeType(b []byte, vi *ValueInfo) error {
	return eachField("type", b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		buf, err := f.bytes("type.tensor_type")
		if err != nil {
			return err
		}
		return eachField("tensor_type", buf, func(f field) error {
			var err error
			switch f.num {
			case 1:
				var v uint64
				v, err = f.varint("tensor_type.elem_type")
				vi.ElemType = DataType(v)
			case 2:
				var buf []byte
				if buf, err = f.bytes("tensor_type.shape"); err == nil {
					vi.Shape, err = decodeShape(buf)
				}
			}
			return err
		})
	})
}

func decodeShape(b []byte) ([]Dim, error) {
	dims := []Dim{}
	err := eachField("shape", b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		buf, err := f.bytes("shape.dim")
		if err != nil {
			return err
		}
		var d Dim
		err = eachField("dim", buf, func(f field) error {
			var err error
			switch f.num {
			case 1:
				var v uint64
				v, err = f.varint("dim.dim_value")
				d.Value = int64(v)
			case 2:
				d.Param, err = f.str("dim.dim_param")
			}
			return err
		})
		dims = append(dims, d)
		return err
	})
	return dims, err
}
