// Package onnx reads and writes the subset of the ONNX protobuf schema needed
// to describe small recurrent policy networks: models, graphs, nodes,
// attributes, initializer tensors and value infos.
//
// Unknown fields are skipped on decode, so models exported by newer tooling
// still load as long as they only use supported operators.
package onnx

import "fmt"

// DataType is TensorProto.DataType.
type DataType int32

const (
	DataTypeUndefined DataType = 0
	DataTypeFloat     DataType = 1
	DataTypeUint8     DataType = 2
	DataTypeInt8      DataType = 3
	DataTypeInt32     DataType = 6
	DataTypeInt64     DataType = 7
	DataTypeBool      DataType = 9
	DataTypeFloat16   DataType = 10
	DataTypeDouble    DataType = 11
	DataTypeBFloat16  DataType = 16
)

func (d DataType) String() string {
	switch d {
	case DataTypeFloat:
		return "FLOAT"
	case DataTypeUint8:
		return "UINT8"
	case DataTypeInt8:
		return "INT8"
	case DataTypeInt32:
		return "INT32"
	case DataTypeInt64:
		return "INT64"
	case DataTypeBool:
		return "BOOL"
	case DataTypeFloat16:
		return "FLOAT16"
	case DataTypeDouble:
		return "DOUBLE"
	case DataTypeBFloat16:
		return "BFLOAT16"
	default:
		return fmt.Sprintf("DATATYPE(%d)", int32(d))
	}
}

// AttrType is AttributeProto.AttributeType.
type AttrType int32

const (
	AttrUndefined AttrType = 0
	AttrFloat     AttrType = 1
	AttrInt       AttrType = 2
	AttrString    AttrType = 3
	AttrTensor    AttrType = 4
	AttrGraph     AttrType = 5
	AttrFloats    AttrType = 6
	AttrInts      AttrType = 7
	AttrStrings   AttrType = 8
)

// Model is ModelProto.
type Model struct {
	IRVersion       int64
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	DocString       string
	Graph           *Graph
	OpsetImports    []OperatorSet
	Metadata        map[string]string
}

// OperatorSet is OperatorSetIdProto.
type OperatorSet struct {
	Domain  string
	Version int64
}

// Opset returns the imported version of the default ("" or "ai.onnx")
// domain, or 0 when none is declared.
func (m *Model) Opset() int64 {
	for _, o := range m.OpsetImports {
		if o.Domain == "" || o.Domain == "ai.onnx" {
			return o.Version
		}
	}
	return 0
}

// Graph is GraphProto.
type Graph struct {
	Name         string
	DocString    string
	Nodes        []*Node
	Initializers []*TensorProto
	Inputs       []*ValueInfo
	Outputs      []*ValueInfo
	ValueInfos   []*ValueInfo
}

// Initializer looks up an initializer by name.
func (g *Graph) Initializer(name string) *TensorProto {
	for _, t := range g.Initializers {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// Node is NodeProto.
type Node struct {
	Name       string
	OpType     string
	Domain     string
	Inputs     []string
	Outputs    []string
	Attributes []*Attribute
}

func (n *Node) String() string {
	if n.Name != "" {
		return fmt.Sprintf("%s(%s)", n.OpType, n.Name)
	}
	if len(n.Outputs) > 0 {
		return fmt.Sprintf("%s(->%s)", n.OpType, n.Outputs[0])
	}
	return n.OpType
}

// Attr returns the named attribute or nil.
func (n *Node) Attr(name string) *Attribute {
	for _, a := range n.Attributes {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// AttrInt returns an integer attribute or def when absent.
func (n *Node) AttrInt(name string, def int64) int64 {
	if a := n.Attr(name); a != nil {
		return a.Int
	}
	return def
}

// AttrFloat returns a float attribute or def when absent.
func (n *Node) AttrFloat(name string, def float32) float32 {
	if a := n.Attr(name); a != nil {
		return a.Float
	}
	return def
}

// AttrString returns a string attribute or def when absent.
func (n *Node) AttrString(name, def string) string {
	if a := n.Attr(name); a != nil {
		return string(a.String)
	}
	return def
}

// AttrInts returns an integer list attribute or nil when absent.
func (n *Node) AttrInts(name string) []int64 {
	if a := n.Attr(name); a != nil {
		return a.Ints
	}
	return nil
}

// Input returns the i-th input name or "" when it is absent. ONNX marks
// skipped optional inputs with an empty name.
func (n *Node) Input(i int) string {
	if i < len(n.Inputs) {
		return n.Inputs[i]
	}
	return ""
}

// Attribute is AttributeProto. Only the field matching Type is meaningful.
type Attribute struct {
	Name    string
	Type    AttrType
	Float   float32
	Int     int64
	String  []byte
	Tensor  *TensorProto
	Graph   *Graph
	Floats  []float32
	Ints    []int64
	Strings [][]byte
}

// TensorProto holds a constant tensor. Data lives either in RawData
// (little-endian) or in one of the typed fields.
type TensorProto struct {
	Name       string
	Dims       []int64
	DataType   DataType
	FloatData  []float32
	Int32Data  []int32
	Int64Data  []int64
	DoubleData []float64
	StringData [][]byte
	RawData    []byte
	// External marks data_location == EXTERNAL, which is not supported.
	External bool
}

// ValueInfo is ValueInfoProto restricted to tensor types.
type ValueInfo struct {
	Name     string
	ElemType DataType
	// Shape is nil when the type carries no shape.
	Shape []Dim
}

// Dim is one dimension of a tensor shape: a fixed value, a symbolic name,
// or neither (unknown).
type Dim struct {
	Value int64
	Param string
}

// Known reports whether the dimension has a fixed value.
func (d Dim) Known() bool { return d.Param == "" && d.Value > 0 }

func (d Dim) String() string {
	switch {
	case d.Param != "":
		return d.Param
	case d.Value > 0:
		return fmt.Sprint(d.Value)
	default:
		return "?"
	}
}
