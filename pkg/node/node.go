// Package node implements the typed attribute graph used to represent
// scene entities -- options, camera, instances, objects, lights,
// materials, textures, and shader instances -- atop the tagged
// database. A descriptor declares a node's parameters once; every
// concrete node of that descriptor carries one value per declared
// parameter, looked up by interned name rather than by offset, so the
// exporter can add parameters to a descriptor without recompiling
// every node that uses it.
package node

import (
	"fmt"

	"github.com/cuemby/rayfield/pkg/container"
	"github.com/cuemby/rayfield/pkg/dataflow"
	"github.com/cuemby/rayfield/pkg/database"
	"github.com/cuemby/rayfield/pkg/record"
	"github.com/cuemby/rayfield/pkg/rferrors"
	"github.com/cuemby/rayfield/pkg/tag"
)

// StorageClass describes how a parameter's value varies across the
// surface or volume it is evaluated on.
type StorageClass int

const (
	Constant StorageClass = iota
	Varying
	Vertex
)

// ParamType names the wire/storage type of a parameter value.
type ParamType int

const (
	ParamInt ParamType = iota
	ParamFloat
	ParamColor
	ParamVector
	ParamString
	ParamTag // reference to another node, e.g. material -> shader-instance list
)

// ParamDesc is one entry in a node descriptor: name, type, storage
// class, and default value.
type ParamDesc struct {
	Name         string
	Type         ParamType
	Storage      StorageClass
	DefaultValue Value
}

// Value is a tagged union holding one parameter's value. Only the
// field matching Type is meaningful.
type Value struct {
	Int    int32
	Float  float32
	Vector [3]float32
	Str    string
	Tag    tag.Tag
}

// Descriptor enumerates the parameters of one node kind (e.g.
// "pointlight", "matte", "instance"). Descriptors are registered once
// at startup and shared by every node created from them.
type Descriptor struct {
	Name   string
	Params []ParamDesc

	// symbols holds the interned Symbol for each entry in Params, in the
	// same order, populated by RegisterDescriptor. find compares Symbols
	// (a pointer compare) rather than the Param name strings, which is
	// the point of interning parameter names in the first place.
	symbols []container.Symbol
}

func (d *Descriptor) find(name container.Symbol) (int, bool) {
	for i, s := range d.symbols {
		if s == name {
			return i, true
		}
	}
	return -1, false
}

// System owns the descriptor registry, the name-interning table, and
// the dataflow engine used to lazily resolve shader-instance
// parameter tables. One System is created per render session.
type System struct {
	db          *database.Database
	names       *container.InternTable
	descriptors map[string]*Descriptor
	flow        *dataflow.Engine
	nodes       map[tag.Tag]*nodeRecord
	shaders     map[string]ShaderFunc
}

func NewSystem(db *database.Database, types *record.TypeTable) *System {
	s := &System{
		db:          db,
		names:       container.NewInternTable(),
		descriptors: make(map[string]*Descriptor),
		flow:        dataflow.New(types),
		nodes:       make(map[tag.Tag]*nodeRecord),
	}
	types.Register(shaderFuncTypeCode, record.TypeOps{
		Name:     "shader_param_table",
		Generate: s.generateParamTable,
	})
	return s
}

// RegisterDescriptor makes d available to CreateNode by name. It is an
// error to register the same descriptor name twice.
func (s *System) RegisterDescriptor(d *Descriptor) error {
	if _, exists := s.descriptors[d.Name]; exists {
		return fmt.Errorf("node: descriptor %q already registered", d.Name)
	}
	d.symbols = make([]container.Symbol, len(d.Params))
	for i, p := range d.Params {
		d.symbols[i] = s.names.Intern(p.Name)
	}
	s.descriptors[d.Name] = d
	return nil
}

// NodeTypeCode is the record type registered for every concrete node;
// node records are distinguished from each other only by which
// descriptor created them, carried in the record's parameter table,
// not by a distinct TypeCode per descriptor.
const NodeTypeCode record.TypeCode = 10

// nodeRecord is the in-memory shape of a node's parameter table. The
// database record for a node tag is a fixed 0-byte placeholder that
// exists only so the node has a stable Tag and participates in
// flush/evict like any other record; the variadic parameter table
// itself is kept in this process-local side map rather than marshaled
// into the record's byte payload on every SetParam/GetParam call.
type nodeRecord struct {
	descriptor *Descriptor
	values     map[string]Value

	// paramHdr/paramTable back the lazily-generated, flattened shader
	// parameter table described in shader.go. Every node carries them,
	// not just ones with a registered ShaderFunc, because any node may
	// be the upstream target of another node's ParamTag-valued
	// parameter.
	paramHdr   record.Header
	paramTable map[string]Value
}

// CreateNode allocates a tag for a new node of the given descriptor
// name, with every parameter initialized to its descriptor default.
func (s *System) CreateNode(descriptorName string) (tag.Tag, error) {
	desc, ok := s.descriptors[descriptorName]
	if !ok {
		return tag.Null, fmt.Errorf("node: unknown descriptor %q", descriptorName)
	}
	t, _, err := s.db.Create(NodeTypeCode, 0, 0)
	if err != nil {
		return tag.Null, err
	}
	if err := s.db.End(t); err != nil {
		return tag.Null, err
	}

	values := make(map[string]Value, len(desc.Params))
	for _, p := range desc.Params {
		values[p.Name] = p.DefaultValue
	}
	s.nodes[t] = &nodeRecord{
		descriptor: desc,
		values:     values,
		paramHdr:   record.Header{Tag: t, Type: shaderFuncTypeCode, Flags: record.FlagDeferInit},
	}
	return t, nil
}

// SetParam stores value under name on node t. The interned Symbol for
// name is used for the lookup so repeated SetParam/GetParam calls on
// hot parameters (e.g. a material's color) pay a pointer compare, not
// a string compare, against the descriptor's own parameter list.
func (s *System) SetParam(t tag.Tag, name string, value Value) error {
	n, err := s.lookupNode(t)
	if err != nil {
		return err
	}
	sym := s.names.Intern(name)
	idx, ok := n.descriptor.find(sym)
	if !ok {
		return fmt.Errorf("node: %q has no parameter %q", n.descriptor.Name, name)
	}
	if n.descriptor.Params[idx].Type != value.typeOf() && value.typeOf() != -1 {
		return rferrors.ErrTypeMismatch
	}
	n.values[name] = value
	return nil
}

// GetParam returns the current value of name on node t.
func (s *System) GetParam(t tag.Tag, name string) (Value, error) {
	n, err := s.lookupNode(t)
	if err != nil {
		return Value{}, err
	}
	sym := s.names.Intern(name)
	if _, ok := n.descriptor.find(sym); !ok {
		return Value{}, fmt.Errorf("node: %q has no parameter %q", n.descriptor.Name, name)
	}
	return n.values[name], nil
}

func (s *System) lookupNode(t tag.Tag) (*nodeRecord, error) {
	n, ok := s.nodes[t]
	if !ok {
		return nil, rferrors.ErrUnknownTag
	}
	return n, nil
}

// typeOf reports the ParamType a Value looks like it holds, or -1 if
// it is the zero Value (used to skip type-checking defaults).
func (v Value) typeOf() ParamType {
	switch {
	case v.Str != "":
		return ParamString
	case v.Tag.Valid():
		return ParamTag
	default:
		return -1
	}
}
