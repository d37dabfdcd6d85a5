package node

import (
	"sort"

	"github.com/cuemby/rayfield/pkg/record"
	"github.com/cuemby/rayfield/pkg/rferrors"
	"github.com/cuemby/rayfield/pkg/tag"
)

// Color is the accumulated result of a shader-instance call: a linear
// RGB color and scalar opacity.
type Color struct {
	R, G, B float32
	Opacity float32
}

// State carries the shading-point inputs a shader instance evaluates
// against (surface point, normal, incoming ray, and so on). The node
// system treats it as an opaque pointer; the ray/shading engine that
// consumes it is out of scope here.
type State interface{}

// ShaderFunc evaluates one shader instance given its resolved,
// flattened parameter table. Concrete shaders (matte, mirror, glass,
// ...) register a ShaderFunc under the node type code of their own
// descriptor.
type ShaderFunc func(params map[string]Value, state State, arg interface{}) (Color, error)

// shaderFuncTypeCode identifies the record type registered against
// System.flow for a shader instance's lazily-generated, flattened
// parameter table, distinct from NodeTypeCode since it participates
// in dataflow generation while plain nodes do not. It is never
// created as a database record -- each nodeRecord carries its own
// paramHdr/paramTable, and System.flow.Ensure dispatches through this
// type code purely to find generateParamTable in the shared
// TypeTable.
const shaderFuncTypeCode record.TypeCode = 11

// RegisterShaderFunc associates a ShaderFunc with every node created
// from descriptorName, so CallShaderInstance knows how to evaluate it.
func (s *System) RegisterShaderFunc(descriptorName string, fn ShaderFunc) {
	if s.shaders == nil {
		s.shaders = make(map[string]ShaderFunc)
	}
	s.shaders[descriptorName] = fn
}

// resolveParams returns t's flattened parameter table, generating it
// via System.flow on first access and returning the cached table on
// every subsequent call -- this is the dataflow mechanism spec.md
// §4.5 calls out by name, the same Ensure-dedup-by-tag machinery
// pkg/dataflow and pkg/database use for every other deferred record.
func (s *System) resolveParams(t tag.Tag) (map[string]Value, error) {
	n, err := s.lookupNode(t)
	if err != nil {
		return nil, err
	}
	if err := s.flow.Ensure(s.db, t, &n.paramHdr, 0, nil); err != nil {
		return nil, err
	}
	return n.paramTable, nil
}

// generateParamTable is shaderFuncTypeCode's registered Generator: it
// flattens t's upstream connections (ParamTag-valued parameters
// pointing at other nodes) into a single table sorted by name and
// caches it on the node record. System.flow.Ensure calls this at most
// once per instance tag, so repeated CallShaderInstance/CallShaderList
// calls on the same instance never redo the upstream walk.
func (s *System) generateParamTable(_ record.Accessor, t tag.Tag, _ *record.Header, _ interface{}) error {
	n, err := s.lookupNode(t)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(n.values))
	for name := range n.values {
		names = append(names, name)
	}
	sort.Strings(names)

	resolved := make(map[string]Value, len(names))
	for _, name := range names {
		v := n.values[name]
		if v.Tag.Valid() {
			upstream, err := s.resolveParams(v.Tag)
			if err != nil {
				return err
			}
			if out, ok := upstream["__out__"]; ok {
				v = out
			}
		}
		resolved[name] = v
	}
	n.paramTable = resolved
	return nil
}

// CallShaderInstance evaluates a single shader instance node t,
// resolving its parameter table on first use via resolveParams and
// dispatching to the ShaderFunc registered for its descriptor.
func (s *System) CallShaderInstance(t tag.Tag, state State, arg interface{}) (Color, error) {
	n, err := s.lookupNode(t)
	if err != nil {
		return Color{}, err
	}
	fn, ok := s.shaders[n.descriptor.Name]
	if !ok {
		return Color{}, rferrors.ErrSymbolNotFound
	}
	params, err := s.resolveParams(t)
	if err != nil {
		return Color{}, err
	}
	return fn(params, state, arg)
}

// CallShaderList evaluates a shader-list tag: a data array of shader
// instance tags executed in order, each contributing to the running
// color via straight alpha-over compositing, returning the final
// accumulated color and opacity.
func (s *System) CallShaderList(listItems []tag.Tag, state State, arg interface{}) (Color, error) {
	var out Color
	for _, instTag := range listItems {
		c, err := s.CallShaderInstance(instTag, state, arg)
		if err != nil {
			return Color{}, err
		}
		remaining := 1 - out.Opacity
		out.R += c.R * c.Opacity * remaining
		out.G += c.G * c.Opacity * remaining
		out.B += c.B * c.Opacity * remaining
		out.Opacity += c.Opacity * remaining
	}
	return out, nil
}
