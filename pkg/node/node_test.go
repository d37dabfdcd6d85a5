package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/rayfield/pkg/database"
	"github.com/cuemby/rayfield/pkg/record"
)

func newTestSystem() *System {
	types := record.NewTypeTable()
	db := database.New(database.Options{Host: 1}, types)
	return NewSystem(db, types)
}

func matteDescriptor() *Descriptor {
	return &Descriptor{
		Name: "matte",
		Params: []ParamDesc{
			{Name: "diffuse_color", Type: ParamColor, Storage: Constant, DefaultValue: Value{Vector: [3]float32{0.5, 0.5, 0.5}}},
		},
	}
}

func TestCreateNodeUsesDescriptorDefaults(t *testing.T) {
	s := newTestSystem()
	require.NoError(t, s.RegisterDescriptor(matteDescriptor()))

	t1, err := s.CreateNode("matte")
	require.NoError(t, err)
	v, err := s.GetParam(t1, "diffuse_color")
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), v.Vector[0])
}

func TestSetParamRejectsUnknownName(t *testing.T) {
	s := newTestSystem()
	require.NoError(t, s.RegisterDescriptor(matteDescriptor()))
	t1, err := s.CreateNode("matte")
	require.NoError(t, err)
	err = s.SetParam(t1, "nonexistent", Value{Int: 1})
	assert.Error(t, err)
}

func TestRegisterDescriptorTwiceFails(t *testing.T) {
	s := newTestSystem()
	require.NoError(t, s.RegisterDescriptor(matteDescriptor()))
	assert.Error(t, s.RegisterDescriptor(matteDescriptor()))
}

func TestCallShaderInstanceEvaluatesRegisteredFunc(t *testing.T) {
	s := newTestSystem()
	require.NoError(t, s.RegisterDescriptor(matteDescriptor()))
	s.RegisterShaderFunc("matte", func(params map[string]Value, state State, arg interface{}) (Color, error) {
		c := params["diffuse_color"]
		return Color{R: c.Vector[0], G: c.Vector[1], B: c.Vector[2], Opacity: 1}, nil
	})

	t1, err := s.CreateNode("matte")
	require.NoError(t, err)
	col, err := s.CallShaderInstance(t1, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), col.R)
	assert.Equal(t, float32(1), col.Opacity)
}

func TestResolveParamsCachesAfterFirstGeneration(t *testing.T) {
	s := newTestSystem()
	require.NoError(t, s.RegisterDescriptor(matteDescriptor()))

	t1, err := s.CreateNode("matte")
	require.NoError(t, err)

	n, err := s.lookupNode(t1)
	require.NoError(t, err)
	assert.True(t, n.paramHdr.Has(record.FlagDeferInit), "paramHdr starts deferred")

	first, err := s.resolveParams(t1)
	require.NoError(t, err)
	assert.False(t, n.paramHdr.Has(record.FlagDeferInit), "generator clears DeferInit after running once")
	assert.Equal(t, float32(0.5), first["diffuse_color"].Vector[0])

	// Mutate the underlying value directly, bypassing SetParam. A second
	// resolveParams call must still return the table generateParamTable
	// cached on first access, proving the walk does not redo itself.
	n.values["diffuse_color"] = Value{Vector: [3]float32{0.9, 0.9, 0.9}}
	second, err := s.resolveParams(t1)
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), second["diffuse_color"].Vector[0], "cached table is reused, not recomputed")
}
