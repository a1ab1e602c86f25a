package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gadget struct {
	ID     int
	Label  string
	hidden string
}

func (g *gadget) Describe() string { return g.Label }

type Base struct {
	Inherited int
}

type derived struct {
	Base
	Own int
}

func TestEnumerateMembers_Shapes(t *testing.T) {
	reflectCfg := &ExportConfig{Reflect: true}
	plainCfg := &ExportConfig{}

	cases := []struct {
		name string
		v    any
		cfg  *ExportConfig
		want []string
	}{
		{"slice", []string{"x", "y"}, plainCfg, []string{"0", "1"}},
		{"array value", [3]int{1, 2, 3}, plainCfg, []string{"0", "1", "2"}},
		{"array pointer", &[2]int{1, 2}, plainCfg, []string{"0", "1"}},
		{"map string keys", map[string]int{"b": 2, "a": 1}, plainCfg, []string{"a", "b"}},
		{"map int keys", map[int]string{2: "b", 1: "a"}, plainCfg, []string{"1", "2"}},
		{"struct with reflect", &gadget{}, reflectCfg, []string{"ID", "Label"}},
		{"struct without reflect", &gadget{}, plainCfg, nil},
		{"bare struct", gadget{}, reflectCfg, nil},
		{"scalar", 42, plainCfg, nil},
		{"nil", nil, plainCfg, nil},
		{"nil pointer", (*gadget)(nil), reflectCfg, nil},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, enumerateMembers(tc.v, tc.cfg), tc.name)
	}
}

func TestEnumerateMembers_MethodsNeedExportCalls(t *testing.T) {
	g := &gadget{}

	withCalls := enumerateMembers(g, &ExportConfig{Reflect: true, ExportCalls: true})
	assert.Equal(t, []string{"ID", "Label", "Describe"}, withCalls)

	withoutCalls := enumerateMembers(g, &ExportConfig{Reflect: true})
	assert.NotContains(t, withoutCalls, "Describe")
}

func TestGetMember_Resolution(t *testing.T) {
	cfg := &ExportConfig{Reflect: true}
	g := &gadget{ID: 7, Label: "probe", hidden: "x"}

	id, ok := getMember(g, "ID", cfg)
	require.True(t, ok)
	assert.Equal(t, 7, id)

	_, ok = getMember(g, "hidden", cfg)
	assert.False(t, ok, "unexported fields are not members")

	_, ok = getMember(g, "Nope", cfg)
	assert.False(t, ok)

	v, ok := getMember([]int{10, 20}, "1", cfg)
	require.True(t, ok)
	assert.Equal(t, 20, v)

	_, ok = getMember([]int{10, 20}, "5", cfg)
	assert.False(t, ok, "out-of-range index")
	_, ok = getMember([]int{10, 20}, "x", cfg)
	assert.False(t, ok, "non-numeric index")

	v, ok = getMember(map[int]string{3: "three"}, "3", cfg)
	require.True(t, ok)
	assert.Equal(t, "three", v)
}

func TestGetMember_PromotedFieldExcluded(t *testing.T) {
	cfg := &ExportConfig{Reflect: true}
	d := &derived{Base: Base{Inherited: 1}, Own: 2}

	assert.Equal(t, []string{"Base", "Own"}, enumerateMembers(d, cfg))

	_, ok := getMember(d, "Inherited", cfg)
	assert.False(t, ok, "promoted fields resolve through their embedded member, not directly")

	bv, ok := getMember(d, "Base", cfg)
	require.True(t, ok)
	_, ok = getMember(bv, "Inherited", cfg)
	assert.True(t, ok)
}

// TestGetMember_StableStructFieldIdentity pins that a struct-typed field
// observes as a pointer into the original, so nested edits reach it and
// cycle tracking sees one identity.
func TestGetMember_StableStructFieldIdentity(t *testing.T) {
	type inner struct{ V int }
	type outer struct{ In inner }
	cfg := &ExportConfig{Reflect: true}

	o := &outer{}
	first, ok := getMember(o, "In", cfg)
	require.True(t, ok)
	second, ok := getMember(o, "In", cfg)
	require.True(t, ok)

	id1, ok1 := identityOf(first)
	id2, ok2 := identityOf(second)
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, id1, id2)

	require.True(t, setMember(first, "V", 9, cfg))
	assert.Equal(t, 9, o.In.V)
}

func TestSetMember_Shapes(t *testing.T) {
	cfg := &ExportConfig{Reflect: true}

	g := &gadget{}
	require.True(t, setMember(g, "Label", "tagged", cfg))
	assert.Equal(t, "tagged", g.Label)
	assert.False(t, setMember(g, "hidden", "x", cfg))
	assert.False(t, setMember(g, "Nope", "x", cfg))

	xs := []int{1, 2, 3}
	require.True(t, setMember(xs, "1", 20, cfg))
	assert.Equal(t, []int{1, 20, 3}, xs)
	assert.False(t, setMember(xs, "9", 1, cfg))

	m := map[string]int{"n": 1}
	require.True(t, setMember(m, "n", 5, cfg))
	assert.Equal(t, 5, m["n"])

	// Incompatible value types are refused, not converted through runes.
	assert.False(t, setMember(map[string]string{"s": "a"}, "s", 65, cfg))
}

func TestIdentityOf(t *testing.T) {
	g := &gadget{}
	id1, ok := identityOf(g)
	require.True(t, ok)
	id2, ok := identityOf(g)
	require.True(t, ok)
	assert.Equal(t, id1, id2)

	other := &gadget{}
	id3, ok := identityOf(other)
	require.True(t, ok)
	assert.NotEqual(t, id1, id3)

	m := map[string]int{}
	_, ok = identityOf(m)
	assert.True(t, ok)

	_, ok = identityOf([]int{1})
	assert.True(t, ok)

	// Values without a stable address stay out of cycle tracking.
	for _, v := range []any{nil, 42, "s", gadget{}, []int{}, (*gadget)(nil)} {
		_, ok := identityOf(v)
		assert.False(t, ok, "%T", v)
	}
}

func TestIsComposite(t *testing.T) {
	reflectCfg := &ExportConfig{Reflect: true}
	plainCfg := &ExportConfig{}

	assert.True(t, isComposite([]int{}, plainCfg))
	assert.True(t, isComposite(map[string]int{}, plainCfg))
	assert.True(t, isComposite(&[2]int{}, plainCfg))
	assert.True(t, isComposite(&gadget{}, reflectCfg))
	assert.True(t, isComposite(&recordBag{}, plainCfg))

	assert.False(t, isComposite(&gadget{}, plainCfg))
	assert.False(t, isComposite(42, reflectCfg))
	assert.False(t, isComposite(nil, reflectCfg))
}
