package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeSetUnion(t *testing.T) {
	merged := SetValue("domain", "nlu").Merge(SetValue("nlu", "stories"), nil)

	assert.Equal(t, KindSet, merged.Kind)
	assert.Equal(t, []string{"domain", "nlu", "stories"}, merged.Set)
}

func TestMergeListAppend(t *testing.T) {
	merged := ListValue("a", "b").Merge(ListValue("b", "c"), nil)

	assert.Equal(t, KindList, merged.Kind)
	// 列表保留顺序和重复
	assert.Equal(t, []string{"a", "b", "b", "c"}, merged.List)
}

func TestMergeMapIncomingWins(t *testing.T) {
	merged := MapValue(map[string]string{"a": "1", "b": "2"}).
		Merge(MapValue(map[string]string{"b": "3", "c": "4"}), nil)

	assert.Equal(t, KindMap, merged.Kind)
	assert.Equal(t, map[string]string{"a": "1", "b": "3", "c": "4"}, merged.Map)
}

func TestMergeFlagOverwrite(t *testing.T) {
	merged := FlagValue(true).Merge(FlagValue(false), nil)

	assert.Equal(t, KindFlag, merged.Kind)
	assert.False(t, merged.Flag)
}

func TestMergeKindMismatchKeepsExisting(t *testing.T) {
	existing := SetValue("domain")
	merged := existing.Merge(FlagValue(true), nil)

	assert.Equal(t, KindSet, merged.Kind)
	assert.Equal(t, []string{"domain"}, merged.Set)
}

func TestMergeArgsDisjointKeys(t *testing.T) {
	dst := JobArgs{"categories": SetValue("domain")}
	src := JobArgs{"dump_all": FlagValue(true)}

	out := MergeArgs(dst, src, nil)

	assert.Len(t, out, 2)
	assert.Equal(t, KindSet, out["categories"].Kind)
	assert.True(t, out["dump_all"].Flag)
}

func TestMergeArgsDoesNotMutateInputs(t *testing.T) {
	dst := JobArgs{"categories": SetValue("domain")}
	src := JobArgs{"categories": SetValue("nlu")}

	out := MergeArgs(dst, src, nil)

	assert.Equal(t, []string{"domain", "nlu"}, out["categories"].Set)
	assert.Equal(t, []string{"domain"}, dst["categories"].Set)
	assert.Equal(t, []string{"nlu"}, src["categories"].Set)
}

func TestSetValueDeduplicates(t *testing.T) {
	v := SetValue("b", "a", "b", "a")
	assert.Equal(t, []string{"a", "b"}, v.Set)
}
