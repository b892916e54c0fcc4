package manifest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromJSONBareStringPromotesToName(t *testing.T) {
	p, err := FromJSON(json.RawMessage(`"foo"`), false)
	require.NoError(t, err)
	assert.Equal(t, "foo", p.Name)
	assert.Nil(t, p.Depends)
	assert.Equal(t, "", p.SourceURI)
	assert.Nil(t, p.ExtraData)
}

func TestFromJSONRequiresNameUnlessAllowed(t *testing.T) {
	_, err := FromJSON(json.RawMessage(`{"source_uri": "https://example.com/x"}`), false)
	require.Error(t, err)

	p, err := FromJSON(json.RawMessage(`{"source_uri": "https://example.com/x"}`), true)
	require.NoError(t, err)
	assert.Equal(t, "", p.Name)
}

func TestFromJSONDependsPresenceDrivesNilVsEmpty(t *testing.T) {
	noDeps, err := FromJSON(json.RawMessage(`{"name": "a"}`), false)
	require.NoError(t, err)
	assert.Nil(t, noDeps.Depends)

	emptyDeps, err := FromJSON(json.RawMessage(`{"name": "a", "depends": []}`), false)
	require.NoError(t, err)
	assert.NotNil(t, emptyDeps.Depends)
	assert.Len(t, emptyDeps.Depends, 0)
}

func TestFromJSONDependsEntryRequiresName(t *testing.T) {
	_, err := FromJSON(json.RawMessage(`{"name": "a", "depends": [{"source_uri": "https://example.com/x"}]}`), false)
	require.Error(t, err)
}

func TestFromJSONRegistryEntryAllowsNoName(t *testing.T) {
	p, err := FromJSON(json.RawMessage(`{"name": "a", "registry": [{"source_uri": "https://example.com/x"}]}`), false)
	require.NoError(t, err)
	require.Len(t, p.Registries, 1)
	assert.Equal(t, "", p.Registries[0].Name)
	assert.Equal(t, "https://example.com/x", p.Registries[0].SourceURI)
}

func TestFromJSONExtraDataCollectsUnknownKeys(t *testing.T) {
	p, err := FromJSON(json.RawMessage(`{"name": "a", "version": "^1.0", "ignore_registry": true}`), false)
	require.NoError(t, err)
	assert.Equal(t, "^1.0", p.ExtraString("version"))
	assert.True(t, p.ExtraBool("ignore_registry"))
}

func TestIncludeDataNeverOverwritesSetFields(t *testing.T) {
	p := &Package{Name: "x", SourceURI: "https://mine"}
	other := &Package{SourceURI: "https://theirs", SourceGitRef: "v1"}
	p.IncludeData(other)
	assert.Equal(t, "https://mine", p.SourceURI)
	assert.Equal(t, "v1", p.SourceGitRef)
}

func TestIncludeDataMergesExtraDataLeftBiased(t *testing.T) {
	p := &Package{ExtraData: map[string]interface{}{"a": "mine"}}
	other := &Package{ExtraData: map[string]interface{}{"a": "theirs", "b": "theirs"}}
	p.IncludeData(other)
	assert.Equal(t, "mine", p.ExtraData["a"])
	assert.Equal(t, "theirs", p.ExtraData["b"])
}

func TestCloneIsDeep(t *testing.T) {
	p := &Package{Name: "a", Depends: []*Package{{Name: "b"}}, ExtraData: map[string]interface{}{"k": "v"}}
	cp := p.Clone()
	cp.Depends[0].Name = "mutated"
	cp.ExtraData["k"] = "mutated"
	assert.Equal(t, "b", p.Depends[0].Name)
	assert.Equal(t, "v", p.ExtraData["k"])
}
