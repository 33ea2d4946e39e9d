package descriptor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorValidate(t *testing.T) {
	valid := Descriptor{ID: "m1", Name: "Mock", Format: FormatMock, Source: "mock://m1"}
	require.NoError(t, valid.Validate())

	missingID := valid
	missingID.ID = ""
	assert.Error(t, missingID.Validate())

	badFormat := valid
	badFormat.Format = "not-a-format"
	assert.Error(t, badFormat.Validate())
}

func TestCapabilitySetUnmarshalList(t *testing.T) {
	var s CapabilitySet
	require.NoError(t, json.Unmarshal([]byte(`["chat","streaming"]`), &s))
	assert.True(t, s.Has(CapChat))
	assert.True(t, s.Has(CapStreaming))
	assert.False(t, s.Has(CapGPU))
}

func TestCapabilitySetUnmarshalMap(t *testing.T) {
	var s CapabilitySet
	require.NoError(t, json.Unmarshal([]byte(`{"chat": true, "embedding": false}`), &s))
	assert.True(t, s.Has(CapChat))
	assert.True(t, s.Has(CapEmbedding)) // keys are the effective set regardless of value
}

func TestCapabilitySetSupersets(t *testing.T) {
	s := NewCapabilitySet(CapChat, CapStreaming, CapGPU)
	assert.True(t, s.Supersets(NewCapabilitySet(CapChat, CapStreaming)))
	assert.False(t, s.Supersets(NewCapabilitySet(CapEmbedding)))
}
