package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectPrefersNativeOverWorker(t *testing.T) {
	s := NewSelector().
		WithProbe(SubstrateNative, func() bool { return true }).
		WithProbe(SubstrateWorker, func() bool { return true })

	chosen, ok := s.Select([]Substrate{SubstrateWorker, SubstrateNative})
	assert.True(t, ok)
	assert.Equal(t, SubstrateNative, chosen)
}

func TestSelectFallsThroughToAvailableSubstrate(t *testing.T) {
	s := NewSelector().
		WithProbe(SubstrateNative, func() bool { return false }).
		WithProbe(SubstrateWorker, func() bool { return false }).
		WithProbe(SubstrateWasm, func() bool { return true })

	chosen, ok := s.Select([]Substrate{SubstrateNative, SubstrateWorker, SubstrateWasm})
	assert.True(t, ok)
	assert.Equal(t, SubstrateWasm, chosen)
}

func TestSelectReturnsFalseWhenNothingAvailable(t *testing.T) {
	s := NewSelector().
		WithProbe(SubstrateNative, func() bool { return false }).
		WithProbe(SubstrateRemote, func() bool { return false })

	_, ok := s.Select([]Substrate{SubstrateNative, SubstrateRemote})
	assert.False(t, ok)
}

func TestAvailableReportsInPreferenceOrder(t *testing.T) {
	s := NewSelector().
		WithProbe(SubstrateNative, func() bool { return false }).
		WithProbe(SubstrateWorker, func() bool { return true }).
		WithProbe(SubstrateWasm, func() bool { return true }).
		WithProbe(SubstrateEdge, func() bool { return false }).
		WithProbe(SubstrateRemote, func() bool { return true })

	assert.Equal(t, []Substrate{SubstrateWorker, SubstrateWasm, SubstrateRemote}, s.Available())
}
