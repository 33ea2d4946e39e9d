// Package engine implements the Engine Selector: picking which
// execution substrate a loaded handle should prefer when more than one is
// available on the host. Grounded on internal/gpu/backend.go's detection
// idiom (exec.Command probes + filesystem checks), generalized from GPU
// vendor backends to a closed substrate set.
package engine

import (
	"os/exec"
)

// Substrate is the closed set of execution substrates a handle may bind to.
type Substrate string

const (
	SubstrateNative Substrate = "native"
	SubstrateWorker Substrate = "worker"
	SubstrateWasm   Substrate = "wasm"
	SubstrateEdge   Substrate = "edge"
	SubstrateRemote Substrate = "remote"
)

// preferenceOrder is the closed, fixed priority a Selector falls back
// through: native beats worker beats wasm beats edge beats remote.
var preferenceOrder = []Substrate{SubstrateNative, SubstrateWorker, SubstrateWasm, SubstrateEdge, SubstrateRemote}

// Probe reports whether a substrate is usable on the current host.
type Probe func() bool

// Selector holds one probe per substrate and resolves the best available one.
type Selector struct {
	probes map[Substrate]Probe
}

// NewSelector builds a Selector with the standard detection probes wired
// in (native GPU detection via nvidia-smi/rocm-smi, worker via python3 on
// PATH, wasm via a bundled runtime always being available, edge/remote via
// reachability left to the caller). Callers may override any probe with
// WithProbe for testing or to plug in a different detection strategy.
func NewSelector() *Selector {
	return &Selector{
		probes: map[Substrate]Probe{
			SubstrateNative: detectNativeGPU,
			SubstrateWorker: detectPythonWorker,
			SubstrateWasm:   func() bool { return true },
			SubstrateEdge:   func() bool { return false },
			SubstrateRemote: func() bool { return true },
		},
	}
}

// WithProbe overrides the probe for one substrate and returns the Selector
// for chaining.
func (s *Selector) WithProbe(sub Substrate, p Probe) *Selector {
	s.probes[sub] = p
	return s
}

// Select returns the highest-preference substrate among candidates whose
// probe reports available, or ("", false) if none are.
func (s *Selector) Select(candidates []Substrate) (Substrate, bool) {
	allowed := make(map[Substrate]struct{}, len(candidates))
	for _, c := range candidates {
		allowed[c] = struct{}{}
	}

	for _, sub := range preferenceOrder {
		if _, ok := allowed[sub]; !ok {
			continue
		}
		probe, ok := s.probes[sub]
		if !ok || !probe() {
			continue
		}
		return sub, true
	}
	return "", false
}

// Available returns every substrate whose probe currently reports true, in
// preference order (used by the admin CLI's status view).
func (s *Selector) Available() []Substrate {
	var out []Substrate
	for _, sub := range preferenceOrder {
		if probe, ok := s.probes[sub]; ok && probe() {
			out = append(out, sub)
		}
	}
	return out
}

func detectNativeGPU() bool {
	if _, err := exec.Command("nvidia-smi", "--query-gpu=count", "--format=csv,noheader").Output(); err == nil {
		return true
	}
	if _, err := exec.Command("rocm-smi", "--showproductname").Output(); err == nil {
		return true
	}
	return false
}

func detectPythonWorker() bool {
	_, err := exec.LookPath("python3")
	return err == nil
}

