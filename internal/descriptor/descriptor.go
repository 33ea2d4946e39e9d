// Package descriptor defines the immutable Model Descriptor value type
// and the closed sets of formats and capabilities it may name.
package descriptor

import (
	"encoding/json"
	"strings"

	"github.com/aiserve/modelrouter/internal/routererr"
)

// Format is the closed set of model formats a loader may bind to.
type Format string

const (
	FormatGGUF        Format = "gguf"
	FormatONNX        Format = "onnx"
	FormatSafetensors Format = "safetensors"
	FormatPyTorch     Format = "pytorch"
	FormatBinary      Format = "binary"
	FormatAPI         Format = "api"
	FormatMock        Format = "mock"
	FormatSimple      Format = "simple"
	FormatBitNet      Format = "bitnet"
	FormatHF          Format = "hf"
	FormatTFJS        Format = "tfjs"
)

var validFormats = map[Format]struct{}{
	FormatGGUF: {}, FormatONNX: {}, FormatSafetensors: {}, FormatPyTorch: {},
	FormatBinary: {}, FormatAPI: {}, FormatMock: {}, FormatSimple: {},
	FormatBitNet: {}, FormatHF: {}, FormatTFJS: {},
}

// Valid reports whether f belongs to the closed set of supported formats.
func (f Format) Valid() bool {
	_, ok := validFormats[f]
	return ok
}

// Capability is the closed set of capability tags.
type Capability string

const (
	CapStreaming       Capability = "streaming"
	CapChat            Capability = "chat"
	CapEmbedding       Capability = "embedding"
	CapQuantization    Capability = "quantization"
	CapGPU             Capability = "gpu"
	CapFunctionCalling Capability = "function-calling"
)

// CapabilitySet is the effective set of capability tags a model exposes.
// It accepts JSON either as a list of tags or as an object whose keys are
// the tags.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from a variadic tag list.
func NewCapabilitySet(tags ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(tags))
	for _, t := range tags {
		s[t] = struct{}{}
	}
	return s
}

// Has reports whether the set contains tag.
func (s CapabilitySet) Has(tag Capability) bool {
	_, ok := s[tag]
	return ok
}

// Supersets reports whether s contains every tag in required (⊇).
func (s CapabilitySet) Supersets(required CapabilitySet) bool {
	for t := range required {
		if !s.Has(t) {
			return false
		}
	}
	return true
}

// Tags returns the set as a sorted-free slice (order not guaranteed).
func (s CapabilitySet) Tags() []Capability {
	out := make([]Capability, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	return out
}

// UnmarshalJSON accepts either `["chat","streaming"]` or
// `{"chat": true, "streaming": true}`.
func (s *CapabilitySet) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if len(trimmed) == 0 || trimmed == "null" {
		*s = CapabilitySet{}
		return nil
	}

	if trimmed[0] == '[' {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		out := make(CapabilitySet, len(list))
		for _, tag := range list {
			out[Capability(tag)] = struct{}{}
		}
		*s = out
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	out := make(CapabilitySet, len(obj))
	for key := range obj {
		out[Capability(key)] = struct{}{}
	}
	*s = out
	return nil
}

// MarshalJSON always emits the list form.
func (s CapabilitySet) MarshalJSON() ([]byte, error) {
	tags := make([]string, 0, len(s))
	for t := range s {
		tags = append(tags, string(t))
	}
	if tags == nil {
		tags = []string{}
	}
	return json.Marshal(tags)
}

// Parameters holds the optional tunables a descriptor may declare.
type Parameters struct {
	ContextWindow    int `json:"context_window,omitempty" yaml:"context_window,omitempty"`
	QuantizationBits int `json:"quantization_bits,omitempty" yaml:"quantization_bits,omitempty"`
	Threads          int `json:"threads,omitempty" yaml:"threads,omitempty"`
	BatchSize        int `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	MaxTokens        int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// AuthKind is the closed set of credential shapes an API-backed provider may require.
type AuthKind string

const (
	AuthKindNone   AuthKind = "none"
	AuthKindAPIKey AuthKind = "api_key"
	AuthKindBearer AuthKind = "bearer"
)

// ProviderConfig describes an API-backed model's wire configuration.
type ProviderConfig struct {
	BaseURL         string   `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	AuthKind        AuthKind `json:"auth_kind,omitempty" yaml:"auth_kind,omitempty"`
	AllowedModelIDs []string `json:"allowed_model_ids,omitempty" yaml:"allowed_model_ids,omitempty"`
	CostPerMillion  float64  `json:"cost_per_million_tokens,omitempty" yaml:"cost_per_million_tokens,omitempty"`
}

// Descriptor is the immutable configuration naming a model and what it can do.
type Descriptor struct {
	ID           string         `json:"id" yaml:"id"`
	Name         string         `json:"name" yaml:"name"`
	Format       Format         `json:"format" yaml:"format"`
	Source       string         `json:"source" yaml:"source"`
	Capabilities CapabilitySet  `json:"capabilities" yaml:"capabilities"`
	Parameters   Parameters     `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Provider     ProviderConfig `json:"provider_config,omitempty" yaml:"provider_config,omitempty"`
}

// Validate enforces the non-empty id/name/format/source invariant from
// register().
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return routererr.New(routererr.KindValidation, "descriptor id is required")
	}
	if strings.TrimSpace(d.Name) == "" {
		return routererr.New(routererr.KindValidation, "descriptor name is required")
	}
	if strings.TrimSpace(d.Source) == "" {
		return routererr.New(routererr.KindValidation, "descriptor source is required")
	}
	if !d.Format.Valid() {
		return routererr.New(routererr.KindValidation, "descriptor format \""+string(d.Format)+"\" is not in the closed format set")
	}
	return nil
}
