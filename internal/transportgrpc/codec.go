package transportgrpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is negotiated over the wire as the grpc "content-subtype"
// (e.g. "application/grpc+json"). Registering it globally lets any client
// that sets this subtype talk to this server without a protoc step.
const codecName = "json"

// jsonCodec lets this service exchange plain Go structs instead of
// generated protobuf messages — the router has no .proto toolchain, so
// grpc.ServiceDesc methods here are wired by hand (see servicedesc.go) against
// this codec rather than protoc-gen-go-grpc output.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
