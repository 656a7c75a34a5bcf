package grpc

import "encoding/json"

// jsonCodec satisfies grpc encoding.Codec. The query service speaks JSON
// payloads over the gRPC framing, so no generated protobuf types are
// involved on this path.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return "json" }
