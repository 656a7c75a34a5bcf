package connect

import "encoding/json"

// jsonCodec satisfies connect.Codec for the JSON message bodies the query
// service exchanges on its gRPC endpoints.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
