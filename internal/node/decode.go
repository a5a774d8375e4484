package node

import "encoding/json"

// DecodeInto maps a node's loosely-typed Data bag into a typed config
// struct via a JSON round-trip, mirroring the teacher's parseConfig[T]
// helper in node_executors.go.
func DecodeInto(data map[string]any, out any) {
	if data == nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	_ = json.Unmarshal(raw, out)
}

func decodeInto(data map[string]any, out any) { DecodeInto(data, out) }
