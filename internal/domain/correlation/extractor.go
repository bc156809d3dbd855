package correlation

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

// Carrier is implemented by payloads that carry their correlation id
// explicitly.
type Carrier interface {
	CorrelationID() string
}

// Envelope wraps a payload with its correlation id. Its JSON form uses
// the "_correlationId" key so untyped consumers find it too.
type Envelope struct {
	ID      string `json:"_correlationId"`
	Payload any    `json:"payload,omitempty"`
}

func (e Envelope) CorrelationID() string { return e.ID }

// IDKeys are the field spellings accepted for a correlation id, in
// lookup order.
var IDKeys = []string{"_correlationId", "correlationId", "correlation_id", "CorrelationID"}

// NestedKey names the sub-object searched after the top level.
const NestedKey = "event"

// Extract returns the correlation id found in arg1 or, failing that, in
// arg2. Resolution order per argument: Carrier, direct field, nested
// event field, then the same on JSON text parsed from a string or byte
// payload. Unparseable text is treated as not found.
func Extract(arg1, arg2 any) (string, bool) {
	if cid, ok := extract(arg1); ok {
		return cid, true
	}
	return extract(arg2)
}

func extract(v any) (string, bool) {
	if cid, ok := fromValue(v); ok {
		return cid, true
	}
	parsed, ok := parseText(v)
	if !ok {
		return "", false
	}
	return fromValue(parsed)
}

func fromValue(v any) (string, bool) {
	if cid, ok := carried(v); ok {
		return cid, true
	}
	obj, ok := asObject(v)
	if !ok {
		return "", false
	}
	if cid, ok := lookup(obj, IDKeys); ok {
		return cid, true
	}

	nested := obj[NestedKey]
	if cid, ok := carried(nested); ok {
		return cid, true
	}
	if inner, ok := asObject(nested); ok {
		return lookup(inner, IDKeys)
	}
	return "", false
}

// carried reads a Carrier's id. A typed nil carrier yields not found.
func carried(v any) (cid string, ok bool) {
	c, isCarrier := v.(Carrier)
	if !isCarrier {
		return "", false
	}
	defer func() {
		if recover() != nil {
			cid, ok = "", false
		}
	}()
	cid = c.CorrelationID()
	return cid, cid != ""
}

// asObject views v as a string-keyed object without parsing text.
func asObject(v any) (map[string]any, bool) {
	switch obj := v.(type) {
	case map[string]any:
		return obj, true
	case map[string]string:
		out := make(map[string]any, len(obj))
		for k, s := range obj {
			out[k] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// parseText decodes string, []byte and json.RawMessage payloads holding a
// JSON object.
func parseText(v any) (any, bool) {
	var data []byte
	switch text := v.(type) {
	case string:
		data = []byte(text)
	case []byte:
		data = text
	case json.RawMessage:
		data = text
	default:
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}

	var parsed map[string]any
	if err := sonic.Unmarshal(data, &parsed); err != nil {
		return nil, false
	}
	return parsed, true
}

// lookup returns the first non-empty string value among keys.
func lookup(obj map[string]any, keys []string) (string, bool) {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// fields returns the object view of v, parsing JSON text if needed.
func fields(v any) (map[string]any, bool) {
	if obj, ok := asObject(v); ok {
		return obj, true
	}
	parsed, ok := parseText(v)
	if !ok {
		return nil, false
	}
	return asObject(parsed)
}
