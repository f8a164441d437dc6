package subgraph

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// forbiddenKeys are object keys that would let a client smuggle prototype
// pollution past a JS-based gateway; Go maps can't be polluted the same way, so
// this is enforced as outright rejection instead, the idiomatic Go analogue.
var forbiddenKeys = map[string]struct{}{
	"__proto__":   {},
	"constructor": {},
	"prototype":   {},
}

// DecodeSecure decodes a subgraph response the way a plain json.Unmarshal would,
// but first walks the object tree rejecting any of forbiddenKeys, and decodes
// numbers via UseNumber so large integer ids survive the round trip intact.
func DecodeSecure(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if err := rejectForbiddenKeys(raw); err != nil {
		return err
	}

	reencoded, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to re-marshal vetted response: %w", err)
	}

	out := json.NewDecoder(bytes.NewReader(reencoded))
	out.UseNumber()
	return out.Decode(v)
}

func rejectForbiddenKeys(v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, child := range val {
			if _, ok := forbiddenKeys[k]; ok {
				return fmt.Errorf("rejected response: forbidden key %q", k)
			}
			if err := rejectForbiddenKeys(child); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, child := range val {
			if err := rejectForbiddenKeys(child); err != nil {
				return err
			}
		}
	}
	return nil
}
