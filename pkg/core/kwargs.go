package core

import (
	"encoding/json"
	"fmt"
)

// Kwargs holds a job's keyword arguments as raw JSON values.
// A handler receives them by declaring a trailing Kwargs parameter.
type Kwargs map[string]json.RawMessage

// Has reports whether key was supplied.
func (k Kwargs) Has(key string) bool {
	_, ok := k[key]
	return ok
}

// Decode unmarshals the value under key into v. It reports false when the
// key is absent, leaving v untouched.
func (k Kwargs) Decode(key string, v any) (bool, error) {
	raw, ok := k[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("jobs: decode kwarg %q: %w", key, err)
	}
	return true, nil
}

// String returns the string value under key, or def if the key is absent or
// not a JSON string.
func (k Kwargs) String(key, def string) string {
	var s string
	if ok, err := k.Decode(key, &s); !ok || err != nil {
		return def
	}
	return s
}

// EncodeKwargs marshals a keyword map for storage. A nil map encodes as {}.
func EncodeKwargs(kwargs map[string]any) ([]byte, error) {
	if kwargs == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(kwargs)
	if err != nil {
		return nil, fmt.Errorf("jobs: encode kwargs: %w", err)
	}
	return data, nil
}

// EncodeArgs marshals positional arguments for storage. A nil slice encodes as [].
func EncodeArgs(args []any) ([]byte, error) {
	if args == nil {
		return []byte("[]"), nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("jobs: encode args: %w", err)
	}
	return data, nil
}
