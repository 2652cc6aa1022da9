package store

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedEntry = errors.New("malformed entry")

// MarshalJSON encodes the entry as a [group, key, value] triple.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]any{e.Group, e.Key, e.Value})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	if len(parts) != 3 {
		return fmt.Errorf("%w: want 3 elements, got %d", ErrMalformedEntry, len(parts))
	}
	var out Entry
	if err := json.Unmarshal(parts[0], &out.Group); err != nil {
		return fmt.Errorf("%w: group: %v", ErrMalformedEntry, err)
	}
	if err := json.Unmarshal(parts[1], &out.Key); err != nil {
		return fmt.Errorf("%w: key: %v", ErrMalformedEntry, err)
	}
	if err := json.Unmarshal(parts[2], &out.Value); err != nil {
		return fmt.Errorf("%w: value: %v", ErrMalformedEntry, err)
	}
	*e = out
	return nil
}
