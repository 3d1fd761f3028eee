package filters

import (
	"encoding/json"
	"fmt"
)

// Spec is the JSON shape the UI sends for one filter.
type Spec struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

type listsPayload struct {
	Include []ListRef `json:"include_lists"`
	Exclude []ListRef `json:"exclude_lists"`
}

// Decode builds a Filter named name from its wire form.
func Decode(name string, spec Spec) (*Filter, error) {
	data := spec.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	switch {
	case spec.Type.isToggleMap():
		var m map[string]bool
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s filter %q: %w", spec.Type, name, err)
		}
		return newToggles(name, spec.Type, m), nil
	case spec.Type.isSwitch():
		var m map[string]bool
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s filter %q: %w", spec.Type, name, err)
		}
		return &Filter{Name: name, Kind: spec.Type, on: m[switchParams[spec.Type]]}, nil
	case spec.Type == KindInvitedBy:
		var users []UserRef
		if err := json.Unmarshal(data, &users); err != nil {
			return nil, fmt.Errorf("decode %s filter %q: %w", spec.Type, name, err)
		}
		return NewInvitedBy(name, users), nil
	case spec.Type == KindLists:
		var p listsPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode %s filter %q: %w", spec.Type, name, err)
		}
		return NewLists(name, p.Include, p.Exclude), nil
	default:
		return nil, fmt.Errorf("decode filter %q: unknown type %q", name, spec.Type)
	}
}

// DecodeSet builds a Set from a name to Spec mapping.
func DecodeSet(specs map[string]Spec) (Set, error) {
	s := make(Set, len(specs))
	for name, spec := range specs {
		f, err := Decode(name, spec)
		if err != nil {
			return nil, err
		}
		s.Add(f)
	}
	return s, nil
}
