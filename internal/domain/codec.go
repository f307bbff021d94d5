package domain

import (
	"encoding/json"
	"fmt"
)

const typeField = "type"

// emailTagAlias is the upper-case spelling some producers write.
const emailTagAlias = "EMAIL"

// Decode parses a queue body into its message variant.
//
// Every required key of the declared type must be present; values may be
// empty strings (Validate is the stricter check). The generic email tag is
// accepted as both "email" and "EMAIL".
func Decode(body []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	rawType, ok := fields[typeField]
	if !ok {
		return nil, ErrMissingType
	}
	var tag string
	if err := json.Unmarshal(rawType, &tag); err != nil {
		return nil, fmt.Errorf("%w: type: %v", ErrMalformedMessage, err)
	}

	switch kind := Kind(tag); {
	case kind == KindEmail || tag == emailTagAlias:
		return decodeAs[TemplatedEmail](body, fields)
	case kind == KindVenueUpdate:
		return decodeAs[VenueUpdate](body, fields)
	case kind == KindDinnerUpdate:
		return decodeAs[DinnerUpdate](body, fields)
	case kind == KindSubscriptionEmail:
		return decodeAs[SubscriptionEmail](body, fields)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, tag)
	}
}

func decodeAs[T Message](body []byte, fields map[string]json.RawMessage) (Message, error) {
	var m T
	for _, name := range m.requiredFields() {
		if _, ok := fields[name]; !ok {
			return nil, fmt.Errorf("%w: %s (type %s)", ErrMissingField, name, m.Kind())
		}
	}
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return m, nil
}

// Encode serialises m as a single JSON object with its "type" tag.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil message", ErrMalformedMessage)
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.Kind(), err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.Kind(), err)
	}
	tag, _ := json.Marshal(m.Kind())
	fields[typeField] = tag

	return json.Marshal(fields)
}
