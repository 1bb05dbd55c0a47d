package paste

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrMalformedJSON is returned by ParseCreateInput when the body is not JSON at all.
var ErrMalformedJSON = errors.New("invalid JSON body")

// maxCount bounds ttlSeconds and maxViews to what every backend stores as a 32-bit integer.
const maxCount = math.MaxInt32

// CreateInput is a create request. Nil pointers mean the option was not set.
type CreateInput struct {
	Content    string
	TTLSeconds *int
	MaxViews   *int
}

// Validate returns the first invalid field, checked in the order
// content, ttlSeconds, maxViews.
func (in CreateInput) Validate(maxBytes int) error {
	if err := checkContent(in.Content, maxBytes); err != nil {
		return err
	}
	if err := checkCount("ttlSeconds", in.TTLSeconds); err != nil {
		return err
	}
	return checkCount("maxViews", in.MaxViews)
}

// ParseCreateInput decodes a JSON create body and validates it field by field.
// Unknown fields are ignored and null counts as absent for optional fields.
func ParseCreateInput(data []byte, maxBytes int) (CreateInput, error) {
	var in CreateInput
	if !json.Valid(data) {
		return in, ErrMalformedJSON
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return in, &ValidationError{Message: "Expected object"}
	}

	raw, ok := fields["content"]
	if !ok {
		return in, &ValidationError{Field: "content", Message: "Required"}
	}
	if err := json.Unmarshal(raw, &in.Content); err != nil || isNull(raw) {
		return in, &ValidationError{Field: "content", Message: "Expected string"}
	}
	if err := checkContent(in.Content, maxBytes); err != nil {
		return in, err
	}

	var err error
	if in.TTLSeconds, err = parseCount("ttlSeconds", fields["ttlSeconds"]); err != nil {
		return in, err
	}
	if in.MaxViews, err = parseCount("maxViews", fields["maxViews"]); err != nil {
		return in, err
	}
	return in, nil
}

func parseCount(field string, raw json.RawMessage) (*int, error) {
	if len(raw) == 0 || isNull(raw) {
		return nil, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, &ValidationError{Field: field, Message: "Expected number"}
	}
	if f != math.Trunc(f) {
		return nil, &ValidationError{Field: field, Message: "Expected integer"}
	}
	if f > maxCount {
		return nil, &ValidationError{Field: field, Message: fmt.Sprintf("Number must be less than or equal to %d", maxCount)}
	}
	n := int(f)
	if err := checkCount(field, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func checkContent(content string, maxBytes int) error {
	if content == "" {
		return &ValidationError{Field: "content", Message: "Content cannot be empty"}
	}
	if maxBytes > 0 && len(content) > maxBytes {
		return &ValidationError{Field: "content", Message: fmt.Sprintf("Content exceeds %d byte limit", maxBytes)}
	}
	return nil
}

func checkCount(field string, v *int) error {
	if v == nil {
		return nil
	}
	if *v < 1 {
		return &ValidationError{Field: field, Message: "Number must be greater than or equal to 1"}
	}
	if *v > maxCount {
		return &ValidationError{Field: field, Message: fmt.Sprintf("Number must be less than or equal to %d", maxCount)}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}
