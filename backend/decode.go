package backend

import (
	"encoding/json"
	"fmt"
)

// Validator is implemented by response types that need more than a
// successful unmarshal to be considered well formed.
type Validator interface {
	Validate() error
}

// Decode unmarshals body into v and runs v's Validate method. Any failure
// is reported as ErrMalformedResponse.
func Decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if val, ok := v.(Validator); ok {
		if err := val.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	}
	return nil
}
