package handler

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecodeParams decodes a step's raw parameter map into a handler's typed
// parameter struct. Unknown keys fail the decode so parameter typos surface
// as errors instead of silently dropped options.
func DecodeParams(params map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: true,
		TagName:     "param",
	})
	if err != nil {
		return fmt.Errorf("failed to build parameter decoder: %w", err)
	}

	if err := decoder.Decode(params); err != nil {
		return fmt.Errorf("invalid step parameters: %w", err)
	}

	return nil
}
