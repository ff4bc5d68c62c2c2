package push

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	FrameNop    = "nop"
	FramePush   = "push"
	FrameTickle = "tickle"

	TickleSubtypePush = "push"
)

var ErrMalformedFrame = errors.New("malformed frame")

// Frame is one JSON message received on the stream.
type Frame struct {
	Type    string  `json:"type"`
	Subtype string  `json:"subtype,omitempty"`
	Push    *Record `json:"push,omitempty"`
}

const frameSchemaURL = "pushmirror://frame.schema.json"

// Extra properties are allowed so that new server fields never break decoding.
const frameSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {"type": "string", "minLength": 1},
    "subtype": {"type": "string"},
    "push": {
      "type": "object",
      "properties": {
        "type": {"type": "string"},
        "iden": {"type": "string"},
        "dismissed": {"type": "boolean"},
        "encrypted": {"type": "boolean"},
        "ciphertext": {"type": "string"},
        "modified": {"type": "number"}
      }
    }
  },
  "if": {"properties": {"type": {"const": "push"}}},
  "then": {"required": ["push"]}
}`

var (
	frameSchemaOnce     sync.Once
	frameSchemaCompiled *jsonschema.Schema
	frameSchemaErr      error
)

func compiledFrameSchema() (*jsonschema.Schema, error) {
	frameSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(frameSchema))
		if err != nil {
			frameSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(frameSchemaURL, doc); err != nil {
			frameSchemaErr = err
			return
		}
		frameSchemaCompiled, frameSchemaErr = compiler.Compile(frameSchemaURL)
	})
	return frameSchemaCompiled, frameSchemaErr
}

// DecodeFrame parses and validates a stream message. Any failure wraps
// ErrMalformedFrame; unknown frame types decode fine and are left to the caller.
func DecodeFrame(data []byte) (Frame, error) {
	schema, err := compiledFrameSchema()
	if err != nil {
		return Frame{}, fmt.Errorf("frame schema: %w", err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := schema.Validate(instance); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return frame, nil
}
