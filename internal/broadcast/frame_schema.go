package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type frameSchemas struct {
	once    sync.Once
	initErr error
	base    *jsonschema.Schema
	byType  map[string]*jsonschema.Schema
}

var inboundSchemas frameSchemas

func initFrameSchemas() error {
	inboundSchemas.once.Do(func() {
		base, err := jsonschema.CompileString("inbound_frame", inboundFrameSchema)
		if err != nil {
			inboundSchemas.initErr = err
			return
		}
		inboundSchemas.base = base

		types := map[string]string{
			FrameMessage:     messageFrameSchema,
			FrameSubscribe:   roomFrameSchema,
			FrameUnsubscribe: roomFrameSchema,
		}
		inboundSchemas.byType = make(map[string]*jsonschema.Schema, len(types))
		for name, schema := range types {
			compiled, err := jsonschema.CompileString("inbound_frame_"+name, schema)
			if err != nil {
				inboundSchemas.initErr = err
				return
			}
			inboundSchemas.byType[name] = compiled
		}
	})
	return inboundSchemas.initErr
}

// decodeFrame validates raw against the frame schemas and decodes it.
func decodeFrame(raw []byte) (inboundFrame, error) {
	var frame inboundFrame
	if err := initFrameSchemas(); err != nil {
		return frame, err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return frame, errors.New("invalid frame: malformed JSON")
	}
	if err := inboundSchemas.base.Validate(payload); err != nil {
		return frameID(raw), schemaError(err)
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return frame, errors.New("invalid frame")
	}
	if schema := inboundSchemas.byType[frame.Type]; schema != nil {
		if err := schema.Validate(payload); err != nil {
			return frame, schemaError(err)
		}
	}
	return frame, nil
}

// frameID recovers the id of a rejected frame so the reply can echo it.
func frameID(raw []byte) inboundFrame {
	var probe struct {
		ID any `json:"id"`
	}
	_ = json.Unmarshal(raw, &probe)
	id, _ := probe.ID.(string)
	return inboundFrame{ID: id}
}

// schemaError reduces a validation tree to its first leaf.
func schemaError(err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("invalid frame: %w", err)
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	if ve.InstanceLocation == "" {
		return fmt.Errorf("invalid frame: %s", ve.Message)
	}
	return fmt.Errorf("invalid frame: %s: %s", ve.InstanceLocation, ve.Message)
}

const inboundFrameSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": { "enum": ["message", "subscribe", "unsubscribe"] },
    "id": { "type": "string", "maxLength": 128 },
    "user_id": { "type": "string" },
    "group_id": { "type": "integer" },
    "author_name": { "type": "string" },
    "text": { "type": "string" },
    "room": { "type": "string" }
  },
  "additionalProperties": false
}`

const messageFrameSchema = `{
  "type": "object",
  "required": ["text"],
  "properties": {
    "text": { "type": "string", "minLength": 1, "maxLength": 8000 },
    "group_id": { "type": "integer", "minimum": 0 },
    "author_name": { "type": "string", "maxLength": 200 }
  }
}`

const roomFrameSchema = `{
  "type": "object",
  "required": ["room"],
  "properties": {
    "room": { "type": "string", "minLength": 1 }
  }
}`
