package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrorKind classifies a failed tool execution.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindNotFound      ErrorKind = "not_found"
	KindAuthorization ErrorKind = "authorization"
	KindAmbiguity     ErrorKind = "ambiguity"
	KindExecution     ErrorKind = "execution"
	KindTimeout       ErrorKind = "timeout"
)

// ToolCandidate is one option offered when a reference is ambiguous.
type ToolCandidate struct {
	ID    int64  `json:"id"`
	Title string `json:"title,omitempty"`
	Name  string `json:"name,omitempty"`
	Group string `json:"group,omitempty"`
}

// Label returns the human-readable name of the candidate.
func (c ToolCandidate) Label() string {
	label := c.Title
	if label == "" {
		label = c.Name
	}
	if label == "" {
		label = "#" + strconv.FormatInt(c.ID, 10)
	}
	if c.Group != "" {
		label += " (" + c.Group + ")"
	}
	return label
}

// ToolResult is the uniform outcome of a tool execution.
//
// Payload holds the domain-specific fields of a successful call and is
// flattened into the top-level JSON object. Action is never serialized; it is
// carried alongside the result so the caller can record committed effects.
type ToolResult struct {
	OK         bool
	Error      string
	ErrorID    string
	Kind       ErrorKind
	Candidates []ToolCandidate
	Payload    map[string]any
	Action     *AssistantAction
}

// Success builds a successful result.
func Success(payload map[string]any, action *AssistantAction) ToolResult {
	return ToolResult{OK: true, Payload: payload, Action: action}
}

// Failure builds a failed result.
func Failure(kind ErrorKind, message, errorID string) ToolResult {
	return ToolResult{OK: false, Kind: kind, Error: message, ErrorID: errorID}
}

// Ambiguous builds a result asking the caller to choose among candidates.
func Ambiguous(message string, candidates []ToolCandidate) ToolResult {
	return ToolResult{OK: false, Kind: KindAmbiguity, Error: message, Candidates: candidates}
}

// IsAmbiguous reports whether the result carries disambiguation candidates.
func (r ToolResult) IsAmbiguous() bool {
	return !r.OK && len(r.Candidates) > 0
}

var reservedResultKeys = map[string]struct{}{
	"ok":         {},
	"error":      {},
	"errorId":    {},
	"kind":       {},
	"candidates": {},
}

// MarshalJSON flattens the payload next to the envelope fields.
func (r ToolResult) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Payload)+5)
	for k, v := range r.Payload {
		if _, reserved := reservedResultKeys[k]; reserved {
			continue
		}
		out[k] = v
	}
	out["ok"] = r.OK
	if r.Error != "" {
		out["error"] = r.Error
	}
	if r.ErrorID != "" {
		out["errorId"] = r.ErrorID
	}
	if r.Kind != "" {
		out["kind"] = r.Kind
	}
	if len(r.Candidates) > 0 {
		out["candidates"] = r.Candidates
	}
	return json.Marshal(out)
}

// UnmarshalJSON validates the envelope and collects remaining keys as payload.
func (r *ToolResult) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode tool result: %w", err)
	}
	okRaw, present := raw["ok"]
	if !present {
		return errors.New("decode tool result: missing ok")
	}
	var decoded ToolResult
	if err := json.Unmarshal(okRaw, &decoded.OK); err != nil {
		return fmt.Errorf("decode tool result: ok: %w", err)
	}
	if v, ok := raw["error"]; ok {
		if err := json.Unmarshal(v, &decoded.Error); err != nil {
			return fmt.Errorf("decode tool result: error: %w", err)
		}
	}
	if v, ok := raw["errorId"]; ok {
		if err := json.Unmarshal(v, &decoded.ErrorID); err != nil {
			return fmt.Errorf("decode tool result: errorId: %w", err)
		}
	}
	if v, ok := raw["kind"]; ok {
		if err := json.Unmarshal(v, &decoded.Kind); err != nil {
			return fmt.Errorf("decode tool result: kind: %w", err)
		}
	}
	if v, ok := raw["candidates"]; ok {
		if err := json.Unmarshal(v, &decoded.Candidates); err != nil {
			return fmt.Errorf("decode tool result: candidates: %w", err)
		}
	}
	if !decoded.OK && strings.TrimSpace(decoded.Error) == "" && len(decoded.Candidates) == 0 {
		return errors.New("decode tool result: failed result without error or candidates")
	}
	for k, v := range raw {
		if _, reserved := reservedResultKeys[k]; reserved {
			continue
		}
		if decoded.Payload == nil {
			decoded.Payload = make(map[string]any)
		}
		var value any
		if err := json.Unmarshal(v, &value); err != nil {
			return fmt.Errorf("decode tool result: %s: %w", k, err)
		}
		decoded.Payload[k] = value
	}
	*r = decoded
	return nil
}

// ToolFailure summarizes a failed tool call for the exchange response.
type ToolFailure struct {
	Tool    string    `json:"tool"`
	Error   string    `json:"error"`
	ErrorID string    `json:"errorId,omitempty"`
	Kind    ErrorKind `json:"kind,omitempty"`
}
