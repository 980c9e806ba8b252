// Package schema validates raw channel messages against versioned
// per-action schemas, isolating protocol evolution from storage logic.
// Validation short-circuits before any storage access; on success it
// yields a normalized request with optional fields defaulted.
package schema

import (
	"encoding/json"
	"math"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/marginalia/internal/apperr"
)

// Version is the schema version this process speaks. Requests and
// responses carrying any other version are rejected, never best-effort
// parsed.
const Version = 1

// Actions in dispatch order.
const (
	ActionPing         = "ping"
	ActionRead         = "read"
	ActionSave         = "save"
	ActionDelete       = "delete"
	ActionStartEditing = "startEditing"
	ActionStopEditing  = "stopEditing"
	ActionGetEditing   = "getEditing"
)

// Request is a validated, normalized channel request. Only the fields
// named by the action's schema are populated.
type Request struct {
	Action      string
	StoragePath string
	Project     string
	FilePath    string
	Line        int
	Author      string
	User        string
	Text        string
	Context     []string
	Source      string
}

type fieldType int

const (
	typeString fieldType = iota
	typeInt
	typeStringList
)

type field struct {
	name     string
	typ      fieldType
	required bool
	assign   func(*Request, any)
}

var requestSchemas = map[string][]field{
	ActionPing: {},
	ActionRead: {
		{"storagePath", typeString, true, func(r *Request, v any) { r.StoragePath = v.(string) }},
		{"project", typeString, true, func(r *Request, v any) { r.Project = v.(string) }},
		{"filePath", typeString, true, func(r *Request, v any) { r.FilePath = v.(string) }},
	},
	ActionSave: {
		{"storagePath", typeString, true, func(r *Request, v any) { r.StoragePath = v.(string) }},
		{"project", typeString, true, func(r *Request, v any) { r.Project = v.(string) }},
		{"filePath", typeString, true, func(r *Request, v any) { r.FilePath = v.(string) }},
		{"line", typeInt, true, func(r *Request, v any) { r.Line = v.(int) }},
		{"author", typeString, true, func(r *Request, v any) { r.Author = v.(string) }},
		{"text", typeString, true, func(r *Request, v any) { r.Text = v.(string) }},
		{"context", typeStringList, false, func(r *Request, v any) { r.Context = v.([]string) }},
		{"source", typeString, false, func(r *Request, v any) { r.Source = v.(string) }},
	},
	ActionDelete: {
		{"storagePath", typeString, true, func(r *Request, v any) { r.StoragePath = v.(string) }},
		{"project", typeString, true, func(r *Request, v any) { r.Project = v.(string) }},
		{"filePath", typeString, true, func(r *Request, v any) { r.FilePath = v.(string) }},
		{"line", typeInt, true, func(r *Request, v any) { r.Line = v.(int) }},
	},
	ActionStartEditing: {
		{"storagePath", typeString, true, func(r *Request, v any) { r.StoragePath = v.(string) }},
		{"user", typeString, true, func(r *Request, v any) { r.User = v.(string) }},
		{"filePath", typeString, true, func(r *Request, v any) { r.FilePath = v.(string) }},
		{"line", typeInt, true, func(r *Request, v any) { r.Line = v.(int) }},
	},
	ActionStopEditing: {
		{"storagePath", typeString, true, func(r *Request, v any) { r.StoragePath = v.(string) }},
		{"user", typeString, true, func(r *Request, v any) { r.User = v.(string) }},
	},
	ActionGetEditing: {
		{"storagePath", typeString, true, func(r *Request, v any) { r.StoragePath = v.(string) }},
	},
}

// ValidateRequest checks a raw frame payload against the schema for its
// declared action and returns the normalized request. All failures are
// kind-tagged: MissingField, TypeMismatch, UnknownAction or
// SchemaVersionMismatch.
func ValidateRequest(raw []byte) (*Request, error) {
	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, apperr.Wrap(apperr.ValidationError, err, "request is not a JSON object")
	}

	if err := checkVersion(msg); err != nil {
		return nil, err
	}

	actionRaw, ok := msg["action"]
	if !ok {
		return nil, apperr.New(apperr.MissingField, "field %q is required", "action")
	}
	action, ok := actionRaw.(string)
	if !ok {
		return nil, apperr.New(apperr.TypeMismatch, "field %q must be a string", "action")
	}
	fields, ok := requestSchemas[action]
	if !ok {
		return nil, apperr.New(apperr.UnknownAction, "unknown action %q", action)
	}

	req := &Request{Action: action, Context: []string{}}
	for _, f := range fields {
		v, ok := msg[f.name]
		if !ok || v == nil {
			if f.required {
				return nil, apperr.New(apperr.MissingField, "field %q is required for action %q", f.name, action)
			}
			continue
		}
		coerced, err := coerce(f, v)
		if err != nil {
			return nil, err
		}
		f.assign(req, coerced)
	}

	if err := req.validateValues(); err != nil {
		return nil, apperr.New(apperr.ValidationError, "%v", err)
	}
	return req, nil
}

func checkVersion(msg map[string]any) error {
	raw, ok := msg["v"]
	if !ok {
		return apperr.New(apperr.SchemaVersionMismatch, "message carries no schema version")
	}
	num, ok := raw.(float64)
	if !ok || num != math.Trunc(num) {
		return apperr.New(apperr.SchemaVersionMismatch, "schema version must be an integer")
	}
	if int(num) != Version {
		return apperr.New(apperr.SchemaVersionMismatch, "unsupported schema version %d, this process speaks %d", int(num), Version)
	}
	return nil
}

func coerce(f field, v any) (any, error) {
	switch f.typ {
	case typeString:
		s, ok := v.(string)
		if !ok {
			return nil, apperr.New(apperr.TypeMismatch, "field %q must be a string", f.name)
		}
		return s, nil
	case typeInt:
		num, ok := v.(float64)
		if !ok || num != math.Trunc(num) {
			return nil, apperr.New(apperr.TypeMismatch, "field %q must be an integer", f.name)
		}
		return int(num), nil
	case typeStringList:
		list, ok := v.([]any)
		if !ok {
			return nil, apperr.New(apperr.TypeMismatch, "field %q must be a list of strings", f.name)
		}
		out := make([]string, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, apperr.New(apperr.TypeMismatch, "field %q must be a list of strings", f.name)
			}
			out[i] = s
		}
		return out, nil
	}
	return nil, apperr.New(apperr.TypeMismatch, "field %q has an unknown schema type", f.name)
}

// validateValues applies value-level constraints on top of the
// field/type checks.
func (r *Request) validateValues() error {
	switch r.Action {
	case ActionSave, ActionDelete, ActionStartEditing:
		return validation.ValidateStruct(r,
			validation.Field(&r.Line, validation.Required, validation.Min(1)),
		)
	}
	return nil
}
