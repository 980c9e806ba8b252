package schema

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/models"
)

// ErrorBody is the tagged failure carried by an unsuccessful response.
type ErrorBody struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

// Editor is one entry of a getEditing response.
type Editor struct {
	User     string `json:"user"`
	FilePath string `json:"filePath"`
	Line     int    `json:"line"`
}

// Response is the single wire shape for all actions; per-action payload
// fields are nil when unused. Annotations and Editors must not carry
// omitempty: an empty result is an empty array on the wire, never a
// missing field.
type Response struct {
	V           int                 `json:"v"`
	Success     bool                `json:"success"`
	Error       *ErrorBody          `json:"error,omitempty"`
	Annotations []models.Annotation `json:"annotations"`
	Editors     []Editor            `json:"editors"`
}

// OK returns a bare success response.
func OK() *Response {
	return &Response{V: Version, Success: true}
}

// Fail maps any error to a tagged failure response.
func Fail(err error) *Response {
	return &Response{
		V:       Version,
		Success: false,
		Error:   &ErrorBody{Kind: apperr.KindOf(err), Message: errMessage(err)},
	}
}

func errMessage(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// ValidateResponse checks an outbound response against the response
// schema for the given action before it is framed. A failure here is a
// bug in this process, not in the caller.
func ValidateResponse(action string, resp *Response) error {
	if resp.V != Version {
		return apperr.New(apperr.SchemaVersionMismatch, "response carries schema version %d, want %d", resp.V, Version)
	}
	if !resp.Success {
		if resp.Error == nil {
			return apperr.New(apperr.ValidationError, "failure response for %q carries no error body", action)
		}
		return validation.ValidateStruct(resp.Error,
			validation.Field(&resp.Error.Kind, validation.Required),
			validation.Field(&resp.Error.Message, validation.Required),
		)
	}
	switch action {
	case ActionRead:
		if resp.Annotations == nil {
			return apperr.New(apperr.ValidationError, "read response must carry annotations")
		}
	case ActionGetEditing:
		if resp.Editors == nil {
			return apperr.New(apperr.ValidationError, "getEditing response must carry editors")
		}
	}
	return nil
}
