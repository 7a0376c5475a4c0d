package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error represents a universal error type returned by the worker's endpoints.
type Error struct {
	Status  int
	Reason  string // Short, user-facing label like "Failed to fetch data"
	Err     error  // The error this wraps
	Details []Detail
}

type Detail struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// Reason is a short label attached to an [Error]. It gets serialized as the "error" field.
type Reason string

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s, details: %v", e.Status, e.Err, e.Details)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type transport struct {
	Success bool     `json:"success"`
	Reason  string   `json:"error,omitempty"`
	Message string   `json:"message"`
	Details []Detail `json:"details,omitempty"`
}

func (s *Error) MarshalJSON() ([]byte, error) {
	msg := http.StatusText(s.Status)
	if s.Err != nil {
		msg = s.Err.Error()
	}

	return json.Marshal(transport{
		Success: false,
		Reason:  s.Reason,
		Message: msg,
		Details: s.Details,
	})
}

func (s *Error) UnmarshalJSON(byts []byte) error {
	t := transport{}
	if err := json.Unmarshal(byts, &t); err != nil {
		return err
	}

	s.Err = errors.New(t.Message)
	s.Reason = t.Reason
	s.Details = t.Details
	return nil
}

func E(args ...any) *Error {
	ret := &Error{
		Status:  http.StatusInternalServerError,
		Err:     nil,
		Details: nil,
	}

	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			ret.Err = errors.New(arg)
		case error:
			ret.Err = arg
		case int:
			ret.Status = arg
		case Reason:
			ret.Reason = string(arg)
		case Detail:
			ret.Details = append(ret.Details, arg)
		case []Detail:
			ret.Details = append(ret.Details, arg...)
		}
	}

	return ret
}
