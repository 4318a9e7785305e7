package jsonapi

import "strconv"

// Error is a JSON:API error object.
type Error struct {
	Status string                 `json:"status,omitempty"`
	Code   string                 `json:"code,omitempty"`
	Title  string                 `json:"title,omitempty"`
	Detail string                 `json:"detail,omitempty"`
	Source *ErrorSource           `json:"source,omitempty"`
	Meta   map[string]interface{} `json:"meta,omitempty"`
}

// ErrorSource points into the request document that caused the error.
type ErrorSource struct {
	Pointer   string `json:"pointer,omitempty"`
	Parameter string `json:"parameter,omitempty"`
}

// NewError builds an error object for the given HTTP status.
func NewError(status int, title, detail string) *Error {
	return &Error{
		Status: strconv.Itoa(status),
		Title:  title,
		Detail: detail,
	}
}

// WithPointer attaches a source pointer to the error.
func (e *Error) WithPointer(pointer string) *Error {
	e.Source = &ErrorSource{Pointer: pointer}
	return e
}

// NewErrorDocument wraps error objects in a top-level document.
func NewErrorDocument(errs ...*Error) *Document {
	return &Document{Errors: errs}
}
