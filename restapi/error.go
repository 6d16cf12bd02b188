/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package restapi provides the error envelope and JSON responding helpers
// used by the HTTP admission middleware and the stats endpoints.
package restapi

// Error represents an error details.
type Error struct {
	Domain  string                 `json:"domain"`
	Code    string                 `json:"code"`
	Message string                 `json:"message,omitempty"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error codes.
// We are using "var" here because some services may want to use different error codes.
var (
	ErrCodeInternal          = "internalError"
	ErrCodeTooManyRequests   = "tooManyRequests"
	ErrCodeServiceOverloaded = "serviceOverloaded"
)

// Error messages.
// We are using "var" here because some services may want to use different error messages.
var (
	ErrMessageInternal          = "Internal error."
	ErrMessageTooManyRequests   = "Too many requests."
	ErrMessageServiceOverloaded = "Service is overloaded, try again later."
)

// NewError creates a new Error with specified params.
func NewError(domain, code, message string) *Error {
	return &Error{Domain: domain, Code: code, Message: message}
}

// NewInternalError creates a new internal error with specified domain.
func NewInternalError(domain string) *Error {
	return NewError(domain, ErrCodeInternal, ErrMessageInternal)
}

// AddContext adds value to error context.
func (e *Error) AddContext(field string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[field] = value
	return e
}
