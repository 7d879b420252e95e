package entities

import "errors"

// ErrorKind classifies failures by where they are handled
type ErrorKind string

const (
	// ErrorKindValidation means the request was rejected before any provider resource was created
	ErrorKindValidation ErrorKind = "validation"
	// ErrorKindAuth means credential exchange with the provider failed
	ErrorKindAuth ErrorKind = "auth"
	// ErrorKindProvider covers network, timeout and remote errors from the provider
	ErrorKindProvider ErrorKind = "provider"
	// ErrorKindProtocol means the client sent a malformed message
	ErrorKindProtocol ErrorKind = "protocol"
)

// Error is a classified error whose Message is safe to show to the client
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewValidationError(message string) *Error {
	return &Error{Kind: ErrorKindValidation, Message: message}
}

func NewProtocolError(message string, err error) *Error {
	return &Error{Kind: ErrorKindProtocol, Message: message, Err: err}
}

func NewAuthError(message string, err error) *Error {
	return &Error{Kind: ErrorKindAuth, Message: message, Err: err}
}

func NewProviderError(message string, err error) *Error {
	return &Error{Kind: ErrorKindProvider, Message: message, Err: err}
}

// KindOf returns the kind of a classified error, unclassified errors count as provider errors
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrorKindProvider
}

// ClientMessage returns the human readable message to send to the client
func ClientMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return err.Error()
}
