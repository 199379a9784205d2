// Package dto holds the request and response types of the HTTP API.
package dto

// Validatable is implemented by request types that can validate their fields.
// The Wrap function in handler_wrapper.go uses it as a type constraint.
type Validatable interface {
	Validate() error
}
