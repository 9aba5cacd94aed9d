package models

import "errors"

// Common model errors
var (
	// ErrInvalidItem indicates that a cart item fails the shape check
	ErrInvalidItem = errors.New("invalid cart item")

	// ErrInvalidState indicates that a cart state fails the shape check
	ErrInvalidState = errors.New("invalid cart state")

	// ErrMalformedMessage indicates that a sync envelope could not be decoded or validated
	ErrMalformedMessage = errors.New("malformed sync message")
)
