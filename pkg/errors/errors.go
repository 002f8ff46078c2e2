// Package errors provides the sentinel errors shared by ifrau packages.
package errors

import stderrors "errors"

var (
	// ErrClosed indicates the channel or port has been closed.
	ErrClosed = stderrors.New("closed")

	// ErrInvalidInput indicates the input is invalid.
	ErrInvalidInput = stderrors.New("invalid input")

	// ErrAlreadyExists indicates a handler is already registered for a key.
	ErrAlreadyExists = stderrors.New("already exists")

	// ErrNotConnected indicates the port has not completed connect().
	ErrNotConnected = stderrors.New("not connected")

	// ErrAlreadyConnected indicates the registration window has closed.
	ErrAlreadyConnected = stderrors.New("already connected")

	// ErrAlreadyOpen indicates open() was called on an open port.
	ErrAlreadyOpen = stderrors.New("already open")

	// ErrNotOpen indicates close() was called before open().
	ErrNotOpen = stderrors.New("not open")

	// ErrNotFound indicates the requested method or backend was not found.
	ErrNotFound = stderrors.New("not found")
)
