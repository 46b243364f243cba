/* SPDX-License-Identifier: BSD-2-Clause */

package uffdw

import (
	"errors"
	"fmt"

	"github.com/ricardobranco777/go-uffdw/internal/span"
)

var (
	ErrCreationFailed   = errors.New("uffdw: creation failed")
	ErrCancelled        = errors.New("uffdw: context already cancelled")
	ErrWriteFault       = errors.New("uffdw: write faults are not supported")
	ErrUnsupportedEvent = errors.New("uffdw: unsupported event")
	ErrNilHandler       = errors.New("uffdw: nil handler")

	// ErrOverlap is returned by Register for a range that intersects one
	// already registered.
	ErrOverlap = span.ErrOverlap

	// ErrInvalidRange is returned for a range that wraps around the end of
	// the address space.
	ErrInvalidRange = span.ErrInvalidRange
)

// HandlerError is the terminal error of a worker whose handler failed.
type HandlerError struct {
	Addr uintptr
	Err  error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("uffdw: handler failed at %#x: %v", e.Addr, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
