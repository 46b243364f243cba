/* SPDX-License-Identifier: BSD-2-Clause */

package uffdw

import (
	"fmt"
	"io"

	"github.com/ricardobranco777/go-uffdw/userfaultfd"
)

// Resolver is what a handler uses to release a faulting thread.
//
// CopyBytes and CopyFrom supply the page contents, ZeroPage supplies zeros,
// and WakeRange releases the faulter when the page was made present some
// other way. Addresses and lengths must be page aligned.
type Resolver interface {
	CopyBytes(dst uintptr, src []byte) error
	CopyFrom(r io.Reader, dst, length uintptr) error
	ZeroPage(start, length uintptr) error
	WakeRange(start, length uintptr) error
	PageSize() int
	Fd() int
}

// Channel is the notification channel a Context reads events from.
// *userfaultfd.Uffd implements it.
type Channel interface {
	Resolver

	Register(start, length uintptr) error
	Unregister(start, length uintptr) error

	// ReadEvent blocks until the next event. It returns
	// userfaultfd.ErrInterrupted once per call to Interrupt.
	ReadEvent() (userfaultfd.Event, error)
	Interrupt() error
	Close() error
}

// Opener creates the channel of a new root Context.
type Opener func(flags int, features uint64) (Channel, error)

// Adopter wraps the channel delivered with a fork event. parent is the
// channel the event was read from. On error the adopter must have closed fd.
type Adopter func(fd int, parent Channel) (Channel, error)

var _ Channel = (*userfaultfd.Uffd)(nil)

// OpenUserfaultfd opens a kernel userfaultfd with the requested features and
// checks that it can register ranges.
func OpenUserfaultfd(flags int, features uint64) (Channel, error) {
	u, err := userfaultfd.New(flags, features)
	if err != nil {
		return nil, err
	}
	if !u.HasIoctl(userfaultfd.IoctlRegister) {
		u.Close()
		return nil, fmt.Errorf("%w: UFFDIO_REGISTER not in %#x", userfaultfd.ErrMissingIoctl, u.Ioctls())
	}
	return u, nil
}

// AdoptUserfaultfd wraps a forked userfaultfd, inheriting the handshake
// result of the parent when it is a kernel channel too.
func AdoptUserfaultfd(fd int, parent Channel) (Channel, error) {
	var api *userfaultfd.UffdioApi
	if u, ok := parent.(*userfaultfd.Uffd); ok {
		api = u.Api()
	}
	u, err := userfaultfd.Adopt(fd, api)
	if err != nil {
		return nil, err
	}
	return u, nil
}
