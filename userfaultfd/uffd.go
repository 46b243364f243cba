/* SPDX-License-Identifier: BSD-2-Clause */

package userfaultfd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Uffd wraps a userfaultfd file descriptor together with an eventfd used to
// interrupt a blocked ReadEvent.
type Uffd struct {
	File     *os.File
	fd       int
	api      *UffdioApi
	flags    int
	wake     int
	pageSize int
}

// Force non-blocking so we can use poll()
// Also force close-on-exec
const force = unix.O_NONBLOCK | unix.O_CLOEXEC

// New creates a new userfaultfd and performs the two-step API handshake.
// Returns an *Uffd or an error.
func New(flags int, features uint64) (*Uffd, error) {
	flags |= force
	file, err := Open(flags)
	if err != nil {
		return nil, err
	}
	return newCommon(file, flags, features)
}

func newCommon(file *os.File, flags int, features uint64) (*Uffd, error) {
	api, err := ApiHandshake(int(file.Fd()), 0)
	if err != nil {
		file.Close()
		return nil, err
	}

	if api.Api != UFFD_API {
		file.Close()
		return nil, ErrInvalidApi
	}

	// From UFFDIO_API(2) BUGS section:
	// In order to detect available userfault features and enable some subset of those features
	// the userfaultfd file descriptor must be closed after the first UFFDIO_API operation that
	// queries features availability and reopened before the second UFFDIO_API operation that
	// actually enables the desired features.
	if features != 0 {
		file.Close()
		if api.Features&features != features {
			return nil, fmt.Errorf("%w: want %#x, have %#x", ErrUnsupportedFeature, features, api.Features)
		}
		if file, err = Open(flags); err != nil {
			return nil, err
		}
		if api, err = ApiHandshake(int(file.Fd()), features); err != nil {
			file.Close()
			return nil, err
		}
	}

	return wrap(file, api, flags)
}

// Adopt takes ownership of a userfaultfd that is already past the API
// handshake, such as the descriptor delivered with a UFFD_EVENT_FORK. The
// handshake state is inherited from the parent, so api describes what was
// negotiated there and may be nil.
func Adopt(fd int, api *UffdioApi) (*Uffd, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("fcntl", err)
	}
	unix.CloseOnExec(fd)
	if api == nil {
		api = &UffdioApi{Api: UFFD_API}
	}
	return wrap(os.NewFile(uintptr(fd), "userfaultfd"), api, force)
}

func wrap(file *os.File, api *UffdioApi, flags int) (*Uffd, error) {
	wake, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		file.Close()
		return nil, os.NewSyscallError("eventfd", err)
	}
	return &Uffd{
		File:     file,
		fd:       int(file.Fd()),
		api:      api,
		flags:    flags,
		wake:     wake,
		pageSize: unix.Getpagesize(),
	}, nil
}

// Close closes the underlying file descriptor and the wake eventfd.
func (u *Uffd) Close() error {
	werr := unix.Close(u.wake)
	if err := u.File.Close(); err != nil {
		return err
	}
	if werr != nil {
		return os.NewSyscallError("close", werr)
	}
	return nil
}

// FD returns the underlying file descriptor.
func (u *Uffd) Fd() int {
	return u.fd
}

// Api returns the result of the API handshake.
func (u *Uffd) Api() *UffdioApi {
	return u.api
}

// Features returns the API features.
func (u *Uffd) Features() uint64 {
	return u.api.Features
}

// Return the ioctls.
func (u *Uffd) Ioctls() uint64 {
	return u.api.Ioctls
}

// PageSize returns the system page size used for zero-fill fallbacks.
func (u *Uffd) PageSize() int {
	return u.pageSize
}

// Returns string representation.
func (u *Uffd) String() string {
	return fmt.Sprintf("uffd(fd=%d, features=%#x, ioctls=%#x)", u.Fd(), u.api.Features, u.api.Ioctls)
}

// Returns true if ioctl is available.
func (u *Uffd) HasIoctl(ioctl int) bool {
	return ioctl >= 0 && u.api.Ioctls&(1<<ioctl) != 0
}

// Register registers [start, start+length) in missing-page mode.
func (u *Uffd) Register(start, length uintptr) error {
	_, err := Register(u.Fd(), start, length, UFFDIO_REGISTER_MODE_MISSING)
	return err
}

// Unregister unregisters a previously registered range.
func (u *Uffd) Unregister(start, length uintptr) error {
	return Unregister(u.Fd(), start, length)
}

// CopyBytes resolves the fault at dst by copying src into place. A page
// that is already present (EEXIST) counts as resolved.
func (u *Uffd) CopyBytes(dst uintptr, src []byte) error {
	n, err := CopyBytes(u.Fd(), dst, src, 0)
	if err != nil {
		if errors.Is(err, unix.EEXIST) {
			return nil
		}
		return err
	}
	if n != int64(len(src)) {
		return fmt.Errorf("UFFDIO_COPY copied %d bytes, expected %d", n, len(src))
	}
	return nil
}

// CopyFrom reads exactly length bytes from r and copies them to dst.
func (u *Uffd) CopyFrom(r io.Reader, dst, length uintptr) error {
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	return u.CopyBytes(dst, buf)
}

// ZeroPage resolves the fault at start by mapping zero pages. A page that
// is already present (EEXIST) counts as resolved.
func (u *Uffd) ZeroPage(start, length uintptr) error {
	n, err := Zeropage(u.Fd(), start, length, 0)
	if err != nil {
		if errors.Is(err, unix.EEXIST) {
			return nil
		}
		return err
	}
	if n != int64(length) {
		return fmt.Errorf("UFFDIO_ZEROPAGE zeroed %d bytes, expected %d", n, length)
	}
	return nil
}

// WakeRange wakes faulting threads in the range without supplying data.
func (u *Uffd) WakeRange(start, length uintptr) error {
	return Wake(u.Fd(), start, length)
}

// Interrupt makes a pending or the next ReadMsgTimeout return
// ErrInterrupted. It is safe to call from any goroutine.
func (u *Uffd) Interrupt() error {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	return retryOnEINTR(func() error {
		_, err := unix.Write(u.wake, one[:])
		if errors.Is(err, unix.EAGAIN) {
			// Counter saturated: a wakeup is already pending.
			return nil
		}
		return err
	})
}

// ReadMsg reads one event message from the userfaultfd.
// If no event is available, it returns unix.EAGAIN.
func (u *Uffd) ReadMsg() (*UffdMsg, error) {
	return u.ReadMsgTimeout(0)
}

// ReadMsgTimeout waits up to msec milliseconds for an event and reads it.
// A negative msec waits forever. It returns unix.EAGAIN on timeout and
// ErrInterrupted when woken by Interrupt.
func (u *Uffd) ReadMsgTimeout(msec int) (*UffdMsg, error) {
	pfd := []unix.PollFd{
		{Fd: int32(u.Fd()), Events: unix.POLLIN},
		{Fd: int32(u.wake), Events: unix.POLLIN},
	}

	if err := retryOnEINTR(func() error {
		n, err := unix.Poll(pfd, msec)
		if err != nil {
			return err
		}
		if n == 0 {
			return unix.EAGAIN
		}
		return nil
	}); err != nil {
		return nil, os.NewSyscallError("poll", err)
	}

	if pfd[1].Revents&unix.POLLIN != 0 {
		var drain [8]byte
		_, _ = unix.Read(u.wake, drain[:])
		return nil, ErrInterrupted
	}
	if re := pfd[0].Revents; re&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return nil, &PollError{Revents: re}
	}

	var msg UffdMsg
	buf := (*[unsafe.Sizeof(msg)]byte)(unsafe.Pointer(&msg))[:]

	if err := retryOnEINTR(func() error {
		n, err := unix.Read(u.Fd(), buf)
		if err != nil {
			return err
		}
		if n != len(buf) {
			return fmt.Errorf("%w: got %d, expected %d", ErrShortRead, n, len(buf))
		}
		return nil
	}); err != nil {
		if errors.Is(err, ErrShortRead) {
			return nil, err
		}
		return nil, os.NewSyscallError("read", err)
	}

	return &msg, nil
}

// ReadEvent blocks until the next event arrives and decodes it. Another
// thread may have consumed the event announced by poll, in which case the
// wait starts over.
func (u *Uffd) ReadEvent() (Event, error) {
	for {
		msg, err := u.ReadMsgTimeout(-1)
		if errors.Is(err, unix.EAGAIN) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return msg.Decode(), nil
	}
}
