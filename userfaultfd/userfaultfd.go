/* SPDX-License-Identifier: BSD-2-Clause */

// Package userfaultfd provides a thin wrapper around Linux's userfaultfd(2) API.
// It allows userland page-fault handling via ioctls defined in <linux/userfaultfd.h>.
package userfaultfd

import (
	"errors"
	"os"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

func ioctl(fd int, op uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), op, uintptr(arg))
	if errno != 0 {
		return os.NewSyscallError("ioctl", errno)
	}
	return nil
}

// Open creates a new userfaultfd instance using the best available method.
// It prefers the userfaultfd(2) syscall but falls back to /dev/userfaultfd
// if the syscall is unavailable or returns ENOSYS/EPERM.
func Open(flags int) (*os.File, error) {
	f, err := NewFile(flags)
	if err == nil {
		return f, nil
	}

	// Fallback only for specific expected errors.
	if !HaveDevUserfaultfd || !(errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.EPERM)) {
		return nil, err
	}
	return NewFile2(flags)
}

// NewFile creates a userfaultfd with the userfaultfd(2) syscall.
func NewFile(flags int) (*os.File, error) {
	fd, _, errno := unix.Syscall(unix.SYS_USERFAULTFD, uintptr(flags), 0, 0)
	if errno != 0 {
		return nil, os.NewSyscallError("userfaultfd", errno)
	}
	return os.NewFile(fd, "userfaultfd"), nil
}

// NewFile2 creates a userfaultfd through the USERFAULTFD_IOC_NEW ioctl on
// /dev/userfaultfd, which is subject to the device's permissions instead of
// vm.unprivileged_userfaultfd.
func NewFile2(flags int) (*os.File, error) {
	dev, err := os.OpenFile("/dev/userfaultfd", os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	fd, _, errno := unix.Syscall(unix.SYS_IOCTL, dev.Fd(), uintptr(USERFAULTFD_IOC_NEW), uintptr(flags))
	if errno != 0 {
		return nil, os.NewSyscallError("ioctl(USERFAULTFD_IOC_NEW)", errno)
	}

	return os.NewFile(fd, "userfaultfd"), nil
}

// ApiHandshake negotiates the userfaultfd API version and features.
// Returns the negotiated info or an error.
func ApiHandshake(fd int, features uint64) (*UffdioApi, error) {
	api := &UffdioApi{Api: UFFD_API, Features: features}
	if err := ioctl(fd, UFFDIO_API, unsafe.Pointer(api)); err != nil {
		return nil, err
	}
	return api, nil
}

// Copy resolves a page fault by copying content from src to dst.
// Returns the number of bytes copied or an error.
func Copy(fd int, dst, src, length uintptr, mode uint64) (int64, error) {
	c := &UffdioCopy{Dst: uint64(dst), Src: uint64(src), Len: uint64(length), Mode: mode}
	if err := ioctl(fd, UFFDIO_COPY, unsafe.Pointer(c)); err != nil {
		return c.Copy, err
	}
	return c.Copy, nil
}

// CopyBytes is Copy with a Go slice as the source.
func CopyBytes(fd int, dst uintptr, src []byte, mode uint64) (int64, error) {
	if len(src) == 0 {
		return 0, nil
	}
	n, err := Copy(fd, dst, uintptr(unsafe.Pointer(&src[0])), uintptr(len(src)), mode)
	runtime.KeepAlive(src)
	return n, err
}

// Register registers a memory range for userfaultfd handling with the specified mode.
// Returns the registration info or an error.
func Register(fd int, start, length uintptr, mode uint64) (*UffdioRegister, error) {
	reg := &UffdioRegister{Range: UffdioRange{Start: uint64(start), Len: uint64(length)}, Mode: mode}
	if err := ioctl(fd, UFFDIO_REGISTER, unsafe.Pointer(reg)); err != nil {
		return nil, err
	}
	return reg, nil
}

// Unregister unregisters a previously registered range.
func Unregister(fd int, start, length uintptr) error {
	r := &UffdioRange{Start: uint64(start), Len: uint64(length)}
	return ioctl(fd, UFFDIO_UNREGISTER, unsafe.Pointer(r))
}

// Wake wakes up blocked page faults in the given range.
func Wake(fd int, start, length uintptr) error {
	r := &UffdioRange{Start: uint64(start), Len: uint64(length)}
	return ioctl(fd, UFFDIO_WAKE, unsafe.Pointer(r))
}

// Zeropage resolves a page fault by zero-filling the memory range.
// Returns the length zeroed or an error.
func Zeropage(fd int, start, length uintptr, mode uint64) (int64, error) {
	z := &UffdioZeropage{Range: UffdioRange{Start: uint64(start), Len: uint64(length)}, Mode: mode}
	if err := ioctl(fd, UFFDIO_ZEROPAGE, unsafe.Pointer(z)); err != nil {
		return z.Zeropage, err
	}
	return z.Zeropage, nil
}
