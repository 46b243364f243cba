/* SPDX-License-Identifier: BSD-2-Clause */

package userfaultfd

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// UnprivilegedUserfaultfdAllowed returns true if
// /proc/sys/vm/unprivileged_userfaultfd contains 1
func UnprivilegedUserfaultfdAllowed() bool {
	data, err := os.ReadFile("/proc/sys/vm/unprivileged_userfaultfd")
	if err != nil {
		return false
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}
	return v == 1
}

// DefaultFlags returns the userfaultfd(2) flags this process can use.
// Unprivileged callers on kernels with vm.unprivileged_userfaultfd=0 only
// get a descriptor when asking for user-mode faults.
func DefaultFlags() int {
	flags := unix.O_CLOEXEC
	if os.Geteuid() != 0 && !UnprivilegedUserfaultfd && HaveUserModeOnly {
		flags |= UFFD_USER_MODE_ONLY
	}
	return flags
}

// RoundUp rounds n up to a multiple of align, which must be a power of two.
func RoundUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

// PageAlign rounds addr down to the start of its page.
func PageAlign(addr uintptr, pageSize int) uintptr {
	return addr &^ (uintptr(pageSize) - 1)
}

func retryOnEINTR(fn func() error) error {
	for {
		err := fn()
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}
