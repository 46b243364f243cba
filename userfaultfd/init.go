/* SPDX-License-Identifier: BSD-2-Clause */

package userfaultfd

import "os"

var (
	// True if /proc/sys/vm/unprivileged_userfaultfd == 1
	UnprivilegedUserfaultfd bool

	// Supports /dev/userfaultfd
	HaveDevUserfaultfd bool

	// Kernel supports user mode only flag
	HaveUserModeOnly bool
)

func init() {
	UnprivilegedUserfaultfd = UnprivilegedUserfaultfdAllowed()

	// Missing definitions are declared as 0 in const.go
	HaveUserModeOnly = UFFD_USER_MODE_ONLY != 0
	if USERFAULTFD_IOC_NEW != 0 {
		_, err := os.Stat("/dev/userfaultfd")
		HaveDevUserfaultfd = err == nil
	}
}
