/* SPDX-License-Identifier: BSD-2-Clause */

package userfaultfd

/*
#include <linux/ioctl.h>
#include <linux/userfaultfd.h>
#include <asm/unistd.h>

#ifndef UFFD_USER_MODE_ONLY
#define UFFD_USER_MODE_ONLY	0
#endif
#ifndef USERFAULTFD_IOC_NEW
#define USERFAULTFD_IOC_NEW	0
#endif
*/
import "C"

const (
	// Create a userfaultfd that can handle page faults only in user mode.
	UFFD_USER_MODE_ONLY = C.UFFD_USER_MODE_ONLY
)

const (
	UFFD_API            = C.UFFD_API
	UFFDIO_API          = C.UFFDIO_API
	UFFDIO_REGISTER     = C.UFFDIO_REGISTER
	UFFDIO_UNREGISTER   = C.UFFDIO_UNREGISTER
	UFFDIO_WAKE         = C.UFFDIO_WAKE
	UFFDIO_COPY         = C.UFFDIO_COPY
	UFFDIO_ZEROPAGE     = C.UFFDIO_ZEROPAGE
	USERFAULTFD_IOC_NEW = C.USERFAULTFD_IOC_NEW
	// Bit positions in UffdioApi.Ioctls and UffdioRegister.Ioctls
	_UFFDIO_API        = C._UFFDIO_API
	_UFFDIO_REGISTER   = C._UFFDIO_REGISTER
	_UFFDIO_UNREGISTER = C._UFFDIO_UNREGISTER
	_UFFDIO_WAKE       = C._UFFDIO_WAKE
	_UFFDIO_COPY       = C._UFFDIO_COPY
	_UFFDIO_ZEROPAGE   = C._UFFDIO_ZEROPAGE
)

// Ioctl bit numbers usable with Uffd.HasIoctl.
const (
	IoctlApi        = _UFFDIO_API
	IoctlRegister   = _UFFDIO_REGISTER
	IoctlUnregister = _UFFDIO_UNREGISTER
	IoctlWake       = _UFFDIO_WAKE
	IoctlCopy       = _UFFDIO_COPY
	IoctlZeropage   = _UFFDIO_ZEROPAGE
)

// UFFDIO_API features
const (
	UFFD_FEATURE_PAGEFAULT_FLAG_WP  = 1 << iota // 1 << 0
	UFFD_FEATURE_EVENT_FORK                     // 1 << 1
	UFFD_FEATURE_EVENT_REMAP                    // 1 << 2
	UFFD_FEATURE_EVENT_REMOVE                   // 1 << 3
	UFFD_FEATURE_MISSING_HUGETLBFS              // 1 << 4
	UFFD_FEATURE_MISSING_SHMEM                  // 1 << 5
	UFFD_FEATURE_EVENT_UNMAP                    // 1 << 6
)

// userfaultfd events
const (
	UFFD_EVENT_PAGEFAULT = 0x12
	UFFD_EVENT_FORK      = 0x13
	UFFD_EVENT_REMAP     = 0x14
	UFFD_EVENT_REMOVE    = 0x15
	UFFD_EVENT_UNMAP     = 0x16
)

// UFFD_EVENT_PAGEFAULT flags
const (
	UFFD_PAGEFAULT_FLAG_WRITE = 1 << iota // 1 << 0
	UFFD_PAGEFAULT_FLAG_WP                // 1 << 1
	UFFD_PAGEFAULT_FLAG_MINOR             // 1 << 2
)

// UFFDIO_COPY(2) ioctl mode
const (
	UFFDIO_COPY_MODE_DONTWAKE = 1 << iota // 1 << 0
)

// UFFDIO_REGISTER(2) ioctl mode
const (
	UFFDIO_REGISTER_MODE_MISSING = 1 << iota // 1 << 0
)

// UFFDIO_ZEROPAGE(2) ioctl mode
const (
	UFFDIO_ZEROPAGE_MODE_DONTWAKE = 1 << iota // 1 << 0
)

// EventFeatures is the set of non-cooperative events needed to keep a
// range table in sync with the address space of the faulting process.
const EventFeatures = UFFD_FEATURE_EVENT_FORK |
	UFFD_FEATURE_EVENT_REMAP |
	UFFD_FEATURE_EVENT_REMOVE |
	UFFD_FEATURE_EVENT_UNMAP

// MissingFeatures extends missing-page handling beyond anonymous memory.
const MissingFeatures = UFFD_FEATURE_MISSING_HUGETLBFS | UFFD_FEATURE_MISSING_SHMEM
