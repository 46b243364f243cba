/* SPDX-License-Identifier: BSD-2-Clause */

package userfaultfd

import "fmt"

// Event is a decoded uffd_msg. The concrete type is one of Pagefault, Fork,
// Remap, Remove, Unmap or Unknown.
type Event interface {
	fmt.Stringer
	event()
}

// Pagefault reports an access to a missing page in a registered range.
type Pagefault struct {
	Address uintptr
	Flags   uint64
	Ptid    uint32
}

// Write reports whether the fault was caused by a write access.
func (p Pagefault) Write() bool { return p.Flags&UFFD_PAGEFAULT_FLAG_WRITE != 0 }

// Fork reports that the registered address space was duplicated by fork(2).
// Fd is a new userfaultfd, already installed in this process, that serves
// the child.
type Fork struct {
	Fd int
}

// Remap reports an mremap(2) that moved Len bytes from From to To.
type Remap struct {
	From, To, Len uintptr
}

// Remove reports madvise(MADV_DONTNEED/MADV_REMOVE) on [Start, End).
type Remove struct {
	Start, End uintptr
}

// Unmap reports munmap(2) of [Start, End).
type Unmap struct {
	Start, End uintptr
}

// Unknown carries an event kind this package does not decode.
type Unknown struct {
	Kind uint8
}

func (Pagefault) event() {}
func (Fork) event()      {}
func (Remap) event()     {}
func (Remove) event()    {}
func (Unmap) event()     {}
func (Unknown) event()   {}

func (p Pagefault) String() string {
	return fmt.Sprintf("PAGEFAULT(%#x, write=%t)", p.Address, p.Write())
}

func (f Fork) String() string { return fmt.Sprintf("FORK(ufd=%d)", f.Fd) }

func (r Remap) String() string {
	return fmt.Sprintf("REMAP(%#x -> %#x, len=%#x)", r.From, r.To, r.Len)
}

func (r Remove) String() string { return fmt.Sprintf("REMOVE(%#x - %#x)", r.Start, r.End) }

func (u Unmap) String() string { return fmt.Sprintf("UNMAP(%#x - %#x)", u.Start, u.End) }

func (u Unknown) String() string { return fmt.Sprintf("UNKNOWN(%#x)", u.Kind) }

// Decode converts the raw message into its Event.
func (m *UffdMsg) Decode() Event {
	switch m.Event {
	case UFFD_EVENT_PAGEFAULT:
		pf := m.GetPagefault()
		return Pagefault{Address: uintptr(pf.Address), Flags: pf.Flags, Ptid: pf.Ptid}
	case UFFD_EVENT_FORK:
		return Fork{Fd: int(m.GetFork().Ufd)}
	case UFFD_EVENT_REMAP:
		r := m.GetRemap()
		return Remap{From: uintptr(r.From), To: uintptr(r.To), Len: uintptr(r.Len)}
	case UFFD_EVENT_REMOVE:
		r := m.GetRemove()
		return Remove{Start: uintptr(r.Start), End: uintptr(r.End)}
	case UFFD_EVENT_UNMAP:
		r := m.GetRemove()
		return Unmap{Start: uintptr(r.Start), End: uintptr(r.End)}
	default:
		return Unknown{Kind: m.Event}
	}
}
