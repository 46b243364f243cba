/* SPDX-License-Identifier: BSD-2-Clause */

package uffdw

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ricardobranco777/go-uffdw/userfaultfd"
)

// Mapping is anonymous memory whose pages are read from an io.ReaderAt the
// first time they are touched.
type Mapping struct {
	ctx  *Context
	mem  []byte
	size int64
	base uintptr
	pool sync.Pool

	closeOnce sync.Once
	closeErr  error
}

// MapReader maps size bytes of r into memory. Offsets in r and in the
// mapping coincide, since the range is registered with handler offset 0.
// Only reads are serviced: writing to a page not yet read stops the worker.
func (c *Context) MapReader(r io.ReaderAt, size int64) (*Mapping, error) {
	if size <= 0 {
		return nil, fmt.Errorf("map reader: invalid size %d", size)
	}

	mapLen := userfaultfd.RoundUp(uintptr(size), uintptr(c.pageSize))
	mem, err := unix.Mmap(-1, 0, int(mapLen), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, os.NewSyscallError("mmap", err)
	}

	m := &Mapping{
		ctx:  c,
		mem:  mem,
		size: size,
		base: uintptr(unsafe.Pointer(&mem[0])),
	}
	pageSize := c.pageSize
	m.pool.New = func() any {
		b := make([]byte, pageSize)
		return &b
	}

	if err := c.Register(m.base, mapLen, 0, m.fault, r); err != nil {
		_ = unix.Munmap(mem)
		return nil, err
	}
	return m, nil
}

// fault copies in the page containing offset, zero-padded past the end of
// the mapped size.
func (m *Mapping) fault(res Resolver, offset, addr uintptr, data any) error {
	r := data.(io.ReaderAt)

	bp := m.pool.Get().(*[]byte)
	defer m.pool.Put(bp)
	page := *bp

	pageSize := len(page)
	off := userfaultfd.PageAlign(offset, pageSize)

	want := min(int64(pageSize), m.size-int64(off))
	n, err := r.ReadAt(page[:want], int64(off))
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read page at %#x: %w", off, err)
	}
	clear(page[n:])

	return res.CopyBytes(userfaultfd.PageAlign(addr, pageSize), page)
}

// Bytes returns the mapped memory. It must not be used after Close.
func (m *Mapping) Bytes() []byte {
	return m.mem[:m.size]
}

// Close unregisters and unmaps the memory.
func (m *Mapping) Close() error {
	m.closeOnce.Do(func() {
		err := m.ctx.Unregister(m.base, uintptr(len(m.mem)))
		if errors.Is(err, ErrCancelled) {
			err = nil
		}
		m.closeErr = errors.Join(err, unix.Munmap(m.mem))
	})
	return m.closeErr
}
