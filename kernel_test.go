/* SPDX-License-Identifier: BSD-2-Clause */

package uffdw

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/ricardobranco777/go-uffdw/userfaultfd"
)

// newKernelContext creates a context on a real userfaultfd, skipping the
// test where the kernel or sandbox does not provide one.
func newKernelContext(t *testing.T) (*Context, *recorder) {
	t.Helper()
	rec := &recorder{}
	c, err := Create(WithObserver(rec))
	if err != nil {
		t.Skipf("userfaultfd unavailable: %v", err)
	}
	t.Cleanup(func() {
		assert.NoError(t, c.Cancel())
	})
	return c, rec
}

func TestKernelPageMarkers(t *testing.T) {
	c, _ := newKernelContext(t)
	ps := c.PageSize()

	mem, err := unix.Mmap(-1, 0, 10*ps, unix.PROT_READ, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	require.NoError(t, err)
	defer unix.Munmap(mem)
	base := uintptr(unsafe.Pointer(&mem[0]))

	var faults atomic.Int32
	marker := func(r Resolver, offset, addr uintptr, _ any) error {
		faults.Add(1)
		page := bytes.Repeat([]byte{'0' + byte(offset/uintptr(ps))}, ps)
		return r.CopyBytes(userfaultfd.PageAlign(addr, ps), page)
	}
	require.NoError(t, c.Register(base, uintptr(10*ps), 0, marker, nil))

	for i := range 10 {
		assert.Equal(t, '0'+byte(i), mem[i*ps+i], "page %d", i)
	}
	assert.EqualValues(t, 10, faults.Load())

	// Pages are present now and no longer fault.
	for i := range 10 {
		assert.Equal(t, '0'+byte(i), mem[i*ps+42], "page %d", i)
	}
	assert.EqualValues(t, 10, faults.Load())
	assert.NoError(t, c.Err())
}

func TestKernelZeroFillOutsideRanges(t *testing.T) {
	c, rec := newKernelContext(t)
	ps := c.PageSize()

	mem, err := unix.Mmap(-1, 0, 2*ps, unix.PROT_READ, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	require.NoError(t, err)
	defer unix.Munmap(mem)
	base := uintptr(unsafe.Pointer(&mem[0]))

	var faults atomic.Int32
	require.NoError(t, c.Register(base, uintptr(2*ps), 0, func(r Resolver, _, addr uintptr, _ any) error {
		faults.Add(1)
		return r.ZeroPage(userfaultfd.PageAlign(addr, ps), uintptr(ps))
	}, nil))

	// Drop the second page from the table but leave it registered with
	// the kernel, so its fault reaches the worker without a handler.
	c.mu.Lock()
	c.table.RemoveOverlapping(base+uintptr(ps), base+uintptr(2*ps))
	c.mu.Unlock()

	assert.Zero(t, mem[ps+1])
	assert.Zero(t, faults.Load())
	assert.Len(t, rec.of(KindZeroFill), 1)

	assert.Zero(t, mem[1])
	assert.EqualValues(t, 1, faults.Load())
}

func TestKernelMapReader(t *testing.T) {
	c, _ := newKernelContext(t)
	ps := c.PageSize()

	content := make([]byte, 3*ps+ps/2)
	for i := range content {
		content[i] = byte(i ^ i>>8)
	}
	path := filepath.Join(t.TempDir(), "backing")
	require.NoError(t, os.WriteFile(path, content, 0o600))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	m, err := c.MapReader(f, int64(len(content)))
	require.NoError(t, err)

	assert.True(t, bytes.Equal(content, m.Bytes()), "mapping differs from file")
	require.NoError(t, m.Close())
	assert.Empty(t, c.Ranges())
	assert.NoError(t, c.Err())
}

// A fault taken with a single P must still reach the worker.
func TestKernelSingleProc(t *testing.T) {
	if testing.Short() {
		t.Skip("runs a child test binary")
	}
	newKernelContext(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=^TestKernelPageMarkers$", "-test.count=1", "-test.v")
	cmd.Env = append(os.Environ(), "GOMAXPROCS=1")
	out, err := cmd.CombinedOutput()
	require.NoError(t, ctx.Err(), "child hung:\n%s", out)
	require.NoError(t, err, "%s", out)
	assert.Contains(t, string(out), "--- PASS: TestKernelPageMarkers")
}
