/* SPDX-License-Identifier: BSD-2-Clause */

package uffdw

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ricardobranco777/go-uffdw/userfaultfd"
)

const (
	fakePageSize = 0x1000
	waitFor      = 5 * time.Second
)

type message struct {
	ev  userfaultfd.Event
	err error
}

type call struct {
	Op         string
	Start, Len uintptr
	Data       []byte
}

// fakeChannel is an in-memory Channel. Tests push events with send and the
// worker's resolver calls are recorded in calls.
type fakeChannel struct {
	fd        int
	events    chan message
	interrupt chan struct{}
	entries   atomic.Int64
	sent      int64

	mu          sync.Mutex
	calls        []call
	registerErr  error
	copyErr      error
	interruptErr error
	closed       int
}

func newFakeChannel(fd int) *fakeChannel {
	return &fakeChannel{
		fd:        fd,
		events:    make(chan message),
		interrupt: make(chan struct{}, 1),
	}
}

func (f *fakeChannel) record(c call) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakeChannel) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeChannel) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeChannel) CopyBytes(dst uintptr, src []byte) error {
	f.record(call{Op: "copy", Start: dst, Len: uintptr(len(src)), Data: bytes.Clone(src)})
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.copyErr
}

func (f *fakeChannel) CopyFrom(r io.Reader, dst, length uintptr) error {
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return io.ErrUnexpectedEOF
	}
	return f.CopyBytes(dst, buf)
}

func (f *fakeChannel) ZeroPage(start, length uintptr) error {
	f.record(call{Op: "zero", Start: start, Len: length})
	return nil
}

func (f *fakeChannel) WakeRange(start, length uintptr) error {
	f.record(call{Op: "wake", Start: start, Len: length})
	return nil
}

func (f *fakeChannel) PageSize() int { return fakePageSize }

func (f *fakeChannel) Fd() int { return f.fd }

func (f *fakeChannel) Register(start, length uintptr) error {
	f.mu.Lock()
	err := f.registerErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.record(call{Op: "register", Start: start, Len: length})
	return nil
}

func (f *fakeChannel) Unregister(start, length uintptr) error {
	f.record(call{Op: "unregister", Start: start, Len: length})
	return nil
}

func (f *fakeChannel) ReadEvent() (userfaultfd.Event, error) {
	f.entries.Add(1)
	select {
	case m := <-f.events:
		return m.ev, m.err
	case <-f.interrupt:
		return nil, userfaultfd.ErrInterrupted
	}
}

func (f *fakeChannel) Interrupt() error {
	f.mu.Lock()
	err := f.interruptErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case f.interrupt <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	if f.closed > 1 {
		return fmt.Errorf("fd %d closed twice", f.fd)
	}
	return nil
}

// send delivers ev to the worker of c and waits until it has been handled.
func (f *fakeChannel) send(t *testing.T, c *Context, ev userfaultfd.Event) {
	t.Helper()
	f.deliver(t, c, message{ev: ev})
}

func (f *fakeChannel) deliver(t *testing.T, c *Context, m message) {
	t.Helper()
	select {
	case f.events <- m:
	case <-c.Done():
		t.Fatalf("worker exited before %v: %v", m.ev, c.Err())
	case <-time.After(waitFor):
		t.Fatalf("worker did not take %v", m.ev)
	}
	f.sent++
	want := f.sent + 1
	require.Eventually(t, func() bool {
		return f.entries.Load() >= want || isDone(c)
	}, waitFor, time.Millisecond, "event %v not handled", m.ev)
}

func isDone(c *Context) bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

// fakeKernel hands out fake channels for Create and for fork events.
type fakeKernel struct {
	mu       sync.Mutex
	byFd     map[int]*fakeChannel
	wrapped  map[int]Channel
	nextFd   int
	adoptErr error
}

func newFakeKernel() *fakeKernel {
	return &fakeKernel{
		byFd:    make(map[int]*fakeChannel),
		wrapped: make(map[int]Channel),
		nextFd:  100,
	}
}

// wrap makes adopt return ch for the descriptor of ch.
func (k *fakeKernel) wrap(fd int, ch Channel) {
	k.mu.Lock()
	k.wrapped[fd] = ch
	k.mu.Unlock()
}

// channel creates a fake channel, as the kernel does for a fork event.
func (k *fakeKernel) channel() *fakeChannel {
	k.mu.Lock()
	defer k.mu.Unlock()
	f := newFakeChannel(k.nextFd)
	k.byFd[f.fd] = f
	k.nextFd++
	return f
}

func (k *fakeKernel) open(flags int, features uint64) (Channel, error) {
	return k.channel(), nil
}

func (k *fakeKernel) adopt(fd int, parent Channel) (Channel, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	f, ok := k.byFd[fd]
	if !ok {
		return nil, fmt.Errorf("no channel with fd %d", fd)
	}
	if k.adoptErr != nil {
		_ = f.Close()
		return nil, k.adoptErr
	}
	if ch, ok := k.wrapped[fd]; ok {
		return ch, nil
	}
	return f, nil
}

// recorder is an Observer that keeps every diagnostic.
type recorder struct {
	mu    sync.Mutex
	diags []Diagnostic
}

func (r *recorder) Observe(d Diagnostic) {
	r.mu.Lock()
	r.diags = append(r.diags, d)
	r.mu.Unlock()
}

func (r *recorder) of(k Kind) []Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Diagnostic
	for _, d := range r.diags {
		if d.Kind == k {
			out = append(out, d)
		}
	}
	return out
}

// newFakeContext creates a context on a fake kernel. The context is
// cancelled when the test ends unless the test already did so.
func newFakeContext(t *testing.T, opts ...Option) (*Context, *fakeChannel, *fakeKernel, *recorder) {
	t.Helper()
	k := newFakeKernel()
	rec := &recorder{}
	opts = append([]Option{WithOpener(k.open), WithAdopter(k.adopt), WithObserver(rec)}, opts...)
	c, err := Create(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Cancel() })
	return c, k.byFd[100], k, rec
}
