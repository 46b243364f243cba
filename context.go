/* SPDX-License-Identifier: BSD-2-Clause */

package uffdw

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ricardobranco777/go-uffdw/internal/span"
)

// HandlerFunc resolves a fault at addr inside a registered range. offset is
// addr translated to the handler offset of the range. data is the value
// given to Register. The handler must resolve the fault through r before
// returning, and a non-nil error stops the worker.
type HandlerFunc func(r Resolver, offset, addr uintptr, data any) error

type binding struct {
	handler HandlerFunc
	data    any
}

// Range is a registered range as currently tracked: a fault at Start+i is
// reported with offset HandlerOffset+i.
type Range struct {
	Start         uintptr
	End           uintptr
	HandlerOffset uintptr
}

// Context services the faults of one userfaultfd channel.
type Context struct {
	ch       Channel
	cfg      *config
	pageSize int
	parent   *Context

	mu       sync.Mutex
	table    *span.Table[binding]
	children []*Context
	closing  bool

	stop atomic.Bool
	done chan struct{}
	err  error

	// cancelMu serializes Cancel; cancelled is set once teardown completed.
	cancelMu  sync.Mutex
	cancelled bool
}

// Create opens a channel and starts its worker. Errors match
// ErrCreationFailed and wrap the cause.
func Create(opts ...Option) (*Context, error) {
	cfg := newConfig(opts)

	ch, err := cfg.open(cfg.flags, cfg.features)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreationFailed, err)
	}
	if ch.PageSize() <= 0 {
		ch.Close()
		return nil, fmt.Errorf("%w: invalid page size %d", ErrCreationFailed, ch.PageSize())
	}

	ensureParallelism()
	c := newContext(ch, cfg, span.New[binding](), nil)
	go c.run()
	return c, nil
}

// minProcs is the fewest Ps that let a worker run while another goroutine
// sits in the kernel on a fault it has to serve. Such a goroutine keeps its
// P until the fault is resolved.
const minProcs = 2

func ensureParallelism() {
	if runtime.GOMAXPROCS(0) < minProcs {
		runtime.GOMAXPROCS(minProcs)
	}
}

func newContext(ch Channel, cfg *config, table *span.Table[binding], parent *Context) *Context {
	return &Context{
		ch:       ch,
		cfg:      cfg,
		pageSize: ch.PageSize(),
		parent:   parent,
		table:    table,
		done:     make(chan struct{}),
	}
}

// Register starts servicing faults in [offset, offset+size) with h. A fault
// at offset+i is reported to h as handlerOffset+i, together with data. The
// range must not overlap a registered one. On error nothing is registered.
func (c *Context) Register(offset, size, handlerOffset uintptr, h HandlerFunc, data any) error {
	if h == nil {
		return ErrNilHandler
	}
	end := offset + size
	if end < offset {
		return fmt.Errorf("%w: %#x + %#x", ErrInvalidRange, offset, size)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing {
		return ErrCancelled
	}
	if err := c.table.Insert(offset, end, handlerOffset, binding{handler: h, data: data}); err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	if err := c.ch.Register(offset, size); err != nil {
		c.table.RemoveOverlapping(offset, end)
		return fmt.Errorf("register [%#x, %#x): %w", offset, end, err)
	}
	return nil
}

// Unregister stops servicing faults in [offset, offset+size). Registered
// ranges that only partly overlap it keep their remainder.
func (c *Context) Unregister(offset, size uintptr) error {
	end := offset + size
	if end < offset {
		return fmt.Errorf("%w: %#x + %#x", ErrInvalidRange, offset, size)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing {
		return ErrCancelled
	}
	if size == 0 {
		return nil
	}
	if err := c.ch.Unregister(offset, size); err != nil {
		return fmt.Errorf("unregister [%#x, %#x): %w", offset, end, err)
	}
	c.table.RemoveOverlapping(offset, end)
	return nil
}

// Cancel tears down c and every context forked from it, children first. It
// returns once all workers have exited and all channels are closed.
// Concurrent calls wait for each other and every call after a completed
// teardown returns ErrCancelled. If the worker cannot be woken, Cancel
// returns the error and may be called again.
func (c *Context) Cancel() error {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	if c.cancelled {
		return ErrCancelled
	}

	c.mu.Lock()
	c.closing = true
	children := c.children
	c.children = nil
	c.mu.Unlock()

	var g errgroup.Group
	for _, child := range children {
		g.Go(func() error {
			if err := child.Cancel(); err != nil && !errors.Is(err, ErrCancelled) {
				return fmt.Errorf("cancel child fd %d: %w", child.Fd(), err)
			}
			return nil
		})
	}
	err := g.Wait()

	c.stop.Store(true)
	if ierr := c.ch.Interrupt(); ierr != nil {
		select {
		case <-c.done:
		default:
			// The worker cannot be woken; leave the channel open under it.
			c.stop.Store(false)
			c.mu.Lock()
			c.closing = false
			c.mu.Unlock()
			return errors.Join(err, fmt.Errorf("interrupt worker: %w", ierr))
		}
	}
	<-c.done

	if cerr := c.ch.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("close channel: %w", cerr))
	}

	c.mu.Lock()
	c.table.Clear()
	c.mu.Unlock()

	c.cancelled = true
	c.detach()
	return err
}

// detach removes c from its parent's children.
func (c *Context) detach() {
	p := c.parent
	if p == nil {
		return
	}
	p.mu.Lock()
	p.children = slices.DeleteFunc(p.children, func(child *Context) bool { return child == c })
	p.mu.Unlock()
}

// Done is closed when the worker has exited.
func (c *Context) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that stopped the worker. It is nil while the worker
// runs and when Cancel stopped it.
func (c *Context) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Ranges returns the registered ranges in address order.
func (c *Context) Ranges() []Range {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.table.Entries()
	out := make([]Range, len(entries))
	for i, e := range entries {
		out[i] = Range{Start: e.Start, End: e.End, HandlerOffset: e.Offset}
	}
	return out
}

// Children returns the contexts spawned by fork events and not yet
// cancelled.
func (c *Context) Children() []*Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.children)
}

// Fd returns the descriptor of the channel.
func (c *Context) Fd() int {
	return c.ch.Fd()
}

// PageSize returns the page size of the channel.
func (c *Context) PageSize() int {
	return c.pageSize
}

func (c *Context) String() string {
	return fmt.Sprintf("uffdw(fd=%d)", c.Fd())
}

func (c *Context) observe(d Diagnostic) {
	d.Fd = c.Fd()
	c.cfg.observer.Observe(d)
}
