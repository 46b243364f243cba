/* SPDX-License-Identifier: BSD-2-Clause */

package uffdw

import (
	"errors"
	"fmt"

	"github.com/ricardobranco777/go-uffdw/userfaultfd"
)

func (c *Context) run() {
	defer close(c.done)

	c.err = c.loop()
	if c.err != nil {
		c.observe(Diagnostic{Kind: KindStopped, Err: c.err})
	}
}

// loop handles events in delivery order until Cancel sets the stop flag or
// an event cannot be handled.
func (c *Context) loop() error {
	for !c.stop.Load() {
		ev, err := c.ch.ReadEvent()
		if errors.Is(err, userfaultfd.ErrInterrupted) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read event: %w", err)
		}
		if err := c.dispatch(ev); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) dispatch(ev userfaultfd.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev := ev.(type) {
	case userfaultfd.Pagefault:
		return c.pagefault(ev)
	case userfaultfd.Fork:
		return c.fork(ev)
	case userfaultfd.Remap:
		c.remap(ev)
	case userfaultfd.Remove:
		c.removeRange(ev.Start, ev.End)
	case userfaultfd.Unmap:
		c.removeRange(ev.Start, ev.End)
	default:
		return fmt.Errorf("%w: %v", ErrUnsupportedEvent, ev)
	}
	return nil
}

func (c *Context) pagefault(pf userfaultfd.Pagefault) error {
	if pf.Write() {
		return fmt.Errorf("%w: %v", ErrWriteFault, pf)
	}

	e, ok := c.table.Find(pf.Address)
	if !ok {
		page := userfaultfd.PageAlign(pf.Address, c.pageSize)
		end := page + uintptr(c.pageSize)
		c.observe(Diagnostic{Kind: KindZeroFill, Addr: pf.Address, Start: page, End: end})
		if err := c.ch.ZeroPage(page, uintptr(c.pageSize)); err != nil {
			c.observe(Diagnostic{Kind: KindZeroFillFailed, Addr: pf.Address, Start: page, End: end, Err: err})
		}
		return nil
	}

	b := e.Value
	if err := b.handler(c.ch, e.Translate(pf.Address), pf.Address, b.data); err != nil {
		return &HandlerError{Addr: pf.Address, Err: err}
	}
	return nil
}

func (c *Context) fork(ev userfaultfd.Fork) error {
	ch, err := c.cfg.adopt(ev.Fd, c.ch)
	if err != nil {
		return fmt.Errorf("adopt forked channel %d: %w", ev.Fd, err)
	}

	if c.closing {
		c.observe(Diagnostic{Kind: KindForkDropped})
		if err := ch.Close(); err != nil {
			c.observe(Diagnostic{Kind: KindCloseFailed, Err: err})
		}
		return nil
	}

	child := newContext(ch, c.cfg, c.table.Clone(), c)
	c.children = append(c.children, child)
	go child.run()

	c.observe(Diagnostic{Kind: KindChildStarted})
	return nil
}

// remap records the destination of a moved range. The destination keeps
// translating to the addresses the source translated to: its handler offset
// is the source entry's offset for ev.From, not ev.From itself. The two only
// coincide when the source was registered with its start as handler offset.
func (c *Context) remap(ev userfaultfd.Remap) {
	e, ok := c.table.Find(ev.From)
	if !ok {
		c.observe(Diagnostic{Kind: KindRemapUntracked, Addr: ev.From, Start: ev.To, End: ev.To + ev.Len})
		return
	}
	if err := c.table.Insert(ev.To, ev.To+ev.Len, e.Translate(ev.From), e.Value); err != nil {
		c.observe(Diagnostic{Kind: KindRemapFailed, Addr: ev.From, Start: ev.To, End: ev.To + ev.Len, Err: err})
	}
}

func (c *Context) removeRange(start, end uintptr) {
	c.table.RemoveOverlapping(start, end)
	c.observe(Diagnostic{Kind: KindRangeRemoved, Start: start, End: end})
}
