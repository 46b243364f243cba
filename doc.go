/* SPDX-License-Identifier: BSD-2-Clause */

// Package uffdw services missing-page faults for registered address ranges
// through Linux userfaultfd(2).
//
// A Context owns one userfaultfd channel and a table of registered ranges,
// each bound to a HandlerFunc. A dedicated goroutine reads events from the
// channel: page faults inside a registered range are passed to its handler,
// faults elsewhere are resolved with a zero page, and remap, unmap and
// remove events keep the table in step with the address space. When the
// process forks, the child's channel gets its own Context with a copy of
// the table, and it is cancelled together with its parent.
//
// Write faults are not serviced. A write to a missing page in a registered
// range stops the Context's worker and the writer stays blocked.
//
// A handler runs on the worker with the Context's lock held. It must not
// call Register, Unregister or Cancel on the same Context.
//
// A goroutine that touches a missing page keeps its P while it waits in the
// kernel for the worker. Create therefore raises GOMAXPROCS to at least 2.
package uffdw
