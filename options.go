/* SPDX-License-Identifier: BSD-2-Clause */

package uffdw

import (
	"os"

	"github.com/ricardobranco777/go-uffdw/userfaultfd"
)

type config struct {
	observer Observer
	flags    int
	features uint64
	open     Opener
	adopt    Adopter
}

// Option configures Create. Child contexts inherit the configuration of
// their parent.
type Option func(*config)

// WithObserver sets where diagnostics go. The default is a LogObserver on
// the logrus standard logger.
func WithObserver(o Observer) Option {
	return func(c *config) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithFlags sets the userfaultfd(2) flags. O_NONBLOCK and O_CLOEXEC are
// always added.
func WithFlags(flags int) Option {
	return func(c *config) { c.flags = flags }
}

// WithFeatures sets the UFFD_FEATURE_* bits requested in the handshake.
// Creation fails if the kernel does not grant all of them.
func WithFeatures(features uint64) Option {
	return func(c *config) { c.features = features }
}

// WithOpener replaces the kernel channel factory.
func WithOpener(open Opener) Option {
	return func(c *config) {
		if open != nil {
			c.open = open
		}
	}
}

// WithAdopter replaces the wrapper for channels delivered by fork events.
func WithAdopter(adopt Adopter) Option {
	return func(c *config) {
		if adopt != nil {
			c.adopt = adopt
		}
	}
}

// DefaultFeatures returns the features requested by Create: the remap,
// remove and unmap events, missing-page handling for hugetlbfs and shmem,
// and the fork event when running as root, since the kernel only grants it
// to callers with CAP_SYS_PTRACE.
func DefaultFeatures() uint64 {
	features := uint64(userfaultfd.EventFeatures | userfaultfd.MissingFeatures)
	if os.Geteuid() != 0 {
		features &^= userfaultfd.UFFD_FEATURE_EVENT_FORK
	}
	return features
}

func newConfig(opts []Option) *config {
	c := &config{
		flags:    userfaultfd.DefaultFlags(),
		features: DefaultFeatures(),
		open:     OpenUserfaultfd,
		adopt:    AdoptUserfaultfd,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.observer == nil {
		c.observer = DefaultObserver()
	}
	return c
}
