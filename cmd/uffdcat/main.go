/* SPDX-License-Identifier: BSD-2-Clause */

// Command uffdcat writes files to standard output through memory whose
// pages are read from the file on first access by a userfaultfd handler.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/ricardobranco777/go-uffdw"
)

func main() {
	flagSet := flag.NewFlagSet("uffdcat", flag.ContinueOnError)
	verbose := flagSet.BoolP("verbose", "v", false, "Log every diagnostic")
	every := flagSet.Duration("log-every", time.Second, "Minimum interval between non-error log lines")
	offset := flagSet.Int64("offset", 0, "Start writing at this offset")
	length := flagSet.Int64("length", -1, "Write at most this many bytes")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: uffdcat [flags] FILE...\n")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if flagSet.NArg() == 0 || *offset < 0 {
		flagSet.Usage()
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx, err := uffdw.Create(uffdw.WithObserver(uffdw.NewLogObserver(logger, *every)))
	if err != nil {
		logger.WithError(err).Fatal("cannot create userfaultfd context")
	}

	status := 0
	for _, name := range flagSet.Args() {
		if err := cat(ctx, name, *offset, *length); err != nil {
			logger.WithError(err).WithField("file", name).Error("uffdcat")
			status = 1
		}
	}

	if err := ctx.Cancel(); err != nil {
		logger.WithError(err).Error("cancel")
		status = 1
	}
	os.Exit(status)
}

func cat(ctx *uffdw.Context, name string, offset, length int64) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}
	size := fi.Size()
	if offset >= size {
		return nil
	}

	m, err := ctx.MapReader(f, size)
	if err != nil {
		return fmt.Errorf("map: %w", err)
	}
	defer m.Close()

	data := m.Bytes()[offset:]
	if length >= 0 && length < int64(len(data)) {
		data = data[:length]
	}
	if err := copyOut(os.Stdout, data); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("fault handling stopped: %w", err)
	}
	return nil
}

// copyOut touches data from user space before handing it to write(2). A
// channel opened with UFFD_USER_MODE_ONLY does not service faults taken
// inside the kernel, which would fail the write with EFAULT.
func copyOut(w io.Writer, data []byte) error {
	buf := make([]byte, 64<<10)
	for len(data) > 0 {
		n := copy(buf, data)
		if _, err := w.Write(buf[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}
