/* SPDX-License-Identifier: BSD-2-Clause */

package userfaultfd

import (
	"errors"
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
)

func TestPollError(t *testing.T) {
	tests := []struct {
		revents                    int16
		str                        string
		isError, isHangup, isInval bool
	}{
		{unix.POLLERR, "poll error: POLLERR", true, false, false},
		{unix.POLLHUP, "poll error: POLLHUP", false, true, false},
		{unix.POLLNVAL, "poll error: POLLNVAL", false, false, true},
		{unix.POLLERR | unix.POLLHUP, "poll error: POLLERR|POLLHUP", true, true, false},
		{unix.POLLIN | unix.POLLNVAL, "poll error: POLLIN|POLLNVAL", false, false, true},
	}
	for _, tt := range tests {
		e := &PollError{Revents: tt.revents}
		if got := e.Error(); got != tt.str {
			t.Errorf("Error() = %q, want %q", got, tt.str)
		}
		if e.IsError() != tt.isError || e.IsHangup() != tt.isHangup || e.IsInvalid() != tt.isInval {
			t.Errorf("%s: IsError=%t IsHangup=%t IsInvalid=%t", tt.str, e.IsError(), e.IsHangup(), e.IsInvalid())
		}
	}
}

func TestPollErrorMatchesAnyRevents(t *testing.T) {
	wrapped := fmt.Errorf("read event: %w", &PollError{Revents: unix.POLLHUP})

	if !errors.Is(wrapped, &PollError{}) {
		t.Fatalf("errors.Is does not see the wrapped PollError")
	}
	if errors.Is(wrapped, ErrInterrupted) || errors.Is(wrapped, ErrShortRead) {
		t.Fatalf("PollError matched an unrelated sentinel")
	}

	var pe *PollError
	if !errors.As(wrapped, &pe) || !pe.IsHangup() {
		t.Fatalf("errors.As lost the revents: %v", pe)
	}
}

func TestReventString(t *testing.T) {
	cases := map[int16]string{
		0:                                          "0x0",
		unix.POLLIN:                                "POLLIN",
		unix.POLLOUT:                               "POLLOUT",
		unix.POLLOUT | unix.POLLERR | unix.POLLHUP: "POLLOUT|POLLERR|POLLHUP",
		0x400:                                      "0x400",
	}
	for rev, want := range cases {
		if got := ReventString(rev); got != want {
			t.Errorf("ReventString(%#x) = %q, want %q", rev, got, want)
		}
	}
}
