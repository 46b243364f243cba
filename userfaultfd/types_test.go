/* SPDX-License-Identifier: BSD-2-Clause */

package userfaultfd

import (
	"testing"
	"unsafe"
)

func TestStructSizes(t *testing.T) {
	tests := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"UffdMsg", unsafe.Sizeof(UffdMsg{}), 32},
		{"UffdioApi", unsafe.Sizeof(UffdioApi{}), 24},
		{"UffdioCopy", unsafe.Sizeof(UffdioCopy{}), 40},
		{"UffdioRange", unsafe.Sizeof(UffdioRange{}), 16},
		{"UffdioRegister", unsafe.Sizeof(UffdioRegister{}), 32},
		{"UffdioZeropage", unsafe.Sizeof(UffdioZeropage{}), 32},
		{"UffdMsgPagefault", unsafe.Sizeof(UffdMsgPagefault{}), 24},
		{"UffdMsgRemap", unsafe.Sizeof(UffdMsgRemap{}), 24},
		{"UffdMsgRemove", unsafe.Sizeof(UffdMsgRemove{}), 16},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s size = %d, want %d", tt.name, tt.got, tt.want)
		}
	}
}
