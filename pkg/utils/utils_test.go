// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package utils

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaturatingSub(t *testing.T) {
	tests := []struct {
		name string
		x, y uint64
		want uint64
	}{
		{name: "plain", x: 10, y: 3, want: 7},
		{name: "equal", x: 5, y: 5, want: 0},
		{name: "clamped", x: 3, y: 10, want: 0},
		{name: "zero", x: 0, y: 0, want: 0},
	}
	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				require.Equal(t, tt.want, SaturatingSub(tt.x, tt.y))
			},
		)
	}
}

func TestSaturatingAdd(t *testing.T) {
	tests := []struct {
		name string
		x, y uint64
		want uint64
	}{
		{name: "plain", x: 10, y: 3, want: 13},
		{name: "clamped", x: math.MaxUint64 - 1, y: 5, want: math.MaxUint64},
		{name: "zero", x: 0, y: 0, want: 0},
	}
	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				require.Equal(t, tt.want, SaturatingAdd(tt.x, tt.y))
			},
		)
	}
}
