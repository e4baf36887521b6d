// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package utils

import "math"

// SaturatingSub returns x - y, clamped at zero. Counter math must never wrap
// below zero.
func SaturatingSub(x, y uint64) uint64 {
	if x < y {
		return 0
	}

	return x - y
}

// SaturatingAdd returns x + y, clamped at the maximum uint64.
func SaturatingAdd(x, y uint64) uint64 {
	if x > math.MaxUint64-y {
		return math.MaxUint64
	}

	return x + y
}
