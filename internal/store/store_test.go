// SPDX-License-Identifier: MIT

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPeriodBucket(t *testing.T) {
	cases := []struct {
		name string
		ts   time.Time
		want string
	}{
		{"mid-year", time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC), "2026-W35"},
		{"single-digit week", time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC), "2026-W04"},
		{"year boundary belongs to previous iso year", time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), "2026-W53"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, PeriodBucket(tc.ts.UnixMilli()))
		})
	}
}
