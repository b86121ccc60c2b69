package shgat_test

import (
	"testing"

	"github.com/shgat/runtime/shgat"
	"github.com/stretchr/testify/require"
)

func TestAdaptiveHeadConfig_Buckets(t *testing.T) {
	cases := []struct {
		name      string
		graphSize int
		maxLevel  int
		wantHeads int
	}{
		{"tiny", 10, 0, 4},
		{"small", 100, 0, 6},
		{"medium", 300, 0, 8},
		{"large", 700, 0, 12},
		{"huge", 5000, 0, 14},
		{"small_plus_one_level", 100, 2, 7},
		{"small_plus_two_levels", 100, 3, 8},
		{"huge_capped_at_16", 5000, 3, 16},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := shgat.AdaptiveHeadConfig(tc.graphSize, tc.maxLevel)
			require.Equal(t, tc.wantHeads, cfg.Heads)
			require.Equal(t, 16, cfg.HeadDim)
			require.Equal(t, tc.wantHeads*16, cfg.HiddenDim)
		})
	}
}

func TestAdaptiveHeadConfig_Monotonic(t *testing.T) {
	prev := shgat.AdaptiveHeadConfig(0, 0).Heads
	sizes := []int{10, 60, 250, 600, 1200}
	for _, sz := range sizes {
		cur := shgat.AdaptiveHeadConfig(sz, 0).Heads
		require.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
}
