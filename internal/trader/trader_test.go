package trader

import (
	"testing"

	"github.com/havenquant/spreadkeeper/internal/broker"
)

func TestImbalanceSign(t *testing.T) {
	cases := []struct {
		in   float64
		want int
	}{
		{0.5, 1},
		{0.051, 1},
		{0.05, 0},
		{0, 0},
		{-0.05, 0},
		{-0.051, -1},
		{-0.9, -1},
	}
	for _, c := range cases {
		if got := imbalanceSign(c.in); got != c.want {
			t.Fatalf("imbalanceSign(%f) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestActivityScoreClamps(t *testing.T) {
	if got := activityScore(-100); got != 0.1 {
		t.Fatalf("expected floor 0.1, got %f", got)
	}
	if got := activityScore(1000); got != 5.0 {
		t.Fatalf("expected ceiling 5.0, got %f", got)
	}
	if got := activityScore(0); got != 0.5 {
		t.Fatalf("expected 0.5 at zero update rate, got %f", got)
	}
}

func TestDedupKeyStableAcrossFloatNoise(t *testing.T) {
	a := dedupKey(broker.Buy, 0.5)
	b := dedupKey(broker.Buy, 0.5+1e-13)
	if a != b {
		t.Fatalf("expected dedup keys to collapse tiny float noise: %s vs %s", a, b)
	}
}
