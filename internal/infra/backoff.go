package infra

import (
	"math/rand"
	"time"
)

const (
	backoffBase   = 1 * time.Second
	backoffMax    = 60 * time.Second
	backoffJitter = 0.2
)

// CalculateBackoff returns the delay before reconnect attempt n (0-based):
// exponential from backoffBase, capped at backoffMax, with jitter so a
// fleet of clients does not reconnect in lockstep.
func CalculateBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	wait := backoffBase
	for i := 0; i < attempt; i++ {
		wait *= 2
		if wait >= backoffMax {
			wait = backoffMax
			break
		}
	}

	delta := float64(wait) * backoffJitter
	return wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}
