package training

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// SeedWarning is logged whenever seeding is enabled.
const SeedWarning = "You have chosen to seed training. " +
	"This will turn on the deterministic setting, which can slow down your training considerably! " +
	"You may see unexpected behavior when restarting from checkpoints."

// determinism is process-wide and set at most once.
var determinism struct {
	once   sync.Once
	mu     sync.Mutex
	seeded bool
	seed   int64
}

// SeedDeterminism fixes the seed of every Seedable target and switches every
// DeterminismSetter into deterministic mode. It takes effect once per process;
// later calls are logged and ignored. It reports whether this call applied.
func SeedDeterminism(log *logrus.Entry, seed int64, targets ...interface{}) bool {
	applied := false
	determinism.once.Do(func() {
		determinism.mu.Lock()
		determinism.seeded = true
		determinism.seed = seed
		determinism.mu.Unlock()

		for _, t := range targets {
			if s, ok := t.(Seedable); ok {
				s.Seed(seed)
			}
			if d, ok := t.(DeterminismSetter); ok {
				d.SetDeterministic(true)
			}
		}
		log.WithField("seed", seed).Warn(SeedWarning)
		applied = true
	})
	if !applied {
		current, _ := ProcessSeed()
		log.WithField("seed", current).Warn("determinism already configured for this process; ignoring new seed")
	}
	return applied
}

// ProcessSeed returns the seed applied by SeedDeterminism, if any.
func ProcessSeed() (int64, bool) {
	determinism.mu.Lock()
	defer determinism.mu.Unlock()
	return determinism.seed, determinism.seeded
}

// resetDeterminism is for tests only.
func resetDeterminism() {
	determinism.mu.Lock()
	defer determinism.mu.Unlock()
	determinism.once = sync.Once{}
	determinism.seeded = false
	determinism.seed = 0
}
