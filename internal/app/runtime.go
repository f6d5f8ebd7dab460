package app

import (
	"os"
	"sync/atomic"
)

// testModeEnv makes both binaries return before touching postgres or redis.
const testModeEnv = "ODYSSEY_TEST_MODE"

var testMode atomic.Bool

func init() {
	RefreshTestMode()
}

// InTestMode reports whether the binaries should skip startup.
func InTestMode() bool {
	return testMode.Load()
}

// RefreshTestMode re-reads ODYSSEY_TEST_MODE.
func RefreshTestMode() {
	testMode.Store(os.Getenv(testModeEnv) == "1")
}
