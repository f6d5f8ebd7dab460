// Package testing switches the process into test mode on import. Test
// packages that reach cmd/ wiring blank-import it.
package testing

import (
	"os"
	stdtesting "testing"
)

// TestModeEnv is read by app.InTestMode.
const TestModeEnv = "ODYSSEY_TEST_MODE"

func init() {
	if os.Getenv(TestModeEnv) == "" {
		_ = os.Setenv(TestModeEnv, "1")
	}
}

// TestMain runs m with test mode forced on.
func TestMain(m *stdtesting.M) {
	_ = os.Setenv(TestModeEnv, "1")
	os.Exit(m.Run())
}
