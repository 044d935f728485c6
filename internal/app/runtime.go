package app

import (
	"os"
	"sync"
)

const testModeEnv = "CLAIMDESK_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	return os.Getenv(testModeEnv) == "1"
})

// InTestMode reports whether the binaries should skip connecting to
// PostgreSQL, Redis and the claims backend. The flag is read once.
func InTestMode() bool {
	return testMode()
}
