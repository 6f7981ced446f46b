//go:build test

package testutil

import "os"

const (
	// DefaultConcurrency is the goroutine count for concurrency tests in normal runs.
	DefaultConcurrency = 100
	// NightlyConcurrency is used when TEST_MODE=nightly.
	NightlyConcurrency = 1000

	DefaultIterations = 10
	NightlyIterations = 100
)

// IsNightlyMode reports whether TEST_MODE=nightly is set.
func IsNightlyMode() bool {
	return os.Getenv("TEST_MODE") == "nightly"
}

// GetTestConcurrency returns how many goroutines concurrency tests should spawn.
func GetTestConcurrency() int {
	if IsNightlyMode() {
		return NightlyConcurrency
	}
	return DefaultConcurrency
}

// GetTestIterations returns how many rounds repeated tests should run.
func GetTestIterations() int {
	if IsNightlyMode() {
		return NightlyIterations
	}
	return DefaultIterations
}
