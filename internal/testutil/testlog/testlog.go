package testlog

import (
	"testing"

	logs "github.com/danmuck/integractl/internal/logging"
)

// Start configures test logging once per process and tags the output with the running test.
func Start(t testing.TB) {
	t.Helper()
	logs.ConfigureTests()
	logs.Infof("test=%s", t.Name())
}
