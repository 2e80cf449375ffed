// Package verbose is a tiny opt-in trace facility for the CLI tools,
// which have no use for the daemon's structured logger.
package verbose

import (
	"fmt"
	"os"
	"sync/atomic"
)

var enabled atomic.Bool

// SetEnabled turns trace output on or off.
func SetEnabled(enable bool) {
	enabled.Store(enable)
}

// IsEnabled returns whether trace output is enabled.
func IsEnabled() bool {
	return enabled.Load()
}

// Printf writes a trace line to stderr when tracing is enabled.
func Printf(format string, args ...interface{}) {
	if enabled.Load() {
		fmt.Fprintf(os.Stderr, "# "+format+"\n", args...)
	}
}
