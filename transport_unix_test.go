package mqttclient

import (
	"fmt"
	"os"
	"testing"
	"time"
)

// shortSocketPath returns a socket path under /tmp; t.TempDir paths can
// exceed the sun_path limit on some systems.
func shortSocketPath(t testing.TB) string {
	t.Helper()

	path := fmt.Sprintf("/tmp/mqttc_%d.sock", time.Now().UnixNano())
	t.Cleanup(func() { os.Remove(path) })
	return path
}
