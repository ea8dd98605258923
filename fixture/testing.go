package fixture

import (
	"context"
	"testing"
)

// StageT stages model for a test, failing it on any setup error. The
// workspace is removed when the test ends.
func StageT(tb testing.TB, s *Stager, model string) *Workspace {
	tb.Helper()

	ws, err := s.Stage(context.Background(), model)
	if err != nil {
		tb.Fatalf("stage fixture %q: %v", model, err)
	}
	tb.Cleanup(func() {
		if err := ws.Close(); err != nil {
			tb.Logf("remove workspace %s: %v", ws.Root, err)
		}
	})
	return ws
}
