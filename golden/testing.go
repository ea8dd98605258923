package golden

import (
	"context"
	"testing"
)

// AssertT fails the test when the output at path does not match expected
// under c's enforcement mode.
func AssertT(tb testing.TB, c *Comparator, path string, expected Expected) *Result {
	tb.Helper()

	res, err := c.Compare(context.Background(), path, expected)
	if err != nil {
		tb.Fatalf("golden comparison failed: %v", err)
	}
	return res
}
