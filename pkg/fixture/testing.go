package fixture

import (
	"context"
	"testing"

	"github.com/ajsharda17/lisa/pkg/node"
	"github.com/ajsharda17/lisa/pkg/types"
)

// NodeForTest acquires a Node for the given intent and releases it
// when the test finishes, whatever its outcome.
func NodeForTest(t testing.TB, m *Manager, intent *types.IntentSpec) *node.Node {
	t.Helper()

	n, release, err := m.Acquire(context.Background(), intent)
	if err != nil {
		t.Fatalf("failed to acquire a node: %v", err)
	}
	t.Cleanup(release)
	return n
}
