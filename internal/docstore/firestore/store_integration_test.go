//go:build integration

package firestore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/kart-checkout/internal/docstore/docstoretest"
)

// Requires a running emulator, e.g.
//
//	gcloud emulators firestore start --host-port=localhost:8681
//	FIRESTORE_EMULATOR_HOST=localhost:8681 go test -tags integration ./internal/docstore/firestore
func TestStoreBehaviour(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx := context.Background()

	client, err := NewClient(ctx, "kart-test", "")
	require.NoError(t, err)

	s := New(client, zaptest.NewLogger(t), Options{MaxAttempts: 10})
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Ping(ctx))
	docstoretest.Run(t, s)
}
