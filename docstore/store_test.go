package docstore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"poll-ledger-backend/config"
	"poll-ledger-backend/ledger"
	"poll-ledger-backend/ledger/ledgertest"
)

// These tests need a running emulator, e.g.
// gcloud emulators firestore start --host-port=localhost:8081
func TestStoreContract(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx := context.Background()
	client, err := Open(ctx, config.Firestore{ProjectID: "poll-ledger-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	run := time.Now().UnixNano()
	ledgertest.RunStoreSuite(t, func(t *testing.T) ledger.Store {
		name := strings.NewReplacer("/", "_").Replace(t.Name())
		return NewStore(client, fmt.Sprintf("%s_%d", name, run))
	})
}
