// ABOUTME: End-to-end tests wiring real clients to the authority over pipes:
// ABOUTME: optimistic issue, broadcast reconciliation, and convergence.

package authority

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/weft/internal/client"
	"github.com/2389/weft/internal/store"
	"github.com/2389/weft/internal/syncable"
	"github.com/2389/weft/internal/transport"
)

func startClient(t *testing.T, a *Authority, actor syncable.Ref) *client.Client {
	t.Helper()

	server, peer := transport.Pipe(64)
	_, err := a.Attach(server, actor)
	require.NoError(t, err)

	c := client.New(peer, syncable.NewFactory(), newPlant(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = c.Run(ctx) }()

	select {
	case <-c.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("client never initialized")
	}
	return c
}

func clientCount(c *client.Client, id syncable.ID) (float64, bool) {
	obj, ok := c.GetObject(syncable.Ref{Type: "counter", ID: id})
	if !ok {
		return 0, false
	}
	n, _ := obj.Syncable().Fields["count"].(float64)
	return n, true
}

func TestIntegration_TwoClientsConverge(t *testing.T) {
	a := seededAuthority(t, Options{})

	alice := startClient(t, a, syncable.Ref{Type: "user", ID: "alice"})
	bob := startClient(t, a, syncable.Ref{Type: "user", ID: "bob"})

	_, err := alice.Issue("increment", map[string]syncable.Ref{
		"target": {Type: "counter", ID: "c1"},
	}, nil)
	require.NoError(t, err)

	// Alice applied speculatively before any round trip.
	n, ok := clientCount(alice, "c1")
	require.True(t, ok)
	assert.Equal(t, float64(1), n)

	for _, c := range []*client.Client{alice, bob} {
		require.Eventually(t, func() bool {
			n, ok := clientCount(c, "c1")
			return ok && n == 1 && c.PendingCount() == 0
		}, 2*time.Second, 10*time.Millisecond)
	}
}

func TestIntegration_InterleavedChangesFromBothSides(t *testing.T) {
	a := seededAuthority(t, Options{})

	alice := startClient(t, a, syncable.Ref{Type: "user", ID: "alice"})
	bob := startClient(t, a, syncable.Ref{Type: "user", ID: "bob"})

	target := map[string]syncable.Ref{"target": {Type: "counter", ID: "c1"}}
	for i := 0; i < 3; i++ {
		_, err := alice.Issue("increment", target, nil)
		require.NoError(t, err)
		_, err = bob.Issue("increment", target, nil)
		require.NoError(t, err)
	}

	for _, c := range []*client.Client{alice, bob} {
		require.Eventually(t, func() bool {
			n, ok := clientCount(c, "c1")
			return ok && n == 6 && c.PendingCount() == 0
		}, 2*time.Second, 10*time.Millisecond)
	}
}

func TestIntegration_AssociationPropagates(t *testing.T) {
	a := seededAuthority(t, Options{})

	alice := startClient(t, a, syncable.Ref{Type: "user", ID: "alice"})
	bob := startClient(t, a, syncable.Ref{Type: "user", ID: "bob"})

	counterObj, err := alice.RequireObject(syncable.Ref{Type: "counter", ID: "c1"})
	require.NoError(t, err)
	actorObj, err := alice.RequireObject(syncable.Ref{Type: "user", ID: "alice"})
	require.NoError(t, err)

	_, err = alice.Associate(counterObj, actorObj, client.AssociateOptions{
		Name:    "owner",
		Secures: true,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		obj, ok := bob.GetObject(syncable.Ref{Type: "counter", ID: "c1"})
		if !ok {
			return false
		}
		assocs := obj.Syncable().AssociationsNamed("owner")
		return len(assocs) == 1 && assocs[0].Secures
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIntegration_GraphSurvivesRestart(t *testing.T) {
	db := store.NewMockStore()

	a := seededAuthority(t, Options{Store: db})
	alice := startClient(t, a, syncable.Ref{Type: "user", ID: "alice"})

	_, err := alice.Issue("increment", map[string]syncable.Ref{
		"target": {Type: "counter", ID: "c1"},
	}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return alice.PendingCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
	a.Close()

	restarted := New(syncable.NewFactory(), newPlant(), Options{Store: db})
	t.Cleanup(restarted.Close)
	require.NoError(t, restarted.Load(context.Background()))

	carol := startClient(t, restarted, syncable.Ref{Type: "user", ID: "carol"})
	n, ok := clientCount(carol, "c1")
	require.True(t, ok)
	assert.Equal(t, float64(1), n)
}
