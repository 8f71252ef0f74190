package queueservice

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRing_PrimaryIsStableForSameKey(t *testing.T) {
	ring := NewRing([]string{"n1", "n2", "n3"})

	first, ok := ring.Primary("orders")
	require.True(t, ok)

	for i := 0; i < 10; i++ {
		again, ok := ring.Primary("orders")
		require.True(t, ok)
		require.Equal(t, first, again)
	}
}

func TestRing_DistributesAcrossNodes(t *testing.T) {
	ring := NewRing([]string{"n1", "n2", "n3"})

	owners := make(map[string]bool)
	for i := 0; i < 200; i++ {
		queueName := "queue-" + string(rune('a'+i%26)) + string(rune('0'+i%10))
		owner, ok := ring.Primary(queueName)
		require.True(t, ok)
		owners[owner] = true
	}

	require.Greater(t, len(owners), 1, "the 130 distinct queue names generated here should spread across more than one node")
}

func TestRing_RemoveReassignsOwnership(t *testing.T) {
	ring := NewRing([]string{"n1", "n2", "n3"})

	before, ok := ring.Primary("orders")
	require.True(t, ok)

	ring.Remove(before)

	after, ok := ring.Primary("orders")
	require.True(t, ok)
	require.NotEqual(t, before, after, "the removed node must no longer own any key")
}

func TestRing_EmptyRingHasNoPrimary(t *testing.T) {
	ring := NewRing(nil)
	_, ok := ring.Primary("orders")
	require.False(t, ok)
}
