package lockservice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTable_ExclusiveGrantedOnFreeResource(t *testing.T) {
	table := NewTable()

	granted := table.Acquire("doc1", "client-a", Exclusive, time.Now())
	require.True(t, granted)

	snap := table.Inspect()
	require.Len(t, snap, 1)
	require.Equal(t, []string{"client-a"}, snap[0].Holders)
}

func TestTable_SharedLocksCoexist(t *testing.T) {
	table := NewTable()

	require.True(t, table.Acquire("doc1", "client-a", Shared, time.Now()))
	require.True(t, table.Acquire("doc1", "client-b", Shared, time.Now()))

	snap := table.Inspect()
	require.Len(t, snap[0].Holders, 2)
}

func TestTable_ExclusiveBlocksBehindSharedHolders(t *testing.T) {
	table := NewTable()

	require.True(t, table.Acquire("doc1", "reader-1", Shared, time.Now()))
	require.False(t, table.Acquire("doc1", "writer-1", Exclusive, time.Now()), "exclusive must queue while shared holders are present")

	ch, ok := table.Channel("doc1", "writer-1")
	require.True(t, ok)

	require.True(t, table.Release("doc1", "reader-1"))

	select {
	case outcome := <-ch:
		require.True(t, outcome.Granted)
	default:
		t.Fatal("expected writer-1 to be granted once the only reader released")
	}
}

func TestTable_NoWriterStarvation(t *testing.T) {
	table := NewTable()

	require.True(t, table.Acquire("doc1", "reader-1", Shared, time.Now()))
	require.False(t, table.Acquire("doc1", "writer-1", Exclusive, time.Now()))
	// a later shared request must queue behind the waiting writer rather
	// than jumping it, even though it would otherwise be compatible with
	// reader-1's still-held shared lock.
	require.False(t, table.Acquire("doc1", "reader-2", Shared, time.Now()))

	require.True(t, table.Release("doc1", "reader-1"))

	writerCh, _ := table.Channel("doc1", "writer-1")
	select {
	case outcome := <-writerCh:
		require.True(t, outcome.Granted, "writer-1 must be granted next, not reader-2")
	default:
		t.Fatal("expected writer-1 to be granted")
	}

	snap := table.Inspect()
	require.Equal(t, []string{"writer-1"}, snap[0].Holders)
	require.Len(t, snap[0].Queue, 1)
	require.Equal(t, "reader-2", snap[0].Queue[0].ClientID)
}

func TestTable_ReleaseByNonHolderFails(t *testing.T) {
	table := NewTable()
	require.True(t, table.Acquire("doc1", "client-a", Exclusive, time.Now()))
	require.False(t, table.Release("doc1", "client-b"))
}

func TestTable_DequeueOnCancel(t *testing.T) {
	table := NewTable()

	require.True(t, table.Acquire("doc1", "client-a", Exclusive, time.Now()))
	require.False(t, table.Acquire("doc1", "client-b", Exclusive, time.Now()))

	ch, ok := table.Channel("doc1", "client-b")
	require.True(t, ok)

	require.True(t, table.Release("doc1", "client-b"), "releasing a queued-but-not-held request must dequeue it")

	select {
	case outcome := <-ch:
		require.True(t, outcome.Aborted)
	default:
		t.Fatal("expected a cancellation outcome")
	}
}

func TestTable_AbortDropsHeldAndQueuedRequests(t *testing.T) {
	table := NewTable()

	require.True(t, table.Acquire("doc1", "victim", Exclusive, time.Now()))
	require.True(t, table.Acquire("doc2", "other", Exclusive, time.Now()))
	require.False(t, table.Acquire("doc2", "victim", Exclusive, time.Now()))

	table.Abort("victim")

	snap := table.Inspect()
	for _, s := range snap {
		require.NotContains(t, s.Holders, "victim")
		for _, w := range s.Queue {
			require.NotEqual(t, "victim", w.ClientID)
		}
	}
}
