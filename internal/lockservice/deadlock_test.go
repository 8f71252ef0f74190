package lockservice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDetectCycles_NoCycleWhenNooneWaits(t *testing.T) {
	table := NewTable()
	require.True(t, table.Acquire("doc1", "a", Exclusive, time.Now()))
	require.True(t, table.Acquire("doc2", "b", Exclusive, time.Now()))

	require.Empty(t, table.DetectCycles())
}

func TestDetectCycles_TwoClientCycle(t *testing.T) {
	table := NewTable()

	t0 := time.Now()
	t1 := t0.Add(time.Second)

	// a holds doc1, wants doc2; b holds doc2, wants doc1.
	require.True(t, table.Acquire("doc1", "a", Exclusive, t0))
	require.True(t, table.Acquire("doc2", "b", Exclusive, t0))
	require.False(t, table.Acquire("doc2", "a", Exclusive, t0))
	require.False(t, table.Acquire("doc1", "b", Exclusive, t1))

	cycles := table.DetectCycles()
	require.Len(t, cycles, 1)
	require.ElementsMatch(t, []string{"a", "b"}, cycles[0].Clients)
	// b enqueued its wait later, so b is the youngest and the chosen victim.
	require.Equal(t, "b", cycles[0].Victim)
}

func TestDetectCycles_VictimTiebreakIsLexicographic(t *testing.T) {
	table := NewTable()
	same := time.Now()

	require.True(t, table.Acquire("doc1", "alice", Exclusive, same))
	require.True(t, table.Acquire("doc2", "bob", Exclusive, same))
	require.False(t, table.Acquire("doc2", "alice", Exclusive, same))
	require.False(t, table.Acquire("doc1", "bob", Exclusive, same))

	cycles := table.DetectCycles()
	require.Len(t, cycles, 1)
	require.Equal(t, "alice", cycles[0].Victim, "equal enqueuedAt ties break lexicographically")
}

func TestDetectCycles_ThreeClientCycle(t *testing.T) {
	table := NewTable()
	t0 := time.Now()

	require.True(t, table.Acquire("doc1", "a", Exclusive, t0))
	require.True(t, table.Acquire("doc2", "b", Exclusive, t0))
	require.True(t, table.Acquire("doc3", "c", Exclusive, t0))

	require.False(t, table.Acquire("doc2", "a", Exclusive, t0.Add(1*time.Second)))
	require.False(t, table.Acquire("doc3", "b", Exclusive, t0.Add(2*time.Second)))
	require.False(t, table.Acquire("doc1", "c", Exclusive, t0.Add(3*time.Second)))

	cycles := table.DetectCycles()
	require.Len(t, cycles, 1)
	require.ElementsMatch(t, []string{"a", "b", "c"}, cycles[0].Clients)
	require.Equal(t, "c", cycles[0].Victim)
}

func TestAbort_ResolvesDeadlock(t *testing.T) {
	table := NewTable()
	t0 := time.Now()

	require.True(t, table.Acquire("doc1", "a", Exclusive, t0))
	require.True(t, table.Acquire("doc2", "b", Exclusive, t0))
	require.False(t, table.Acquire("doc2", "a", Exclusive, t0))
	require.False(t, table.Acquire("doc1", "b", Exclusive, t0.Add(time.Second)))

	cycles := table.DetectCycles()
	require.Len(t, cycles, 1)

	table.Abort(cycles[0].Victim)

	require.Empty(t, table.DetectCycles())
}
