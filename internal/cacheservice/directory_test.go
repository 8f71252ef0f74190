package cacheservice

import (
	"testing"

	"github.com/konstantsiy/clustercore/internal/sink"
	"github.com/stretchr/testify/require"
)

// fakeProber is a scriptable Prober, standing in for a real peer
// broadcast the way the teacher's tests substitute an in-memory
// RaftClient for real HTTP.
type fakeProber struct {
	responses []PeerState
	calls     int
}

func (f *fakeProber) Probe(key string) []PeerState {
	f.calls++
	return f.responses
}

func TestDirectory_LocalHitNeverProbes(t *testing.T) {
	prober := &fakeProber{}
	dir := NewDirectory("n1", 10, prober, nil)

	dir.ApplyPut("k1", []byte("v1"), "n1")

	value, ok := dir.Get("k1")
	require.True(t, ok)
	require.Equal(t, []byte("v1"), value)
	require.Equal(t, 0, prober.calls)
}

func TestDirectory_MissProbesPeersAndInsertsShared(t *testing.T) {
	prober := &fakeProber{responses: []PeerState{
		{NodeID: "n2", State: Exclusive, Value: []byte("from-n2")},
	}}
	dir := NewDirectory("n1", 10, prober, nil)

	value, ok := dir.Get("k1")
	require.True(t, ok)
	require.Equal(t, []byte("from-n2"), value)
	require.Equal(t, 1, prober.calls)

	// now local, resolved as Shared - a second Get must not probe again.
	_, ok = dir.Get("k1")
	require.True(t, ok)
	require.Equal(t, 1, prober.calls)
}

func TestDirectory_ProbePriorityPrefersModifiedOverShared(t *testing.T) {
	prober := &fakeProber{responses: []PeerState{
		{NodeID: "n2", State: Shared, Value: []byte("stale")},
		{NodeID: "n3", State: Modified, Value: []byte("fresh")},
	}}
	dir := NewDirectory("n1", 10, prober, nil)

	value, ok := dir.Get("k1")
	require.True(t, ok)
	require.Equal(t, []byte("fresh"), value)
}

func TestDirectory_MissWithNoPeerCopyReportsMiss(t *testing.T) {
	prober := &fakeProber{}
	dir := NewDirectory("n1", 10, prober, nil)

	_, ok := dir.Get("k1")
	require.False(t, ok)
}

func TestDirectory_ApplyPutInvalidatesOtherNodesCopies(t *testing.T) {
	dir := NewDirectory("n2", 10, &fakeProber{}, nil)
	dir.ApplyPut("k1", []byte("v1"), "n2")

	// another node's write to the same key invalidates n2's copy.
	dir.ApplyPut("k1", []byte("v2"), "n1")

	resp := dir.RespondToProbe("k1")
	require.Equal(t, Invalid, resp.State)
}

func TestDirectory_RespondToProbeDowngradesModifiedToShared(t *testing.T) {
	dir := NewDirectory("n1", 10, &fakeProber{}, nil)
	dir.ApplyPut("k1", []byte("v1"), "n1")

	resp := dir.RespondToProbe("k1")
	require.Equal(t, Modified, resp.State)

	resp2 := dir.RespondToProbe("k1")
	require.Equal(t, Shared, resp2.State, "a probed Modified line must downgrade to Shared")
}

func TestDirectory_EvictionCandidateRequiresWritebackForModified(t *testing.T) {
	dir := NewDirectory("n1", 2, &fakeProber{}, nil)

	dir.ApplyPut("k1", []byte("v1"), "n1")
	dir.Get("k1") // touch, keep k1 as most-recently-used

	prober := &fakeProber{responses: []PeerState{{NodeID: "n2", State: Shared, Value: []byte("v2")}}}
	dir.prober = prober
	dir.Get("k2") // miss, inserted as Shared

	dir.ApplyPut("k3", []byte("v3"), "n1") // pushes the directory over capacity

	key, value, state, needsEvict := dir.EvictionCandidate()
	if needsEvict {
		require.Equal(t, Modified, state)
		require.NotEmpty(t, key)
		require.NotEmpty(t, value)
	}
}

func TestDirectory_ApplyEvictWritesBackOnlyOnOrigin(t *testing.T) {
	backing := sink.NewMemorySink()
	dir := NewDirectory("n1", 10, &fakeProber{}, backing)

	dir.ApplyPut("k1", []byte("v1"), "n1")
	dir.ApplyEvict("k1", []byte("v1"), "n1")

	value, err := backing.Get("k1")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), value)

	require.Equal(t, Invalid, dir.RespondToProbe("k1").State)
}

func TestDirectory_Stats(t *testing.T) {
	dir := NewDirectory("n1", 10, &fakeProber{}, nil)
	dir.ApplyPut("k1", []byte("v1"), "n1")
	dir.Get("k1")
	dir.Get("k1")

	stats := dir.Stats()
	require.Equal(t, uint64(2), stats.Hits)
	require.Equal(t, 1, stats.Size)
}
