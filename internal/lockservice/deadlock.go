package lockservice

import "sort"

// Cycle is one strongly-connected set of clients found in the
// wait-for graph, together with the victim chosen from it.
type Cycle struct {
	Clients []string
	Victim  string
}

// waitForGraph is the union, across every lock, of edges waiter ->
// holder (spec §4.3), rebuilt from scratch on each scan per spec §9
// ("rebuild is O(L) in lock-table size and runs off the critical
// path") rather than maintained incrementally.
func (t *Table) waitForGraph() map[string]map[string]struct{} {
	graph := make(map[string]map[string]struct{})
	for _, entry := range t.locks {
		for _, w := range entry.queue {
			for holder := range entry.holders {
				if holder == w.ClientID {
					continue
				}
				edges, ok := graph[w.ClientID]
				if !ok {
					edges = make(map[string]struct{})
					graph[w.ClientID] = edges
				}
				edges[holder] = struct{}{}
			}
		}
	}
	return graph
}

// DetectCycles runs depth-first cycle detection over the wait-for
// graph, directly modelled on
// original_source/src/nodes/lock_manager.py's _detect_deadlocks
// (visited set, rec_stack, path), generalised from a single-holder
// edge to shared locks' multi-holder edges.
func (t *Table) DetectCycles() []Cycle {
	graph := t.waitForGraph()

	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	var cycles []Cycle

	var dfs func(node string, path []string) bool
	dfs = func(node string, path []string) bool {
		visited[node] = true
		recStack[node] = true
		path = append(path, node)

		neighbors := make([]string, 0, len(graph[node]))
		for n := range graph[node] {
			neighbors = append(neighbors, n)
		}
		sort.Strings(neighbors)

		for _, neighbor := range neighbors {
			if !visited[neighbor] {
				if dfs(neighbor, path) {
					return true
				}
			} else if recStack[neighbor] {
				start := indexOf(path, neighbor)
				cycle := append([]string(nil), path[start:]...)
				cycles = append(cycles, Cycle{Clients: cycle, Victim: t.selectVictim(cycle)})
				return true
			}
		}

		recStack[node] = false
		return false
	}

	nodes := make([]string, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	for _, n := range nodes {
		if !visited[n] {
			dfs(n, nil)
		}
	}

	return cycles
}

// selectVictim picks the client with the most recently enqueued
// pending request among the cycle's members (the "youngest
// transaction" rule of spec §4.3), ties broken lexicographically.
func (t *Table) selectVictim(cycle []string) string {
	victim := ""
	var victimAt int64 = -1

	for _, clientID := range cycle {
		at := t.latestEnqueuedAt(clientID)
		if at > victimAt || (at == victimAt && clientID < victim) {
			victim = clientID
			victimAt = at
		}
	}
	return victim
}

func (t *Table) latestEnqueuedAt(clientID string) int64 {
	var latest int64 = -1
	for _, pw := range t.pending[clientID] {
		if ns := pw.enqueuedAt.UnixNano(); ns > latest {
			latest = ns
		}
	}
	return latest
}

func indexOf(xs []string, v string) int {
	for i, x := range xs {
		if x == v {
			return i
		}
	}
	return -1
}

