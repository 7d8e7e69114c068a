package manifest

import (
	"container/heap"
	"fmt"
)

// NoPathError reports that no package chain connects two versions, for
// example because the goal is older than the current version or because
// intermediate packages were pruned from the repository.
type NoPathError struct {
	From string
	To   string
}

func (e *NoPathError) Error() string {
	from := e.From
	if from == "" {
		from = "<empty>"
	}
	return fmt.Sprintf("no update path from %s to %s", from, e.To)
}

// Plan computes the cheapest ordered package chain transforming a workspace
// at current into one at goal, weighting edges by package size. Every
// version has an implicit free edge to the empty version, so a standalone
// complete package can always serve as a fallback route.
//
// For a fixed package list and (current, goal) pair the result is
// deterministic: ties are broken by graph insertion order, which follows
// the order packages appear in the manifest.
func Plan(current, goal string, packages []Package) ([]Package, error) {
	if current == goal {
		return nil, nil
	}

	idx := map[string]int{}
	var names []string
	node := func(name string) int {
		if i, ok := idx[name]; ok {
			return i
		}
		i := len(names)
		idx[name] = i
		names = append(names, name)
		return i
	}

	empty := node("")
	start := node(current)
	goalIdx := node(goal)

	adj := make([][]edge, len(names), len(names)+2*len(packages))
	grow := func(n int) {
		for len(adj) < n {
			adj = append(adj, nil)
		}
	}
	if start != empty {
		grow(len(names))
		adj[start] = append(adj[start], edge{to: empty, cost: 0})
	}
	for _, p := range packages {
		from := node(p.From)
		to := node(p.To)
		grow(len(names))
		adj[from] = append(adj[from], edge{to: to, cost: uint64(p.Size)})
	}

	path := shortestPath(adj, start, goalIdx)
	if path == nil {
		return nil, &NoPathError{From: current, To: goal}
	}

	var chain []Package
	from := current
	if start != empty && len(path) > 0 && path[0] == empty {
		from = ""
		path = path[1:]
	}
	for _, n := range path {
		to := names[n]
		for _, p := range packages {
			if p.From == from && p.To == to {
				chain = append(chain, p)
				break
			}
		}
		from = to
	}
	if len(chain) == 0 {
		return nil, &NoPathError{From: current, To: goal}
	}
	return chain, nil
}

type edge struct {
	to   int
	cost uint64
}

type pqItem struct {
	node int
	cost uint64
}

type pq []pqItem

func (q pq) Len() int { return len(q) }
func (q pq) Less(i, j int) bool {
	if q[i].cost != q[j].cost {
		return q[i].cost < q[j].cost
	}
	return q[i].node < q[j].node
}
func (q pq) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *pq) Push(x any)        { *q = append(*q, x.(pqItem)) }
func (q *pq) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}

// shortestPath is Dijkstra over the version graph. Returns the node
// sequence excluding start, or nil when goal is unreachable.
func shortestPath(adj [][]edge, start, goal int) []int {
	const inf = ^uint64(0)
	dist := make([]uint64, len(adj))
	prev := make([]int, len(adj))
	for i := range dist {
		dist[i] = inf
		prev[i] = -1
	}
	dist[start] = 0

	q := &pq{{node: start, cost: 0}}
	for q.Len() > 0 {
		it := heap.Pop(q).(pqItem)
		if it.node == goal {
			var path []int
			for n := goal; prev[n] != -1; n = prev[n] {
				path = append(path, n)
			}
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}
			if len(path) == 0 {
				return nil
			}
			return path
		}
		if it.cost > dist[it.node] {
			continue
		}
		for _, e := range adj[it.node] {
			next := it.cost + e.cost
			if next < dist[e.to] {
				dist[e.to] = next
				prev[e.to] = it.node
				heap.Push(q, pqItem{node: e.to, cost: next})
			}
		}
	}
	return nil
}
