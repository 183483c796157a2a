package walker

import (
	"container/heap"
	"math"

	"github.com/signalsfoundry/roadnet-simulator/kb"
	"github.com/signalsfoundry/roadnet-simulator/model"
)

// leg is one edge of a route, traversed starting at from.
type leg struct {
	edge *model.Edge
	from model.Point
}

func (l leg) to() model.Point {
	p, _ := l.edge.Other(l.from)
	return p
}

func (l leg) reversed() leg {
	return leg{edge: l.edge, from: l.to()}
}

func routeLength(r []leg) float64 {
	total := 0.0
	for _, l := range r {
		total += l.edge.Length
	}
	return total
}

// entries lists the junctions from which e may be entered.
func entries(e *model.Edge) []model.Point {
	if e.Directed || e.Start == e.End {
		return []model.Point{e.Start}
	}
	return []model.Point{e.Start, e.End}
}

// planFrom finds the shortest route by edge length that starts at junction
// at and ends by traversing goal completely.
func planFrom(reg *kb.Registry, at model.Point, goal *model.Edge) ([]leg, bool) {
	targets := make(map[model.Point]struct{}, 2)
	for _, p := range entries(goal) {
		targets[p] = struct{}{}
	}

	dist := map[model.Point]float64{at: 0}
	prev := make(map[model.Point]leg)
	done := make(map[model.Point]bool)

	pq := &priorityQueue{}
	heap.Push(pq, &item{node: at, priority: 0})

	best := math.Inf(1)
	var bestEntry model.Point
	found := false

	for pq.Len() > 0 {
		it := heap.Pop(pq).(*item)
		u := it.node
		if done[u] {
			continue
		}
		done[u] = true
		if it.priority >= best {
			break
		}
		if _, ok := targets[u]; ok {
			if c := dist[u] + goal.Length; c < best {
				best = c
				bestEntry = u
				found = true
			}
		}
		for _, e := range reg.Outgoing(u) {
			next, ok := e.Other(u)
			if !ok {
				continue
			}
			alt := dist[u] + e.Length
			if d, seen := dist[next]; !seen || alt < d {
				dist[next] = alt
				prev[next] = leg{edge: e, from: u}
				heap.Push(pq, &item{node: next, priority: alt})
			}
		}
	}
	if !found {
		return nil, false
	}

	var path []leg
	for u := bestEntry; u != at; {
		l := prev[u]
		path = append(path, l)
		u = l.from
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return append(path, leg{edge: goal, from: bestEntry}), true
}

// planInitial plans a route that first traverses home, in whichever
// permitted direction gives the shorter trip, then reaches and traverses
// goal. When home and goal are the same edge the route is that edge alone.
func planInitial(reg *kb.Registry, home, goal *model.Edge) ([]leg, bool) {
	if home == goal {
		return []leg{{edge: home, from: home.Start}}, true
	}

	var (
		best    []leg
		bestLen = math.Inf(1)
	)
	for _, from := range entries(home) {
		first := leg{edge: home, from: from}
		rest, ok := planFrom(reg, first.to(), goal)
		if !ok {
			continue
		}
		r := append([]leg{first}, rest...)
		if l := routeLength(r); l < bestLen {
			best, bestLen = r, l
		}
	}
	return best, best != nil
}

// reverseRoute retraces r backwards.
func reverseRoute(r []leg) []leg {
	out := make([]leg, len(r))
	for i, l := range r {
		out[len(r)-1-i] = l.reversed()
	}
	return out
}

// ---------- internal PQ ----------

type item struct {
	node     model.Point
	priority float64
}

type priorityQueue []*item

func (pq priorityQueue) Len() int           { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool { return pq[i].priority < pq[j].priority }
func (pq priorityQueue) Swap(i, j int)      { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x any)        { *pq = append(*pq, x.(*item)) }
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	it := old[n-1]
	*pq = old[:n-1]
	return it
}
