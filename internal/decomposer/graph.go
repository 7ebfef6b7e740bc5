package decomposer

import (
	"sort"

	"github.com/andywolf/agentorch/internal/model"
)

// edge is a parent -> child dependency between two grandchild ticket IDs.
type edge struct {
	ParentID string
	ChildID  string
}

// dependencyGraph orders grandchild tickets so dependencies run before
// their dependents, breaking any cycle a worker-authored DependsOn list
// might introduce.
//
// Grounded on internal/controller/dependencies.go's DependencyGraph: same
// DFS-coloring cycle break followed by Kahn's-algorithm topological sort.
// That implementation sorts ties numerically (issue numbers); this one
// sorts ties lexicographically since grandchild ticket IDs are opaque
// strings, not issue numbers.
type dependencyGraph struct {
	parents     map[string][]string
	children    map[string][]string
	brokenEdges []edge
}

// newDependencyGraph builds a graph over ids, wiring a -> b for every
// dependsOn[b] containing a, provided both ends are in ids.
func newDependencyGraph(ids []string, dependsOn map[string][]string) *dependencyGraph {
	g := &dependencyGraph{
		parents:  make(map[string][]string),
		children: make(map[string][]string),
	}
	inBatch := make(map[string]bool, len(ids))
	for _, id := range ids {
		inBatch[id] = true
		g.parents[id] = []string{}
		g.children[id] = []string{}
	}

	for _, id := range ids {
		deps := dependsOn[id]
		sorted := append([]string(nil), deps...)
		sort.Strings(sorted)
		for _, dep := range sorted {
			if inBatch[dep] && dep != id {
				g.addEdge(dep, id)
			}
		}
	}

	g.detectAndBreakCycles()
	return g
}

func (g *dependencyGraph) addEdge(parentID, childID string) {
	for _, existing := range g.children[parentID] {
		if existing == childID {
			return
		}
	}
	g.children[parentID] = append(g.children[parentID], childID)
	g.parents[childID] = append(g.parents[childID], parentID)
}

func (g *dependencyGraph) removeEdge(parentID, childID string) {
	children := g.children[parentID]
	for i, c := range children {
		if c == childID {
			g.children[parentID] = append(children[:i], children[i+1:]...)
			break
		}
	}
	parents := g.parents[childID]
	for i, p := range parents {
		if p == parentID {
			g.parents[childID] = append(parents[:i], parents[i+1:]...)
			break
		}
	}
}

// BrokenEdges returns the dependency edges removed to eliminate cycles.
func (g *dependencyGraph) BrokenEdges() []edge {
	return g.brokenEdges
}

func (g *dependencyGraph) detectAndBreakCycles() {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var backEdges []edge

	var nodes []string
	for node := range g.parents {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	var dfs func(node string)
	dfs = func(node string) {
		color[node] = gray
		children := append([]string(nil), g.children[node]...)
		sort.Strings(children)
		for _, child := range children {
			switch color[child] {
			case white:
				dfs(child)
			case gray:
				backEdges = append(backEdges, edge{ParentID: node, ChildID: child})
			}
		}
		color[node] = black
	}

	for _, node := range nodes {
		if color[node] == white {
			dfs(node)
		}
	}

	for _, e := range backEdges {
		g.removeEdge(e.ParentID, e.ChildID)
	}
	g.brokenEdges = backEdges
}

// SortedIDs returns a topological order over the graph's nodes via Kahn's
// algorithm, breaking ties lexicographically for determinism.
func (g *dependencyGraph) SortedIDs() []string {
	inDegree := make(map[string]int, len(g.parents))
	for node := range g.parents {
		inDegree[node] = len(g.parents[node])
	}

	var queue []string
	for node, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, node)
		}
	}
	sort.Strings(queue)

	var sorted []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		children := append([]string(nil), g.children[node]...)
		sort.Strings(children)
		for _, child := range children {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = insertSorted(queue, child)
			}
		}
	}
	return sorted
}

// OrderGrandchildren returns grandchild ticket IDs in an order that
// respects every DependsOn edge among them, breaking cycles and falling
// back to lexicographic order among ties. The Workflow Engine uses this to
// decide which grandchildren of a child ticket are eligible to submit to
// the Worker Pool next.
func OrderGrandchildren(tickets []model.GrandchildTicket) []string {
	ids := make([]string, 0, len(tickets))
	dependsOn := make(map[string][]string, len(tickets))
	for _, t := range tickets {
		ids = append(ids, t.ID)
		dependsOn[t.ID] = t.DependsOn
	}
	g := newDependencyGraph(ids, dependsOn)
	g.detectAndBreakCycles()
	return g.SortedIDs()
}

// Levels groups the graph's nodes into sequential waves: every node in one
// wave depends only on nodes in earlier waves, so a caller may execute an
// entire wave concurrently before starting the next one.
func (g *dependencyGraph) Levels() [][]string {
	inDegree := make(map[string]int, len(g.parents))
	for node := range g.parents {
		inDegree[node] = len(g.parents[node])
	}

	var remaining []string
	for node := range inDegree {
		remaining = append(remaining, node)
	}
	sort.Strings(remaining)

	var levels [][]string
	for len(remaining) > 0 {
		var wave []string
		waveSet := make(map[string]bool)
		for _, node := range remaining {
			if inDegree[node] == 0 {
				wave = append(wave, node)
				waveSet[node] = true
			}
		}
		if len(wave) == 0 {
			// Every remaining node has an unsatisfied in-degree; this can
			// only happen if detectAndBreakCycles wasn't run first. Emit
			// whatever is left as one final wave rather than loop forever.
			levels = append(levels, append([]string(nil), remaining...))
			break
		}
		sort.Strings(wave)
		levels = append(levels, wave)

		var next []string
		for _, node := range remaining {
			if waveSet[node] {
				for _, child := range g.children[node] {
					inDegree[child]--
				}
				continue
			}
			next = append(next, node)
		}
		remaining = next
	}
	return levels
}

// OrderGrandchildrenLevels groups tickets' IDs into sequential waves of
// mutually independent work, per Levels, so the Workflow Engine can submit
// an entire wave to the Worker Pool concurrently instead of one ticket at
// a time.
func OrderGrandchildrenLevels(tickets []model.GrandchildTicket) [][]string {
	ids := make([]string, 0, len(tickets))
	dependsOn := make(map[string][]string, len(tickets))
	for _, t := range tickets {
		ids = append(ids, t.ID)
		dependsOn[t.ID] = t.DependsOn
	}
	g := newDependencyGraph(ids, dependsOn)
	g.detectAndBreakCycles()
	return g.Levels()
}

func insertSorted(queue []string, value string) []string {
	idx := sort.SearchStrings(queue, value)
	queue = append(queue, "")
	copy(queue[idx+1:], queue[idx:])
	queue[idx] = value
	return queue
}
