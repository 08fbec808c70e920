package plugin

import "sort"

// Graph is the plugin dependency graph. An edge from a plugin to each
// of its dependencies.
type Graph struct {
	deps       map[string]map[string]bool // plugin -> its dependencies
	dependents map[string]map[string]bool // plugin -> plugins depending on it
}

// NewGraph creates an empty dependency graph.
func NewGraph() *Graph {
	return &Graph{
		deps:       make(map[string]map[string]bool),
		dependents: make(map[string]map[string]bool),
	}
}

// AddPlugin inserts a node.
func (g *Graph) AddPlugin(name string) {
	if g.deps[name] == nil {
		g.deps[name] = make(map[string]bool)
	}
	if g.dependents[name] == nil {
		g.dependents[name] = make(map[string]bool)
	}
}

// AddDependency records that plugin depends on dep.
func (g *Graph) AddDependency(plugin, dep string) {
	g.AddPlugin(plugin)
	g.AddPlugin(dep)
	g.deps[plugin][dep] = true
	g.dependents[dep][plugin] = true
}

// Dependencies returns the direct dependencies of a plugin.
func (g *Graph) Dependencies(plugin string) []string {
	return sortedKeys(g.deps[plugin])
}

// Dependents returns the plugins that directly depend on plugin.
func (g *Graph) Dependents(plugin string) []string {
	return sortedKeys(g.dependents[plugin])
}

// CycleNodes returns every node that sits on a dependency cycle,
// found by DFS with a recursion stack. A plugin depending on itself
// counts as a cycle.
func (g *Graph) CycleNodes() map[string]bool {
	cyclic := make(map[string]bool)
	visited := make(map[string]bool)
	stack := make(map[string]bool)

	var dfs func(node string) bool
	dfs = func(node string) bool {
		visited[node] = true
		stack[node] = true
		onCycle := false
		for dep := range g.deps[node] {
			if stack[dep] {
				onCycle = true
				cyclic[dep] = true
				continue
			}
			if !visited[dep] {
				if dfs(dep) {
					onCycle = true
				}
			} else if cyclic[dep] {
				onCycle = true
			}
		}
		delete(stack, node)
		if onCycle {
			cyclic[node] = true
		}
		return onCycle
	}

	for node := range g.deps {
		if !visited[node] {
			dfs(node)
		}
	}
	return cyclic
}

// Layers computes topological layers with Kahn's algorithm: layer 0
// holds plugins with no dependencies, each following layer holds the
// plugins whose dependencies are all in earlier layers. Plugins inside
// a layer may load concurrently. Nodes on cycles are excluded and
// returned in skipped.
func (g *Graph) Layers() (layers [][]string, skipped []string) {
	cyclic := g.CycleNodes()

	inDegree := make(map[string]int)
	for node, deps := range g.deps {
		if cyclic[node] {
			continue
		}
		count := 0
		for dep := range deps {
			if !cyclic[dep] {
				count++
			}
		}
		inDegree[node] = count
	}

	ready := make([]string, 0)
	for node, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, node)
		}
	}
	sort.Strings(ready)

	for len(ready) > 0 {
		layers = append(layers, ready)
		var next []string
		for _, node := range ready {
			for dependent := range g.dependents[node] {
				if cyclic[dependent] {
					continue
				}
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.Strings(next)
		ready = next
	}

	skipped = sortedKeys(cyclic)
	return layers, skipped
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
