// Package graph walks supersession chains between rules. Each rule
// supersedes at most one predecessor, so the edges form chains that must
// stay acyclic for version history to mean anything.
package graph

// WouldCycle reports whether adding the edge from -> to would close a loop
// in edges (ruleID -> supersededRuleID). A self-edge is a cycle. The walk
// carries a visited set so an already-corrupt chain cannot hang it.
func WouldCycle(edges map[string]string, from, to string) bool {
	if from == "" || to == "" {
		return false
	}
	if from == to {
		return true
	}
	visited := map[string]bool{from: true}
	cur := to
	for cur != "" {
		if visited[cur] {
			return true
		}
		visited[cur] = true
		cur = edges[cur]
	}
	return false
}

// Lineage returns start and every rule it transitively supersedes, oldest
// last. Corrupt cyclic chains are truncated at the repeated node.
func Lineage(edges map[string]string, start string) []string {
	var out []string
	visited := make(map[string]bool)
	cur := start
	for cur != "" && !visited[cur] {
		visited[cur] = true
		out = append(out, cur)
		cur = edges[cur]
	}
	return out
}

// Heads returns the rules no other rule supersedes: the current tips of
// every chain in edges.
func Heads(edges map[string]string) []string {
	superseded := make(map[string]bool)
	for _, to := range edges {
		superseded[to] = true
	}
	var out []string
	for from := range edges {
		if !superseded[from] {
			out = append(out, from)
		}
	}
	return out
}
