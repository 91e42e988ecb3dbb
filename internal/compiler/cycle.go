package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/jobweave/internal/ir"
)

// CycleWarning reports a group of module methods that call each other.
//
// Recursion is legal. It is reported because every method of the group is
// cloned onto a job when any of them is reached from a lambda body.
type CycleWarning struct {
	Path    []string `json:"path"`    // ["T::a", "T::b", "T::a"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning"
}

// AnalyzeCycles finds recursion in the module's call graph.
//
// Edges run from a method to every module method it calls, constructs or
// takes the address of. Strongly connected components are found with
// Tarjan's algorithm; each one with more than one member, or with a
// self-call, becomes a warning. Methods are visited in declaration order
// so the result is deterministic.
func AnalyzeCycles(mod *ir.Module) []CycleWarning {
	graph, order := buildCallGraph(mod)

	var warnings []CycleWarning
	for _, scc := range tarjanSCC(graph, order) {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	return warnings
}

// callGraph maps a method key to the keys of module methods it references.
type callGraph map[string][]string

func buildCallGraph(mod *ir.Module) (callGraph, []string) {
	graph := make(callGraph)
	var order []string
	for _, t := range mod.Types {
		for _, m := range t.Methods {
			key := m.Key()
			order = append(order, key)
			graph[key] = []string{}
			for _, ins := range m.Body {
				switch ins.Op {
				case ir.OpCall, ir.OpCallVirt, ir.OpNewObj, ir.OpLoadFunc:
				default:
					continue
				}
				if callee := mod.ResolveMethod(ins.Method); callee != nil {
					graph[key] = append(graph[key], callee.Key())
				}
			}
		}
	}
	return graph, order
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph callGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(graph callGraph, order []string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root node: pop the stack into an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

func cycleSCCToWarning(scc []string, graph callGraph) CycleWarning {
	if len(scc) == 1 {
		key := scc[0]
		return CycleWarning{
			Path:    []string{key, key},
			Message: fmt.Sprintf("recursive method: %s calls itself", key),
			Level:   "warning",
		}
	}

	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("mutually recursive methods: %s", strings.Join(path, " -> ")),
		Level:   "warning",
	}
}

// reconstructCyclePath follows edges inside the SCC from its first member
// until it returns there.
func reconstructCyclePath(scc []string, graph callGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	start := scc[len(scc)-1]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
