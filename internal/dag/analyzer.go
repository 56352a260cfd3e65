// Package dag provides pure, stateless analysis over DAG definitions:
// cycle detection, in-degree, upstream/downstream lookup and the
// dependency-satisfied predicate used by the scheduler.
package dag

import (
	"context"

	"github.com/netbase/engine/pkg/models"
)

// IsCyclic reports whether the definition contains a cycle, using DFS with a
// visited set and a recursion stack. Isolated nodes are acyclic. Edges whose
// endpoints are not defined as nodes are ignored.
func IsCyclic(def *models.DAGDefinition) bool {
	adj := adjacency(def)

	visited := make(map[string]bool, len(adj))
	onStack := make(map[string]bool, len(adj))

	var visit func(id string) bool
	visit = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		for _, next := range adj[id] {
			if !visited[next] {
				if visit(next) {
					return true
				}
			} else if onStack[next] {
				return true
			}
		}
		onStack[id] = false
		return false
	}

	for _, node := range def.Nodes {
		if !visited[node.ID] {
			if visit(node.ID) {
				return true
			}
		}
	}
	return false
}

// InDegree counts incoming edges per node. Edges pointing at undefined nodes
// are not counted.
func InDegree(def *models.DAGDefinition) map[string]int {
	degree := make(map[string]int, len(def.Nodes))
	for _, node := range def.Nodes {
		degree[node.ID] = 0
	}
	for _, edge := range def.Edges {
		if _, ok := degree[edge.To]; ok {
			degree[edge.To]++
		}
	}
	return degree
}

// StartNodes returns the nodes with in-degree zero, preserving definition
// order.
func StartNodes(def *models.DAGDefinition) []models.Node {
	degree := InDegree(def)
	var starts []models.Node
	for _, node := range def.Nodes {
		if degree[node.ID] == 0 {
			starts = append(starts, node)
		}
	}
	return starts
}

// Downstream returns the ids of direct successors of nodeID.
func Downstream(def *models.DAGDefinition, nodeID string) []string {
	var out []string
	for _, edge := range def.Edges {
		if edge.From == nodeID {
			out = append(out, edge.To)
		}
	}
	return out
}

// Upstream returns the ids of direct predecessors of nodeID.
func Upstream(def *models.DAGDefinition, nodeID string) []string {
	var out []string
	for _, edge := range def.Edges {
		if edge.To == nodeID {
			out = append(out, edge.From)
		}
	}
	return out
}

// CompletedCounter counts COMPLETED task instances of a workflow restricted
// to a set of node ids. The storage layer implements it with a single COUNT.
type CompletedCounter interface {
	CountCompletedByNodes(ctx context.Context, workflowInstanceID int64, nodeIDs []string) (int64, error)
}

// DependenciesMet reports whether every upstream node of nodeID has a
// COMPLETED task instance for the given workflow. Nodes without upstream
// edges are trivially satisfied.
func DependenciesMet(ctx context.Context, counter CompletedCounter, workflowInstanceID int64, nodeID string, def *models.DAGDefinition) (bool, error) {
	upstream := Upstream(def, nodeID)
	if len(upstream) == 0 {
		return true, nil
	}
	completed, err := counter.CountCompletedByNodes(ctx, workflowInstanceID, upstream)
	if err != nil {
		return false, err
	}
	return completed == int64(len(upstream)), nil
}

func adjacency(def *models.DAGDefinition) map[string][]string {
	adj := make(map[string][]string, len(def.Nodes))
	for _, node := range def.Nodes {
		adj[node.ID] = nil
	}
	for _, edge := range def.Edges {
		_, fromOK := adj[edge.From]
		_, toOK := adj[edge.To]
		if fromOK && toOK {
			adj[edge.From] = append(adj[edge.From], edge.To)
		}
	}
	return adj
}
