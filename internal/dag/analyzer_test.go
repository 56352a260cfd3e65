package dag

import (
	"context"
	"reflect"
	"sort"
	"testing"

	"github.com/netbase/engine/pkg/models"
)

func def(nodeIDs []string, edges [][2]string) *models.DAGDefinition {
	d := &models.DAGDefinition{}
	for _, id := range nodeIDs {
		d.Nodes = append(d.Nodes, models.Node{ID: id})
	}
	for _, e := range edges {
		d.Edges = append(d.Edges, models.Edge{From: e[0], To: e[1]})
	}
	return d
}

func TestIsCyclic_Linear(t *testing.T) {
	d := def([]string{"A", "B", "C"}, [][2]string{{"A", "B"}, {"B", "C"}})
	if IsCyclic(d) {
		t.Error("Expected linear DAG to be acyclic")
	}
}

func TestIsCyclic_TwoNodeCycle(t *testing.T) {
	d := def([]string{"A", "B"}, [][2]string{{"A", "B"}, {"B", "A"}})
	if !IsCyclic(d) {
		t.Error("Expected A->B, B->A to be cyclic")
	}
}

func TestIsCyclic_SelfLoop(t *testing.T) {
	d := def([]string{"A"}, [][2]string{{"A", "A"}})
	if !IsCyclic(d) {
		t.Error("Expected self loop to be cyclic")
	}
}

func TestIsCyclic_Diamond(t *testing.T) {
	d := def([]string{"A", "B", "C", "D"},
		[][2]string{{"A", "B"}, {"A", "C"}, {"B", "D"}, {"C", "D"}})
	if IsCyclic(d) {
		t.Error("Expected diamond DAG to be acyclic")
	}
}

func TestIsCyclic_IsolatedNodes(t *testing.T) {
	d := def([]string{"A", "B", "C"}, nil)
	if IsCyclic(d) {
		t.Error("Expected isolated nodes to be acyclic")
	}
}

func TestIsCyclic_DanglingEdgesIgnored(t *testing.T) {
	// Edges referencing undefined nodes are dropped, so the phantom cycle
	// through "ghost" must not be reported.
	d := def([]string{"A"}, [][2]string{{"A", "ghost"}, {"ghost", "A"}})
	if IsCyclic(d) {
		t.Error("Expected dangling edges to be ignored")
	}
}

func TestInDegree(t *testing.T) {
	d := def([]string{"A", "B", "C", "D"},
		[][2]string{{"A", "B"}, {"A", "C"}, {"B", "D"}, {"C", "D"}, {"A", "ghost"}})

	got := InDegree(d)
	want := map[string]int{"A": 0, "B": 1, "C": 1, "D": 2}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("InDegree = %v, want %v", got, want)
	}
}

func TestStartNodes_PreservesDefinitionOrder(t *testing.T) {
	d := def([]string{"X", "A", "B"}, [][2]string{{"A", "B"}})

	starts := StartNodes(d)
	if len(starts) != 2 {
		t.Fatalf("Expected 2 start nodes, got %d", len(starts))
	}
	if starts[0].ID != "X" || starts[1].ID != "A" {
		t.Errorf("Expected start nodes [X A], got [%s %s]", starts[0].ID, starts[1].ID)
	}
}

func TestStartNodes_CycleHasNoStarts(t *testing.T) {
	d := def([]string{"A", "B"}, [][2]string{{"A", "B"}, {"B", "A"}})
	if starts := StartNodes(d); len(starts) != 0 {
		t.Errorf("Expected no start nodes in a cycle, got %v", starts)
	}
}

func TestDownstreamUpstream(t *testing.T) {
	d := def([]string{"A", "B", "C", "D"},
		[][2]string{{"A", "B"}, {"A", "C"}, {"B", "D"}, {"C", "D"}})

	down := Downstream(d, "A")
	sort.Strings(down)
	if !reflect.DeepEqual(down, []string{"B", "C"}) {
		t.Errorf("Downstream(A) = %v, want [B C]", down)
	}

	up := Upstream(d, "D")
	sort.Strings(up)
	if !reflect.DeepEqual(up, []string{"B", "C"}) {
		t.Errorf("Upstream(D) = %v, want [B C]", up)
	}

	if got := Downstream(d, "D"); len(got) != 0 {
		t.Errorf("Downstream(D) = %v, want empty", got)
	}
	if got := Upstream(d, "A"); len(got) != 0 {
		t.Errorf("Upstream(A) = %v, want empty", got)
	}
}

type fakeCounter struct {
	completed map[string]bool
}

func (f *fakeCounter) CountCompletedByNodes(_ context.Context, _ int64, nodeIDs []string) (int64, error) {
	var n int64
	for _, id := range nodeIDs {
		if f.completed[id] {
			n++
		}
	}
	return n, nil
}

func TestDependenciesMet(t *testing.T) {
	d := def([]string{"A", "B", "C", "D"},
		[][2]string{{"A", "B"}, {"A", "C"}, {"B", "D"}, {"C", "D"}})

	counter := &fakeCounter{completed: map[string]bool{"B": true}}

	// D needs both B and C.
	met, err := DependenciesMet(context.Background(), counter, 1, "D", d)
	if err != nil {
		t.Fatalf("DependenciesMet returned error: %v", err)
	}
	if met {
		t.Error("Expected D dependencies unmet with only B completed")
	}

	counter.completed["C"] = true
	met, err = DependenciesMet(context.Background(), counter, 1, "D", d)
	if err != nil {
		t.Fatalf("DependenciesMet returned error: %v", err)
	}
	if !met {
		t.Error("Expected D dependencies met with B and C completed")
	}

	// A has no upstream edges.
	met, err = DependenciesMet(context.Background(), &fakeCounter{}, 1, "A", d)
	if err != nil {
		t.Fatalf("DependenciesMet returned error: %v", err)
	}
	if !met {
		t.Error("Expected node without dependencies to be satisfied")
	}
}
