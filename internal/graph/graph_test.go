package graph

import (
	"testing"
)

func TestAddDuplicateName(t *testing.T) {
	t.Parallel()
	g := New()
	if err := g.Add(NewNode("x", "Const")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := g.Add(NewNode("x", "Identity")); err == nil {
		t.Fatal("expected error for duplicate node name")
	}
	if err := g.Add(NewNode("", "Const")); err == nil {
		t.Fatal("expected error for empty node name")
	}
}

func TestNodesInsertionOrder(t *testing.T) {
	t.Parallel()
	g := New()
	for _, name := range []string{"c", "a", "b"} {
		g.MustAdd(NewNode(name, "Const"))
	}
	var got []string
	for _, n := range g.Nodes() {
		got = append(got, n.Name)
	}
	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestRemoveKeepsOrder(t *testing.T) {
	t.Parallel()
	g := New()
	g.MustAdd(NewNode("a", "Const"))
	g.MustAdd(NewNode("b", "Const"))
	g.MustAdd(NewNode("c", "Const"))

	g.Remove("b")
	g.Remove("absent") // no-op

	if g.Len() != 2 {
		t.Fatalf("len = %d, want 2", g.Len())
	}
	if g.Node("b") != nil {
		t.Fatal("removed node still resolvable")
	}
	nodes := g.Nodes()
	if nodes[0].Name != "a" || nodes[1].Name != "c" {
		t.Fatalf("order after remove = [%s %s]", nodes[0].Name, nodes[1].Name)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()
	g := New()
	g.MustAdd(NewNode("x", "Placeholder"))
	n := g.MustAdd(NewNode("y", "Identity", "x"))
	n.Attr["T"] = StringAttr("float")

	c := g.Clone()
	c.Node("y").Input[0] = "z"
	c.Node("y").Attr["extra"] = IntAttr(1)
	c.Remove("x")

	if g.Node("y").Input[0] != "x" {
		t.Fatal("clone mutation leaked into original inputs")
	}
	if _, ok := g.Node("y").Attr["extra"]; ok {
		t.Fatal("clone mutation leaked into original attrs")
	}
	if g.Node("x") == nil {
		t.Fatal("removing from clone removed from original")
	}
}

func TestFunctionsSorted(t *testing.T) {
	t.Parallel()
	g := New()
	for _, name := range []string{"zeta", "alpha"} {
		if err := g.AddFunction(&Function{Name: name, Body: New()}); err != nil {
			t.Fatalf("AddFunction: %v", err)
		}
	}
	if err := g.AddFunction(&Function{Name: "alpha"}); err == nil {
		t.Fatal("expected error for duplicate function name")
	}
	fns := g.Functions()
	if len(fns) != 2 || fns[0].Name != "alpha" || fns[1].Name != "zeta" {
		t.Fatalf("functions = %v", []string{fns[0].Name, fns[1].Name})
	}
}

func TestParseInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want InputRef
	}{
		{"x", InputRef{Node: "x"}},
		{"x:0", InputRef{Node: "x"}},
		{"x:2", InputRef{Node: "x", Index: 2}},
		{"^ctrl", InputRef{Node: "ctrl", Control: true}},
		{"scope/x:1", InputRef{Node: "scope/x", Index: 1}},
	}
	for _, tc := range tests {
		got := ParseInput(tc.raw)
		if got != tc.want {
			t.Errorf("ParseInput(%q) = %+v, want %+v", tc.raw, got, tc.want)
		}
	}

	// Round trip: index 0 normalizes to the bare name.
	if s := ParseInput("x:0").String(); s != "x" {
		t.Errorf("x:0 rendered as %q", s)
	}
	if s := (InputRef{Node: "w", Index: 3}).String(); s != "w:3" {
		t.Errorf("w:3 rendered as %q", s)
	}
	if s := (InputRef{Node: "c", Control: true}).String(); s != "^c" {
		t.Errorf("^c rendered as %q", s)
	}
}

func TestReplaceInput(t *testing.T) {
	t.Parallel()
	n := NewNode("sum", "AddV2", "a", "a:1", "^a", "b")
	replaced := ReplaceInput(n, "a", InputRef{Node: "w", Index: 2})
	if replaced != 2 {
		t.Fatalf("replaced = %d, want 2", replaced)
	}
	want := []string{"w:2", "w:2", "^a", "b"}
	for i := range want {
		if n.Input[i] != want[i] {
			t.Fatalf("inputs = %v, want %v", n.Input, want)
		}
	}
}

func TestConsumersAndFanOut(t *testing.T) {
	t.Parallel()
	g := New()
	g.MustAdd(NewNode("w", "Const"))
	g.MustAdd(NewNode("a", "Identity", "w"))
	g.MustAdd(NewNode("b", "AddV2", "w", "w:1"))
	g.MustAdd(NewNode("c", "NoOp", "^w"))

	consumers := BuildConsumers(g)
	if got := consumers["w"]; len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("consumers of w = %v", got)
	}
	// b references w twice, a once; the control edge from c does not count.
	if n := consumers.DataFanOut(g, "w"); n != 3 {
		t.Fatalf("fan-out of w = %d, want 3", n)
	}
	if n := consumers.DataFanOut(g, "a"); n != 0 {
		t.Fatalf("fan-out of a = %d, want 0", n)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	g := New()
	g.MustAdd(NewNode("x", "Placeholder"))
	g.MustAdd(NewNode("y", "Identity", "x"))
	if err := g.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	g.MustAdd(NewNode("z", "Identity", "ghost"))
	if err := g.Validate(); err == nil {
		t.Fatal("expected error for dangling reference")
	}
}

func TestTopoSort(t *testing.T) {
	t.Parallel()
	g := New()
	// Inserted out of dependency order on purpose.
	g.MustAdd(NewNode("y", "AddV2", "a", "b"))
	g.MustAdd(NewNode("a", "Const"))
	g.MustAdd(NewNode("b", "Identity", "a"))

	order, err := g.TopoSort()
	if err != nil {
		t.Fatalf("TopoSort: %v", err)
	}
	pos := map[string]int{}
	for i, name := range order {
		pos[name] = i
	}
	if pos["a"] > pos["b"] || pos["b"] > pos["y"] {
		t.Fatalf("order = %v", order)
	}
}

func TestTopoSortCycle(t *testing.T) {
	t.Parallel()
	g := New()
	g.MustAdd(NewNode("p", "Identity", "q"))
	g.MustAdd(NewNode("q", "Identity", "p"))
	if _, err := g.TopoSort(); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestTopoSortIgnoresNextIterationBackEdge(t *testing.T) {
	t.Parallel()
	g := New()
	g.MustAdd(NewNode("enter", "Enter"))
	g.MustAdd(NewNode("merge", "Merge", "enter", "next"))
	g.MustAdd(NewNode("body", "AddV2", "merge", "merge"))
	g.MustAdd(NewNode("next", "NextIteration", "body"))

	order, err := g.TopoSort()
	if err != nil {
		t.Fatalf("TopoSort with back edge: %v", err)
	}
	if len(order) != 4 {
		t.Fatalf("ordered %d of 4 nodes", len(order))
	}
}

func TestReachable(t *testing.T) {
	t.Parallel()
	g := New()
	g.MustAdd(NewNode("a", "Const"))
	g.MustAdd(NewNode("b", "Identity", "a"))
	g.MustAdd(NewNode("dead", "Const"))
	g.MustAdd(NewNode("c", "Identity", "b", "^a"))

	seen := g.Reachable([]string{"c"})
	for _, name := range []string{"a", "b", "c"} {
		if !seen[name] {
			t.Fatalf("%s should be reachable from c", name)
		}
	}
	if seen["dead"] {
		t.Fatal("dead should not be reachable from c")
	}
}
