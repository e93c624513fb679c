package coyote

import (
	"fmt"
	"sort"
	"strings"
)

// dotEdgeStyle picks the Graphviz edge attributes for one scheduling-point
// kind, per spec.md §6: "distinct styles for Create, ContinueWith, and
// default context-switch edges."
func dotEdgeStyle(kind PointKind) string {
	switch kind {
	case PointCreate:
		return `color="forestgreen", style=bold`
	case PointContinueWith:
		return `color="royalblue", style=dashed`
	default:
		return `color="gray40"`
	}
}

// ToDOT renders t as a Graphviz directed multigraph: one node per operation
// (labeled with its description), one edge per non-data-choice scheduling
// decision. Nondeterministic data choices (NondetBoolean/NondetInteger)
// never imply a context switch (spec.md §4.2 step 5) and so contribute no
// edge, only a label suffix on the originating node's last outgoing edge
// would be misleading, so they are omitted entirely — this mirrors the
// upstream tool, which visualizes only actual interleavings.
func (t *ExecutionTrace) ToDOT(graphName string) string {
	var b strings.Builder

	name := graphName
	if name == "" {
		name = "coyote"
	}

	fmt.Fprintf(&b, "digraph %q {\n", name)
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box, fontname=\"monospace\"];\n")

	ids := make([]OpID, 0, len(t.Descriptions))
	for id := range t.Descriptions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		label := t.Descriptions[id]
		fmt.Fprintf(&b, "  op%d [label=%q];\n", id, fmt.Sprintf("op(%d) %s", id, label))
	}

	for _, d := range t.Steps {
		if d.IsDataChoice {
			continue
		}
		fmt.Fprintf(&b, "  op%d -> op%d [label=%q, %s];\n",
			d.CurrentOp, d.NextOp, d.Kind.String(), dotEdgeStyle(d.Kind))
	}

	b.WriteString("}\n")
	return b.String()
}

