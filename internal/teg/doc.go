// Package teg implements the temporal effect graph: effects and resources
// as nodes, dependency and continuation edges between effects, typed
// relationships between resources, temporal constraints, and capability
// authorizations.
//
// Graphs are built with Builder or edited through a Transaction started by
// Graph.Begin. Both assign each new node an id equal to the content hash
// of its normalized fields, derive the capabilities each effect requires,
// and refuse graphs that fail Validate.
//
// Compare, Apply, and Merge move changes between graphs. ExtractSubgraph
// and FilterByDomain cut a graph down. Persist stores nodes in an SMT under
// their domain-namespaced keys.
//
// Dependency cycles are errors. Continuation cycles are reported by
// AnalyzeCycles as warnings because guarded retry loops are legal.
package teg
