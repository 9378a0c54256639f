// Package temporal keeps causally ordered histories of resource states and
// relationships.
//
// Every snapshot carries a version and a clock.TimeMap. Versions strictly
// increase per entity, even across pruning, and GetStateAtTime returns the
// highest version whose time map is at or before the query, so asking with
// a later map never yields an older version.
//
// SynchronizeResources and SynchronizeRelationships pull live state from a
// lifecycle manager or relationship registry and record what changed.
package temporal
