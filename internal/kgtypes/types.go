// Package kgtypes holds the data model shared by every layer of the
// knowledge-graph service: orchestrator, metadata store, graph store,
// extractor, and HTTP handlers all speak in these types rather than in
// driver-specific records.
package kgtypes

import "time"

// Status is the KGState lifecycle value.
type Status string

const (
	StatusIdle     Status = "IDLE"
	StatusBuilding Status = "BUILDING"
	StatusUpdating Status = "UPDATING"
	StatusReady    Status = "READY"
	StatusFailed   Status = "FAILED"
)

// Admitting reports whether a trigger is allowed to run from this status.
func (s Status) Admitting() bool {
	return s == StatusIdle || s == StatusReady || s == StatusFailed
}

// TaskType distinguishes a full rebuild from an incremental update.
type TaskType string

const (
	TaskFullBuild         TaskType = "full_build"
	TaskIncrementalUpdate TaskType = "incremental_update"
)

// KGState is the singleton graph state row.
type KGState struct {
	GraphName          string
	Status             Status
	LatestReadyVersion *string
	CurrentTaskID      *string
	UpdatedAt          time.Time
}

// KGTask is one record per trigger, keyed by its version.
type KGTask struct {
	TaskID      string
	Type        TaskType
	Version     string
	BaseVersion *string
	StartedAt   time.Time
	FinishedAt  *time.Time
	Progress    int
	Error       string
}

// Done reports whether the task has reached a terminal state.
func (t *KGTask) Done() bool {
	return t.FinishedAt != nil
}

// Node is a single graph entity tagged with the version that wrote it.
type Node struct {
	KGVersion   string
	EntityLabel string
	Name        string
	Properties  map[string]any
}

// Edge is a single graph relation tagged with the version that wrote it.
// Source and Target are the Name of their respective endpoint Node.
type Edge struct {
	KGVersion  string
	Source     string
	Target     string
	Predicate  string
	Properties map[string]any
}

// Well-known edge property keys.
const (
	PropAtomicFacts = "atomic_facts"
	PropTObs        = "t_obs"
	PropTStart      = "t_start"
	PropTEnd        = "t_end"
	PropEmbeddings  = "embeddings"
)

// KnowledgeGraph is the extractor's output and the shape GraphStore reads
// a full version back into for use as an incremental build's base graph.
type KnowledgeGraph struct {
	Nodes []Node
	Edges []Edge
}

// Stats summarizes one version of the graph.
type Stats struct {
	EntityCount   int
	RelationCount int
	NodeTypeCount int
}

// SubgraphResult is the shared shape for FullGraph and Subgraph reads.
type SubgraphResult struct {
	Nodes     []Node
	Edges     []Edge
	Truncated bool
}
