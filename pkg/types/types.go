// Package types defines the entities shared across the control plane:
// tasks, subtasks, nodes, streams and models. These are plain structs
// with ids — callers look up related entities on demand rather than
// holding an in-memory object graph.
package types

import "time"

// AnalysisKind is the top-level kind of analysis a Task performs.
type AnalysisKind int

const (
	AnalysisImage AnalysisKind = iota
	AnalysisVideo
	AnalysisStream
)

func (k AnalysisKind) String() string {
	switch k {
	case AnalysisImage:
		return "image"
	case AnalysisVideo:
		return "video"
	case AnalysisStream:
		return "stream"
	default:
		return "unknown"
	}
}

// SubTaskStatus is the lifecycle state of a SubTask (spec.md §3 invariant 1).
type SubTaskStatus int

const (
	StatusPending SubTaskStatus = iota
	StatusRunning
	StatusStopped
	StatusCompleted
	StatusError
)

func (s SubTaskStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// TaskStatus mirrors SubTaskStatus's numeric space; the derivation rule
// lives in pkg/taskstate (spec.md §3 invariant 2).
type TaskStatus = SubTaskStatus

// NodeStatus is the connectivity state of a worker node.
type NodeStatus string

const (
	NodeOnline  NodeStatus = "online"
	NodeOffline NodeStatus = "offline"
)

// SourceKind discriminates the Source sum type (spec.md §9, Open Question
// on "list of URLs vs single stream id" — resolved here as a sum type).
type SourceKind int

const (
	SourceImageBatch SourceKind = iota
	SourceVideoBatch
	SourceLiveStream
)

// Source is the input a SubTask analyzes: either a batch of image/video
// URLs or a reference to a registered Stream. Exactly one of URLs or
// StreamID is meaningful, selected by Kind.
type Source struct {
	Kind     SourceKind
	URLs     []string
	StreamID int64
}

// Task is a user-defined analysis job that fans out into one or more
// SubTasks (spec.md §3).
type Task struct {
	ID               int64
	Name             string
	Kind             AnalysisKind
	ModelIDs         []int64
	StreamIDs        []int64 // meaningful for Kind == AnalysisStream
	URLs             []string
	ConfigBlob       string
	SaveResult       bool
	SaveImages       bool
	AnalysisInterval int
	Status           TaskStatus
	ActiveSubtasks   int
	TotalSubtasks    int
	LastError        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SubTask is the atomic unit of dispatch: one (model, source) pair
// executed on one node (spec.md §3).
type SubTask struct {
	ID              int64
	TaskID          int64
	Kind            AnalysisKind
	ModelID         int64
	Source          Source
	AnalysisDetail  string // detection | segmentation | tracking | ...
	ConfigBlob      string
	Status          SubTaskStatus
	AssignedNodeID  int64 // 0 == unassigned
	WorkerSubtaskID string
	StartedAt       *time.Time
	CompletedAt     *time.Time
	LastError       string
	RetryCount      int
	CreatedAt       time.Time
}

// IsRunning reports whether the subtask currently occupies a node slot.
func (s *SubTask) IsRunning() bool { return s.Status == StatusRunning }

// Node is a registered analysis worker, keyed by MAC address
// (spec.md §3).
type Node struct {
	ID            int64
	MACAddress    string
	Hostname      string
	Address       string // host:port
	Capabilities  []string
	Status        NodeStatus
	LastHeartbeat time.Time
	TaskCounts    map[string]int // analysis kind -> running count
	CPUUsage      float64
	MemoryUsage   float64
	GPUUsage      float64
	HasGPU        bool
	MaxTasks      int
	Weight        float64
	Active        bool
	ClientID      string
	CreatedAt     time.Time
}

// SpareCapacity reports how many more subtasks of any kind this node
// can accept.
func (n *Node) SpareCapacity() int {
	used := 0
	for _, c := range n.TaskCounts {
		used += c
	}
	spare := n.MaxTasks - used
	if spare < 0 {
		return 0
	}
	return spare
}

// Eligible reports whether a subtask may be assigned to this node
// (spec.md §3 invariant 6).
func (n *Node) Eligible() bool {
	return n.Status == NodeOnline && n.Active && n.SpareCapacity() > 0
}

// Stream is a registered video-stream URL probed by the stream monitor.
type Stream struct {
	ID        int64
	URL       string
	Name      string
	Online    bool
	GroupRefs []string
	CreatedAt time.Time
}

// Model is a detection/segmentation model synced from the external
// marketplace.
type Model struct {
	ID         int64
	Code       string
	Version    string
	ClassCount int
	ClassNames map[int]string
	UpdatedAt  time.Time
}

// Event is a lightweight cluster event record (task, subtask and node
// ids plus a message). No package in this repository constructs or
// consumes it.
type Event struct {
	Type      string
	Timestamp time.Time
	TaskID    int64
	SubTaskID int64
	NodeID    int64
	Message   string
}
