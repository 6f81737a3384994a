package planner

import (
	"errors"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// ErrWipeNotConfirmed is returned when mirroring an empty remote would delete
// every local file and the caller did not allow it.
var ErrWipeNotConfirmed = errors.New("remote manifest is empty; refusing to delete all local files without --allow-wipe")

type Options struct {
	DeleteEnabled bool
	AllowWipe     bool
}

type Action string

const (
	ActionDownload Action = "download"
	ActionDelete   Action = "delete"
)

// Reasons attached to plan items.
const (
	ReasonNew     = "new file"
	ReasonChanged = "checksum differs"
	ReasonRemoved = "not on server"
)

type Item struct {
	Action Action `json:"action"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Hash   string `json:"hash,omitempty"`
	Reason string `json:"reason"`
}

// Plan is the set of actions that turns a local tree into the remote one.
type Plan struct {
	ToDownload mapset.Set[string]
	ToDelete   mapset.Set[string]
	items      []Item
}

// NewPlan returns an empty plan.
func NewPlan() Plan {
	return Plan{
		ToDownload: mapset.NewThreadUnsafeSet[string](),
		ToDelete:   mapset.NewThreadUnsafeSet[string](),
	}
}

// Downloads returns the paths to fetch in execution order.
func (p Plan) Downloads() []string {
	return sorted(p.ToDownload)
}

// Deletes returns the paths to remove in execution order.
func (p Plan) Deletes() []string {
	return sorted(p.ToDelete)
}

// Empty reports whether the plan has nothing to do.
func (p Plan) Empty() bool {
	return cardinality(p.ToDownload) == 0 && cardinality(p.ToDelete) == 0
}

// Items returns one entry per planned action, deletes first, each group
// sorted by path.
func (p Plan) Items() []Item {
	return append([]Item(nil), p.items...)
}

func cardinality(s mapset.Set[string]) int {
	if s == nil {
		return 0
	}
	return s.Cardinality()
}

func sorted(s mapset.Set[string]) []string {
	if s == nil {
		return nil
	}
	paths := s.ToSlice()
	sort.Strings(paths)
	return paths
}
