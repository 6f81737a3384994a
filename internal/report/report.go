package report

import (
	"path"
	"path/filepath"

	"github.com/yuya-takeyama/lansync/pkg/executor"
	"github.com/yuya-takeyama/lansync/pkg/planner"
)

type PlanResult struct {
	Files   []PlanFile  `json:"files"`
	Summary PlanSummary `json:"summary"`
}

type PlanFile struct {
	Action string `json:"action"` // "create", "update", "delete"
	Source string `json:"source,omitempty"`
	Target string `json:"target"`
	Size   int64  `json:"size,omitempty"`
	Reason string `json:"reason"`
}

type PlanSummary struct {
	Create int `json:"create"`
	Update int `json:"update"`
	Delete int `json:"delete"`
}

type SyncResult struct {
	Files   []ResultFile  `json:"files"`
	Errors  []ErrorFile   `json:"errors"`
	Summary ResultSummary `json:"summary"`
}

type ResultFile struct {
	Action string `json:"action"` // "created", "updated", "deleted"
	Source string `json:"source,omitempty"`
	Target string `json:"target"`
	Bytes  int64  `json:"bytes,omitempty"`
}

type ErrorFile struct {
	Action string `json:"action"` // "create", "update", "delete"
	Source string `json:"source,omitempty"`
	Target string `json:"target"`
	Error  string `json:"error"`
}

type ResultSummary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

// Locations names both ends of a sync in report entries.
type Locations struct {
	Server string // host:port
	Root   string // local share root
}

func (l Locations) source(rel string) string {
	return "lansync://" + path.Join(l.Server, rel)
}

func (l Locations) target(rel string) string {
	root := l.Root
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return filepath.Join(root, filepath.FromSlash(rel))
}

// NewPlanResult describes a plan before it runs.
func NewPlanResult(items []planner.Item, loc Locations) PlanResult {
	plan := PlanResult{Files: []PlanFile{}}

	for _, item := range items {
		switch item.Action {
		case planner.ActionDownload:
			action := actionName(item.Reason)
			plan.Files = append(plan.Files, PlanFile{
				Action: action,
				Source: loc.source(item.Path),
				Target: loc.target(item.Path),
				Size:   item.Size,
				Reason: item.Reason,
			})
			if action == "create" {
				plan.Summary.Create++
			} else {
				plan.Summary.Update++
			}
		case planner.ActionDelete:
			plan.Files = append(plan.Files, PlanFile{
				Action: "delete",
				Target: loc.target(item.Path),
				Reason: item.Reason,
			})
			plan.Summary.Delete++
		}
	}
	return plan
}

// NewSyncResult describes what executing a plan did.
func NewSyncResult(results []executor.Result, loc Locations) SyncResult {
	sync := SyncResult{
		Files:  []ResultFile{},
		Errors: []ErrorFile{},
	}

	for _, r := range results {
		item := r.Item
		if r.Error != nil {
			ef := ErrorFile{
				Action: "delete",
				Target: loc.target(item.Path),
				Error:  r.Error.Error(),
			}
			if item.Action == planner.ActionDownload {
				ef.Action = actionName(item.Reason)
				ef.Source = loc.source(item.Path)
			}
			sync.Errors = append(sync.Errors, ef)
			sync.Summary.Failed++
			continue
		}

		switch item.Action {
		case planner.ActionDownload:
			rf := ResultFile{
				Action: "updated",
				Source: loc.source(item.Path),
				Target: loc.target(item.Path),
				Bytes:  r.Bytes,
			}
			if actionName(item.Reason) == "create" {
				rf.Action = "created"
				sync.Summary.Created++
			} else {
				sync.Summary.Updated++
			}
			sync.Files = append(sync.Files, rf)
		case planner.ActionDelete:
			sync.Files = append(sync.Files, ResultFile{
				Action: "deleted",
				Target: loc.target(item.Path),
			})
			sync.Summary.Deleted++
		}
	}
	return sync
}

func actionName(reason string) string {
	if reason == planner.ReasonNew {
		return "create"
	}
	return "update"
}
