package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/yuya-takeyama/lansync/pkg/executor"
	"github.com/yuya-takeyama/lansync/pkg/planner"
)

// Result describes what a sync session achieved.
type Result struct {
	Success      bool
	Cancelled    bool
	DryRun       bool
	Downloaded   int
	Deleted      int
	Failed       int
	DeleteFailed int
	Bytes        int64
	Duration     time.Duration
	Message      string

	Plan  planner.Plan
	Files []executor.Result
}

// Summary renders a one-line account of the session.
func (r Result) Summary() string {
	state := "sync complete"
	switch {
	case r.Cancelled:
		state = "sync cancelled"
	case r.DryRun:
		state = "dry run"
	case !r.Success:
		state = "sync failed"
	}

	if r.DryRun && !r.Cancelled {
		return fmt.Sprintf("%s: %d to download, %d to delete", state, len(r.Plan.Downloads()), len(r.Plan.Deletes()))
	}

	parts := []string{
		fmt.Sprintf("%d downloaded", r.Downloaded),
		fmt.Sprintf("%d deleted", r.Deleted),
	}
	if r.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", r.Failed))
	}
	if r.DeleteFailed > 0 {
		parts = append(parts, fmt.Sprintf("%d not deleted", r.DeleteFailed))
	}
	return state + ": " + strings.Join(parts, ", ")
}

func (r *Result) tally(files []executor.Result) {
	r.Files = files
	for _, f := range files {
		switch f.Item.Action {
		case planner.ActionDownload:
			if f.Error != nil {
				r.Failed++
				continue
			}
			r.Downloaded++
			r.Bytes += f.Bytes
		case planner.ActionDelete:
			if f.Error != nil {
				r.DeleteFailed++
				continue
			}
			r.Deleted++
		}
	}
}
