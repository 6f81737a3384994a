package planner

import (
	"sort"

	"github.com/yuya-takeyama/lansync/internal/walker"
	"github.com/yuya-takeyama/lansync/pkg/manifest"
)

// Compare computes what the local tree needs to match remote. Content is
// compared by hash only.
func Compare(remote, local manifest.Manifest, opts Options) (Plan, error) {
	plan := NewPlan()

	if opts.DeleteEnabled && !opts.AllowWipe && len(remote) == 0 && len(local) > 0 {
		return plan, ErrWipeNotConfirmed
	}

	var downloads, deletes []Item

	for path, remoteEntry := range remote {
		localEntry, exists := local[path]
		switch {
		case !exists:
			downloads = append(downloads, downloadItem(path, remoteEntry, ReasonNew))
		case localEntry.Hash != remoteEntry.Hash:
			downloads = append(downloads, downloadItem(path, remoteEntry, ReasonChanged))
		default:
			continue
		}
		plan.ToDownload.Add(path)
	}

	if opts.DeleteEnabled {
		for path, localEntry := range local {
			if _, exists := remote[path]; exists {
				continue
			}
			plan.ToDelete.Add(path)
			deletes = append(deletes, Item{
				Action: ActionDelete,
				Path:   path,
				Size:   localEntry.Size,
				Hash:   localEntry.Hash,
				Reason: ReasonRemoved,
			})
		}
	}

	sortItems(deletes)
	sortItems(downloads)
	plan.items = append(deletes, downloads...)

	return plan, nil
}

// Filter returns the entries of m allowed by f. Both sides of a comparison
// must be filtered the same way so that excluded paths are never deleted.
func Filter(m manifest.Manifest, f walker.Filter) manifest.Manifest {
	if len(f.Excludes) == 0 && len(f.Includes) == 0 {
		return m
	}
	return Without(m, func(path string) bool { return !f.Allows(path) })
}

// Without returns the entries of m for which ignored is false.
func Without(m manifest.Manifest, ignored func(path string) bool) manifest.Manifest {
	kept := make(manifest.Manifest, len(m))
	for path, entry := range m {
		if !ignored(path) {
			kept[path] = entry
		}
	}
	return kept
}

func downloadItem(path string, e manifest.Entry, reason string) Item {
	return Item{
		Action: ActionDownload,
		Path:   path,
		Size:   e.Size,
		Hash:   e.Hash,
		Reason: reason,
	}
}

func sortItems(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].Path < items[j].Path
	})
}
