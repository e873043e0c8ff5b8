package watcher

import (
	"time"

	"github.com/alucardeht/scss-lsp/internal/index"
)

type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
	EventRename
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	case EventRename:
		return "rename"
	default:
		return "unknown"
	}
}

type FileEvent struct {
	Path      string
	Type      EventType
	Timestamp time.Time
}

// merge folds a later event for the same path into an earlier one. A file
// created and then written inside one window is still new.
func merge(earlier, later FileEvent) FileEvent {
	if earlier.Type == EventCreate && later.Type == EventModify {
		later.Type = EventCreate
	}
	return later
}

// ClassifyBatch picks the indexing priority for a flushed batch: a save in the
// editor comes in alone, a branch checkout touches many files at once.
func ClassifyBatch(events []FileEvent) index.JobPriority {
	switch count := len(events); {
	case count > 10:
		return index.PriorityLow
	case count >= 3:
		return index.PriorityNormal
	default:
		return index.PriorityHigh
	}
}
