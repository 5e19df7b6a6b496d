package watcher

import "github.com/fsnotify/fsnotify"

// Kind classifies a filesystem change on the watched file.
type Kind int

const (
	// Modified: file content changed (writes, and creates after rotation).
	Modified Kind = iota
	// AttributeChanged: metadata changed (chmod, chown, utimes).
	AttributeChanged
	// Deleted: the file itself was removed or renamed away.
	Deleted
)

func (k Kind) String() string {
	switch k {
	case Modified:
		return "modified"
	case AttributeChanged:
		return "attribute_changed"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is one classified change on the watched file.
type Event struct {
	Kind Kind
	Name string
}

// classify maps an fsnotify op mask onto the three kinds the monitor
// cares about. Ops can carry several bits; deletion wins over the rest
// because a deleted watch must be re-armed no matter what else happened.
// Returns false for ops we don't track.
func classify(ev fsnotify.Event) (Event, bool) {
	switch {
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		return Event{Kind: Deleted, Name: ev.Name}, true
	case ev.Op&fsnotify.Chmod != 0:
		return Event{Kind: AttributeChanged, Name: ev.Name}, true
	case ev.Op&(fsnotify.Write|fsnotify.Create) != 0:
		return Event{Kind: Modified, Name: ev.Name}, true
	default:
		return Event{}, false
	}
}
