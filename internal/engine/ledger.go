package engine

import "time"

// StalenessWindow bounds how long a local optimistic write is protected
// from being overwritten by an incoming snapshot. After it elapses the
// server version wins even without a fresh local write.
const StalenessWindow = 10 * time.Second

// DirtyLedger tracks token ids with pending local optimistic writes,
// each paired with the time of the most recent write. It is ephemeral
// client-side state and is never serialized.
type DirtyLedger struct {
	marks map[string]time.Time
}

func NewDirtyLedger() *DirtyLedger {
	return &DirtyLedger{marks: make(map[string]time.Time)}
}

// Mark records (or re-arms) a pending write for id.
func (l *DirtyLedger) Mark(id string, now time.Time) {
	if id == "" {
		return
	}
	l.marks[id] = now
}

// Forget drops the entry for id, e.g. when the token is removed.
func (l *DirtyLedger) Forget(id string) {
	delete(l.marks, id)
}

// IsActive reports whether id has a non-expired pending write.
func (l *DirtyLedger) IsActive(id string, now time.Time) bool {
	mark, ok := l.marks[id]
	return ok && now.Sub(mark) < StalenessWindow
}

// Prune removes expired entries and returns the set of ids that remain
// active at now.
func (l *DirtyLedger) Prune(now time.Time) map[string]bool {
	active := make(map[string]bool, len(l.marks))
	for id, mark := range l.marks {
		if now.Sub(mark) >= StalenessWindow {
			delete(l.marks, id)
			continue
		}
		active[id] = true
	}
	return active
}

// Len reports the number of tracked entries, expired or not.
func (l *DirtyLedger) Len() int { return len(l.marks) }
