package models

// ProgressVersion is the current schema version of the persisted progress
// record. Records carrying any other version are discarded on read.
const ProgressVersion = 1

// Progress records which roles have completed or dismissed their tour. Each
// map holds role -> RFC 3339 timestamp of the last occurrence; absence means
// the state was never reached.
type Progress struct {
	Version         int             `json:"version"`
	CompletedByRole map[Role]string `json:"completedByRole"`
	DismissedByRole map[Role]string `json:"dismissedByRole"`
}

// NewProgress returns an empty record of the current version.
func NewProgress() Progress {
	return Progress{
		Version:         ProgressVersion,
		CompletedByRole: map[Role]string{},
		DismissedByRole: map[Role]string{},
	}
}

// Seen reports whether role reached either terminal state. Both maps may
// carry the role at once; either one forbids auto-start.
func (p Progress) Seen(role Role) bool {
	if _, ok := p.CompletedByRole[role]; ok {
		return true
	}
	_, ok := p.DismissedByRole[role]
	return ok
}

// Clone returns a deep copy of p.
func (p Progress) Clone() Progress {
	out := Progress{
		Version:         p.Version,
		CompletedByRole: make(map[Role]string, len(p.CompletedByRole)),
		DismissedByRole: make(map[Role]string, len(p.DismissedByRole)),
	}
	for k, v := range p.CompletedByRole {
		out.CompletedByRole[k] = v
	}
	for k, v := range p.DismissedByRole {
		out.DismissedByRole[k] = v
	}
	return out
}
