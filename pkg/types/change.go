package types

// ChangeType mirrors the trigger operation that produced a change event.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is one row-level change on the players table.
//
//	INSERT: new
//	UPDATE: new, old (old may be absent)
//	DELETE: old
type ChangeEvent struct {
	Type ChangeType `json:"type"`
	New  *Player    `json:"new,omitempty"`
	Old  *Player    `json:"old,omitempty"`
}

// PlayerID returns the id the event refers to, or "" if the event carries
// no usable row image.
func (e ChangeEvent) PlayerID() string {
	switch e.Type {
	case ChangeDelete:
		if e.Old != nil {
			return e.Old.ID
		}
	default:
		if e.New != nil {
			return e.New.ID
		}
	}
	return ""
}
