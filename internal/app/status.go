package app

import (
	"time"

	"chanwatch/internal/monitor"
	"chanwatch/internal/transport"
)

// Status is the document served on the debug /status endpoint.
type Status struct {
	State           string                        `json:"state"`
	NextRun         time.Time                     `json:"next_run,omitzero"`
	Rounds          uint64                        `json:"rounds"`
	Cursors         map[string]time.Time          `json:"cursors,omitempty"`
	AuthorsSeen     int                           `json:"authors_seen"`
	Holds           map[string]time.Time          `json:"holds,omitempty"`
	JournalAppended uint64                        `json:"journal_appended"`
	Chats           map[string]transport.ChatInfo `json:"chats,omitempty"`
}

type statusSource interface {
	State() monitor.State
	NextRun() time.Time
	Rounds() uint64
	Snapshot() *monitor.Snapshot
	Holds() map[string]time.Time
}

func buildStatus(mon statusSource, appended uint64, chats map[string]transport.ChatInfo) Status {
	st := Status{
		State:           mon.State().String(),
		NextRun:         mon.NextRun(),
		Rounds:          mon.Rounds(),
		Holds:           mon.Holds(),
		JournalAppended: appended,
		Chats:           chats,
	}
	if snap := mon.Snapshot(); snap != nil {
		st.Cursors = snap.Cursors
		st.AuthorsSeen = snap.AuthorCount()
	}
	return st
}
