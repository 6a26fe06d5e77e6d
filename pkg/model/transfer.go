package model

import (
	"time"

	"github.com/google/uuid"
)

// Transfer is the outcome of one orchestration unit. It is appended to the
// results log once the unit reaches a terminal state.
type Transfer struct {
	ID          uuid.UUID `json:"id"`          // correlation ID of the unit
	Username    string    `json:"username"`    // requester identity
	TorrentID   string    `json:"torrentId"`   // credential name and in-flight key
	ContentPath string    `json:"contentPath"` // remote path that was pulled
	State       string    `json:"state"`       // terminal state: revoked or aborted
	Started     time.Time `json:"started"`
	Ended       time.Time `json:"ended"`
	Elapsed     int       `json:"elapsed,string"` // transfer command wall time in milliseconds
	Error       Error     `json:"error"`
}
