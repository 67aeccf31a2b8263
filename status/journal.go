package status

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rustyeddy/straddle/journal"
	"github.com/rustyeddy/straddle/pkg/id"
)

// ActionRecorder is the part of a journal the action sink writes to.
type ActionRecorder interface {
	RecordAction(journal.ActionRecord) error
}

// Journal persists actions. Status, trading and heartbeat updates are
// transient and dropped.
type Journal struct {
	Nop
	rec       ActionRecorder
	sessionID string
	now       func() time.Time
}

func NewJournal(rec ActionRecorder, sessionID string) *Journal {
	return &Journal{rec: rec, sessionID: sessionID, now: time.Now}
}

func (j *Journal) Action(_ context.Context, action string, details map[string]any) {
	raw := "{}"
	if len(details) > 0 {
		b, err := json.Marshal(details)
		if err != nil {
			log.WithError(err).WithField("action", action).Warn("encode action details")
		} else {
			raw = string(b)
		}
	}
	err := j.rec.RecordAction(journal.ActionRecord{
		ID:        id.New(),
		SessionID: j.sessionID,
		Time:      j.now(),
		Action:    action,
		Details:   raw,
	})
	if err != nil {
		log.WithError(err).WithField("action", action).Warn("journal action")
	}
}
