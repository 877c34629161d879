package types

import (
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrFalsePositiveClosed is returned when a save would persist a closed
// false-positive ticket. False-positive tickets are always open.
var ErrFalsePositiveClosed = errors.New("a ticket marked as a false positive cannot be closed")

// Detail keys shared by the ticket managers.
const (
	DetailCVE         = "cve"
	DetailScoreSource = "score_source"
	DetailCVSSScore   = "cvss_base_score"
	DetailSeverity    = "severity"
	DetailName        = "name"
	DetailService     = "service"
)

// EventDelta records one changed key inside a CHANGED event.
type EventDelta struct {
	Key  string `bson:"key" json:"key"`
	From any    `bson:"from" json:"from"`
	To   any    `bson:"to" json:"to"`
}

// TicketEvent is one entry of a ticket's append-only event list.
type TicketEvent struct {
	Time      time.Time           `bson:"time" json:"time"`
	Action    TicketAction        `bson:"action" json:"action"`
	Reason    string              `bson:"reason" json:"reason"`
	Reference *primitive.ObjectID `bson:"reference" json:"reference"`
	Delta     []EventDelta        `bson:"delta,omitempty" json:"delta,omitempty"`
	Expires   *time.Time          `bson:"expires,omitempty" json:"expires,omitempty"`
	Manual    bool                `bson:"manual,omitempty" json:"manual,omitempty"`
}

// TicketKey is the logical identity of a finding. At most one open ticket
// exists per key.
type TicketKey struct {
	IPInt    int64  `bson:"ip_int"`
	Port     int    `bson:"port"`
	Protocol string `bson:"protocol"`
	Source   string `bson:"source"`
	SourceID int    `bson:"source_id"`
}

// Ticket is a durable record of a single finding with a lifecycle.
type Ticket struct {
	ID            primitive.ObjectID   `bson:"_id" json:"_id"`
	IPInt         int64                `bson:"ip_int" json:"ip_int"`
	IP            string               `bson:"ip" json:"ip"`
	Port          int                  `bson:"port" json:"port"`
	Protocol      string               `bson:"protocol" json:"protocol"`
	Source        string               `bson:"source" json:"source"`
	SourceID      int                  `bson:"source_id" json:"source_id"`
	Owner         string               `bson:"owner" json:"owner"`
	Open          bool                 `bson:"open" json:"open"`
	FalsePositive bool                 `bson:"false_positive" json:"false_positive"`
	TimeOpened    time.Time            `bson:"time_opened" json:"time_opened"`
	TimeClosed    *time.Time           `bson:"time_closed" json:"time_closed"`
	LastChange    time.Time            `bson:"last_change" json:"last_change"`
	Details       map[string]any       `bson:"details" json:"details"`
	Events        []TicketEvent        `bson:"events" json:"events"`
	Loc           []float64            `bson:"loc,omitempty" json:"loc,omitempty"`
	Snapshots     []primitive.ObjectID `bson:"snapshots,omitempty" json:"snapshots,omitempty"`
}

// Key returns the ticket's logical identity.
func (t *Ticket) Key() TicketKey {
	return TicketKey{
		IPInt:    t.IPInt,
		Port:     t.Port,
		Protocol: t.Protocol,
		Source:   t.Source,
		SourceID: t.SourceID,
	}
}

// CheckInvariants validates the constraints every save must uphold.
func (t *Ticket) CheckInvariants() error {
	if t.FalsePositive && !t.Open {
		return ErrFalsePositiveClosed
	}
	if t.Open && t.TimeClosed != nil {
		return fmt.Errorf("open ticket %s has a time_closed", t.ID.Hex())
	}
	return nil
}

// AddEvent appends an event to the ticket. The action must be a member of
// the ticket event enumeration.
func (t *Ticket) AddEvent(ev TicketEvent) error {
	if !ev.Action.Valid() {
		return fmt.Errorf("invalid action %q cannot be added to ticket events", ev.Action)
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	t.Events = append(t.Events, ev)
	return nil
}

// SetFalsePositive flips the false-positive flag, appending the CHANGED
// event (with an expiration when setting) and reopening the ticket if needed.
// expireDays only applies when newState is true.
func (t *Ticket) SetFalsePositive(newState bool, reason string, expireDays int) {
	if t.FalsePositive == newState {
		return
	}
	delta := []EventDelta{{Key: "false_positive", From: t.FalsePositive, To: newState}}
	t.FalsePositive = newState
	now := time.Now().UTC()
	var expires *time.Time
	if newState {
		e := now.AddDate(0, 0, expireDays)
		expires = &e
		if !t.Open {
			// false positive tickets must stay open
			t.Open = true
			t.TimeClosed = nil
			_ = t.AddEvent(TicketEvent{Time: now, Action: TicketReopened, Reason: "setting false positive"})
		}
	}
	_ = t.AddEvent(TicketEvent{Time: now, Action: TicketChanged, Reason: reason, Delta: delta, Expires: expires})
}

// FalsePositiveDates returns the effective and expiration times of the most
// recent false-positive flip. Both are nil when the ticket is not currently
// marked as a false positive.
func (t *Ticket) FalsePositiveDates() (effective, expires *time.Time) {
	if !t.FalsePositive {
		return nil, nil
	}
	for i := len(t.Events) - 1; i >= 0; i-- {
		ev := t.Events[i]
		if ev.Action != TicketChanged {
			continue
		}
		for _, d := range ev.Delta {
			if d.Key == "false_positive" {
				tm := ev.Time
				return &tm, ev.Expires
			}
		}
	}
	return nil, nil
}

// LastDetectionDate is the time of the most recent event showing the finding
// was actually observed. Falls back to time_opened.
func (t *Ticket) LastDetectionDate() time.Time {
	for i := len(t.Events) - 1; i >= 0; i-- {
		switch t.Events[i].Action {
		case TicketOpened, TicketVerified, TicketReopened:
			return t.Events[i].Time
		}
	}
	return t.TimeOpened
}

// LastReference returns the scan document referenced by the most recent
// event that carries one.
func (t *Ticket) LastReference() (primitive.ObjectID, time.Time, bool) {
	for i := len(t.Events) - 1; i >= 0; i-- {
		if ref := t.Events[i].Reference; ref != nil {
			return *ref, t.Events[i].Time, true
		}
	}
	return primitive.NilObjectID, time.Time{}, false
}

// Severity reads the severity detail, tolerating the numeric types the
// document store hands back.
func (t *Ticket) Severity() int {
	switch v := t.Details[DetailSeverity].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// CVSSScore reads the cvss_base_score detail.
func (t *Ticket) CVSSScore() float64 {
	switch v := t.Details[DetailCVSSScore].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
