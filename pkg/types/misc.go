package types

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SystemControl is an operator request (pause/stop) with completion flag.
// The issuer polls the document until the orchestrator acknowledges it.
type SystemControl struct {
	ID        string        `bson:"_id" json:"_id"`
	Action    ControlAction `bson:"action" json:"action"`
	Sender    string        `bson:"sender" json:"sender"`
	Target    ControlTarget `bson:"target" json:"target"`
	Reason    string        `bson:"reason" json:"reason"`
	Time      time.Time     `bson:"time" json:"time"`
	Completed bool          `bson:"completed" json:"completed"`
}

// CVE is an NVD record used to override scanner-supplied scores.
type CVE struct {
	ID          string  `bson:"_id" json:"_id"`
	CVSSScore   float64 `bson:"cvss_score" json:"cvss_score"`
	CVSSVersion string  `bson:"cvss_version" json:"cvss_version"`
	Severity    int     `bson:"severity" json:"severity"`
}

// DeriveSeverity recomputes the severity band from the score and CVSS
// version (https://nvd.nist.gov/vuln-metrics/cvss).
func (c *CVE) DeriveSeverity() {
	score := c.CVSSScore
	switch c.CVSSVersion {
	case "2.0":
		switch {
		case score == 10:
			c.Severity = 4
		case score >= 7.0:
			c.Severity = 3
		case score >= 4.0:
			c.Severity = 2
		default:
			c.Severity = 1
		}
	case "3.0", "3.1":
		switch {
		case score >= 9.0:
			c.Severity = 4
		case score >= 7.0:
			c.Severity = 3
		case score >= 4.0:
			c.Severity = 2
		default:
			c.Severity = 1
		}
	}
}

// Notification marks a ticket for inclusion in owner notification reports.
// GeneratedFor records which owners' reports already used it.
type Notification struct {
	ID           primitive.ObjectID `bson:"_id" json:"_id"`
	TicketID     primitive.ObjectID `bson:"ticket_id" json:"ticket_id"`
	TicketOwner  string             `bson:"ticket_owner" json:"ticket_owner"`
	GeneratedFor []string           `bson:"generated_for" json:"generated_for"`
}

// Report records a produced report and the snapshots it covered.
type Report struct {
	ID            primitive.ObjectID   `bson:"_id" json:"_id"`
	Owner         string               `bson:"owner" json:"owner"`
	GeneratedTime time.Time            `bson:"generated_time" json:"generated_time"`
	SnapshotOIDs  []primitive.ObjectID `bson:"snapshot_oid,omitempty" json:"snapshot_oid,omitempty"`
	ReportTypes   []string             `bson:"report_types" json:"report_types"`
}
