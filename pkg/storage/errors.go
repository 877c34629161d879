package storage

import (
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrNotFound is returned when a lookup matches no document.
var ErrNotFound = errors.New("document not found")

// ErrDuplicate is returned when a create would collide with an existing id.
var ErrDuplicate = errors.New("document already exists")

// PortScanNotFoundError reports a ticket event referencing a port-scan
// document that has been archived or deleted.
type PortScanNotFoundError struct {
	TicketID primitive.ObjectID
	ScanID   primitive.ObjectID
	ScanTime time.Time
}

func (e *PortScanNotFoundError) Error() string {
	return fmt.Sprintf("ticket %s references missing port scan %s (referenced at %s)",
		e.TicketID.Hex(), e.ScanID.Hex(), e.ScanTime.Format(time.RFC3339))
}

// VulnScanNotFoundError reports a ticket event referencing a vuln-scan
// document that has been archived or deleted.
type VulnScanNotFoundError struct {
	TicketID primitive.ObjectID
	ScanID   primitive.ObjectID
	ScanTime time.Time
}

func (e *VulnScanNotFoundError) Error() string {
	return fmt.Sprintf("ticket %s references missing vuln scan %s (referenced at %s)",
		e.TicketID.Hex(), e.ScanID.Hex(), e.ScanTime.Format(time.RFC3339))
}
