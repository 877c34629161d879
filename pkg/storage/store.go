package storage

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/vigilsec/vigil/pkg/types"
)

// Collection names.
const (
	CollectionHosts         = "hosts"
	CollectionHostScans     = "host_scans"
	CollectionPortScans     = "port_scans"
	CollectionVulnScans     = "vuln_scans"
	CollectionTickets       = "tickets"
	CollectionTallies       = "tallies"
	CollectionRequests      = "requests"
	CollectionSnapshots     = "snapshots"
	CollectionReports       = "reports"
	CollectionCVEs          = "cves"
	CollectionKEVs          = "kevs"
	CollectionPlaces        = "places"
	CollectionNotifications = "notifications"
	CollectionControl       = "control"
	CollectionScorecards    = "scorecards"
	CollectionNewHire       = "new_hire"
)

// TicketScope filters open tickets for the ticket managers' closing pass.
// Nil slices leave that dimension unfiltered. UDPOrPort widens the port
// filter to also match UDP tickets regardless of port.
type TicketScope struct {
	Source       string
	IPInts       []int64
	Ports        []int
	ExcludePorts []int
	Protocols    []string
	SourceIDs    []int
	UDPOrPort    bool
}

// HostStore persists hosts and serves the balancer and sweep queries.
type HostStore interface {
	SaveHost(ctx context.Context, h *types.Host) error
	GetHost(ctx context.Context, id int64) (*types.Host, error)
	DeleteHost(ctx context.Context, id int64) error

	// HostsByStageStatus returns an owner's hosts in one (stage, status)
	// cell ordered by (priority, r); descending reverses the order. A
	// limit of 0 means no limit.
	HostsByStageStatus(ctx context.Context, owner string, stage types.Stage, status types.Status, descending bool, limit int) ([]*types.Host, error)

	// ClaimableHosts returns hosts of the given owners in the stage whose
	// status is one of statuses, ordered by (priority, r).
	ClaimableHosts(ctx context.Context, stage types.Stage, statuses []types.Status, owners []string, limit int) ([]*types.Host, error)

	// ScheduledHosts returns DONE hosts whose next_scan is on or before
	// due, ordered by next_scan.
	ScheduledHosts(ctx context.Context, due time.Time, limit int) ([]*types.Host, error)

	// HostsMissingNextScan returns an owner's DONE hosts with no next_scan.
	HostsMissingNextScan(ctx context.Context, owner string, limit int) ([]*types.Host, error)

	// ClearNextScans unsets next_scan on all of an owner's hosts.
	ClearNextScans(ctx context.Context, owner string) (int64, error)

	// ResetHostsByOwner moves every host of the owner to (stage, WAITING).
	ResetHostsByOwner(ctx context.Context, owner string, stage types.Stage) (int64, error)

	// RequeueRunningHosts moves RUNNING hosts back to WAITING. An empty
	// owner requeues across all owners.
	RequeueRunningHosts(ctx context.Context, owner string) (int64, error)

	// ReassignHostOwner rewrites owner on hosts with id in [low, high].
	ReassignHostOwner(ctx context.Context, low, high int64, newOwner string) (int64, error)

	// CountHostsByStageStatus recounts an owner's hosts per (stage, status).
	CountHostsByStageStatus(ctx context.Context, owner string) (map[types.Stage]map[types.Status]int, error)

	// HostTimespan returns min/max last_change over the owners' hosts.
	// ok is false when the owners have no hosts.
	HostTimespan(ctx context.Context, owners []string) (start, end time.Time, ok bool, err error)
}

// TallyStore persists the per-owner (stage, status) count matrices.
type TallyStore interface {
	SaveTally(ctx context.Context, t *types.Tally) error
	GetTally(ctx context.Context, owner string) (*types.Tally, error)
	DeleteTally(ctx context.Context, owner string) error
	TalliesChangedSince(ctx context.Context, since time.Time) ([]*types.Tally, error)
}

// RequestStore persists the standing scan requests.
type RequestStore interface {
	SaveRequest(ctx context.Context, r *types.Request) error
	GetRequest(ctx context.Context, owner string) (*types.Request, error)
	DeleteRequest(ctx context.Context, owner string) error
	ListRequests(ctx context.Context) ([]*types.Request, error)
	RequestIDs(ctx context.Context) ([]string, error)
	// ParentRequests returns requests listing the owner as a child.
	ParentRequests(ctx context.Context, child string) ([]*types.Request, error)
}

// TicketStore persists tickets and serves the lifecycle queries.
type TicketStore interface {
	// SaveTicket upserts a ticket after checking its invariants.
	SaveTicket(ctx context.Context, t *types.Ticket) error
	GetTicket(ctx context.Context, id primitive.ObjectID) (*types.Ticket, error)

	// FindOpenTicket returns the one open ticket with this logical key,
	// or ErrNotFound.
	FindOpenTicket(ctx context.Context, key types.TicketKey) (*types.Ticket, error)

	// FindRecentlyClosedTicket returns a ticket with this key closed
	// after the cutoff, or ErrNotFound.
	FindRecentlyClosedTicket(ctx context.Context, key types.TicketKey, closedAfter time.Time) (*types.Ticket, error)

	// OpenTicketsInScope returns open tickets matching the scope.
	OpenTicketsInScope(ctx context.Context, scope TicketScope) ([]*types.Ticket, error)

	// MaxOpenSeverity returns the highest severity among open,
	// non-false-positive tickets for the address, 0 when there are none.
	MaxOpenSeverity(ctx context.Context, ipInt int64) (int, error)

	// ExpiredFalsePositives returns false-positive tickets whose latest
	// expiration is on or before now.
	ExpiredFalsePositives(ctx context.Context, now time.Time) ([]*types.Ticket, error)

	// TicketsInIPRange returns tickets with ip_int in [low, high].
	TicketsInIPRange(ctx context.Context, low, high int64) ([]*types.Ticket, error)
}

// ScanStore persists the scan document families.
type ScanStore interface {
	SaveHostScan(ctx context.Context, s *types.HostScan) error
	SavePortScan(ctx context.Context, s *types.PortScan) error
	SaveVulnScan(ctx context.Context, s *types.VulnScan) error
	GetPortScan(ctx context.Context, id primitive.ObjectID) (*types.PortScan, error)
	GetVulnScan(ctx context.Context, id primitive.ObjectID) (*types.VulnScan, error)

	// RetireLatestVulnScans clears latest on the address's vuln documents,
	// keeping those on the listed ports. A nil keepPorts retires them all.
	RetireLatestVulnScans(ctx context.Context, ipInt int64, keepPorts []int) (int64, error)

	// RetireLatestVulnScansForIPs clears latest across many addresses.
	RetireLatestVulnScansForIPs(ctx context.Context, ipInts []int64) (int64, error)

	// RetireLatestVulnScansInScope clears latest on vuln documents a
	// fresh vulnerability scan supersedes: source matches, address and
	// port and plugin id inside the scope.
	RetireLatestVulnScansInScope(ctx context.Context, scope TicketScope) (int64, error)

	// ReassignScanOwner rewrites owner on host/port/vuln scan documents
	// with ip_int in [low, high]. Returns modified counts per collection.
	ReassignScanOwner(ctx context.Context, low, high int64, newOwner string) (map[string]int64, error)

	// RenameOwner rewrites the owner string across hosts, scan documents,
	// snapshots, reports, and tickets, pushing the given event onto every
	// renamed ticket. Returns modified counts per collection.
	RenameOwner(ctx context.Context, oldOwner, newOwner string, ticketEvent types.TicketEvent) (map[string]int64, error)
}

// SnapshotStore persists snapshots and runs the tagging passes.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, s *types.Snapshot) error
	GetSnapshot(ctx context.Context, id primitive.ObjectID) (*types.Snapshot, error)
	DeleteSnapshot(ctx context.Context, id primitive.ObjectID) error
	LatestSnapshot(ctx context.Context, owner string) (*types.Snapshot, error)
	// ClearLatestSnapshot drops the latest flag from the owner's snapshots.
	ClearLatestSnapshot(ctx context.Context, owner string) error
	// SnapshotExists reports whether another snapshot occupies
	// (owner, start, end).
	SnapshotExists(ctx context.Context, owner string, start, end time.Time, excludeID primitive.ObjectID) (bool, error)

	// TagLatest stamps the oid onto the owners' current documents: latest
	// host scans, latest open-state port scans, latest vuln scans, and
	// open tickets.
	TagLatest(ctx context.Context, owners []string, oid primitive.ObjectID) error
	// TagMatching stamps the oid onto documents already tagged with any of
	// the existing snapshot oids.
	TagMatching(ctx context.Context, existing []primitive.ObjectID, oid primitive.ObjectID) error
	// TagTimespan stamps the oid onto the owners' scan documents with time
	// inside [start, end] and tickets open during it.
	TagTimespan(ctx context.Context, owners []string, oid primitive.ObjectID, start, end time.Time) error
	// RemoveTag pulls the oid back out of every tagged document.
	RemoveTag(ctx context.Context, oid primitive.ObjectID) error

	// ScanTimespan returns min/max time over scan documents tagged with
	// the oid. ok is false when nothing is tagged.
	ScanTimespan(ctx context.Context, oid primitive.ObjectID) (start, end time.Time, ok bool, err error)
}

// SnapshotAggregator runs the snapshot metric aggregations. Implementations
// may push these to the database or compute them client side.
type SnapshotAggregator interface {
	CountAddressesScanned(ctx context.Context, owners []string) (int, error)
	CountUpHosts(ctx context.Context, owners []string) (int, error)
	// CountVulnerableHosts counts distinct addresses over non-false-positive
	// tickets tagged with the oid.
	CountVulnerableHosts(ctx context.Context, oid primitive.ObjectID) (int, error)
	CountUniqueOperatingSystems(ctx context.Context, oid primitive.ObjectID) (int, error)
	// PortCounts returns distinct (ip, port) and distinct port counts over
	// port scans tagged with the oid.
	PortCounts(ctx context.Context, oid primitive.ObjectID) (portCount, uniquePortCount int, err error)
	CountSilentPorts(ctx context.Context, owners []string) (int, error)
	// TicketSeverityCounts buckets tagged tickets by severity: all
	// non-false-positives, unique by (source_id, severity), and false
	// positives.
	TicketSeverityCounts(ctx context.Context, oid primitive.ObjectID) (all, unique, falsePositives types.SeverityCounts, err error)
	// ServiceCounts counts distinct (ip, port) per service name over port
	// scans tagged with the oid, dropping unknown services.
	ServiceCounts(ctx context.Context, oid primitive.ObjectID) (map[string]int, error)
	// CVSSSum sums each vulnerable host's maximum score over its tagged
	// non-false-positive tickets.
	CVSSSum(ctx context.Context, oid primitive.ObjectID) (float64, error)
	// OpenTicketAgeStats returns median/max of now-time_opened per severity
	// over open non-false-positive tickets tagged with the oid.
	OpenTicketAgeStats(ctx context.Context, oid primitive.ObjectID, now time.Time) (types.TicketAgeBuckets, error)
	// ClosedTicketAgeStats returns median/max of time_closed-time_opened
	// per severity over the owners' tickets closed after the cutoff.
	ClosedTicketAgeStats(ctx context.Context, owners []string, closedAfter time.Time) (types.TicketAgeBuckets, error)
	// WorldStatistics aggregates across all latest root snapshots not
	// excluded from world stats.
	WorldStatistics(ctx context.Context) (types.WorldStats, error)
}

// CVEStore persists NVD records used for score overrides.
type CVEStore interface {
	// SaveCVE derives the severity band before persisting.
	SaveCVE(ctx context.Context, c *types.CVE) error
	GetCVE(ctx context.Context, id string) (*types.CVE, error)
}

// NotificationStore persists ticket notification markers.
type NotificationStore interface {
	SaveNotification(ctx context.Context, n *types.Notification) error
	NotificationsForTicket(ctx context.Context, ticketID primitive.ObjectID) ([]*types.Notification, error)
}

// ControlStore persists operator pause/stop requests.
type ControlStore interface {
	SaveControl(ctx context.Context, c *types.SystemControl) error
	GetControl(ctx context.Context, id string) (*types.SystemControl, error)
	// DeleteControl withdraws a request; issuers use it to cancel a
	// pause that was never acknowledged.
	DeleteControl(ctx context.Context, id string) error
	// OpenControlRequests returns incomplete requests with the given
	// action aimed at the target.
	OpenControlRequests(ctx context.Context, action types.ControlAction, target types.ControlTarget) ([]*types.SystemControl, error)
}

// Store is the complete state storage contract.
type Store interface {
	HostStore
	TallyStore
	RequestStore
	TicketStore
	ScanStore
	SnapshotStore
	SnapshotAggregator
	CVEStore
	NotificationStore
	ControlStore

	// EnsureIndices creates the collection indices, in the background
	// unless foreground is set.
	EnsureIndices(ctx context.Context, foreground bool) error
	Close(ctx context.Context) error
}
