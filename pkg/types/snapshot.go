package types

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SeverityCounts buckets findings by severity.
type SeverityCounts struct {
	Critical int `bson:"critical" json:"critical"`
	High     int `bson:"high" json:"high"`
	Medium   int `bson:"medium" json:"medium"`
	Low      int `bson:"low" json:"low"`
	Total    int `bson:"total" json:"total"`
}

// Add accumulates another set of buckets.
func (s *SeverityCounts) Add(o SeverityCounts) {
	s.Critical += o.Critical
	s.High += o.High
	s.Medium += o.Medium
	s.Low += o.Low
	s.Total += o.Total
}

// AddSeverity increments the bucket for one finding of the given severity.
func (s *SeverityCounts) AddSeverity(severity int) {
	switch severity {
	case 1:
		s.Low++
	case 2:
		s.Medium++
	case 3:
		s.High++
	case 4:
		s.Critical++
	}
	s.Total++
}

// AgeStats holds median and max of a millisecond duration population.
// Both are nil when the population is empty.
type AgeStats struct {
	Median *int64 `bson:"median" json:"median"`
	Max    *int64 `bson:"max" json:"max"`
}

// TicketAgeBuckets carries per-severity ticket age statistics.
type TicketAgeBuckets struct {
	Critical AgeStats `bson:"critical" json:"critical"`
	High     AgeStats `bson:"high" json:"high"`
	Medium   AgeStats `bson:"medium" json:"medium"`
	Low      AgeStats `bson:"low" json:"low"`
}

// OpenTicketAge is the tix_msec_open section of a snapshot.
type OpenTicketAge struct {
	AsOfDate         time.Time `bson:"tix_open_as_of_date" json:"tix_open_as_of_date"`
	TicketAgeBuckets `bson:",inline"`
}

// ClosedTicketAge is the tix_msec_to_close section of a snapshot.
type ClosedTicketAge struct {
	ClosedAfterDate  time.Time `bson:"tix_closed_after_date" json:"tix_closed_after_date"`
	TicketAgeBuckets `bson:",inline"`
}

// WorldStats aggregates host and vulnerability counts across all owners'
// latest snapshots.
type WorldStats struct {
	HostCount             int            `bson:"host_count" json:"host_count"`
	VulnerableHostCount   int            `bson:"vulnerable_host_count" json:"vulnerable_host_count"`
	Vulnerabilities       SeverityCounts `bson:"vulnerabilities" json:"vulnerabilities"`
	UniqueVulnerabilities SeverityCounts `bson:"unique_vulnerabilities" json:"unique_vulnerabilities"`
}

// Snapshot is an immutable point-in-time aggregation for an owner and its
// included descendants. Unique by (owner, start_time, end_time).
type Snapshot struct {
	ID                     primitive.ObjectID   `bson:"_id" json:"_id"`
	Owner                  string               `bson:"owner" json:"owner"`
	DescendantsIncluded    []string             `bson:"descendants_included,omitempty" json:"descendants_included,omitempty"`
	Parents                []primitive.ObjectID `bson:"parents" json:"parents"`
	LastChange             time.Time            `bson:"last_change" json:"last_change"`
	StartTime              time.Time            `bson:"start_time" json:"start_time"`
	EndTime                time.Time            `bson:"end_time" json:"end_time"`
	Latest                 bool                 `bson:"latest" json:"latest"`
	Networks               []string             `bson:"networks" json:"networks"`
	AddressesScanned       int                  `bson:"addresses_scanned" json:"addresses_scanned"`
	HostCount              int                  `bson:"host_count" json:"host_count"`
	VulnerableHostCount    int                  `bson:"vulnerable_host_count" json:"vulnerable_host_count"`
	UniqueOperatingSystems int                  `bson:"unique_operating_systems" json:"unique_operating_systems"`
	PortCount              int                  `bson:"port_count" json:"port_count"`
	UniquePortCount        int                  `bson:"unique_port_count" json:"unique_port_count"`
	SilentPortCount        int                  `bson:"silent_port_count" json:"silent_port_count"`
	Vulnerabilities        SeverityCounts       `bson:"vulnerabilities" json:"vulnerabilities"`
	UniqueVulnerabilities  SeverityCounts       `bson:"unique_vulnerabilities" json:"unique_vulnerabilities"`
	FalsePositives         SeverityCounts       `bson:"false_positives" json:"false_positives"`
	CVSSAverageAll         float64              `bson:"cvss_average_all" json:"cvss_average_all"`
	CVSSAverageVulnerable  float64              `bson:"cvss_average_vulnerable" json:"cvss_average_vulnerable"`
	Services               map[string]int       `bson:"services" json:"services"`
	TixMsecOpen            OpenTicketAge        `bson:"tix_msec_open" json:"tix_msec_open"`
	TixMsecToClose         ClosedTicketAge      `bson:"tix_msec_to_close" json:"tix_msec_to_close"`
	World                  WorldStats           `bson:"world" json:"world"`
	ExcludeFromWorldStats  bool                 `bson:"exclude_from_world_stats,omitempty" json:"exclude_from_world_stats,omitempty"`
}

// IsDescendantSnapshot reports whether this snapshot belongs to a descendant
// org: a root snapshot lists itself in its own parents.
func (s *Snapshot) IsDescendantSnapshot() bool {
	for _, p := range s.Parents {
		if p == s.ID {
			return false
		}
	}
	return true
}
