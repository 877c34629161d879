package types

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ScanMeta is the part shared by every scan document family. Within one
// owner and logical observation key at most one document has Latest set.
type ScanMeta struct {
	ID        primitive.ObjectID   `bson:"_id" json:"_id"`
	Source    string               `bson:"source" json:"source"`
	Owner     string               `bson:"owner" json:"owner"`
	IP        string               `bson:"ip" json:"ip"`
	IPInt     int64                `bson:"ip_int" json:"ip_int"`
	Time      time.Time            `bson:"time" json:"time"`
	Latest    bool                 `bson:"latest" json:"latest"`
	Snapshots []primitive.ObjectID `bson:"snapshots,omitempty" json:"snapshots,omitempty"`
}

// HostScan is one network-scan observation of a host (OS fingerprint etc).
type HostScan struct {
	ScanMeta `bson:",inline"`
	Name     string           `bson:"name" json:"name"`
	Accuracy int              `bson:"accuracy" json:"accuracy"`
	Line     int              `bson:"line,omitempty" json:"line,omitempty"`
	Classes  []map[string]any `bson:"classes,omitempty" json:"classes,omitempty"`
}

// Port scan states reported by the scanner.
const (
	PortStateOpen   = "open"
	PortStateSilent = "silent"
)

// PortScan is one port-scan observation.
type PortScan struct {
	ScanMeta `bson:",inline"`
	Protocol string         `bson:"protocol" json:"protocol"`
	Port     int            `bson:"port" json:"port"`
	Service  map[string]any `bson:"service" json:"service"`
	State    string         `bson:"state" json:"state"`
	Reason   string         `bson:"reason" json:"reason"`
	SourceID int            `bson:"source_id" json:"source_id"`
	Name     string         `bson:"name,omitempty" json:"name,omitempty"`
	Severity int            `bson:"severity,omitempty" json:"severity,omitempty"`
}

// VulnScan is one vulnerability-scan observation.
type VulnScan struct {
	ScanMeta      `bson:",inline"`
	Protocol      string  `bson:"protocol" json:"protocol"`
	Port          int     `bson:"port" json:"port"`
	Service       string  `bson:"service" json:"service"`
	CVE           string  `bson:"cve,omitempty" json:"cve,omitempty"`
	CVSSBaseScore float64 `bson:"cvss_base_score" json:"cvss_base_score"`
	CVSSVector    string  `bson:"cvss_vector,omitempty" json:"cvss_vector,omitempty"`
	Description   string  `bson:"description,omitempty" json:"description,omitempty"`
	PluginID      int     `bson:"plugin_id" json:"plugin_id"`
	PluginName    string  `bson:"plugin_name" json:"plugin_name"`
	PluginFamily  string  `bson:"plugin_family,omitempty" json:"plugin_family,omitempty"`
	RiskFactor    string  `bson:"risk_factor,omitempty" json:"risk_factor,omitempty"`
	Severity      int     `bson:"severity" json:"severity"`
	Solution      string  `bson:"solution,omitempty" json:"solution,omitempty"`
	Synopsis      string  `bson:"synopsis,omitempty" json:"synopsis,omitempty"`
}
