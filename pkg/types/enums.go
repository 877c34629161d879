package types

// Status is the micro state of a host within a stage
type Status string

const (
	StatusWaiting Status = "WAITING"
	StatusReady   Status = "READY"
	StatusRunning Status = "RUNNING"
	StatusDone    Status = "DONE"
)

// AllStatuses lists every status in pipeline order
var AllStatuses = []Status{StatusWaiting, StatusReady, StatusRunning, StatusDone}

// Stage is the macro step of the scanning pipeline a host is in
type Stage string

const (
	StageNetscan1 Stage = "NETSCAN1"
	StageNetscan2 Stage = "NETSCAN2"
	StagePortscan Stage = "PORTSCAN"
	StageVulnscan Stage = "VULNSCAN"
	StageBasescan Stage = "BASESCAN"
)

// AllStages lists every stage in pipeline order
var AllStages = []Stage{StageNetscan1, StageNetscan2, StagePortscan, StageVulnscan, StageBasescan}

// TicketAction is an entry type in a ticket's event list
type TicketAction string

const (
	TicketOpened     TicketAction = "OPENED"
	TicketReopened   TicketAction = "REOPENED"
	TicketVerified   TicketAction = "VERIFIED"
	TicketUnverified TicketAction = "UNVERIFIED"
	TicketClosed     TicketAction = "CLOSED"
	TicketChanged    TicketAction = "CHANGED"
)

// Valid reports whether the action is a member of the ticket event enumeration
func (a TicketAction) Valid() bool {
	switch a {
	case TicketOpened, TicketReopened, TicketVerified, TicketUnverified, TicketClosed, TicketChanged:
		return true
	}
	return false
}

// AgencyType classifies an owning organization
type AgencyType string

const (
	AgencyFederal       AgencyType = "FEDERAL"
	AgencyState         AgencyType = "STATE"
	AgencyLocal         AgencyType = "LOCAL"
	AgencyPrivate       AgencyType = "PRIVATE"
	AgencyTribal        AgencyType = "TRIBAL"
	AgencyTerritorial   AgencyType = "TERRITORIAL"
	AgencyInternational AgencyType = "INTERNATIONAL"
)

// AllAgencyTypes lists the organization type roots of the request hierarchy
var AllAgencyTypes = []AgencyType{
	AgencyFederal, AgencyState, AgencyLocal, AgencyPrivate,
	AgencyTribal, AgencyTerritorial, AgencyInternational,
}

// ScanType selects which scanning products an owner has requested
type ScanType string

const (
	ScanTypeCyhy     ScanType = "CYHY"
	ScanTypeDNSSEC   ScanType = "DNSSEC"
	ScanTypePhishing ScanType = "PHISHING"
)

// ControlAction is an operator request to the orchestrator
type ControlAction string

const (
	ControlPause ControlAction = "PAUSE"
	ControlStop  ControlAction = "STOP"
)

// ControlTarget names the process a control request is aimed at
type ControlTarget string

const (
	TargetCommander ControlTarget = "COMMANDER"
)

// UnknownOwner is the owner assigned to findings on addresses
// that do not fall inside any request's networks.
const UnknownOwner = "UNKNOWN"
