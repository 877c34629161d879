/*
Package types defines the core data structures of the Vigil scanning platform.

It contains the typed records for every document the platform persists,
along with the enumerations that gate their lifecycles. These types are
used by all other packages for state tracking, ticketing, and aggregation.

# Core Types

Scanning pipeline:
  - Host: one scannable address with its (stage, status) position,
    priority, and next-scan time
  - Stage / Status: pipeline position enumerations
  - Tally: per-owner (stage, status) host count matrix

Ownership:
  - Request: an owner's standing scan request: networks, windows,
    concurrency limits, and the child-owner hierarchy

Findings:
  - Ticket: durable record of a single (ip, port, protocol, source,
    source_id) finding with an append-only event list
  - HostScan / PortScan / VulnScan: immutable per-scan observations
    carrying the latest flag and snapshot tags

Aggregation:
  - Snapshot: immutable point-in-time statistics for an owner and its
    included descendants
  - WorldStats: cross-owner aggregate embedded in each snapshot

Control:
  - SystemControl: operator pause/stop requests acknowledged by polling

Field names in bson tags match the persisted document layout exactly so
existing data continues to load.
*/
package types
