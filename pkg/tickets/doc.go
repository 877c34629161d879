// Package tickets implements the finding lifecycle. Three managers scope a
// scan run and reconcile its observations against the ticket collection:
// VulnTicketManager for vulnerability scans, IPPortTicketManager for port
// scans, IPTicketManager for network scans. Every open/verify/reopen/close
// decision is idempotent against replays of the same scan.
package tickets
