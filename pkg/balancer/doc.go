// Package balancer keeps the right number of hosts in the READY state.
// Each tick it resolves every owner's per-stage concurrency limits from
// their request and scan windows, then promotes WAITING hosts or demotes
// READY hosts until ready counts line up with the limits.
package balancer
