// Package state implements the per-host scan-stage state machine: a pure
// transition function from (stage, status) and scan evidence to the next
// (stage, status). Rules are evaluated in order and the first match wins;
// DONE is absorbing.
package state
