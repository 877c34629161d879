// Package engine is the orchestration core. It moves hosts through the
// scan-stage state machine, keeps tallies in step with host transitions,
// requeues scheduled rescans, and carries the operator-facing maintenance
// operations (ownership changes, pause control, state resets).
package engine
