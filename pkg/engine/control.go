package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/types"
)

// ControlPollInterval is how often a control issuer polls for completion.
const ControlPollInterval = 5 * time.Second

// ErrControlTimeout is returned when a control request is not acknowledged
// within the wait deadline.
var ErrControlTimeout = errors.New("control request was not acknowledged in time")

// PauseCommander files a pause request aimed at the orchestrator. The
// returned document can be polled with WaitForControl; deleting it cancels
// the request.
func (e *Engine) PauseCommander(ctx context.Context, sender, reason string) (*types.SystemControl, error) {
	doc := &types.SystemControl{
		ID:     uuid.NewString(),
		Action: types.ControlPause,
		Target: types.TargetCommander,
		Sender: sender,
		Reason: reason,
		Time:   e.now(),
	}
	if err := e.store.SaveControl(ctx, doc); err != nil {
		return nil, fmt.Errorf("saving pause request from %s: %w", sender, err)
	}
	return doc, nil
}

// ShouldCommanderPause reports whether an open pause request targets the
// orchestrator. With applyActions set, matching requests are acknowledged by
// marking them completed.
func (e *Engine) ShouldCommanderPause(ctx context.Context, applyActions bool) (bool, error) {
	docs, err := e.store.OpenControlRequests(ctx, types.ControlPause, types.TargetCommander)
	if err != nil {
		return false, err
	}
	if len(docs) == 0 {
		return false, nil
	}
	if applyActions {
		for _, doc := range docs {
			doc.Completed = true
			if err := e.store.SaveControl(ctx, doc); err != nil {
				return true, err
			}
		}
	}
	return true, nil
}

// CancelControl withdraws a pause request that was never acknowledged.
// Cancelling an already-deleted request is not an error.
func (e *Engine) CancelControl(ctx context.Context, id string) error {
	err := e.store.DeleteControl(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// WaitForControl polls a control document until it is acknowledged or the
// timeout passes. A deleted document counts as cancelled and returns nil.
func (e *Engine) WaitForControl(ctx context.Context, id string, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(ControlPollInterval)
	defer tick.Stop()

	for {
		doc, err := e.store.GetControl(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if doc.Completed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrControlTimeout
		case <-tick.C:
		}
	}
}
