package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"radgate.org/internal/account"
	"radgate.org/internal/syncfail"
)

// Replay re-attempts the external write a sync-failure entry records. All
// replays are duplicate-write tolerant: the underlying operations are
// idempotent upserts or no-ops once the desired state already holds, which is
// what an at-least-once retry design requires.
func (e *Engine) Replay(ctx context.Context, entry *syncfail.Entry) error {
	switch entry.Op {
	case syncfail.OpSetupUser:
		err := e.Provision(ctx, entry.EntityID)
		if errors.Is(err, account.ErrAlreadyDisabled) {
			return nil // a later disable supersedes the pending provision
		}
		return err

	case syncfail.OpDisableUser:
		var d Disconnect
		if len(entry.Payload) > 0 {
			if err := json.Unmarshal(entry.Payload, &d); err != nil {
				return fmt.Errorf("replay %s: decode payload: %w", entry.ID, err)
			}
		}
		if d.Reason == "" {
			d.Reason = account.ReasonManual
		}
		_, err := e.Deprovision(ctx, entry.EntityID, d)
		if errors.Is(err, account.ErrAlreadyDisabled) {
			return nil // someone finished the job meanwhile
		}
		return err

	case syncfail.OpEnableUser:
		var p struct {
			RecordID string `json:"record_id"`
			By       string `json:"by"`
		}
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return fmt.Errorf("replay %s: decode payload: %w", entry.ID, err)
		}
		_, err := e.Reactivate(ctx, p.RecordID, p.By)
		if errors.Is(err, account.ErrNotDisabled) {
			return nil
		}
		return err

	case syncfail.OpNASSync:
		if e.nas == nil {
			return nil
		}
		var p struct {
			Enabled bool `json:"enabled"`
		}
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return fmt.Errorf("replay %s: decode payload: %w", entry.ID, err)
		}
		return e.nas.SyncUser(ctx, entry.EntityID, p.Enabled)

	default:
		return fmt.Errorf("replay %s: unknown op %q", entry.ID, entry.Op)
	}
}

var _ syncfail.Replayer = (*Engine)(nil)
