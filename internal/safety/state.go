package safety

import (
	"context"
	"fmt"
	"time"

	"github.com/tmflab/tmftrader/internal/store"
)

func (e *Engine) killState(ctx context.Context) (store.JSONMap, error) {
	row, err := e.state.SafetyState(ctx, store.SafetyKeyKill)
	if err != nil {
		return nil, fmt.Errorf("failed to read kill state: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	return row.Value, nil
}

func (e *Engine) cooldownState(ctx context.Context) (store.JSONMap, error) {
	row, err := e.state.SafetyState(ctx, store.SafetyKeyCooldown)
	if err != nil {
		return nil, fmt.Errorf("failed to read cooldown state: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	return row.Value, nil
}

// RequestCooldown arms a durable cooldown for the given duration. An explicit
// seconds == 0 CLEARS the cooldown (until_epoch = 0) rather than arming a
// one-second window.
func (e *Engine) RequestCooldown(ctx context.Context, seconds int, code, reason string, details map[string]any) error {
	until := int64(0)
	if seconds > 0 {
		until = e.now().Add(time.Duration(seconds) * time.Second).Unix()
	}
	value := store.JSONMap{
		"until_epoch": until,
		"code":        code,
		"reason":      reason,
	}
	if details != nil {
		value["details"] = details
	}
	if err := e.state.SetSafetyState(ctx, store.SafetyKeyCooldown, value); err != nil {
		return fmt.Errorf("failed to persist cooldown state: %w", err)
	}
	e.log.Warn().Int64("until_epoch", until).Str("code", code).Msg("cooldown state updated")
	return nil
}

// ClearCooldown removes any active cooldown.
func (e *Engine) ClearCooldown(ctx context.Context) error {
	return e.RequestCooldown(ctx, 0, "", "cleared", nil)
}

// RequestKill engages the durable kill switch. It stays engaged across
// restarts until explicitly cleared.
func (e *Engine) RequestKill(ctx context.Context, code, reason string, details map[string]any) error {
	value := store.JSONMap{
		"enabled": true,
		"code":    code,
		"reason":  reason,
	}
	if details != nil {
		value["details"] = details
	}
	if err := e.state.SetSafetyState(ctx, store.SafetyKeyKill, value); err != nil {
		return fmt.Errorf("failed to persist kill state: %w", err)
	}
	e.log.Error().Str("code", code).Str("reason", reason).Msg("kill switch engaged")
	return nil
}

// ClearKill disengages the kill switch.
func (e *Engine) ClearKill(ctx context.Context) error {
	value := store.JSONMap{"enabled": false, "reason": "cleared"}
	if err := e.state.SetSafetyState(ctx, store.SafetyKeyKill, value); err != nil {
		return fmt.Errorf("failed to persist kill state: %w", err)
	}
	e.log.Info().Msg("kill switch cleared")
	return nil
}
