package engine

import (
	"context"
	"fmt"

	"github.com/aretw0/pitcrew/pkg/domain"
	"github.com/mitchellh/mapstructure"
)

// TelemetryFlags are the fault indicators carried in a vehicle payload.
type TelemetryFlags struct {
	BrakeFailure      bool `mapstructure:"brake_failure"`
	EngineCritical    bool `mapstructure:"engine_critical"`
	SafetySystemFault bool `mapstructure:"safety_system_fault"`
	CheckEngineLight  bool `mapstructure:"check_engine_light"`
	BatteryLow        bool `mapstructure:"battery_low"`
	TirePressureLow   bool `mapstructure:"tire_pressure_low"`
	MaintenanceDue    bool `mapstructure:"maintenance_due"`
}

// Priority maps the flags to the initial workflow priority.
func (f TelemetryFlags) Priority() domain.Priority {
	switch {
	case f.BrakeFailure || f.EngineCritical || f.SafetySystemFault:
		return domain.PriorityCritical
	case f.CheckEngineLight || f.BatteryLow || f.TirePressureLow:
		return domain.PriorityHigh
	case f.MaintenanceDue:
		return domain.PriorityNormal
	default:
		return domain.PriorityLow
	}
}

// DecodeTelemetryFlags reads the flags from payload. Flags may sit at the top
// level or under telemetry_data; top-level values win.
func DecodeTelemetryFlags(payload map[string]any) (TelemetryFlags, error) {
	var flags TelemetryFlags
	if nested, ok := payload[domain.KeyTelemetry].(map[string]any); ok {
		if err := weakDecode(nested, &flags); err != nil {
			return TelemetryFlags{}, err
		}
	}
	if err := weakDecode(payload, &flags); err != nil {
		return TelemetryFlags{}, err
	}
	return flags, nil
}

func weakDecode(input any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeHookFunc("2006-01-02T15:04:05Z07:00"),
	})
	if err != nil {
		return fmt.Errorf("failed to build decoder: %w", err)
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("failed to decode: %w", err)
	}
	return nil
}

// Submit creates a workflow for subjectID and queues its first stage.
func (e *Engine) Submit(ctx context.Context, subjectID string, payload map[string]any) (string, error) {
	if e.stopped.Load() {
		return "", ErrEngineStopped
	}

	flags, err := DecodeTelemetryFlags(payload)
	if err != nil {
		e.logger.Warn("unreadable telemetry flags, assuming none", "subject_id", subjectID, "err", err)
	}

	wf := domain.NewWorkflow(subjectID, flags.Priority(), e.maxRetries, payload)
	rec := &record{wf: wf}

	e.locks.Do(wf.ID, func() {
		e.mu.Lock()
		e.workflows[wf.ID] = rec
		e.mu.Unlock()

		e.stats.total.Add(1)
		e.stats.enter(domain.StatePending)

		e.transitionLocked(ctx, rec, domain.StateAnalyzingData, "submitted")
		e.enqueueLocked(rec, domain.AgentDataAnalysis)
	})

	e.logger.Info("workflow submitted",
		"workflow_id", wf.ID,
		"subject_id", subjectID,
		"priority", wf.Priority.String(),
	)
	return wf.ID, nil
}
