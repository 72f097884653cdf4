package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/pitcrew/pkg/domain"
)

// ErrNoSchedulingOptions is returned when a scheduling result carries neither
// an appointment nor options to choose from.
var ErrNoSchedulingOptions = errors.New("no scheduling options")

// SchedulingOption is one candidate slot offered by the scheduling agent.
type SchedulingOption struct {
	Datetime          time.Time `mapstructure:"datetime"`
	ServiceCenter     string    `mapstructure:"service_center"`
	EstimatedDuration float64   `mapstructure:"estimated_duration"`
	PreferenceScore   float64   `mapstructure:"customer_preference_score"`
	Load              *float64  `mapstructure:"service_center_load"`
}

// Score ranks a non-critical option. An option without a load figure is
// treated as fully loaded.
func (o SchedulingOption) Score() float64 {
	load := 1.0
	if o.Load != nil {
		load = *o.Load
	}
	return o.PreferenceScore*0.6 + (1-load)*0.4
}

// Appointment is the booked slot stored on the workflow.
type Appointment struct {
	Datetime            time.Time
	ServiceCenter       string
	EstimatedDuration   float64
	RecommendedServices []string
	Immediate           bool
}

// Map renders the appointment as a stage result value.
func (a Appointment) Map() map[string]any {
	services := make([]any, len(a.RecommendedServices))
	for i, s := range a.RecommendedServices {
		services[i] = s
	}
	return map[string]any{
		"datetime":                a.Datetime.Format(time.RFC3339),
		"service_center":          a.ServiceCenter,
		"estimated_duration":      a.EstimatedDuration,
		domain.KeyRecommendations: services,
		domain.KeyImmediate:       a.Immediate,
	}
}

// ChooseOption picks the slot for a workflow: the earliest one when critical,
// otherwise the best scored. Ties keep the first option offered.
func ChooseOption(options []SchedulingOption, critical bool) (SchedulingOption, bool) {
	if len(options) == 0 {
		return SchedulingOption{}, false
	}
	best := options[0]
	for _, o := range options[1:] {
		if critical {
			if earlier(o, best) {
				best = o
			}
			continue
		}
		if o.Score() > best.Score() {
			best = o
		}
	}
	return best, true
}

// earlier reports whether a comes before b. Undated options sort last.
func earlier(a, b SchedulingOption) bool {
	switch {
	case a.Datetime.IsZero():
		return false
	case b.Datetime.IsZero():
		return true
	}
	return a.Datetime.Before(b.Datetime)
}

// scheduleLocked books the appointment from a scheduling result. A result may
// carry a ready appointment or the options to choose from.
func (e *Engine) scheduleLocked(wf *domain.Workflow, result map[string]any) (Appointment, error) {
	critical := wf.Priority == domain.PriorityCritical

	var services []string
	if diag, ok := wf.StageResults[domain.AgentDiagnosis]; ok {
		if findings, err := DecodeDiagnosis(diag); err == nil {
			services = findings.RecommendedServices
		}
	}

	var chosen SchedulingOption
	if raw, ok := result[domain.KeyAppointment].(map[string]any); ok {
		if err := weakDecode(raw, &chosen); err != nil {
			return Appointment{}, fmt.Errorf("failed to read appointment: %w", err)
		}
	} else {
		var decoded struct {
			Options []SchedulingOption `mapstructure:"options"`
		}
		if err := weakDecode(result, &decoded); err != nil {
			return Appointment{}, fmt.Errorf("failed to read scheduling options: %w", err)
		}
		var ok bool
		if chosen, ok = ChooseOption(decoded.Options, critical); !ok {
			return Appointment{}, ErrNoSchedulingOptions
		}
	}

	appt := Appointment{
		Datetime:            chosen.Datetime,
		ServiceCenter:       chosen.ServiceCenter,
		EstimatedDuration:   chosen.EstimatedDuration,
		RecommendedServices: services,
		Immediate:           critical,
	}
	e.logger.Info("appointment booked",
		"workflow_id", wf.ID,
		"service_center", appt.ServiceCenter,
		"datetime", appt.Datetime,
		"immediate", appt.Immediate,
	)
	return appt, nil
}
