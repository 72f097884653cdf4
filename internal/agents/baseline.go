package agents

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aretw0/pitcrew/pkg/domain"
	"github.com/aretw0/pitcrew/pkg/engine"
	"github.com/mitchellh/mapstructure"
)

// Sensor limits past which a reading counts as anomalous.
const (
	MaxEngineTemp     = 105.0
	MaxEngineTempF    = 220.0
	MaxCoolantTemp    = 105.0
	MinBatteryVoltage = 11.8
	MinOilPressure    = 25.0
	MinBrakePadMm     = 3.0
)

// Center is a service center offered by the scheduling agent.
type Center struct {
	Name string
	Load float64
}

// DefaultCenters are used when none are configured.
var DefaultCenters = []Center{
	{Name: "Center A", Load: 0.3},
	{Name: "Center B", Load: 0.6},
	{Name: "Center C", Load: 0.85},
}

// Registrar is satisfied by *engine.Engine.
type Registrar interface {
	RegisterAgent(kind domain.AgentKind, handler engine.Handler)
}

// Baseline holds the rule-based agents.
type Baseline struct {
	now     func() time.Time
	centers []Center
}

// Option configures Baseline.
type Option func(*Baseline)

// WithClock sets the time source used for scheduling.
func WithClock(now func() time.Time) Option {
	return func(b *Baseline) {
		b.now = now
	}
}

// WithCenters sets the service centers offered for booking.
func WithCenters(centers []Center) Option {
	return func(b *Baseline) {
		if len(centers) > 0 {
			b.centers = centers
		}
	}
}

// New creates the baseline agents.
func New(opts ...Option) *Baseline {
	b := &Baseline{
		now:     time.Now,
		centers: DefaultCenters,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Handlers returns a handler per pipeline stage. The urgency agent is left
// out; include it with Register(r, true).
func (b *Baseline) Handlers() map[domain.AgentKind]engine.Handler {
	return map[domain.AgentKind]engine.Handler{
		domain.AgentDataAnalysis:       b.Analyze,
		domain.AgentDiagnosis:          b.Diagnose,
		domain.AgentCustomerEngagement: b.Engage,
		domain.AgentScheduling:         b.Schedule,
		domain.AgentFeedback:           b.ProcessFeedback,
	}
}

// Register installs every handler on r.
func (b *Baseline) Register(r Registrar, withUrgency bool) {
	for kind, h := range b.Handlers() {
		r.RegisterAgent(kind, h)
	}
	if withUrgency {
		r.RegisterAgent(domain.AgentUrgencyAssessment, b.AssessUrgency)
	}
}

// Reading is the subset of telemetry the analysis agent inspects.
// engine_temp is Celsius, engine_temperature is Fahrenheit.
type Reading struct {
	EngineTemp     *float64 `mapstructure:"engine_temp"`
	EngineTempF    *float64 `mapstructure:"engine_temperature"`
	CoolantTemp    *float64 `mapstructure:"coolant_temp"`
	BatteryVoltage *float64 `mapstructure:"battery_voltage"`
	OilPressure    *float64 `mapstructure:"oil_pressure"`
	BrakePadMm     *float64 `mapstructure:"brake_pad_mm"`
}

type analysis struct {
	AnomalyScore float64  `mapstructure:"anomaly_score"`
	Components   []string `mapstructure:"components"`
}

func decode(input any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

func telemetry(payload map[string]any) map[string]any {
	if t, ok := payload[domain.KeyTelemetry].(map[string]any); ok {
		return t
	}
	return map[string]any{}
}

// Analyze scores sensor readings against fixed limits.
func (b *Baseline) Analyze(ctx context.Context, payload map[string]any) (map[string]any, error) {
	var r Reading
	if err := decode(telemetry(payload), &r); err != nil {
		return nil, fmt.Errorf("failed to read telemetry: %w", err)
	}

	var (
		score      float64
		anomalies  []any
		components []any
	)
	flag := func(weight float64, component, detail string) {
		score += weight
		anomalies = append(anomalies, detail)
		components = append(components, component)
	}

	if r.EngineTemp != nil && *r.EngineTemp > MaxEngineTemp {
		flag(0.3, "engine", fmt.Sprintf("high engine temperature: %.1fC", *r.EngineTemp))
	} else if r.EngineTempF != nil && *r.EngineTempF > MaxEngineTempF {
		flag(0.3, "engine", fmt.Sprintf("high engine temperature: %.1fF", *r.EngineTempF))
	}
	if r.BatteryVoltage != nil && *r.BatteryVoltage < MinBatteryVoltage {
		flag(0.2, "battery", fmt.Sprintf("low battery voltage: %.1fV", *r.BatteryVoltage))
	}
	if r.OilPressure != nil && *r.OilPressure < MinOilPressure {
		flag(0.3, "oil", fmt.Sprintf("low oil pressure: %.1f PSI", *r.OilPressure))
	}
	if r.CoolantTemp != nil && *r.CoolantTemp > MaxCoolantTemp {
		flag(0.2, "coolant", fmt.Sprintf("high coolant temperature: %.1fC", *r.CoolantTemp))
	}
	if r.BrakePadMm != nil && *r.BrakePadMm < MinBrakePadMm {
		flag(0.3, "brakes", fmt.Sprintf("brake pads worn: %.1fmm", *r.BrakePadMm))
	}

	return map[string]any{
		"anomaly_score": math.Min(score, 1),
		"anomalies":     anomalies,
		"components":    components,
	}, nil
}

var (
	severity = map[string]float64{
		"brakes":  0.9,
		"oil":     0.8,
		"engine":  0.7,
		"coolant": 0.6,
		"battery": 0.5,
	}
	services = map[string]string{
		"brakes":  "brake_inspection",
		"oil":     "oil_pressure_check",
		"engine":  "engine_inspection",
		"coolant": "cooling_system_service",
		"battery": "battery_replacement",
	}
)

// Diagnose turns the analysis into failure estimates.
func (b *Baseline) Diagnose(ctx context.Context, payload map[string]any) (map[string]any, error) {
	var a analysis
	if raw, ok := payload[domain.KeyAnalysis]; ok {
		if err := decode(raw, &a); err != nil {
			return nil, fmt.Errorf("failed to read analysis: %w", err)
		}
	}

	flags, err := engine.DecodeTelemetryFlags(telemetry(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to read telemetry flags: %w", err)
	}

	components := append([]string(nil), a.Components...)
	switch {
	case flags.BrakeFailure:
		components = append(components, "brakes")
	case flags.EngineCritical:
		components = append(components, "engine")
	}
	if flags.BatteryLow {
		components = append(components, "battery")
	}
	sort.SliceStable(components, func(i, j int) bool {
		return severity[components[i]] > severity[components[j]]
	})

	probability := math.Min(0.1+a.AnomalyScore*0.9, 1)
	sev := 0.2
	primary := "none"
	if len(components) > 0 {
		primary = components[0]
		sev = severity[primary]
	}
	if flags.BrakeFailure || flags.EngineCritical || flags.SafetySystemFault {
		probability, sev = 0.95, 0.95
	}
	days := math.Max(1, math.Round(180*(1-probability)))

	var recommended []any
	seen := map[string]bool{}
	for _, c := range components {
		if s, ok := services[c]; ok && !seen[s] {
			seen[s] = true
			recommended = append(recommended, s)
		}
	}
	if len(recommended) == 0 && flags.MaintenanceDue {
		recommended = append(recommended, "routine_maintenance")
	}

	return map[string]any{
		"component":                 primary,
		"failure_probability":       probability,
		"severity_score":            sev,
		"estimated_days_to_failure": days,
		domain.KeyRecommendations:   recommended,
	}, nil
}

// AssessUrgency raises the computed score for safety faults.
func (b *Baseline) AssessUrgency(ctx context.Context, payload map[string]any) (map[string]any, error) {
	var in struct {
		Score float64 `mapstructure:"urgency_score"`
	}
	if err := decode(payload, &in); err != nil {
		return nil, fmt.Errorf("failed to read urgency score: %w", err)
	}
	flags, err := engine.DecodeTelemetryFlags(telemetry(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to read telemetry flags: %w", err)
	}

	score := in.Score
	if flags.SafetySystemFault || flags.BrakeFailure {
		score = math.Max(score, 0.9)
	}
	level := "routine"
	switch {
	case score > 0.7:
		level = "critical"
	case score > 0.4:
		level = "elevated"
	}
	return map[string]any{domain.KeyUrgencyScore: score, "level": level}, nil
}

// Engage contacts the customer. Critical cases get a call.
func (b *Baseline) Engage(ctx context.Context, payload map[string]any) (map[string]any, error) {
	immediate, _ := payload[domain.KeyImmediate].(bool)
	channel := "sms"
	if immediate {
		channel = "phone_call"
	}

	prefs, ok := payload[domain.KeyCustomerPrefs].(map[string]any)
	if !ok {
		prefs = map[string]any{"preferred_time": "morning"}
	}
	return map[string]any{
		"contacted":              true,
		"accepted":               true,
		"channel":                channel,
		domain.KeyCustomerPrefs: prefs,
	}, nil
}

// Schedule offers one slot per service center on consecutive days.
// Critical cases also get a slot two hours from now at the least loaded center.
func (b *Baseline) Schedule(ctx context.Context, payload map[string]any) (map[string]any, error) {
	if len(b.centers) == 0 {
		return nil, engine.ErrNoSchedulingOptions
	}
	immediate, _ := payload[domain.KeyImmediate].(bool)

	var prefs struct {
		PreferredTime string `mapstructure:"preferred_time"`
	}
	if raw, ok := payload[domain.KeyCustomerPrefs]; ok {
		_ = decode(raw, &prefs)
	}

	now := b.now().UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	options := make([]any, 0, len(b.centers)+1)
	for i, c := range b.centers {
		hour := 9
		if i%2 == 1 {
			hour = 14
		}
		at := day.AddDate(0, 0, i+1).Add(time.Duration(hour) * time.Hour)
		options = append(options, option(at, c, preferenceScore(prefs.PreferredTime, hour)))
	}
	if immediate {
		least := b.centers[0]
		for _, c := range b.centers[1:] {
			if c.Load < least.Load {
				least = c
			}
		}
		at := now.Add(2 * time.Hour).Truncate(time.Hour)
		options = append(options, option(at, least, 0.5))
	}
	return map[string]any{domain.KeyOptions: options}, nil
}

func option(at time.Time, c Center, pref float64) map[string]any {
	return map[string]any{
		"datetime":                  at.Format(time.RFC3339),
		"service_center":            c.Name,
		"estimated_duration":        2.0,
		"customer_preference_score": pref,
		"service_center_load":       c.Load,
	}
}

func preferenceScore(preferred string, hour int) float64 {
	switch {
	case preferred == "morning" && hour < 12, preferred == "afternoon" && hour >= 12:
		return 0.9
	case preferred == "":
		return 0.5
	default:
		return 0.3
	}
}

// ProcessFeedback classifies the customer rating.
func (b *Baseline) ProcessFeedback(ctx context.Context, payload map[string]any) (map[string]any, error) {
	var fb struct {
		Rating  int    `mapstructure:"rating"`
		Comment string `mapstructure:"comment"`
	}
	if raw, ok := payload[domain.KeyFeedback]; ok && raw != nil {
		if err := decode(raw, &fb); err != nil {
			return nil, fmt.Errorf("failed to read feedback: %w", err)
		}
	}

	sentiment := "neutral"
	switch {
	case fb.Rating >= 4:
		sentiment = "positive"
	case fb.Rating > 0 && fb.Rating <= 2:
		sentiment = "negative"
	}
	return map[string]any{
		"rating":    fb.Rating,
		"sentiment": sentiment,
		"follow_up": sentiment == "negative",
	}, nil
}
