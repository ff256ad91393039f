package metrics

import (
	"sync"
	"time"

	"github.com/ragworks/raggo/internal/logger"
	raggerrors "github.com/ragworks/raggo/pkg/errors"
)

// SLO describes a named service-level objective.
type SLO struct {
	Name              string        `json:"name"`
	Target            float64       `json:"target"`
	MeasurementWindow time.Duration `json:"measurementWindow"`
	ErrorBudget       float64       `json:"errorBudget"`
	AlertThreshold    float64       `json:"alertThreshold"`
}

type measurement struct {
	timestamp time.Time
	success   bool
	metadata  map[string]any
}

// Alert is emitted when an SLI drops below its alert threshold.
type Alert struct {
	SLOName    string    `json:"sloName"`
	CurrentSLI float64   `json:"currentSli"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// ErrorBudget reports how much of an SLO's failure allowance is spent.
type ErrorBudget struct {
	Target               float64 `json:"target"`
	Current              float64 `json:"current"`
	ErrorBudgetUsed      float64 `json:"errorBudgetUsed"`
	ErrorBudgetRemaining float64 `json:"errorBudgetRemaining"`
	ErrorBudgetPercent   float64 `json:"errorBudgetPercentage"`
}

// SLOMonitor tracks success ratios for registered SLOs over sliding
// measurement windows.
type SLOMonitor struct {
	mu           sync.Mutex
	slos         map[string]SLO
	measurements map[string][]measurement
	alerts       []Alert
	log          *logger.Logger
	clock        func() time.Time
}

// NewSLOMonitor creates a monitor. Alerts are mirrored to the logger at
// warning severity; pass nil to keep them in memory only.
func NewSLOMonitor(log *logger.Logger) *SLOMonitor {
	return &SLOMonitor{
		slos:         map[string]SLO{},
		measurements: map[string][]measurement{},
		log:          log,
		clock:        time.Now,
	}
}

// RegisterSLO adds an objective. Target must sit in (0, 1].
func (m *SLOMonitor) RegisterSLO(slo SLO) error {
	if slo.Name == "" {
		return raggerrors.NewInvalidInput("slo", "name is required")
	}
	if slo.Target <= 0 || slo.Target > 1 {
		return raggerrors.NewInvalidInput("slo", "target must be in (0, 1]")
	}
	if slo.MeasurementWindow <= 0 {
		slo.MeasurementWindow = time.Hour
	}
	if slo.ErrorBudget == 0 {
		slo.ErrorBudget = 1 - slo.Target
	}
	if slo.AlertThreshold == 0 {
		slo.AlertThreshold = slo.Target
	}

	m.mu.Lock()
	m.slos[slo.Name] = slo
	m.mu.Unlock()
	return nil
}

// RecordMeasurement appends a timestamped success/failure result and
// re-evaluates the alert threshold.
func (m *SLOMonitor) RecordMeasurement(name string, success bool, metadata map[string]any) error {
	m.mu.Lock()
	slo, ok := m.slos[name]
	if !ok {
		m.mu.Unlock()
		return raggerrors.NewInvalidInput("slo", "not registered: "+name)
	}
	m.measurements[name] = append(m.measurements[name], measurement{
		timestamp: m.clock(),
		success:   success,
		metadata:  metadata,
	})
	sli := m.sliLocked(slo)
	var fired *Alert
	if sli < slo.AlertThreshold {
		alert := Alert{
			SLOName:    name,
			CurrentSLI: sli,
			Message:    "SLI below alert threshold",
			Timestamp:  m.clock(),
		}
		m.alerts = append(m.alerts, alert)
		fired = &alert
	}
	m.mu.Unlock()

	if fired != nil && m.log != nil {
		m.log.WithFields(map[string]any{
			"slo":        fired.SLOName,
			"currentSli": fired.CurrentSLI,
		}).Warn(fired.Message)
	}
	return nil
}

// CalculateSLI returns the success ratio over the measurement window, or
// 1.0 when no measurements fall inside it.
func (m *SLOMonitor) CalculateSLI(name string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slo, ok := m.slos[name]
	if !ok {
		return 0, raggerrors.NewInvalidInput("slo", "not registered: "+name)
	}
	return m.sliLocked(slo), nil
}

func (m *SLOMonitor) sliLocked(slo SLO) float64 {
	cutoff := m.clock().Add(-slo.MeasurementWindow)
	var total, ok int
	for _, meas := range m.measurements[slo.Name] {
		if meas.timestamp.Before(cutoff) {
			continue
		}
		total++
		if meas.success {
			ok++
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(ok) / float64(total)
}

// GetErrorBudget reports how much of the SLO's error budget the current
// SLI has consumed.
func (m *SLOMonitor) GetErrorBudget(name string) (ErrorBudget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slo, ok := m.slos[name]
	if !ok {
		return ErrorBudget{}, raggerrors.NewInvalidInput("slo", "not registered: "+name)
	}

	current := m.sliLocked(slo)
	used := slo.Target - current
	if used < 0 {
		used = 0
	}
	budget := ErrorBudget{
		Target:               slo.Target,
		Current:              current,
		ErrorBudgetUsed:      used,
		ErrorBudgetRemaining: slo.ErrorBudget - used,
	}
	if slo.ErrorBudget > 0 {
		budget.ErrorBudgetPercent = used / slo.ErrorBudget * 100
	}
	return budget, nil
}

// Alerts returns every alert fired so far.
func (m *SLOMonitor) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}
