// File: internal/validator/validator.go
package validator

import (
	"math"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/capgraph/api/schemas"
	"github.com/xkilldash9x/capgraph/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Validator parses and schema-checks raw inbound messages into typed events.
// Failures are counted and dropped by the caller; they are never fatal.
type Validator struct {
	clockSkew time.Duration
	now       func() time.Time
	log       *zap.Logger
}

// New creates a Validator. clockSkew bounds how far an event timestamp may
// stray from the local clock in either direction; zero disables the check.
func New(clockSkew time.Duration, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		clockSkew: clockSkew,
		now:       time.Now,
		log:       logger.Named("Validator"),
	}
}

// Parse decodes a raw JSON payload and validates it.
func (v *Validator) Parse(payload []byte) (schemas.Event, error) {
	var raw schemas.RawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return schemas.Event{}, &schemas.ValidationError{Field: "payload", Reason: "is not valid JSON: " + err.Error()}
	}
	return v.Validate(raw)
}

// Validate schema-checks a decoded raw event and returns the typed form.
func (v *Validator) Validate(raw schemas.RawEvent) (schemas.Event, error) {
	if strings.TrimSpace(raw.Source) == "" {
		return schemas.Event{}, v.reject("source", "is required")
	}
	target := strings.TrimSpace(raw.Target)
	if target == "" {
		// A self-interaction: the original publishers leave the target empty
		// when a capability reports about itself.
		target = strings.TrimSpace(raw.Source)
	}
	if strings.TrimSpace(raw.Capability) == "" {
		return schemas.Event{}, v.reject("capability", "is required")
	}
	if math.IsNaN(raw.Weight) || math.IsInf(raw.Weight, 0) {
		return schemas.Event{}, v.reject("weight", "must be finite")
	}
	if raw.Weight < 0 {
		return schemas.Event{}, v.reject("weight", "must be non-negative")
	}
	if raw.Timestamp <= 0 || math.IsNaN(raw.Timestamp) || math.IsInf(raw.Timestamp, 0) {
		return schemas.Event{}, v.reject("ts", "must be a positive epoch time")
	}

	ts := epochToTime(raw.Timestamp)
	if v.clockSkew > 0 {
		now := v.now()
		if ts.Before(now.Add(-v.clockSkew)) || ts.After(now.Add(v.clockSkew)) {
			return schemas.Event{}, v.reject("ts", "is outside the acceptable clock-skew window")
		}
	}

	return schemas.Event{
		Seq:        raw.Seq,
		Timestamp:  ts,
		Source:     strings.TrimSpace(raw.Source),
		Target:     target,
		Capability: schemas.CapabilityType(strings.TrimSpace(raw.Capability)),
		Weight:     raw.Weight,
		Meta:       raw.Meta,
	}, nil
}

func (v *Validator) reject(field, reason string) error {
	observability.EventRejections.WithLabelValues("validation").Inc()
	err := &schemas.ValidationError{Field: field, Reason: reason}
	v.log.Debug("Event rejected", zap.String("field", field), zap.String("reason", reason))
	return err
}

func epochToTime(seconds float64) time.Time {
	sec, frac := math.Modf(seconds)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
