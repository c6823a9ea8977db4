// Package vitals implements physiologic plausibility checks and emergency
// detection for entered vital signs. Validation is pure: no I/O, no side
// effects, deterministic for a given input.
package vitals

import (
	"strings"

	"github.com/clinix/clinix/internal/domain/record"
)

// Plausibility ranges and emergency thresholds. A reading can be outside its
// plausible range and still trip an emergency threshold; both facts are
// reported and the caller decides whether to trust the reading.
const (
	TempMin      = 33.0
	TempMax      = 43.0
	TempCritical = 40.0

	SpO2Min      = 50
	SpO2Max      = 100
	SpO2Critical = 90

	HeartRateMin      = 20
	HeartRateMax      = 250
	HeartRateHighCrit = 150
	HeartRateLowCrit  = 40

	SystolicCritical  = 200
	DiastolicCritical = 120
)

// Result is the validation outcome. Errors is keyed by field name
// ("temperature", "spo2", "heart_rate", "bp", "general"); IsEmergency is the
// OR of all emergency sub-conditions, independent of range errors.
type Result struct {
	Errors      map[string]string `json:"errors"`
	IsEmergency bool              `json:"is_emergency"`
}

// IsValid reports whether no field failed validation.
func (r Result) IsValid() bool { return len(r.Errors) == 0 }

// MandatoryMissing reports whether a complaint-specific mandatory vital is
// absent. This is the only condition that blocks submission; plain range
// errors are surfaced inline but do not.
func (r Result) MandatoryMissing() bool {
	_, ok := r.Errors["general"]
	return ok
}

// Validate applies every rule independently: a violated range produces a
// field error without halting evaluation of the remaining fields.
func Validate(p record.PatientData) Result {
	errs := make(map[string]string)
	emergency := false
	v := p.Vitals

	if v.Temperature != nil {
		t := *v.Temperature
		if t < TempMin || t > TempMax {
			errs["temperature"] = "temperature must be between 33°C and 43°C"
		}
		if t > TempCritical {
			emergency = true
		}
	}

	if v.SpO2 != nil {
		s := *v.SpO2
		if s < SpO2Min || s > SpO2Max {
			errs["spo2"] = "SpO2 must be between 50% and 100%"
		}
		if s < SpO2Critical {
			emergency = true
		}
	}

	if v.HeartRate != nil {
		hr := *v.HeartRate
		if hr < HeartRateMin || hr > HeartRateMax {
			errs["heart_rate"] = "heart rate outside valid range (20-250)"
		}
		if hr > HeartRateHighCrit || hr < HeartRateLowCrit {
			emergency = true
		}
	}

	if v.Systolic != nil && v.Diastolic != nil {
		if *v.Systolic < *v.Diastolic {
			errs["bp"] = "systolic must be greater than diastolic"
		}
		if *v.Systolic > SystolicCritical || *v.Diastolic > DiastolicCritical {
			emergency = true
		}
	}

	// Chest pain makes heart rate and systolic pressure mandatory.
	if strings.Contains(strings.ToLower(p.ChiefComplaint), "chest pain") {
		if v.HeartRate == nil || v.Systolic == nil {
			errs["general"] = "vitals (HR, BP) are mandatory for chest pain"
		}
	}

	return Result{Errors: errs, IsEmergency: emergency}
}
