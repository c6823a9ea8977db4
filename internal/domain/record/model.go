// Package record holds the shared triage data model: patient intake data,
// classifier results for both application modes, and the tagged result union
// persisted in case history.
package record

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppMode selects between the clinician-facing workflow and the public
// self-check workflow. History partitions are keyed by mode.
type AppMode string

const (
	ModeClinic AppMode = "CLINIC"
	ModePublic AppMode = "PUBLIC"
)

// Language is the target output language for classifier text.
type Language string

const (
	LangEnglish    Language = "en"
	LangIndonesian Language = "id"
	LangMandarin   Language = "zh"
	LangJapanese   Language = "ja"
	LangKorean     Language = "ko"
	LangSpanish    Language = "es"
)

// UrgencyLevel is the clinic-mode severity tier.
type UrgencyLevel string

const (
	UrgencyRed    UrgencyLevel = "Red"
	UrgencyYellow UrgencyLevel = "Yellow"
	UrgencyGreen  UrgencyLevel = "Green"
)

// RiskLevel is the public-mode severity tier.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// Recommendation is the classifier's disposition advice.
type Recommendation string

const (
	RecommendSelfCare    Recommendation = "Self care"
	RecommendPrimaryCare Recommendation = "Treat at primary care"
	RecommendUrgentRef   Recommendation = "Urgent referral recommended"
)

// Vitals are the measured vital signs. Every field is optional; nil means the
// measurement was not taken.
type Vitals struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	HeartRate       *int     `json:"heart_rate,omitempty"`
	Systolic        *int     `json:"systolic,omitempty"`
	Diastolic       *int     `json:"diastolic,omitempty"`
	SpO2            *int     `json:"spo2,omitempty"`
	RespiratoryRate *int     `json:"respiratory_rate,omitempty"`
}

// PatientData is the wizard intake record. The ID is minted when the wizard
// starts; the struct is treated as immutable once submitted for analysis.
type PatientData struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Age            int       `json:"age"`
	Gender         string    `json:"gender"`
	Weight         float64   `json:"weight,omitempty"`
	Allergies      string    `json:"allergies,omitempty"`
	ChiefComplaint string    `json:"chief_complaint"`
	Vitals         Vitals    `json:"vitals"`
}

// SymptomsData is the symptom-assessment step of the wizard. Selected tags
// are unique; order is preserved for display only.
type SymptomsData struct {
	Selected []string `json:"selected"`
	Duration string   `json:"duration"`
	Severity int      `json:"severity"`
	Notes    string   `json:"notes,omitempty"`
}

// Diagnosis is one ranked candidate diagnosis with contributing factors.
type Diagnosis struct {
	Name        string   `json:"name"`
	Confidence  float64  `json:"confidence"`
	Explanation []string `json:"explanation"`
}

// Medication is a single suggested medication. OTC must be true for the
// suggestion to be shown; non-OTC entries are suppressed before display.
type Medication struct {
	Name       string   `json:"name"`
	Dosage     string   `json:"dosage"`
	Form       string   `json:"form"`
	Warnings   []string `json:"warnings"`
	Confidence float64  `json:"confidence"`
	OTC        bool     `json:"otc"`
}

// MedicationSuggestion groups medications under the diagnosis they target.
type MedicationSuggestion struct {
	DiagnosisName string       `json:"diagnosis_name"`
	Medications   []Medication `json:"medications"`
	Note          string       `json:"note"`
}

// TriageResult is the clinic-mode classifier output. CaseID and Timestamp are
// assigned by the core after the classifier responds, never by the classifier.
type TriageResult struct {
	UrgencyLevel          UrgencyLevel           `json:"urgency_level"`
	Diagnoses             []Diagnosis            `json:"diagnoses"`
	MedicationSuggestions []MedicationSuggestion `json:"medication_suggestions"`
	RiskFactors           []string               `json:"risk_factors"`
	Reasoning             string                 `json:"reasoning"`
	Recommendation        Recommendation         `json:"recommendation"`
	CaseID                string                 `json:"case_id,omitempty"`
	Timestamp             time.Time              `json:"timestamp,omitempty"`
}

// PublicTriageResult is the public-mode classifier output. It carries no
// medication suggestions.
type PublicTriageResult struct {
	RiskLevel          RiskLevel      `json:"risk_level"`
	PossibleConditions []Diagnosis    `json:"possible_conditions"`
	RiskFactors        []string       `json:"risk_factors"`
	Reasoning          string         `json:"reasoning"`
	Recommendation     Recommendation `json:"recommendation"`
	CaseID             string         `json:"case_id,omitempty"`
	Timestamp          time.Time      `json:"timestamp,omitempty"`
}

// StoredResult is the tagged union of the two result shapes, discriminated by
// Mode. Exactly one of Clinic or Public is set.
type StoredResult struct {
	Mode   AppMode             `json:"mode"`
	Clinic *TriageResult       `json:"clinic,omitempty"`
	Public *PublicTriageResult `json:"public,omitempty"`
}

// NewClinicResult wraps a clinic result in the tagged union.
func NewClinicResult(r *TriageResult) StoredResult {
	return StoredResult{Mode: ModeClinic, Clinic: r}
}

// NewPublicResult wraps a public result in the tagged union.
func NewPublicResult(r *PublicTriageResult) StoredResult {
	return StoredResult{Mode: ModePublic, Public: r}
}

// Validate checks that the union is consistently tagged.
func (s StoredResult) Validate() error {
	switch s.Mode {
	case ModeClinic:
		if s.Clinic == nil || s.Public != nil {
			return fmt.Errorf("stored result tagged CLINIC must carry exactly the clinic payload")
		}
	case ModePublic:
		if s.Public == nil || s.Clinic != nil {
			return fmt.Errorf("stored result tagged PUBLIC must carry exactly the public payload")
		}
	default:
		return fmt.Errorf("unknown result mode %q", s.Mode)
	}
	return nil
}

// CaseID returns the embedded case identifier for either mode.
func (s StoredResult) CaseID() string {
	switch s.Mode {
	case ModeClinic:
		if s.Clinic != nil {
			return s.Clinic.CaseID
		}
	case ModePublic:
		if s.Public != nil {
			return s.Public.CaseID
		}
	}
	return ""
}

// Timestamp returns the embedded timestamp for either mode.
func (s StoredResult) Timestamp() time.Time {
	switch s.Mode {
	case ModeClinic:
		if s.Clinic != nil {
			return s.Clinic.Timestamp
		}
	case ModePublic:
		if s.Public != nil {
			return s.Public.Timestamp
		}
	}
	return time.Time{}
}

// Backfill stamps the case identifier and timestamp into the embedded result.
// Results are immutable after this point.
func (s StoredResult) Backfill(caseID string, ts time.Time) {
	switch s.Mode {
	case ModeClinic:
		if s.Clinic != nil {
			s.Clinic.CaseID = caseID
			s.Clinic.Timestamp = ts
		}
	case ModePublic:
		if s.Public != nil {
			s.Public.CaseID = caseID
			s.Public.Timestamp = ts
		}
	}
}

// Referral is a session-scoped specialist referral derived from a clinic
// result. It is not part of case history.
type Referral struct {
	ID               uuid.UUID    `json:"id"`
	PatientName      string       `json:"patient_name"`
	Urgency          UrgencyLevel `json:"urgency"`
	PrimaryDiagnosis string       `json:"primary_diagnosis"`
	Timestamp        time.Time    `json:"timestamp"`
}

// SymptomList is the fixed set of selectable symptom tags offered by the
// wizard. Free-text notes cover anything else.
var SymptomList = []string{
	"Fever",
	"Cough",
	"Shortness of breath",
	"Chest pain",
	"Fatigue",
	"Nausea",
	"Rash",
	"Headache",
}
