// Package classifier defines the AI triage backend contract and its
// implementations. The core never talks to a model API directly; it hands a
// Request to a Classifier and gets back a structured result, or an error the
// orchestrator surfaces without partial state.
package classifier

import (
	"context"
	"strings"

	"github.com/clinix/clinix/internal/domain/analytics"
	"github.com/clinix/clinix/internal/domain/record"
)

// Request is one analysis submission. ImageBase64 optionally carries a
// base64-encoded JPEG of the affected area; an empty string means no image.
type Request struct {
	Patient     record.PatientData
	Symptoms    record.SymptomsData
	ImageBase64 string
	Language    record.Language
}

// Classifier is the triage analysis backend.
type Classifier interface {
	AnalyzeClinic(ctx context.Context, req Request) (*record.TriageResult, error)
	AnalyzePublic(ctx context.Context, req Request) (*record.PublicTriageResult, error)
}

// Static is a deterministic offline backend used in development and tests.
// Severity and symptom selection drive the tier so workflows are exercisable
// without an API key.
type Static struct{}

// NewStatic creates a Static classifier.
func NewStatic() *Static { return &Static{} }

func (s *Static) tier(req Request) (record.UrgencyLevel, record.RiskLevel, record.Recommendation) {
	chestPain := false
	for _, sym := range req.Symptoms.Selected {
		if strings.EqualFold(sym, "Chest pain") {
			chestPain = true
		}
	}
	switch {
	case chestPain || req.Symptoms.Severity >= 5:
		return record.UrgencyRed, record.RiskHigh, record.RecommendUrgentRef
	case req.Symptoms.Severity >= 3:
		return record.UrgencyYellow, record.RiskMedium, record.RecommendPrimaryCare
	default:
		return record.UrgencyGreen, record.RiskLow, record.RecommendSelfCare
	}
}

func (s *Static) AnalyzeClinic(ctx context.Context, req Request) (*record.TriageResult, error) {
	urgency, _, rec := s.tier(req)
	return &record.TriageResult{
		UrgencyLevel: urgency,
		Diagnoses: []record.Diagnosis{
			{Name: "Viral upper respiratory infection", Confidence: 62, Explanation: []string{"Reported symptoms", "Short duration"}},
			{Name: "Seasonal influenza", Confidence: 24, Explanation: []string{"Symptom cluster"}},
			{Name: "Allergic rhinitis", Confidence: 14, Explanation: []string{"No fever pattern"}},
		},
		MedicationSuggestions: []record.MedicationSuggestion{
			{
				DiagnosisName: "Viral upper respiratory infection",
				Medications: []record.Medication{
					{Name: "Paracetamol", Dosage: "500mg every 6h", Form: "tablet", Warnings: []string{"Max 4g/day"}, Confidence: 80, OTC: true},
					{Name: "Oseltamivir", Dosage: "75mg twice daily", Form: "capsule", Warnings: []string{"Prescription only"}, Confidence: 40, OTC: false},
				},
				Note: "Doctor approval required",
			},
		},
		RiskFactors:    []string{"Self-reported severity"},
		Reasoning:      "Deterministic offline assessment based on reported severity and symptom selection.",
		Recommendation: rec,
	}, nil
}

func (s *Static) AnalyzePublic(ctx context.Context, req Request) (*record.PublicTriageResult, error) {
	_, risk, rec := s.tier(req)
	return &record.PublicTriageResult{
		RiskLevel: risk,
		PossibleConditions: []record.Diagnosis{
			{Name: "Common cold", Confidence: 70, Explanation: []string{"Reported symptoms"}},
			{Name: "Influenza", Confidence: 30, Explanation: []string{"Symptom cluster"}},
		},
		RiskFactors:    []string{"Self-reported severity"},
		Reasoning:      "Deterministic offline self-check based on reported severity.",
		Recommendation: rec,
	}, nil
}

// GenerateAnalytics returns the static fallback dataset; Static has no model
// to sample from.
func (s *Static) GenerateAnalytics(ctx context.Context) (*analytics.Data, error) {
	return analytics.Fallback(), nil
}
