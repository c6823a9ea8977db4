// Package analytics serves the clinic dashboard dataset. The data is
// generated on demand by the classifier backend and cached for the session;
// when generation fails the service falls back to a static snapshot so the
// dashboard always renders.
package analytics

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// NameCount is one bar of a dashboard chart.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TriageCounts is the urgency distribution over the timeframe.
type TriageCounts struct {
	Red    int `json:"red"`
	Yellow int `json:"yellow"`
	Green  int `json:"green"`
}

// Data is the dashboard dataset.
type Data struct {
	Timeframe       string       `json:"timeframe"`
	TriageCounts    TriageCounts `json:"triage_counts"`
	CommonDiagnoses []NameCount  `json:"common_diagnoses"`
	MedicationUsage []NameCount  `json:"medication_usage"`
}

// Generator produces a fresh dashboard dataset.
type Generator interface {
	GenerateAnalytics(ctx context.Context) (*Data, error)
}

// Fallback is the dataset served when generation fails.
func Fallback() *Data {
	return &Data{
		Timeframe:    "Last 7 Days (Offline Fallback)",
		TriageCounts: TriageCounts{Red: 5, Yellow: 12, Green: 25},
		CommonDiagnoses: []NameCount{
			{Name: "Common Cold", Count: 10},
			{Name: "Hypertension", Count: 8},
		},
		MedicationUsage: []NameCount{
			{Name: "Paracetamol", Count: 15},
		},
	}
}

// Service caches one generated dataset per session.
type Service struct {
	mu     sync.Mutex
	gen    Generator
	cached *Data
	logger zerolog.Logger
}

// NewService creates a Service over the given generator.
func NewService(gen Generator, logger zerolog.Logger) *Service {
	return &Service{gen: gen, logger: logger}
}

// Dashboard returns the cached dataset, generating it on first call. A
// generation failure is logged and answered with the static fallback; the
// fallback is not cached so a later call can retry.
func (s *Service) Dashboard(ctx context.Context) *Data {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil {
		return s.cached
	}
	data, err := s.gen.GenerateAnalytics(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("analytics generation failed, serving fallback")
		return Fallback()
	}
	s.cached = data
	return data
}

// Invalidate drops the cached dataset.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}
