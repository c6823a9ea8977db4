package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinix/clinix/internal/domain/analytics"
	"github.com/clinix/clinix/internal/domain/record"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini calls the generateContent REST endpoint with a response schema so
// the model is forced into the result shape. All output text is requested in
// the submission language; JSON keys stay English.
type Gemini struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  zerolog.Logger
}

// GeminiOption adjusts the client.
type GeminiOption func(*Gemini)

// WithBaseURL overrides the API endpoint, used by tests.
func WithBaseURL(url string) GeminiOption {
	return func(g *Gemini) { g.baseURL = strings.TrimSuffix(url, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) GeminiOption {
	return func(g *Gemini) { g.client = c }
}

// NewGemini creates a client for the given model, e.g. "gemini-2.5-flash".
func NewGemini(apiKey, model string, logger zerolog.Logger, opts ...GeminiOption) *Gemini {
	g := &Gemini{
		baseURL: defaultGeminiBaseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type geminiRequest struct {
	Contents         []geminiContent   `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ResponseMIMEType string   `json:"responseMimeType,omitempty"`
	ResponseSchema   *schema  `json:"responseSchema,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// schema mirrors the subset of the structured-output schema language the
// triage shapes need.
type schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Items       *schema            `json:"items,omitempty"`
	Properties  map[string]*schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

func diagnosisSchema(desc string) *schema {
	return &schema{
		Type:        "ARRAY",
		Description: desc,
		Items: &schema{
			Type: "OBJECT",
			Properties: map[string]*schema{
				"name":       {Type: "STRING"},
				"confidence": {Type: "NUMBER", Description: "Percentage from 0 to 100"},
				"explanation": {
					Type:        "ARRAY",
					Items:       &schema{Type: "STRING"},
					Description: "Top contributing factors (symptoms, age, vitals) behind this candidate.",
				},
			},
			Required: []string{"name", "confidence", "explanation"},
		},
	}
}

func clinicSchema() *schema {
	return &schema{
		Type: "OBJECT",
		Properties: map[string]*schema{
			"urgencyLevel": {
				Type:        "STRING",
				Enum:        []string{"Red", "Yellow", "Green"},
				Description: "The triage urgency level based on symptoms.",
			},
			"diagnoses": diagnosisSchema("Top 3 possible diagnoses with contributing-factor explanations."),
			"medicationSuggestions": {
				Type:        "ARRAY",
				Description: "Medication suggestions for the top diagnoses.",
				Items: &schema{
					Type: "OBJECT",
					Properties: map[string]*schema{
						"diagnosisName": {Type: "STRING", Description: "Matches one of the diagnoses names"},
						"medications": {
							Type: "ARRAY",
							Items: &schema{
								Type: "OBJECT",
								Properties: map[string]*schema{
									"name":       {Type: "STRING", Description: "Generic name only"},
									"dosage":     {Type: "STRING"},
									"form":       {Type: "STRING", Description: "e.g. tablet, syrup"},
									"warnings":   {Type: "ARRAY", Items: &schema{Type: "STRING"}},
									"confidence": {Type: "NUMBER"},
									"otc":        {Type: "BOOLEAN", Description: "true only for over-the-counter medicines"},
								},
								Required: []string{"name", "dosage", "form", "warnings", "confidence", "otc"},
							},
						},
						"note": {Type: "STRING", Description: "Mandatory 'Doctor approval required' note"},
					},
					Required: []string{"diagnosisName", "medications", "note"},
				},
			},
			"riskFactors": {
				Type:        "ARRAY",
				Items:       &schema{Type: "STRING"},
				Description: "Key risk factors identified from the patient data.",
			},
			"reasoning": {Type: "STRING", Description: "A summary of the reasoning in under 150 words."},
			"recommendation": {
				Type: "STRING",
				Enum: []string{"Self care", "Treat at primary care", "Urgent referral recommended"},
			},
		},
		Required: []string{"urgencyLevel", "diagnoses", "medicationSuggestions", "riskFactors", "reasoning", "recommendation"},
	}
}

func publicSchema() *schema {
	return &schema{
		Type: "OBJECT",
		Properties: map[string]*schema{
			"riskLevel": {
				Type:        "STRING",
				Enum:        []string{"Low", "Medium", "High"},
				Description: "The self-check risk tier.",
			},
			"possibleConditions": diagnosisSchema("Possible conditions in lay terms with contributing factors."),
			"riskFactors": {
				Type:  "ARRAY",
				Items: &schema{Type: "STRING"},
			},
			"reasoning": {Type: "STRING", Description: "A plain-language summary in under 150 words."},
			"recommendation": {
				Type: "STRING",
				Enum: []string{"Self care", "Treat at primary care", "Urgent referral recommended"},
			},
		},
		Required: []string{"riskLevel", "possibleConditions", "riskFactors", "reasoning", "recommendation"},
	}
}

func analyticsSchema() *schema {
	nameCount := &schema{
		Type: "ARRAY",
		Items: &schema{
			Type: "OBJECT",
			Properties: map[string]*schema{
				"name":  {Type: "STRING"},
				"count": {Type: "INTEGER"},
			},
			Required: []string{"name", "count"},
		},
	}
	return &schema{
		Type: "OBJECT",
		Properties: map[string]*schema{
			"timeframe": {Type: "STRING"},
			"triage_counts": {
				Type: "OBJECT",
				Properties: map[string]*schema{
					"Red":    {Type: "INTEGER"},
					"Yellow": {Type: "INTEGER"},
					"Green":  {Type: "INTEGER"},
				},
				Required: []string{"Red", "Yellow", "Green"},
			},
			"common_diagnoses": nameCount,
			"medication_usage": nameCount,
		},
		Required: []string{"timeframe", "triage_counts", "common_diagnoses", "medication_usage"},
	}
}

var languageNames = map[record.Language]string{
	record.LangEnglish:    "English",
	record.LangIndonesian: "Indonesian",
	record.LangMandarin:   "Mandarin Chinese",
	record.LangJapanese:   "Japanese",
	record.LangKorean:     "Korean",
	record.LangSpanish:    "Spanish",
}

func languageName(lang record.Language) string {
	if name, ok := languageNames[lang]; ok {
		return name
	}
	return "English"
}

func formatVitals(v record.Vitals) string {
	var b strings.Builder
	add := func(label, val string) {
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		b.WriteString(label + ": " + val)
	}
	if v.Temperature != nil {
		add("Temperature", fmt.Sprintf("%.1f°C", *v.Temperature))
	}
	if v.HeartRate != nil {
		add("Heart rate", fmt.Sprintf("%d bpm", *v.HeartRate))
	}
	if v.Systolic != nil && v.Diastolic != nil {
		add("Blood pressure", fmt.Sprintf("%d/%d mmHg", *v.Systolic, *v.Diastolic))
	} else if v.Systolic != nil {
		add("Systolic BP", fmt.Sprintf("%d mmHg", *v.Systolic))
	}
	if v.SpO2 != nil {
		add("SpO2", fmt.Sprintf("%d%%", *v.SpO2))
	}
	if v.RespiratoryRate != nil {
		add("Respiratory rate", fmt.Sprintf("%d/min", *v.RespiratoryRate))
	}
	if b.Len() == 0 {
		return "Not measured"
	}
	return b.String()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func clinicPrompt(req Request) string {
	p, s := req.Patient, req.Symptoms
	weight := "Not provided"
	if p.Weight > 0 {
		weight = fmt.Sprintf("%.1fkg", p.Weight)
	}
	return fmt.Sprintf(`You are a medical assistant AI supporting a triage workflow.

Patient Data:
Name: %s
Age: %d
Gender: %s
Weight: %s
Allergies: %s
Chief Complaint: %s
Vitals: %s

Symptoms:
Reported: %s
Duration: %s
Severity (1-5): %d
Notes: %s

Task:
Analyze the data and provide a triage assessment.
1. Determine Urgency Level (Red, Yellow, Green).
2. Identify Top 3 Possible Diagnoses with confidence percentages.
3. For each diagnosis, provide 2-3 specific contributing factors (e.g. "High fever + Rash", "Age > 60").
4. List Key Risk Factors.
5. Provide reasoning summary (<= 150 words).
6. Provide a specific recommendation.
7. Provide safe, evidence-based Medication Suggestions for the top diagnoses, marking each as over-the-counter or not.

IMPORTANT:
- Language: Output ALL text values (diagnoses names, explanations, warnings, reasoning, notes) in %s.
- Keep JSON keys in English (e.g., "urgencyLevel", "diagnoses").
- DO NOT claim to replace doctors. Do NOT output medical decisions. This is a simulation/support tool.`,
		p.Name, p.Age, p.Gender, weight,
		orDefault(p.Allergies, "No known allergies"),
		p.ChiefComplaint, formatVitals(p.Vitals),
		strings.Join(s.Selected, ", "), s.Duration, s.Severity,
		orDefault(s.Notes, "None"),
		languageName(req.Language))
}

func publicPrompt(req Request) string {
	p, s := req.Patient, req.Symptoms
	return fmt.Sprintf(`You are a health information AI supporting a public symptom self-check.

Person:
Age: %d
Gender: %s
Main concern: %s

Symptoms:
Reported: %s
Duration: %s
Severity (1-5): %d
Notes: %s

Task:
Provide a cautious self-check assessment for a member of the public.
1. Determine the Risk Level (Low, Medium, High).
2. List possible conditions in lay terms with confidence percentages and contributing factors.
3. List key risk factors.
4. Provide a plain-language reasoning summary (<= 150 words).
5. Provide a recommendation.

IMPORTANT:
- Do NOT suggest any medications.
- Language: Output ALL text values in %s. Keep JSON keys in English.
- DO NOT claim to replace doctors. Always advise seeing a clinician when in doubt.`,
		p.Age, p.Gender,
		orDefault(p.ChiefComplaint, "Not stated"),
		strings.Join(s.Selected, ", "), s.Duration, s.Severity,
		orDefault(s.Notes, "None"),
		languageName(req.Language))
}

func requestParts(prompt, imageBase64 string) []geminiPart {
	parts := []geminiPart{{Text: prompt}}
	if imageBase64 != "" {
		// Data URL prefixes are stripped; the API wants raw base64.
		if i := strings.IndexByte(imageBase64, ','); i >= 0 {
			imageBase64 = imageBase64[i+1:]
		}
		parts = append(parts, geminiPart{InlineData: &inlineData{
			MIMEType: "image/jpeg",
			Data:     imageBase64,
		}})
	}
	return parts
}

func f64(v float64) *float64 { return &v }

// generate issues one generateContent call and returns the first candidate's
// text, which under a response schema is the result JSON.
func (g *Gemini) generate(ctx context.Context, parts []geminiPart, respSchema *schema, temperature float64) ([]byte, error) {
	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: parts}},
		GenerationConfig: &generationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   respSchema,
			Temperature:      f64(temperature),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call model API: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		g.logger.Error().Int("status", resp.StatusCode).Msg("model API rejected request")
		return nil, fmt.Errorf("model API returned status %d", resp.StatusCode)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("model API returned no candidates")
	}
	g.logger.Debug().Dur("elapsed", time.Since(start)).Str("model", g.model).Msg("model call complete")
	return []byte(parsed.Candidates[0].Content.Parts[0].Text), nil
}

// Wire shapes: the schema keys are camelCase to match the prompt contract,
// distinct from the snake_case storage shapes in record.

type diagnosisWire struct {
	Name        string   `json:"name"`
	Confidence  float64  `json:"confidence"`
	Explanation []string `json:"explanation"`
}

func (d diagnosisWire) toRecord() record.Diagnosis {
	return record.Diagnosis{Name: d.Name, Confidence: d.Confidence, Explanation: d.Explanation}
}

type medicationWire struct {
	Name       string   `json:"name"`
	Dosage     string   `json:"dosage"`
	Form       string   `json:"form"`
	Warnings   []string `json:"warnings"`
	Confidence float64  `json:"confidence"`
	OTC        bool     `json:"otc"`
}

type medSuggestionWire struct {
	DiagnosisName string           `json:"diagnosisName"`
	Medications   []medicationWire `json:"medications"`
	Note          string           `json:"note"`
}

type clinicWire struct {
	UrgencyLevel          string              `json:"urgencyLevel"`
	Diagnoses             []diagnosisWire     `json:"diagnoses"`
	MedicationSuggestions []medSuggestionWire `json:"medicationSuggestions"`
	RiskFactors           []string            `json:"riskFactors"`
	Reasoning             string              `json:"reasoning"`
	Recommendation        string              `json:"recommendation"`
}

type publicWire struct {
	RiskLevel          string          `json:"riskLevel"`
	PossibleConditions []diagnosisWire `json:"possibleConditions"`
	RiskFactors        []string        `json:"riskFactors"`
	Reasoning          string          `json:"reasoning"`
	Recommendation     string          `json:"recommendation"`
}

type analyticsWire struct {
	Timeframe    string `json:"timeframe"`
	TriageCounts struct {
		Red    int `json:"Red"`
		Yellow int `json:"Yellow"`
		Green  int `json:"Green"`
	} `json:"triage_counts"`
	CommonDiagnoses []analytics.NameCount `json:"common_diagnoses"`
	MedicationUsage []analytics.NameCount `json:"medication_usage"`
}

func parseRecommendation(s string) (record.Recommendation, error) {
	switch record.Recommendation(s) {
	case record.RecommendSelfCare, record.RecommendPrimaryCare, record.RecommendUrgentRef:
		return record.Recommendation(s), nil
	}
	return "", fmt.Errorf("invalid recommendation %q", s)
}

// AnalyzeClinic runs a full clinic-mode triage analysis.
func (g *Gemini) AnalyzeClinic(ctx context.Context, req Request) (*record.TriageResult, error) {
	raw, err := g.generate(ctx, requestParts(clinicPrompt(req), req.ImageBase64), clinicSchema(), 0.2)
	if err != nil {
		return nil, err
	}
	var wire clinicWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}

	switch record.UrgencyLevel(wire.UrgencyLevel) {
	case record.UrgencyRed, record.UrgencyYellow, record.UrgencyGreen:
	default:
		return nil, fmt.Errorf("invalid urgency level %q", wire.UrgencyLevel)
	}
	rec, err := parseRecommendation(wire.Recommendation)
	if err != nil {
		return nil, err
	}

	result := &record.TriageResult{
		UrgencyLevel:   record.UrgencyLevel(wire.UrgencyLevel),
		RiskFactors:    wire.RiskFactors,
		Reasoning:      wire.Reasoning,
		Recommendation: rec,
	}
	for _, d := range wire.Diagnoses {
		result.Diagnoses = append(result.Diagnoses, d.toRecord())
	}
	for _, ms := range wire.MedicationSuggestions {
		suggestion := record.MedicationSuggestion{DiagnosisName: ms.DiagnosisName, Note: ms.Note}
		for _, m := range ms.Medications {
			suggestion.Medications = append(suggestion.Medications, record.Medication{
				Name:       m.Name,
				Dosage:     m.Dosage,
				Form:       m.Form,
				Warnings:   m.Warnings,
				Confidence: m.Confidence,
				OTC:        m.OTC,
			})
		}
		result.MedicationSuggestions = append(result.MedicationSuggestions, suggestion)
	}
	return result, nil
}

// AnalyzePublic runs a public-mode self-check analysis.
func (g *Gemini) AnalyzePublic(ctx context.Context, req Request) (*record.PublicTriageResult, error) {
	raw, err := g.generate(ctx, requestParts(publicPrompt(req), req.ImageBase64), publicSchema(), 0.2)
	if err != nil {
		return nil, err
	}
	var wire publicWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}

	switch record.RiskLevel(wire.RiskLevel) {
	case record.RiskLow, record.RiskMedium, record.RiskHigh:
	default:
		return nil, fmt.Errorf("invalid risk level %q", wire.RiskLevel)
	}
	rec, err := parseRecommendation(wire.Recommendation)
	if err != nil {
		return nil, err
	}

	result := &record.PublicTriageResult{
		RiskLevel:      record.RiskLevel(wire.RiskLevel),
		RiskFactors:    wire.RiskFactors,
		Reasoning:      wire.Reasoning,
		Recommendation: rec,
	}
	for _, d := range wire.PossibleConditions {
		result.PossibleConditions = append(result.PossibleConditions, d.toRecord())
	}
	return result, nil
}

// GenerateAnalytics asks the model for a simulated dashboard dataset.
func (g *Gemini) GenerateAnalytics(ctx context.Context) (*analytics.Data, error) {
	prompt := "Generate a simulated dashboard dataset for a primary care clinic for the last 7 days. " +
		"Include triage counts (Red/Yellow/Green), top 5 diagnoses with counts, and top 5 prescribed generic medications with counts."
	raw, err := g.generate(ctx, []geminiPart{{Text: prompt}}, analyticsSchema(), 0.4)
	if err != nil {
		return nil, err
	}
	var wire analyticsWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode analytics: %w", err)
	}
	return &analytics.Data{
		Timeframe: wire.Timeframe,
		TriageCounts: analytics.TriageCounts{
			Red:    wire.TriageCounts.Red,
			Yellow: wire.TriageCounts.Yellow,
			Green:  wire.TriageCounts.Green,
		},
		CommonDiagnoses: wire.CommonDiagnoses,
		MedicationUsage: wire.MedicationUsage,
	}, nil
}
