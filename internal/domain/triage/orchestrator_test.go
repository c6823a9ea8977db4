package triage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinix/clinix/internal/classifier"
	"github.com/clinix/clinix/internal/domain/history"
	"github.com/clinix/clinix/internal/domain/notify"
	"github.com/clinix/clinix/internal/domain/queue"
	"github.com/clinix/clinix/internal/domain/record"
	"github.com/clinix/clinix/internal/platform/storage"
)

type mockClassifier struct {
	mu          sync.Mutex
	clinicCalls int
	publicCalls int
	clinic      *record.TriageResult
	public      *record.PublicTriageResult
	err         error
	block       chan struct{}
}

func (m *mockClassifier) AnalyzeClinic(ctx context.Context, req classifier.Request) (*record.TriageResult, error) {
	m.mu.Lock()
	m.clinicCalls++
	block := m.block
	m.mu.Unlock()
	if block != nil {
		<-block
	}
	if m.err != nil {
		return nil, m.err
	}
	r := *m.clinic
	return &r, nil
}

func (m *mockClassifier) AnalyzePublic(ctx context.Context, req classifier.Request) (*record.PublicTriageResult, error) {
	m.mu.Lock()
	m.publicCalls++
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	r := *m.public
	return &r, nil
}

func (m *mockClassifier) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clinicCalls + m.publicCalls
}

func yellowResult() *record.TriageResult {
	return &record.TriageResult{
		UrgencyLevel:   record.UrgencyYellow,
		Diagnoses:      []record.Diagnosis{{Name: "Influenza", Confidence: 70}},
		Reasoning:      "test",
		Recommendation: record.RecommendPrimaryCare,
	}
}

func newTestOrchestrator(clf classifier.Classifier) (*Orchestrator, *notify.Center, *history.Store) {
	kv := storage.NewMemoryStore()
	notes := notify.New()
	hist := history.New(kv, zerolog.Nop())
	q := queue.New(kv, notes, 0, zerolog.Nop())
	return New(Deps{
		Classifier:    clf,
		Queue:         q,
		History:       hist,
		Notifications: notes,
		Logger:        zerolog.Nop(),
	}), notes, hist
}

func loginToWizard(t *testing.T, o *Orchestrator) {
	t.Helper()
	if err := o.Login(RoleDoctor); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := o.StartWizard(); err != nil {
		t.Fatalf("start wizard: %v", err)
	}
}

func TestLoginRouting(t *testing.T) {
	o, _, _ := newTestOrchestrator(&mockClassifier{})
	if got := o.Snapshot(context.Background()).View; got != ViewLogin {
		t.Fatalf("initial view = %s, want LOGIN", got)
	}

	if err := o.Login(RoleSpecialist); err != nil {
		t.Fatalf("specialist login: %v", err)
	}
	if got := o.Snapshot(context.Background()).View; got != ViewSpecialistPortal {
		t.Errorf("specialist should land on portal, got %s", got)
	}

	o.Logout()
	if err := o.Login(RoleNurse); err != nil {
		t.Fatalf("nurse login: %v", err)
	}
	if got := o.Snapshot(context.Background()).View; got != ViewHome {
		t.Errorf("nurse should land on HOME, got %s", got)
	}

	if err := o.Login(RoleDoctor); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("double login should be rejected, got %v", err)
	}
}

func TestPublicEntryAndLogoutReset(t *testing.T) {
	o, _, _ := newTestOrchestrator(&mockClassifier{})
	if err := o.EnterPublic(); err != nil {
		t.Fatalf("enter public: %v", err)
	}
	st := o.Snapshot(context.Background())
	if st.View != ViewPublicIntro || st.Mode != record.ModePublic || st.Role != "" {
		t.Errorf("public entry state wrong: %+v", st)
	}

	o.Logout()
	st = o.Snapshot(context.Background())
	if st.View != ViewLogin || st.Mode != record.ModeClinic || st.Result != nil {
		t.Errorf("logout must reset to LOGIN/CLINIC with no result: %+v", st)
	}
}

func TestOfflineSubmissionDivertsToQueue(t *testing.T) {
	clf := &mockClassifier{clinic: yellowResult()}
	o, notes, _ := newTestOrchestrator(clf)
	loginToWizard(t, o)
	o.SetConnectivity(false)

	outcome, err := o.Submit(context.Background(), record.PatientData{Name: "Maria Santos", Age: 34}, record.SymptomsData{Severity: 2}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Queued || outcome.Pending != 1 {
		t.Errorf("expected queued with pending 1, got %+v", outcome)
	}
	st := o.Snapshot(context.Background())
	if st.View != ViewHome || st.PendingQueue != 1 {
		t.Errorf("expected HOME with pending 1, got view=%s pending=%d", st.View, st.PendingQueue)
	}
	if clf.calls() != 0 {
		t.Errorf("offline submission must not call the classifier, got %d calls", clf.calls())
	}
	if notes.UnreadCount() != 1 {
		t.Errorf("expected one queued notification, got %d", notes.UnreadCount())
	}
}

func TestSubmitBlockedByMandatoryVitals(t *testing.T) {
	o, _, hist := newTestOrchestrator(&mockClassifier{clinic: yellowResult()})
	loginToWizard(t, o)

	outcome, err := o.Submit(context.Background(),
		record.PatientData{Name: "A", ChiefComplaint: "crushing chest pain"},
		record.SymptomsData{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Blocked {
		t.Fatal("missing mandatory vitals must block submission")
	}
	if got := o.Snapshot(context.Background()).View; got != ViewWizard {
		t.Errorf("blocked submission must stay on WIZARD, got %s", got)
	}
	if entries := hist.List(context.Background(), record.ModeClinic); len(entries) != 0 {
		t.Errorf("blocked submission must not reach history, got %d entries", len(entries))
	}
}

func TestSubmitSuccessSavesHistoryAndRoutes(t *testing.T) {
	o, _, hist := newTestOrchestrator(&mockClassifier{clinic: yellowResult()})
	loginToWizard(t, o)

	outcome, err := o.Submit(context.Background(),
		record.PatientData{Name: "Maria Santos", Age: 34, ChiefComplaint: "fever"},
		record.SymptomsData{Selected: []string{"Fever"}, Severity: 3}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.CaseID == "" || outcome.Result == nil {
		t.Fatalf("expected a stored result with case id, got %+v", outcome)
	}

	st := o.Snapshot(context.Background())
	if st.View != ViewResults || st.Analyzing {
		t.Errorf("expected RESULTS with analyzing cleared, got %+v", st)
	}

	entries := hist.List(context.Background(), record.ModeClinic)
	if len(entries) != 1 || entries[0].ID != outcome.CaseID {
		t.Errorf("expected the case archived under %q, got %+v", outcome.CaseID, entries)
	}
}

func TestEmergencyVitalsRouteToInterstitial(t *testing.T) {
	o, _, _ := newTestOrchestrator(&mockClassifier{clinic: yellowResult()})
	loginToWizard(t, o)

	temp := 41.0
	outcome, err := o.Submit(context.Background(),
		record.PatientData{Name: "B", Age: 60, Vitals: record.Vitals{Temperature: &temp}},
		record.SymptomsData{Severity: 2}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Classifier said Yellow; vitals-derived detection still wins.
	if !outcome.Emergency {
		t.Error("expected emergency routing for temp 41")
	}
	if !o.Snapshot(context.Background()).Emergency {
		t.Error("snapshot must expose the emergency interstitial flag")
	}
}

func TestRedUrgencyPushesAlert(t *testing.T) {
	red := yellowResult()
	red.UrgencyLevel = record.UrgencyRed
	o, notes, _ := newTestOrchestrator(&mockClassifier{clinic: red})
	loginToWizard(t, o)

	if _, err := o.Submit(context.Background(), record.PatientData{Name: "C", Age: 50}, record.SymptomsData{}, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	list := notes.List()
	if len(list) != 1 || list[0].Kind != notify.KindAlert {
		t.Fatalf("expected one alert notification, got %+v", list)
	}
}

func TestPublicSubmitSavesPartitionAndAlerts(t *testing.T) {
	clf := &mockClassifier{public: &record.PublicTriageResult{
		RiskLevel:          record.RiskHigh,
		PossibleConditions: []record.Diagnosis{{Name: "Pneumonia", Confidence: 55}},
		Recommendation:     record.RecommendUrgentRef,
	}}
	o, notes, hist := newTestOrchestrator(clf)

	if err := o.EnterPublic(); err != nil {
		t.Fatalf("enter public: %v", err)
	}
	if _, err := o.StartWizard(); err != nil {
		t.Fatalf("start wizard: %v", err)
	}

	outcome, err := o.Submit(context.Background(),
		record.PatientData{Name: "K", Age: 45, ChiefComplaint: "breathless"},
		record.SymptomsData{Selected: []string{"Shortness of breath"}, Severity: 4}, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if outcome.Result == nil || outcome.Result.Mode != record.ModePublic {
		t.Fatalf("expected a PUBLIC-tagged result, got %+v", outcome.Result)
	}
	if clf.publicCalls != 1 || clf.clinicCalls != 0 {
		t.Errorf("expected exactly one public analysis, got clinic=%d public=%d", clf.clinicCalls, clf.publicCalls)
	}

	if got := o.Snapshot(context.Background()).View; got != ViewPublicResults {
		t.Errorf("public submission should land on PUBLIC_RESULTS, got %s", got)
	}

	public := hist.List(context.Background(), record.ModePublic)
	if len(public) != 1 || public[0].ID != outcome.CaseID {
		t.Errorf("expected the case in the PUBLIC partition, got %+v", public)
	}
	if clinic := hist.List(context.Background(), record.ModeClinic); len(clinic) != 0 {
		t.Errorf("clinic partition must stay empty, got %d entries", len(clinic))
	}

	list := notes.List()
	if len(list) != 1 || list[0].Kind != notify.KindAlert {
		t.Fatalf("High-risk self-check should push one alert, got %+v", list)
	}
}

func TestGoHomeRejectedBeforeLogin(t *testing.T) {
	o, _, _ := newTestOrchestrator(&mockClassifier{})
	if err := o.GoHome(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("GoHome from LOGIN should be rejected, got %v", err)
	}
	if got := o.Snapshot(context.Background()).View; got != ViewLogin {
		t.Errorf("view must remain LOGIN, got %s", got)
	}
}

func TestClassifierFailureIsRecoverable(t *testing.T) {
	clf := &mockClassifier{err: errors.New("model unavailable")}
	o, _, hist := newTestOrchestrator(clf)
	loginToWizard(t, o)

	_, err := o.Submit(context.Background(), record.PatientData{Name: "D", Age: 20}, record.SymptomsData{}, "")
	if err == nil {
		t.Fatal("expected classifier failure to surface")
	}
	st := o.Snapshot(context.Background())
	if st.View != ViewWizard || st.Analyzing {
		t.Errorf("failure must return to WIZARD with analyzing cleared, got %+v", st)
	}
	if entries := hist.List(context.Background(), record.ModeClinic); len(entries) != 0 {
		t.Errorf("failed analysis must not create history entries, got %d", len(entries))
	}
	// The user can retry.
	clf.err = nil
	clf.clinic = yellowResult()
	if _, err := o.Submit(context.Background(), record.PatientData{Name: "D", Age: 20}, record.SymptomsData{}, ""); err != nil {
		t.Errorf("retry after failure should succeed: %v", err)
	}
}

func TestReentrantSubmitRejected(t *testing.T) {
	clf := &mockClassifier{clinic: yellowResult(), block: make(chan struct{})}
	o, _, _ := newTestOrchestrator(clf)
	loginToWizard(t, o)

	done := make(chan error, 1)
	go func() {
		_, err := o.Submit(context.Background(), record.PatientData{Name: "E", Age: 30}, record.SymptomsData{}, "")
		done <- err
	}()

	// Wait until the first call is in flight.
	deadline := time.After(time.Second)
	for o.Snapshot(context.Background()).Analyzing == false {
		select {
		case <-deadline:
			t.Fatal("first submission never started analyzing")
		case <-time.After(time.Millisecond):
		}
	}

	if _, err := o.Submit(context.Background(), record.PatientData{Name: "F", Age: 30}, record.SymptomsData{}, ""); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent submission should be rejected with ErrBusy, got %v", err)
	}

	close(clf.block)
	if err := <-done; err != nil {
		t.Fatalf("first submission failed: %v", err)
	}
}

func TestNonOTCMedicationsSuppressed(t *testing.T) {
	r := yellowResult()
	r.MedicationSuggestions = []record.MedicationSuggestion{
		{
			DiagnosisName: "Influenza",
			Medications: []record.Medication{
				{Name: "Paracetamol", OTC: true},
				{Name: "Oseltamivir", OTC: false},
			},
			Note: "Doctor approval required",
		},
		{
			DiagnosisName: "Bacterial pneumonia",
			Medications:   []record.Medication{{Name: "Amoxicillin", OTC: false}},
			Note:          "Doctor approval required",
		},
	}
	o, _, _ := newTestOrchestrator(&mockClassifier{clinic: r})
	loginToWizard(t, o)

	outcome, err := o.Submit(context.Background(), record.PatientData{Name: "G", Age: 40}, record.SymptomsData{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	suggestions := outcome.Result.Clinic.MedicationSuggestions
	if len(suggestions) != 1 {
		t.Fatalf("empty suggestion groups should be dropped, got %d", len(suggestions))
	}
	if len(suggestions[0].Medications) != 1 || suggestions[0].Medications[0].Name != "Paracetamol" {
		t.Errorf("non-OTC medications must be suppressed, got %+v", suggestions[0].Medications)
	}
}

func TestReferralFlow(t *testing.T) {
	o, _, _ := newTestOrchestrator(&mockClassifier{clinic: yellowResult()})
	loginToWizard(t, o)
	if _, err := o.Submit(context.Background(), record.PatientData{Name: "Maria Santos", Age: 34}, record.SymptomsData{}, ""); err != nil {
		t.Fatalf("submit: %v", err)
	}

	ref, err := o.Refer()
	if err != nil {
		t.Fatalf("refer: %v", err)
	}
	if ref.PatientName != "Maria Santos" || ref.PrimaryDiagnosis != "Influenza" || ref.Urgency != record.UrgencyYellow {
		t.Errorf("unexpected referral: %+v", ref)
	}
	st := o.Snapshot(context.Background())
	if st.View != ViewHome || st.Result != nil {
		t.Errorf("referral should return home and clear the result: %+v", st)
	}
	if got := o.Referrals(); len(got) != 1 {
		t.Errorf("expected 1 referral in the inbox, got %d", len(got))
	}

	if _, err := o.Refer(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("refer outside RESULTS should be rejected, got %v", err)
	}
}

func TestHistoryReplayBypassesClassifier(t *testing.T) {
	clf := &mockClassifier{clinic: yellowResult()}
	o, _, _ := newTestOrchestrator(clf)
	loginToWizard(t, o)
	outcome, err := o.Submit(context.Background(), record.PatientData{Name: "H", Age: 25}, record.SymptomsData{}, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	o.GoHome()
	callsAfterSubmit := clf.calls()

	entries, err := o.OpenHistory(context.Background())
	if err != nil || len(entries) != 1 {
		t.Fatalf("open history: %v (%d entries)", err, len(entries))
	}
	replayed, err := o.SelectHistoryEntry(context.Background(), outcome.CaseID)
	if err != nil {
		t.Fatalf("select entry: %v", err)
	}
	if replayed.ID != outcome.CaseID {
		t.Errorf("replayed wrong entry: %q", replayed.ID)
	}
	if o.Snapshot(context.Background()).View != ViewResults {
		t.Error("replay should land on RESULTS")
	}
	if clf.calls() != callsAfterSubmit {
		t.Error("replay must not call the classifier")
	}
}

func TestCrossModeLookupRoutesByStoredTag(t *testing.T) {
	o, _, hist := newTestOrchestrator(&mockClassifier{clinic: yellowResult()})

	// A public self-check saved earlier.
	pub, err := hist.Save(context.Background(), record.ModePublic,
		record.NewPublicResult(&record.PublicTriageResult{
			RiskLevel:      record.RiskHigh,
			Recommendation: record.RecommendUrgentRef,
		}), "self-check", nil)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := o.Login(RoleDoctor); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := o.OpenCaseLookup(); err != nil {
		t.Fatalf("open lookup: %v", err)
	}

	entry, err := o.Lookup(context.Background(), pub.ID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if entry.Mode != record.ModePublic {
		t.Errorf("expected the PUBLIC entry, got %s", entry.Mode)
	}
	// The stored mode tag, not the session mode, picks the view.
	if got := o.Snapshot(context.Background()).View; got != ViewPublicResults {
		t.Errorf("cross-mode lookup should land on PUBLIC_RESULTS, got %s", got)
	}
}

func TestLookupMissStaysOnCaseLookup(t *testing.T) {
	o, _, _ := newTestOrchestrator(&mockClassifier{})
	if err := o.Login(RoleDoctor); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := o.OpenCaseLookup(); err != nil {
		t.Fatalf("open lookup: %v", err)
	}

	if _, err := o.Lookup(context.Background(), "missing"); !errors.Is(err, ErrCaseNotFound) {
		t.Fatalf("expected ErrCaseNotFound, got %v", err)
	}
	if got := o.Snapshot(context.Background()).View; got != ViewCaseLookup {
		t.Errorf("miss must stay on CASE_LOOKUP, got %s", got)
	}
}

func TestOnlineTransitionFlushesQueue(t *testing.T) {
	o, notes, _ := newTestOrchestrator(&mockClassifier{})
	loginToWizard(t, o)
	o.SetConnectivity(false)

	o.Submit(context.Background(), record.PatientData{Name: "I"}, record.SymptomsData{}, "")
	o.StartWizard()
	o.Submit(context.Background(), record.PatientData{Name: "J"}, record.SymptomsData{}, "")

	o.SetConnectivity(true)

	deadline := time.After(2 * time.Second)
	for o.Snapshot(context.Background()).PendingQueue != 0 {
		select {
		case <-deadline:
			t.Fatal("queue never flushed after coming online")
		case <-time.After(5 * time.Millisecond):
		}
	}
	// 2 queued notifications + 1 sync-complete.
	if got := len(notes.List()); got != 3 {
		t.Errorf("expected 3 notifications, got %d", got)
	}
}

func TestAuditTrailRecordsTransitions(t *testing.T) {
	o, _, _ := newTestOrchestrator(&mockClassifier{})
	if err := o.Login(RoleDoctor); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := o.OpenAuditLog(); err != nil {
		t.Fatalf("open audit log: %v", err)
	}

	trail := o.AuditTrail()
	if len(trail) != 2 {
		t.Fatalf("expected 2 audit events, got %d", len(trail))
	}
	if trail[0].From != ViewLogin || trail[0].To != ViewHome || trail[0].Actor != "doctor" {
		t.Errorf("unexpected first event: %+v", trail[0])
	}
	if trail[1].To != ViewAuditLogs {
		t.Errorf("unexpected second event: %+v", trail[1])
	}
}
