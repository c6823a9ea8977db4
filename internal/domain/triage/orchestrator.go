// Package triage implements the workflow state machine: it owns the current
// view, mode, and role, and drives patient data from the wizard through
// validation, the external classifier, and into history, referrals, or the
// offline queue. One Orchestrator exists per session.
package triage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinix/clinix/internal/classifier"
	"github.com/clinix/clinix/internal/domain/history"
	"github.com/clinix/clinix/internal/domain/notify"
	"github.com/clinix/clinix/internal/domain/queue"
	"github.com/clinix/clinix/internal/domain/record"
	"github.com/clinix/clinix/internal/domain/vitals"
)

// Deps are the orchestrator's collaborators. Queue and History share one
// durable storage port; Notifications die with the session.
type Deps struct {
	Classifier        classifier.Classifier
	Queue             *queue.Store
	History           *history.Store
	Notifications     *notify.Center
	Logger            zerolog.Logger
	ClassifierTimeout time.Duration
}

const defaultClassifierTimeout = 90 * time.Second

// Orchestrator is the per-session state machine. All methods are serialized
// by the internal mutex; the lock is released for the duration of the
// classifier call, with the analyzing flag rejecting re-entrant submissions.
type Orchestrator struct {
	mu sync.Mutex

	clf      classifier.Classifier
	queue    *queue.Store
	history  *history.Store
	notes    *notify.Center
	logger   zerolog.Logger
	clfTO    time.Duration

	view      View
	mode      record.AppMode
	role      Role
	language  record.Language
	online    bool
	analyzing bool
	emergency bool

	patientName string
	current     *record.StoredResult
	referrals   []record.Referral
	audit       []AuditEvent
}

// New creates an orchestrator in the LOGIN state, clinic mode, online.
func New(deps Deps) *Orchestrator {
	to := deps.ClassifierTimeout
	if to <= 0 {
		to = defaultClassifierTimeout
	}
	return &Orchestrator{
		clf:      deps.Classifier,
		queue:    deps.Queue,
		history:  deps.History,
		notes:    deps.Notifications,
		logger:   deps.Logger,
		clfTO:    to,
		view:     ViewLogin,
		mode:     record.ModeClinic,
		language: record.LangEnglish,
		online:   true,
	}
}

// transition moves to a new view and records the audit event. Callers hold
// the lock.
func (o *Orchestrator) transition(to View, reason string) {
	actor := string(o.role)
	if actor == "" {
		actor = "public"
	}
	o.audit = append(o.audit, AuditEvent{
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		From:      o.view,
		To:        to,
		Reason:    reason,
	})
	o.logger.Debug().Str("from", string(o.view)).Str("to", string(to)).Str("reason", reason).Msg("view transition")
	o.view = to
}

// Login authenticates a clinic role. Doctors and nurses land on HOME;
// specialists land on their portal.
func (o *Orchestrator) Login(role Role) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.view != ViewLogin {
		return ErrInvalidTransition
	}
	if !role.Valid() {
		return fmt.Errorf("triage: unknown role %q", role)
	}

	o.role = role
	o.mode = record.ModeClinic
	if role == RoleSpecialist {
		o.transition(ViewSpecialistPortal, "specialist login")
	} else {
		o.transition(ViewHome, "login")
	}
	return nil
}

// EnterPublic starts the unauthenticated public self-check flow.
func (o *Orchestrator) EnterPublic() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.view != ViewLogin {
		return ErrInvalidTransition
	}
	o.role = ""
	o.mode = record.ModePublic
	o.transition(ViewPublicIntro, "public entry")
	return nil
}

// Logout resets the session to LOGIN from any view: role cleared, mode back
// to clinic, transient results dropped. History and queue are untouched.
func (o *Orchestrator) Logout() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.transition(ViewLogin, "logout")
	o.role = ""
	o.mode = record.ModeClinic
	o.current = nil
	o.patientName = ""
	o.emergency = false
}

// StartWizard begins data entry and mints the patient identifier.
func (o *Orchestrator) StartWizard() (uuid.UUID, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.view != ViewHome && o.view != ViewPublicIntro {
		return uuid.Nil, ErrInvalidTransition
	}
	o.current = nil
	o.emergency = false
	o.transition(ViewWizard, "start wizard")
	return uuid.New(), nil
}

// sanitizeMedications drops any medication not explicitly flagged OTC, and
// any suggestion group left empty. A non-OTC entry in a response is a
// data-quality failure, suppressed rather than displayed.
func sanitizeMedications(r *record.TriageResult) {
	kept := r.MedicationSuggestions[:0]
	for _, sg := range r.MedicationSuggestions {
		meds := sg.Medications[:0]
		for _, m := range sg.Medications {
			if m.OTC {
				meds = append(meds, m)
			}
		}
		sg.Medications = meds
		if len(sg.Medications) > 0 {
			kept = append(kept, sg)
		}
	}
	r.MedicationSuggestions = kept
}

// Submit runs a wizard submission to completion: validation, offline
// diversion, or a classifier round-trip ending in history and a results
// view. Range errors ride along in the outcome without blocking; only
// missing mandatory context vitals keep the submission in the wizard.
func (o *Orchestrator) Submit(ctx context.Context, patient record.PatientData, symptoms record.SymptomsData, imageBase64 string) (*SubmitOutcome, error) {
	o.mu.Lock()
	if o.view != ViewWizard {
		o.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	if o.analyzing {
		o.mu.Unlock()
		return nil, ErrBusy
	}

	outcome := &SubmitOutcome{Validation: vitals.Validate(patient)}
	if outcome.Validation.MandatoryMissing() {
		o.mu.Unlock()
		outcome.Blocked = true
		return outcome, nil
	}
	outcome.Emergency = o.mode == record.ModeClinic && outcome.Validation.IsEmergency

	if !o.online {
		pending, err := o.queue.Enqueue(ctx, patient, symptoms)
		if err != nil {
			o.mu.Unlock()
			return nil, err
		}
		o.notes.Push("Saved to Offline Queue",
			fmt.Sprintf("Triage for %s saved locally.", patient.Name), notify.KindInfo)
		o.transition(ViewHome, "offline submission queued")
		o.mu.Unlock()
		outcome.Queued = true
		outcome.Pending = pending
		return outcome, nil
	}

	mode := o.mode
	lang := o.language
	o.analyzing = true
	o.patientName = patient.Name
	o.mu.Unlock()

	result, err := o.analyze(ctx, mode, classifier.Request{
		Patient:     patient,
		Symptoms:    symptoms,
		ImageBase64: imageBase64,
		Language:    lang,
	})

	// Re-lock and finish. A view change made while the call was in flight
	// is overridden by the result transition below; with one logical thread
	// of control per session only the analyzing flag guards this window.
	o.mu.Lock()
	defer o.mu.Unlock()
	o.analyzing = false

	if err != nil {
		// Recoverable: stay on the wizard so the user can retry. Nothing
		// is written to history.
		o.logger.Error().Err(err).Msg("classifier call failed")
		return nil, fmt.Errorf("triage analysis failed: %w", err)
	}

	summary := fmt.Sprintf("%s, %d", patient.Name, patient.Age)
	entry, err := o.history.Save(ctx, mode, *result, summary, symptoms.Selected)
	if err != nil {
		o.logger.Error().Err(err).Msg("history save failed")
		return nil, err
	}

	o.current = &entry.Result
	o.emergency = outcome.Emergency
	o.pushEscalationAlert(entry.Result, patient.Name)

	if mode == record.ModePublic {
		o.transition(ViewPublicResults, "analysis complete")
	} else {
		o.transition(ViewResults, "analysis complete")
	}

	outcome.Result = o.current
	outcome.CaseID = entry.ID
	return outcome, nil
}

// analyze issues the single in-flight classifier call under its timeout and
// normalizes both modes into the stored union.
func (o *Orchestrator) analyze(ctx context.Context, mode record.AppMode, req classifier.Request) (*record.StoredResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.clfTO)
	defer cancel()

	if mode == record.ModePublic {
		r, err := o.clf.AnalyzePublic(ctx, req)
		if err != nil {
			return nil, err
		}
		res := record.NewPublicResult(r)
		return &res, nil
	}

	r, err := o.clf.AnalyzeClinic(ctx, req)
	if err != nil {
		return nil, err
	}
	sanitizeMedications(r)
	res := record.NewClinicResult(r)
	return &res, nil
}

func (o *Orchestrator) pushEscalationAlert(res record.StoredResult, patientName string) {
	switch {
	case res.Mode == record.ModeClinic && res.Clinic.UrgencyLevel == record.UrgencyRed:
		o.notes.Push("URGENT: High Risk Patient",
			fmt.Sprintf("Patient %s flagged as RED urgency. Immediate attention required.", patientName),
			notify.KindAlert)
	case res.Mode == record.ModePublic && res.Public.RiskLevel == record.RiskHigh:
		o.notes.Push("High Risk Self-Check",
			"A self-check was assessed as High risk. Seek medical attention promptly.",
			notify.KindAlert)
	}
}

// GoHome returns to HOME (or PUBLIC_INTRO in public mode) and clears the
// transient result. The history copy is untouched. Not reachable from LOGIN;
// there is no session to go home to.
func (o *Orchestrator) GoHome() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.view == ViewLogin {
		return ErrInvalidTransition
	}

	o.current = nil
	o.patientName = ""
	o.emergency = false
	if o.mode == record.ModePublic {
		o.transition(ViewPublicIntro, "home")
	} else {
		o.transition(ViewHome, "home")
	}
	return nil
}

// Refer builds a referral from the current clinic result and files it in the
// session-scoped inbox, then returns home.
func (o *Orchestrator) Refer() (*record.Referral, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.view != ViewResults {
		return nil, ErrInvalidTransition
	}
	if o.current == nil || o.current.Clinic == nil {
		return nil, ErrNoResult
	}

	primary := "Unknown"
	if len(o.current.Clinic.Diagnoses) > 0 {
		primary = o.current.Clinic.Diagnoses[0].Name
	}
	ref := record.Referral{
		ID:               uuid.New(),
		PatientName:      o.patientName,
		Urgency:          o.current.Clinic.UrgencyLevel,
		PrimaryDiagnosis: primary,
		Timestamp:        time.Now().UTC(),
	}
	o.referrals = append([]record.Referral{ref}, o.referrals...)
	o.logger.Info().Str("patient", ref.PatientName).Str("urgency", string(ref.Urgency)).Msg("referral filed")

	o.current = nil
	o.patientName = ""
	o.emergency = false
	o.transition(ViewHome, "referral sent")
	return &ref, nil
}

// Referrals lists the session's referral inbox, newest first. The inbox is
// in-memory per orchestrator, so a specialist portal only surfaces referrals
// filed within the same session, not those from other clinicians' sessions.
func (o *Orchestrator) Referrals() []record.Referral {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]record.Referral, len(o.referrals))
	copy(out, o.referrals)
	return out
}

// OpenHistory shows the current mode's case list.
func (o *Orchestrator) OpenHistory(ctx context.Context) ([]history.Entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.view != ViewHome && o.view != ViewPublicIntro {
		return nil, ErrInvalidTransition
	}
	o.transition(ViewHistoryList, "open history")
	return o.history.List(ctx, o.mode), nil
}

// ListHistory lists the current mode's entries without a transition.
func (o *Orchestrator) ListHistory(ctx context.Context) []history.Entry {
	o.mu.Lock()
	mode := o.mode
	o.mu.Unlock()
	return o.history.List(ctx, mode)
}

// SelectHistoryEntry replays a stored case: the stored payload routes
// straight to the matching results view, bypassing the classifier.
func (o *Orchestrator) SelectHistoryEntry(ctx context.Context, id string) (*history.Entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.view != ViewHistoryList {
		return nil, ErrInvalidTransition
	}
	entry, err := o.history.FindByID(ctx, id)
	if err != nil {
		return nil, ErrCaseNotFound
	}
	o.replayLocked(entry, "history replay")
	return entry, nil
}

// DeleteHistoryEntry removes one case from the current mode's partition.
func (o *Orchestrator) DeleteHistoryEntry(ctx context.Context, id string) error {
	o.mu.Lock()
	mode := o.mode
	o.mu.Unlock()
	if err := o.history.Delete(ctx, mode, id); err != nil {
		return ErrCaseNotFound
	}
	return nil
}

// ClearHistory wipes the current mode's partition.
func (o *Orchestrator) ClearHistory(ctx context.Context) error {
	o.mu.Lock()
	mode := o.mode
	o.mu.Unlock()
	return o.history.Clear(ctx, mode)
}

// OpenCaseLookup shows the case lookup screen. Clinic only.
func (o *Orchestrator) OpenCaseLookup() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.view != ViewHome {
		return ErrInvalidTransition
	}
	o.transition(ViewCaseLookup, "open case lookup")
	return nil
}

// Lookup resolves a case identifier from either partition. The stored mode
// tag, not the session mode, picks the results view. A miss stays on
// CASE_LOOKUP with ErrCaseNotFound surfaced.
func (o *Orchestrator) Lookup(ctx context.Context, id string) (*history.Entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.view != ViewCaseLookup {
		return nil, ErrInvalidTransition
	}
	entry, err := o.history.FindByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, ErrCaseNotFound
	}
	o.replayLocked(entry, "case lookup")
	return entry, nil
}

// replayLocked routes a stored entry to the results view matching its mode
// tag. Callers hold the lock.
func (o *Orchestrator) replayLocked(entry *history.Entry, reason string) {
	res := entry.Result
	o.current = &res
	o.patientName = entry.Summary
	o.emergency = false
	if res.Mode == record.ModePublic {
		o.transition(ViewPublicResults, reason)
	} else {
		o.transition(ViewResults, reason)
	}
}

// OpenAuditLog shows the transition audit trail. Clinic only.
func (o *Orchestrator) OpenAuditLog() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.view != ViewHome {
		return ErrInvalidTransition
	}
	o.transition(ViewAuditLogs, "open audit logs")
	return nil
}

// AuditTrail returns a copy of the recorded transitions, oldest first.
func (o *Orchestrator) AuditTrail() []AuditEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]AuditEvent, len(o.audit))
	copy(out, o.audit)
	return out
}

// SetConnectivity records a connectivity transition. Going online kicks off
// the queue flush in the background; its settle delay and in-flight guard
// make flapping safe.
func (o *Orchestrator) SetConnectivity(online bool) {
	o.mu.Lock()
	wasOnline := o.online
	o.online = online
	o.mu.Unlock()

	if online && !wasOnline {
		go func() {
			if _, err := o.queue.Flush(context.Background()); err != nil {
				o.logger.Error().Err(err).Msg("queue flush failed")
			}
		}()
	}
}

// SetLanguage selects the classifier output language.
func (o *Orchestrator) SetLanguage(lang record.Language) {
	o.mu.Lock()
	o.language = lang
	o.mu.Unlock()
}

// Notifications exposes the session's notification feed.
func (o *Orchestrator) Notifications() *notify.Center { return o.notes }

// Snapshot returns a read-only view of the session state for rendering.
func (o *Orchestrator) Snapshot(ctx context.Context) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return State{
		View:                o.view,
		Mode:                o.mode,
		Role:                o.role,
		Language:            o.language,
		Online:              o.online,
		Analyzing:           o.analyzing,
		Emergency:           o.emergency,
		PendingQueue:        o.queue.PendingCount(ctx),
		UnreadNotifications: o.notes.UnreadCount(),
		PatientName:         o.patientName,
		Result:              o.current,
	}
}
