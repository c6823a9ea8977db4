package triage

import (
	"errors"
	"time"

	"github.com/clinix/clinix/internal/domain/record"
	"github.com/clinix/clinix/internal/domain/vitals"
)

// View is one screen of the triage workflow. The orchestrator owns the
// current view; renderers only read it.
type View string

const (
	ViewLogin            View = "LOGIN"
	ViewHome             View = "HOME"
	ViewWizard           View = "WIZARD"
	ViewResults          View = "RESULTS"
	ViewCaseLookup       View = "CASE_LOOKUP"
	ViewHistoryList      View = "HISTORY_LIST"
	ViewSpecialistPortal View = "SPECIALIST_PORTAL"
	ViewAuditLogs        View = "AUDIT_LOGS"
	ViewPublicIntro      View = "PUBLIC_INTRO"
	ViewPublicResults    View = "PUBLIC_RESULTS"
)

// Role is the authenticated clinic role. Public mode carries no role.
type Role string

const (
	RoleDoctor     Role = "doctor"
	RoleNurse      Role = "nurse"
	RoleSpecialist Role = "specialist"
)

// Valid reports whether the role is one the login screen offers.
func (r Role) Valid() bool {
	switch r {
	case RoleDoctor, RoleNurse, RoleSpecialist:
		return true
	}
	return false
}

// AuditEvent records one state transition for the audit log view.
type AuditEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	From      View      `json:"from"`
	To        View      `json:"to"`
	Reason    string    `json:"reason"`
}

var (
	// ErrBusy rejects an operation while a classifier call is in flight.
	ErrBusy = errors.New("triage: analysis already in progress")
	// ErrInvalidTransition rejects an operation not allowed from the
	// current view.
	ErrInvalidTransition = errors.New("triage: operation not allowed in current view")
	// ErrCaseNotFound is the lookup miss, surfaced on CASE_LOOKUP.
	ErrCaseNotFound = errors.New("triage: case not found")
	// ErrNoResult rejects result-consuming operations with no current result.
	ErrNoResult = errors.New("triage: no current result")
)

// SubmitOutcome describes where a wizard submission ended up. Exactly one of
// Blocked, Queued, or Result describes the path taken.
type SubmitOutcome struct {
	// Validation always carries the validator output, including non-blocking
	// range errors shown inline.
	Validation vitals.Result `json:"validation"`
	// Blocked is true when mandatory context vitals were missing and the
	// submission did not leave the wizard.
	Blocked bool `json:"blocked"`
	// Queued is true when the submission was diverted offline; Pending is
	// the queue depth afterwards.
	Queued  bool `json:"queued"`
	Pending int  `json:"pending,omitempty"`
	// Emergency is true when vitals-derived emergency detection fired and
	// the result display must route to the emergency interstitial.
	Emergency bool                 `json:"emergency"`
	Result    *record.StoredResult `json:"result,omitempty"`
	CaseID    string               `json:"case_id,omitempty"`
}

// State is a read-only snapshot of the orchestrator for rendering.
type State struct {
	View                View                 `json:"view"`
	Mode                record.AppMode       `json:"mode"`
	Role                Role                 `json:"role,omitempty"`
	Language            record.Language      `json:"language"`
	Online              bool                 `json:"online"`
	Analyzing           bool                 `json:"analyzing"`
	Emergency           bool                 `json:"emergency"`
	PendingQueue        int                  `json:"pending_queue"`
	UnreadNotifications int                  `json:"unread_notifications"`
	PatientName         string               `json:"patient_name,omitempty"`
	Result              *record.StoredResult `json:"result,omitempty"`
}
