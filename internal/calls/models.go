package calls

import "time"

// Contact is a dialable target. Status, notes and the rest of the contact record
// live outside this module and are never mutated here.
type Contact struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	PhoneNumber string `json:"phone_number" yaml:"phone_number"`

	// Status is read-only here; it only feeds snapshot eligibility.
	Status string `json:"status,omitempty" yaml:"status,omitempty"`
}

// CallState is the provider-agnostic state of one call attempt.
// States are totally ordered for progression: IDLE < DIALING < RINGING < CONNECTED < WRAP_UP.
type CallState string

const (
	StateIdle      CallState = "IDLE"
	StateDialing   CallState = "DIALING"
	StateRinging   CallState = "RINGING"
	StateConnected CallState = "CONNECTED"
	StateWrapUp    CallState = "WRAP_UP"
)

func (s CallState) rank() int {
	switch s {
	case StateIdle:
		return 0
	case StateDialing:
		return 1
	case StateRinging:
		return 2
	case StateConnected:
		return 3
	case StateWrapUp:
		return 4
	default:
		return -1
	}
}

// Precedes reports whether s comes strictly before o in progression order.
func (s CallState) Precedes(o CallState) bool { return s.rank() < o.rank() }

// Terminal reports whether the attempt is sealed.
func (s CallState) Terminal() bool { return s == StateWrapUp }

// EndReason is the closed set of reasons a call attempt ended.
type EndReason string

const (
	EndReasonCustomerHangup  EndReason = "CUSTOMER_HANGUP"
	EndReasonAgentHangup     EndReason = "AGENT_HANGUP"
	EndReasonVoicemail       EndReason = "VOICEMAIL"
	EndReasonNoAnswer        EndReason = "NO_ANSWER"
	EndReasonBusy            EndReason = "BUSY"
	EndReasonFailed          EndReason = "FAILED"
	EndReasonCanceled        EndReason = "CANCELED"
	EndReasonMachineDetected EndReason = "MACHINE_DETECTED"
	EndReasonCallRejected    EndReason = "CALL_REJECTED"
	EndReasonInvalidNumber   EndReason = "INVALID_NUMBER"
	EndReasonNetworkError    EndReason = "NETWORK_ERROR"
	EndReasonTimeout         EndReason = "TIMEOUT"
	EndReasonUnknown         EndReason = "UNKNOWN"
)

// Valid reports whether r belongs to the closed set.
func (r EndReason) Valid() bool {
	switch r {
	case EndReasonCustomerHangup, EndReasonAgentHangup, EndReasonVoicemail, EndReasonNoAnswer,
		EndReasonBusy, EndReasonFailed, EndReasonCanceled, EndReasonMachineDetected,
		EndReasonCallRejected, EndReasonInvalidNumber, EndReasonNetworkError, EndReasonTimeout,
		EndReasonUnknown:
		return true
	default:
		return false
	}
}

// OutcomeUncompleted is the system disposition supplied when a dial failed before connecting.
const OutcomeUncompleted = "uncompleted"

// OutcomeAbandoned is written by stale-lock reclamation.
const OutcomeAbandoned = "abandoned"

// DispositionSource records who supplied the outcome.
type DispositionSource string

const (
	DispositionNone   DispositionSource = ""
	DispositionAuto   DispositionSource = "auto"
	DispositionAgent  DispositionSource = "agent"
	DispositionSystem DispositionSource = "system"
)

// CallAttempt is one dial-to-seal record.
//
// Invariant: an attempt is open while State != WRAP_UP and sealed once it reaches
// WRAP_UP with a non-empty EndReason.
type CallAttempt struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id,omitempty" db:"workspace_id"`
	ContactID   string `json:"contact_id" db:"contact_id"`
	CallerID    string `json:"caller_id" db:"caller_id"`
	PhoneNumber string `json:"phone_number" db:"phone_number"`

	State     CallState `json:"state" db:"state"`
	EndReason EndReason `json:"end_reason,omitempty" db:"end_reason"`

	// DurationSeconds is billable talk time (connected -> ended).
	DurationSeconds int `json:"duration" db:"duration"`

	Outcome           string            `json:"outcome,omitempty" db:"outcome"`
	DispositionSource DispositionSource `json:"disposition_source,omitempty" db:"disposition_source"`
	Notes             string            `json:"notes,omitempty" db:"notes"`
	RecordingURL      string            `json:"recording_url,omitempty" db:"recording_url"`

	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty" db:"connected_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

// Sealed reports whether the attempt reached WRAP_UP with an end reason.
func (a CallAttempt) Sealed() bool {
	return a.State.Terminal() && a.EndReason != ""
}

// ActiveCallLock marks a contact as currently being called.
// At most one row per ContactID exists system-wide (unique index).
type ActiveCallLock struct {
	ID            string    `json:"lock_id" db:"id"`
	ContactID     string    `json:"contact_id" db:"contact_id"`
	CallerID      string    `json:"caller_id" db:"caller_id"`
	PhoneNumber   string    `json:"phone_number" db:"phone_number"`
	CallAttemptID string    `json:"call_attempt_id" db:"call_attempt_id"`
	StartedAt     time.Time `json:"started_at" db:"started_at"`
}

// Refusal reasons returned by the guard. Keep stable; clients match on them.
const (
	ReasonInProgress     = "in progress"
	ReasonCalledRecently = "called recently"
)

// CanCallResult is the advisory pre-dial answer.
type CanCallResult struct {
	Allowed      bool       `json:"allowed"`
	Reason       string     `json:"reason,omitempty"`
	LastCallTime *time.Time `json:"lastCallTime,omitempty"`
	LastCallerID string     `json:"lastCallerId,omitempty"`
}

// StartCallRequest asks the guard for a lock on a contact.
type StartCallRequest struct {
	ContactID   string `json:"contactId"`
	CallerID    string `json:"callerId"`
	PhoneNumber string `json:"phoneNumber"`
}

// StartCallResult identifies the lock and the attempt opened with it.
type StartCallResult struct {
	LockID        string `json:"lockId"`
	CallAttemptID string `json:"callAttemptId"`
}

// EndCallRequest seals an attempt and releases its lock.
type EndCallRequest struct {
	CallAttemptID   string            `json:"callAttemptId"`
	Outcome         string            `json:"outcome"`
	DurationSeconds int               `json:"duration"`
	Notes           string            `json:"notes,omitempty"`
	RecordingURL    string            `json:"recordingUrl,omitempty"`
	EndReason       EndReason         `json:"endReason,omitempty"`
	Source          DispositionSource `json:"source,omitempty"`
}
