package db

import "time"

// ===========================
// NOTIFICATION RULE MODELS
// ===========================

// NotificationRule defines when a reminder should fire relative to an
// appointment and which template carries it. ProviderID is nil for global
// rules; a provider-specific rule overrides the global one at the same
// minutes_before threshold.
type NotificationRule struct {
	ID            string    `json:"id"`
	TargetRole    string    `json:"target_role"` // patient, provider
	ProviderID    *string   `json:"provider_id,omitempty"`
	MinutesBefore int       `json:"minutes_before"`
	TemplateName  string    `json:"template_name"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}

// IsGlobal reports whether the rule applies to every provider.
func (r NotificationRule) IsGlobal() bool {
	return r.ProviderID == nil
}

const (
	RuleTargetPatient  = "patient"
	RuleTargetProvider = "provider"
)

// ===========================
// APPOINTMENT MODELS
// ===========================

// Appointment is the scheduling row joined with the denormalized contact and
// language fields of both parties. Availability/conflict logic lives in the
// store; this process only reads the result.
type Appointment struct {
	ID              string    `json:"id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes *int      `json:"duration_minutes,omitempty"`
	Type            string    `json:"type"`
	Status          string    `json:"status"`

	PatientID        string `json:"patient_id"`
	PatientName      string `json:"patient_name"`
	PatientPhone     string `json:"patient_phone"`
	PatientLanguage  string `json:"patient_language"`
	ProviderID       string `json:"provider_id"`
	ProviderName     string `json:"provider_name"`
	ProviderPhone    string `json:"provider_phone"`
	ProviderLanguage string `json:"provider_language"`
}

const (
	AppointmentStatusPending   = "pending"
	AppointmentStatusConfirmed = "confirmed"
	AppointmentStatusCheckedIn = "checked_in"
	AppointmentStatusCompleted = "completed"
	AppointmentStatusCancelled = "cancelled"
	AppointmentStatusNoShow    = "no_show"
)

// ===========================
// MESSAGE LOG MODELS
// ===========================

// MessageLog records one delivery attempt. The triple (AppointmentID,
// TemplateName, Phone) is the delivery dedup key: at most one row with a
// successful status may exist per triple. RetryCount never exceeds
// MaxRetryCount; an entry that exhausts it stays failed permanently.
type MessageLog struct {
	ID            string     `json:"id"`
	AppointmentID string     `json:"appointment_id"`
	PatientID     string     `json:"patient_id"`
	TemplateName  string     `json:"template_name"`
	Phone         string     `json:"phone"`
	Message       string     `json:"message"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	LastRetryAt   *time.Time `json:"last_retry_at,omitempty"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	Error         *string    `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

const (
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
	MessageStatusFailed    = "failed"
)

// MaxRetryCount bounds automated resends of a failed message log entry.
const MaxRetryCount = 3

// ===========================
// HANDOFF SESSION MODELS
// ===========================

// HandoffSession tracks a conversation escalated from the bot to a human
// attendant. PatientPhone is the natural key for in-memory membership checks.
// Rows are never deleted; timeout or resolution only flips Status.
type HandoffSession struct {
	ID            string     `json:"id"`
	PatientPhone  string     `json:"patient_phone"`
	PatientID     *string    `json:"patient_id,omitempty"`
	PatientName   *string    `json:"patient_name,omitempty"`
	AttendantID   *string    `json:"attendant_id,omitempty"`
	Reason        string     `json:"reason"`
	Status        string     `json:"status"`
	InstanceName  string     `json:"instance_name"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy    *string    `json:"resolved_by,omitempty"`
	LastMessageAt time.Time  `json:"last_message_at"`
}

const (
	HandoffStatusWaiting  = "waiting"
	HandoffStatusActive   = "active"
	HandoffStatusResolved = "resolved"
)

// HandoffResolvedByTimeout marks sessions closed by the stale sweep rather
// than by an attendant or the patient.
const HandoffResolvedByTimeout = "auto_timeout"

// ===========================
// MESSAGE TEMPLATE MODELS
// ===========================

// MessageTemplate holds the text body for one (name, language) pair.
// Placeholders use the {name} syntax.
type MessageTemplate struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Content  string `json:"content"`
	IsActive bool   `json:"is_active"`
}

// ===========================
// GATEWAY MODELS
// ===========================

// GatewayInstance is one named outbound channel instance reported by the
// messaging gateway. State "open" means connected and usable.
type GatewayInstance struct {
	InstanceName string `json:"instanceName"`
	State        string `json:"state"`
}

const GatewayStateOpen = "open"
