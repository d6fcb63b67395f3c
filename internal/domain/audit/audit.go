package audit

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Category represents the type of audit event.
type Category string

const (
	CategoryLead     Category = "lead"
	CategoryDispatch Category = "dispatch"
	CategorySystem   Category = "system"
)

// Action represents the action that occurred.
type Action string

const (
	ActionEmailSent Action = "email_sent"
	ActionStart     Action = "start"
	ActionPause     Action = "pause"
	ActionResume    Action = "resume"
	ActionCancel    Action = "cancel"
	ActionExport    Action = "export"
)

// Severity represents the severity level of an audit event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Domain errors
var (
	ErrEmptyResourceID = errors.New("resource ID is required")
)

// Event represents a single audit log entry.
type Event struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Category     Category  `json:"category"`
	Action       Action    `json:"action"`
	Severity     Severity  `json:"severity"`
	ActorID      string    `json:"actor_id"`
	ResourceID   string    `json:"resource_id"`
	ResourceType string    `json:"resource_type"`
	Description  string    `json:"description"`
	Metadata     string    `json:"metadata"`
}

// NewEvent creates a new audit event with the current timestamp.
// PRE: action is non-empty
// POST: Returns an Event with a fresh ID, the current timestamp and info severity
func NewEvent(actorID string, category Category, action Action) Event {
	return Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Category:  category,
		Action:    action,
		Severity:  SeverityInfo,
		ActorID:   actorID,
	}
}

// NewInteraction records that an email reached a lead.
// PRE: leadID is non-empty
// POST: Returns a lead/email_sent event whose description is the subject line
func NewInteraction(leadID, subject string) Event {
	return NewEvent("", CategoryLead, ActionEmailSent).
		WithResource("lead", leadID).
		WithDescription(subject)
}

// Validate checks that the event identifies what it is about.
func (e Event) Validate() error {
	if e.ResourceID == "" && e.Category == CategoryLead {
		return ErrEmptyResourceID
	}
	return nil
}

// WithSeverity sets the severity level.
// PRE: s is valid severity
// POST: Event severity is updated
func (e Event) WithSeverity(s Severity) Event {
	e.Severity = s
	return e
}

// WithResource sets resource information.
// PRE: resourceType and resourceID are non-empty
// POST: Event resource fields are populated
func (e Event) WithResource(resourceType, resourceID string) Event {
	e.ResourceType = resourceType
	e.ResourceID = resourceID
	return e
}

// WithDescription sets the event description.
func (e Event) WithDescription(desc string) Event {
	e.Description = desc
	return e
}

// WithMetadata sets optional JSON metadata.
// PRE: metadata is valid JSON or empty
func (e Event) WithMetadata(metadata string) Event {
	e.Metadata = metadata
	return e
}
