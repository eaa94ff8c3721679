package tools

import (
	"time"

	"github.com/vitaliisemenov/runbook-engine/internal/domain"
)

// EscalationLevel is one rung of the escalation ladder.
type EscalationLevel struct {
	Severity          domain.Severity
	Contacts          []domain.EscalationContact
	Procedure         string
	ResponseTime      time.Duration
	AfterHoursPenalty time.Duration
}

// EscalationCatalogue resolves an alert severity (plus operational
// context) to contacts, procedure text, and an estimated response time.
type EscalationCatalogue struct {
	levels []EscalationLevel
}

// NewEscalationCatalogue builds a catalogue from explicit levels; nil
// levels take the built-in ladder.
func NewEscalationCatalogue(levels []EscalationLevel) *EscalationCatalogue {
	if levels == nil {
		levels = defaultLevels()
	}
	return &EscalationCatalogue{levels: levels}
}

func defaultLevels() []EscalationLevel {
	return []EscalationLevel{
		{
			Severity: domain.SeverityCritical,
			Contacts: []domain.EscalationContact{
				{Name: "Primary on-call", Role: "incident responder", Channel: "pagerduty", Target: "oncall-primary", Order: 1},
				{Name: "Secondary on-call", Role: "incident responder", Channel: "pagerduty", Target: "oncall-secondary", Order: 2},
				{Name: "Engineering manager", Role: "incident commander", Channel: "phone", Target: "em-bridge", Order: 3},
			},
			Procedure:         "Page primary on-call immediately. If no acknowledgement in 5 minutes, page secondary. Open an incident bridge.",
			ResponseTime:      5 * time.Minute,
			AfterHoursPenalty: 5 * time.Minute,
		},
		{
			Severity: domain.SeverityHigh,
			Contacts: []domain.EscalationContact{
				{Name: "Primary on-call", Role: "incident responder", Channel: "pagerduty", Target: "oncall-primary", Order: 1},
				{Name: "Team channel", Role: "notification", Channel: "slack", Target: "#ops-incidents", Order: 2},
			},
			Procedure:         "Page primary on-call and post in the incident channel with the alert details.",
			ResponseTime:      15 * time.Minute,
			AfterHoursPenalty: 15 * time.Minute,
		},
		{
			Severity: domain.SeverityMedium,
			Contacts: []domain.EscalationContact{
				{Name: "Team channel", Role: "notification", Channel: "slack", Target: "#ops-incidents", Order: 1},
			},
			Procedure:         "Post in the incident channel; the on-duty engineer picks it up during working hours.",
			ResponseTime:      1 * time.Hour,
			AfterHoursPenalty: 8 * time.Hour,
		},
		{
			Severity: domain.SeverityLow,
			Contacts: []domain.EscalationContact{
				{Name: "Ticket queue", Role: "notification", Channel: "ticket", Target: "OPS", Order: 1},
			},
			Procedure:         "File a ticket in the operations queue.",
			ResponseTime:      8 * time.Hour,
			AfterHoursPenalty: 16 * time.Hour,
		},
		{
			Severity: domain.SeverityInfo,
			Contacts: []domain.EscalationContact{
				{Name: "Ticket queue", Role: "notification", Channel: "ticket", Target: "OPS", Order: 1},
			},
			Procedure:         "No escalation required; file a ticket if follow-up is useful.",
			ResponseTime:      24 * time.Hour,
			AfterHoursPenalty: 0,
		},
	}
}

// Resolve returns the escalation path for severity. Each failed
// resolution attempt escalates one severity level, capped at critical;
// outside business hours the estimated response time grows by the
// level's after-hours penalty.
func (c *EscalationCatalogue) Resolve(severity domain.Severity, businessHours bool, failedAttempts int) (EscalationLevel, bool) {
	rank := severity.Rank()
	if rank < 0 {
		return EscalationLevel{}, false
	}
	if failedAttempts > 0 {
		rank += failedAttempts
		if rank > domain.SeverityCritical.Rank() {
			rank = domain.SeverityCritical.Rank()
		}
	}

	for _, level := range c.levels {
		if level.Severity.Rank() == rank {
			out := level
			if !businessHours {
				out.ResponseTime += level.AfterHoursPenalty
			}
			return out, true
		}
	}
	return EscalationLevel{}, false
}
