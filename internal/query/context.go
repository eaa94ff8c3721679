package query

import (
	"strings"
	"time"

	"github.com/vitaliisemenov/runbook-engine/internal/domain"
)

// EnrichedContext is the context-prediction stage's output.
type EnrichedContext struct {
	ImpliedSeverity  domain.Severity
	ImpliedSystems   []string
	SuggestedActions []string

	// Incident-flow catalogue match, when one fires.
	FlowID       string
	UrgencyBoost float64

	// Organizational context.
	Urgent        bool
	BusinessHours bool
	Weekend       bool
}

// patternRule enriches the context when any of its keywords appears in
// the query text.
type patternRule struct {
	keywords []string
	severity domain.Severity
	systems  []string
	actions  []string
}

var patternRules = []patternRule{
	{
		keywords: []string{"disk space", "disk full", "no space left"},
		severity: domain.SeverityHigh,
		systems:  []string{"storage"},
		actions:  []string{"check disk usage", "clean up old logs", "expand volume"},
	},
	{
		keywords: []string{"oom", "out of memory", "memory leak"},
		severity: domain.SeverityHigh,
		systems:  []string{"compute"},
		actions:  []string{"check memory usage", "restart affected service", "review recent deploys"},
	},
	{
		keywords: []string{"ssl", "tls", "certificate"},
		severity: domain.SeverityMedium,
		systems:  []string{"ingress"},
		actions:  []string{"check certificate expiry", "verify certificate chain"},
	},
	{
		keywords: []string{"rollback", "bad deploy", "revert"},
		severity: domain.SeverityHigh,
		systems:  []string{"deployment"},
		actions:  []string{"identify last good version", "execute rollback procedure"},
	},
	{
		keywords: []string{"latency", "slow", "timeout"},
		severity: domain.SeverityMedium,
		systems:  []string{"network"},
		actions:  []string{"check upstream latency", "inspect connection pools"},
	},
}

// IncidentFlow is one entry of the incident-flow catalogue: trigger
// predicates plus an urgency boost applied when the flow matches.
type IncidentFlow struct {
	ID               string
	AlertTypes       []string
	Severity         domain.Severity
	SystemCategories []string
	UrgencyBoost     float64
}

// Flow-match predicate weights and threshold.
const (
	flowWeightAlertTypes = 0.4
	flowWeightSeverity   = 0.3
	flowWeightSystems    = 0.3
	flowMatchThreshold   = 0.7
)

// DefaultFlowCatalogue returns the built-in incident flows.
func DefaultFlowCatalogue() []IncidentFlow {
	return []IncidentFlow{
		{
			ID:               "storage-exhaustion",
			AlertTypes:       []string{"disk_space", "inode_exhaustion"},
			Severity:         domain.SeverityCritical,
			SystemCategories: []string{"storage", "database"},
			UrgencyBoost:     0.3,
		},
		{
			ID:               "memory-pressure",
			AlertTypes:       []string{"oom_kill", "memory_pressure"},
			Severity:         domain.SeverityHigh,
			SystemCategories: []string{"compute"},
			UrgencyBoost:     0.2,
		},
		{
			ID:               "certificate-expiry",
			AlertTypes:       []string{"cert_expiry", "tls_handshake_failure"},
			Severity:         domain.SeverityMedium,
			SystemCategories: []string{"ingress"},
			UrgencyBoost:     0.1,
		},
	}
}

// OrgContext supplies the organizational classification the predictor
// consults: which systems count as critical, and the clock.
type OrgContext struct {
	CriticalSystems map[string]bool
	Now             func() time.Time
}

// PredictContext runs the pattern rules, the flow catalogue, and the
// organizational rules over the query and alert signature.
func PredictContext(queryText, alertType string, severity domain.Severity, affectedSystems []string, flows []IncidentFlow, org OrgContext) EnrichedContext {
	text := strings.ToLower(queryText)
	out := EnrichedContext{}

	for _, rule := range patternRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				if rule.severity.Rank() > out.ImpliedSeverity.Rank() {
					out.ImpliedSeverity = rule.severity
				}
				out.ImpliedSystems = appendUnique(out.ImpliedSystems, rule.systems...)
				out.SuggestedActions = appendUnique(out.SuggestedActions, rule.actions...)
				break
			}
		}
	}

	if flow, score := bestFlow(flows, alertType, severity, affectedSystems); score >= flowMatchThreshold {
		out.FlowID = flow.ID
		out.UrgencyBoost = flow.UrgencyBoost
	}

	now := time.Now
	if org.Now != nil {
		now = org.Now
	}
	for _, sys := range affectedSystems {
		if org.CriticalSystems[sys] {
			out.Urgent = true
			break
		}
	}
	t := now()
	out.BusinessHours = t.Hour() >= 9 && t.Hour() < 18
	wd := t.Weekday()
	out.Weekend = wd == time.Saturday || wd == time.Sunday
	if out.Weekend {
		out.BusinessHours = false
	}

	return out
}

// bestFlow scores every catalogue flow against the alert signature:
// alert-type subset match 0.4, severity match 0.3, system-category
// overlap 0.3.
func bestFlow(flows []IncidentFlow, alertType string, severity domain.Severity, affectedSystems []string) (IncidentFlow, float64) {
	var best IncidentFlow
	bestScore := 0.0
	for _, flow := range flows {
		score := 0.0
		for _, at := range flow.AlertTypes {
			if at == alertType {
				score += flowWeightAlertTypes
				break
			}
		}
		if flow.Severity == severity {
			score += flowWeightSeverity
		}
		if overlaps(flow.SystemCategories, affectedSystems) {
			score += flowWeightSystems
		}
		if score > bestScore {
			best, bestScore = flow, score
		}
	}
	return best, bestScore
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y || strings.Contains(y, x) {
				return true
			}
		}
	}
	return false
}

func appendUnique(dst []string, items ...string) []string {
	for _, item := range items {
		seen := false
		for _, existing := range dst {
			if existing == item {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, item)
		}
	}
	return dst
}
