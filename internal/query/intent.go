// Package query enriches every inbound query before adapter fan-out:
// intent classification, context prediction, and strategy selection,
// executed as a short synchronous pipeline with a hard latency target.
package query

import (
	"sort"
	"strings"
)

// Intent is the closed set of query intents.
type Intent string

const (
	IntentFindRunbook       Intent = "find-runbook"
	IntentGetProcedure      Intent = "get-procedure"
	IntentTroubleshoot      Intent = "troubleshoot"
	IntentEmergencyResponse Intent = "emergency-response"
	IntentEscalationPath    Intent = "escalation-path"
	IntentGeneralSearch     Intent = "general-search"
)

// IntentResult is one classified intent candidate.
type IntentResult struct {
	Intent     Intent
	Confidence float64
}

// intentRule maps keyword signals to an intent. Each matching strong
// keyword adds 0.6 and each matching weak keyword 0.25, capped at 1.0.
type intentRule struct {
	intent Intent
	strong []string
	weak   []string
}

var intentRules = []intentRule{
	{
		intent: IntentFindRunbook,
		strong: []string{"runbook", "playbook"},
		weak:   []string{"alert", "respond to", "handle"},
	},
	{
		intent: IntentGetProcedure,
		strong: []string{"procedure", "steps", "how do i", "how to"},
		weak:   []string{"command", "instructions"},
	},
	{
		intent: IntentTroubleshoot,
		strong: []string{"troubleshoot", "debug", "diagnose", "why is"},
		weak:   []string{"failing", "broken", "error", "not working"},
	},
	{
		intent: IntentEmergencyResponse,
		strong: []string{"outage", "down", "emergency", "sev1", "incident"},
		weak:   []string{"critical", "urgent", "production"},
	},
	{
		intent: IntentEscalationPath,
		strong: []string{"escalate", "escalation", "on-call", "oncall", "page"},
		weak:   []string{"contact", "who"},
	},
}

// ClassifierConfig tunes intent classification.
type ClassifierConfig struct {
	// ConfidenceThreshold below which the classifier either surfaces
	// multiple candidates (multi-intent) or falls back to general-search.
	ConfidenceThreshold float64

	// MultiIntent surfaces all candidates above a floor when the top
	// candidate is below the threshold.
	MultiIntent bool
}

// DefaultClassifierConfig returns the engine defaults.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{ConfidenceThreshold: 0.8, MultiIntent: false}
}

// ClassifyIntent maps a free-text query plus optional context to intent
// candidates, best first. The result is never empty: when nothing
// matches, general-search with confidence 0.5 is returned.
func ClassifyIntent(queryText string, queryContext map[string]string, cfg ClassifierConfig) []IntentResult {
	text := strings.ToLower(queryText)
	if sev, ok := queryContext["severity"]; ok {
		text += " " + strings.ToLower(sev)
	}

	var candidates []IntentResult
	for _, rule := range intentRules {
		score := 0.0
		for _, kw := range rule.strong {
			if strings.Contains(text, kw) {
				score += 0.6
			}
		}
		for _, kw := range rule.weak {
			if strings.Contains(text, kw) {
				score += 0.25
			}
		}
		if score > 1.0 {
			score = 1.0
		}
		if score > 0 {
			candidates = append(candidates, IntentResult{Intent: rule.intent, Confidence: score})
		}
	}

	if len(candidates) == 0 {
		return []IntentResult{{Intent: IntentGeneralSearch, Confidence: 0.5}}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	top := candidates[0]
	if top.Confidence >= cfg.ConfidenceThreshold {
		return candidates[:1]
	}
	if cfg.MultiIntent {
		return candidates
	}
	return []IntentResult{{Intent: IntentGeneralSearch, Confidence: top.Confidence}}
}
