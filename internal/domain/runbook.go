package domain

// ValidateDecisionTree rejects a tree whose branch NextStepID pointers form
// a cycle. Detection happens once, at load time, per the engine's design:
// traversal never re-checks for cycles.
func ValidateDecisionTree(t DecisionTree) error {
	byID := make(map[string]Branch, len(t.Branches))
	for _, b := range t.Branches {
		byID[b.ID] = b
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(t.Branches))

	var visit func(id string) error
	visit = func(id string) error {
		branch, ok := byID[id]
		if !ok {
			return nil // dangling next-step reference; not this function's concern
		}
		switch state[id] {
		case visiting:
			return ErrDecisionTreeCycle
		case done:
			return nil
		}
		state[id] = visiting
		if branch.NextStepID != "" {
			if err := visit(branch.NextStepID); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}

	for _, b := range t.Branches {
		if state[b.ID] == unvisited {
			if err := visit(b.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// FindBranch returns the branch with the given id, if present.
func (t DecisionTree) FindBranch(id string) (Branch, bool) {
	for _, b := range t.Branches {
		if b.ID == id {
			return b, true
		}
	}
	return Branch{}, false
}

// RunbookScore is the weighted-sum score and explanation for a single
// runbook match against an alert signature.
type RunbookScore struct {
	Runbook      Runbook
	Confidence   float64
	MatchReasons []string
}

const (
	weightTriggerOverlap = 0.5
	weightSeverityMatch  = 0.3
	weightSystemOverlap  = 0.2
)

// ScoreRunbook scores a candidate runbook against an alert signature using
// a weighted sum: trigger match, severity match
// (exact=1.0, adjacent=0.5, else 0.0), and affected-system overlap. The
// trigger component is 1.0 when alertType equals one of the declared
// triggers and 0 otherwise; partial token overlap is not scored.
func ScoreRunbook(rb Runbook, alertType string, severity Severity, affectedSystems []string) RunbookScore {
	// An empty signature is a catalogue enumeration: every runbook
	// matches with its own declared confidence.
	if alertType == "" && severity == "" && len(affectedSystems) == 0 {
		conf := rb.Rollup.Confidence
		if conf <= 0 {
			conf = 0.5
		}
		if conf > 1 {
			conf = 1
		}
		return RunbookScore{Runbook: rb, Confidence: conf, MatchReasons: []string{"catalogue listing"}}
	}

	var reasons []string
	var score float64

	if overlap := tokenOverlap(rb.Triggers, alertType); overlap > 0 {
		score += weightTriggerOverlap * overlap
		reasons = append(reasons, "alert type matches trigger")
	}

	if sev, ok := rb.SeverityMap[alertType]; ok {
		switch {
		case sev == severity:
			score += weightSeverityMatch * 1.0
			reasons = append(reasons, "severity matches exactly")
		case sev.Adjacent(severity):
			score += weightSeverityMatch * 0.5
			reasons = append(reasons, "severity is adjacent")
		}
	}

	if len(affectedSystems) > 0 {
		overlapCount := 0
		systemSet := make(map[string]struct{}, len(affectedSystems))
		for _, s := range affectedSystems {
			systemSet[s] = struct{}{}
		}
		for key := range rb.systemsFromMetadata() {
			if _, ok := systemSet[key]; ok {
				overlapCount++
			}
		}
		if overlapCount > 0 {
			frac := float64(overlapCount) / float64(len(affectedSystems))
			score += weightSystemOverlap * frac
			reasons = append(reasons, "affected systems overlap")
		}
	}

	if score > 1.0 {
		score = 1.0
	}

	return RunbookScore{Runbook: rb, Confidence: score, MatchReasons: reasons}
}

// systemsFromMetadata extracts the "systems" metadata entry (comma-separated)
// a runbook document may carry, used only for system-overlap scoring.
func (r Runbook) systemsFromMetadata() map[string]struct{} {
	out := map[string]struct{}{}
	raw, ok := r.Document.Metadata["systems"]
	if !ok {
		return out
	}
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out[raw[start:i]] = struct{}{}
			}
			start = i + 1
		}
	}
	return out
}

func tokenOverlap(triggers []string, alertType string) float64 {
	for _, t := range triggers {
		if t == alertType {
			return 1.0
		}
	}
	return 0.0
}
