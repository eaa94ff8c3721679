package domain

import "testing"

func TestValidateDecisionTree_NoCycle(t *testing.T) {
	tree := DecisionTree{
		ID: "dt1",
		Branches: []Branch{
			{ID: "b1", NextStepID: "b2"},
			{ID: "b2", NextStepID: "b3"},
			{ID: "b3"},
		},
	}

	if err := ValidateDecisionTree(tree); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateDecisionTree_Cycle(t *testing.T) {
	tree := DecisionTree{
		ID: "dt1",
		Branches: []Branch{
			{ID: "b1", NextStepID: "b2"},
			{ID: "b2", NextStepID: "b1"},
		},
	}

	err := ValidateDecisionTree(tree)
	if err != ErrDecisionTreeCycle {
		t.Fatalf("expected ErrDecisionTreeCycle, got %v", err)
	}
}

func TestScoreRunbook_ExactMatch(t *testing.T) {
	rb := Runbook{
		Triggers:    []string{"disk_space"},
		SeverityMap: map[string]Severity{"disk_space": SeverityCritical},
	}
	rb.Document.Metadata = map[string]string{"systems": "web-01,web-02"}

	score := ScoreRunbook(rb, "disk_space", SeverityCritical, []string{"web-01"})

	if score.Confidence <= 0 {
		t.Fatalf("expected positive confidence, got %f", score.Confidence)
	}
	if len(score.MatchReasons) == 0 {
		t.Fatal("expected match reasons to be populated")
	}
}

func TestScoreRunbook_NoMatch(t *testing.T) {
	rb := Runbook{Triggers: []string{"oom"}}

	score := ScoreRunbook(rb, "disk_space", SeverityLow, nil)

	if score.Confidence != 0 {
		t.Fatalf("expected zero confidence, got %f", score.Confidence)
	}
}

func TestSeverity_Adjacent(t *testing.T) {
	if !SeverityHigh.Adjacent(SeverityCritical) {
		t.Fatal("expected high and critical to be adjacent")
	}
	if SeverityInfo.Adjacent(SeverityCritical) {
		t.Fatal("expected info and critical to not be adjacent")
	}
}
