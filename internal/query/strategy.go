package query

import "time"

// Approach names a search strategy shape.
type Approach string

const (
	ApproachSemanticHeavy  Approach = "semantic-heavy"
	ApproachFuzzyHeavy     Approach = "fuzzy-heavy"
	ApproachHybridBalanced Approach = "hybrid-balanced"
)

// Weights are the scoring weights a strategy assigns to each signal.
type Weights struct {
	Semantic float64
	Fuzzy    float64
	Metadata float64
	Recency  float64
}

// Strategy is the strategy-selection stage's output: how downstream
// search should weight its signals, how many results to ask for, and
// per-stage time budgets.
type Strategy struct {
	Approach    Approach
	Weights     Weights
	ResultLimit int
	StageBudget time.Duration
	TotalBudget time.Duration
}

// SelectStrategy chooses a search approach from the classified intent
// and the enriched context. Emergencies favor fast fuzzy matching with
// tight budgets; runbook/procedure and escalation lookups favor metadata;
// troubleshooting favors semantic matching; general-search and unknown
// intents get the balanced hybrid.
func SelectStrategy(intent Intent, enriched EnrichedContext) Strategy {
	switch intent {
	case IntentEmergencyResponse:
		s := Strategy{
			Approach:    ApproachFuzzyHeavy,
			Weights:     Weights{Semantic: 0.2, Fuzzy: 0.5, Metadata: 0.2, Recency: 0.1},
			ResultLimit: 5,
			StageBudget: 200 * time.Millisecond,
			TotalBudget: 1 * time.Second,
		}
		if enriched.Urgent {
			s.ResultLimit = 3
		}
		return s

	case IntentFindRunbook, IntentGetProcedure:
		return Strategy{
			Approach:    ApproachHybridBalanced,
			Weights:     Weights{Semantic: 0.3, Fuzzy: 0.2, Metadata: 0.4, Recency: 0.1},
			ResultLimit: 10,
			StageBudget: 500 * time.Millisecond,
			TotalBudget: 3 * time.Second,
		}

	case IntentTroubleshoot:
		return Strategy{
			Approach:    ApproachSemanticHeavy,
			Weights:     Weights{Semantic: 0.5, Fuzzy: 0.2, Metadata: 0.2, Recency: 0.1},
			ResultLimit: 10,
			StageBudget: 500 * time.Millisecond,
			TotalBudget: 3 * time.Second,
		}

	case IntentEscalationPath:
		return Strategy{
			Approach:    ApproachHybridBalanced,
			Weights:     Weights{Semantic: 0.2, Fuzzy: 0.2, Metadata: 0.5, Recency: 0.1},
			ResultLimit: 5,
			StageBudget: 300 * time.Millisecond,
			TotalBudget: 2 * time.Second,
		}

	default: // general-search and any unknown intent
		return BalancedStrategy()
	}
}

// BalancedStrategy is the fallback used when the processor fails or the
// intent is general-search.
func BalancedStrategy() Strategy {
	return Strategy{
		Approach:    ApproachHybridBalanced,
		Weights:     Weights{Semantic: 0.3, Fuzzy: 0.3, Metadata: 0.2, Recency: 0.2},
		ResultLimit: 10,
		StageBudget: 500 * time.Millisecond,
		TotalBudget: 3 * time.Second,
	}
}
