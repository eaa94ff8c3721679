// Package domain holds the value types shared by every layer of the
// runbook query-serving engine: documents, runbooks, decision trees,
// search results, and the enums that classify them.
package domain

import "time"

// Severity is an ordered incident severity.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Valid reports whether s is one of the closed set of severities.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank returns the ordinal position of s, or -1 if s is not a valid severity.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Adjacent reports whether s and other are one rank apart.
func (s Severity) Adjacent(other Severity) bool {
	r1, r2 := s.Rank(), other.Rank()
	if r1 < 0 || r2 < 0 {
		return false
	}
	diff := r1 - r2
	if diff < 0 {
		diff = -diff
	}
	return diff == 1
}

// SourceType is the closed set of documentation source variants.
type SourceType string

const (
	SourceTypeFile     SourceType = "file"
	SourceTypeWeb      SourceType = "web"
	SourceTypeGitHost  SourceType = "git-host"
	SourceTypeWiki     SourceType = "wiki"
	SourceTypeDatabase SourceType = "database"
	SourceTypeOther    SourceType = "other"
)

// Valid reports whether t is one of the closed set of source types.
func (t SourceType) Valid() bool {
	switch t {
	case SourceTypeFile, SourceTypeWeb, SourceTypeGitHost, SourceTypeWiki, SourceTypeDatabase, SourceTypeOther:
		return true
	}
	return false
}

// DocumentCategory optionally classifies a Document's content.
type DocumentCategory string

const (
	CategoryRunbook   DocumentCategory = "runbook"
	CategoryProcedure DocumentCategory = "procedure"
	CategoryGuide     DocumentCategory = "guide"
	CategoryGeneral   DocumentCategory = "general"
)

// Document is the engine's immutable unit of retrieved content. Identity is
// (SourceName, SourceLocalID); a refresh replaces a Document wholesale, it
// never mutates one in place.
type Document struct {
	SourceName    string
	SourceLocalID string
	Title         string
	Content       string
	Category      DocumentCategory
	LastUpdated   time.Time
	URL           string
	Metadata      map[string]string
}

// ID returns the engine-wide identifier "<source-name>:<source-local-id>".
// SourceLocalID is used as assigned: the adapters do not escape a colon
// inside it, so such a colon appears unescaped in the engine id.
func (d Document) ID() string {
	return d.SourceName + ":" + d.SourceLocalID
}

// RunbookMetadata carries authorship and rollup fields updated by feedback.
type RunbookMetadata struct {
	Author               string
	Confidence           float64
	SuccessRate          *float64
	AverageResolutionMin *float64
}

// Runbook specializes Document with structured incident-response fields.
type Runbook struct {
	Document

	ID                string
	Version           string
	Triggers          []string
	SeverityMap       map[string]Severity
	DecisionTree      DecisionTree
	Procedures        []ProcedureStep
	EscalationPathRef string
	Rollup            RunbookMetadata
}

// DecisionTree is a named DAG of branches guiding an operator through an
// incident. Cycles among branch NextStepID pointers must be rejected at
// load time, never discovered during traversal.
type DecisionTree struct {
	ID            string
	Name          string
	Description   string
	Branches      []Branch
	DefaultAction string
}

// Branch is one node of a DecisionTree.
type Branch struct {
	ID             string
	Condition      string
	Description    string
	Action         string
	NextStepID     string // optional; empty means terminal
	Confidence     float64
	RollbackStepID string // optional
}

// ProcedureStep is one atomic action within a Runbook.
type ProcedureStep struct {
	ID               string
	Name             string
	Description      string
	Command          string   // optional
	ExpectedOutcome  string
	TimeoutSeconds   *int     // optional
	Prerequisites    []string // optional, step ids
	RollbackRef      string   // optional
	ToolsRequired    []string // optional
}

// SearchResult is a ranked item returned from search / search-runbooks.
type SearchResult struct {
	ID             string
	Title          string
	ContentExcerpt string
	SourceName     string
	SourceType     SourceType
	Category       DocumentCategory
	Confidence     float64
	MatchReasons   []string
	RetrievalMS    int64
	LastUpdated    time.Time
	URL            string
	Metadata       map[string]string
}

// CredentialKind enumerates supported source auth descriptor shapes.
type CredentialKind string

const (
	CredentialBearer         CredentialKind = "bearer"
	CredentialBasic          CredentialKind = "basic"
	CredentialAPIKey         CredentialKind = "api-key"
	CredentialOAuth2         CredentialKind = "oauth2"
	CredentialPersonalToken  CredentialKind = "personal-token"
	CredentialAppToken       CredentialKind = "app-token"
	CredentialCookie         CredentialKind = "cookie"
)

// Valid reports whether k is one of the supported credential kinds.
func (k CredentialKind) Valid() bool {
	switch k {
	case CredentialBearer, CredentialBasic, CredentialAPIKey, CredentialOAuth2,
		CredentialPersonalToken, CredentialAppToken, CredentialCookie:
		return true
	}
	return false
}

// AuthDescriptor names the environment variables a credential is resolved
// from when the adapter is initialized; it never carries literal secret
// values.
type AuthDescriptor struct {
	Kind        CredentialKind
	EnvVarNames []string
}

// SourceConfig describes one documentation source.
type SourceConfig struct {
	Name              string
	Type              SourceType
	BaseURL           string
	Paths             []string
	Auth              *AuthDescriptor
	RefreshInterval   time.Duration
	Priority          int // lower = preferred in ties
	Enabled           bool
	CallTimeout       time.Duration
	MaxRetries        int
	CategoryWhitelist []DocumentCategory
}

// EscalationContact is one entry in an escalation path.
type EscalationContact struct {
	Name        string
	Role        string
	Channel     string // e.g. pagerduty, slack, phone
	Target      string
	Order       int
}
