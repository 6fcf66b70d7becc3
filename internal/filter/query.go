package filter

import (
	"strings"

	"reconciliation-workflow/internal/models"
)

// TransactionQuery is the raw, string-typed form of a TransactionFilter as it
// arrives from query parameters or CLI flags. Multi-valued fields accept
// repeated values and comma-separated lists.
type TransactionQuery struct {
	Status      []string
	Confidence  []string
	DateFrom    string
	DateTo      string
	AmountMin   string
	AmountMax   string
	SearchQuery string
}

// AuditQuery is the raw form of an AuditFilter
type AuditQuery struct {
	Category    []string
	Action      []string
	Severity    []string
	ActorType   []string
	DateFrom    string
	DateTo      string
	SearchQuery string
}

// Build converts q into a TransactionFilter. Unknown enum values fail the
// build; bound problems are left for Normalize.
func (q TransactionQuery) Build() (TransactionFilter, error) {
	statuses, err := parseAll(q.Status, models.ParseStatus)
	if err != nil {
		return TransactionFilter{}, err
	}
	levels, err := parseAll(q.Confidence, models.ParseConfidenceLevel)
	if err != nil {
		return TransactionFilter{}, err
	}
	return TransactionFilter{
		Status:          statuses,
		ConfidenceLevel: levels,
		DateFrom:        q.DateFrom,
		DateTo:          q.DateTo,
		AmountMin:       q.AmountMin,
		AmountMax:       q.AmountMax,
		SearchQuery:     q.SearchQuery,
	}, nil
}

// Build converts q into an AuditFilter
func (q AuditQuery) Build() (AuditFilter, error) {
	categories, err := parseAll(q.Category, models.ParseAuditCategory)
	if err != nil {
		return AuditFilter{}, err
	}
	actions, err := parseAll(q.Action, models.ParseAuditAction)
	if err != nil {
		return AuditFilter{}, err
	}
	severities, err := parseAll(q.Severity, models.ParseAuditSeverity)
	if err != nil {
		return AuditFilter{}, err
	}
	actorTypes, err := parseAll(q.ActorType, models.ParseActorType)
	if err != nil {
		return AuditFilter{}, err
	}
	return AuditFilter{
		Category:    categories,
		Action:      actions,
		Severity:    severities,
		ActorType:   actorTypes,
		DateFrom:    q.DateFrom,
		DateTo:      q.DateTo,
		SearchQuery: q.SearchQuery,
	}, nil
}

func parseAll[T any](raw []string, parse func(string) (T, error)) ([]T, error) {
	var out []T
	for _, item := range SplitList(raw) {
		v, err := parse(item)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// SplitList flattens repeated and comma-separated values, dropping blanks
func SplitList(raw []string) []string {
	var out []string
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
