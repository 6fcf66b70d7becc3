package lifecycle

import (
	"strings"

	"reconciliation-workflow/internal/models"
	"reconciliation-workflow/pkg/errors"
)

// Action is a lifecycle command verb
type Action string

const (
	ActionApprove       Action = "approve"
	ActionReject        Action = "reject"
	ActionReanalyze     Action = "reanalyze"
	ActionReconcile     Action = "reconcile"
	ActionManualMatch   Action = "manual_match"
	ActionRematchResult Action = "rematch_result"
)

// AllActions lists every supported action
var AllActions = []Action{
	ActionApprove,
	ActionReject,
	ActionReanalyze,
	ActionReconcile,
	ActionManualMatch,
	ActionRematchResult,
}

func (a Action) String() string { return string(a) }

// IsValid reports whether a is a known action
func (a Action) IsValid() bool {
	for _, known := range AllActions {
		if a == known {
			return true
		}
	}
	return false
}

// ParseAction parses an action name. "match" is accepted for manual_match.
func ParseAction(raw string) (Action, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, "-", "_")
	if key == "match" {
		return ActionManualMatch, nil
	}
	if a := Action(key); a.IsValid() {
		return a, nil
	}
	return "", errors.ValidationError(errors.CodeUnrecognizedValue, "action", raw, nil)
}

// Actor identifies who issues a command
type Actor struct {
	Name      string           `json:"name"`
	Type      models.ActorType `json:"type"`
	IPAddress string           `json:"ipAddress,omitempty"`
}

// Proposal carries a ledger candidate and score from a manual match or from
// the external matcher.
type Proposal struct {
	Ledger *models.LedgerTransaction `json:"ledgerTransaction"`
	Score  float64                   `json:"confidenceScore"`
	// Status is the landing status of a rematch result. Ignored by manual matches.
	Status models.Status `json:"status,omitempty"`
}

// Command is one request to move a record through its lifecycle
type Command struct {
	Action   Action    `json:"action"`
	Actor    Actor     `json:"actor"`
	Note     string    `json:"note,omitempty"`
	Proposal *Proposal `json:"proposal,omitempty"`
}

// Validate checks the command independently of any record
func (c Command) Validate() error {
	if !c.Action.IsValid() {
		return errors.ValidationError(errors.CodeUnrecognizedValue, "action", c.Action, nil)
	}
	if strings.TrimSpace(c.Actor.Name) == "" {
		return errors.ValidationError(errors.CodeMissingField, "actor", c.Actor.Name, nil).
			WithSuggestion("identify the user or system issuing the action")
	}
	if c.Actor.Type != "" && !c.Actor.Type.IsValid() {
		return errors.ValidationError(errors.CodeUnrecognizedValue, "actorType", c.Actor.Type, nil)
	}
	switch c.Action {
	case ActionManualMatch, ActionRematchResult:
		if c.Proposal == nil {
			return errors.ValidationError(errors.CodeMissingField, "proposal", nil, nil)
		}
	}
	return nil
}

// actorType fills in the default actor type for the action
func (c Command) actorType() models.ActorType {
	if c.Actor.Type != "" {
		return c.Actor.Type
	}
	if c.Action == ActionRematchResult {
		return models.ActorAI
	}
	return models.ActorUser
}
