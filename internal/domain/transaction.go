// Package domain defines the core types of the simulator: the request-side
// Transaction with its action-tagged payloads, the validation and execution
// outcomes, and the GORM models persisted by the repository layer.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Action tags a Transaction and selects the shape of its payload.
type Action string

const (
	ActionTokenTransfer      Action = "token_transfer"
	ActionTokenClaim         Action = "token_claim"
	ActionGovernanceProposal Action = "governance_proposal"
	ActionGovernanceVote     Action = "governance_vote"
)

// Known reports whether a is one of the supported action kinds.
func (a Action) Known() bool {
	switch a {
	case ActionTokenTransfer, ActionTokenClaim, ActionGovernanceProposal, ActionGovernanceVote:
		return true
	}
	return false
}

// RequiresConsent reports whether the action passes through the consent gate.
func (a Action) RequiresConsent() bool {
	switch a {
	case ActionTokenTransfer, ActionGovernanceProposal, ActionGovernanceVote:
		return true
	}
	return false
}

// MovesTokens reports whether the payload carries an amount and token id.
func (a Action) MovesTokens() bool {
	return a == ActionTokenTransfer || a == ActionTokenClaim
}

// Payload is the action-specific body of a Transaction. Each variant carries
// only the fields its action uses.
type Payload interface {
	Action() Action
}

// TransferPayload moves Amount of TokenID from FromUserID to ToUserID.
type TransferPayload struct {
	FromUserID string  `json:"from_user_id"`
	ToUserID   string  `json:"to_user_id"`
	TokenID    string  `json:"token_id"`
	Amount     float64 `json:"amount"`
	Reason     string  `json:"reason,omitempty"`
}

func (TransferPayload) Action() Action { return ActionTokenTransfer }

// ClaimPayload credits Amount of TokenID to UserID, usually as a challenge reward.
type ClaimPayload struct {
	UserID      string  `json:"user_id"`
	TokenID     string  `json:"token_id"`
	Amount      float64 `json:"amount"`
	Reason      string  `json:"reason,omitempty"`
	ChallengeID string  `json:"challenge_id,omitempty"`
}

func (ClaimPayload) Action() Action { return ActionTokenClaim }

// ProposalPayload opens a new petition.
type ProposalPayload struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	CreatorID   string `json:"creator_id,omitempty"`
}

func (ProposalPayload) Action() Action { return ActionGovernanceProposal }

// VotePayload casts VoterID's vote on PetitionID.
type VotePayload struct {
	PetitionID string `json:"petition_id"`
	VoterID    string `json:"voter_id"`
	VoteType   string `json:"vote_type"`
}

func (VotePayload) Action() Action { return ActionGovernanceVote }

// RawPayload holds the undecoded payload of a transaction whose action is
// missing or unsupported. It lets the validator report the action instead of
// failing at decode time.
type RawPayload struct {
	Tag  Action
	Data json.RawMessage
}

func (p RawPayload) Action() Action { return p.Tag }

// MarshalJSON emits the original bytes (or null).
func (p RawPayload) MarshalJSON() ([]byte, error) {
	if len(p.Data) == 0 {
		return []byte("null"), nil
	}
	return p.Data, nil
}

// Metadata carries the flags consulted by the consent gate.
type Metadata struct {
	ConsentVerified bool `json:"consent_verified,omitempty"`
	ForceApplied    bool `json:"force_applied,omitempty"`
}

// Transaction is a caller-constructed request to mutate ledger or governance
// state. ID is derived from (Sender, Action, Payload, Timestamp) when empty.
// Signature is carried and persisted but never verified.
type Transaction struct {
	ID        string   `json:"id,omitempty"`
	Sender    string   `json:"sender"`
	Action    Action   `json:"action"`
	Payload   Payload  `json:"payload"`
	Timestamp string   `json:"timestamp"`
	Signature string   `json:"signature,omitempty"`
	Metadata  Metadata `json:"metadata"`
}

// wireTransaction mirrors Transaction with an undecoded payload.
type wireTransaction struct {
	ID        string          `json:"id,omitempty"`
	Sender    string          `json:"sender"`
	Action    Action          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
	Signature string          `json:"signature,omitempty"`
	Metadata  *Metadata       `json:"metadata"`
}

// UnmarshalJSON decodes the payload into the variant selected by "action".
// A payload whose fields have the wrong JSON types is rejected here, before
// the transaction reaches validation.
func (t *Transaction) UnmarshalJSON(b []byte) error {
	var w wireTransaction
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	p, err := DecodePayload(w.Action, w.Payload)
	if err != nil {
		return err
	}
	*t = Transaction{
		ID:        w.ID,
		Sender:    w.Sender,
		Action:    w.Action,
		Payload:   p,
		Timestamp: w.Timestamp,
		Signature: w.Signature,
	}
	if w.Metadata != nil {
		t.Metadata = *w.Metadata
	}
	return nil
}

// DecodePayload turns raw JSON into the Payload variant for action. Missing
// or null payloads decode to the zero variant so that field-level rules can
// report exactly what is absent.
func DecodePayload(action Action, raw json.RawMessage) (Payload, error) {
	empty := len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))

	var dst Payload
	switch action {
	case ActionTokenTransfer:
		var p TransferPayload
		if !empty {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("invalid %s payload: %w", action, err)
			}
		}
		dst = p
	case ActionTokenClaim:
		var p ClaimPayload
		if !empty {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("invalid %s payload: %w", action, err)
			}
		}
		dst = p
	case ActionGovernanceProposal:
		var p ProposalPayload
		if !empty {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("invalid %s payload: %w", action, err)
			}
		}
		dst = p
	case ActionGovernanceVote:
		var p VotePayload
		if !empty {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("invalid %s payload: %w", action, err)
			}
		}
		dst = p
	default:
		dst = RawPayload{Tag: action, Data: append(json.RawMessage(nil), raw...)}
	}
	return dst, nil
}

// ValidationResult reports whether a transaction is admissible. Errors is
// non-empty iff Valid is false; Warnings never block execution.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Error kinds attached to failed execution results.
const (
	ErrorKindValidation = "validation"
	ErrorKindStore      = "store"
	ErrorKindConflict   = "conflict"
	ErrorKindInternal   = "internal"
)

// ExecutionResult is the outcome returned to callers of the processor.
// BlockHeight is simulated from wall-clock seconds and carries no ordering
// guarantee.
type ExecutionResult struct {
	Success       bool           `json:"success"`
	TransactionID string         `json:"transactionId,omitempty"`
	BlockHeight   int64          `json:"blockHeight,omitempty"`
	Timestamp     string         `json:"timestamp,omitempty"`
	Result        map[string]any `json:"result,omitempty"`
	Error         string         `json:"error,omitempty"`
	ErrorKind     string         `json:"errorKind,omitempty"`
	Replayed      bool           `json:"replayed,omitempty"`
}
