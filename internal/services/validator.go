// Package services – Validator
//
// Validator decides whether a Transaction may be executed. It only reads from
// the store (balance lookups) and accumulates every rule violation instead of
// stopping at the first one, so callers see all problems in one round trip.
package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-txsim/internal/domain"
)

// Defaults for governance eligibility.
const (
	DefaultGovernanceTokenID = "GEN"
	DefaultProposalThreshold = 10.0
)

// BalanceReader is the read-only slice of Store used during validation.
type BalanceReader interface {
	GetBalance(ctx context.Context, userID, tokenID string) (float64, error)
}

// Validator checks transactions against structural, consent and
// balance rules.
type Validator struct {
	Balances BalanceReader

	// GovernanceTokenID is the token whose balance gates proposals.
	GovernanceTokenID string
	// ProposalThreshold is the minimum governance balance to open a proposal.
	ProposalThreshold float64
}

// NewValidator returns a Validator using the default governance settings.
func NewValidator(b BalanceReader) *Validator {
	return &Validator{
		Balances:          b,
		GovernanceTokenID: DefaultGovernanceTokenID,
		ProposalThreshold: DefaultProposalThreshold,
	}
}

// Validate reports whether tx is admissible. Valid is true iff Errors is empty.
func (v *Validator) Validate(ctx context.Context, tx *domain.Transaction) domain.ValidationResult {
	ctx, span := otel.Tracer("services/Validator").Start(ctx, "Validate",
		trace.WithAttributes(
			attribute.String("tx.sender", tx.Sender),
			attribute.String("tx.action", string(tx.Action)),
		),
	)
	defer span.End()

	var errs []string
	add := func(msg string) { errs = append(errs, msg) }

	if strings.TrimSpace(tx.Sender) == "" {
		add("sender is required")
	}
	if strings.TrimSpace(string(tx.Action)) == "" {
		add("action is required")
	} else if !tx.Action.Known() {
		add("unsupported action type: " + string(tx.Action))
	}
	if strings.TrimSpace(tx.Timestamp) == "" {
		add("timestamp is required")
	}

	if tx.Action.RequiresConsent() {
		if !tx.Metadata.ConsentVerified {
			add("explicit consent required")
		}
		if tx.Metadata.ForceApplied {
			add("coercion detected")
		}
	}

	payload := tx.Payload
	if payload == nil {
		payload, _ = domain.DecodePayload(tx.Action, nil)
	}
	if tx.Action.Known() && payload.Action() != tx.Action {
		add("payload does not match action " + string(tx.Action))
	}

	switch p := payload.(type) {
	case domain.TransferPayload:
		v.checkTokenShape(p.Amount, p.TokenID, add)
		if strings.TrimSpace(p.ToUserID) == "" {
			add("to_user_id is required")
		}
		if p.FromUserID != tx.Sender {
			add("sender must be token owner")
		}
		if strings.TrimSpace(p.TokenID) != "" {
			bal, err := v.Balances.GetBalance(ctx, tx.Sender, p.TokenID)
			switch {
			case err != nil:
				add(fmt.Sprintf("failed to verify balance: %v", err))
			case bal < p.Amount:
				add(ErrInsufficientBalance.Error())
			}
		}
	case domain.ClaimPayload:
		v.checkTokenShape(p.Amount, p.TokenID, add)
		if strings.TrimSpace(p.UserID) == "" {
			add("user_id is required")
		}
	case domain.ProposalPayload:
		if strings.TrimSpace(p.Title) == "" {
			add("title is required")
		}
		v.checkEligibility(ctx, tx.Sender, add)
	case domain.VotePayload:
		if strings.TrimSpace(p.PetitionID) == "" {
			add("petition_id is required")
		}
		if strings.TrimSpace(p.VoterID) == "" {
			add("voter_id is required")
		}
		if strings.TrimSpace(p.VoteType) == "" {
			add("vote_type is required")
		}
	}

	span.SetAttributes(attribute.Int("validation.errors", len(errs)))
	return domain.ValidationResult{
		Valid:    len(errs) == 0,
		Errors:   errs,
		Warnings: []string{},
	}
}

func (v *Validator) checkTokenShape(amount float64, tokenID string, add func(string)) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		add("amount must be a positive number")
	}
	if strings.TrimSpace(tokenID) == "" {
		add("token_id is required")
	}
}

// checkEligibility applies the governance-token threshold. A missing balance
// row counts as zero here, unlike the transfer lookup.
func (v *Validator) checkEligibility(ctx context.Context, sender string, add func(string)) {
	token := v.GovernanceTokenID
	if token == "" {
		token = DefaultGovernanceTokenID
	}
	bal, err := v.Balances.GetBalance(ctx, sender, token)
	if errors.Is(err, ErrNoBalance) {
		bal, err = 0, nil
	}
	if err != nil {
		add(fmt.Sprintf("failed to verify governance eligibility: %v", err))
		return
	}
	if bal < v.ProposalThreshold {
		add("insufficient governance tokens to create proposal")
	}
}
