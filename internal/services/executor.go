// Package services – Executor
//
// Executor applies an already-validated transaction to the store. Every
// store failure is caught where it happens and turned into a descriptive,
// operation-prefixed message on a failed ExecutionResult; Execute never
// returns an error.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"

	"github.com/tbourn/go-txsim/internal/domain"
)

// DefaultTitleMaxLen caps petition titles (runes).
const DefaultTitleMaxLen = 255

// Executor dispatches on the transaction action and performs its writes.
type Executor struct {
	Store Store

	// TitleMaxLen caps stored petition titles by rune length; <= 0 disables.
	TitleMaxLen int

	Log *zerolog.Logger
}

// NewExecutor returns an Executor with default title handling.
func NewExecutor(s Store) *Executor {
	return &Executor{Store: s, TitleMaxLen: DefaultTitleMaxLen}
}

func (e *Executor) logger() *zerolog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return &log.Logger
}

// Execute performs tx. tx.ID must already be assigned.
func (e *Executor) Execute(ctx context.Context, tx *domain.Transaction) domain.ExecutionResult {
	ctx, span := otel.Tracer("services/Executor").Start(ctx, "Execute",
		trace.WithAttributes(
			attribute.String("tx.id", tx.ID),
			attribute.String("tx.action", string(tx.Action)),
		),
	)
	defer span.End()

	var (
		result map[string]any
		err    error
	)
	if tx.Payload == nil || tx.Payload.Action() != tx.Action {
		err = errUnsupported
	} else {
		switch p := tx.Payload.(type) {
		case domain.TransferPayload:
			result, err = e.transfer(ctx, tx, p)
		case domain.ClaimPayload:
			result, err = e.claim(ctx, tx, p)
		case domain.ProposalPayload:
			result, err = e.propose(ctx, tx, p)
		case domain.VotePayload:
			result, err = e.vote(ctx, tx, p)
		default:
			err = errUnsupported
		}
	}

	if err != nil {
		span.SetAttributes(attribute.String("tx.error", err.Error()))
		return domain.ExecutionResult{
			Success:       false,
			TransactionID: tx.ID,
			Error:         err.Error(),
			ErrorKind:     errorKind(err),
		}
	}
	return domain.ExecutionResult{
		Success:       true,
		TransactionID: tx.ID,
		Result:        result,
	}
}

var errUnsupported = errors.New("unsupported action type")

// errorKind classifies executor failures. Business conflicts are reported
// as conflict; everything else came from the store.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyVoted), errors.Is(err, ErrInsufficientBalance):
		return domain.ErrorKindConflict
	case errors.Is(err, errUnsupported):
		return domain.ErrorKindValidation
	default:
		return domain.ErrorKindStore
	}
}

// transfer moves tokens from sender to recipient. With a Transactor store the
// debit, credit and transfer record commit or roll back together. Otherwise a
// failed credit triggers one compensating re-credit of the sender.
func (e *Executor) transfer(ctx context.Context, tx *domain.Transaction, p domain.TransferPayload) (map[string]any, error) {
	from := p.FromUserID
	if from == "" {
		from = tx.Sender
	}
	rec := &domain.TokenTransfer{
		FromUserID:           from,
		ToUserID:             p.ToUserID,
		TokenID:              p.TokenID,
		Amount:               p.Amount,
		Reason:               p.Reason,
		Status:               string(domain.StatusCompleted),
		TransactionID:        tx.ID,
		TransactionTimestamp: tx.Timestamp,
	}

	if txr, ok := e.Store.(Transactor); ok {
		err := txr.InTx(ctx, func(s Store) error {
			if err := debit(ctx, s, from, p.TokenID, p.Amount); err != nil {
				return err
			}
			if err := s.Credit(ctx, p.ToUserID, p.TokenID, p.Amount); err != nil {
				return fmt.Errorf("failed to update recipient balance: %w", err)
			}
			if err := s.CreateTransfer(ctx, rec); err != nil {
				return fmt.Errorf("failed to record transfer: %w", err)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"transfer_id": rec.ID}, nil
	}

	if err := debit(ctx, e.Store, from, p.TokenID, p.Amount); err != nil {
		return nil, err
	}
	if err := e.Store.Credit(ctx, p.ToUserID, p.TokenID, p.Amount); err != nil {
		err = fmt.Errorf("failed to update recipient balance: %w", err)
		if cerr := e.Store.Credit(ctx, from, p.TokenID, p.Amount); cerr != nil {
			e.logger().Error().Err(cerr).
				Str("tx_id", tx.ID).
				Str("user_id", from).
				Str("token_id", p.TokenID).
				Float64("amount", p.Amount).
				Msg("compensating re-credit failed")
			return nil, fmt.Errorf("%w; compensation failed: %v", err, cerr)
		}
		return nil, err
	}
	if err := e.Store.CreateTransfer(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to record transfer: %w", err)
	}
	return map[string]any{"transfer_id": rec.ID}, nil
}

func debit(ctx context.Context, s Store, userID, tokenID string, amount float64) error {
	err := s.Debit(ctx, userID, tokenID, amount)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInsufficientBalance):
		return err
	default:
		return fmt.Errorf("failed to update sender balance: %w", err)
	}
}

func (e *Executor) claim(ctx context.Context, tx *domain.Transaction, p domain.ClaimPayload) (map[string]any, error) {
	if err := e.Store.Credit(ctx, p.UserID, p.TokenID, p.Amount); err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}
	rec := &domain.TokenClaim{
		UserID:               p.UserID,
		TokenID:              p.TokenID,
		Amount:               p.Amount,
		Reason:               p.Reason,
		ChallengeID:          p.ChallengeID,
		Status:               string(domain.StatusCompleted),
		TransactionID:        tx.ID,
		TransactionTimestamp: tx.Timestamp,
	}
	if err := e.Store.CreateClaim(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to record claim: %w", err)
	}
	return map[string]any{"claim_id": rec.ID}, nil
}

func (e *Executor) propose(ctx context.Context, tx *domain.Transaction, p domain.ProposalPayload) (map[string]any, error) {
	creator := p.CreatorID
	if creator == "" {
		creator = tx.Sender
	}
	rec := &domain.Petition{
		Title:                e.normalizeTitle(p.Title),
		Description:          p.Description,
		CreatorID:            creator,
		Status:               "active",
		TransactionID:        tx.ID,
		TransactionTimestamp: tx.Timestamp,
	}
	if err := e.Store.CreatePetition(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create proposal: %w", err)
	}
	return map[string]any{"petition_id": rec.ID}, nil
}

func (e *Executor) vote(ctx context.Context, tx *domain.Transaction, p domain.VotePayload) (map[string]any, error) {
	voted, err := e.Store.HasVoted(ctx, p.PetitionID, p.VoterID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing vote: %w", err)
	}
	if voted {
		return nil, ErrAlreadyVoted
	}
	rec := &domain.PetitionVote{
		PetitionID:           p.PetitionID,
		VoterID:              p.VoterID,
		VoteType:             p.VoteType,
		TransactionID:        tx.ID,
		TransactionTimestamp: tx.Timestamp,
	}
	if err := e.Store.CreateVote(ctx, rec); err != nil {
		// Lost a race with a concurrent vote: the unique index decides.
		if errors.Is(err, ErrAlreadyVoted) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to record vote: %w", err)
	}
	return map[string]any{"vote_id": rec.ID}, nil
}

// normalizeTitle applies NFC, collapses whitespace and clips to TitleMaxLen runes.
func (e *Executor) normalizeTitle(s string) string {
	s = norm.NFC.String(s)
	s = strings.Join(strings.Fields(s), " ")
	if e.TitleMaxLen > 0 && utf8.RuneCountInString(s) > e.TitleMaxLen {
		s = string([]rune(s)[:e.TitleMaxLen])
	}
	return s
}
