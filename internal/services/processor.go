// Package services – TransactionProcessor
//
// TransactionProcessor is the single write entry point of the simulator. It
// sequences replay lookup → validate → assign id → resubmission check →
// persist pending → execute → record final status, and always answers with an
// ExecutionResult: store failures, business conflicts and even panics are
// folded into a failed result instead of escaping to the caller.
//
// Observability: every Submit is traced (services/TransactionProcessor) and
// counted in txsim_transactions_total / txsim_transaction_duration_seconds.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-txsim/internal/domain"
	"github.com/tbourn/go-txsim/internal/observability"
)

// ProcessorConfig carries the tunables of the validator and executor. Zero
// values keep the defaults, except ProposalThreshold: nil keeps
// DefaultProposalThreshold, and a pointer to 0 disables the balance check.
type ProcessorConfig struct {
	GovernanceTokenID string
	ProposalThreshold *float64
	TitleMaxLen       int
}

// TransactionProcessor orchestrates validation and execution against a Store.
type TransactionProcessor struct {
	Store     Store
	Validator *Validator
	Executor  *Executor

	// Metrics may be nil.
	Metrics *observability.TxMetrics
	// Log defaults to the global zerolog logger.
	Log *zerolog.Logger
	// Now is the clock used for BlockHeight and Timestamp.
	Now func() time.Time
}

// NewTransactionProcessor wires a Validator and Executor over store.
func NewTransactionProcessor(store Store, cfg ProcessorConfig, metrics *observability.TxMetrics) *TransactionProcessor {
	v := NewValidator(store)
	if cfg.GovernanceTokenID != "" {
		v.GovernanceTokenID = cfg.GovernanceTokenID
	}
	if cfg.ProposalThreshold != nil {
		v.ProposalThreshold = *cfg.ProposalThreshold
	}
	e := NewExecutor(store)
	if cfg.TitleMaxLen > 0 {
		e.TitleMaxLen = cfg.TitleMaxLen
	}
	return &TransactionProcessor{
		Store:     store,
		Validator: v,
		Executor:  e,
		Metrics:   metrics,
	}
}

func (p *TransactionProcessor) logger() *zerolog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return &log.Logger
}

func (p *TransactionProcessor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

// Validate is a dry run: it evaluates the validation rules and writes nothing.
func (p *TransactionProcessor) Validate(ctx context.Context, tx *domain.Transaction) domain.ValidationResult {
	if tx == nil {
		return domain.ValidationResult{Valid: false, Errors: []string{"transaction is required"}}
	}
	return p.Validator.Validate(ctx, tx)
}

// Submit validates and executes tx. When tx.ID is empty it is set to the
// deterministic id. Submit never panics and never returns an error; the
// outcome is entirely described by the ExecutionResult.
func (p *TransactionProcessor) Submit(ctx context.Context, tx *domain.Transaction) (res domain.ExecutionResult) {
	if tx == nil {
		return p.finish(failure("", domain.ErrorKindValidation, "transaction is required"))
	}

	started := time.Now()
	ctx, span := otel.Tracer("services/TransactionProcessor").Start(ctx, "Submit",
		trace.WithAttributes(
			attribute.String("tx.sender", tx.Sender),
			attribute.String("tx.action", string(tx.Action)),
		),
	)
	defer span.End()

	outcome := observability.OutcomeFailed
	defer func() {
		p.Metrics.Observe(string(tx.Action), outcome, time.Since(started))
		span.SetAttributes(
			attribute.String("tx.id", res.TransactionID),
			attribute.String("tx.outcome", outcome),
		)
		if !res.Success && outcome != observability.OutcomeRejected {
			span.SetStatus(codes.Error, res.Error)
		}
	}()

	// pending is set once this call owns a pending record for tx.ID.
	var pending bool
	defer func() {
		if r := recover(); r != nil {
			p.logger().Error().
				Str("tx_id", tx.ID).
				Str("action", string(tx.Action)).
				Interface("panic", r).
				Msg("transaction processing panicked")
			outcome = observability.OutcomeFailed
			res = p.finish(failure(tx.ID, domain.ErrorKindInternal, fmt.Sprintf("internal error: %v", r)))
			if pending {
				p.markFailed(ctx, tx.ID, res.Error)
			}
		}
	}()

	// 0. a completed resubmission replays before any balance-dependent rule
	if rec := p.completedRecord(ctx, tx); rec != nil {
		tx.ID = rec.ID
		outcome = observability.OutcomeReplayed
		return p.finish(p.replay(rec))
	}

	// 1. validate
	vr := p.Validator.Validate(ctx, tx)
	if !vr.Valid {
		outcome = observability.OutcomeRejected
		p.logger().Debug().
			Str("sender", tx.Sender).
			Str("action", string(tx.Action)).
			Strs("errors", vr.Errors).
			Msg("transaction rejected")
		return p.finish(failure(tx.ID, domain.ErrorKindValidation, strings.Join(vr.Errors, "; ")))
	}

	// 2. id
	if tx.ID == "" {
		id, err := TransactionID(tx.Sender, tx.Action, tx.Payload, tx.Timestamp)
		if err != nil {
			return p.finish(failure("", domain.ErrorKindInternal, err.Error()))
		}
		tx.ID = id
	}

	// 3. resubmission
	existing, err := p.Store.GetTransaction(ctx, tx.ID)
	switch {
	case err == nil:
		switch existing.Status {
		case domain.StatusCompleted:
			outcome = observability.OutcomeReplayed
			return p.finish(p.replay(existing))
		case domain.StatusPending:
			return p.finish(inProgress(tx.ID))
		default:
			if err := p.Store.ResetTransaction(ctx, tx.ID); err != nil {
				if errors.Is(err, ErrTransactionNotFound) {
					// Someone else reset it first.
					return p.finish(inProgress(tx.ID))
				}
				return p.finish(failure(tx.ID, domain.ErrorKindStore, "failed to record transaction: "+err.Error()))
			}
		}
	case errors.Is(err, ErrTransactionNotFound):
		// 4. persist pending
		rec, err := newRecord(tx)
		if err != nil {
			return p.finish(failure(tx.ID, domain.ErrorKindInternal, err.Error()))
		}
		if err := p.Store.CreateTransaction(ctx, rec); err != nil {
			if errors.Is(err, ErrDuplicateTransaction) {
				return p.finish(inProgress(tx.ID))
			}
			return p.finish(failure(tx.ID, domain.ErrorKindStore, "failed to record transaction: "+err.Error()))
		}
	default:
		return p.finish(failure(tx.ID, domain.ErrorKindStore, "failed to look up transaction: "+err.Error()))
	}
	pending = true

	// 5. execute
	res = p.Executor.Execute(ctx, tx)

	// 6. record final status
	p.recordStatus(ctx, tx.ID, res)
	pending = false

	lg := p.logger()
	if res.Success {
		outcome = observability.OutcomeCompleted
		lg.Info().Str("tx_id", tx.ID).Str("action", string(tx.Action)).Str("sender", tx.Sender).Msg("transaction completed")
	} else {
		lg.Warn().Str("tx_id", tx.ID).Str("action", string(tx.Action)).Str("error_kind", res.ErrorKind).Str("error", res.Error).Msg("transaction failed")
	}
	return p.finish(res)
}

// completedRecord returns the completed record tx would resolve to, or nil.
// Only structurally complete transactions are looked up; anything else, and
// any lookup error, falls through to validation.
func (p *TransactionProcessor) completedRecord(ctx context.Context, tx *domain.Transaction) *domain.TransactionRecord {
	if strings.TrimSpace(tx.Sender) == "" || strings.TrimSpace(tx.Timestamp) == "" ||
		!tx.Action.Known() || tx.Payload == nil || tx.Payload.Action() != tx.Action {
		return nil
	}
	id := tx.ID
	if id == "" {
		var err error
		if id, err = TransactionID(tx.Sender, tx.Action, tx.Payload, tx.Timestamp); err != nil {
			return nil
		}
	}
	rec, err := p.Store.GetTransaction(ctx, id)
	if err != nil || rec.Status != domain.StatusCompleted {
		return nil
	}
	return rec
}

// recordStatus moves the record to completed or failed, retrying once on a
// context detached from the caller. A record that still cannot be updated
// stays pending and is logged; the outcome already produced by the executor
// is not changed.
func (p *TransactionProcessor) recordStatus(ctx context.Context, id string, res domain.ExecutionResult) {
	status, body, msg := domain.StatusFailed, (*string)(nil), res.Error
	if res.Success {
		status, msg = domain.StatusCompleted, ""
		if b, merr := json.Marshal(res.Result); merr == nil {
			s := string(b)
			body = &s
		}
	}
	err := p.Store.UpdateTransactionStatus(ctx, id, status, body, msg)
	if err != nil {
		p.logger().Warn().Err(err).Str("tx_id", id).Msg("retrying transaction status update")
		err = p.Store.UpdateTransactionStatus(context.WithoutCancel(ctx), id, status, body, msg)
	}
	if err != nil {
		p.logger().Error().Err(err).Str("tx_id", id).Bool("success", res.Success).Msg("failed to update transaction status")
	}
}

// markFailed is the best-effort cleanup of a pending record whose processing
// panicked, so a retry of the same id is not stuck behind it.
func (p *TransactionProcessor) markFailed(ctx context.Context, id, msg string) {
	defer func() {
		if r := recover(); r != nil {
			p.logger().Error().Str("tx_id", id).Interface("panic", r).Msg("failed to mark transaction failed")
		}
	}()
	if err := p.Store.UpdateTransactionStatus(context.WithoutCancel(ctx), id, domain.StatusFailed, nil, msg); err != nil {
		p.logger().Error().Err(err).Str("tx_id", id).Msg("failed to mark transaction failed")
	}
}

// replay rebuilds the result of an already completed transaction.
func (p *TransactionProcessor) replay(rec *domain.TransactionRecord) domain.ExecutionResult {
	out, err := ResultFromRecord(rec)
	if err != nil {
		p.logger().Warn().Err(err).Str("tx_id", rec.ID).Msg("stored transaction result is not valid JSON")
	}
	return out
}

// ResultFromRecord rebuilds the outcome persisted on rec, marked as replayed.
// BlockHeight and Timestamp come from the record's last update. A pending
// record yields the in-progress conflict. The error only reports a stored
// result that is not valid JSON; the returned outcome is usable regardless.
func ResultFromRecord(rec *domain.TransactionRecord) (domain.ExecutionResult, error) {
	var (
		out domain.ExecutionResult
		err error
	)
	switch rec.Status {
	case domain.StatusCompleted:
		out = domain.ExecutionResult{Success: true, TransactionID: rec.ID}
		if rec.Result != nil && *rec.Result != "" {
			var m map[string]any
			if err = json.Unmarshal([]byte(*rec.Result), &m); err == nil {
				out.Result = m
			}
		}
	case domain.StatusFailed:
		out = failure(rec.ID, "", rec.Error)
	default:
		out = inProgress(rec.ID)
	}
	out.Replayed = rec.Status != domain.StatusPending
	if !rec.UpdatedAt.IsZero() {
		out.BlockHeight = rec.UpdatedAt.Unix()
		out.Timestamp = rec.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return out, err
}

// finish stamps the simulated block height and completion time.
func (p *TransactionProcessor) finish(res domain.ExecutionResult) domain.ExecutionResult {
	now := p.now()
	res.BlockHeight = now.Unix()
	res.Timestamp = now.Format(time.RFC3339)
	return res
}

func failure(id, kind, msg string) domain.ExecutionResult {
	return domain.ExecutionResult{
		Success:       false,
		TransactionID: id,
		Error:         msg,
		ErrorKind:     kind,
	}
}

func inProgress(id string) domain.ExecutionResult {
	return failure(id, domain.ErrorKindConflict, fmt.Sprintf("transaction %s is already being processed", id))
}

func newRecord(tx *domain.Transaction) (*domain.TransactionRecord, error) {
	payload, err := json.Marshal(tx.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	meta, err := json.Marshal(tx.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return &domain.TransactionRecord{
		ID:        tx.ID,
		Sender:    tx.Sender,
		Action:    tx.Action,
		Payload:   string(payload),
		Metadata:  string(meta),
		Signature: tx.Signature,
		Timestamp: tx.Timestamp,
		Status:    domain.StatusPending,
	}, nil
}
