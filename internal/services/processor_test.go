package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tbourn/go-txsim/internal/domain"
	"github.com/tbourn/go-txsim/internal/observability"
	"github.com/tbourn/go-txsim/internal/repo"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newProcessor(st Store) *TransactionProcessor {
	p := NewTransactionProcessor(st, ProcessorConfig{}, nil)
	nop := zerolog.Nop()
	p.Log = &nop
	p.Now = func() time.Time { return fixedNow }
	return p
}

func gormBalance(t *testing.T, db *gorm.DB, user, token string) (float64, bool) {
	t.Helper()
	b, err := repo.GetBalance(context.Background(), db, user, token)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, false
	}
	require.NoError(t, err)
	return b.Amount, true
}

func TestSubmit_ProposalEndToEnd(t *testing.T) {
	db := newStoreDB(t)
	ctx := context.Background()
	require.NoError(t, repo.CreditBalance(ctx, db, "alice", "GEN", 15))

	p := newProcessor(NewGormStore(db))
	tx := &domain.Transaction{
		Sender: "alice", Action: domain.ActionGovernanceProposal, Timestamp: "2025-06-01T11:59:00Z",
		Metadata: consented(),
		Payload:  domain.ProposalPayload{Title: "Plant trees", Description: "on main street"},
	}
	res := p.Submit(ctx, tx)

	require.True(t, res.Success, res.Error)
	require.Equal(t, fixedNow.Unix(), res.BlockHeight)
	require.Equal(t, fixedNow.Format(time.RFC3339), res.Timestamp)
	require.Len(t, res.TransactionID, 64)
	require.Equal(t, tx.ID, res.TransactionID)

	pid, _ := res.Result["petition_id"].(string)
	var pet domain.Petition
	require.NoError(t, db.First(&pet, "id = ?", pid).Error)
	require.Equal(t, "active", pet.Status)
	require.Equal(t, res.TransactionID, pet.TransactionID)

	rec, err := repo.GetTransaction(ctx, db, res.TransactionID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, rec.Status)
	require.NotNil(t, rec.Result)
	require.Contains(t, *rec.Result, pid)
}

func TestSubmit_TransferEndToEnd(t *testing.T) {
	db := newStoreDB(t)
	ctx := context.Background()
	require.NoError(t, repo.CreditBalance(ctx, db, "alice", "GOLD", 50))
	require.NoError(t, repo.CreditBalance(ctx, db, "bob", "GOLD", 5))

	res := newProcessor(NewGormStore(db)).Submit(ctx, transferTx("alice", "bob", "GOLD", 30))
	require.True(t, res.Success, res.Error)

	a, _ := gormBalance(t, db, "alice", "GOLD")
	b, _ := gormBalance(t, db, "bob", "GOLD")
	require.Equal(t, 20.0, a)
	require.Equal(t, 35.0, b)

	var tr domain.TokenTransfer
	require.NoError(t, db.First(&tr, "id = ?", res.Result["transfer_id"]).Error)
	require.Equal(t, "completed", tr.Status)
	require.Equal(t, res.TransactionID, tr.TransactionID)
}

func TestSubmit_TransferInsufficientChangesNothing(t *testing.T) {
	db := newStoreDB(t)
	ctx := context.Background()
	require.NoError(t, repo.CreditBalance(ctx, db, "alice", "GOLD", 10))

	res := newProcessor(NewGormStore(db)).Submit(ctx, transferTx("alice", "bob", "GOLD", 30))

	require.False(t, res.Success)
	require.Equal(t, domain.ErrorKindValidation, res.ErrorKind)
	require.Equal(t, "insufficient token balance for transfer", res.Error)
	a, _ := gormBalance(t, db, "alice", "GOLD")
	require.Equal(t, 10.0, a)
	_, ok := gormBalance(t, db, "bob", "GOLD")
	require.False(t, ok)

	n, err := repo.CountTransactions(ctx, db, "")
	require.NoError(t, err)
	require.Zero(t, n, "rejected transactions are not logged")
}

func TestSubmit_VoteUniqueness(t *testing.T) {
	db := newStoreDB(t)
	ctx := context.Background()
	p := newProcessor(NewGormStore(db))

	vote := func(ts string) domain.ExecutionResult {
		return p.Submit(ctx, &domain.Transaction{
			Sender: "alice", Action: domain.ActionGovernanceVote, Timestamp: ts, Metadata: consented(),
			Payload: domain.VotePayload{PetitionID: "p1", VoterID: "alice", VoteType: "yes"},
		})
	}
	first := vote("t1")
	require.True(t, first.Success, first.Error)

	second := vote("t2")
	require.False(t, second.Success)
	require.Equal(t, "already voted on this proposal", second.Error)
	require.Equal(t, domain.ErrorKindConflict, second.ErrorKind)

	rec, err := repo.GetTransaction(ctx, db, second.TransactionID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, rec.Status)
	require.Equal(t, "already voted on this proposal", rec.Error)
}

func TestSubmit_ForcedCreditFailure_RollsBackInStoreTransaction(t *testing.T) {
	db := newStoreDB(t)
	ctx := context.Background()
	require.NoError(t, repo.CreditBalance(ctx, db, "alice", "GOLD", 50))

	// Credits go through INSERT ... ON CONFLICT; the debit is an UPDATE.
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("force_credit_error", func(tx *gorm.DB) {
		if tx.Statement != nil && tx.Statement.Table == "token_balances" {
			tx.AddError(errors.New("forced credit failure"))
		}
	}))

	res := newProcessor(NewGormStore(db)).Submit(ctx, transferTx("alice", "bob", "GOLD", 30))

	require.False(t, res.Success)
	require.Equal(t, domain.ErrorKindStore, res.ErrorKind)
	require.True(t, strings.HasPrefix(res.Error, "failed to update recipient balance: "), res.Error)

	a, _ := gormBalance(t, db, "alice", "GOLD")
	require.Equal(t, 50.0, a, "debit must be rolled back")
	_, ok := gormBalance(t, db, "bob", "GOLD")
	require.False(t, ok)

	var transfers int64
	require.NoError(t, db.Model(&domain.TokenTransfer{}).Count(&transfers).Error)
	require.Zero(t, transfers)

	rec, err := repo.GetTransaction(ctx, db, res.TransactionID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, rec.Status)
}

func TestSubmit_ForcedCreditFailure_CompensatesWithoutTransactor(t *testing.T) {
	st := newMemStore()
	st.set("alice", "GOLD", 50)
	st.creditErr = func(user string, _ int) error {
		if user == "bob" {
			return errors.New("forced")
		}
		return nil
	}

	res := newProcessor(st).Submit(context.Background(), transferTx("alice", "bob", "GOLD", 30))

	require.False(t, res.Success)
	require.Equal(t, 50.0, st.bal("alice", "GOLD"))
	require.Equal(t, domain.StatusFailed, st.txs[res.TransactionID].Status)
}

func TestSubmit_ValidationFailureWritesNothing(t *testing.T) {
	st := newMemStore()
	res := newProcessor(st).Submit(context.Background(), &domain.Transaction{Action: domain.ActionTokenClaim})

	require.False(t, res.Success)
	require.Equal(t, domain.ErrorKindValidation, res.ErrorKind)
	require.True(t, strings.HasPrefix(res.Error, "sender is required; timestamp is required"), res.Error)
	require.Zero(t, st.writes)
	require.Empty(t, st.txs)
}

func TestSubmit_CompletedResubmissionIsReplayed(t *testing.T) {
	st := newMemStore()
	p := newProcessor(st)
	mk := func() *domain.Transaction {
		return &domain.Transaction{
			Sender: "alice", Action: domain.ActionTokenClaim, Timestamp: "t1",
			Payload: domain.ClaimPayload{UserID: "alice", TokenID: "GEN", Amount: 15, ChallengeID: "c"},
		}
	}

	first := p.Submit(context.Background(), mk())
	require.True(t, first.Success, first.Error)
	require.False(t, first.Replayed)

	second := p.Submit(context.Background(), mk())
	require.True(t, second.Success)
	require.True(t, second.Replayed)
	require.Equal(t, first.TransactionID, second.TransactionID)
	require.Equal(t, first.Result["claim_id"], second.Result["claim_id"])
	require.Equal(t, 15.0, st.bal("alice", "GEN"), "replay must not credit twice")
	require.Len(t, st.claims, 1)
}

func TestSubmit_CompletedTransferResubmissionIsReplayed(t *testing.T) {
	st := newMemStore()
	st.set("alice", "GOLD", 50)
	p := newProcessor(st)

	first := p.Submit(context.Background(), transferTx("alice", "bob", "GOLD", 30))
	require.True(t, first.Success, first.Error)

	// alice now holds 20, below the amount; the stored outcome still answers.
	retry := transferTx("alice", "bob", "GOLD", 30)
	second := p.Submit(context.Background(), retry)
	require.True(t, second.Success, second.Error)
	require.True(t, second.Replayed)
	require.Equal(t, first.TransactionID, second.TransactionID)
	require.Equal(t, first.TransactionID, retry.ID)
	require.Equal(t, first.Result["transfer_id"], second.Result["transfer_id"])
	require.Equal(t, 20.0, st.bal("alice", "GOLD"))
	require.Equal(t, 30.0, st.bal("bob", "GOLD"))
	require.Len(t, st.transfers, 1)
}

func TestSubmit_FailedTransferResubmissionIsRevalidated(t *testing.T) {
	st := newMemStore()
	st.set("alice", "GOLD", 50)
	tx := transferTx("alice", "bob", "GOLD", 80)
	id, err := TransactionID(tx.Sender, tx.Action, tx.Payload, tx.Timestamp)
	require.NoError(t, err)
	st.txs[id] = &domain.TransactionRecord{ID: id, Status: domain.StatusFailed, Error: "earlier failure"}

	res := newProcessor(st).Submit(context.Background(), tx)

	require.False(t, res.Success)
	require.Equal(t, domain.ErrorKindValidation, res.ErrorKind)
	require.Equal(t, "insufficient token balance for transfer", res.Error)
	require.Equal(t, domain.StatusFailed, st.txs[id].Status)
}

func TestSubmit_PendingResubmissionConflicts(t *testing.T) {
	st := newMemStore()
	tx := &domain.Transaction{
		Sender: "alice", Action: domain.ActionTokenClaim, Timestamp: "t1",
		Payload: domain.ClaimPayload{UserID: "alice", TokenID: "GEN", Amount: 1},
	}
	id, err := TransactionID(tx.Sender, tx.Action, tx.Payload, tx.Timestamp)
	require.NoError(t, err)
	st.txs[id] = &domain.TransactionRecord{ID: id, Status: domain.StatusPending}

	res := newProcessor(st).Submit(context.Background(), tx)

	require.False(t, res.Success)
	require.Equal(t, domain.ErrorKindConflict, res.ErrorKind)
	require.Equal(t, "transaction "+id+" is already being processed", res.Error)
	require.Zero(t, st.bal("alice", "GEN"))
}

func TestSubmit_FailedResubmissionRunsAgain(t *testing.T) {
	st := newMemStore()
	st.creditErr = func(_ string, call int) error {
		if call == 1 {
			return errors.New("transient")
		}
		return nil
	}
	p := newProcessor(st)
	mk := func() *domain.Transaction {
		return &domain.Transaction{
			Sender: "alice", Action: domain.ActionTokenClaim, Timestamp: "t1",
			Payload: domain.ClaimPayload{UserID: "alice", TokenID: "GEN", Amount: 4},
		}
	}

	first := p.Submit(context.Background(), mk())
	require.False(t, first.Success)
	require.Equal(t, domain.StatusFailed, st.txs[first.TransactionID].Status)

	second := p.Submit(context.Background(), mk())
	require.True(t, second.Success, second.Error)
	require.False(t, second.Replayed)
	require.Equal(t, domain.StatusCompleted, st.txs[second.TransactionID].Status)
	require.Equal(t, 4.0, st.bal("alice", "GEN"))
}

func TestSubmit_RecordFailureSkipsExecution(t *testing.T) {
	st := newMemStore()
	st.createTxErr = errors.New("readonly")

	res := newProcessor(st).Submit(context.Background(), &domain.Transaction{
		Sender: "alice", Action: domain.ActionTokenClaim, Timestamp: "t",
		Payload: domain.ClaimPayload{UserID: "alice", TokenID: "GEN", Amount: 1},
	})
	require.False(t, res.Success)
	require.Equal(t, "failed to record transaction: readonly", res.Error)
	require.Equal(t, domain.ErrorKindStore, res.ErrorKind)
	require.Zero(t, st.bal("alice", "GEN"))
}

func TestSubmit_StatusUpdateFailureIsLoggedOnly(t *testing.T) {
	st := newMemStore()
	st.updateErr = errors.New("update lost")

	var buf bytes.Buffer
	lg := zerolog.New(&buf)
	p := newProcessor(st)
	p.Log = &lg

	res := p.Submit(context.Background(), &domain.Transaction{
		Sender: "alice", Action: domain.ActionTokenClaim, Timestamp: "t",
		Payload: domain.ClaimPayload{UserID: "alice", TokenID: "GEN", Amount: 2},
	})
	require.True(t, res.Success, res.Error)
	require.Contains(t, buf.String(), `"level":"error"`)
	require.Contains(t, buf.String(), "failed to update transaction status")
	require.Contains(t, buf.String(), "update lost")
}

func TestSubmit_StatusUpdateIsRetriedOnce(t *testing.T) {
	st := newMemStore()
	st.updateErrOnce = errors.New("connection reset")

	var buf bytes.Buffer
	lg := zerolog.New(&buf)
	p := newProcessor(st)
	p.Log = &lg

	res := p.Submit(context.Background(), &domain.Transaction{
		Sender: "alice", Action: domain.ActionTokenClaim, Timestamp: "t",
		Payload: domain.ClaimPayload{UserID: "alice", TokenID: "GEN", Amount: 2},
	})
	require.True(t, res.Success, res.Error)
	require.Equal(t, 2, st.updateCalls)
	require.Equal(t, domain.StatusCompleted, st.txs[res.TransactionID].Status)
	require.Contains(t, buf.String(), "retrying transaction status update")
	require.NotContains(t, buf.String(), `"level":"error"`)
}

func TestSubmit_ExecutorPanicMarksRecordFailed(t *testing.T) {
	st := newMemStore()
	st.set("alice", "GEN", 15)
	st.panicOnPetition = true
	p := newProcessor(st)
	mk := func() *domain.Transaction {
		return &domain.Transaction{
			Sender: "alice", Action: domain.ActionGovernanceProposal, Timestamp: "2025-06-01T11:59:00Z",
			Metadata: consented(),
			Payload:  domain.ProposalPayload{Title: "Plant trees"},
		}
	}

	first := p.Submit(context.Background(), mk())
	require.False(t, first.Success)
	require.Equal(t, domain.ErrorKindInternal, first.ErrorKind)
	require.Equal(t, "internal error: store exploded", first.Error)
	require.Len(t, first.TransactionID, 64)

	rec := st.txs[first.TransactionID]
	require.NotNil(t, rec)
	require.Equal(t, domain.StatusFailed, rec.Status)
	require.Equal(t, "internal error: store exploded", rec.Error)

	// The id is not stuck behind a pending record.
	st.panicOnPetition = false
	second := p.Submit(context.Background(), mk())
	require.True(t, second.Success, second.Error)
	require.False(t, second.Replayed)
	require.Equal(t, first.TransactionID, second.TransactionID)
	require.Equal(t, domain.StatusCompleted, st.txs[second.TransactionID].Status)
	require.Len(t, st.petitions, 1)
}

func TestSubmit_PanicCleanupFailureIsLogged(t *testing.T) {
	st := newMemStore()
	st.set("alice", "GEN", 15)
	st.panicOnPetition = true
	st.updateErr = errors.New("db gone")

	var buf bytes.Buffer
	lg := zerolog.New(&buf)
	p := newProcessor(st)
	p.Log = &lg

	res := p.Submit(context.Background(), &domain.Transaction{
		Sender: "alice", Action: domain.ActionGovernanceProposal, Timestamp: "t",
		Metadata: consented(),
		Payload:  domain.ProposalPayload{Title: "Plant trees"},
	})
	require.Equal(t, "internal error: store exploded", res.Error)
	require.Equal(t, domain.StatusPending, st.txs[res.TransactionID].Status)
	require.Contains(t, buf.String(), "failed to mark transaction failed")
	require.Contains(t, buf.String(), "db gone")
}

func TestSubmit_PanicBecomesInternalFailure(t *testing.T) {
	st := newMemStore()
	st.panicOnGet = true

	res := newProcessor(st).Submit(context.Background(), &domain.Transaction{
		Sender: "alice", Action: domain.ActionTokenClaim, Timestamp: "t",
		Payload: domain.ClaimPayload{UserID: "alice", TokenID: "GEN", Amount: 2},
	})
	require.False(t, res.Success)
	require.Equal(t, domain.ErrorKindInternal, res.ErrorKind)
	require.Equal(t, "internal error: boom", res.Error)
	require.Equal(t, fixedNow.Unix(), res.BlockHeight)
}

func TestNewTransactionProcessor_ProposalThreshold(t *testing.T) {
	require.Equal(t, DefaultProposalThreshold, NewTransactionProcessor(newMemStore(), ProcessorConfig{}, nil).Validator.ProposalThreshold)

	for _, want := range []float64{0, 2.5} {
		p := NewTransactionProcessor(newMemStore(), ProcessorConfig{ProposalThreshold: &want}, nil)
		require.Equal(t, want, p.Validator.ProposalThreshold)
	}
}

func TestSubmit_ZeroThresholdAllowsAnyProposer(t *testing.T) {
	st := newMemStore()
	zero := 0.0
	p := NewTransactionProcessor(st, ProcessorConfig{ProposalThreshold: &zero}, nil)
	nop := zerolog.Nop()
	p.Log = &nop

	res := p.Submit(context.Background(), &domain.Transaction{
		Sender: "carol", Action: domain.ActionGovernanceProposal, Timestamp: "t",
		Metadata: consented(),
		Payload:  domain.ProposalPayload{Title: "No stake needed"},
	})
	require.True(t, res.Success, res.Error)
	require.Len(t, st.petitions, 1)
}

func TestSubmit_KeepsCallerSuppliedID(t *testing.T) {
	st := newMemStore()
	res := newProcessor(st).Submit(context.Background(), &domain.Transaction{
		ID: "client-id", Sender: "alice", Action: domain.ActionTokenClaim, Timestamp: "t",
		Payload: domain.ClaimPayload{UserID: "alice", TokenID: "GEN", Amount: 2},
	})
	require.True(t, res.Success, res.Error)
	require.Equal(t, "client-id", res.TransactionID)
	require.Contains(t, st.txs, "client-id")
}

func TestSubmit_NilTransaction(t *testing.T) {
	p := newProcessor(newMemStore())
	res := p.Submit(context.Background(), nil)
	require.False(t, res.Success)
	require.Equal(t, "transaction is required", res.Error)
	require.False(t, p.Validate(context.Background(), nil).Valid)
}

func TestSubmit_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	st := newMemStore()
	p := newProcessor(st)
	p.Metrics = observability.NewTxMetrics(reg)

	p.Submit(context.Background(), &domain.Transaction{
		Sender: "alice", Action: domain.ActionTokenClaim, Timestamp: "t",
		Payload: domain.ClaimPayload{UserID: "alice", TokenID: "GEN", Amount: 2},
	})
	p.Submit(context.Background(), &domain.Transaction{Action: domain.ActionTokenClaim})

	n, err := testutil.GatherAndCount(reg, "txsim_transactions_total")
	require.NoError(t, err)
	require.Equal(t, 2, n, "one series per outcome")
}

func TestValidate_DryRunDoesNotWrite(t *testing.T) {
	st := newMemStore()
	st.set("alice", "GOLD", 50)
	vr := newProcessor(st).Validate(context.Background(), transferTx("alice", "bob", "GOLD", 30))
	require.True(t, vr.Valid, vr.Errors)
	require.Zero(t, st.writes)
	require.Equal(t, 50.0, st.bal("alice", "GOLD"))
}

func TestResultFromRecord(t *testing.T) {
	body := `{"claim_id":"c-1"}`
	bad := `{not json`
	updated := time.Date(2025, 5, 1, 8, 30, 0, 0, time.UTC)

	res, err := ResultFromRecord(&domain.TransactionRecord{ID: "a", Status: domain.StatusCompleted, Result: &body, UpdatedAt: updated})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.True(t, res.Replayed)
	require.Equal(t, "c-1", res.Result["claim_id"])
	require.Equal(t, updated.Unix(), res.BlockHeight)
	require.Equal(t, "2025-05-01T08:30:00Z", res.Timestamp)

	res, err = ResultFromRecord(&domain.TransactionRecord{ID: "b", Status: domain.StatusCompleted, Result: &bad})
	require.Error(t, err)
	require.True(t, res.Success)
	require.Nil(t, res.Result)

	res, err = ResultFromRecord(&domain.TransactionRecord{ID: "c", Status: domain.StatusFailed, Error: "already voted on this proposal"})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.True(t, res.Replayed)
	require.Equal(t, "already voted on this proposal", res.Error)

	res, err = ResultFromRecord(&domain.TransactionRecord{ID: "d", Status: domain.StatusPending})
	require.NoError(t, err)
	require.False(t, res.Replayed)
	require.Equal(t, domain.ErrorKindConflict, res.ErrorKind)
	require.Equal(t, "transaction d is already being processed", res.Error)
}
