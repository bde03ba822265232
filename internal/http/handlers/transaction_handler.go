// Transaction HTTP handlers.
//
//   - POST /transactions           submit (idempotent with Idempotency-Key)
//   - POST /transactions/validate  dry-run validation
//   - GET  /transactions/{id}      one record
//   - GET  /transactions           paginated log with weak ETag
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-txsim/internal/domain"
	"github.com/tbourn/go-txsim/internal/http/middleware"
	"github.com/tbourn/go-txsim/internal/services"
	"github.com/tbourn/go-txsim/internal/utils"
)

//
// DTOs
//

// TransactionView is the wire form of a persisted transaction record.
// Payload, metadata and result are emitted as JSON rather than strings.
type TransactionView struct {
	ID        string          `json:"id" example:"9f2c4e...e1"`
	Sender    string          `json:"sender" example:"alice"`
	Action    domain.Action   `json:"action" example:"token_transfer"`
	Payload   json.RawMessage `json:"payload" swaggertype:"object"`
	Metadata  json.RawMessage `json:"metadata" swaggertype:"object"`
	Signature string          `json:"signature,omitempty"`
	Timestamp string          `json:"timestamp" example:"2025-06-01T12:00:00Z"`
	Status    domain.TxStatus `json:"status" example:"completed"`
	Result    json.RawMessage `json:"result,omitempty" swaggertype:"object"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ListTransactionsResponse is a page of the transaction log.
type ListTransactionsResponse struct {
	Transactions []TransactionView `json:"transactions"`
	Pagination   Pagination        `json:"pagination"`
}

func toView(rec *domain.TransactionRecord) TransactionView {
	v := TransactionView{
		ID:        rec.ID,
		Sender:    rec.Sender,
		Action:    rec.Action,
		Payload:   rawJSON(rec.Payload),
		Metadata:  rawJSON(rec.Metadata),
		Signature: rec.Signature,
		Timestamp: rec.Timestamp,
		Status:    rec.Status,
		Error:     rec.Error,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if rec.Result != nil {
		v.Result = rawJSON(*rec.Result)
	}
	return v
}

// rawJSON passes stored JSON through and quotes anything that is not JSON.
func rawJSON(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return b
}

// statusFor maps an execution outcome to an HTTP status.
func statusFor(res domain.ExecutionResult) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.ErrorKind {
	case domain.ErrorKindValidation:
		return http.StatusUnprocessableEntity
	case domain.ErrorKindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// listETag fingerprints the sender filter, row count and last update.
func listETag(sender string, count int64, maxTS *time.Time) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(sender))
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	return fmt.Sprintf(`W/"transactions:%x:%d:%d"`, h.Sum64(), count, ts)
}

//
// Handlers
//

// SubmitTransaction godoc
// @ID          submitTransaction
// @Summary     Submit a transaction
// @Description Validates, persists and executes a transaction. The id is derived from
// @Description (sender, action, payload, timestamp) when omitted; resubmitting a completed
// @Description transaction returns its stored result with replayed=true.
// @Description With an Idempotency-Key header, a retry answers with the stored outcome and
// @Description sets `Idempotency-Replayed: true`.
// @Tags        Transactions
// @Accept      json
// @Produce     json
// @Param       X-Principal-ID   header  string  false "Caller identity scoping idempotency keys"  example(alice)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"          example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    domain.Transaction  true  "Transaction"
// @Success     200  {object}  domain.ExecutionResult  "Executed (or replayed)"
// @Failure     400  {object}  handlers.ErrorResponse  "Malformed body"
// @Failure     413  {object}  handlers.ErrorResponse  "Body too large"
// @Failure     409  {object}  domain.ExecutionResult  "Conflict (already voted, in progress, insufficient balance)"
// @Failure     422  {object}  domain.ExecutionResult  "Validation failed"
// @Failure     500  {object}  domain.ExecutionResult  "Store or internal failure"
// @Router      /transactions [post]
func (h *Handlers) SubmitTransaction(c *gin.Context) {
	ctx := c.Request.Context()
	lg := middleware.LoggerFrom(c)

	if rep, found := middleware.ReplayOf(c); found {
		rec, err := h.ledgerSvc.Get(ctx, rep.TransactionID)
		if err == nil {
			res, _ := services.ResultFromRecord(rec)
			c.Header(middleware.HeaderIdempotencyReplayed, "true")
			ok(c, rep.Status, res)
			return
		}
		lg.Warn().Err(err).Str("tx_id", rep.TransactionID).Msg("idempotent replay target unavailable, processing request")
	}

	var tx domain.Transaction
	if !bindTransaction(c, &tx) {
		return
	}

	res := h.txSvc.Submit(ctx, &tx)
	status := statusFor(res)

	if key, has := middleware.GetIdempotencyKey(c); has && h.idem != nil && res.TransactionID != "" && status < http.StatusInternalServerError {
		if err := h.idem.Save(ctx, middleware.Principal(c), key, res.TransactionID, status); err != nil {
			lg.Warn().Err(err).Str("tx_id", res.TransactionID).Msg("failed to store idempotency key")
		}
	}

	ok(c, status, res)
}

// bindTransaction decodes the request body into tx, answering 413 when the
// body limit was hit and 400 for anything else.
func bindTransaction(c *gin.Context, tx *domain.Transaction) bool {
	err := c.ShouldBindJSON(tx)
	if err == nil {
		return true
	}
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "request body too large")
		return false
	}
	fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid transaction: "+err.Error())
	return false
}

// ValidateTransaction godoc
// @ID          validateTransaction
// @Summary     Validate a transaction (dry run)
// @Description Evaluates every validation rule without writing anything.
// @Tags        Transactions
// @Accept      json
// @Produce     json
// @Param       body  body  domain.Transaction  true  "Transaction"
// @Success     200  {object}  domain.ValidationResult
// @Failure     400  {object}  handlers.ErrorResponse  "Malformed body"
// @Router      /transactions/validate [post]
func (h *Handlers) ValidateTransaction(c *gin.Context) {
	var tx domain.Transaction
	if !bindTransaction(c, &tx) {
		return
	}
	ok(c, http.StatusOK, h.txSvc.Validate(c.Request.Context(), &tx))
}

// GetTransaction godoc
// @ID          getTransaction
// @Summary     Get a transaction record
// @Tags        Transactions
// @Produce     json
// @Param       id   path  string  true  "Transaction id (hex SHA-256)"
// @Success     200  {object}  handlers.TransactionView
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /transactions/{id} [get]
func (h *Handlers) GetTransaction(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	rec, err := h.ledgerSvc.Get(c.Request.Context(), id)
	switch {
	case errors.Is(err, services.ErrTransactionNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "transaction not found")
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeLookupFailed, err.Error())
	default:
		ok(c, http.StatusOK, toView(rec))
	}
}

// ListTransactions godoc
// @ID          listTransactions
// @Summary     List transactions
// @Description Newest first. Filter by sender; supports If-None-Match with a weak ETag.
// @Tags        Transactions
// @Produce     json
// @Param       sender     query  string  false "Only this sender's transactions"
// @Param       page       query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListTransactionsResponse
// @Success     304  {string}  string  "Not modified"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /transactions [get]
func (h *Handlers) ListTransactions(c *gin.Context) {
	ctx := c.Request.Context()
	sender := strings.TrimSpace(c.Query("sender"))

	// best effort; a stats failure only disables the conditional response
	if count, maxTS, err := h.ledgerSvc.Stats(ctx, sender); err == nil {
		etag := listETag(sender, count, maxTS)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	page, pageSize := utils.Paginate(c.Query("page"), c.Query("page_size"))
	items, total, err := h.ledgerSvc.ListPage(ctx, sender, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	views := make([]TransactionView, 0, len(items))
	for i := range items {
		views = append(views, toView(&items[i]))
	}
	totalPages := utils.TotalPages(total, pageSize)
	ok(c, http.StatusOK, ListTransactionsResponse{
		Transactions: views,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
