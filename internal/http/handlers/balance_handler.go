package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-txsim/internal/domain"
)

// BalancesResponse lists a principal's token holdings.
type BalancesResponse struct {
	UserID   string                `json:"user_id" example:"alice"`
	Balances []domain.TokenBalance `json:"balances"`
}

// GetBalances godoc
// @ID          getBalances
// @Summary     List token balances of a principal
// @Tags        Balances
// @Produce     json
// @Param       user_id  path  string  true  "Principal id"
// @Success     200  {object}  handlers.BalancesResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /balances/{user_id} [get]
func (h *Handlers) GetBalances(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_id required")
		return
	}
	items, err := h.ledgerSvc.Balances(c.Request.Context(), userID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeLookupFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, BalancesResponse{UserID: userID, Balances: items})
}
