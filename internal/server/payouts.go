package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	payoutdomain "github.com/svarade/payoutcore/internal/payout/domain"
)

type createPayoutRequest struct {
	BusinessID  string `json:"business_id" binding:"required"`
	CustomerID  string `json:"customer_id" binding:"required"`
	Amount      int64  `json:"amount" binding:"required"`
	Currency    string `json:"currency"`
	Destination struct {
		Rail           string `json:"rail" binding:"required"`
		ClearingNumber string `json:"clearing_number"`
		AccountNumber  string `json:"account_number"`
		SwishNumber    string `json:"swish_number"`
		BankgiroNumber string `json:"bankgiro_number"`
	} `json:"destination" binding:"required"`
	QualityScore   *float64           `json:"quality_score"`
	RiskIndicators map[string]float64 `json:"risk_indicators"`
}

func (s *Server) CreatePayout(c *gin.Context) {
	var req createPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.payoutSvc.RequestPayout(c.Request.Context(), payoutdomain.PayoutInput{
		BusinessID: strings.TrimSpace(req.BusinessID),
		CustomerID: strings.TrimSpace(req.CustomerID),
		Amount:     req.Amount,
		Currency:   strings.TrimSpace(req.Currency),
		Destination: payoutdomain.Destination{
			Rail:           payoutdomain.Rail(strings.TrimSpace(req.Destination.Rail)),
			ClearingNumber: req.Destination.ClearingNumber,
			AccountNumber:  req.Destination.AccountNumber,
			SwishNumber:    req.Destination.SwishNumber,
			BankgiroNumber: req.Destination.BankgiroNumber,
		},
		QualityScore:   req.QualityScore,
		RiskIndicators: req.RiskIndicators,
	})
	if err != nil {
		// Rejections and blocks still carry the persisted request so the
		// caller can show what happened and when to try again.
		switch {
		case errors.Is(err, payoutdomain.ErrBelowMinimum):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"code":           "BELOW_MINIMUM",
				"payout_request": result.PayoutRequest,
			})
		case errors.Is(err, payoutdomain.ErrPayoutBlocked):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"code":           "BLOCKED",
				"block_reason":   result.BlockReason,
				"retry_at":       result.RetryAt,
				"payout_request": result.PayoutRequest,
			})
		default:
			AbortWithError(c, err)
		}
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (s *Server) GetPayout(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	payout, err := s.payoutRepo.GetPayout(c.Request.Context(), s.db, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, payout)
}

func (s *Server) GetTransfer(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	transfer, err := s.payoutSvc.GetTransfer(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, transfer)
}

func parseID(raw string) (snowflake.ID, error) {
	return snowflake.ParseString(strings.TrimSpace(raw))
}
