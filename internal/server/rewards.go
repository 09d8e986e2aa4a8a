package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	rewarddomain "github.com/svarade/payoutcore/internal/reward/domain"
)

type calculateRewardRequest struct {
	QualityScore   float64  `json:"quality_score"`
	PurchaseAmount int64    `json:"purchase_amount"`
	RiskScore      *float64 `json:"risk_score"`
}

func (s *Server) CalculateReward(c *gin.Context) {
	var req calculateRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	calc, err := s.rewardSvc.Calculate(rewarddomain.CalculationRequest{
		QualityScore:   req.QualityScore,
		PurchaseAmount: req.PurchaseAmount,
		RiskScore:      req.RiskScore,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, calc)
}
