package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/svarade/payoutcore/internal/swedishbank"
)

type validateBankAccountRequest struct {
	ClearingNumber string `json:"clearing_number"`
	AccountNumber  string `json:"account_number"`
}

func (s *Server) ValidateBankAccount(c *gin.Context) {
	var req validateBankAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	c.JSON(http.StatusOK, swedishbank.ValidateBankAccount(req.ClearingNumber, req.AccountNumber))
}

type validateNumberRequest struct {
	Number string `json:"number"`
}

func (s *Server) ValidateSwish(c *gin.Context) {
	var req validateNumberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	c.JSON(http.StatusOK, swedishbank.ValidateSwishNumber(req.Number))
}

func (s *Server) ValidateBankgiro(c *gin.Context) {
	var req validateNumberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	c.JSON(http.StatusOK, swedishbank.ValidateBankgiroNumber(req.Number))
}

func (s *Server) ValidateOrganizationNumber(c *gin.Context) {
	var req validateNumberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": swedishbank.ValidateOrganizationNumber(req.Number)})
}
