package server

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/svarade/payoutcore/internal/audit/domain"
	payoutdomain "github.com/svarade/payoutcore/internal/payout/domain"
	recondomain "github.com/svarade/payoutcore/internal/reconciliation/domain"
	"github.com/svarade/payoutcore/pkg/db/pagination"
)

func (s *Server) GetDailyReport(c *gin.Context) {
	businessID := strings.TrimSpace(c.Query("business_id"))
	day, err := time.Parse("2006-01-02", strings.TrimSpace(c.Query("date")))
	if businessID == "" || err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	report, err := s.reconSvc.GenerateDailyReport(c.Request.Context(), businessID, day)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

func (s *Server) GetStatusSummary(c *gin.Context) {
	businessID := strings.TrimSpace(c.Query("business_id"))
	day, err := time.Parse("2006-01-02", strings.TrimSpace(c.Param("date")))
	if businessID == "" || err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	summary, err := s.reconSvc.GetStatusSummary(c.Request.Context(), businessID, day)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (s *Server) GetComplianceReport(c *gin.Context) {
	businessID := strings.TrimSpace(c.Query("business_id"))
	start, end, err := parsePeriod(c)
	if businessID == "" || err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	report, err := s.reconSvc.GenerateComplianceReport(c.Request.Context(), businessID, start, end)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

type listAuditQuery struct {
	PageToken  string `form:"page_token"`
	PageSize   int32  `form:"page_size"`
	BusinessID string `form:"business_id"`
	Action     string `form:"action"`
	TargetType string `form:"target_type"`
	TargetID   string `form:"target_id"`
	ActorType  string `form:"actor_type"`
	StartAt    string `form:"start_at"`
	EndAt      string `form:"end_at"`
}

func (s *Server) ListAuditEntries(c *gin.Context) {
	var query listAuditQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var startAt, endAt *time.Time
	if v := strings.TrimSpace(query.StartAt); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
		startAt = &parsed
	}
	if v := strings.TrimSpace(query.EndAt); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
		endAt = &parsed
	}

	resp, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		BusinessID: strings.TrimSpace(query.BusinessID),
		Action:     strings.TrimSpace(query.Action),
		TargetType: strings.TrimSpace(query.TargetType),
		TargetID:   strings.TrimSpace(query.TargetID),
		ActorType:  strings.TrimSpace(query.ActorType),
		StartAt:    startAt,
		EndAt:      endAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Entries, "page_info": resp.PageInfo})
}

func (s *Server) ExportAudit(c *gin.Context) {
	businessID := strings.TrimSpace(c.Query("business_id"))
	start, end, err := parsePeriod(c)
	if businessID == "" || err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	blob, err := s.reconSvc.ExportAudit(c.Request.Context(), businessID, start, end)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="audit-export.bin"`)
	c.Data(http.StatusOK, "application/octet-stream", blob)
}

type providerReportRequest struct {
	WindowStart time.Time `json:"window_start" binding:"required"`
	WindowEnd   time.Time `json:"window_end" binding:"required"`
	Records     []struct {
		ProviderRef string     `json:"provider_ref"`
		Reference   string     `json:"reference"`
		Amount      int64      `json:"amount"`
		Completed   bool       `json:"completed"`
		FailureCode string     `json:"failure_code"`
		SettledAt   *time.Time `json:"settled_at"`
	} `json:"records"`
}

func (s *Server) IngestProviderReport(c *gin.Context) {
	rail := payoutdomain.Rail(strings.TrimSpace(c.Param("rail")))

	var req providerReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	records := make([]recondomain.ProviderRecord, 0, len(req.Records))
	for _, r := range req.Records {
		records = append(records, recondomain.ProviderRecord{
			ProviderRef: r.ProviderRef,
			Reference:   r.Reference,
			Amount:      r.Amount,
			Completed:   r.Completed,
			FailureCode: r.FailureCode,
			SettledAt:   r.SettledAt,
		})
	}

	summary, err := s.reconSvc.ReconcileProvider(c.Request.Context(), rail, records, req.WindowStart, req.WindowEnd)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

type statementRequest struct {
	BusinessID string `json:"business_id" binding:"required"`
	Entries    []struct {
		Reference string    `json:"reference"`
		Amount    int64     `json:"amount"`
		BookedAt  time.Time `json:"booked_at"`
	} `json:"entries" binding:"required"`
}

func (s *Server) MatchBankStatement(c *gin.Context) {
	var req statementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	entries := make([]recondomain.StatementEntry, 0, len(req.Entries))
	for _, e := range req.Entries {
		entries = append(entries, recondomain.StatementEntry{
			Reference: e.Reference,
			Amount:    e.Amount,
			BookedAt:  e.BookedAt,
		})
	}

	result, err := s.reconSvc.MatchBankStatement(c.Request.Context(), strings.TrimSpace(req.BusinessID), entries)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) ListDiscrepancies(c *gin.Context) {
	businessID := strings.TrimSpace(c.Query("business_id"))

	items, err := s.reconRepo.ListOpenDiscrepancies(c.Request.Context(), s.db, businessID, 200)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

type resolveDiscrepancyRequest struct {
	Resolution string `json:"resolution"`
}

func (s *Server) ResolveDiscrepancy(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var req resolveDiscrepancyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.reconSvc.ResolveDiscrepancy(c.Request.Context(), id, req.Resolution); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}

type createInvoiceRequest struct {
	BusinessID  string    `json:"business_id" binding:"required"`
	PeriodStart time.Time `json:"period_start" binding:"required"`
	PeriodEnd   time.Time `json:"period_end" binding:"required"`
}

func (s *Server) CreateCommissionInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	invoice, err := s.reconSvc.GenerateCommissionInvoice(c.Request.Context(), strings.TrimSpace(req.BusinessID), req.PeriodStart, req.PeriodEnd)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, invoice)
}

func (s *Server) GetCommissionSummary(c *gin.Context) {
	businessID := strings.TrimSpace(c.Query("business_id"))
	start, end, err := parsePeriod(c)
	if businessID == "" || err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	summary, err := s.reconSvc.SummarizeCommission(c.Request.Context(), businessID, start, end)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (s *Server) RenderCommissionInvoicePDF(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	doc, err := s.reconSvc.RenderCommissionInvoicePDF(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	data, err := io.ReadAll(doc)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Data(http.StatusOK, "application/pdf", data)
}

type adjustCommissionRequest struct {
	Delta  int64  `json:"delta"`
	Reason string `json:"reason"`
}

func (s *Server) AdjustCommission(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var req adjustCommissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	adjustment, err := s.reconSvc.AdjustCommission(c.Request.Context(), id, req.Delta, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, adjustment)
}

func parsePeriod(c *gin.Context) (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(c.Query("start")))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := time.Parse(time.RFC3339, strings.TrimSpace(c.Query("end")))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}
