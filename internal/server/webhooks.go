package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	payoutdomain "github.com/svarade/payoutcore/internal/payout/domain"
)

func (s *Server) HandleProviderWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	headers := make(map[string]string, len(c.Request.Header))
	for name := range c.Request.Header {
		headers[name] = c.Request.Header.Get(name)
	}

	err = s.webhookSvc.Handle(c.Request.Context(), provider, payload, headers)
	if err != nil {
		// A replay was already applied once; answering 200 stops the
		// provider from redelivering it forever.
		if errors.Is(err, payoutdomain.ErrDuplicateWebhook) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
