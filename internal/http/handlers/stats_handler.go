package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/device-intake/internal/http/middleware"
)

// Health returns queue, archive and inventory counters. When the database
// is unreachable the partial report is returned with 503 so health checks can read
// the reason from the "db" field.
//
// @ID          health
// @Summary     Queue, archive and inventory totals
// @Tags        Stats
// @Produce     json
// @Success     200  {object}  services.Health
// @Failure     503  {object}  services.Health
// @Router      /stats/health [get]
func (h *Handlers) Health(c *gin.Context) {
	report, err := h.statsSvc.Health(c.Request.Context())
	if err != nil {
		if report != nil && report.DB != "ok" {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("health check degraded")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, report)
			return
		}
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, report)
}
