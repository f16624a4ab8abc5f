package handler

import (
	"io"

	"mccapes-reconciler/internal/core/domain"
	"mccapes-reconciler/internal/core/ports"
	"mccapes-reconciler/pkg/logger"
	"mccapes-reconciler/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// WebhookHandler receives provider payment webhooks.
//
// Once the caller is authenticated the answer is always 200 "OK": providers
// retry on anything else, and the poll path picks up whatever was missed.
type WebhookHandler struct {
	ingestSvc ports.WebhookIngestService
	log       zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(ingestSvc ports.WebhookIngestService, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		ingestSvc: ingestSvc,
		log:       logger.Component(log, "webhook_handler"),
	}
}

// BlockCypher handles POST /api/v1/webhooks/blockcypher?chain=<hint>.
func (h *WebhookHandler) BlockCypher(c *gin.Context) {
	h.ingest(c, domain.ProviderBlockCypher, c.Query("chain"))
}

// Helius handles POST /api/v1/webhooks/helius.
func (h *WebhookHandler) Helius(c *gin.Context) {
	h.ingest(c, domain.ProviderHelius, c.Query("chain"))
}

func (h *WebhookHandler) ingest(c *gin.Context, provider domain.Provider, chainHint string) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.log.Warn().Err(err).Str("provider", string(provider)).Msg("failed to read webhook body")
		response.Ack(c)
		return
	}

	report, err := h.ingestSvc.Ingest(c.Request.Context(), provider, chainHint, body)
	if err != nil {
		h.log.Error().Err(err).
			Str("provider", string(provider)).
			Str("chain_hint", chainHint).
			Str("request_id", c.GetString("request_id")).
			Msg("webhook ingestion failed")
		response.Ack(c)
		return
	}

	h.log.Info().
		Str("provider", string(provider)).
		Int("notices", report.Notices).
		Int("settled", report.Settled).
		Int("duplicates", report.Duplicates).
		Int("errors", report.Errors).
		Msg("webhook processed")
	response.Ack(c)
}
