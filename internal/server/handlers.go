package server

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/meridianlabs/escrowsync/internal/escrow"
	"github.com/meridianlabs/escrowsync/internal/logging"
)

func errorJSON(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": code, "message": message})
}

// idParam parses a numeric :id path parameter.
func idParam(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_id", "path parameter must be a nonnegative integer")
		return 0, false
	}
	return id, true
}

func (s *Server) transactionStateHandler(c *gin.Context) {
	txID, ok := idParam(c, "id")
	if !ok {
		return
	}

	state, err := s.svc.CurrentState(c.Request.Context(), txID)
	if err != nil {
		logging.L(c.Request.Context()).Error("state resolution failed",
			"transaction", txID, "error", err)
		errorJSON(c, http.StatusBadGateway, "ledger_unavailable", "could not resolve transaction state")
		return
	}
	c.JSON(http.StatusOK, state)
}

// eventEnvelope wraps an event with its kind so stream consumers can
// dispatch without sniffing fields.
type eventEnvelope struct {
	Kind  escrow.EventKind `json:"kind"`
	Event escrow.Event     `json:"event"`
}

func envelopes(events []escrow.Event) []eventEnvelope {
	out := make([]eventEnvelope, len(events))
	for i, ev := range events {
		out[i] = eventEnvelope{Kind: ev.Kind(), Event: ev}
	}
	return out
}

func (s *Server) transactionHistoryHandler(c *gin.Context) {
	txID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var fromBlock uint64
	if raw := c.Query("from_block"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			errorJSON(c, http.StatusBadRequest, "invalid_from_block", "from_block must be a nonnegative integer")
			return
		}
		fromBlock = parsed
	}

	events := s.svc.History(c.Request.Context(), txID, fromBlock)
	c.JSON(http.StatusOK, gin.H{
		"transactionId": txID,
		"fromBlock":     fromBlock,
		"count":         len(events),
		"events":        envelopes(events),
	})
}

func (s *Server) archivedEventsHandler(c *gin.Context) {
	if s.store == nil {
		errorJSON(c, http.StatusServiceUnavailable, "archive_disabled", "no event archive is configured")
		return
	}
	txID, ok := idParam(c, "id")
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			errorJSON(c, http.StatusBadRequest, "invalid_limit", "limit must be a nonnegative integer")
			return
		}
		limit = parsed
	}

	events, err := s.store.EventsByTransaction(c.Request.Context(), txID, limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("archive query failed",
			"transaction", txID, "error", err)
		errorJSON(c, http.StatusInternalServerError, "archive_error", "could not query the event archive")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transactionId": txID,
		"count":         len(events),
		"events":        envelopes(events),
	})
}

func (s *Server) disputeTransactionHandler(c *gin.Context) {
	disputeID, ok := idParam(c, "id")
	if !ok {
		return
	}

	txID := s.resolver.TransactionForDispute(c.Request.Context(), disputeID)
	if txID == escrow.UnknownTransaction {
		errorJSON(c, http.StatusNotFound, "dispute_unresolved", "dispute could not be correlated to a transaction")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"disputeId":     disputeID,
		"transactionId": txID,
	})
}

func (s *Server) evidenceHandler(c *gin.Context) {
	if s.evidence == nil {
		errorJSON(c, http.StatusServiceUnavailable, "evidence_disabled", "no evidence gateway is configured")
		return
	}

	uri := c.Query("uri")
	if uri == "" {
		errorJSON(c, http.StatusBadRequest, "missing_uri", "uri query parameter is required")
		return
	}

	switch c.DefaultQuery("type", "document") {
	case "meta":
		me, err := s.evidence.FetchMetaEvidence(c.Request.Context(), uri)
		if err != nil {
			errorJSON(c, http.StatusBadGateway, "evidence_fetch_failed", err.Error())
			return
		}
		c.JSON(http.StatusOK, me)
	case "document":
		doc, err := s.evidence.FetchDocument(c.Request.Context(), uri)
		if err != nil {
			errorJSON(c, http.StatusBadGateway, "evidence_fetch_failed", err.Error())
			return
		}
		c.JSON(http.StatusOK, doc)
	default:
		errorJSON(c, http.StatusBadRequest, "invalid_type", "type must be document or meta")
	}
}

func (s *Server) addressTransactionsHandler(c *gin.Context) {
	if s.mirror == nil {
		errorJSON(c, http.StatusServiceUnavailable, "mirror_disabled", "no indexer mirror is configured")
		return
	}

	addr := c.Param("address")
	if !common.IsHexAddress(addr) {
		errorJSON(c, http.StatusBadRequest, "invalid_address", "address must be a 0x-prefixed hex address")
		return
	}

	ids, err := s.mirror.TransactionsByAddress(c.Request.Context(), addr)
	if err != nil {
		logging.L(c.Request.Context()).Warn("mirror lookup failed", "address", addr, "error", err)
		errorJSON(c, http.StatusBadGateway, "mirror_unavailable", "indexer mirror did not answer")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address":        addr,
		"transactionIds": ids,
	})
}

func (s *Server) recentEventsHandler(c *gin.Context) {
	if s.store == nil {
		errorJSON(c, http.StatusServiceUnavailable, "archive_disabled", "no event archive is configured")
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			errorJSON(c, http.StatusBadRequest, "invalid_limit", "limit must be in [1,500]")
			return
		}
		limit = parsed
	}

	events, err := s.store.RecentEvents(c.Request.Context(), limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("archive query failed", "error", err)
		errorJSON(c, http.StatusInternalServerError, "archive_error", "could not query the event archive")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":  len(events),
		"events": envelopes(events),
	})
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.checks.CheckAll(c.Request.Context())
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"healthy": healthy,
		"checks":  statuses,
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alive": true})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}
