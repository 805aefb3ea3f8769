package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/report-queue/internal/api/dto"
	"github.com/example/report-queue/internal/queue"
	"github.com/example/report-queue/internal/report"
	"github.com/example/report-queue/internal/store"
)

// EnqueueReport handles POST /api/reports/enqueue
// Persists a pending record first, then publishes the job to the main queue.
func (h *QueueHandler) EnqueueReport(c *gin.Context) {
	var req dto.EnqueueReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	model := report.ExecutionModel{
		ID:            req.ID,
		ReportID:      req.ReportID,
		TenantID:      req.TenantID,
		User:          req.User,
		Metadata:      req.Metadata,
		Priority:      req.Priority,
		CorrelationID: req.CorrelationID,
	}
	for _, p := range req.Parameters {
		model.Parameters = append(model.Parameters, report.QueryParameter{
			Name:  p.Name,
			Type:  p.Type,
			Value: p.Value,
		})
	}
	model.EnsureID()

	if !model.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "reportId and user are required",
		})
		return
	}

	payload, err := json.Marshal(model)
	if err != nil {
		h.logger.Error("Failed to encode report model", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to encode report",
		})
		return
	}

	headers := map[string]string{}
	if model.CorrelationID != "" {
		headers["correlationId"] = model.CorrelationID
	}

	envelope := queue.Envelope{
		MessageID:  model.ID,
		Payload:    string(payload),
		EnqueuedAt: time.Now().UTC(),
		Headers:    headers,
	}

	record := store.NewPending(envelope.MessageID, h.mainQueueName, envelope.Payload, envelope.Headers, envelope.EnqueuedAt, h.retention)
	if err := h.store.Upsert(c.Request.Context(), record); err != nil {
		h.logger.Error("Failed to persist pending record",
			slog.String("message_id", envelope.MessageID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to persist report job",
		})
		return
	}

	if err := h.queue.EnqueueMain(c.Request.Context(), envelope); err != nil {
		h.logger.Error("Failed to enqueue report",
			slog.String("message_id", envelope.MessageID),
			slog.String("error", err.Error()),
		)
		if markErr := h.store.MarkMovedToError(c.Request.Context(), envelope.MessageID, "enqueue failed: "+err.Error()); markErr != nil {
			h.logger.Error("Failed to mark enqueue failure",
				slog.String("message_id", envelope.MessageID),
				slog.String("error", markErr.Error()),
			)
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to enqueue report",
		})
		return
	}

	h.logger.Info("Report enqueued",
		slog.String("message_id", envelope.MessageID),
		slog.String("report_id", model.ReportID),
	)

	c.JSON(http.StatusAccepted, dto.EnqueueReportResponse{MessageID: envelope.MessageID})
}

// ListMainMessages handles GET /api/queues/main/messages
// Merges a broker peek with unfinished store records, deduplicated by id and
// ordered by enqueue time.
func (h *QueueHandler) ListMainMessages(c *gin.Context) {
	max := h.parseMax(c)

	peeked, err := h.queue.PeekMain(c.Request.Context(), max)
	if err != nil {
		h.logger.Error("Failed to peek main queue", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to peek main queue",
		})
		return
	}

	type entry struct {
		messageID  string
		enqueuedAt time.Time
		headers    map[string]string
		source     string
		status     string
	}

	merged := make(map[string]*entry, len(peeked))
	ids := make([]string, 0, len(peeked))
	for _, item := range peeked {
		key := store.Key(item.MessageID)
		if _, seen := merged[key]; seen {
			continue
		}
		merged[key] = &entry{
			messageID:  item.MessageID,
			enqueuedAt: item.EnqueuedAt,
			headers:    item.Headers,
			source:     "queue",
			status:     "Unknown",
		}
		ids = append(ids, item.MessageID)
	}

	unfinished, err := h.store.LoadUnfinished(c.Request.Context())
	if err != nil {
		h.logger.Warn("Failed to load unfinished records for listing", slog.String("error", err.Error()))
	} else {
		for _, record := range unfinished {
			key := store.Key(record.ID)
			if existing, seen := merged[key]; seen {
				existing.status = string(record.Status)
				continue
			}
			merged[key] = &entry{
				messageID:  record.ID,
				enqueuedAt: record.EnqueuedAt,
				headers:    record.Headers,
				source:     "store",
				status:     string(record.Status),
			}
		}
	}

	if len(ids) > 0 {
		statuses, err := h.store.GetStatuses(c.Request.Context(), ids)
		if err != nil {
			h.logger.Warn("Failed to resolve statuses for listing", slog.String("error", err.Error()))
		} else {
			for key, status := range statuses {
				if existing, seen := merged[key]; seen {
					existing.status = string(status)
				}
			}
		}
	}

	entries := make([]*entry, 0, len(merged))
	for _, e := range merged {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].enqueuedAt.Equal(entries[j].enqueuedAt) {
			return entries[i].enqueuedAt.Before(entries[j].enqueuedAt)
		}
		return store.Key(entries[i].messageID) < store.Key(entries[j].messageID)
	})
	if len(entries) > max {
		entries = entries[:max]
	}

	messages := make([]dto.QueueMessageDTO, len(entries))
	for i, e := range entries {
		messages[i] = dto.QueueMessageDTO{
			MessageID:  e.messageID,
			EnqueuedAt: e.enqueuedAt.UTC().Format(time.RFC3339),
			Status:     e.status,
			Source:     e.source,
			Headers:    e.headers,
		}
	}

	c.JSON(http.StatusOK, dto.ListMessagesResponse{Messages: messages})
}

// ListErrorMessages handles GET /api/queues/error/messages
// Lists error-queue messages with a best-effort resolution of the original
// message id and its persisted status.
func (h *QueueHandler) ListErrorMessages(c *gin.Context) {
	max := h.parseMax(c)

	peeked, err := h.queue.PeekError(c.Request.Context(), max)
	if err != nil {
		h.logger.Error("Failed to peek error queue", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to peek error queue",
		})
		return
	}

	messages := make([]dto.ErrorMessageDTO, 0, len(peeked))
	originalIDs := make([]string, 0, len(peeked))
	for _, item := range peeked {
		message := dto.ErrorMessageDTO{
			MessageID:         item.MessageID,
			OriginalMessageID: item.MessageID,
			OriginalStatus:    "Unknown",
		}
		if envelope, ok := queue.ParseErrorEnvelope(item.Payload); ok {
			message.OriginalMessageID = envelope.OriginalMessageID
			message.ErrorKind = envelope.ErrorKind
			message.ErrorMessage = envelope.ErrorMessage
			if !envelope.FailedAt.IsZero() {
				message.FailedAt = envelope.FailedAt.UTC().Format(time.RFC3339)
			}
		}
		originalIDs = append(originalIDs, message.OriginalMessageID)
		messages = append(messages, message)
	}

	if len(originalIDs) > 0 {
		statuses, err := h.store.GetStatuses(c.Request.Context(), originalIDs)
		if err != nil {
			h.logger.Warn("Failed to resolve original statuses", slog.String("error", err.Error()))
		} else {
			for i := range messages {
				if status, ok := statuses[store.Key(messages[i].OriginalMessageID)]; ok {
					messages[i].OriginalStatus = string(status)
				}
			}
		}
	}

	c.JSON(http.StatusOK, dto.ListErrorMessagesResponse{Messages: messages})
}

// MoveErrorMessage handles POST /api/queues/error/move/:message_id
// Replays one error-queue message back onto the main queue.
func (h *QueueHandler) MoveErrorMessage(c *gin.Context) {
	messageID := strings.TrimSpace(c.Param("message_id"))
	if messageID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "message_id is required",
		})
		return
	}

	moved, err := h.replay.MoveByID(c.Request.Context(), messageID)
	if err != nil {
		h.logger.Error("Failed to move error message",
			slog.String("message_id", messageID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to move error message",
		})
		return
	}

	if !moved {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "message not found on error queue",
		})
		return
	}

	c.JSON(http.StatusOK, dto.MoveResponse{MessageID: messageID, Moved: true})
}

// MoveAllErrorMessages handles POST /api/queues/error/move-all
// Replays every error-queue message back onto the main queue.
func (h *QueueHandler) MoveAllErrorMessages(c *gin.Context) {
	moved, err := h.replay.MoveAll(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to move all error messages",
			slog.Int("moved_before_failure", moved),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to move all error messages",
		})
		return
	}

	c.JSON(http.StatusOK, dto.MoveAllResponse{MovedCount: moved})
}

// parseMax resolves the max query parameter, clamped to 1..PeekMaxLimit.
func (h *QueueHandler) parseMax(c *gin.Context) int {
	max := h.peekMaxDefault
	if raw := c.Query("max"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			max = parsed
		}
	}
	if max < 1 {
		max = 1
	}
	if max > PeekMaxLimit {
		max = PeekMaxLimit
	}
	return max
}
