package dto

// ParameterRequest is one report query parameter in a submission request.
type ParameterRequest struct {
	Name  string `json:"name" binding:"required"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// EnqueueReportRequest is the body of POST /api/reports/enqueue.
type EnqueueReportRequest struct {
	ID            string             `json:"id"`
	ReportID      string             `json:"reportId" binding:"required"`
	TenantID      string             `json:"tenantId"`
	User          string             `json:"user" binding:"required"`
	Metadata      map[string]string  `json:"metadata"`
	Parameters    []ParameterRequest `json:"parameters"`
	Priority      bool               `json:"priority"`
	CorrelationID string             `json:"correlationId"`
}

// EnqueueReportResponse acknowledges an accepted submission.
type EnqueueReportResponse struct {
	MessageID string `json:"messageId"`
}

// QueueMessageDTO is one entry of the main-queue inspection listing. Status
// is the persisted record status, or "Unknown" when the store has no record.
type QueueMessageDTO struct {
	MessageID  string            `json:"messageId"`
	EnqueuedAt string            `json:"enqueuedAt"`
	Status     string            `json:"status"`
	Source     string            `json:"source"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// ErrorMessageDTO is one entry of the error-queue inspection listing.
// OriginalMessageID falls back to the raw message id when the payload does
// not parse as an error envelope.
type ErrorMessageDTO struct {
	MessageID         string `json:"messageId"`
	OriginalMessageID string `json:"originalMessageId"`
	FailedAt          string `json:"failedAt,omitempty"`
	ErrorKind         string `json:"errorKind,omitempty"`
	ErrorMessage      string `json:"errorMessage,omitempty"`
	OriginalStatus    string `json:"originalStatus"`
}

// ListMessagesResponse wraps an inspection listing.
type ListMessagesResponse struct {
	Messages []QueueMessageDTO `json:"messages"`
}

// ListErrorMessagesResponse wraps an error-queue inspection listing.
type ListErrorMessagesResponse struct {
	Messages []ErrorMessageDTO `json:"messages"`
}

// MoveResponse reports the outcome of a single-message replay.
type MoveResponse struct {
	MessageID string `json:"messageId"`
	Moved     bool   `json:"moved"`
}

// MoveAllResponse reports the outcome of a full error-queue replay.
type MoveAllResponse struct {
	MovedCount int `json:"movedCount"`
}
