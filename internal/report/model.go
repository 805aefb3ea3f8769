// Package report holds the report-execution job description carried through
// the queue and the default processor that executes it.
package report

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// QueryParameter is one named parameter of a report execution request.
type QueryParameter struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value,omitempty"`
}

// ExecutionModel describes one report execution job. Id is generated when
// blank; ReportID and User are required.
type ExecutionModel struct {
	ID            string            `json:"id"`
	ReportID      string            `json:"reportId"`
	TenantID      string            `json:"tenantId,omitempty"`
	User          string            `json:"user"`
	RequestedAt   time.Time         `json:"requestedAt"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Parameters    []QueryParameter  `json:"parameters,omitempty"`
	Priority      bool              `json:"priority,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
}

// EnsureID assigns a generated message id when none was supplied and stamps
// RequestedAt when missing.
func (m *ExecutionModel) EnsureID() {
	if strings.TrimSpace(m.ID) == "" {
		m.ID = NewMessageID()
	}
	if m.RequestedAt.IsZero() {
		m.RequestedAt = time.Now().UTC()
	}
}

// Valid reports whether the model carries the required fields.
func (m *ExecutionModel) Valid() bool {
	return strings.TrimSpace(m.ReportID) != "" && strings.TrimSpace(m.User) != ""
}

// NewMessageID returns a 32-char hex message id.
func NewMessageID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
