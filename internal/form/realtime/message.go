package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Message types
const (
	TypeTaskUpdate              = "task_update"
	TypeFormSubmissionCompleted = "form_submission_completed"
	TypeCompanyTabsUpdated      = "company_tabs_updated"
	TypeClearFields             = "clear_fields"
	TypeConnectionEstablished   = "connection_established"
	TypePing                    = "ping"
	TypePong                    = "pong"
	TypeSubscribe               = "subscribe"
	TypeUnsubscribe             = "unsubscribe"
	TypeSubscribed              = "subscribed"
	TypeUnsubscribed            = "unsubscribed"
	TypeError                   = "error"
)

// Submission statuses carried by form_submission_completed.
const (
	SubmissionSuccess    = "success"
	SubmissionInProgress = "in_progress"
	SubmissionError      = "error"
)

var ErrMissingType = errors.New("message type is required")

// Message the canonical envelope. Payload is required on the wire; the
// deprecated "data" key is accepted on decode only.
type Message struct {
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	OperationID string          `json:"operationId,omitempty"`

	// Set on client control messages (subscribe / unsubscribe), either at the
	// top level or inside the payload.
	TaskID    int64 `json:"taskId,omitempty"`
	CompanyID int64 `json:"companyId,omitempty"`
}

// NewMessage marshals payload into a message stamped with the current time.
func NewMessage(msgType string, payload interface{}) (Message, error) {
	m := Message{Type: msgType, Timestamp: time.Now().UTC()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return m, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		m.Payload = raw
	}
	return m, nil
}

// DecodePayload unmarshals the payload into v.
func (m Message) DecodePayload(v interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", m.Type)
	}
	return json.Unmarshal(m.Payload, v)
}

type wireMessage struct {
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Timestamp   *time.Time      `json:"timestamp,omitempty"`
	OperationID string          `json:"operationId,omitempty"`
	TaskID      int64           `json:"taskId,omitempty"`
	CompanyID   int64           `json:"companyId,omitempty"`
}

// Decode parses a frame. When both payload and data are present payload
// wins. Control fields missing at the top level are read from the payload,
// and so is an operationId only present there.
func Decode(frame []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(frame, &w); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if w.Type == "" {
		return Message{}, ErrMissingType
	}
	m := Message{
		Type:        w.Type,
		Payload:     w.Payload,
		OperationID: w.OperationID,
		TaskID:      w.TaskID,
		CompanyID:   w.CompanyID,
	}
	if len(m.Payload) == 0 || string(m.Payload) == "null" {
		m.Payload = w.Data
	}
	if w.Timestamp != nil {
		m.Timestamp = *w.Timestamp
	}
	if len(m.Payload) > 0 && (m.TaskID == 0 || m.CompanyID == 0 || m.OperationID == "") {
		var inner struct {
			TaskID      int64  `json:"taskId"`
			CompanyID   int64  `json:"companyId"`
			OperationID string `json:"operationId"`
		}
		if json.Unmarshal(m.Payload, &inner) == nil {
			if m.TaskID == 0 {
				m.TaskID = inner.TaskID
			}
			if m.CompanyID == 0 {
				m.CompanyID = inner.CompanyID
			}
			if m.OperationID == "" {
				m.OperationID = inner.OperationID
			}
		}
	}
	return m, nil
}

// Encode renders the frame sent to clients. legacyData additionally mirrors
// the payload under "data" for clients not yet reading "payload".
func Encode(m Message, legacyData bool) ([]byte, error) {
	if m.Type == "" {
		return nil, ErrMissingType
	}
	w := wireMessage{
		Type:        m.Type,
		Payload:     m.Payload,
		OperationID: m.OperationID,
		TaskID:      m.TaskID,
		CompanyID:   m.CompanyID,
	}
	if !m.Timestamp.IsZero() {
		ts := m.Timestamp
		w.Timestamp = &ts
	}
	if legacyData {
		w.Data = m.Payload
	}
	return json.Marshal(w)
}

// TaskUpdatePayload task_update. Id mirrors taskId for older clients.
type TaskUpdatePayload struct {
	TaskID    int64                  `json:"taskId"`
	ID        int64                  `json:"id"`
	Status    string                 `json:"status"`
	Progress  int                    `json:"progress"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// SubmissionPayload form_submission_completed
type SubmissionPayload struct {
	TaskID       int64    `json:"taskId"`
	FormType     string   `json:"formType"`
	Status       string   `json:"status"`
	CompanyID    int64    `json:"companyId"`
	FileID       string   `json:"fileId,omitempty"`
	UnlockedTabs []string `json:"unlockedTabs,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// CompanyTabsPayload company_tabs_updated
type CompanyTabsPayload struct {
	CompanyID         int64     `json:"companyId"`
	AvailableTabs     []string  `json:"availableTabs"`
	Timestamp         time.Time `json:"timestamp"`
	CacheInvalidation bool      `json:"cache_invalidation"`
}

// ClearFieldsPayload clear_fields
type ClearFieldsPayload struct {
	TaskID           int64                  `json:"taskId"`
	FormType         string                 `json:"formType"`
	PreserveProgress bool                   `json:"preserveProgress"`
	OperationID      string                 `json:"operationId"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// ConnectionPayload connection_established
type ConnectionPayload struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId,omitempty"`
}

// ErrorPayload error replies to malformed control messages.
type ErrorPayload struct {
	Message string `json:"message"`
}
