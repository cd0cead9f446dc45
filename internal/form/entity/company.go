package entity

import (
	"time"

	"gorm.io/datatypes"
)

// Company owner of tasks; AvailableTabs drives which UI tabs are unlocked.
type Company struct {
	ID            int64                       `json:"id" gorm:"primaryKey;autoIncrement"`
	Name          string                      `json:"name" gorm:"size:256;not null"`
	AvailableTabs datatypes.JSONSlice[string] `json:"available_tabs"`
	CreatedAt     time.Time                   `json:"created_at"`
	UpdatedAt     time.Time                   `json:"updated_at"`
}

func (Company) TableName() string {
	return "companies"
}

// HasTabs reports whether every tab in tabs is available.
func (c *Company) HasTabs(tabs []string) bool {
	have := make(map[string]bool, len(c.AvailableTabs))
	for _, t := range c.AvailableTabs {
		have[t] = true
	}
	for _, t := range tabs {
		if !have[t] {
			return false
		}
	}
	return true
}

// MergeTabs adds tabs not yet present, keeping existing order. Returns true
// when anything changed.
func (c *Company) MergeTabs(tabs []string) bool {
	changed := false
	for _, t := range tabs {
		if !c.HasTabs([]string{t}) {
			c.AvailableTabs = append(c.AvailableTabs, t)
			changed = true
		}
	}
	return changed
}

// FileRecord artifact produced by a submission
type FileRecord struct {
	ID          string    `json:"id" gorm:"primaryKey;size:32"`
	TaskID      int64     `json:"task_id" gorm:"not null;index"`
	CompanyID   int64     `json:"company_id" gorm:"not null;index"`
	Name        string    `json:"name" gorm:"size:256;not null"`
	ObjectKey   string    `json:"object_key" gorm:"size:512;not null"`
	ContentType string    `json:"content_type" gorm:"size:128"`
	Size        int64     `json:"size"`
	CreatedBy   string    `json:"created_by" gorm:"size:64"`
	CreatedAt   time.Time `json:"created_at"`
}

func (FileRecord) TableName() string {
	return "files"
}

// WebsocketMessage broadcast audit row
type WebsocketMessage struct {
	ID          int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Type        string    `json:"type" gorm:"size:64;not null;index"`
	TaskID      *int64    `json:"task_id" gorm:"index"`
	CompanyID   *int64    `json:"company_id"`
	OperationID string    `json:"operation_id" gorm:"size:64;index"`
	Payload     string    `json:"payload" gorm:"type:text"`
	Recipients  int       `json:"recipients"`
	CreatedAt   time.Time `json:"created_at"`
}

func (WebsocketMessage) TableName() string {
	return "websocket_messages"
}
