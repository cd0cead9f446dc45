package entity

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Form types
const (
	FormTypeKYB         = "kyb"
	FormTypeKY3P        = "ky3p"
	FormTypeOpenBanking = "open_banking"
	FormTypeCard        = "card"
)

var responseTables = map[string]string{
	FormTypeKYB:         "kyb_responses",
	FormTypeKY3P:        "ky3p_responses",
	FormTypeOpenBanking: "open_banking_responses",
	FormTypeCard:        "card_responses",
}

// FormTypes lists every supported form type in a stable order.
func FormTypes() []string {
	return []string{FormTypeKYB, FormTypeKY3P, FormTypeOpenBanking, FormTypeCard}
}

// ResponseTable maps a form type to its response table.
func ResponseTable(formType string) (string, bool) {
	t, ok := responseTables[NormalizeFormType(formType)]
	return t, ok
}

// NormalizeFormType accepts the URL spellings used by the web client
// ("open-banking", "KYB").
func NormalizeFormType(formType string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(formType)), "-", "_")
}

// Response status
const (
	ResponseStatusEmpty    = "EMPTY"
	ResponseStatusComplete = "COMPLETE"
)

// FormResponse one field answer. The same shape backs every
// <form_type>_responses table, so queries always name the table explicitly.
type FormResponse struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	TaskID    int64     `json:"task_id" gorm:"not null"`
	FieldKey  string    `json:"field_key" gorm:"size:128;not null"`
	FieldID   int64     `json:"field_id" gorm:"not null;default:0"`
	Value     string    `json:"value" gorm:"type:text"`
	Status    string    `json:"status" gorm:"size:16;not null;default:EMPTY"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FieldDefinition one field of a form schema. The highest Version per form type is the
// active schema and the denominator for progress.
type FieldDefinition struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	FormType  string    `json:"form_type" gorm:"size:32;not null"`
	FieldKey  string    `json:"field_key" gorm:"size:128;not null"`
	Label     string    `json:"label" gorm:"size:512"`
	Section   string    `json:"section" gorm:"size:128"`
	SortOrder int       `json:"sort_order" gorm:"not null;default:0"`
	Required  bool      `json:"required" gorm:"not null"`
	Version   int       `json:"version" gorm:"not null;default:1"`
	CreatedAt time.Time `json:"created_at"`
}

func (FieldDefinition) TableName() string {
	return "form_fields"
}

// FieldRef addresses a field either by string key or by numeric id. Some
// clients send one, some the other; the field catalog resolves both to a
// FieldDefinition.
type FieldRef struct {
	Key string
	ID  int64
}

// FieldKeyRef builds a key reference.
func FieldKeyRef(key string) FieldRef {
	return FieldRef{Key: NormalizeFieldKey(key)}
}

// FieldIDRef builds a numeric reference.
func FieldIDRef(id int64) FieldRef {
	return FieldRef{ID: id}
}

// ParseFieldRef reads a reference from its wire form: all digits means a
// numeric id, anything else a key.
func ParseFieldRef(raw string) FieldRef {
	raw = strings.TrimSpace(raw)
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
		return FieldIDRef(id)
	}
	return FieldKeyRef(raw)
}

func (r FieldRef) IsZero() bool {
	return r.Key == "" && r.ID == 0
}

func (r FieldRef) String() string {
	if r.Key != "" {
		return r.Key
	}
	return fmt.Sprintf("#%d", r.ID)
}

// NormalizeFieldKey trims and NFC-normalises a key so visually identical keys
// pasted from spreadsheets compare equal.
func NormalizeFieldKey(key string) string {
	return norm.NFC.String(strings.TrimSpace(key))
}
