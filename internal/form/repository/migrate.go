package repository

import (
	"fmt"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"gorm.io/gorm"
)

// Migrate creates or updates every table the service owns. Response tables
// share one struct, so they are migrated by name and get their unique index
// through raw SQL.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&entity.Task{},
		&entity.Company{},
		&entity.FieldDefinition{},
		&entity.FileRecord{},
		&entity.TaskActionLog{},
		&entity.WebsocketMessage{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	var migrationSQL []string
	for _, formType := range entity.FormTypes() {
		table, _ := entity.ResponseTable(formType)
		if err := db.Table(table).AutoMigrate(&entity.FormResponse{}); err != nil {
			return fmt.Errorf("auto migrate %s: %w", table, err)
		}
		migrationSQL = append(migrationSQL,
			fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_task_field ON %s (task_id, field_key)", table, table),
		)
	}
	migrationSQL = append(migrationSQL,
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_form_fields_type_key_version ON form_fields (form_type, field_key, version)",
		"CREATE INDEX IF NOT EXISTS idx_form_fields_type_version ON form_fields (form_type, version)",
	)

	for _, sql := range migrationSQL {
		if err := db.Exec(sql).Error; err != nil {
			return fmt.Errorf("migration %q: %w", sql, err)
		}
	}
	return nil
}
