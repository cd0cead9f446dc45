package service

import (
	"github.com/bitfantasy/formflow/internal/form/entity"
)

// Company tabs
const (
	TabTaskCenter = "task-center"
	TabFileVault  = "file_vault"
	TabDashboard  = "dashboard"
	TabInsights   = "insights"
)

// DefaultTabs tabs unlocked by a submission, per form type.
func DefaultTabs() map[string][]string {
	return map[string][]string{
		entity.FormTypeKYB:         {TabFileVault},
		entity.FormTypeKY3P:        {TabFileVault},
		entity.FormTypeOpenBanking: {TabDashboard, TabInsights},
		entity.FormTypeCard:        {TabFileVault},
	}
}

func tabsFor(tabs map[string][]string, formType string) []string {
	return append([]string(nil), tabs[entity.NormalizeFormType(formType)]...)
}
