/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"gorm.io/gorm"

	"github.com/friendsincode/bragi_flows/internal/models"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	return database.AutoMigrate(
		// Flow definitions and run history
		&models.Flow{},
		&models.FlowRun{},

		// Reference data actions point at
		&models.ContentItem{},
		&models.Jingle{},
		&models.CommercialBatch{},
		&models.CommercialSpot{},

		// Operator-facing audit trail
		&models.AuditLog{},

		// Outbound webhook delivery
		&models.WebhookTarget{},
		&models.WebhookLog{},
	)
}
