/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"github.com/friendsincode/chronograph/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		// Slot plans
		&models.Plan{},
		&models.PlanSlot{},

		// Singleton documents
		&models.Holiday{},
		&models.StreamCapacity{},

		// Persistent timers
		&models.Job{},
	); err != nil {
		return err
	}

	if err := applyPostgresOccupiedSlotIndex(database); err != nil {
		return err
	}
	return seedStreamCapacities(database)
}

// applyPostgresOccupiedSlotIndex keeps occupant lookups off the released cells,
// which dominate long-lived plans.
func applyPostgresOccupiedSlotIndex(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}
	return database.Exec(
		"CREATE INDEX IF NOT EXISTS idx_plan_slots_occupied ON plan_slots (occupant) WHERE occupant IS NOT NULL",
	).Error
}

// seedStreamCapacities writes the default capacities without touching values an operator changed.
func seedStreamCapacities(database *gorm.DB) error {
	for _, key := range models.StreamKeys {
		row := models.StreamCapacity{Key: key, Value: models.DefaultStreamCapacities[key]}
		if err := database.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}
