package repository

import "gorm.io/gorm"

// AutoMigrate creates the schema from the GORM models. Used in development;
// other environments apply migrations/ with golang-migrate.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&PoolModel{},
		&CodeModel{},
		&AssignmentModel{},
	); err != nil {
		return err
	}

	// Claim path: oldest unassigned code of a pool.
	if err := db.Exec(
		"CREATE INDEX IF NOT EXISTS idx_pool_codes_claim " +
			"ON pool_codes (pool_id, seq) WHERE is_assigned = false",
	).Error; err != nil {
		return err
	}

	// First-N counting and history listing.
	return db.Exec(
		"CREATE INDEX IF NOT EXISTS idx_code_assignments_pool_assigned_at " +
			"ON code_assignments (pool_id, assigned_at DESC)",
	).Error
}
