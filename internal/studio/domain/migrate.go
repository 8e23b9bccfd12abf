package domain

import "gorm.io/gorm"

// AutoMigrate creates/updates every studio-domain table. Shared by the
// worker entrypoint and repo/testutil so the schema is defined in exactly
// one place.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Job{},
		&ProviderRun{},
		&FusionPerformance{},
		&Artifact{},
		&MediaAsset{},
		&LongformJob{},
		&LongformSegment{},
		&SupportSession{},
		&SupportEvent{},
		&DashboardCache{},
		&DashboardRefreshRequest{},
	)
}
