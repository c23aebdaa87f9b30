package models

import (
	"log"

	"github.com/wavelinknet/ispbridge_backend/config"
)

// MigrateTable runs gorm AutoMigrate for every entity this service owns.
func MigrateTable() {
	db := config.GetDB()
	err := db.AutoMigrate(
		&SplynxCustomer{},
		&UISPClient{},
		&CustomerMapping{},
		&SyncRun{},
		&SyncError{},
	)
	if err != nil {
		log.Fatalf("auto migrate failed: %v", err)
	}
	log.Println("database migrated")
}
