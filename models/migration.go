package models

import (
	"log"

	"bitbucket.org/strandworks/salonsync_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&AppointmentMapping{},
		&SyncRun{}, &SyncTask{},
		&ConflictRecord{},
		&User{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
