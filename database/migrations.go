package database

import (
	"errors"
	"log"
	"os"

	"gorm.io/gorm"

	"github.com/sardorbek21324/Home/models"
)

// Migrate runs AutoMigrate for every table and seeds initial data.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.TaskTemplate{},
		&models.TaskInstance{},
		&models.Report{},
		&models.Vote{},
		&models.ScoreEvent{},
		&models.TaskBroadcast{},
		&models.AdaptiveConfig{},
		&models.Admin{},
	); err != nil {
		return err
	}
	if err := seedTemplates(db); err != nil {
		return err
	}
	return seedAdmin(db)
}

// seedTemplates installs the default chore catalog on an empty database.
func seedTemplates(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.TaskTemplate{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	defaults := []models.TaskTemplate{
		{Code: "dishes", Title: "Wash the dishes", BasePoints: 10, Frequency: models.FreqDaily, SlaMinutes: 60, ClaimTimeoutMinutes: 30, Kind: models.KindHouse, NobodyClaimedPenalty: 1},
		{Code: "trash", Title: "Take out the trash", BasePoints: 5, Frequency: models.FreqDaily, SlaMinutes: 30, ClaimTimeoutMinutes: 30, Kind: models.KindMini},
		{Code: "vacuum", Title: "Vacuum the apartment", BasePoints: 15, Frequency: models.FreqEvery2Days, SlaMinutes: 90, ClaimTimeoutMinutes: 45, Kind: models.KindHouse, NobodyClaimedPenalty: 1},
		{Code: "bathroom", Title: "Clean the bathroom", BasePoints: 20, Frequency: models.FreqWeekly, SlaMinutes: 120, ClaimTimeoutMinutes: 60, Kind: models.KindHouse, NobodyClaimedPenalty: 2},
		{Code: "groceries", Title: "Grocery run", BasePoints: 15, Frequency: models.FreqWeekly, SlaMinutes: 180, ClaimTimeoutMinutes: 60, Kind: models.KindOutside},
		{Code: "windows", Title: "Wash the windows", BasePoints: 25, Frequency: models.FreqMonthly, SlaMinutes: 180, ClaimTimeoutMinutes: 90, Kind: models.KindHouse},
	}
	if err := db.Create(&defaults).Error; err != nil {
		return err
	}
	log.Printf("[database] seeded %d task templates", len(defaults))
	return nil
}

// seedAdmin creates the bootstrap admin from ADMIN_USERNAME / ADMIN_PASSWORD
// when no admin exists yet.
func seedAdmin(db *gorm.DB) error {
	username := os.Getenv("ADMIN_USERNAME")
	password := os.Getenv("ADMIN_PASSWORD")
	if username == "" || password == "" {
		return nil
	}
	var existing models.Admin
	err := db.Where("username = ?", username).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	admin := models.Admin{Username: username, Password: password, Name: "Administrator", IsActive: true}
	if err := admin.HashPassword(); err != nil {
		return err
	}
	if err := db.Create(&admin).Error; err != nil {
		return err
	}
	log.Printf("[database] seeded admin %q", username)
	return nil
}
