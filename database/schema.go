package database

import (
	"database/sql"

	"github.com/apex/log"
)

// InitSchema creates the service tables if they do not exist.
func InitSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS reports (
			seq INT NOT NULL AUTO_INCREMENT,
			id VARCHAR(36) NOT NULL,
			user_id VARCHAR(255) NOT NULL,
			title VARCHAR(255) NOT NULL,
			details TEXT NOT NULL,
			address VARCHAR(512) NOT NULL,
			latitude DOUBLE NOT NULL,
			longitude DOUBLE NOT NULL,
			photo_url VARCHAR(512) NOT NULL,
			storage_id VARCHAR(255) NOT NULL,
			photo_taken_at TIMESTAMP NULL,
			category VARCHAR(32) NOT NULL DEFAULT 'standard',
			status VARCHAR(32) NOT NULL DEFAULT 'pending',
			is_waste BOOLEAN NULL,
			confidence DOUBLE NULL,
			tier VARCHAR(16) NULL,
			model_version VARCHAR(64) NULL,
			assigned_to VARCHAR(255) NULL,
			assigned_at TIMESTAMP NULL,
			assignment_message TEXT NULL,
			resolved_by VARCHAR(255) NULL,
			resolved_at TIMESTAMP NULL,
			resolved_photo_url VARCHAR(512) NULL,
			resolved_latitude DOUBLE NULL,
			resolved_longitude DOUBLE NULL,
			resolved_address VARCHAR(512) NULL,
			distance_to_reported DOUBLE NULL,
			rejected_by VARCHAR(255) NULL,
			rejected_at TIMESTAMP NULL,
			rejection_reason TEXT NULL,
			out_of_scope_by VARCHAR(255) NULL,
			out_of_scope_at TIMESTAMP NULL,
			out_of_scope_reason TEXT NULL,
			permanent_resolved_by VARCHAR(255) NULL,
			permanent_resolved_at TIMESTAMP NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (seq),
			UNIQUE KEY reports_id (id),
			INDEX reports_status (status),
			INDEX reports_user (user_id),
			INDEX reports_assigned (assigned_to),
			INDEX reports_location (latitude, longitude)
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(255) NOT NULL,
			role VARCHAR(32) NOT NULL DEFAULT 'user',
			report_count INT NOT NULL DEFAULT 0,
			points INT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (id)
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			log.Errorf("Failed to initialize schema: %v", err)
			return err
		}
	}
	log.Info("Database schema initialized")
	return nil
}
