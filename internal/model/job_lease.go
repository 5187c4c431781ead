package model

import "time"

// JobLease is an exclusive, expiring claim on a bulk upload job
type JobLease struct {
	JobID     string    `json:"job_id" bson:"job_id"`
	LockedBy  string    `json:"locked_by" bson:"locked_by"`
	LockedAt  time.Time `json:"locked_at" bson:"locked_at"`
	ExpiresAt time.Time `json:"expires_at" bson:"expires_at"`
}
