package models

import "time"

// User is the local record of an identity-verified user.
type User struct {
	ID                 int64     `db:"id" json:"id"`
	ExternalIdentityID string    `db:"external_identity_id" json:"external_identity_id"`
	Name               string    `db:"name" json:"name"`
	Email              string    `db:"email" json:"email"`
	ProfileImageURL    *string   `db:"profile_image_url" json:"profile_image_url"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}
