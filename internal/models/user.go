package models

import "time"

// OnlineStatus is the persisted presence flag of a user.
type OnlineStatus string

const (
	StatusOnline  OnlineStatus = "online"
	StatusOffline OnlineStatus = "offline"
)

// User is the part of the user record the realtime core reads and writes.
// Presence fields are owned by the presence coordinator, the rest by the CRUD layer.
type User struct {
	ID           string       `db:"id" json:"id"`
	Name         string       `db:"name" json:"name"`
	Email        string       `db:"email" json:"email,omitempty"`
	ProfileImage string       `db:"profile_image" json:"profileImage,omitempty"`
	OnlineStatus OnlineStatus `db:"online_status" json:"onlineStatus"`
	LastSeen     *time.Time   `db:"last_seen" json:"lastSeen"`
}

// LastSeen is the presence summary of an offline user.
type LastSeen struct {
	ID       string     `db:"id" json:"id"`
	LastSeen *time.Time `db:"last_seen" json:"lastSeen"`
}

// UserSummary is the public profile shown next to a delivered message.
type UserSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ProfileImage string `json:"profileImage,omitempty"`
}

// Summary returns the public profile of u.
func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Name: u.Name, ProfileImage: u.ProfileImage}
}
