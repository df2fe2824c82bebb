// Package model defines the data structures used throughout the application.
package model

import "time"

// Account is a registered identity.
//
// PasswordHash is the bcrypt digest. It is tagged json:"-" so it can never be
// serialized, and it is empty for accounts created through GitHub sign-in
// (such accounts cannot log in with a password).
type Account struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FullName     *string   `json:"fullName,omitempty"`
	Bio          *string   `json:"bio,omitempty"`
	AvatarURL    *string   `json:"avatarUrl,omitempty"`
	WebsiteURL   *string   `json:"websiteUrl,omitempty"`
	Location     *string   `json:"location,omitempty"`
	Company      *string   `json:"company,omitempty"`
	GitHubID     *int64    `json:"githubId,omitempty"`
	IsAdmin      bool      `json:"isAdmin"`
	IsVerified   bool      `json:"isVerified"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ProfileUpdate carries the optional profile fields of an account.
// A nil field leaves the stored value unchanged.
type ProfileUpdate struct {
	FullName   *string `json:"fullName"`
	Bio        *string `json:"bio"`
	AvatarURL  *string `json:"avatarUrl"`
	WebsiteURL *string `json:"websiteUrl"`
	Location   *string `json:"location"`
	Company    *string `json:"company"`
}
