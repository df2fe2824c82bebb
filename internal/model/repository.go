package model

import "time"

const DefaultBranch = "main"

// Repository is owned by exactly one account and addressed by
// (owner username, name).
//
// StarCount always equals the number of star rows for the repository; the
// store recomputes it inside the same transaction that adds or removes a star.
type Repository struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"ownerId"`
	OwnerUsername string    `json:"owner"`
	Name          string    `json:"name"`
	Description   *string   `json:"description,omitempty"`
	IsPrivate     bool      `json:"isPrivate"`
	IsArchived    bool      `json:"isArchived"`
	DefaultBranch string    `json:"defaultBranch"`
	StarCount     int       `json:"starCount"`
	ForkCount     int       `json:"forkCount"`
	WatchCount    int       `json:"watchCount"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// FullName returns "owner/name".
func (r *Repository) FullName() string {
	return r.OwnerUsername + "/" + r.Name
}

// RepositoryUpdate holds the mutable repository metadata. Nil means unchanged.
type RepositoryUpdate struct {
	Name          *string `json:"name"`
	Description   *string `json:"description"`
	IsPrivate     *bool   `json:"isPrivate"`
	IsArchived    *bool   `json:"isArchived"`
	DefaultBranch *string `json:"defaultBranch"`
}
