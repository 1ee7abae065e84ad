package models

import "time"

// User is a local account mirroring a media server user. Accounts
// auto-imported during sync start out disabled.
type User struct {
	ID                string     `json:"id"`
	JellyfinUserID    string     `json:"jellyfinUserId"`
	Name              string     `json:"name"`
	IsEnabled         bool       `json:"isEnabled"`
	ExcludedLibraries []string   `json:"excludedLibraries,omitempty"`
	LastWatchSync     *time.Time `json:"lastWatchSync,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// ExcludedLibrarySet returns the user's excluded libraries as a lookup set.
func (u User) ExcludedLibrarySet() map[string]bool {
	if len(u.ExcludedLibraries) == 0 {
		return nil
	}
	set := make(map[string]bool, len(u.ExcludedLibraries))
	for _, id := range u.ExcludedLibraries {
		set[id] = true
	}
	return set
}

// WatchHistoryEntry records one user's consumption of one item.
type WatchHistoryEntry struct {
	UserID       string     `json:"userId"`
	ItemID       string     `json:"itemId"`
	ItemType     string     `json:"itemType"` // movie | episode
	PlayCount    int        `json:"playCount"`
	IsFavorite   bool       `json:"isFavorite"`
	LastPlayedAt *time.Time `json:"lastPlayedAt,omitempty"`
}
