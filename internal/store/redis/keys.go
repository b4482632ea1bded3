package redis

import "strings"

const (
	// DefaultSettingsKey holds the current settings document.
	DefaultSettingsKey = "mcwatch:settings"

	suffixPrevious  = ":previous"
	suffixUpdatedAt = ":updated_at"
)

// SettingsKey returns the key holding the current document.
func SettingsKey(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return DefaultSettingsKey
	}
	return base
}

// PreviousKey returns the key holding the document replaced by the last save.
func PreviousKey(base string) string {
	return SettingsKey(base) + suffixPrevious
}

// UpdatedAtKey returns the key holding the unix time of the last save.
func UpdatedAtKey(base string) string {
	return SettingsKey(base) + suffixUpdatedAt
}
