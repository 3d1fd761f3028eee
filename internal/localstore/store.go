// Package localstore defines the durable key/value storage the gateway keeps
// per user session: recent worksites, cached localizations and similar blobs
// the browser client would put in local storage.
package localstore

import "context"

// Well known keys.
const (
	KeyRecentWorksites = "recent_worksites"

	cachedLocalizationsPrefix  = "cachedLocalizations:"
	localizationsUpdatedPrefix = "localizationsUpdated:"
)

// Store is the persistence interface for local storage entries.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Keys lists stored keys starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// CachedLocalizationsKey is the key holding the message blob for a locale.
func CachedLocalizationsKey(locale string) string {
	return cachedLocalizationsPrefix + locale
}

// LocalizationsUpdatedKey is the key holding when the blob for locale was
// last fetched.
func LocalizationsUpdatedKey(locale string) string {
	return localizationsUpdatedPrefix + locale
}

// LocalizationPrefixes are the key prefixes of the localization cache across
// all locales.
func LocalizationPrefixes() []string {
	return []string{cachedLocalizationsPrefix, localizationsUpdatedPrefix}
}

// DeletePrefix removes every key starting with prefix and returns how many
// were removed.
func DeletePrefix(ctx context.Context, s Store, prefix string) (int, error) {
	keys, err := s.Keys(ctx, prefix)
	if err != nil {
		return 0, err
	}
	for i, k := range keys {
		if err := s.Delete(ctx, k); err != nil {
			return i, err
		}
	}
	return len(keys), nil
}
