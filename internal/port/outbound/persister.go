// Package outbound defines the outbound port interfaces the Store and WS
// session engine depend on.
package outbound

import "github.com/rhymu8354/alfred/internal/domain/document"

// Persister is the outbound port for loading and saving the document tree.
// Adapters implement this over a backing file (or, in tests, memory).
type Persister interface {
	// Load reads the current document. Implementations return a fresh
	// default document, not an error, when no backing store exists yet.
	Load() (document.Value, error)

	// Save writes tree as the new current document. Implementations are
	// responsible for crash-safety (see statefile.Store).
	Save(tree document.Value) error
}

// OAuthValidator is the outbound port for validating a bearer token with
// the configured OAuth provider (spec §6's Twitch dependency). It returns
// the provider's opaque subject identifier on success.
type OAuthValidator interface {
	Validate(token string) (subject string, err error)
}
