// Package model holds the value types passed between the sheet reader,
// the resolver, and the batch orchestrator.
package model

// CredentialRow is one normalized (identifier, secret, client reference) triple
// taken from the input spreadsheet. Rows are immutable once extracted.
type CredentialRow struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"-"`
	ClientRef  string `json:"clientRef"`
}

// Valid reports whether every normalized field is non-empty.
func (r CredentialRow) Valid() bool {
	return r.Identifier != "" && r.Secret != "" && r.ClientRef != ""
}

// String never includes the secret so rows are safe to log.
func (r CredentialRow) String() string {
	return r.ClientRef + " (" + r.Identifier + ")"
}
