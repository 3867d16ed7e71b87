package domain

// User is a registered account. Exactly one of PasswordHash or ExternalID is
// set, depending on whether the account was created locally or provisioned
// from an external identity provider.
type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	ExternalID   string `json:"-"`
}
