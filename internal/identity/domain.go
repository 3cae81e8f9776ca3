package identity

import "time"

// Account is a principal that can call the API. Accounts are provisioned
// out of band; the engine only authenticates and authorizes them.
type Account struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	Subject    string    `json:"subject"`
	TokenID    string    `json:"token_id"`
	SecretHash string    `json:"-"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}
