package idempotency

import "time"

// Status values for idempotency entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
	// StatusOrphaned marks a settled payment that could not be applied. It never expires.
	StatusOrphaned = "ORPHANED"
)

// Record is the shape persisted in the idempotency DynamoDB table. Keys are namespaced by
// use: "order:<user>:<header key>" for create-order replays, "verify:<order>:<payment>" for
// gateway callbacks, "release:<order>" for stock returns and "orphan:<order>:<payment>" for
// verified payments that lost to another payment of the order.
type Record struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key"` // PK
	Status         string    `dynamodbav:"status"`
	Ref            string    `dynamodbav:"ref,omitempty"`          // order the key resolved to
	RequestHash    string    `dynamodbav:"request_hash,omitempty"` // guards key reuse with another payload
	ResponseBody   string    `dynamodbav:"response_body,omitempty"`
	ResponseStatus int       `dynamodbav:"response_status,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
	Note           string    `dynamodbav:"note,omitempty"`
}
