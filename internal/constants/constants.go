package constants

// Context and session keys
const (
	ContextKeyAdmin     = "admin"
	ContextKeyRequestID = "request_id"
	SessionCookieName   = "hubflo_session"
	HeaderRequestID     = "X-Request-ID"
	HeaderAdminToken    = "X-Admin-Token"
)

// Pagination
const (
	MinPageSize     = 1
	DefaultPageSize = 100
	MaxPageSize     = 500
)

// Lifecycle
const (
	// MaxMutationAttempts bounds optimistic-concurrency retries for a single task mutation.
	MaxMutationAttempts = 3

	// SummaryWindow is how many recent tasks the admin summary counts over.
	SummaryWindow = 50
	// SummaryLatest is how many of those are returned in full.
	SummaryLatest = 10
)

// Actors recorded in the audit trail when no human sender is involved.
const (
	ActorAdmin  = "admin"
	ActorSystem = "system"
)
