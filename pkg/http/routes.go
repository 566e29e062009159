package http

// Route names, used to look up paths in the router on both client
// and server side.
const (
	Ping    = "Ping"
	Version = "Version"
	Status  = "Status"
	Events  = "Events"

	StartCanary = "StartCanary"
	Validate    = "Validate"
	Promote     = "Promote"
	Rollback    = "Rollback"
)
