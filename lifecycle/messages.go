package lifecycle

// Operator-facing texts. The failed variants take the backend message or transport error.
const (
	START_SUCCEEDED = "service started"
	START_FAILED    = "start failed: %s"
	STOP_SUCCEEDED  = "service stopped"
	STOP_FAILED     = "stop failed: %s"
)
