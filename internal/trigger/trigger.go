package trigger

import "errors"

// ErrBusy is returned by a Sink when a tick is already running.
var ErrBusy = errors.New("tick already running")

// Source names for tick requests.
const (
	SourceSchedule = "schedule"
	SourceHTTP     = "http"
	SourceNATS     = "nats"
	SourceManual   = "manual"
)

// Sink starts one tick in the background.
// Params: source name used for logs and metrics.
// Returns: ErrBusy when a tick is running, other errors when the service cannot accept ticks.
type Sink interface {
	TriggerTick(source string) error
}
