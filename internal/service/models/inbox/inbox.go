package inbox

import (
	"time"
)

// ProcessedMessage records that a consumer has already handled a message.
type ProcessedMessage struct {
	Consumer    string
	MessageID   string
	ProcessedAt time.Time
}
