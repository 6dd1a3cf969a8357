package ws

import (
	"time"

	"github.com/rs/zerolog"
)

// ConnInfo is the metadata attached to lifecycle events of one connection.
type ConnInfo struct {
	ConnID      string
	UserID      int
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func (i ConnInfo) MarshalZerologObject(e *zerolog.Event) {
	e.Str("conn_id", i.ConnID).Str("ip", i.IP).Str("request_id", i.RequestID)
	if i.UserID != 0 {
		e.Int("user_id", i.UserID)
	}
}
