// pkg/core/session.go
package core

import "time"

// Session describes one running game as seen by persistence.
type Session struct {
	ID            uint
	StartTime     time.Time
	ServerVersion string
	Precision     string
}
