package lamp

import (
	"time"

	"github.com/wheelibin/sunlamp/internal/models"
)

// State is the orchestrator phase
type State int

const (
	SafeMode State = iota
	ConnectingWifi
	SyncingTime
	FetchingSchedule
	Operating
)

func (s State) String() string {
	switch s {
	case SafeMode:
		return "SafeMode"
	case ConnectingWifi:
		return "ConnectingWifi"
	case SyncingTime:
		return "SyncingTime"
	case FetchingSchedule:
		return "FetchingSchedule"
	case Operating:
		return "Operating"
	}
	return "Unknown"
}

// Status is a snapshot published for monitors after every state change and tick
type Status struct {
	At      time.Time
	State   State
	Mode    models.Mode
	Source  string
	Target  models.Brightness
	Entries int
	// last failure reported, empty once the lamp recovers
	LastError string
}
