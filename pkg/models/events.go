package models

import (
	"time"
)

// EventType identifies what kind of detection produced an event
type EventType string

const (
	EventTypeMotion      EventType = "motion"
	EventTypePerson      EventType = "person"
	EventTypeVehicle     EventType = "vehicle"
	EventTypePackage     EventType = "package"
	EventTypeDoorbell    EventType = "doorbell"
	EventTypeSmartDetect EventType = "smart-detect"
	EventTypeSensor      EventType = "sensor"
)

// EventTypes lists every known event type
var EventTypes = []EventType{
	EventTypeMotion,
	EventTypePerson,
	EventTypeVehicle,
	EventTypePackage,
	EventTypeDoorbell,
	EventTypeSmartDetect,
	EventTypeSensor,
}

// Valid reports whether t is one of the known event types
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Severity is the display severity of an event. The ordering is for
// presentation only and never affects routing.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists every severity from lowest to highest
var Severities = []Severity{
	SeverityLow,
	SeverityMedium,
	SeverityHigh,
	SeverityCritical,
}

// Rank returns the display rank of s (low=0 .. critical=3), or -1 if unknown
func (s Severity) Rank() int {
	for i, known := range Severities {
		if s == known {
			return i
		}
	}
	return -1
}

// Valid reports whether s is one of the known severities
func (s Severity) Valid() bool {
	return s.Rank() >= 0
}

// Metadata keys set on synthetic events
const (
	MetaSimulated = "simulated"
	MetaSource    = "source"
	MetaScore     = "score"

	SourceSimulator = "simulator"
	SourceProtect   = "protect"
)

// CameraRef is the camera an event was raised on
type CameraRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Event is a normalized camera event. Events are built once by the upstream
// connector and are treated as read-only afterwards.
type Event struct {
	ID          string                 `json:"id"`
	Type        EventType              `json:"type"`
	Severity    Severity               `json:"severity"`
	Timestamp   time.Time              `json:"timestamp"`
	Camera      CameraRef              `json:"camera"`
	Description string                 `json:"description"`
	Thumbnail   string                 `json:"thumbnail,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Simulated reports whether the event came from the synthetic generator
func (e Event) Simulated() bool {
	v, ok := e.Metadata[MetaSimulated].(bool)
	return ok && v
}
