package isobus

import (
	"fmt"
	"log"
)

type EventType int

func (et EventType) String() string {
	switch et {
	case EventTypeError:
		return "ERROR"
	case EventTypeWarning:
		return "WARN"
	case EventTypeInfo:
		return "INFO"
	case EventTypeDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

const (
	EventTypeError EventType = iota
	EventTypeWarning
	EventTypeInfo
	EventTypeDebug
)

// Event is a notice from an Interface or a device driver, such as a retry
// or a debug trace of the traffic on the link.
type Event struct {
	Type      EventType
	Interface string
	Details   string
}

func (e Event) String() string {
	return fmt.Sprintf("[%s] %s", e.Type.String(), e.Details)
}

// LogEvent is the default event handler. It writes through the standard logger.
func LogEvent(e Event) {
	log.Println(e.String())
}

// Discard is an event handler that drops everything.
func Discard(Event) {}
