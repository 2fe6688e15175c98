package session

import (
	"github.com/OCAP2/mapsync/internal/provider"
	"github.com/OCAP2/mapsync/pkg/protocol"
)

// EventKind tags an Event.
type EventKind uint8

const (
	// KindAPILoaded signals that the provider API finished loading.
	KindAPILoaded EventKind = iota + 1
	// KindAttached signals that the container joined the visible document.
	KindAttached
	// KindDetached signals that the container left the document.
	KindDetached
	// KindCommand carries a controller command.
	KindCommand
	// KindCallback carries deferred work, usually a provider listener.
	KindCallback
)

func (k EventKind) String() string {
	switch k {
	case KindAPILoaded:
		return "api_loaded"
	case KindAttached:
		return "attached"
	case KindDetached:
		return "detached"
	case KindCommand:
		return "command"
	case KindCallback:
		return "callback"
	}
	return "unknown"
}

// Event is one input of the session loop.
type Event struct {
	Kind      EventKind
	Container provider.Container
	Command   protocol.Envelope
	Fn        func()
}

// APILoaded returns the provider-ready signal.
func APILoaded() Event { return Event{Kind: KindAPILoaded} }

// Attached returns the attachment signal for container c. A nil c keeps
// the container from an earlier attachment.
func Attached(c provider.Container) Event { return Event{Kind: KindAttached, Container: c} }

// Detached returns the detachment signal.
func Detached() Event { return Event{Kind: KindDetached} }

// Command wraps a controller command.
func Command(env protocol.Envelope) Event { return Event{Kind: KindCommand, Command: env} }

// Callback wraps fn so it runs on the session goroutine.
func Callback(fn func()) Event { return Event{Kind: KindCallback, Fn: fn} }
