package notify

import "github.com/scrypster/engram/internal/events"

// Republish returns a watcher callback that publishes each file event on bus
// under the user recorded in the file.
func Republish(bus *events.Bus) func(Event) {
	return func(e Event) {
		user := e.UserID
		if user == "" {
			user = events.DefaultUser
		}
		bus.Publish(user, e.Type, e.Data)
	}
}
