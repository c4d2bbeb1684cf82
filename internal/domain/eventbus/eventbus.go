// Package eventbus fans batch lifecycle events out to interested listeners.
package eventbus

import (
	evbus "github.com/asaskevich/EventBus"
)

// Publisher is the part of a bus the batch processor needs.
type Publisher interface {
	PublishAsync(topic string, args ...interface{})
}

// New creates a synchronous event bus.
func New() evbus.Bus {
	return evbus.New()
}
