// Package bus dispatches commands to their single handler and events to
// their subscribers, draining aggregate-emitted events to completion
// within the same logical unit.
package bus

import (
	"context"
	"fmt"

	"github.com/barbosaigor/investrack/internal/command"
	"github.com/barbosaigor/investrack/internal/domain"
	"github.com/barbosaigor/investrack/pkg/logger"
)

// CommandHandler handles one command kind inside the given unit of work.
type CommandHandler func(ctx context.Context, cmd command.Command, uow domain.UnitOfWork) error

// EventHandler reacts to one event kind. Handler errors are logged and
// do not abort the drain.
type EventHandler func(ctx context.Context, e domain.Event) error

// Bus holds the command and event registries. Registration happens at
// startup; Dispatch is safe for concurrent use afterwards.
type Bus struct {
	commands map[string]CommandHandler
	events   map[string][]EventHandler
	logger   *logger.Logger
}

// New creates an empty bus.
func New(log *logger.Logger) *Bus {
	return &Bus{
		commands: make(map[string]CommandHandler),
		events:   make(map[string][]EventHandler),
		logger:   log.WithField("component", "bus"),
	}
}

// RegisterCommand binds the unique handler for a command name. A second
// registration for the same name is a startup mistake and fails.
func (b *Bus) RegisterCommand(name string, h CommandHandler) error {
	if _, exists := b.commands[name]; exists {
		return fmt.Errorf("command %q already has a handler", name)
	}
	b.commands[name] = h
	return nil
}

// Subscribe appends an event handler for an event name. Subscribers run
// in registration order.
func (b *Bus) Subscribe(name string, h EventHandler) {
	b.events[name] = append(b.events[name], h)
}

// Dispatch processes the message and every event it transitively
// produces, in FIFO order. Command handler errors bubble up so the
// caller can roll the unit of work back; event handler errors are
// logged and subsequent subscribers still run. After each handler the
// unit of work's pending events are appended to the queue, so events
// emitted inside a handler drain within the same call.
func (b *Bus) Dispatch(ctx context.Context, msg any, uow domain.UnitOfWork) error {
	queue := []any{msg}
	for len(queue) > 0 {
		m := queue[0]
		queue = queue[1:]

		switch v := m.(type) {
		case command.Command:
			h, ok := b.commands[v.CommandName()]
			if !ok {
				return fmt.Errorf("no handler registered for command %q", v.CommandName())
			}
			if err := h(ctx, v, uow); err != nil {
				return err
			}
		case domain.Event:
			for _, h := range b.events[v.EventName()] {
				if err := h(ctx, v); err != nil {
					b.logger.Error("event handler failed",
						"event", v.EventName(),
						"error", err)
				}
			}
		default:
			return fmt.Errorf("message %T is neither command nor event", m)
		}

		if uow != nil {
			for _, e := range uow.CollectNewEvents() {
				queue = append(queue, e)
			}
		}
	}
	return nil
}

// Publish drains events that did not originate in a unit of work, such
// as price-refresh fan-out.
func (b *Bus) Publish(ctx context.Context, events ...domain.Event) {
	for _, e := range events {
		_ = b.Dispatch(ctx, e, nil)
	}
}
