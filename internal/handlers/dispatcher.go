package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/barbosaigor/investrack/internal/bus"
	"github.com/barbosaigor/investrack/internal/command"
	"github.com/barbosaigor/investrack/internal/domain"
)

// Dispatcher opens a unit of work around each command dispatch. The
// command handler commits; any error path rolls back.
type Dispatcher struct {
	starter domain.UnitOfWorkStarter
	bus     *bus.Bus
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(starter domain.UnitOfWorkStarter, b *bus.Bus) *Dispatcher {
	return &Dispatcher{starter: starter, bus: b}
}

// Execute runs the command inside a fresh unit of work. When
// lockAssetID is non-nil the asset row is locked at entry so concurrent
// writers on the same aggregate serialize.
func (d *Dispatcher) Execute(ctx context.Context, cmd command.Command, lockAssetID *uuid.UUID) error {
	uow, ctx, err := d.starter.Begin(ctx, lockAssetID)
	if err != nil {
		return err
	}
	defer uow.Rollback(ctx)
	return d.bus.Dispatch(ctx, cmd, uow)
}
