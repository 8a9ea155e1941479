package bus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barbosaigor/investrack/internal/command"
	"github.com/barbosaigor/investrack/internal/domain"
	"github.com/barbosaigor/investrack/pkg/logger"
)

type stubEvent struct{ name string }

func (e stubEvent) EventName() string { return e.name }

// stubUow feeds queued events into the drain, one batch per collect.
type stubUow struct {
	batches [][]domain.Event
}

func (u *stubUow) Assets() domain.AssetRepository { return nil }
func (u *stubUow) Commit(context.Context) error   { return nil }
func (u *stubUow) Rollback(context.Context)       {}
func (u *stubUow) CollectNewEvents() []domain.Event {
	if len(u.batches) == 0 {
		return nil
	}
	batch := u.batches[0]
	u.batches = u.batches[1:]
	return batch
}

func TestBusDispatch(t *testing.T) {
	log := logger.NewDefault("test")

	t.Run("drains emitted events in FIFO order", func(t *testing.T) {
		b := New(log)
		var order []string

		require.NoError(t, b.RegisterCommand(command.NameCreateAsset, func(ctx context.Context, cmd command.Command, uow domain.UnitOfWork) error {
			order = append(order, "command")
			return nil
		}))
		b.Subscribe("first", func(ctx context.Context, e domain.Event) error {
			order = append(order, "first")
			return nil
		})
		b.Subscribe("second", func(ctx context.Context, e domain.Event) error {
			order = append(order, "second")
			return nil
		})

		uow := &stubUow{batches: [][]domain.Event{
			{stubEvent{"first"}, stubEvent{"second"}},
		}}
		err := b.Dispatch(context.Background(), command.CreateAsset{}, uow)
		require.NoError(t, err)
		assert.Equal(t, []string{"command", "first", "second"}, order)
	})

	t.Run("command errors bubble", func(t *testing.T) {
		b := New(log)
		boom := errors.New("boom")
		require.NoError(t, b.RegisterCommand(command.NameCreateAsset, func(ctx context.Context, cmd command.Command, uow domain.UnitOfWork) error {
			return boom
		}))

		err := b.Dispatch(context.Background(), command.CreateAsset{}, &stubUow{})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("event handler errors do not abort the drain", func(t *testing.T) {
		b := New(log)
		calls := 0
		b.Subscribe("ev", func(ctx context.Context, e domain.Event) error {
			calls++
			return errors.New("subscriber failed")
		})
		b.Subscribe("ev", func(ctx context.Context, e domain.Event) error {
			calls++
			return nil
		})

		err := b.Dispatch(context.Background(), stubEvent{"ev"}, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("events emitted by subscribers drain in the same call", func(t *testing.T) {
		b := New(log)
		var seen []string
		uow := &stubUow{batches: [][]domain.Event{
			{stubEvent{"a"}},
			{stubEvent{"b"}},
		}}
		require.NoError(t, b.RegisterCommand(command.NameCreateAsset, func(ctx context.Context, cmd command.Command, u domain.UnitOfWork) error {
			return nil
		}))
		b.Subscribe("a", func(ctx context.Context, e domain.Event) error {
			seen = append(seen, "a")
			return nil
		})
		b.Subscribe("b", func(ctx context.Context, e domain.Event) error {
			seen = append(seen, "b")
			return nil
		})

		err := b.Dispatch(context.Background(), command.CreateAsset{}, uow)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, seen)
	})

	t.Run("unknown command fails", func(t *testing.T) {
		b := New(log)
		err := b.Dispatch(context.Background(), command.CreateAsset{}, nil)
		assert.Error(t, err)
	})

	t.Run("duplicate registration fails", func(t *testing.T) {
		b := New(log)
		h := func(ctx context.Context, cmd command.Command, uow domain.UnitOfWork) error { return nil }
		require.NoError(t, b.RegisterCommand(command.NameCreateAsset, h))
		assert.Error(t, b.RegisterCommand(command.NameCreateAsset, h))
	})
}
