package handler_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barbosaigor/investrack/internal/bus"
	"github.com/barbosaigor/investrack/internal/command"
	"github.com/barbosaigor/investrack/internal/domain"
	"github.com/barbosaigor/investrack/internal/handlers"
	"github.com/barbosaigor/investrack/internal/transport/httpapi/handler"
	"github.com/barbosaigor/investrack/internal/transport/httpapi/middleware"
	"github.com/barbosaigor/investrack/pkg/logger"
	"github.com/barbosaigor/investrack/pkg/money"
)

func testLogger() *logger.Logger {
	return logger.New("development", io.Discard)
}

type stubUow struct{}

func (stubUow) Assets() domain.AssetRepository   { return nil }
func (stubUow) Commit(context.Context) error     { return nil }
func (stubUow) Rollback(context.Context)         {}
func (stubUow) CollectNewEvents() []domain.Event { return nil }

// stubStarter records the lock id requested for each dispatch.
type stubStarter struct {
	lockedAssetIDs []*uuid.UUID
}

func (s *stubStarter) Begin(ctx context.Context, assetID *uuid.UUID) (domain.UnitOfWork, context.Context, error) {
	s.lockedAssetIDs = append(s.lockedAssetIDs, assetID)
	return stubUow{}, ctx, nil
}

// stubAssets serves a fixed aggregate set.
type stubAssets struct {
	assets map[uuid.UUID]*domain.Asset
}

func (s *stubAssets) Get(ctx context.Context, id uuid.UUID) (*domain.Asset, error) {
	a, ok := s.assets[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return a, nil
}

// captureDispatcher returns a dispatcher whose named command lands in
// the capture slot, and the starter recording lock requests.
func captureDispatcher(t *testing.T, name string, captured *command.Command) (*handlers.Dispatcher, *stubStarter) {
	t.Helper()
	b := bus.New(testLogger())
	err := b.RegisterCommand(name, func(ctx context.Context, cmd command.Command, uow domain.UnitOfWork) error {
		*captured = cmd
		return nil
	})
	require.NoError(t, err)
	starter := &stubStarter{}
	return handlers.NewDispatcher(starter, b), starter
}

func authedRequest(method, target, body string, userID uuid.UUID) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	return req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, userID))
}

func newStockAsset(t *testing.T, userID uuid.UUID) *domain.Asset {
	t.Helper()
	a, err := domain.NewAsset(userID, "PETR4", domain.AssetTypeStock, money.Real, domain.ObjectiveUnknown, false)
	require.NoError(t, err)
	a.PopEvents()
	return a
}

func transactionRouter(h *handler.TransactionHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/assets/{id}/transactions", h.CreateTransaction)
	r.Patch("/assets/{id}/transactions/{tid}", h.UpdateTransaction)
	r.Delete("/assets/{id}/transactions/{tid}", h.DeleteTransaction)
	return r
}

func TestTransactionHandler_Create(t *testing.T) {
	userID := uuid.New()
	a := newStockAsset(t, userID)
	assets := &stubAssets{assets: map[uuid.UUID]*domain.Asset{a.ID: a}}

	t.Run("dispatches under the asset lock", func(t *testing.T) {
		var captured command.Command
		dispatcher, starter := captureDispatcher(t, command.NameCreateTransaction, &captured)
		r := transactionRouter(handler.NewTransactionHandler(assets, dispatcher))

		body := `{"action":"buy","quantity":"100","price":"38.50","operation_date":"2025-03-01T00:00:00Z"}`
		w := httptest.NewRecorder()
		r.ServeHTTP(w, authedRequest(http.MethodPost, "/assets/"+a.ID.String()+"/transactions", body, userID))

		require.Equal(t, http.StatusCreated, w.Code)
		cmd, ok := captured.(*command.CreateTransaction)
		require.True(t, ok)
		assert.Equal(t, userID, cmd.UserID)
		assert.Equal(t, "PETR4", cmd.Key.Code)
		assert.Equal(t, domain.ActionBuy, cmd.Input.Action)
		assert.Equal(t, "100", cmd.Input.Quantity.String())
		assert.Equal(t, money.Real, cmd.Input.Price.Currency)
		assert.False(t, cmd.CreateAssetIfMissing)

		require.Len(t, starter.lockedAssetIDs, 1)
		require.NotNil(t, starter.lockedAssetIDs[0])
		assert.Equal(t, a.ID, *starter.lockedAssetIDs[0])
	})

	t.Run("foreign asset is not found", func(t *testing.T) {
		var captured command.Command
		dispatcher, _ := captureDispatcher(t, command.NameCreateTransaction, &captured)
		r := transactionRouter(handler.NewTransactionHandler(assets, dispatcher))

		body := `{"action":"buy","quantity":"100","price":"38.50","operation_date":"2025-03-01T00:00:00Z"}`
		w := httptest.NewRecorder()
		r.ServeHTTP(w, authedRequest(http.MethodPost, "/assets/"+a.ID.String()+"/transactions", body, uuid.New()))

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Nil(t, captured)
	})

	t.Run("invalid action", func(t *testing.T) {
		var captured command.Command
		dispatcher, _ := captureDispatcher(t, command.NameCreateTransaction, &captured)
		r := transactionRouter(handler.NewTransactionHandler(assets, dispatcher))

		body := `{"action":"hold","quantity":"100","price":"38.50","operation_date":"2025-03-01T00:00:00Z"}`
		w := httptest.NewRecorder()
		r.ServeHTTP(w, authedRequest(http.MethodPost, "/assets/"+a.ID.String()+"/transactions", body, userID))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Nil(t, captured)
	})

	t.Run("malformed body", func(t *testing.T) {
		var captured command.Command
		dispatcher, _ := captureDispatcher(t, command.NameCreateTransaction, &captured)
		r := transactionRouter(handler.NewTransactionHandler(assets, dispatcher))

		w := httptest.NewRecorder()
		r.ServeHTTP(w, authedRequest(http.MethodPost, "/assets/"+a.ID.String()+"/transactions", "{", userID))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestTransactionHandler_Update(t *testing.T) {
	userID := uuid.New()
	a := newStockAsset(t, userID)
	assets := &stubAssets{assets: map[uuid.UUID]*domain.Asset{a.ID: a}}
	txID := uuid.New()

	var captured command.Command
	dispatcher, starter := captureDispatcher(t, command.NameUpdateTransaction, &captured)
	r := transactionRouter(handler.NewTransactionHandler(assets, dispatcher))

	body := `{"action":"sell","quantity":"50","price":"40","operation_date":"2025-04-01T00:00:00Z"}`
	w := httptest.NewRecorder()
	r.ServeHTTP(w, authedRequest(http.MethodPatch, "/assets/"+a.ID.String()+"/transactions/"+txID.String(), body, userID))

	require.Equal(t, http.StatusOK, w.Code)
	cmd, ok := captured.(command.UpdateTransaction)
	require.True(t, ok)
	assert.Equal(t, a.ID, cmd.AssetID)
	assert.Equal(t, txID, cmd.TransactionID)
	assert.Equal(t, domain.ActionSell, cmd.Input.Action)
	require.Len(t, starter.lockedAssetIDs, 1)
	assert.Equal(t, a.ID, *starter.lockedAssetIDs[0])
}

func TestTransactionHandler_Delete(t *testing.T) {
	userID := uuid.New()
	a := newStockAsset(t, userID)
	assets := &stubAssets{assets: map[uuid.UUID]*domain.Asset{a.ID: a}}
	txID := uuid.New()

	var captured command.Command
	dispatcher, _ := captureDispatcher(t, command.NameDeleteTransaction, &captured)
	r := transactionRouter(handler.NewTransactionHandler(assets, dispatcher))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, authedRequest(http.MethodDelete, "/assets/"+a.ID.String()+"/transactions/"+txID.String(), "", userID))

	require.Equal(t, http.StatusOK, w.Code)
	cmd, ok := captured.(command.DeleteTransaction)
	require.True(t, ok)
	assert.Equal(t, txID, cmd.TransactionID)
	assert.Equal(t, userID, cmd.UserID)
}
