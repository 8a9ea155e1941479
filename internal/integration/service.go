package integration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/barbosaigor/investrack/internal/command"
	"github.com/barbosaigor/investrack/internal/domain"
	"github.com/barbosaigor/investrack/internal/handlers"
	apperrors "github.com/barbosaigor/investrack/internal/shared/errors"
	"github.com/barbosaigor/investrack/internal/task"
	"github.com/barbosaigor/investrack/pkg/logger"
	"github.com/barbosaigor/investrack/pkg/money"
)

// Service orchestrates one exchange sync: it decrypts the user's
// credentials, walks the client's paginated feed, converts valid items
// into transaction commands and records progress on the task history.
type Service struct {
	clients    map[string]ExchangeClient
	users      domain.UserRepository
	secrets    *SecretBox
	dispatcher *handlers.Dispatcher
	tasks      task.Repository
	// skipCurrencies lists symbols ignored during ingestion, such as
	// stablecoins used as cash legs.
	skipCurrencies map[string]bool
	logger         *logger.Logger
}

// NewService creates the integration orchestrator.
func NewService(
	users domain.UserRepository,
	secrets *SecretBox,
	dispatcher *handlers.Dispatcher,
	tasks task.Repository,
	skipCurrencies []string,
	log *logger.Logger,
	clients ...ExchangeClient,
) *Service {
	skip := make(map[string]bool, len(skipCurrencies))
	for _, c := range skipCurrencies {
		skip[strings.ToUpper(c)] = true
	}
	byName := make(map[string]ExchangeClient, len(clients))
	for _, c := range clients {
		byName[c.Name()] = c
	}
	return &Service{
		clients:        byName,
		users:          users,
		secrets:        secrets,
		dispatcher:     dispatcher,
		tasks:          tasks,
		skipCurrencies: skip,
		logger:         log.WithField("component", "integration"),
	}
}

// assetTypeFor maps an exchange to the asset type its trades produce.
func assetTypeFor(exchange string) domain.AssetType {
	switch exchange {
	case "kucoin", "binance":
		return domain.AssetTypeCrypto
	default:
		return domain.AssetTypeStock
	}
}

// Sync runs one exchange reconciliation under the given task record.
// Batches are processed independently: a failing page records the
// first error but earlier imports stay committed. Returns a retryable
// error when the failure was transient so the queue provider re-runs.
func (s *Service) Sync(ctx context.Context, userID uuid.UUID, exchange string, t *task.Task) error {
	client, ok := s.clients[exchange]
	if !ok {
		return s.fail(ctx, t, apperrors.Fatal(fmt.Sprintf("unknown exchange %q", exchange), nil))
	}

	if err := t.Start(time.Now().UTC()); err != nil {
		return err
	}
	if err := s.tasks.Update(ctx, t); err != nil {
		return err
	}

	cred, err := s.users.GetCredential(ctx, userID, exchange)
	if err != nil {
		return s.fail(ctx, t, apperrors.Fatal("exchange credentials not configured", err))
	}
	creds, err := s.decrypt(cred)
	if err != nil {
		return s.fail(ctx, t, apperrors.Fatal("failed to decrypt exchange credentials", err))
	}

	var since time.Time
	if cred.LastSyncedAt != nil {
		since = *cred.LastSyncedAt
	}
	syncStart := time.Now().UTC()

	stream, err := s.openStream(ctx, client, creds, since)
	if err != nil {
		return s.finishWithError(ctx, t, classify(err))
	}

	imported := 0
	var firstErr error
	firstErrPage := 0
	for batch := range stream {
		if batch.Err != nil {
			if firstErr == nil {
				firstErr = batch.Err
				firstErrPage = batch.Page
			}
			s.logger.WithError(batch.Err).Warn("integration page failed",
				"exchange", exchange, "page", batch.Page)
			continue
		}

		imported += s.processBatch(ctx, client, userID, exchange, since, syncStart, batch)
		if batch.Page > 0 {
			t.RecordPage(time.Now().UTC(), batch.Page)
			if err := s.tasks.Update(ctx, t); err != nil {
				s.logger.WithError(err).Error("failed to record task progress")
			}
		}
	}

	if err := s.users.TouchCredentialSync(ctx, cred.ID, syncStart); err != nil {
		s.logger.WithError(err).Error("failed to stamp credential sync")
	}

	if firstErr != nil {
		classified := classify(firstErr)
		s.logger.WithError(firstErr).Error("integration finished with errors",
			"exchange", exchange, "first_error_page", firstErrPage, "imported", imported)
		return s.finishWithError(ctx, t, classified)
	}

	if err := t.Succeed(time.Now().UTC(), fmt.Sprintf("%d transações encontradas", imported)); err != nil {
		return err
	}
	return s.tasks.Update(ctx, t)
}

// openStream starts the feed, refreshing the client session once on an
// authentication failure before giving up.
func (s *Service) openStream(ctx context.Context, client ExchangeClient, creds Credentials, since time.Time) (<-chan Batch, error) {
	stream, err := client.Stream(ctx, creds, since)
	if err == nil {
		return stream, nil
	}
	appErr := apperrors.GetAppError(err)
	if appErr == nil || appErr.Code != apperrors.ErrCodeUnauthorized {
		return nil, err
	}
	refresher, ok := client.(SessionRefresher)
	if !ok {
		return nil, err
	}
	if refreshErr := refresher.RefreshSession(ctx, creds); refreshErr != nil {
		return nil, err
	}
	return client.Stream(ctx, creds, since)
}

func (s *Service) processBatch(ctx context.Context, client ExchangeClient, userID uuid.UUID, exchange string, since, syncStart time.Time, batch Batch) int {
	imported := 0
	for _, raw := range batch.Items {
		item, err := client.Parse(raw)
		if err != nil {
			// Schema violations are per-item and never retried.
			s.logger.WithError(err).Warn("skipping malformed item", "exchange", exchange)
			continue
		}
		if s.shouldSkip(item, since, syncStart) {
			continue
		}

		currency, err := money.ParseCurrency(item.Currency)
		if err != nil {
			s.logger.WithError(err).Warn("skipping item with unknown currency", "exchange", exchange)
			continue
		}
		action, err := domain.ParseAction(item.Action)
		if err != nil {
			s.logger.WithError(err).Warn("skipping item with unknown action", "exchange", exchange)
			continue
		}

		externalID := item.ExternalID
		cmd := &command.CreateTransaction{
			UserID: userID,
			Key: domain.AssetKey{
				Code:     strings.ToUpper(item.Code),
				Type:     assetTypeFor(exchange),
				Currency: currency,
			},
			Input: domain.TransactionInput{
				Action:        action,
				Quantity:      item.Quantity,
				Price:         money.New(item.Price, currency),
				OperationDate: item.OperationDate,
				ExternalID:    &externalID,
			},
			CreateAssetIfMissing: true,
		}
		if err := s.dispatcher.Execute(ctx, cmd, nil); err != nil {
			s.logger.WithError(err).Error("failed to import transaction",
				"exchange", exchange, "external_id", externalID)
			continue
		}
		if cmd.Created {
			imported++
		}
	}
	return imported
}

// shouldSkip applies the ingestion skip rules: skip-set currencies,
// dates outside the sync window, zero quantities.
func (s *Service) shouldSkip(item TradeItem, since, until time.Time) bool {
	if s.skipCurrencies[strings.ToUpper(item.Code)] {
		return true
	}
	if item.Quantity.IsZero() {
		return true
	}
	if !since.IsZero() && item.OperationDate.Before(since) {
		return true
	}
	if item.OperationDate.After(until) {
		return true
	}
	return false
}

func (s *Service) decrypt(cred *domain.ExchangeCredential) (Credentials, error) {
	key, err := s.secrets.Open(cred.APIKey)
	if err != nil {
		return Credentials{}, err
	}
	secret, err := s.secrets.Open(cred.APISecret)
	if err != nil {
		return Credentials{}, err
	}
	out := Credentials{APIKey: string(key), APISecret: string(secret)}
	if len(cred.Passphrase) > 0 {
		passphrase, err := s.secrets.Open(cred.Passphrase)
		if err != nil {
			return Credentials{}, err
		}
		out.Passphrase = string(passphrase)
	}
	return out, nil
}

// finishWithError parks the task for retry on transient failures and
// fails it otherwise, then propagates the error to the caller.
func (s *Service) finishWithError(ctx context.Context, t *task.Task, err error) error {
	now := time.Now().UTC()
	if apperrors.IsRetryable(err) {
		if trErr := t.MarkRetry(now, err); trErr != nil {
			return trErr
		}
	} else {
		if trErr := t.Fail(now, err); trErr != nil {
			return trErr
		}
	}
	if upErr := s.tasks.Update(ctx, t); upErr != nil {
		return upErr
	}
	return err
}

func (s *Service) fail(ctx context.Context, t *task.Task, err error) error {
	now := time.Now().UTC()
	if t.State == task.StatePending || t.State == task.StateRetry {
		_ = t.Start(now)
	}
	if trErr := t.Fail(now, err); trErr != nil {
		return trErr
	}
	if upErr := s.tasks.Update(ctx, t); upErr != nil {
		return upErr
	}
	return err
}

// classify maps client errors to the retry taxonomy: anything already
// classified passes through, everything else is treated as transient.
func classify(err error) error {
	if apperrors.IsAppError(err) {
		return err
	}
	return apperrors.Retryable("exchange request failed", err)
}
