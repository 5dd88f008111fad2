package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/zjoart/go-cleaner-wallet/pkg/events"
	"github.com/zjoart/go-cleaner-wallet/pkg/logger"
)

type EventQueue interface {
	NextEvent(ctx context.Context, timeout time.Duration) ([]byte, error)
	PushToDLQ(ctx context.Context, data []byte) error
}

type EventPoster interface {
	CreditFromEvent(ctx context.Context, in EventMutation) (*Transaction, error)
	SpendFromEvent(ctx context.Context, in EventMutation) (*Transaction, error)
}

// LedgerEventWorker drains the ledger event queue. Events are retried a few
// times; anything still failing, or malformed, goes to the dead-letter list.
type LedgerEventWorker struct {
	Queue      EventQueue
	Poster     EventPoster
	MaxRetries int
	Backoff    time.Duration
}

func NewLedgerEventWorker(queue EventQueue, poster EventPoster) *LedgerEventWorker {
	return &LedgerEventWorker{Queue: queue, Poster: poster, MaxRetries: 3, Backoff: time.Second}
}

func (w *LedgerEventWorker) Start(ctx context.Context) {
	logger.Info("Starting ledger event worker...")
	go w.processEvents(ctx)
}

func (w *LedgerEventWorker) processEvents(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			logger.Info("Ledger event worker stopped")
			return
		}

		data, err := w.Queue.NextEvent(ctx, 5*time.Second)
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				logger.Warn("LedgerWorker: Failed to read queue", logger.WithError(err))
				time.Sleep(time.Second)
			}
			continue
		}

		w.HandleMessage(ctx, data)
	}
}

// HandleMessage processes one raw queue payload.
func (w *LedgerEventWorker) HandleMessage(ctx context.Context, data []byte) {
	var event events.LedgerEvent
	if err := json.Unmarshal(data, &event); err != nil {
		logger.Error("LedgerWorker: Failed to unmarshal event", logger.Fields{"error": err.Error(), "data": string(data)})
		w.moveToDLQ(ctx, data)
		return
	}

	in, post, err := w.route(event)
	if err != nil {
		logger.Warn("LedgerWorker: Rejecting event", logger.Fields{"event": event.Event, logger.ReferenceKey: event.ReferenceID, "error": err.Error()})
		w.moveToDLQ(ctx, data)
		return
	}

	for i := 0; i < w.MaxRetries; i++ {
		tx, err := post(ctx, in)
		if err == nil {
			logger.Info("LedgerWorker: Successfully processed event", logger.Fields{
				"event":             event.Event,
				logger.ReferenceKey: event.ReferenceID,
				"transaction_id":    tx.ID.String(),
			})
			return
		}

		if IsClientError(err) || IsNotFound(err) {
			logger.Warn("LedgerWorker: Event rejected by ledger", logger.Fields{"event": event.Event, logger.ReferenceKey: event.ReferenceID, "error": err.Error()})
			break
		}

		logger.Warn("LedgerWorker: Failed to process event, retrying", logger.Fields{
			"event":             event.Event,
			logger.ReferenceKey: event.ReferenceID,
			"attempt":           i + 1,
			"error":             err.Error(),
		})
		if i+1 == w.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			logger.Warn("LedgerWorker: Stopping mid-retry, moving event to DLQ", logger.Fields{logger.ReferenceKey: event.ReferenceID})
			w.moveToDLQ(ctx, data)
			return
		case <-time.After(time.Duration(i+1) * w.Backoff):
		}
	}

	logger.Error("LedgerWorker: Giving up on event, moving to DLQ", logger.Fields{logger.ReferenceKey: event.ReferenceID})
	w.moveToDLQ(ctx, data)
}

func (w *LedgerEventWorker) route(event events.LedgerEvent) (EventMutation, func(context.Context, EventMutation) (*Transaction, error), error) {
	userID, err := uuid.Parse(event.UserID)
	if err != nil {
		return EventMutation{}, nil, fmt.Errorf("invalid user id: %w", err)
	}
	amount, err := decimal.NewFromString(event.Amount)
	if err != nil {
		return EventMutation{}, nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	in := EventMutation{
		UserID:      userID,
		Amount:      amount,
		ReferenceID: event.ReferenceID,
		Description: event.Description,
	}

	switch event.Event {
	case events.EventBookingCompleted:
		in.Type = TransactionEarning
		return in, w.Poster.CreditFromEvent, nil
	case events.EventBookingRefunded:
		in.Type = TransactionRefund
		return in, w.Poster.CreditFromEvent, nil
	case events.EventBookingPaid:
		in.Type = TransactionSpend
		return in, w.Poster.SpendFromEvent, nil
	default:
		return EventMutation{}, nil, fmt.Errorf("unknown event type %q", event.Event)
	}
}

// eventNames maps a ledger type to the queue event the worker routes back to it.
var eventNames = map[TransactionType]string{
	TransactionEarning: events.EventBookingCompleted,
	TransactionRefund:  events.EventBookingRefunded,
	TransactionSpend:   events.EventBookingPaid,
}

func (w *LedgerEventWorker) moveToDLQ(ctx context.Context, data []byte) {
	if err := w.Queue.PushToDLQ(context.WithoutCancel(ctx), data); err != nil {
		logger.Error("LedgerWorker: Failed to push to DLQ", logger.Fields{"error": err.Error()})
	}
}
