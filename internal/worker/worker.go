package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Omwansam/furniture-backend/internal/service"
	"github.com/Omwansam/furniture-backend/internal/store"
	"github.com/Omwansam/furniture-backend/internal/util"
)

const sweepBatchSize = 100

// PaymentSweeper expires payments left pending beyond the confirmation
// window, usually because the provider callback never arrived. Each
// sweep is best-effort; a payment missed in one pass is picked up in
// the next.
type PaymentSweeper struct {
	store    *store.Store
	payments *service.PaymentService
	interval time.Duration
	expiry   time.Duration
	logger   *zap.Logger
	stop     chan struct{}
	done     chan struct{}
}

// NewPaymentSweeper creates a new payment sweeper
func NewPaymentSweeper(
	store *store.Store,
	payments *service.PaymentService,
	interval time.Duration,
	expiry time.Duration,
) *PaymentSweeper {
	return &PaymentSweeper{
		store:    store,
		payments: payments,
		interval: interval,
		expiry:   expiry,
		logger:   util.NamedLogger("sweeper"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or ctx is cancelled.
func (w *PaymentSweeper) Start(ctx context.Context) {
	w.logger.Info("Starting payment sweeper",
		zap.Duration("interval", w.interval),
		zap.Duration("expiry", w.expiry))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// Stop stops the sweeper and waits for the current sweep to finish.
func (w *PaymentSweeper) Stop() {
	w.logger.Info("Stopping payment sweeper")
	close(w.stop)
	<-w.done
}

func (w *PaymentSweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-w.expiry)
	payments, err := w.store.ListExpiredPendingPayments(ctx, cutoff, sweepBatchSize)
	if err != nil {
		w.logger.Error("Failed to list expired pending payments", zap.Error(err))
		return
	}

	for _, p := range payments {
		if err := w.payments.ExpirePayment(ctx, p.ID); err != nil {
			w.logger.Error("Failed to expire payment",
				zap.Int64("payment_id", p.ID),
				zap.Error(err))
			continue
		}
		w.logger.Info("Expired stale pending payment",
			zap.Int64("payment_id", p.ID),
			zap.Int64("order_id", p.OrderID))
	}
}
