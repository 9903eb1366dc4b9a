package worker

import (
	"context"
	"log"
	"time"

	"marketplace-orders/internal/broker"
	"marketplace-orders/internal/models"
	"marketplace-orders/internal/service"
)

// IssuanceWorker reacts to ads_package orders reaching paid status by minting
// their own-package records. Issuance is idempotent, so event redelivery just
// finds the rows already there.
type IssuanceWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
}

// NewIssuanceWorker creates the worker and registers its event route.
func NewIssuanceWorker(consumer *broker.Consumer, packages *service.OwnPackageService) *IssuanceWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnOrderStatusChanged(func(ctx context.Context, event *models.OrderStatusChangedEvent) error {
		if event.OrderType != models.OrderTypeAdsPackage || event.NewStatus != models.OrderStatusPaid {
			return nil
		}

		log.Printf("Issuing packages for paid order: %d", event.OrderID)
		_, err := packages.CreateFromOrder(ctx, event.OrderID)
		return err
	})

	return &IssuanceWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
	}
}

// Start starts the worker
func (w *IssuanceWorker) Start(ctx context.Context) error {
	log.Println("Starting issuance worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *IssuanceWorker) Stop() error {
	log.Println("Stopping issuance worker...")
	return w.consumer.Close()
}

// ExpiryWorker runs the own-package expiry sweep on a fixed interval.
type ExpiryWorker struct {
	packages *service.OwnPackageService
	interval time.Duration
}

// NewExpiryWorker creates a new expiry worker
func NewExpiryWorker(packages *service.OwnPackageService, interval time.Duration) *ExpiryWorker {
	return &ExpiryWorker{packages: packages, interval: interval}
}

// Start runs the sweep loop until ctx is cancelled.
func (w *ExpiryWorker) Start(ctx context.Context) error {
	log.Printf("Starting expiry worker, interval=%s", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Expiry worker context cancelled, stopping...")
			return ctx.Err()
		case <-ticker.C:
			count, err := w.packages.ProcessExpiredPackages(ctx)
			if err != nil {
				log.Printf("Expiry sweep failed: %v", err)
				continue
			}
			if count > 0 {
				log.Printf("Expiry sweep updated %d packages", count)
			}
		}
	}
}
