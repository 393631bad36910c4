package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/models"
	"github.com/Kaizenpbc/cpr-apr12-sub000/pkg/jobs"
	"github.com/Kaizenpbc/cpr-apr12-sub000/pkg/storage"
)

type invoiceDetailReader interface {
	FindDetailByID(ctx context.Context, id string) (*models.InvoiceDetail, error)
}

type invoiceRenderer interface {
	RenderInvoice(inv models.InvoiceDetail) ([]byte, error)
}

type documentStore interface {
	Save(filename string, data []byte) (string, error)
}

const jobTypeInvoiceCreated = "invoice.created"

// NotificationConfig tunes the delivery worker pool.
type NotificationConfig struct {
	Workers    int
	MaxRetries int
}

// NotificationService handles post-invoice side effects on a background
// queue: rendering the invoice PDF, saving it, and logging the delivery.
// Failures retry independently and never affect the billing transition.
type NotificationService struct {
	invoices invoiceDetailReader
	renderer invoiceRenderer
	store    documentStore
	queue    *jobs.Queue
	logger   *zap.Logger
}

// NewNotificationService constructs NotificationService and its queue.
func NewNotificationService(invoices invoiceDetailReader, renderer invoiceRenderer, store documentStore, cfg NotificationConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{invoices: invoices, renderer: renderer, store: store, logger: logger}
	s.queue = jobs.NewQueue("invoice-notifications", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
	})
	return s
}

// Start launches the worker pool.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// InvoiceCreated enqueues delivery work for a freshly created invoice.
func (s *NotificationService) InvoiceCreated(invoice models.Invoice) {
	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    jobTypeInvoiceCreated,
		Payload: invoice.ID,
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Error("failed to enqueue invoice notification",
			zap.String("invoice_id", invoice.ID), zap.Error(err))
	}
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	invoiceID, ok := job.Payload.(string)
	if !ok {
		s.logger.Error("invoice notification job has unexpected payload", zap.String("job_id", job.ID))
		return nil
	}

	detail, err := s.invoices.FindDetailByID(ctx, invoiceID)
	if err != nil {
		return fmt.Errorf("load invoice %s: %w", invoiceID, err)
	}

	data, err := s.renderer.RenderInvoice(*detail)
	if err != nil {
		return fmt.Errorf("render invoice %s: %w", invoiceID, err)
	}

	filename := storage.InvoicePath(detail.InvoiceDate, detail.InvoiceNumber)
	if _, err := s.store.Save(filename, data); err != nil {
		return fmt.Errorf("store invoice %s: %w", invoiceID, err)
	}

	s.logger.Info("invoice document generated",
		zap.String("invoice_id", invoiceID),
		zap.String("invoice_number", detail.InvoiceNumber),
		zap.String("file", filename),
		zap.Time("generated_at", time.Now().UTC()))
	return nil
}
