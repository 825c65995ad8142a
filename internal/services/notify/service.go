// internal/services/notify/service.go

// Package notify writes notifications to the in-app inbox and delivers them
// by email and SMS on a best-effort basis. Nothing here ever returns an error
// to the operation that produced the notification.
package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"compliance-workflow/internal/common/logger"
	"compliance-workflow/internal/common/metrics"
	"compliance-workflow/internal/models"
	"compliance-workflow/internal/store"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Notifier accepts a batch of notifications. Implementations must not block
// on delivery failures and never report them to the caller.
type Notifier interface {
	NotifyBatch(ctx context.Context, msgs []Message)
}

type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, phone, message string) error
}

type Service struct {
	config *Config
	store  store.Store
	email  EmailSender
	sms    SMSSender
	logger logger.Logger
	now    func() time.Time

	wg sync.WaitGroup
}

var _ Notifier = (*Service)(nil)

type Option func(*Service)

func WithEmail(sender EmailSender) Option {
	return func(s *Service) { s.email = sender }
}

func WithSMS(sender SMSSender) Option {
	return func(s *Service) { s.sms = sender }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService copies config; a nil config means LoadConfig.
func NewService(config *Config, st store.Store, log logger.Logger, opts ...Option) *Service {
	if config == nil {
		config = LoadConfig()
	}
	cfg := *config
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	s := &Service{
		config: &cfg,
		store:  st,
		logger: log.WithFields(map[string]interface{}{"component": "notifier"}),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NotifyBatch enqueues msgs in one transaction and then delivers them.
func (s *Service) NotifyBatch(ctx context.Context, msgs []Message) {
	if len(msgs) == 0 {
		return
	}

	now := s.now()
	rows := make([]*models.Notification, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, &models.Notification{
			ID:          uuid.New().String(),
			RecipientID: m.RecipientID,
			Category:    m.Category,
			Title:       m.Title,
			Message:     m.Body,
			Link:        m.Link,
			CreatedAt:   now,
		})
	}

	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		for _, n := range rows {
			if err := tx.InsertNotification(ctx, n); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		metrics.NotificationFailures.WithLabelValues("enqueue").Inc()
		s.logger.Error("failed to enqueue notifications", map[string]interface{}{
			"count": len(rows),
			"error": err,
		})
		return
	}

	metrics.NotificationsEnqueued.Add(float64(len(rows)))
	s.logger.Info("notifications enqueued", map[string]interface{}{
		"count":    len(rows),
		"category": string(rows[0].Category),
	})

	if s.email == nil && s.sms == nil {
		return
	}
	if s.config.Async {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.deliver(context.WithoutCancel(ctx), rows)
		}()
		return
	}
	s.deliver(ctx, rows)
}

// Wait blocks until background deliveries have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) deliver(ctx context.Context, rows []*models.Notification) {
	contacts := s.lookupContacts(ctx, rows)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)

	for _, n := range rows {
		n := n
		c, ok := contacts[n.RecipientID]
		if !ok {
			continue
		}
		g.Go(func() error {
			s.send(gctx, n, c)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) lookupContacts(ctx context.Context, rows []*models.Notification) map[string]*models.Contact {
	contacts := make(map[string]*models.Contact)
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		for k := range contacts {
			delete(contacts, k)
		}
		for _, n := range rows {
			if _, seen := contacts[n.RecipientID]; seen {
				continue
			}
			c, err := tx.GetContact(ctx, n.RecipientID)
			if errors.Is(err, store.ErrNotFound) {
				s.logger.Warn("recipient has no contact record", map[string]interface{}{
					"recipientId": n.RecipientID,
				})
				continue
			}
			if err != nil {
				return err
			}
			contacts[n.RecipientID] = c
		}
		return nil
	})
	if err != nil {
		metrics.NotificationFailures.WithLabelValues("lookup").Inc()
		s.logger.Error("failed to resolve recipients", map[string]interface{}{
			"error": err,
		})
		return nil
	}
	return contacts
}

func (s *Service) send(ctx context.Context, n *models.Notification, c *models.Contact) {
	body := n.Message
	if link := s.absoluteLink(n.Link); link != "" {
		body += "\n\n" + link
	}

	if s.email != nil && c.Email != "" {
		if err := s.email.SendEmail(ctx, c.Email, n.Title, body); err != nil {
			metrics.NotificationFailures.WithLabelValues("email").Inc()
			s.logger.Error("email send failed", map[string]interface{}{
				"notificationId": n.ID,
				"recipientId":    n.RecipientID,
				"error":          err,
			})
		}
	}

	if s.sms != nil && c.Phone != "" && n.Category.Urgent() {
		if err := s.sms.SendSMS(ctx, c.Phone, n.Title+": "+n.Message); err != nil {
			metrics.NotificationFailures.WithLabelValues("sms").Inc()
			s.logger.Error("SMS send failed", map[string]interface{}{
				"notificationId": n.ID,
				"recipientId":    n.RecipientID,
				"error":          err,
			})
		}
	}
}

func (s *Service) absoluteLink(link string) string {
	if link == "" || s.config.LinkBaseURL == "" || !strings.HasPrefix(link, "/") {
		return link
	}
	return strings.TrimRight(s.config.LinkBaseURL, "/") + link
}
