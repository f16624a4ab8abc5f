package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"mccapes-reconciler/internal/core/domain"
	"mccapes-reconciler/internal/core/ports"
	"mccapes-reconciler/pkg/apperror"
	"mccapes-reconciler/pkg/logger"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultEmailRetryIntervals are the waits between delivery attempts.
var DefaultEmailRetryIntervals = []time.Duration{
	15 * time.Second,
	60 * time.Second,
	2 * time.Minute,
}

// NotificationOptions configures the order-completion email.
type NotificationOptions struct {
	Currency       string // ISO 4217
	StorefrontURL  string
	RetryIntervals []time.Duration
}

// notificationService implements ports.NotificationService.
type notificationService struct {
	orderRepo ports.OrderRepository
	emailLogs ports.EmailLogRepository
	sender    ports.EmailSender
	unit      currency.Unit
	printer   *message.Printer
	storeURL  string
	intervals []time.Duration
	log       zerolog.Logger
}

// NewNotificationService creates a new notification service. An unknown
// currency code falls back to EUR.
func NewNotificationService(
	orderRepo ports.OrderRepository,
	emailLogs ports.EmailLogRepository,
	sender ports.EmailSender,
	opts NotificationOptions,
	log zerolog.Logger,
) ports.NotificationService {
	unit, err := currency.ParseISO(opts.Currency)
	if err != nil {
		unit = currency.EUR
	}
	intervals := opts.RetryIntervals
	if intervals == nil {
		intervals = DefaultEmailRetryIntervals
	}
	return &notificationService{
		orderRepo: orderRepo,
		emailLogs: emailLogs,
		sender:    sender,
		unit:      unit,
		printer:   message.NewPrinter(language.English),
		storeURL:  strings.TrimRight(opts.StorefrontURL, "/"),
		intervals: intervals,
		log:       logger.Component(log, "notification"),
	}
}

// SendOrderConfirmation renders the completion email and delivers it
// asynchronously with retries.
func (s *notificationService) SendOrderConfirmation(ctx context.Context, orderID uuid.UUID) error {
	view, err := s.orderRepo.GetView(ctx, orderID)
	if err != nil {
		s.log.Error().Err(err).Str("order_id", orderID.String()).Msg("email: failed to load order")
		return apperror.ErrDatabaseError(err)
	}
	if view == nil {
		return apperror.ErrNotFound("order")
	}
	if view.Order.CustomerEmail == "" {
		s.log.Warn().Str("order_id", orderID.String()).Msg("email: order has no customer email, skipping")
		return apperror.Validation("order has no customer email")
	}

	msg := s.render(view)

	go s.deliverWithRetries(context.WithoutCancel(ctx), msg, orderID)

	return nil
}

// deliverWithRetries records every attempt in the delivery log.
func (s *notificationService) deliverWithRetries(ctx context.Context, msg *domain.EmailMessage, orderID uuid.UUID) {
	log := s.log.With().Str("order_id", orderID.String()).Str("to", msg.ToAddress).Logger()

	now := time.Now().UTC()
	entry := &domain.EmailDeliveryLog{
		ID:        uuid.New(),
		OrderID:   orderID,
		Recipient: msg.ToAddress,
		Subject:   msg.Subject,
		Status:    domain.EmailStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.emailLogs.Create(ctx, entry); err != nil {
		log.Warn().Err(err).Msg("email: failed to record delivery log")
	}

	for attempt := 0; attempt <= len(s.intervals); attempt++ {
		if attempt > 0 {
			time.Sleep(s.intervals[attempt-1])
		}

		entry.Attempt = attempt + 1
		err := s.sender.Send(ctx, msg)
		if err == nil {
			entry.Status = domain.EmailStatusDelivered
			entry.LastError = nil
			s.updateLog(ctx, log, entry)
			log.Info().Int("attempt", entry.Attempt).Msg("email: delivered")
			return
		}

		errText := err.Error()
		entry.LastError = &errText
		s.updateLog(ctx, log, entry)
		log.Warn().Err(err).Int("attempt", entry.Attempt).Msg("email: delivery failed")
	}

	entry.Status = domain.EmailStatusFailed
	s.updateLog(ctx, log, entry)
	log.Error().Msg("email: all retry attempts exhausted")
}

func (s *notificationService) updateLog(ctx context.Context, log zerolog.Logger, entry *domain.EmailDeliveryLog) {
	if err := s.emailLogs.Update(ctx, entry); err != nil {
		log.Warn().Err(err).Msg("email: failed to update delivery log")
	}
}

func (s *notificationService) render(view *domain.OrderView) *domain.EmailMessage {
	o := view.Order
	var b strings.Builder

	name := o.CustomerName
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "Hi %s, thanks for your order!\n\n", name)
	fmt.Fprintf(&b, "Order:   %s\n", o.ID)
	fmt.Fprintf(&b, "Placed:  %s\n", o.CreatedAt.UTC().Format("2 Jan 2006 15:04 MST"))
	fmt.Fprintf(&b, "Payment: %s\n\n", o.PaymentType)

	for i := range view.Items {
		item := &view.Items[i]
		fmt.Fprintf(&b, "%s x%d @ %s\n", item.ProductName, item.Quantity, s.money(item.Price))
		if len(item.Codes) > 0 {
			fmt.Fprintf(&b, "  Codes: %s\n", strings.Join(item.Codes, ", "))
		} else {
			b.WriteString("  Codes: not yet available, our team will deliver them shortly\n")
		}
		if link := s.productLink(item); link != "" {
			fmt.Fprintf(&b, "  %s\n", link)
		}
		if img := s.imageURL(item.ProductImage); img != "" {
			fmt.Fprintf(&b, "  Image: %s\n", img)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Subtotal: %s\n", s.money(view.Subtotal()))
	fmt.Fprintf(&b, "Fee:      %s\n", s.money(o.PaymentFee))
	fmt.Fprintf(&b, "Total:    %s\n", s.money(o.TotalPrice))

	plain := b.String()
	return &domain.EmailMessage{
		ToAddress: o.CustomerEmail,
		ToName:    o.CustomerName,
		Subject:   fmt.Sprintf("Your MCCapes order %s", shortID(o.ID)),
		PlainText: plain,
		HTML:      "<pre>" + html.EscapeString(plain) + "</pre>",
	}
}

func (s *notificationService) productLink(item *domain.OrderItem) string {
	if s.storeURL == "" {
		return ""
	}
	itemSlug := item.ProductSlug
	if itemSlug == "" {
		itemSlug = slug.Make(item.ProductName)
	}
	if itemSlug == "" {
		return ""
	}
	return s.storeURL + "/products/" + itemSlug
}

// money rounds half-up in decimal to the currency's standard scale, so the
// float handed to the formatter already carries the final digits.
// imageURL resolves a stored product image against the storefront. Relative
// paths without a storefront are dropped.
func (s *notificationService) imageURL(image string) string {
	image = strings.TrimSpace(image)
	switch {
	case image == "":
		return ""
	case strings.HasPrefix(image, "https://"), strings.HasPrefix(image, "http://"):
		return image
	case s.storeURL == "":
		return ""
	default:
		return s.storeURL + "/" + strings.TrimLeft(image, "/")
	}
}

func (s *notificationService) money(d decimal.Decimal) string {
	scale, _ := currency.Standard.Rounding(s.unit)
	rounded := d.Round(int32(scale))
	return s.printer.Sprint(currency.Symbol(s.unit.Amount(rounded.InexactFloat64())))
}

func shortID(id uuid.UUID) string {
	return strings.ToUpper(id.String()[:8])
}
