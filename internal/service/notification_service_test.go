package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"mccapes-reconciler/internal/core/domain"
	"mccapes-reconciler/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func sampleOrderView() *domain.OrderView {
	orderID := uuid.New()
	return &domain.OrderView{
		Order: domain.Order{
			ID:            orderID,
			CustomerName:  "Alex <script>",
			CustomerEmail: "alex@example.com",
			Status:        domain.OrderStatusPaid,
			PaymentType:   domain.PaymentTypeCrypto,
			TotalPrice:    decimal.RequireFromString("21.50"),
			PaymentFee:    decimal.RequireFromString("1.50"),
			CreatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		Items: []domain.OrderItem{
			{
				ID: uuid.New(), OrderID: orderID, ProductName: "Founder Cape", ProductSlug: "founder-cape",
				Quantity: 2, Price: decimal.RequireFromString("10"), Codes: []string{"AAA-1", "AAA-2"},
			},
			{
				ID: uuid.New(), OrderID: orderID, ProductName: "Migrator Cape & Pin",
				Quantity: 1, Price: decimal.Zero,
			},
		},
	}
}

func fastNotificationOptions() NotificationOptions {
	return NotificationOptions{
		Currency:       "EUR",
		StorefrontURL:  "https://mccapes.net/",
		RetryIntervals: []time.Duration{time.Millisecond, time.Millisecond},
	}
}

// ==================== Notification Tests ====================

func TestNotification_DeliversRenderedEmail(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	orderRepo := mocks.NewMockOrderRepository(ctrl)
	emailLogs := mocks.NewMockEmailLogRepository(ctrl)
	sender := mocks.NewMockEmailSender(ctrl)
	svc := NewNotificationService(orderRepo, emailLogs, sender, fastNotificationOptions(), newTestLogger())

	view := sampleOrderView()
	orderRepo.EXPECT().GetView(gomock.Any(), view.Order.ID).Return(view, nil)
	emailLogs.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)

	final := make(chan domain.EmailDeliveryLog, 1)
	emailLogs.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, entry *domain.EmailDeliveryLog) error {
			final <- *entry
			return nil
		},
	)

	sent := make(chan *domain.EmailMessage, 1)
	sender.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, msg *domain.EmailMessage) error {
			sent <- msg
			return nil
		},
	)

	require.NoError(t, svc.SendOrderConfirmation(context.Background(), view.Order.ID))

	select {
	case msg := <-sent:
		assert.Equal(t, "alex@example.com", msg.ToAddress)
		assert.Contains(t, msg.Subject, "MCCapes order")
		assert.Contains(t, msg.PlainText, "Founder Cape x2")
		assert.Contains(t, msg.PlainText, "AAA-1, AAA-2")
		assert.Contains(t, msg.PlainText, "https://mccapes.net/products/founder-cape")
		assert.Contains(t, msg.PlainText, "https://mccapes.net/products/migrator-cape-and-pin")
		assert.Contains(t, msg.PlainText, "not yet available")
		assert.Contains(t, msg.PlainText, "21.5")
		assert.Contains(t, msg.PlainText, "CRYPTO")
		assert.Contains(t, msg.HTML, "&lt;script&gt;")
		assert.NotContains(t, msg.HTML, "<script>")
	case <-time.After(2 * time.Second):
		t.Fatal("email not sent in time")
	}

	select {
	case entry := <-final:
		assert.Equal(t, domain.EmailStatusDelivered, entry.Status)
		assert.Equal(t, 1, entry.Attempt)
		assert.Nil(t, entry.LastError)
	case <-time.After(2 * time.Second):
		t.Fatal("delivery log not updated in time")
	}
}

func TestNotification_RenderRoundsPricesAndShowsImages(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := NewNotificationService(
		mocks.NewMockOrderRepository(ctrl),
		mocks.NewMockEmailLogRepository(ctrl),
		mocks.NewMockEmailSender(ctrl),
		fastNotificationOptions(),
		newTestLogger(),
	).(*notificationService)

	view := sampleOrderView()
	view.Items[0].Price = decimal.RequireFromString("2.675")
	view.Items[0].ProductImage = "/images/founder.png"
	view.Items[1].ProductImage = "https://cdn.mccapes.net/migrator.webp"

	msg := svc.render(view)

	// 2.675 has no exact float64 form and would print as 2.67.
	assert.Contains(t, msg.PlainText, "Founder Cape x2 @ € 2.68")
	assert.NotContains(t, msg.PlainText, "2.67")
	assert.Contains(t, msg.PlainText, "Image: https://mccapes.net/images/founder.png")
	assert.Contains(t, msg.PlainText, "Image: https://cdn.mccapes.net/migrator.webp")
	assert.Contains(t, msg.HTML, "https://cdn.mccapes.net/migrator.webp")
}

func TestNotification_ImageURLWithoutStorefront(t *testing.T) {
	svc := &notificationService{}
	assert.Equal(t, "", svc.imageURL("/images/a.png"))
	assert.Equal(t, "", svc.imageURL("  "))
	assert.Equal(t, "https://cdn.example/a.png", svc.imageURL("https://cdn.example/a.png"))
}

func TestNotification_RetriesThenFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	orderRepo := mocks.NewMockOrderRepository(ctrl)
	emailLogs := mocks.NewMockEmailLogRepository(ctrl)
	sender := mocks.NewMockEmailSender(ctrl)
	svc := NewNotificationService(orderRepo, emailLogs, sender, fastNotificationOptions(), newTestLogger())

	view := sampleOrderView()
	orderRepo.EXPECT().GetView(gomock.Any(), view.Order.ID).Return(view, nil)
	emailLogs.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("log table missing"))
	sender.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("sendgrid 503")).Times(3)

	updates := make(chan domain.EmailDeliveryLog, 8)
	emailLogs.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, entry *domain.EmailDeliveryLog) error {
			updates <- *entry
			return nil
		},
	).Times(4)

	require.NoError(t, svc.SendOrderConfirmation(context.Background(), view.Order.ID))

	var last domain.EmailDeliveryLog
	for range 4 {
		select {
		case last = <-updates:
		case <-time.After(2 * time.Second):
			t.Fatal("delivery attempts not recorded in time")
		}
	}
	assert.Equal(t, domain.EmailStatusFailed, last.Status)
	assert.Equal(t, 3, last.Attempt)
	require.NotNil(t, last.LastError)
	assert.Contains(t, *last.LastError, "503")
}

func TestNotification_OrderNotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	orderRepo := mocks.NewMockOrderRepository(ctrl)
	svc := NewNotificationService(orderRepo, mocks.NewMockEmailLogRepository(ctrl), mocks.NewMockEmailSender(ctrl),
		fastNotificationOptions(), newTestLogger())

	orderRepo.EXPECT().GetView(gomock.Any(), gomock.Any()).Return(nil, nil)

	err := svc.SendOrderConfirmation(context.Background(), uuid.New())
	assert.Error(t, err)
}

func TestNotification_MissingCustomerEmail(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	orderRepo := mocks.NewMockOrderRepository(ctrl)
	svc := NewNotificationService(orderRepo, mocks.NewMockEmailLogRepository(ctrl), mocks.NewMockEmailSender(ctrl),
		fastNotificationOptions(), newTestLogger())

	view := sampleOrderView()
	view.Order.CustomerEmail = ""
	orderRepo.EXPECT().GetView(gomock.Any(), view.Order.ID).Return(view, nil)

	err := svc.SendOrderConfirmation(context.Background(), view.Order.ID)
	assert.Error(t, err)
}
