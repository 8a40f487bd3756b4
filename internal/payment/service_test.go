package payment_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/payment"
)

type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockPaymentRepository) GetBySessionID(ctx context.Context, sessionID string) (*payment.Payment, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Payment), args.Error(1)
}

func (m *MockPaymentRepository) GetByPaymentIntentID(ctx context.Context, intentID string) (*payment.Payment, error) {
	args := m.Called(ctx, intentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Payment), args.Error(1)
}

func (m *MockPaymentRepository) GetLatestByOrderID(ctx context.Context, orderID uuid.UUID) (*payment.Payment, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Payment), args.Error(1)
}

func (m *MockPaymentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status payment.Status, intentID string) error {
	args := m.Called(ctx, id, status, intentID)
	return args.Error(0)
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateCheckoutSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Session), args.Error(1)
}

func (m *MockGateway) ExpireCheckoutSession(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *MockGateway) Refund(ctx context.Context, paymentIntentID string) error {
	args := m.Called(ctx, paymentIntentID)
	return args.Error(0)
}

func (m *MockGateway) ParseEvent(payload []byte, signature string) (*payment.Event, error) {
	args := m.Called(payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Event), args.Error(1)
}

type MockOrders struct {
	mock.Mock
}

func (m *MockOrders) Checkout(ctx context.Context, input order.CheckoutInput) (*order.Order, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrders) GetOrder(ctx context.Context, id uuid.UUID, viewer order.Viewer) (*order.Order, error) {
	args := m.Called(ctx, id, viewer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrders) UpdateStatus(ctx context.Context, change order.StatusChange) (*order.Transition, error) {
	args := m.Called(ctx, change)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Transition), args.Error(1)
}

func pendingOrder(userID uuid.UUID) *order.Order {
	return &order.Order{
		ID:            uuid.Must(uuid.NewV4()),
		UserID:        userID,
		Status:        order.StatusPending,
		Currency:      "usd",
		CustomerEmail: "ada@example.com",
		Items: []order.OrderItem{
			{ProductName: "Mug", UnitPrice: decimal.RequireFromString("12.50"), Quantity: 2},
		},
		Subtotal:     decimal.RequireFromString("25.00"),
		ShippingCost: decimal.RequireFromString("5.99"),
		Total:        decimal.RequireFromString("30.99"),
	}
}

func TestPaymentService_StartCheckout_Success(t *testing.T) {
	repo, gw, orders := new(MockPaymentRepository), new(MockGateway), new(MockOrders)
	svc := payment.NewService(repo, gw, orders)

	userID := uuid.Must(uuid.NewV4())
	o := pendingOrder(userID)
	input := order.CheckoutInput{UserID: userID, Email: o.CustomerEmail}

	orders.On("Checkout", mock.Anything, input).Return(o, nil).Once()
	gw.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(req payment.SessionRequest) bool {
		return req.OrderID == o.ID &&
			req.Shipping == 599 &&
			len(req.Items) == 1 &&
			req.Items[0].UnitAmount == 1250 &&
			req.Items[0].Quantity == 2
	})).Return(&payment.Session{ID: "cs_1", URL: "https://checkout.stripe.test/cs_1"}, nil).Once()
	repo.On("Create", mock.Anything, mock.MatchedBy(func(p *payment.Payment) bool {
		return p.SessionID == "cs_1" && p.Status == payment.StatusPending && p.Amount.Equal(o.Total)
	})).Return(nil).Once()

	res, err := svc.StartCheckout(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.test/cs_1", res.RedirectURL)
	assert.Equal(t, o.ID, res.Order.ID)

	repo.AssertExpectations(t)
	gw.AssertExpectations(t)
	orders.AssertExpectations(t)
}

func TestPaymentService_StartCheckout_ProviderFailureMarksOrderFailed(t *testing.T) {
	repo, gw, orders := new(MockPaymentRepository), new(MockGateway), new(MockOrders)
	svc := payment.NewService(repo, gw, orders)

	userID := uuid.Must(uuid.NewV4())
	o := pendingOrder(userID)
	input := order.CheckoutInput{UserID: userID}

	failed := *o
	failed.Status = order.StatusFailed

	orders.On("Checkout", mock.Anything, input).Return(o, nil).Once()
	gw.On("CreateCheckoutSession", mock.Anything, mock.Anything).
		Return(nil, errors.New("stripe: connection refused")).Once()
	orders.On("UpdateStatus", mock.Anything, order.StatusChange{
		OrderID:  o.ID,
		To:       order.StatusFailed,
		OnlyFrom: []order.OrderStatus{order.StatusPending},
	}).Return(&order.Transition{Order: &failed, From: order.StatusPending, Changed: true}, nil).Once()

	res, err := svc.StartCheckout(context.Background(), input)
	require.ErrorIs(t, err, payment.ErrProviderUnavailable)
	require.Nil(t, res)

	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	orders.AssertExpectations(t)
}

func TestPaymentService_StartCheckout_OrderErrorPassesThrough(t *testing.T) {
	repo, gw, orders := new(MockPaymentRepository), new(MockGateway), new(MockOrders)
	svc := payment.NewService(repo, gw, orders)

	input := order.CheckoutInput{UserID: uuid.Must(uuid.NewV4())}
	orders.On("Checkout", mock.Anything, input).Return(nil, order.ErrEmptyCart).Once()

	_, err := svc.StartCheckout(context.Background(), input)
	require.ErrorIs(t, err, order.ErrEmptyCart)
	gw.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything, mock.Anything)
}

func TestPaymentService_RetryCheckout(t *testing.T) {
	repo, gw, orders := new(MockPaymentRepository), new(MockGateway), new(MockOrders)
	svc := payment.NewService(repo, gw, orders)

	userID := uuid.Must(uuid.NewV4())
	o := pendingOrder(userID)
	o.Status = order.StatusFailed
	pending := *o
	pending.Status = order.StatusPending

	previous := &payment.Payment{ID: uuid.Must(uuid.NewV4()), OrderID: o.ID, SessionID: "cs_1", Status: payment.StatusFailed}

	orders.On("GetOrder", mock.Anything, o.ID, order.Viewer{UserID: userID}).Return(o, nil).Once()
	repo.On("GetLatestByOrderID", mock.Anything, o.ID).Return(previous, nil).Once()
	gw.On("ExpireCheckoutSession", mock.Anything, "cs_1").Return(fmt.Errorf("%w: session is complete", payment.ErrSessionNotOpen)).Once()
	orders.On("UpdateStatus", mock.Anything, order.StatusChange{
		OrderID:  o.ID,
		To:       order.StatusPending,
		OnlyFrom: []order.OrderStatus{order.StatusFailed},
	}).Return(&order.Transition{Order: &pending, From: order.StatusFailed, Changed: true}, nil).Once()
	gw.On("CreateCheckoutSession", mock.Anything, mock.Anything).Return(&payment.Session{ID: "cs_2", URL: "https://pay/cs_2"}, nil).Once()
	repo.On("Create", mock.Anything, mock.AnythingOfType("*payment.Payment")).Return(nil).Once()

	res, err := svc.RetryCheckout(context.Background(), o.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, res.Order.Status)
	assert.Equal(t, "https://pay/cs_2", res.RedirectURL)
	repo.AssertExpectations(t)
	gw.AssertExpectations(t)
	orders.AssertExpectations(t)
}

func TestPaymentService_RetryCheckout_ExpiresOpenPreviousSession(t *testing.T) {
	repo, gw, orders := new(MockPaymentRepository), new(MockGateway), new(MockOrders)
	svc := payment.NewService(repo, gw, orders)

	userID := uuid.Must(uuid.NewV4())
	o := pendingOrder(userID)
	o.Status = order.StatusFailed
	pending := *o
	pending.Status = order.StatusPending
	previous := &payment.Payment{ID: uuid.Must(uuid.NewV4()), OrderID: o.ID, SessionID: "cs_1", Status: payment.StatusPending}

	orders.On("GetOrder", mock.Anything, o.ID, order.Viewer{UserID: userID}).Return(o, nil).Once()
	repo.On("GetLatestByOrderID", mock.Anything, o.ID).Return(previous, nil).Once()
	gw.On("ExpireCheckoutSession", mock.Anything, "cs_1").Return(nil).Once()
	repo.On("UpdateStatus", mock.Anything, previous.ID, payment.StatusCancelled, "").Return(nil).Once()
	orders.On("UpdateStatus", mock.Anything, mock.AnythingOfType("order.StatusChange")).
		Return(&order.Transition{Order: &pending, From: order.StatusFailed, Changed: true}, nil).Once()
	gw.On("CreateCheckoutSession", mock.Anything, mock.Anything).Return(&payment.Session{ID: "cs_2", URL: "https://pay/cs_2"}, nil).Once()
	repo.On("Create", mock.Anything, mock.AnythingOfType("*payment.Payment")).Return(nil).Once()

	_, err := svc.RetryCheckout(context.Background(), o.ID, userID)
	require.NoError(t, err)
	repo.AssertExpectations(t)
	gw.AssertExpectations(t)
}

func TestPaymentService_RetryCheckout_ExpiryFailureKeepsOrderFailed(t *testing.T) {
	repo, gw, orders := new(MockPaymentRepository), new(MockGateway), new(MockOrders)
	svc := payment.NewService(repo, gw, orders)

	userID := uuid.Must(uuid.NewV4())
	o := pendingOrder(userID)
	o.Status = order.StatusFailed
	previous := &payment.Payment{ID: uuid.Must(uuid.NewV4()), OrderID: o.ID, SessionID: "cs_1", Status: payment.StatusPending}

	orders.On("GetOrder", mock.Anything, o.ID, order.Viewer{UserID: userID}).Return(o, nil).Once()
	repo.On("GetLatestByOrderID", mock.Anything, o.ID).Return(previous, nil).Once()
	gw.On("ExpireCheckoutSession", mock.Anything, "cs_1").Return(fmt.Errorf("%w: timeout", payment.ErrProviderUnavailable)).Once()

	res, err := svc.RetryCheckout(context.Background(), o.ID, userID)
	require.ErrorIs(t, err, payment.ErrProviderUnavailable)
	assert.Nil(t, res)
	orders.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything)
	gw.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything, mock.Anything)
}

func TestPaymentService_RetryCheckout_OnlyFailedOrders(t *testing.T) {
	repo, gw, orders := new(MockPaymentRepository), new(MockGateway), new(MockOrders)
	svc := payment.NewService(repo, gw, orders)

	userID := uuid.Must(uuid.NewV4())
	o := pendingOrder(userID)
	orders.On("GetOrder", mock.Anything, o.ID, order.Viewer{UserID: userID}).Return(o, nil).Once()

	_, err := svc.RetryCheckout(context.Background(), o.ID, userID)
	require.ErrorIs(t, err, payment.ErrNotRetryable)
}

func TestPaymentService_Refund(t *testing.T) {
	orderID := uuid.Must(uuid.NewV4())
	paymentID := uuid.Must(uuid.NewV4())
	admin := order.Viewer{IsAdmin: true}

	tests := []struct {
		name      string
		status    order.OrderStatus
		payment   *payment.Payment
		paymentEr error
		refundErr error
		wantErr   error
	}{
		{
			name:    "paid order is refunded",
			status:  order.StatusPaid,
			payment: &payment.Payment{ID: paymentID, Status: payment.StatusSucceeded, PaymentIntentID: "pi_1"},
		},
		{
			name:    "pending order cannot be refunded",
			status:  order.StatusPending,
			wantErr: order.ErrInvalidStatusTransition,
		},
		{
			name:      "no payment row",
			status:    order.StatusDelivered,
			paymentEr: payment.ErrPaymentNotFound,
			wantErr:   payment.ErrNothingToRefund,
		},
		{
			name:    "payment never captured",
			status:  order.StatusPaid,
			payment: &payment.Payment{ID: paymentID, Status: payment.StatusPending},
			wantErr: payment.ErrNothingToRefund,
		},
		{
			name:      "provider refuses",
			status:    order.StatusProcessing,
			payment:   &payment.Payment{ID: paymentID, Status: payment.StatusSucceeded, PaymentIntentID: "pi_1"},
			refundErr: errors.New("charge_already_refunded"),
			wantErr:   payment.ErrProviderUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, gw, orders := new(MockPaymentRepository), new(MockGateway), new(MockOrders)
			svc := payment.NewService(repo, gw, orders)

			orders.On("GetOrder", mock.Anything, orderID, admin).Return(&order.Order{ID: orderID, Status: tt.status}, nil).Once()
			if order.CanTransition(tt.status, order.StatusRefunded) {
				repo.On("GetLatestByOrderID", mock.Anything, orderID).Return(tt.payment, tt.paymentEr).Once()
			}
			if tt.payment != nil && tt.payment.PaymentIntentID != "" {
				gw.On("Refund", mock.Anything, "pi_1").Return(tt.refundErr).Once()
			}
			if tt.wantErr == nil {
				repo.On("UpdateStatus", mock.Anything, paymentID, payment.StatusRefunded, "").Return(nil).Once()
				orders.On("UpdateStatus", mock.Anything, order.StatusChange{OrderID: orderID, To: order.StatusRefunded}).
					Return(&order.Transition{Order: &order.Order{ID: orderID, Status: order.StatusRefunded}, From: tt.status, Changed: true}, nil).Once()
			}

			got, err := svc.Refund(context.Background(), orderID)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.Nil(t, got)
			} else {
				require.NoError(t, err)
				assert.Equal(t, order.StatusRefunded, got.Status)
			}
			repo.AssertExpectations(t)
			gw.AssertExpectations(t)
			orders.AssertExpectations(t)
		})
	}
}
