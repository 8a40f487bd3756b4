package order_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
)

type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) CreateOrder(ctx context.Context, o *order.Order) error {
	args := m.Called(ctx, o)
	if args.Error(0) == nil && o.ID == uuid.Nil {
		o.ID = uuid.Must(uuid.NewV4())
	}
	return args.Error(0)
}

func (m *MockOrderRepository) GetOrderByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	o := *args.Get(0).(*order.Order)
	return &o, args.Error(1)
}

func (m *MockOrderRepository) GetOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]order.Order, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockOrderRepository) ListOrders(ctx context.Context, f order.ListFilter) ([]order.Order, int, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]order.Order), args.Int(1), args.Error(2)
}

func (m *MockOrderRepository) UpdateOrderStatus(ctx context.Context, u order.StatusUpdate) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *MockOrderRepository) HasDeliveredProduct(ctx context.Context, userID, productID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID, productID)
	return args.Bool(0), args.Error(1)
}

type MockCartSource struct {
	mock.Mock
}

func (m *MockCartSource) GetCart(ctx context.Context, userID uuid.UUID) (*cart.Cart, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Cart), args.Error(1)
}

type recordingListener struct {
	changes []string
}

func (l *recordingListener) OrderStatusChanged(_ context.Context, o order.Order, from order.OrderStatus) {
	l.changes = append(l.changes, string(from)+"->"+string(o.Status))
}

var testPricing = order.Pricing{
	FlatRate:      decimal.RequireFromString("5.99"),
	FreeThreshold: decimal.RequireFromString("75.00"),
	Currency:      "usd",
}

func validShipping() order.ShippingInfo {
	return order.ShippingInfo{
		Recipient:  "Ada Lovelace",
		Line1:      "12 Analytical St",
		City:       "London",
		PostalCode: "N1 9GU",
		Country:    "gb",
	}
}

func cartWith(userID uuid.UUID, items ...cart.Item) *cart.Cart {
	return &cart.Cart{ID: uuid.Must(uuid.NewV4()), UserID: userID, Items: items}
}

func product(name, price string, stock int) *catalog.Product {
	return &catalog.Product{
		ID:       uuid.Must(uuid.NewV4()),
		Name:     name,
		Price:    decimal.RequireFromString(price),
		Stock:    stock,
		IsActive: true,
	}
}

func TestOrderService_Checkout(t *testing.T) {
	userID := uuid.Must(uuid.NewV4())
	mug := product("Mug", "12.50", 10)
	lamp := product("Lamp", "40.00", 1)
	inactive := product("Old", "1.00", 5)
	inactive.IsActive = false

	tests := []struct {
		name         string
		cart         *cart.Cart
		shipping     order.ShippingInfo
		wantErr      error
		wantSubtotal string
		wantShipping string
		wantTotal    string
	}{
		{
			name:         "flat shipping under threshold",
			cart:         cartWith(userID, cart.Item{ProductID: mug.ID, Quantity: 2, Product: mug}),
			shipping:     validShipping(),
			wantSubtotal: "25.00",
			wantShipping: "5.99",
			wantTotal:    "30.99",
		},
		{
			name: "free shipping at threshold",
			cart: cartWith(userID,
				cart.Item{ProductID: mug.ID, Quantity: 3, Product: mug},
				cart.Item{ProductID: lamp.ID, Quantity: 1, Product: lamp},
			),
			shipping:     validShipping(),
			wantSubtotal: "77.50",
			wantShipping: "0.00",
			wantTotal:    "77.50",
		},
		{
			name:     "empty cart",
			cart:     cartWith(userID),
			shipping: validShipping(),
			wantErr:  order.ErrEmptyCart,
		},
		{
			name:     "inactive product",
			cart:     cartWith(userID, cart.Item{ProductID: inactive.ID, Quantity: 1, Product: inactive}),
			shipping: validShipping(),
			wantErr:  order.ErrProductUnavailable,
		},
		{
			name:     "deleted product",
			cart:     cartWith(userID, cart.Item{ProductID: uuid.Must(uuid.NewV4()), Quantity: 1}),
			shipping: validShipping(),
			wantErr:  order.ErrProductUnavailable,
		},
		{
			name:     "over stock",
			cart:     cartWith(userID, cart.Item{ProductID: lamp.ID, Quantity: 2, Product: lamp}),
			shipping: validShipping(),
			wantErr:  order.ErrInsufficientStock,
		},
		{
			name:     "incomplete shipping",
			shipping: order.ShippingInfo{Recipient: "Ada"},
			wantErr:  order.ErrInvalidShipping,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockOrderRepository)
			carts := new(MockCartSource)
			svc := order.NewService(repo, carts, testPricing)

			if tt.cart != nil {
				carts.On("GetCart", mock.Anything, userID).Return(tt.cart, nil).Once()
			}
			if tt.wantErr == nil {
				repo.On("CreateOrder", mock.Anything, mock.AnythingOfType("*order.Order")).Return(nil).Once()
			}

			created, err := svc.Checkout(context.Background(), order.CheckoutInput{
				UserID:   userID,
				Email:    "ada@example.com",
				Shipping: tt.shipping,
			})

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.Nil(t, created)
			} else {
				require.NoError(t, err)
				assert.NotEqual(t, uuid.Nil, created.ID)
				assert.Equal(t, order.StatusPending, created.Status)
				assert.Equal(t, tt.wantSubtotal, created.Subtotal.StringFixed(2))
				assert.Equal(t, tt.wantShipping, created.ShippingCost.StringFixed(2))
				assert.Equal(t, tt.wantTotal, created.Total.StringFixed(2))
				assert.Equal(t, "GB", created.Shipping.Country)
				assert.Equal(t, "usd", created.Currency)
				assert.Len(t, created.Items, len(tt.cart.Items))
			}
			repo.AssertExpectations(t)
			carts.AssertExpectations(t)
		})
	}
}

func TestOrderService_Checkout_SnapshotsItems(t *testing.T) {
	repo := new(MockOrderRepository)
	carts := new(MockCartSource)
	svc := order.NewService(repo, carts, testPricing)

	userID := uuid.Must(uuid.NewV4())
	mug := product("Mug", "12.50", 10)
	carts.On("GetCart", mock.Anything, userID).
		Return(cartWith(userID, cart.Item{ProductID: mug.ID, Quantity: 2, Product: mug}), nil).Once()
	repo.On("CreateOrder", mock.Anything, mock.AnythingOfType("*order.Order")).Return(nil).Once()

	created, err := svc.Checkout(context.Background(), order.CheckoutInput{UserID: userID, Shipping: validShipping()})
	require.NoError(t, err)

	want := []order.OrderItem{{ProductID: mug.ID, ProductName: "Mug", UnitPrice: mug.Price, Quantity: 2}}
	diff := cmp.Diff(want, created.Items, cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) }))
	assert.Empty(t, diff)
}

func TestOrderService_GetOrder_HidesOtherUsersOrders(t *testing.T) {
	owner := uuid.Must(uuid.NewV4())
	stranger := uuid.Must(uuid.NewV4())
	orderID := uuid.Must(uuid.NewV4())
	stored := &order.Order{ID: orderID, UserID: owner, Status: order.StatusPaid}

	tests := []struct {
		name    string
		viewer  order.Viewer
		wantErr error
	}{
		{name: "owner", viewer: order.Viewer{UserID: owner}},
		{name: "admin", viewer: order.Viewer{UserID: stranger, IsAdmin: true}},
		{name: "stranger", viewer: order.Viewer{UserID: stranger}, wantErr: order.ErrOrderNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockOrderRepository)
			repo.On("GetOrderByID", mock.Anything, orderID).Return(stored, nil).Once()
			svc := order.NewService(repo, new(MockCartSource), testPricing)

			got, err := svc.GetOrder(context.Background(), orderID, tt.viewer)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.Nil(t, got)
			} else {
				require.NoError(t, err)
				assert.Equal(t, orderID, got.ID)
			}
			repo.AssertExpectations(t)
		})
	}
}

func TestOrderService_UpdateStatus(t *testing.T) {
	orderID := uuid.Must(uuid.NewV4())

	tests := []struct {
		name        string
		current     order.OrderStatus
		change      order.StatusChange
		repoErr     error
		expectWrite bool
		wantErr     error
		wantChanged bool
	}{
		{
			name:        "allowed transition",
			current:     order.StatusPending,
			change:      order.StatusChange{To: order.StatusPaid},
			expectWrite: true,
			wantChanged: true,
		},
		{
			name:    "same status is a no-op",
			current: order.StatusPaid,
			change:  order.StatusChange{To: order.StatusPaid},
		},
		{
			name:    "forbidden transition",
			current: order.StatusShipped,
			change:  order.StatusChange{To: order.StatusCancelled},
			wantErr: order.ErrInvalidStatusTransition,
		},
		{
			name:    "terminal status",
			current: order.StatusRefunded,
			change:  order.StatusChange{To: order.StatusPending},
			wantErr: order.ErrInvalidStatusTransition,
		},
		{
			name:    "outside OnlyFrom is a no-op",
			current: order.StatusPaid,
			change:  order.StatusChange{To: order.StatusCancelled, OnlyFrom: []order.OrderStatus{order.StatusPending}},
		},
		{
			name:        "lost race",
			current:     order.StatusPending,
			change:      order.StatusChange{To: order.StatusPaid},
			expectWrite: true,
			repoErr:     order.ErrStatusConflict,
			wantErr:     order.ErrStatusConflict,
		},
		{
			name:        "repository failure",
			current:     order.StatusPaid,
			change:      order.StatusChange{To: order.StatusProcessing},
			expectWrite: true,
			repoErr:     errors.New("connection reset"),
			wantErr:     errors.New("service: failed to update order status: connection reset"),
		},
		{
			name:    "unknown target",
			current: order.StatusPaid,
			change:  order.StatusChange{To: "lost"},
			wantErr: order.ErrUnknownStatus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockOrderRepository)
			listener := &recordingListener{}
			svc := order.NewService(repo, new(MockCartSource), testPricing, listener)

			if tt.change.To.Valid() {
				repo.On("GetOrderByID", mock.Anything, orderID).
					Return(&order.Order{ID: orderID, Status: tt.current}, nil).Once()
			}
			if tt.expectWrite {
				repo.On("UpdateOrderStatus", mock.Anything, mock.MatchedBy(func(u order.StatusUpdate) bool {
					return u.OrderID == orderID && u.From == tt.current && u.To == tt.change.To && !u.At.IsZero()
				})).Return(tt.repoErr).Once()
			}

			change := tt.change
			change.OrderID = orderID
			tr, err := svc.UpdateStatus(context.Background(), change)

			switch {
			case tt.wantErr == nil:
				require.NoError(t, err)
				assert.Equal(t, tt.wantChanged, tr.Changed)
				assert.Equal(t, tt.current, tr.From)
			case errors.Is(err, tt.wantErr):
			default:
				require.EqualError(t, err, tt.wantErr.Error())
			}

			if tt.wantChanged {
				assert.Equal(t, []string{string(tt.current) + "->" + string(tt.change.To)}, listener.changes)
			} else {
				assert.Empty(t, listener.changes)
			}
			repo.AssertExpectations(t)
		})
	}
}

func TestOrderService_UpdateStatus_ShippedCarriesTracking(t *testing.T) {
	repo := new(MockOrderRepository)
	svc := order.NewService(repo, new(MockCartSource), testPricing)

	orderID := uuid.Must(uuid.NewV4())
	repo.On("GetOrderByID", mock.Anything, orderID).
		Return(&order.Order{ID: orderID, Status: order.StatusProcessing, Shipping: &order.ShippingInfo{Recipient: "Ada"}}, nil).Once()
	repo.On("UpdateOrderStatus", mock.Anything, mock.MatchedBy(func(u order.StatusUpdate) bool {
		return u.Carrier == "DHL" && u.TrackingNumber == "JD0001"
	})).Return(nil).Once()

	tr, err := svc.UpdateStatus(context.Background(), order.StatusChange{
		OrderID:        orderID,
		To:             order.StatusShipped,
		Carrier:        "DHL",
		TrackingNumber: "JD0001",
	})
	require.NoError(t, err)
	require.NotNil(t, tr.Order.Shipping.ShippedAt)
	assert.Equal(t, "JD0001", *tr.Order.Shipping.TrackingNumber)
	repo.AssertExpectations(t)
}

func TestOrderService_Cancel(t *testing.T) {
	owner := uuid.Must(uuid.NewV4())
	orderID := uuid.Must(uuid.NewV4())

	t.Run("pending order is cancelled", func(t *testing.T) {
		repo := new(MockOrderRepository)
		svc := order.NewService(repo, new(MockCartSource), testPricing)

		repo.On("GetOrderByID", mock.Anything, orderID).
			Return(&order.Order{ID: orderID, UserID: owner, Status: order.StatusPending}, nil).Twice()
		repo.On("UpdateOrderStatus", mock.Anything, mock.MatchedBy(func(u order.StatusUpdate) bool {
			return u.From == order.StatusPending && u.To == order.StatusCancelled
		})).Return(nil).Once()

		cancelled, err := svc.Cancel(context.Background(), orderID, owner)
		require.NoError(t, err)
		assert.Equal(t, order.StatusCancelled, cancelled.Status)
		repo.AssertExpectations(t)
	})

	t.Run("paid order cannot be cancelled by customer", func(t *testing.T) {
		repo := new(MockOrderRepository)
		svc := order.NewService(repo, new(MockCartSource), testPricing)

		repo.On("GetOrderByID", mock.Anything, orderID).
			Return(&order.Order{ID: orderID, UserID: owner, Status: order.StatusPaid}, nil).Once()

		_, err := svc.Cancel(context.Background(), orderID, owner)
		require.ErrorIs(t, err, order.ErrNotCancellable)
		repo.AssertExpectations(t)
	})

	t.Run("someone else's order", func(t *testing.T) {
		repo := new(MockOrderRepository)
		svc := order.NewService(repo, new(MockCartSource), testPricing)

		repo.On("GetOrderByID", mock.Anything, orderID).
			Return(&order.Order{ID: orderID, UserID: owner, Status: order.StatusPending}, nil).Once()

		_, err := svc.Cancel(context.Background(), orderID, uuid.Must(uuid.NewV4()))
		require.ErrorIs(t, err, order.ErrOrderNotFound)
		repo.AssertExpectations(t)
	})
}

func TestOrderService_ListOrders_RejectsUnknownStatus(t *testing.T) {
	repo := new(MockOrderRepository)
	svc := order.NewService(repo, new(MockCartSource), testPricing)

	_, _, err := svc.ListOrders(context.Background(), order.ListFilter{Status: "lost"})
	require.ErrorIs(t, err, order.ErrUnknownStatus)
	repo.AssertNotCalled(t, "ListOrders", mock.Anything, mock.Anything)
}

func TestPricing_ShippingFor(t *testing.T) {
	assert.Equal(t, "5.99", testPricing.ShippingFor(decimal.RequireFromString("74.99")).StringFixed(2))
	assert.True(t, testPricing.ShippingFor(decimal.RequireFromString("75")).IsZero())

	noThreshold := order.Pricing{FlatRate: decimal.NewFromInt(3)}
	assert.Equal(t, "3.00", noThreshold.ShippingFor(decimal.NewFromInt(1000)).StringFixed(2))
}
