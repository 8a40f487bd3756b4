package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
)

func TestWriteOrders(t *testing.T) {
	created := time.Date(2026, 2, 14, 9, 30, 0, 0, time.UTC)
	carrier, tracking := "UPS", "1Z999"
	orderID := uuid.Must(uuid.NewV4())
	productA := uuid.Must(uuid.NewV4())
	productB := uuid.Must(uuid.NewV4())

	orders := []order.Order{
		{
			ID:            orderID,
			Status:        order.StatusShipped,
			CustomerEmail: "ada@example.com",
			Currency:      "usd",
			Subtotal:      decimal.RequireFromString("25.00"),
			ShippingCost:  decimal.RequireFromString("5.99"),
			Total:         decimal.RequireFromString("30.99"),
			Items: []order.OrderItem{
				{ProductID: productA, ProductName: "Mug", UnitPrice: decimal.RequireFromString("10.00"), Quantity: 2},
				{ProductID: productB, ProductName: "Coaster", UnitPrice: decimal.RequireFromString("5.00"), Quantity: 1},
			},
			Shipping: &order.ShippingInfo{
				Recipient: "Ada Lovelace", City: "London", Country: "GB",
				Carrier: &carrier, TrackingNumber: &tracking,
			},
			CreatedAt: created,
			UpdatedAt: created,
		},
		{
			ID:       uuid.Must(uuid.NewV4()),
			Status:   order.StatusPending,
			Currency: "usd",
			Total:    decimal.Zero,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteOrders(&buf, orders))

	file, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, file.Sheets, 2)

	ordersSheet := file.Sheet["Orders"]
	require.NotNil(t, ordersSheet)
	require.Len(t, ordersSheet.Rows, 3)

	header := ordersSheet.Rows[0].Cells
	assert.Equal(t, "Order ID", header[0].Value)
	assert.Equal(t, "Total", header[6].Value)

	first := ordersSheet.Rows[1].Cells
	assert.Equal(t, orderID.String(), first[0].Value)
	assert.Equal(t, "shipped", first[1].Value)
	assert.Equal(t, "ada@example.com", first[2].Value)
	assert.Equal(t, "USD", first[3].Value)
	assert.Equal(t, "30.99", first[6].Value)
	assert.Equal(t, "3", first[7].Value)
	assert.Equal(t, "Ada Lovelace", first[8].Value)
	assert.Equal(t, "1Z999", first[12].Value)
	assert.Equal(t, "2026-02-14 09:30:00", first[13].Value)

	itemsSheet := file.Sheet["Items"]
	require.NotNil(t, itemsSheet)
	require.Len(t, itemsSheet.Rows, 3)
	mug := itemsSheet.Rows[1].Cells
	assert.Equal(t, orderID.String(), mug[0].Value)
	assert.Equal(t, "Mug", mug[2].Value)
	assert.Equal(t, "2", mug[4].Value)
	assert.Equal(t, "20", mug[5].Value)
}

func TestWriteOrders_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteOrders(&buf, nil))

	file, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, file.Sheet["Orders"].Rows, 1)
	require.Len(t, file.Sheet["Items"].Rows, 1)
}
