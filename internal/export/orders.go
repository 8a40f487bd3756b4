package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/tealeg/xlsx"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
)

const (
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	timeLayout  = "2006-01-02 15:04:05"
	moneyFormat = "0.00"
)

var (
	orderHeaders = []string{
		"Order ID", "Status", "Customer Email", "Currency", "Subtotal", "Shipping", "Total",
		"Items", "Recipient", "City", "Country", "Carrier", "Tracking Number", "Created At", "Updated At",
	}
	itemHeaders = []string{"Order ID", "Product ID", "Product", "Unit Price", "Quantity", "Line Total"}
)

func addHeader(sheet *xlsx.Sheet, headers []string) {
	row := sheet.AddRow()
	for _, h := range headers {
		cell := row.AddCell()
		cell.SetString(h)
		cell.GetStyle().Font.Bold = true
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// WriteOrders renders the orders as a workbook with an "Orders" sheet and an
// "Items" sheet holding one row per order line.
func WriteOrders(w io.Writer, orders []order.Order) error {
	file := xlsx.NewFile()

	ordersSheet, err := file.AddSheet("Orders")
	if err != nil {
		return fmt.Errorf("export: failed to create orders sheet: %w", err)
	}
	itemsSheet, err := file.AddSheet("Items")
	if err != nil {
		return fmt.Errorf("export: failed to create items sheet: %w", err)
	}

	addHeader(ordersSheet, orderHeaders)
	addHeader(itemsSheet, itemHeaders)

	for _, o := range orders {
		row := ordersSheet.AddRow()
		row.AddCell().SetString(o.ID.String())
		row.AddCell().SetString(string(o.Status))
		row.AddCell().SetString(o.CustomerEmail)
		row.AddCell().SetString(strings.ToUpper(o.Currency))
		row.AddCell().SetFloatWithFormat(o.Subtotal.InexactFloat64(), moneyFormat)
		row.AddCell().SetFloatWithFormat(o.ShippingCost.InexactFloat64(), moneyFormat)
		row.AddCell().SetFloatWithFormat(o.Total.InexactFloat64(), moneyFormat)

		quantity := 0
		for _, item := range o.Items {
			quantity += item.Quantity
		}
		row.AddCell().SetInt(quantity)

		if s := o.Shipping; s != nil {
			row.AddCell().SetString(s.Recipient)
			row.AddCell().SetString(s.City)
			row.AddCell().SetString(s.Country)
			row.AddCell().SetString(deref(s.Carrier))
			row.AddCell().SetString(deref(s.TrackingNumber))
		} else {
			for range 5 {
				row.AddCell().SetString("")
			}
		}

		row.AddCell().SetString(o.CreatedAt.UTC().Format(timeLayout))
		row.AddCell().SetString(o.UpdatedAt.UTC().Format(timeLayout))

		for _, item := range o.Items {
			itemRow := itemsSheet.AddRow()
			itemRow.AddCell().SetString(o.ID.String())
			itemRow.AddCell().SetString(item.ProductID.String())
			itemRow.AddCell().SetString(item.ProductName)
			itemRow.AddCell().SetFloatWithFormat(item.UnitPrice.InexactFloat64(), moneyFormat)
			itemRow.AddCell().SetInt(item.Quantity)
			itemRow.AddCell().SetFloatWithFormat(item.LineTotal().InexactFloat64(), moneyFormat)
		}
	}

	if err := file.Write(w); err != nil {
		return fmt.Errorf("export: failed to write workbook: %w", err)
	}
	return nil
}
