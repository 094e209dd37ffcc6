// Package invoice holds the structured snapshot built speculatively while
// an invoice-drafting generation streams, and the merge policy that
// refines it without regressing fields the user has already seen.
package invoice

// Party is one side of an invoice.
type Party struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

// LineItem is one billable row. Total is always derived as
// Quantity * UnitPrice; a total claimed by the model is never trusted.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	Total       float64 `json:"total"`
}

// Invoice is the current best-known state of the structured object,
// monotonically refined across merges while the stream is open.
type Invoice struct {
	Number  string `json:"invoiceNumber"`
	Date    string `json:"date"`
	DueDate string `json:"dueDate"`

	From Party `json:"from"`
	To   Party `json:"to"`

	Items []LineItem `json:"items"`
	Notes string     `json:"notes"`

	TaxRate      float64 `json:"taxRate"`
	DiscountRate float64 `json:"discountRate"`

	// Aggregates, recomputed after every merge. Partial JSON routinely
	// carries stale or truncated totals, so these are never copied from
	// an extracted fragment.
	Subtotal       float64 `json:"subtotal"`
	TaxAmount      float64 `json:"taxAmount"`
	DiscountAmount float64 `json:"discountAmount"`
	Total          float64 `json:"total"`
}

// Recompute rederives per-item and aggregate totals from line items and
// rate fields.
func (inv *Invoice) Recompute() {
	var subtotal float64
	for i := range inv.Items {
		inv.Items[i].Total = inv.Items[i].Quantity * inv.Items[i].UnitPrice
		subtotal += inv.Items[i].Total
	}
	inv.Subtotal = subtotal
	inv.TaxAmount = subtotal * inv.TaxRate / 100
	inv.DiscountAmount = subtotal * inv.DiscountRate / 100
	inv.Total = inv.Subtotal - inv.DiscountAmount + inv.TaxAmount
}
