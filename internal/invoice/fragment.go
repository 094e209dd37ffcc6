package invoice

// Fragment is a raw, unvalidated invoice extracted from partially
// streamed content. Every field is a pointer so "not yet known" stays
// distinct from "known empty"; Merge is the single point where optional
// fields are promoted into the concrete Invoice shape.
type Fragment struct {
	Number  *string `json:"invoiceNumber"`
	Date    *string `json:"date"`
	DueDate *string `json:"dueDate"`

	From *PartyFragment `json:"from"`
	To   *PartyFragment `json:"to"`

	// A nil slice means the fragment omitted items and the previous
	// list is kept; a present (even empty) list replaces wholesale.
	Items []ItemFragment `json:"items"`

	Notes *string `json:"notes"`

	TaxRate      *float64 `json:"taxRate"`
	DiscountRate *float64 `json:"discountRate"`
}

// PartyFragment mirrors Party with optional fields.
type PartyFragment struct {
	Name    *string `json:"name"`
	Email   *string `json:"email"`
	Address *string `json:"address"`
	Phone   *string `json:"phone"`
}

// ItemFragment mirrors LineItem with optional fields. The model's total
// claim is accepted into the fragment but discarded at merge time.
type ItemFragment struct {
	Description *string  `json:"description"`
	Quantity    *float64 `json:"quantity"`
	UnitPrice   *float64 `json:"unitPrice"`
	Total       *float64 `json:"total"`
}
