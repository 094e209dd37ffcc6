package invoice

// Merge reconciles a freshly extracted fragment into the previous
// snapshot. The policy is deliberately asymmetric:
//
//   - scalars fill in monotonically: a non-empty fragment value
//     overwrites, an absent or empty one keeps the previous value, so a
//     field the user already saw populated never flickers back to blank
//     when a later partial fragment omits it;
//   - party records merge key by key under the same rule, never
//     wholesale;
//   - line items, when present, replace the previous list wholesale
//     (the model emits items complete-per-item), with each total
//     recomputed as quantity * unitPrice regardless of the fragment;
//   - aggregates are always recomputed, never copied.
//
// This tolerates a model that re-emits its entire object on every delta.
func Merge(prev Invoice, frag Fragment) Invoice {
	out := prev

	fillString(&out.Number, frag.Number)
	fillString(&out.Date, frag.Date)
	fillString(&out.DueDate, frag.DueDate)
	fillString(&out.Notes, frag.Notes)

	mergeParty(&out.From, frag.From)
	mergeParty(&out.To, frag.To)

	if frag.Items != nil {
		items := make([]LineItem, len(frag.Items))
		for i, it := range frag.Items {
			items[i] = LineItem{
				Description: deref(it.Description),
				Quantity:    derefF(it.Quantity),
				UnitPrice:   derefF(it.UnitPrice),
			}
		}
		out.Items = items
	} else if prev.Items != nil {
		// Copy so later merges never alias the caller's snapshot.
		out.Items = make([]LineItem, len(prev.Items))
		copy(out.Items, prev.Items)
	}

	if frag.TaxRate != nil {
		out.TaxRate = *frag.TaxRate
	}
	if frag.DiscountRate != nil {
		out.DiscountRate = *frag.DiscountRate
	}

	out.Recompute()
	return out
}

func mergeParty(dst *Party, frag *PartyFragment) {
	if frag == nil {
		return
	}
	fillString(&dst.Name, frag.Name)
	fillString(&dst.Email, frag.Email)
	fillString(&dst.Address, frag.Address)
	fillString(&dst.Phone, frag.Phone)
}

func fillString(dst *string, src *string) {
	if src != nil && *src != "" {
		*dst = *src
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefF(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
