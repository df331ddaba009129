package models

import "time"

type CartItem struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// CartSummary is the read-only cart snapshot owned by the menu/cart service.
type CartSummary struct {
	Items            []CartItem `json:"items"`
	Subtotal         float64    `json:"subtotal"`
	PackagingCharges float64    `json:"packaging_charges"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (c CartSummary) Empty() bool {
	return len(c.Items) == 0
}

func (c CartSummary) Total() float64 {
	return c.Subtotal + c.PackagingCharges
}

// Snapshot copies the cart lines into payment items for receipts.
func (c CartSummary) Snapshot() []Item {
	items := make([]Item, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, Item{Name: it.Name, Price: it.Price, Quantity: it.Quantity})
	}
	return items
}
