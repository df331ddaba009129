package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"order-bot/internal/models"
	"order-bot/internal/session"
)

// Repository reads the cart the menu service keeps under cart:<session_id>.
// It never writes.
type Repository struct {
	backend session.Backend
}

func NewRepository(backend session.Backend) *Repository {
	return &Repository{backend: backend}
}

func (r *Repository) getKey(sessionID string) string {
	return fmt.Sprintf("cart:%s", sessionID)
}

// GetCartSummary returns an empty summary when the session has no cart.
func (r *Repository) GetCartSummary(ctx context.Context, sessionID string) (models.CartSummary, error) {
	data, err := r.backend.Get(ctx, r.getKey(sessionID))
	if errors.Is(err, session.ErrNotFound) {
		return models.CartSummary{}, nil
	}
	if err != nil {
		return models.CartSummary{}, err
	}

	var cart models.CartSummary
	if err := json.Unmarshal(data, &cart); err != nil {
		return models.CartSummary{}, fmt.Errorf("decode cart %s: %w", sessionID, err)
	}

	items := cart.Items[:0]
	for _, it := range cart.Items {
		if it.Quantity > 0 {
			items = append(items, it)
		}
	}
	cart.Items = items

	if cart.Subtotal == 0 {
		for _, it := range cart.Items {
			cart.Subtotal += it.Price * float64(it.Quantity)
		}
	}
	return cart, nil
}
