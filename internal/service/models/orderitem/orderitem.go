package orderitem

import (
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/apperr"
)

// OrderItem represents a product line within an order.
type OrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Validate checks a non-empty list of items with positive quantities.
func Validate(items []OrderItem) error {
	if len(items) == 0 {
		return apperr.Validation("order must contain at least one item")
	}

	for i, item := range items {
		if item.ProductID == "" {
			return apperr.Validation("item %d: productId is required", i)
		}
		if item.Quantity < 1 {
			return apperr.Validation("item %d: quantity must be a positive integer", i)
		}
	}

	return nil
}

// Demand sums quantities per product, keeping the order in which products first appear.
func Demand(items []OrderItem) []OrderItem {
	index := make(map[string]int, len(items))
	demand := make([]OrderItem, 0, len(items))

	for _, item := range items {
		if i, ok := index[item.ProductID]; ok {
			demand[i].Quantity += item.Quantity

			continue
		}
		index[item.ProductID] = len(demand)
		demand = append(demand, item)
	}

	return demand
}
