package datasync

import (
	"fmt"
	"strings"
)

// EntityType is the kind of entity being synchronized.
type EntityType string

const (
	EntityTypeProduct         EntityType = "product"
	EntityTypeCustomer        EntityType = "customer"
	EntityTypeOrder           EntityType = "order"
	EntityTypeInvoice         EntityType = "invoice"
	EntityTypeStockAdjustment EntityType = "stock_adjustment"
)

// AllEntityTypes returns every entity type in a stable order.
// Callers switching on EntityType must handle each of these.
func AllEntityTypes() []EntityType {
	return []EntityType{
		EntityTypeProduct,
		EntityTypeCustomer,
		EntityTypeOrder,
		EntityTypeInvoice,
		EntityTypeStockAdjustment,
	}
}

// IsValid checks if the entity type is valid
func (t EntityType) IsValid() bool {
	switch t {
	case EntityTypeProduct, EntityTypeCustomer, EntityTypeOrder,
		EntityTypeInvoice, EntityTypeStockAdjustment:
		return true
	}
	return false
}

// String returns the string representation
func (t EntityType) String() string {
	return string(t)
}

// ParseEntityType parses a case-insensitive entity type name.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidEntityType, s)
	}
	return t, nil
}

// QualityWeight is the weight of the entity type in the combined data quality score.
func (t EntityType) QualityWeight() float64 {
	switch t {
	case EntityTypeOrder, EntityTypeInvoice:
		return 3
	case EntityTypeProduct, EntityTypeStockAdjustment:
		return 2
	case EntityTypeCustomer:
		return 1
	}
	return 0
}
