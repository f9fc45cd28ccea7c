package zoho

import (
	"encoding/json"
	"fmt"

	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/shopspring/decimal"
)

// toRecord projects a Zoho object onto the comparable Record.
func toRecord(t datasync.EntityType, res resource, obj map[string]any) (datasync.Record, error) {
	id := stringField(obj, res.idField)
	if id == "" {
		return datasync.Record{}, fmt.Errorf("zoho: %s object without %s", t, res.idField)
	}
	rec := datasync.Record{
		EntityType: t,
		EntityID:   id,
		Name:       stringField(obj, res.nameField),
		Status:     stringField(obj, res.statusField),
		ModifiedAt: parseModified(obj["last_modified_time"]),
		Attributes: make(map[string]any),
	}
	if res.priceField != "" {
		p, err := decimalField(obj, res.priceField)
		if err != nil {
			return datasync.Record{}, err
		}
		rec.Price = p
	}
	if res.quantityField != "" {
		q, err := decimalField(obj, res.quantityField)
		if err != nil {
			return datasync.Record{}, err
		}
		rec.Quantity = q
	}
	for k, v := range obj {
		switch k {
		case res.idField, res.nameField, res.statusField, res.priceField, res.quantityField, "last_modified_time":
			continue
		}
		rec.Attributes[k] = v
	}
	return rec, nil
}

// fromRecord builds the request body for a create or update.
func fromRecord(res resource, rec datasync.Record) map[string]any {
	body := make(map[string]any, len(rec.Attributes)+4)
	for k, v := range rec.Attributes {
		body[k] = v
	}
	if rec.Name != "" {
		body[res.nameField] = rec.Name
	}
	if rec.Status != "" && res.statusField != "" {
		body[res.statusField] = rec.Status
	}
	if res.priceField != "" {
		body[res.priceField] = json.Number(rec.Price.String())
	}
	if res.quantityField != "" {
		body[res.quantityField] = json.Number(rec.Quantity.String())
	}
	return body
}

func stringField(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func decimalField(obj map[string]any, key string) (decimal.Decimal, error) {
	switch v := obj[key].(type) {
	case nil:
		return decimal.Zero, nil
	case json.Number:
		return decimal.NewFromString(v.String())
	case string:
		if v == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	}
	return decimal.Zero, fmt.Errorf("zoho: field %s has unexpected type %T", key, obj[key])
}
