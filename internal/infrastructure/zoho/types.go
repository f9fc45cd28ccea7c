package zoho

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/erp/syncengine/internal/domain/datasync"
)

// resource describes how one entity type is exposed by the Zoho API.
type resource struct {
	path          string
	collectionKey string
	singleKey     string
	idField       string
	nameField     string
	statusField   string
	priceField    string
	quantityField string
}

var resources = map[datasync.EntityType]resource{
	datasync.EntityTypeProduct: {
		path: "items", collectionKey: "items", singleKey: "item",
		idField: "item_id", nameField: "name", statusField: "status",
		priceField: "rate", quantityField: "stock_on_hand",
	},
	datasync.EntityTypeCustomer: {
		path: "contacts", collectionKey: "contacts", singleKey: "contact",
		idField: "contact_id", nameField: "contact_name", statusField: "status",
	},
	datasync.EntityTypeOrder: {
		path: "salesorders", collectionKey: "salesorders", singleKey: "salesorder",
		idField: "salesorder_id", nameField: "salesorder_number", statusField: "status",
		priceField: "total", quantityField: "quantity",
	},
	datasync.EntityTypeInvoice: {
		path: "invoices", collectionKey: "invoices", singleKey: "invoice",
		idField: "invoice_id", nameField: "invoice_number", statusField: "status",
		priceField: "total", quantityField: "quantity",
	},
	datasync.EntityTypeStockAdjustment: {
		path: "inventoryadjustments", collectionKey: "inventory_adjustments", singleKey: "inventory_adjustment",
		idField: "inventory_adjustment_id", nameField: "reason", statusField: "status",
		quantityField: "quantity_adjusted",
	},
}

// Path returns the API collection path of an entity type
func Path(t datasync.EntityType) (string, bool) {
	r, ok := resources[t]
	return r.path, ok
}

// envelope is the common part of every Zoho response. code 0 means success.
type envelope struct {
	Code        int          `json:"code"`
	Message     string       `json:"message"`
	PageContext *pageContext `json:"page_context,omitempty"`
}

type pageContext struct {
	Page        int  `json:"page"`
	PerPage     int  `json:"per_page"`
	HasMorePage bool `json:"has_more_page"`
}

// lastModifiedLayout is the timestamp format of last_modified_time.
const lastModifiedLayout = "2006-01-02T15:04:05-0700"

func parseModified(v any) time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}
	}
	for _, layout := range []string{lastModifiedLayout, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// decodeObject decodes a JSON object while keeping numbers exact.
func decodeObject(raw json.RawMessage) (map[string]any, error) {
	var obj map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return obj, nil
}
