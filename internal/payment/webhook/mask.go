package webhook

import (
	"encoding/json"
	"strings"
)

const masked = "***"

var sensitiveKeys = map[string]struct{}{
	"card":                   {},
	"card_details":           {},
	"billing_details":        {},
	"shipping_details":       {},
	"payment_method_details": {},
	"creditcard":             {},
	"cardnumber":             {},
	"card_number":            {},
	"cardcode":               {},
	"cvv":                    {},
	"expirationdate":         {},
}

// MaskPayload replaces card and billing data before a payload is stored.
// Payloads that are not JSON objects are returned unchanged.
func MaskPayload(raw []byte) []byte {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw
	}
	maskMap(obj)
	out, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return out
}

func maskMap(m map[string]any) {
	for k, v := range m {
		if _, ok := sensitiveKeys[strings.ToLower(k)]; ok {
			m[k] = masked
			continue
		}
		switch nested := v.(type) {
		case map[string]any:
			maskMap(nested)
		case []any:
			for _, item := range nested {
				if itemMap, ok := item.(map[string]any); ok {
					maskMap(itemMap)
				}
			}
		}
	}
}
