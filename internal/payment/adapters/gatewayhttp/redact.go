package gatewayhttp

import (
	"encoding/json"
	"strings"
)

const redacted = "***"

var secretKeys = map[string]struct{}{
	"access_token":       {},
	"api_key":            {},
	"authorization":      {},
	"client_secret":      {},
	"key_secret":         {},
	"passkey":            {},
	"password":           {},
	"securitycredential": {},
	"transactionkey":     {},
	"cardnumber":         {},
	"cardcode":           {},
	"cvv":                {},
	"number":             {},
	"card_number":        {},
	"signature":          {},
}

// Redact masks credential and card fields anywhere in a JSON document. It
// returns the input unchanged when it is not a JSON object or array.
func Redact(raw []byte) json.RawMessage {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return raw
	}
	masked, err := json.Marshal(redactValue(doc))
	if err != nil {
		return raw
	}
	return masked
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if _, ok := secretKeys[strings.ToLower(k)]; ok {
				if s, isStr := val.(string); isStr && s == "" {
					continue
				}
				t[k] = redacted
				continue
			}
			t[k] = redactValue(val)
		}
		return t
	case []any:
		for i := range t {
			t[i] = redactValue(t[i])
		}
		return t
	default:
		return v
	}
}

// extractError pulls a provider error code and message from the common
// error envelopes used by the supported gateways.
func extractError(raw []byte) (string, string) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", strings.TrimSpace(string(raw))
	}

	str := func(m map[string]any, key string) string {
		s, _ := m[key].(string)
		return s
	}

	// Stripe and Razorpay: {"error": {"code": ..., "message"|"description": ...}}
	if nested, ok := doc["error"].(map[string]any); ok {
		msg := str(nested, "message")
		if msg == "" {
			msg = str(nested, "description")
		}
		return str(nested, "code"), msg
	}
	// Square: {"errors": [{"code": ..., "detail": ...}]}
	if list, ok := doc["errors"].([]any); ok && len(list) > 0 {
		if first, ok := list[0].(map[string]any); ok {
			return str(first, "code"), str(first, "detail")
		}
	}
	// PayPal: {"name": ..., "message": ..., "details": [{"issue", "description"}]}
	if details, ok := doc["details"].([]any); ok && len(details) > 0 {
		if first, ok := details[0].(map[string]any); ok {
			return str(first, "issue"), str(first, "description")
		}
	}
	// M-Pesa: {"errorCode": ..., "errorMessage": ...}
	if msg := str(doc, "errorMessage"); msg != "" {
		return str(doc, "errorCode"), msg
	}
	// OAuth: {"error": "invalid_client", "error_description": ...}
	if msg := str(doc, "error_description"); msg != "" {
		return str(doc, "error"), msg
	}
	return str(doc, "name"), str(doc, "message")
}
