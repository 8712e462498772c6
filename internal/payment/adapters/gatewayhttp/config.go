package gatewayhttp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/finbridge/payhub/internal/payment/domain"
)

func ReadString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast), true
	case fmt.Stringer:
		return strings.TrimSpace(cast.String()), true
	case float64:
		return strconv.FormatFloat(cast, 'f', -1, 64), true
	case int:
		return strconv.Itoa(cast), true
	case int64:
		return strconv.FormatInt(cast, 10), true
	default:
		return "", false
	}
}

// RequireString returns an ErrInvalidConfig naming the missing key.
func RequireString(provider domain.ProviderType, config map[string]any, key string) (string, error) {
	value, ok := ReadString(config, key)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s requires %q", domain.ErrInvalidConfig, provider, key)
	}
	return value, nil
}

// Environment reads the required "environment" key and reports whether it
// names the production host. Values other than the two accepted tags fail
// construction rather than defaulting to either host.
func Environment(provider domain.ProviderType, config map[string]any, sandbox, live string) (bool, error) {
	env, _ := ReadString(config, "environment")
	switch strings.ToLower(env) {
	case sandbox:
		return false, nil
	case live:
		return true, nil
	case "":
		return false, fmt.Errorf("%w: %s requires %q (%s or %s)", domain.ErrInvalidConfig, provider, "environment", sandbox, live)
	}
	return false, fmt.Errorf("%w: %s environment %q is not %s or %s", domain.ErrInvalidConfig, provider, env, sandbox, live)
}

// BaseURL picks the provider host. An explicit "base_url" wins over the
// environment's documented host.
func BaseURL(config map[string]any, live bool, sandboxURL, liveURL string) string {
	if override, ok := ReadString(config, "base_url"); ok && override != "" {
		return strings.TrimRight(override, "/")
	}
	if live {
		return liveURL
	}
	return sandboxURL
}
