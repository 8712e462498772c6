package adapters_test

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/finbridge/payhub/internal/payment/adapters"
	"github.com/finbridge/payhub/internal/payment/adapters/authorizenet"
	"github.com/finbridge/payhub/internal/payment/adapters/mpesa"
	"github.com/finbridge/payhub/internal/payment/adapters/paypal"
	"github.com/finbridge/payhub/internal/payment/adapters/razorpay"
	"github.com/finbridge/payhub/internal/payment/adapters/square"
	"github.com/finbridge/payhub/internal/payment/adapters/stripe"
	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureFactory struct {
	provider domain.ProviderType
	configs  []domain.AdapterConfig
}

func (f *captureFactory) Provider() domain.ProviderType { return f.provider }

func (f *captureFactory) NewAdapter(cfg domain.AdapterConfig) (domain.Gateway, error) {
	f.configs = append(f.configs, cfg)
	return nil, nil
}

func newRegistry() *adapters.Registry {
	return adapters.NewRegistry(
		stripe.NewFactory(),
		paypal.NewFactory(),
		authorizenet.NewFactory(),
		mpesa.NewFactory(),
		square.NewFactory(),
		razorpay.NewFactory(),
	)
}

func TestRegistryBuildsEveryProvider(t *testing.T) {
	r := newRegistry()
	assert.Equal(t, []domain.ProviderType{
		domain.ProviderAuthorizeNet,
		domain.ProviderMPesa,
		domain.ProviderPayPal,
		domain.ProviderRazorpay,
		domain.ProviderSquare,
		domain.ProviderStripe,
	}, r.Providers())

	configs := map[domain.ProviderType]map[string]any{
		domain.ProviderStripe:       {"api_key": "sk_test_1"},
		domain.ProviderPayPal:       {"client_id": "id", "client_secret": "secret", "environment": "sandbox"},
		domain.ProviderAuthorizeNet: {"api_login_id": "login", "transaction_key": "key", "environment": "production"},
		domain.ProviderMPesa:        {"consumer_key": "ck", "consumer_secret": "cs", "short_code": "174379", "passkey": "pk", "environment": "sandbox"},
		domain.ProviderSquare:       {"access_token": "tok", "location_id": "L1", "environment": "production"},
		domain.ProviderRazorpay:     {"key_id": "rzp_test", "key_secret": "secret"},
	}
	for provider, cfg := range configs {
		t.Run(string(provider), func(t *testing.T) {
			gw, err := r.NewAdapter(snowflake.ID(1), provider, cfg)
			require.NoError(t, err)
			assert.NotNil(t, gw)

			_, err = r.NewAdapter(snowflake.ID(1), provider, map[string]any{})
			assert.ErrorIs(t, err, domain.ErrInvalidConfig)
		})
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	r := newRegistry()
	assert.False(t, r.ProviderExists(domain.ProviderCustom))

	_, err := r.NewAdapter(snowflake.ID(1), domain.ProviderCustom, nil)
	assert.ErrorIs(t, err, domain.ErrUnsupportedProvider)
}

func TestRegistrySharesLimiterPerProviderAccount(t *testing.T) {
	f := &captureFactory{provider: domain.ProviderStripe}
	r := adapters.NewRegistry(f).Configure(adapters.WithRateLimit(5, 2))

	for _, id := range []snowflake.ID{1, 1, 2} {
		_, err := r.NewAdapter(id, domain.ProviderStripe, nil)
		require.NoError(t, err)
	}
	require.Len(t, f.configs, 3)
	require.NotNil(t, f.configs[0].Limiter)
	assert.Same(t, f.configs[0].Limiter, f.configs[1].Limiter)
	assert.NotSame(t, f.configs[0].Limiter, f.configs[2].Limiter)
	assert.Equal(t, 2, f.configs[0].Limiter.Burst())
}

func TestRegistryWithoutRateLimit(t *testing.T) {
	f := &captureFactory{provider: domain.ProviderStripe}
	r := adapters.NewRegistry(f).Configure(adapters.WithRateLimit(0, 0))

	_, err := r.NewAdapter(snowflake.ID(1), domain.ProviderStripe, nil)
	require.NoError(t, err)
	assert.Nil(t, f.configs[0].Limiter)
}

func TestFactoriesRequireKnownEnvironment(t *testing.T) {
	base := map[domain.ProviderType]struct {
		config  map[string]any
		sandbox string
		live    string
	}{
		domain.ProviderPayPal:       {map[string]any{"client_id": "id", "client_secret": "secret"}, "sandbox", "live"},
		domain.ProviderAuthorizeNet: {map[string]any{"api_login_id": "login", "transaction_key": "key"}, "sandbox", "production"},
		domain.ProviderMPesa:        {map[string]any{"consumer_key": "ck", "consumer_secret": "cs", "short_code": "174379", "passkey": "pk"}, "sandbox", "production"},
		domain.ProviderSquare:       {map[string]any{"access_token": "tok", "location_id": "L1"}, "sandbox", "production"},
	}
	r := newRegistry()

	for provider, tc := range base {
		t.Run(string(provider), func(t *testing.T) {
			tests := []struct {
				name    string
				env     any
				wantErr bool
			}{
				{name: "sandbox", env: tc.sandbox},
				{name: "live", env: tc.live},
				{name: "missing", wantErr: true},
				{name: "misspelled", env: "prodution", wantErr: true},
				{name: "other tag", env: "staging", wantErr: true},
			}
			for _, tt := range tests {
				config := map[string]any{}
				for k, v := range tc.config {
					config[k] = v
				}
				if tt.env != nil {
					config["environment"] = tt.env
				}
				gw, err := r.NewAdapter(snowflake.ID(1), provider, config)
				if tt.wantErr {
					assert.ErrorIs(t, err, domain.ErrInvalidConfig, tt.name)
					assert.Nil(t, gw, tt.name)
					continue
				}
				require.NoError(t, err, tt.name)
				assert.NotNil(t, gw, tt.name)
			}
		})
	}
}
