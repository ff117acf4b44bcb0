package app_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/market-update/internal/app"
	"github.com/JakeFAU/market-update/internal/config"
	"github.com/JakeFAU/market-update/internal/market"
	"github.com/JakeFAU/market-update/internal/quotes"
	"github.com/JakeFAU/market-update/internal/secrets"
	"github.com/JakeFAU/market-update/internal/tablestore/memory"
)

// MockSecrets mocks the secrets.Provider interface.
type MockSecrets struct {
	mock.Mock
}

// Get satisfies secrets.Provider for the mock.
func (m *MockSecrets) Get(ctx context.Context, name string) (string, error) {
	args := m.Called(ctx, name)
	return args.String(0), args.Error(1)
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2024, 1, 2, 21, 30, 0, 0, time.UTC) }

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestNewAppDefaults(t *testing.T) {
	cfg := testConfig(t)
	a, err := app.NewApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Store())
	assert.Equal(t, []market.Index{{Name: "S&P 500", Symbol: "SPY"}, {Name: "Nasdaq-100", Symbol: "QQQ"}}, a.Indices())
}

func TestNewAppRejectsUnknownProviders(t *testing.T) {
	cfg := testConfig(t)
	cfg.Events.Provider = "kafka"
	_, err := app.NewApp(context.Background(), cfg, zap.NewNop(), app.WithStore(memory.NewStore()))
	require.ErrorContains(t, err, "unknown events provider")

	cfg = testConfig(t)
	cfg.Secrets.Provider = "vault"
	_, err = app.NewApp(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "unknown secrets provider")
}

func TestNewAppStorageSecretMissing(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Provider = "redis"

	m := new(MockSecrets)
	m.On("Get", mock.Anything, "marketupdate-storage-emails").Return("", secrets.ErrNotFound).Once()

	_, err := app.NewApp(context.Background(), cfg, zap.NewNop(), app.WithSecrets(m))
	require.ErrorIs(t, err, secrets.ErrNotFound)
	require.ErrorContains(t, err, "marketupdate-storage-emails")
	m.AssertExpectations(t)
}

func TestQuoteFetcherResolvesAPIKeyOnce(t *testing.T) {
	var gotKey string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("apikey")
		_, _ = w.Write([]byte(`{"Global Quote": {"05. price": "5000", "10. change percent": "+1.2%"}}`))
	}))
	defer upstream.Close()

	cfg := testConfig(t)
	cfg.Quotes.BaseURL = upstream.URL
	cfg.Quotes.Indices = []config.IndexConfig{{Name: "S&P 500", Symbol: "SPY"}}

	m := new(MockSecrets)
	m.On("Get", mock.Anything, "alpha-vantage-api-key").Return("av-key", nil).Once()

	store := memory.NewStore()
	a, err := app.NewApp(context.Background(), cfg, zap.NewNop(),
		app.WithSecrets(m), app.WithStore(store), app.WithClock(fixedClock{}))
	require.NoError(t, err)
	defer a.Close()

	for i := 0; i < 2; i++ {
		fetcher, err := a.QuoteFetcher(context.Background())
		require.NoError(t, err)
		report, err := fetcher.Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, []string{"S&P 500"}, report.Stored)
	}
	assert.Equal(t, "av-key", gotKey)
	m.AssertExpectations(t)

	row, err := store.Get(context.Background(), "StockMarketData", market.QuotePartition, "S&P 500")
	require.NoError(t, err)
	assert.Equal(t, "+1.2%", row.Property(market.PropPercentageChange))
}

func TestDigestMailerArchivesToLocalDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive.Provider = "local"
	cfg.Archive.LocalDir = t.TempDir()

	store := memory.NewStore()
	a, err := app.NewApp(context.Background(), cfg, zap.NewNop(), app.WithStore(store), app.WithClock(fixedClock{}))
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	subs := a.Subscriptions()
	require.NoError(t, subs.Prepare(ctx))
	_, err = subs.Subscribe(ctx, "a@x.com")
	require.NoError(t, err)

	mailer, err := a.DigestMailer(ctx)
	require.NoError(t, err)
	_, err = mailer.Run(ctx)
	require.Error(t, err, "no quotes stored yet")

	repo := quotes.NewRepository(store, cfg.Store.QuotesTable)
	require.NoError(t, repo.Prepare(ctx))
	for _, idx := range a.Indices() {
		require.NoError(t, repo.Save(ctx, market.IndexQuote{Index: idx, LatestValue: "1", PercentageChange: "0%", Timestamp: fixedClock{}.Now()}))
	}

	report, err := mailer.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, "file://"+filepath.Join(cfg.Archive.LocalDir, "digests", "2024-01-02.html"), report.ArchiveURI)
}

func TestWebServerCaptchaSecrets(t *testing.T) {
	cfg := testConfig(t)
	cfg.Captcha.Enabled = true

	m := new(MockSecrets)
	m.On("Get", mock.Anything, "recaptcha-secret-key").Return("", errors.New("vault sealed")).Once()

	a, err := app.NewApp(context.Background(), cfg, zap.NewNop(), app.WithSecrets(m), app.WithStore(memory.NewStore()))
	require.NoError(t, err)
	defer a.Close()

	_, err = a.WebServer(context.Background())
	require.ErrorContains(t, err, "vault sealed")
	m.AssertExpectations(t)
}

func TestWebServerWithoutCaptcha(t *testing.T) {
	cfg := testConfig(t)
	a, err := app.NewApp(context.Background(), cfg, zap.NewNop(), app.WithStore(memory.NewStore()))
	require.NoError(t, err)
	defer a.Close()

	srv, err := a.WebServer(context.Background())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
