package digest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/market-update/internal/email"
	"github.com/JakeFAU/market-update/internal/market"
	"github.com/JakeFAU/market-update/internal/quotes"
	blobmemory "github.com/JakeFAU/market-update/internal/storage/memory"
	"github.com/JakeFAU/market-update/internal/subscription"
	"github.com/JakeFAU/market-update/internal/tablestore/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var (
	spx = market.Index{Name: "S&P 500", Symbol: "SPY"}
	ndx = market.Index{Name: "Nasdaq-100", Symbol: "QQQ"}
	now = time.Date(2024, 1, 2, 21, 35, 0, 0, time.UTC)
)

type recordingSender struct {
	mu       sync.Mutex
	fail     map[string]error
	attempts []email.Message
}

func (s *recordingSender) Send(_ context.Context, msg email.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, msg)
	if err := s.fail[msg.To[0]]; err != nil {
		return "", err
	}
	return fmt.Sprintf("id-%d", len(s.attempts)), nil
}

type failingBlobStore struct{}

func (failingBlobStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket missing")
}

type fixture struct {
	repo   *quotes.Repository
	subs   *subscription.Service
	sender *recordingSender
}

func newFixture(t *testing.T, subscribers ...string) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	repo := quotes.NewRepository(store, "StockMarketData")
	require.NoError(t, repo.Prepare(ctx))
	require.NoError(t, repo.Save(ctx, market.IndexQuote{Index: spx, LatestValue: "5000", PercentageChange: "+1.2%", Timestamp: now}))
	require.NoError(t, repo.Save(ctx, market.IndexQuote{Index: ndx, LatestValue: "17000", PercentageChange: "-0.5%", Timestamp: now}))

	subs := subscription.NewService(store, subscription.Config{Table: "EmailSubscriptions", Partition: "Subscription"},
		fixedClock{now}, nil, zap.NewNop())
	require.NoError(t, subs.Prepare(ctx))
	for _, s := range subscribers {
		outcome, err := subs.Subscribe(ctx, s)
		require.NoError(t, err)
		require.Equal(t, subscription.OutcomeCreated, outcome)
	}
	return fixture{repo: repo, subs: subs, sender: &recordingSender{fail: map[string]error{}}}
}

func (f fixture) mailer(archive market.BlobStore, logger *zap.Logger) *Mailer {
	return NewMailer(Config{
		From:          "desk@marketupdate.local",
		Indices:       []market.Index{spx, ndx},
		Partition:     "Subscription",
		ArchivePrefix: "digests",
	}, f.repo, f.subs, f.sender, archive, fixedClock{now}, logger)
}

func TestRenderKeepsValuesVerbatim(t *testing.T) {
	t.Parallel()

	body, err := Render([]market.IndexQuote{
		{Index: spx, LatestValue: "5000", PercentageChange: "+1.2%"},
		{Index: ndx, LatestValue: "17000", PercentageChange: "-0.5%"},
	})
	require.NoError(t, err)
	require.Contains(t, body, "<h1>Daily Market Update</h1>")
	require.Contains(t, body, "<li><strong>S&amp;P 500 (SPY):</strong> $5000 (+1.2%)</li>")
	require.Contains(t, body, "<li><strong>Nasdaq-100 (QQQ):</strong> $17000 (-0.5%)</li>")
	require.Contains(t, body, "<p>Thank you for subscribing to our daily market updates!</p>")
	require.Less(t, strings.Index(body, "SPY"), strings.Index(body, "QQQ"))
}

func TestRenderEscapesMarkup(t *testing.T) {
	t.Parallel()

	body, err := Render([]market.IndexQuote{{Index: spx, LatestValue: "<script>", PercentageChange: "N/A"}})
	require.NoError(t, err)
	require.NotContains(t, body, "<script>")
	require.Contains(t, body, "$&lt;script&gt; (N/A)")
}

func TestRunSendsOneMessagePerSubscriberAndContinuesOnFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "a@x.com", "b@x.com")
	f.sender.fail["a@x.com"] = errors.New("mailbox unavailable")
	archive := blobmemory.NewBlobStore()

	report, err := f.mailer(archive, zap.NewNop()).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, f.sender.attempts, 2)
	for _, msg := range f.sender.attempts {
		require.Len(t, msg.To, 1)
		require.Equal(t, DefaultSubject, msg.Subject)
		require.Equal(t, "desk@marketupdate.local", msg.From)
		require.Contains(t, msg.HTML, "5000")
		require.Contains(t, msg.HTML, "+1.2%")
		require.Contains(t, msg.HTML, "17000")
		require.Contains(t, msg.HTML, "-0.5%")
	}
	require.Equal(t, "a@x.com", f.sender.attempts[0].To[0])
	require.Equal(t, "b@x.com", f.sender.attempts[1].To[0])

	require.Equal(t, 2, report.Recipients)
	require.Equal(t, 1, report.Sent)
	require.Equal(t, []string{"a@x.com"}, report.Failed)

	require.Equal(t, "memory://digests/2024-01-02.html", report.ArchiveURI)
	obj, ok := archive.Object("digests/2024-01-02.html")
	require.True(t, ok)
	require.Equal(t, f.sender.attempts[0].HTML, string(obj.Data))
}

type brokenQuotes struct{}

func (brokenQuotes) Load(context.Context, market.Index) (market.IndexQuote, error) {
	return market.IndexQuote{}, errors.New("table unreachable")
}

type brokenSubscribers struct{}

func (brokenSubscribers) List(context.Context) ([]string, error) {
	return nil, errors.New("query failed")
}

func TestRunAbortsBeforeSending(t *testing.T) {
	t.Parallel()

	t.Run("quote load failure", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, "a@x.com")
		m := NewMailer(Config{From: "d@x.com", Indices: []market.Index{spx}}, brokenQuotes{}, f.subs, f.sender, nil, fixedClock{now}, nil)
		_, err := m.Run(context.Background())
		require.ErrorContains(t, err, "load market data")
		require.Empty(t, f.sender.attempts)
	})

	t.Run("missing quote row", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, "a@x.com")
		other := market.Index{Name: "Dow Jones", Symbol: "DIA"}
		m := NewMailer(Config{From: "d@x.com", Indices: []market.Index{spx, other}}, f.repo, f.subs, f.sender, nil, fixedClock{now}, nil)
		_, err := m.Run(context.Background())
		require.Error(t, err)
		require.Empty(t, f.sender.attempts)
	})

	t.Run("subscriber list failure", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, "a@x.com")
		m := NewMailer(Config{From: "d@x.com", Indices: []market.Index{spx}}, f.repo, brokenSubscribers{}, f.sender, nil, fixedClock{now}, nil)
		_, err := m.Run(context.Background())
		require.ErrorContains(t, err, "load subscribers")
		require.Empty(t, f.sender.attempts)
	})
}

func TestRunWithoutSubscribersWarnsWithPartition(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	core, logs := observer.New(zap.WarnLevel)
	report, err := f.mailer(nil, zap.New(core)).Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.Recipients)
	require.Empty(t, f.sender.attempts)

	warnings := logs.FilterMessage("no subscribers found; nothing to send").All()
	require.Len(t, warnings, 1)
	require.Equal(t, "Subscription", warnings[0].ContextMap()["partition"])
}

func TestRunArchiveFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "a@x.com")
	core, logs := observer.New(zap.WarnLevel)
	report, err := f.mailer(failingBlobStore{}, zap.New(core)).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Sent)
	require.Empty(t, report.ArchiveURI)
	require.Equal(t, 1, logs.FilterMessage("failed to archive digest").Len())
}
