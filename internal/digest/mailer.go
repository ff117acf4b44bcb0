package digest

import (
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/market-update/internal/email"
	"github.com/JakeFAU/market-update/internal/market"
	"github.com/JakeFAU/market-update/internal/metrics"
)

// QuoteLoader reads the stored quote for an index.
type QuoteLoader interface {
	Load(ctx context.Context, idx market.Index) (market.IndexQuote, error)
}

// SubscriberLister returns the emails the digest goes to.
type SubscriberLister interface {
	List(ctx context.Context) ([]string, error)
}

// Config controls one mailer.
type Config struct {
	From          string
	Subject       string
	Indices       []market.Index
	Partition     string
	ArchivePrefix string
}

// Report summarises one mailer run.
type Report struct {
	Recipients int
	Sent       int
	Failed     []string
	ArchiveURI string
}

// Mailer sends the digest. archive may be nil.
type Mailer struct {
	cfg         Config
	quotes      QuoteLoader
	subscribers SubscriberLister
	sender      email.Sender
	archive     market.BlobStore
	clock       market.Clock
	logger      *zap.Logger
}

// NewMailer wires a Mailer.
func NewMailer(cfg Config, quotes QuoteLoader, subscribers SubscriberLister, sender email.Sender, archive market.BlobStore, clock market.Clock, logger *zap.Logger) *Mailer {
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailer{
		cfg:         cfg,
		quotes:      quotes,
		subscribers: subscribers,
		sender:      sender,
		archive:     archive,
		clock:       clock,
		logger:      logger.Named("digest"),
	}
}

// Run loads every configured quote, renders one body and sends it to each subscriber
// separately. Failing to load a quote or the subscriber list aborts before any send;
// a failed send is logged and the loop continues.
func (m *Mailer) Run(ctx context.Context) (Report, error) {
	var report Report

	quotes := make([]market.IndexQuote, 0, len(m.cfg.Indices))
	for _, idx := range m.cfg.Indices {
		q, err := m.quotes.Load(ctx, idx)
		if err != nil {
			return report, fmt.Errorf("load market data: %w", err)
		}
		quotes = append(quotes, q)
	}

	body, err := Render(quotes)
	if err != nil {
		return report, err
	}

	recipients, err := m.subscribers.List(ctx)
	if err != nil {
		return report, fmt.Errorf("load subscribers: %w", err)
	}
	report.Recipients = len(recipients)
	if len(recipients) == 0 {
		m.logger.Warn("no subscribers found; nothing to send", zap.String("partition", m.cfg.Partition))
	}

	for _, to := range recipients {
		id, err := m.sender.Send(ctx, email.Message{
			From:    m.cfg.From,
			To:      []string{to},
			Subject: m.cfg.Subject,
			HTML:    body,
		})
		if err != nil {
			m.logger.Error("failed to send digest", zap.String("recipient", to), zap.Error(err))
			metrics.ObserveDigestEmail("failed")
			report.Failed = append(report.Failed, to)
			continue
		}
		m.logger.Info("digest sent", zap.String("recipient", to), zap.String("message_id", id))
		metrics.ObserveDigestEmail("sent")
		report.Sent++
	}

	report.ArchiveURI = m.archiveBody(ctx, body)
	return report, nil
}

func (m *Mailer) archiveBody(ctx context.Context, body string) string {
	if m.archive == nil {
		return ""
	}
	name := path.Join(m.cfg.ArchivePrefix, m.clock.Now().UTC().Format("2006-01-02")+".html")
	uri, err := m.archive.PutObject(ctx, name, "text/html; charset=utf-8", strings.NewReader(body))
	if err != nil {
		m.logger.Warn("failed to archive digest", zap.String("path", name), zap.Error(err))
		return ""
	}
	return uri
}
