// Package subscription records email signups in the subscriber table.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/market-update/internal/market"
	"github.com/JakeFAU/market-update/internal/tablestore"
)

// EventSubscriberCreated is published after a new subscriber row is written.
const EventSubscriberCreated = "subscriber.created"

// Outcome classifies a signup attempt.
type Outcome int

const (
	// OutcomeInvalid means the email was empty or malformed; nothing was stored.
	OutcomeInvalid Outcome = iota
	// OutcomeCreated means a new subscriber row was written.
	OutcomeCreated
	// OutcomeAlreadyExists means the email was already subscribed; nothing changed.
	OutcomeAlreadyExists
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeAlreadyExists:
		return "already_exists"
	default:
		return "invalid"
	}
}

// Service owns subscriber rows in one table partition.
type Service struct {
	store     tablestore.Store
	table     string
	partition string
	clock     market.Clock
	publisher market.Publisher
	validate  *validator.Validate
	logger    *zap.Logger
}

// Config names where subscribers live.
type Config struct {
	Table     string
	Partition string
}

// CreatedEvent is the payload of EventSubscriberCreated.
type CreatedEvent struct {
	Email        string    `json:"email"`
	SubscribedAt time.Time `json:"subscribed_at"`
}

// NewService wires a Service. publisher may be nil.
func NewService(store tablestore.Store, cfg Config, clock market.Clock, publisher market.Publisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		table:     cfg.Table,
		partition: cfg.Partition,
		clock:     clock,
		publisher: publisher,
		validate:  validator.New(),
		logger:    logger.Named("subscription"),
	}
}

// Partition returns the partition subscribers are written to and read from.
func (s *Service) Partition() string { return s.partition }

// Prepare ensures the subscriber table exists.
func (s *Service) Prepare(ctx context.Context) error {
	if err := s.store.EnsureTable(ctx, s.table); err != nil {
		return fmt.Errorf("ensure subscriber table %s: %w", s.table, err)
	}
	return nil
}

// Subscribe records email. A duplicate is reported as OutcomeAlreadyExists, not as an error.
func (s *Service) Subscribe(ctx context.Context, email string) (Outcome, error) {
	email = strings.TrimSpace(email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return OutcomeInvalid, nil
	}

	now := s.clock.Now().UTC()
	entity := tablestore.Entity{
		PartitionKey: s.partition,
		RowKey:       email,
		Properties: map[string]string{
			market.PropSubscribedAt: now.Format(time.RFC3339),
		},
	}
	// The address doubles as the row key, so "/", "\", "#" and "?" are rejected
	// even though they are legal in an email local part.
	if err := tablestore.ValidateEntity(entity); err != nil {
		return OutcomeInvalid, nil
	}

	err := s.store.Insert(ctx, s.table, entity)
	switch {
	case errors.Is(err, tablestore.ErrAlreadyExists):
		return OutcomeAlreadyExists, nil
	case errors.Is(err, tablestore.ErrInvalidKey):
		return OutcomeInvalid, nil
	case err != nil:
		return OutcomeInvalid, fmt.Errorf("store subscriber: %w", err)
	}

	s.logger.Info("subscriber created", zap.String("partition", s.partition))
	s.publishCreated(ctx, CreatedEvent{Email: email, SubscribedAt: now})
	return OutcomeCreated, nil
}

func (s *Service) publishCreated(ctx context.Context, evt CreatedEvent) {
	if s.publisher == nil {
		return
	}
	if _, err := s.publisher.Publish(ctx, EventSubscriberCreated, evt); err != nil {
		s.logger.Warn("publish subscriber event failed", zap.Error(err))
	}
}

// List returns every subscriber email in the partition, ordered by email.
func (s *Service) List(ctx context.Context) ([]string, error) {
	rows, err := s.store.Query(ctx, s.table, s.partition)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.RowKey)
	}
	return out, nil
}
