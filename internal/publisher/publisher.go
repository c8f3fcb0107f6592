// Package publisher writes validated prices to the shared store.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricefeed/internal/ingest"
	"github.com/JakeFAU/pricefeed/internal/metrics"
)

// Config controls key naming and notification.
type Config struct {
	Namespace string
	// Backend labels store metrics.
	Backend string
	// SubjectPrefix is prepended to the target key to form the notification
	// subject, e.g. "prices." yields "prices.gold".
	SubjectPrefix string
}

// Event is the notification payload sent after a successful write.
type Event struct {
	Key    string                 `json:"key"`
	Target string                 `json:"target"`
	Record ingest.PublishedRecord `json:"record"`
}

// Publisher is the single writer for each target's key. Workers never share a
// target, so no locking is needed around writes to one key.
type Publisher struct {
	store    ingest.Store
	notifier ingest.Notifier
	clock    ingest.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Publisher. notifier may be nil.
func New(store ingest.Store, notifier ingest.Notifier, clock ingest.Clock, cfg Config, logger *zap.Logger) *Publisher {
	metrics.Init()
	if cfg.Namespace == "" {
		cfg.Namespace = "price"
	}
	if cfg.Backend == "" {
		cfg.Backend = "unknown"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{store: store, notifier: notifier, clock: clock, cfg: cfg, logger: logger}
}

// Key returns the store key for a target key.
func Key(namespace, key string) string {
	return namespace + ":" + key
}

// Key returns the store key for target.
func (p *Publisher) Key(target ingest.Target) string {
	return Key(p.cfg.Namespace, target.Key)
}

// Publish overwrites the target's record. Store failures are returned; a
// notification failure is only logged.
func (p *Publisher) Publish(ctx context.Context, target ingest.Target, price float64) (ingest.PublishedRecord, error) {
	record := ingest.PublishedRecord{
		Price:     price,
		Source:    target.Source.Label(),
		Unit:      target.Unit,
		UpdatedAt: p.clock.Now().UTC(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return record, fmt.Errorf("marshal record: %w", err)
	}

	key := p.Key(target)
	if err := p.store.Set(ctx, key, data); err != nil {
		metrics.ObservePublish(p.cfg.Backend, "error")
		return record, fmt.Errorf("store %s: %w", key, err)
	}
	metrics.ObservePublish(p.cfg.Backend, "ok")
	metrics.SetLastPrice(target.Key, price)
	p.logger.Info("price published",
		zap.String("key", key),
		zap.Float64("price", price),
		zap.String("source", record.Source),
	)

	p.notify(ctx, key, target, record)
	return record, nil
}

func (p *Publisher) notify(ctx context.Context, key string, target ingest.Target, record ingest.PublishedRecord) {
	if p.notifier == nil {
		return
	}
	subject := p.cfg.SubjectPrefix + target.Key
	id, err := p.notifier.Publish(ctx, subject, Event{Key: key, Target: target.Key, Record: record})
	if err != nil {
		p.logger.Warn("notification failed", zap.String("subject", subject), zap.Error(err))
		return
	}
	p.logger.Debug("notification sent", zap.String("subject", subject), zap.String("message_id", id))
}

// Latest reads back the record stored for target.
func (p *Publisher) Latest(ctx context.Context, target ingest.Target) (ingest.PublishedRecord, error) {
	data, err := p.store.Get(ctx, p.Key(target))
	if err != nil {
		return ingest.PublishedRecord{}, err
	}
	var record ingest.PublishedRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return ingest.PublishedRecord{}, fmt.Errorf("decode record %s: %w", p.Key(target), err)
	}
	return record, nil
}
