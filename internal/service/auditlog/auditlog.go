package auditlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nkiryanov/blogpress/internal/apperrors"
	"github.com/nkiryanov/blogpress/internal/jsonx"
	"github.com/nkiryanov/blogpress/internal/logger"
	"github.com/nkiryanov/blogpress/internal/metrics"
	"github.com/nkiryanov/blogpress/internal/models"
	"github.com/nkiryanov/blogpress/internal/storage"
)

const (
	Endpoint      = "/audit-logs"
	LocalIDPrefix = "local-"

	defaultCacheCapacity = 100
	defaultFlushInterval = 5 * time.Second
)

type Poster interface {
	Post(ctx context.Context, path string, body any, out any) error
}

type FormProtector interface {
	ProtectForm(ctx context.Context, payload map[string]any) map[string]any
}

// Connectivity reports whether backend is reachable
// Subscribe channel gets a value every time connectivity is restored
type Connectivity interface {
	Online() bool
	Subscribe() <-chan struct{}
}

type Config struct {
	// Max entries kept locally, oldest evicted first
	// If not set than default is used
	CacheCapacity int

	// Min interval between flushes triggered by connectivity events
	// If not set than default is used
	FlushInterval time.Duration

	// Who performs actions, used when entry has no actor
	Actor func(ctx context.Context) string

	Now     func() time.Time
	Metrics *metrics.Metrics
}

type cachedEntry struct {
	seq   uint64
	entry models.AuditLogEntry
}

// Service records audit trail. Entries that failed to reach backend
// are kept in bounded local cache and replayed later
type Service struct {
	api     Poster
	csrf    FormProtector
	session storage.Storage
	logger  logger.Logger
	metrics *metrics.Metrics

	capacity int
	actor    func(ctx context.Context) string
	now      func() time.Time
	limiter  *rate.Limiter

	mu      sync.Mutex
	cache   []cachedEntry
	lastSeq uint64

	processing atomic.Bool
}

func New(cfg Config, api Poster, csrf FormProtector, session storage.Storage, l logger.Logger) *Service {
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = defaultCacheCapacity
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Actor == nil {
		cfg.Actor = func(context.Context) string { return "" }
	}

	return &Service{
		api:      api,
		csrf:     csrf,
		session:  session,
		logger:   logger.OrNoOp(l),
		metrics:  cfg.Metrics,
		capacity: cfg.CacheCapacity,
		actor:    cfg.Actor,
		now:      cfg.Now,
		limiter:  rate.NewLimiter(rate.Every(cfg.FlushInterval), 1),
	}
}

// CreateLogEntry sends entry to backend
// If backend is not reachable entry is cached and local response returned,
// so error is returned for invalid entry only
func (s *Service) CreateLogEntry(ctx context.Context, entry models.AuditLogEntry) (models.AuditLogResponse, error) {
	if !entry.Valid() {
		return models.AuditLogResponse{}, fmt.Errorf("%w: action=%q", apperrors.ErrInvalidAuditEntry, entry.Action)
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	if entry.Actor == "" {
		entry.Actor = s.actor(ctx)
	}

	id, err := s.send(ctx, entry)
	if err == nil {
		s.metrics.AuditEntry(metrics.AuditSent)
		return models.AuditLogResponse{ID: id, Entry: entry}, nil
	}

	s.logger.Warn("Audit log entry not sent, cache it locally", "action", entry.Action, "error", err)
	s.push(ctx, entry)

	return models.AuditLogResponse{
		ID:    LocalIDPrefix + strconv.FormatInt(s.now().UnixMilli(), 10),
		Entry: entry,
		Local: true,
	}, nil
}

// ProcessLocalCache replays cached entries one by one in original order
// Stops on first failure. Returns number of entries sent.
// Concurrent call returns immediately with zero
func (s *Service) ProcessLocalCache(ctx context.Context) int {
	if !s.processing.CompareAndSwap(false, true) {
		return 0
	}
	defer s.processing.Store(false)

	pending := s.snapshot()
	if len(pending) == 0 {
		return 0
	}

	sent := 0
	var lastSent uint64
	for _, item := range pending {
		if _, err := s.send(ctx, item.entry); err != nil {
			s.logger.Info("Audit cache flush stopped", "sent", sent, "left", len(pending)-sent, "error", err)
			break
		}
		sent++
		lastSent = item.seq
		s.metrics.AuditEntry(metrics.AuditFlushed)
	}

	if sent == 0 {
		return 0
	}

	s.mu.Lock()
	// Sent entries are always the oldest ones. Entries with smaller seq were evicted already
	keep := s.cache[:0]
	for _, item := range s.cache {
		if item.seq > lastSent {
			keep = append(keep, item)
		}
	}
	s.cache = keep
	s.mirror(ctx)
	s.mu.Unlock()

	s.logger.Info("Audit cache flushed", "sent", sent)
	return sent
}

// LoadCachedEntries replaces local cache with entries from session storage
// Malformed entries are dropped. Returns number of loaded entries
func (s *Service) LoadCachedEntries(ctx context.Context) int {
	raw, err := s.session.Get(ctx, storage.KeyAuditLogCache)
	if err != nil {
		if !errors.Is(err, apperrors.ErrKeyNotFound) {
			s.logger.Warn("Failed to read audit cache", "error", err)
		}
		return 0
	}

	items, err := jsonx.ParseWithFallback[[]json.RawMessage](raw, nil)
	if err != nil {
		s.logger.Warn("Audit cache is malformed, drop it", "error", err)
	}

	entries := make([]models.AuditLogEntry, 0, len(items))
	for _, item := range items {
		var entry models.AuditLogEntry
		if err := json.Unmarshal(item, &entry); err != nil || !entry.Valid() {
			s.logger.Debug("Drop malformed cached audit entry", "entry", string(item))
			continue
		}
		entries = append(entries, entry)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache = s.cache[:0]
	for _, entry := range entries {
		s.appendLocked(entry)
	}
	s.mirror(ctx)

	return len(s.cache)
}

// Init loads cache and flushes it if backend is reachable
// Then every connectivity restore triggers flush until ctx is done,
// restores coming faster than FlushInterval wait for their turn.
// Returned channel is closed when background loop stops
func (s *Service) Init(ctx context.Context, conn Connectivity) <-chan struct{} {
	s.LoadCachedEntries(ctx)

	restored := conn.Subscribe()
	if conn.Online() {
		s.ProcessLocalCache(ctx)
	}

	idleStopped := make(chan struct{})

	go func() {
		defer close(idleStopped)

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-restored:
				if !ok {
					return
				}
				// Frequent restores are delayed, not dropped
				if err := s.limiter.Wait(ctx); err != nil {
					return
				}
				s.ProcessLocalCache(ctx)
			}
		}
	}()

	return idleStopped
}

// Copy of cached entries, oldest first
func (s *Service) CachedEntries() []models.AuditLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]models.AuditLogEntry, len(s.cache))
	for i, item := range s.cache {
		entries[i] = item.entry
	}
	return entries
}

func (s *Service) CacheSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

func (s *Service) send(ctx context.Context, entry models.AuditLogEntry) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}

	err := s.api.Post(ctx, Endpoint, s.csrf.ProtectForm(ctx, payload(entry)), &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (s *Service) push(ctx context.Context, entry models.AuditLogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendLocked(entry)
	s.mirror(ctx)
	s.metrics.AuditEntry(metrics.AuditCached)
}

// Append keeping capacity, must be called with mu held
func (s *Service) appendLocked(entry models.AuditLogEntry) {
	s.lastSeq++
	s.cache = append(s.cache, cachedEntry{seq: s.lastSeq, entry: entry})

	if over := len(s.cache) - s.capacity; over > 0 {
		s.cache = append(s.cache[:0], s.cache[over:]...)
		for range over {
			s.metrics.AuditEntry(metrics.AuditEvicted)
		}
	}
}

// Write cache to session storage, must be called with mu held
func (s *Service) mirror(ctx context.Context) {
	s.metrics.AuditCacheSize(len(s.cache))

	if len(s.cache) == 0 {
		if err := s.session.Remove(ctx, storage.KeyAuditLogCache); err != nil {
			s.logger.Warn("Failed to clear audit cache mirror", "error", err)
		}
		return
	}

	entries := make([]models.AuditLogEntry, len(s.cache))
	for i, item := range s.cache {
		entries[i] = item.entry
	}

	raw, err := jsonx.MarshalString(entries)
	if err == nil {
		err = s.session.Set(ctx, storage.KeyAuditLogCache, raw)
	}
	if err != nil {
		s.logger.Warn("Failed to mirror audit cache", "error", err)
	}
}

func (s *Service) snapshot() []cachedEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]cachedEntry(nil), s.cache...)
}

// Body of POST /audit-logs
func payload(entry models.AuditLogEntry) map[string]any {
	p := map[string]any{
		"action":    entry.Action,
		"category":  entry.Category,
		"severity":  entry.Severity,
		"timestamp": entry.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if len(entry.Details) > 0 {
		p["details"] = entry.Details
	}
	if entry.Resource != nil {
		p["resourceType"] = entry.Resource.Type
		p["resourceId"] = entry.Resource.ID
	}
	if entry.Actor != "" {
		p["actor"] = entry.Actor
	}
	return p
}
