// Package store is the durable document store behind the bot: three JSON
// collections (whitelist, events, media) persisted as whole-document files
// with an in-memory snapshot cache kept coherent with every write.
//
// Coherence is single-process only: writes go through a per-collection
// mutex, replace the file atomically and then evict the cached snapshot, so
// a read issued after a local write always observes that write. There is no
// cross-process invalidation signal; do not point two bot processes at the
// same data directory.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mipustudio/mger-smibot/internal/fsstore"
)

const (
	keyWhitelist = "whitelist"
	keyEvents    = "events"
	keyMedia     = "media"
)

type Store struct {
	dir    string
	logger *slog.Logger
	cache  *snapshotCache

	wlMu sync.Mutex
	evMu sync.Mutex
	mdMu sync.Mutex
}

func New(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:    strings.TrimSpace(dir),
		logger: logger,
		cache:  newSnapshotCache(),
	}
}

func (s *Store) Ensure(ctx context.Context) error {
	if err := ensureNotCanceled(ctx); err != nil {
		return err
	}
	return fsstore.EnsureDir(s.dir, 0o700)
}

func (s *Store) whitelistPath() string { return filepath.Join(s.dir, "whitelist.json") }
func (s *Store) eventsPath() string    { return filepath.Join(s.dir, "events.json") }
func (s *Store) mediaPath() string     { return filepath.Join(s.dir, "media.json") }

// AddToWhitelist records username and reports whether it was newly added.
func (s *Store) AddToWhitelist(ctx context.Context, username string) (bool, error) {
	if err := ensureNotCanceled(ctx); err != nil {
		return false, err
	}
	username = normalizeUsername(username)
	if username == "" {
		return false, fmt.Errorf("username is required")
	}
	s.wlMu.Lock()
	defer s.wlMu.Unlock()

	doc, err := s.loadWhitelistLocked()
	if err != nil {
		return false, err
	}
	for _, u := range doc.Users {
		if strings.EqualFold(u, username) {
			return false, nil
		}
	}
	doc.Users = append(append([]string(nil), doc.Users...), username)
	if err := s.saveLocked(s.whitelistPath(), keyWhitelist, doc); err != nil {
		return false, err
	}
	return true, nil
}

// IsAllowed reports whether username is present in the whitelist.
func (s *Store) IsAllowed(ctx context.Context, username string) (bool, error) {
	if err := ensureNotCanceled(ctx); err != nil {
		return false, err
	}
	username = normalizeUsername(username)
	if username == "" {
		return false, nil
	}
	s.wlMu.Lock()
	defer s.wlMu.Unlock()

	doc, err := s.loadWhitelistLocked()
	if err != nil {
		return false, err
	}
	for _, u := range doc.Users {
		if strings.EqualFold(u, username) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) Whitelist(ctx context.Context) ([]string, error) {
	if err := ensureNotCanceled(ctx); err != nil {
		return nil, err
	}
	s.wlMu.Lock()
	defer s.wlMu.Unlock()

	doc, err := s.loadWhitelistLocked()
	if err != nil {
		return nil, err
	}
	return append([]string(nil), doc.Users...), nil
}

// AddEvent assigns the next id from the persisted counter, stamps the
// creation time and appends the event. The assigned id is returned.
func (s *Store) AddEvent(ctx context.Context, ev Event) (string, error) {
	if err := ensureNotCanceled(ctx); err != nil {
		return "", err
	}
	s.evMu.Lock()
	defer s.evMu.Unlock()

	doc, err := s.loadEventsLocked()
	if err != nil {
		return "", err
	}
	if doc.NextID <= 0 {
		doc.NextID = nextIDFromExisting(doc.Events)
	}
	ev.ID = strconv.FormatInt(doc.NextID, 10)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	doc.NextID++
	doc.Events = append(append([]Event(nil), doc.Events...), ev)
	if err := s.saveLocked(s.eventsPath(), keyEvents, doc); err != nil {
		return "", err
	}
	return ev.ID, nil
}

func (s *Store) Events(ctx context.Context) ([]Event, error) {
	if err := ensureNotCanceled(ctx); err != nil {
		return nil, err
	}
	s.evMu.Lock()
	defer s.evMu.Unlock()

	doc, err := s.loadEventsLocked()
	if err != nil {
		return nil, err
	}
	return append([]Event(nil), doc.Events...), nil
}

// DeleteEvent removes the event with id and reports whether it existed.
// Deleting an absent id leaves both the file and the cache untouched.
func (s *Store) DeleteEvent(ctx context.Context, id string) (bool, error) {
	if err := ensureNotCanceled(ctx); err != nil {
		return false, err
	}
	id = strings.TrimSpace(id)
	s.evMu.Lock()
	defer s.evMu.Unlock()

	doc, err := s.loadEventsLocked()
	if err != nil {
		return false, err
	}
	kept := make([]Event, 0, len(doc.Events))
	for _, ev := range doc.Events {
		if ev.ID != id {
			kept = append(kept, ev)
		}
	}
	if len(kept) == len(doc.Events) {
		return false, nil
	}
	doc.Events = kept
	if err := s.saveLocked(s.eventsPath(), keyEvents, doc); err != nil {
		return false, err
	}
	return true, nil
}

// AddMedia appends an outlet to the media directory, stamping added_at.
func (s *Store) AddMedia(ctx context.Context, entry MediaEntry) error {
	if err := ensureNotCanceled(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(entry.Name) == "" {
		return fmt.Errorf("media name is required")
	}
	if entry.AddedAt.IsZero() {
		entry.AddedAt = time.Now().UTC()
	}
	s.mdMu.Lock()
	defer s.mdMu.Unlock()

	doc, err := s.loadMediaLocked()
	if err != nil {
		return err
	}
	doc.Media = append(append([]MediaEntry(nil), doc.Media...), entry)
	return s.saveLocked(s.mediaPath(), keyMedia, doc)
}

func (s *Store) Media(ctx context.Context) ([]MediaEntry, error) {
	if err := ensureNotCanceled(ctx); err != nil {
		return nil, err
	}
	s.mdMu.Lock()
	defer s.mdMu.Unlock()

	doc, err := s.loadMediaLocked()
	if err != nil {
		return nil, err
	}
	return append([]MediaEntry(nil), doc.Media...), nil
}

// SearchMedia is a cache-aware linear scan: case-insensitive substring
// match against name and description.
func (s *Store) SearchMedia(ctx context.Context, query string) ([]MediaEntry, error) {
	if err := ensureNotCanceled(ctx); err != nil {
		return nil, err
	}
	query = strings.ToLower(strings.TrimSpace(query))
	s.mdMu.Lock()
	defer s.mdMu.Unlock()

	doc, err := s.loadMediaLocked()
	if err != nil {
		return nil, err
	}
	if query == "" {
		return nil, nil
	}
	var out []MediaEntry
	for _, entry := range doc.Media {
		if strings.Contains(strings.ToLower(entry.Name), query) ||
			strings.Contains(strings.ToLower(entry.Description), query) {
			out = append(out, entry)
		}
	}
	return out, nil
}

// saveLocked replaces the collection file and, only after a successful
// write, evicts its cached snapshot. A failed write leaves the cache alone:
// the record is not committed and cached reads stay consistent with the
// durable state.
func (s *Store) saveLocked(path, cacheKey string, doc any) error {
	if err := fsstore.WriteJSONAtomic(path, doc, fsstore.FileOptions{}); err != nil {
		s.logger.Error("store_write_error", "collection", cacheKey, "error", err.Error())
		return fmt.Errorf("store: write %s: %w", cacheKey, err)
	}
	s.cache.Invalidate(cacheKey)
	return nil
}

func (s *Store) loadWhitelistLocked() (whitelistDoc, error) {
	v, err := s.cache.GetOrLoad(keyWhitelist, func() (any, error) {
		var doc whitelistDoc
		if _, err := fsstore.ReadJSON(s.whitelistPath(), &doc); err != nil {
			return s.degradeOrFail(keyWhitelist, whitelistDoc{}, err)
		}
		return doc, nil
	})
	if err != nil {
		return whitelistDoc{}, err
	}
	return v.(whitelistDoc), nil
}

func (s *Store) loadEventsLocked() (eventsDoc, error) {
	v, err := s.cache.GetOrLoad(keyEvents, func() (any, error) {
		var doc eventsDoc
		if _, err := fsstore.ReadJSON(s.eventsPath(), &doc); err != nil {
			return s.degradeOrFail(keyEvents, eventsDoc{}, err)
		}
		return doc, nil
	})
	if err != nil {
		return eventsDoc{}, err
	}
	return v.(eventsDoc), nil
}

func (s *Store) loadMediaLocked() (mediaDoc, error) {
	v, err := s.cache.GetOrLoad(keyMedia, func() (any, error) {
		var doc mediaDoc
		if _, err := fsstore.ReadJSON(s.mediaPath(), &doc); err != nil {
			return s.degradeOrFail(keyMedia, mediaDoc{}, err)
		}
		return doc, nil
	})
	if err != nil {
		return mediaDoc{}, err
	}
	return v.(mediaDoc), nil
}

// degradeOrFail maps an undecodable collection file to the empty
// collection (logged, not fatal); anything else is a durability failure
// surfaced to the caller.
func (s *Store) degradeOrFail(key string, empty any, err error) (any, error) {
	if errors.Is(err, fsstore.ErrDecodeFailed) {
		s.logger.Warn("store_corrupt_collection", "collection", key, "error", err.Error())
		return empty, nil
	}
	return nil, fmt.Errorf("store: read %s: %w", key, err)
}

// nextIDFromExisting seeds the id counter for collections written before
// the counter existed: one past the highest numeric id already assigned,
// never lower than size+1.
func nextIDFromExisting(events []Event) int64 {
	next := int64(len(events)) + 1
	for _, ev := range events {
		if n, err := strconv.ParseInt(strings.TrimSpace(ev.ID), 10, 64); err == nil && n+1 > next {
			next = n + 1
		}
	}
	return next
}

func normalizeUsername(username string) string {
	return strings.TrimPrefix(strings.TrimSpace(username), "@")
}

func ensureNotCanceled(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}
