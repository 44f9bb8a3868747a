// Package store persists the channel/game/target watch configuration in
// SQLite and fronts it with the in-memory caches the command surface and the
// two long-running loops read on every call.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Sentinel store-layer errors. All of these are non-database ("expected")
// failures; the command surface maps each to its own user-facing message.
// Any other error returned from this package is an unexpected database I/O
// failure and should be logged with full context.
var (
	ErrNotInitialized     = errors.New("channel not initialized")
	ErrAlreadyInitialized = errors.New("channel already initialized")
	ErrGameListEmpty      = errors.New("game list is empty")
	ErrTargetListEmpty    = errors.New("target list is empty")
	ErrGamesNotInserted   = errors.New("no games were inserted")
	ErrTargetsNotInserted = errors.New("no targets were inserted")
	ErrGamesNotDeleted    = errors.New("no games were deleted")
	ErrTargetsNotDeleted  = errors.New("no targets were deleted")
	ErrOperationPending   = errors.New("another operation is pending for this channel")
)

// LimitExceededError reports that an add would push a per-guild or
// per-channel collection past its configured quota.
type LimitExceededError struct {
	Kind  string
	Count int
	Limit int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s limit exceeded: %d would exceed the maximum of %d", e.Kind, e.Count, e.Limit)
}

// channelLimit, gameLimit and targetLimit are the per-guild/per-channel
// quotas enforced by this package. They mirror the constants in the root
// package but live here too since the store must not import package main.
const (
	channelLimit = 5
	gameLimit    = 100
	targetLimit  = 100
	statsCacheTTL = 60 * time.Second
)

// CachedChannel is the in-memory view of one channel row. games and targets
// are loaded lazily on first read; mu guards all fields including the lazy
// load so concurrent command handlers for the same channel serialize.
type CachedChannel struct {
	mu sync.Mutex

	ID           uint64
	Guild        uint64
	Message      uint64
	HasMessage   bool
	NotifiedRole uint64
	HasRole      bool

	gamesLoaded   bool
	games         map[uint64]struct{}
	targetsLoaded bool
	targets       map[uint64]struct{}

	// refs counts holders of this pointer obtained via GetChannel and not yet
	// given back through ReleaseChannel; DeleteChannel proceeds only if it
	// observes this at zero under the record's lock, proving no other caller
	// is mid-operation on the record, and fails ErrOperationPending otherwise.
	refs int
}

// Store persists channel/game/target state and fronts it with bounded
// in-memory caches, mirroring the cached-store pattern the tracking and
// update loops both depend on for low-latency repeated reads.
type Store struct {
	db *sql.DB

	mu           sync.Mutex
	channelCache map[uint64]*CachedChannel
	guildCache   map[uint64]map[uint64]struct{}
	deleting     map[uint64]struct{}

	statsMu       sync.Mutex
	gameCount     int
	targetCount   int
	statsFetched  time.Time
}

const channelCacheMax = 2500
const guildCacheMax = 1000

// Open opens (or creates) the SQLite database at path and runs migrations.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	st := &Store{
		db:           db,
		channelCache: make(map[uint64]*CachedChannel),
		guildCache:   make(map[uint64]map[uint64]struct{}),
		deleting:     make(map[uint64]struct{}),
	}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("sqlite store opened", "path", path)
	return st, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS channel (
	id INTEGER PRIMARY KEY,
	guild INTEGER NOT NULL,
	message INTEGER UNIQUE,
	notified_role INTEGER
);
CREATE INDEX IF NOT EXISTS idx_channel_guild ON channel(guild);

CREATE TABLE IF NOT EXISTS game (
	id INTEGER NOT NULL,
	channel INTEGER NOT NULL,
	PRIMARY KEY (id, channel),
	FOREIGN KEY (channel) REFERENCES channel(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_game_channel ON game(channel);

CREATE TABLE IF NOT EXISTS target (
	id INTEGER NOT NULL,
	channel INTEGER NOT NULL,
	PRIMARY KEY (id, channel),
	FOREIGN KEY (channel) REFERENCES channel(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_target_channel ON target(channel);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("run sqlite migrations: %w", err)
	}
	slog.Debug("sqlite migrations applied")
	return nil
}

// bitsU64 and bitsI64 perform the bit-preserving reinterpretation between
// the store's signed SQLite columns and the domain's unsigned opaque IDs.
func bitsU64(v int64) uint64 { return uint64(v) }
func bitsI64(v uint64) int64 { return int64(v) }

// Initialize registers a new channel for tracking under guild. Fails
// ErrAlreadyInitialized if the row exists, or a *LimitExceededError if guild
// already has channelLimit tracked channels.
func (s *Store) Initialize(ctx context.Context, channel, guild uint64) error {
	var count int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM channel WHERE guild = ?`, bitsI64(guild))
	if err := row.Scan(&count); err != nil {
		return fmt.Errorf("count channels for guild: %w", err)
	}
	if count >= channelLimit {
		return &LimitExceededError{Kind: "channel", Count: count + 1, Limit: channelLimit}
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO channel (id, guild) VALUES (?, ?)`, bitsI64(channel), bitsI64(guild))
	if err != nil {
		if isUniqueConstraint(err) {
			return ErrAlreadyInitialized
		}
		return fmt.Errorf("insert channel: %w", err)
	}

	s.mu.Lock()
	s.channelCache[channel] = &CachedChannel{
		ID: channel, Guild: guild,
		gamesLoaded: true, games: make(map[uint64]struct{}),
		targetsLoaded: true, targets: make(map[uint64]struct{}),
	}
	if set, ok := s.guildCache[guild]; ok {
		set[channel] = struct{}{}
	}
	s.mu.Unlock()

	slog.Info("channel initialized", "channel", channel, "guild", guild)
	return nil
}

// GetChannel returns the cached channel, loading it from the store on a
// cache miss. Fails ErrNotInitialized if the channel is mid-delete or does
// not exist.
func (s *Store) GetChannel(ctx context.Context, channel uint64) (*CachedChannel, error) {
	s.mu.Lock()
	if _, deleting := s.deleting[channel]; deleting {
		s.mu.Unlock()
		return nil, ErrNotInitialized
	}
	if cc, ok := s.channelCache[channel]; ok {
		cc.mu.Lock()
		cc.refs++
		cc.mu.Unlock()
		s.mu.Unlock()
		return cc, nil
	}
	s.mu.Unlock()

	var (
		guild        int64
		message      sql.NullInt64
		notifiedRole sql.NullInt64
	)
	row := s.db.QueryRowContext(ctx, `SELECT guild, message, notified_role FROM channel WHERE id = ?`, bitsI64(channel))
	if err := row.Scan(&guild, &message, &notifiedRole); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotInitialized
		}
		return nil, fmt.Errorf("query channel: %w", err)
	}

	cc := &CachedChannel{ID: channel, Guild: bitsU64(guild), refs: 1}
	if message.Valid {
		cc.Message, cc.HasMessage = bitsU64(message.Int64), true
	}
	if notifiedRole.Valid {
		cc.NotifiedRole, cc.HasRole = bitsU64(notifiedRole.Int64), true
	}

	s.mu.Lock()
	if existing, ok := s.channelCache[channel]; ok {
		existing.mu.Lock()
		existing.refs++
		existing.mu.Unlock()
		s.mu.Unlock()
		return existing, nil
	}
	s.evictChannelCacheLocked()
	s.channelCache[channel] = cc
	s.mu.Unlock()
	return cc, nil
}

// ReleaseChannel must be called once per successful GetChannel to drop this
// holder's reference, letting DeleteChannel observe exclusive ownership.
func (s *Store) ReleaseChannel(cc *CachedChannel) {
	cc.mu.Lock()
	if cc.refs > 0 {
		cc.refs--
	}
	cc.mu.Unlock()
}

func (s *Store) evictChannelCacheLocked() {
	if len(s.channelCache) < channelCacheMax {
		return
	}
	for id := range s.channelCache {
		delete(s.channelCache, id)
		break
	}
}

func (cc *CachedChannel) loadGames(ctx context.Context, db *sql.DB) error {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.gamesLoaded {
		return nil
	}
	rows, err := db.QueryContext(ctx, `SELECT id FROM game WHERE channel = ?`, bitsI64(cc.ID))
	if err != nil {
		return fmt.Errorf("query games: %w", err)
	}
	defer rows.Close()

	games := make(map[uint64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan game: %w", err)
		}
		games[bitsU64(id)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	cc.games, cc.gamesLoaded = games, true
	return nil
}

func (cc *CachedChannel) loadTargets(ctx context.Context, db *sql.DB) error {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.targetsLoaded {
		return nil
	}
	rows, err := db.QueryContext(ctx, `SELECT id FROM target WHERE channel = ?`, bitsI64(cc.ID))
	if err != nil {
		return fmt.Errorf("query targets: %w", err)
	}
	defer rows.Close()

	targets := make(map[uint64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan target: %w", err)
		}
		targets[bitsU64(id)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	cc.targets, cc.targetsLoaded = targets, true
	return nil
}

// Games returns the channel's current game watch set, loading it from the
// store on first read.
func (s *Store) Games(ctx context.Context, cc *CachedChannel) (map[uint64]struct{}, error) {
	if err := cc.loadGames(ctx, s.db); err != nil {
		return nil, err
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()
	out := make(map[uint64]struct{}, len(cc.games))
	for id := range cc.games {
		out[id] = struct{}{}
	}
	return out, nil
}

// Targets returns the channel's current target watch set, loading it from
// the store on first read.
func (s *Store) Targets(ctx context.Context, cc *CachedChannel) (map[uint64]struct{}, error) {
	if err := cc.loadTargets(ctx, s.db); err != nil {
		return nil, err
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()
	out := make(map[uint64]struct{}, len(cc.targets))
	for id := range cc.targets {
		out[id] = struct{}{}
	}
	return out, nil
}

// AddGames inserts ids into channel's game watch set, enforcing gameLimit.
// Returns the number of rows actually inserted; fails ErrGamesNotInserted if
// every id was already present.
func (s *Store) AddGames(ctx context.Context, cc *CachedChannel, ids []uint64) (int, error) {
	return s.addMembers(ctx, cc, "game", gameLimit, ids, func() (map[uint64]struct{}, error) {
		return nil, cc.loadGames(ctx, s.db)
	}, ErrGameListEmpty, ErrGamesNotInserted)
}

// AddTargets is symmetric with AddGames, enforcing targetLimit.
func (s *Store) AddTargets(ctx context.Context, cc *CachedChannel, ids []uint64) (int, error) {
	return s.addMembers(ctx, cc, "target", targetLimit, ids, func() (map[uint64]struct{}, error) {
		return nil, cc.loadTargets(ctx, s.db)
	}, ErrTargetListEmpty, ErrTargetsNotInserted)
}

func (s *Store) addMembers(ctx context.Context, cc *CachedChannel, table string, limit int, ids []uint64, loadFn func() (map[uint64]struct{}, error), emptyErr, noneInsertedErr error) (int, error) {
	if len(ids) == 0 {
		return 0, emptyErr
	}
	if _, err := loadFn(); err != nil {
		return 0, err
	}

	cc.mu.Lock()
	current := 0
	if table == "game" {
		current = len(cc.games)
	} else {
		current = len(cc.targets)
	}
	cc.mu.Unlock()

	if current+len(ids) > limit {
		return 0, &LimitExceededError{Kind: table, Count: current + len(ids), Limit: limit}
	}

	inserted := 0
	for _, id := range ids {
		q := fmt.Sprintf(`INSERT OR IGNORE INTO %s (id, channel) VALUES (?, ?)`, table)
		res, err := s.db.ExecContext(ctx, q, bitsI64(id), bitsI64(cc.ID))
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		if n > 0 {
			inserted++
			cc.mu.Lock()
			if table == "game" {
				cc.games[id] = struct{}{}
			} else {
				cc.targets[id] = struct{}{}
			}
			cc.mu.Unlock()
		}
	}
	if inserted == 0 {
		return 0, noneInsertedErr
	}
	return inserted, nil
}

// RemoveGames deletes ids from channel's game watch set. Fails
// ErrGamesNotDeleted if none matched.
func (s *Store) RemoveGames(ctx context.Context, cc *CachedChannel, ids []uint64) error {
	return s.removeMembers(ctx, cc, "game", ids, ErrGamesNotDeleted)
}

// RemoveTargets deletes ids from channel's target watch set. Fails
// ErrTargetsNotDeleted if none matched.
func (s *Store) RemoveTargets(ctx context.Context, cc *CachedChannel, ids []uint64) error {
	return s.removeMembers(ctx, cc, "target", ids, ErrTargetsNotDeleted)
}

func (s *Store) removeMembers(ctx context.Context, cc *CachedChannel, table string, ids []uint64, noneDeletedErr error) error {
	if len(ids) == 0 {
		return noneDeletedErr
	}
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, bitsI64(cc.ID))
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, bitsI64(id))
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE channel = ? AND id IN (%s)`, table, strings.Join(placeholders, ","))
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return noneDeletedErr
	}

	cc.mu.Lock()
	for _, id := range ids {
		if table == "game" {
			delete(cc.games, id)
		} else {
			delete(cc.targets, id)
		}
	}
	cc.mu.Unlock()
	return nil
}

// ClearGames deletes every game for channel. Fails ErrGamesNotDeleted if the
// set was already empty.
func (s *Store) ClearGames(ctx context.Context, cc *CachedChannel) error {
	return s.clearMembers(ctx, cc, "game", ErrGamesNotDeleted)
}

// ClearTargets deletes every target for channel. Fails ErrTargetsNotDeleted
// if the set was already empty.
func (s *Store) ClearTargets(ctx context.Context, cc *CachedChannel) error {
	return s.clearMembers(ctx, cc, "target", ErrTargetsNotDeleted)
}

func (s *Store) clearMembers(ctx context.Context, cc *CachedChannel, table string, noneDeletedErr error) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE channel = ?`, table)
	res, err := s.db.ExecContext(ctx, q, bitsI64(cc.ID))
	if err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return noneDeletedErr
	}

	cc.mu.Lock()
	if table == "game" {
		cc.games = make(map[uint64]struct{})
	} else {
		cc.targets = make(map[uint64]struct{})
	}
	cc.mu.Unlock()
	return nil
}

// SetMessage records the channel's currently pinned status message, or
// clears it when has is false.
func (s *Store) SetMessage(ctx context.Context, channel uint64, messageID uint64, has bool) error {
	var arg any
	if has {
		arg = bitsI64(messageID)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE channel SET message = ? WHERE id = ?`, arg, bitsI64(channel)); err != nil {
		return fmt.Errorf("set channel message: %w", err)
	}

	s.mu.Lock()
	if cc, ok := s.channelCache[channel]; ok {
		cc.mu.Lock()
		cc.Message, cc.HasMessage = messageID, has
		cc.mu.Unlock()
	}
	s.mu.Unlock()
	return nil
}

// SetNotifiedRole records the role to mention on a ping-worthy update, or
// clears it when roleID is nil.
func (s *Store) SetNotifiedRole(ctx context.Context, channel uint64, roleID *uint64) error {
	var arg any
	if roleID != nil {
		arg = bitsI64(*roleID)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE channel SET notified_role = ? WHERE id = ?`, arg, bitsI64(channel)); err != nil {
		return fmt.Errorf("set notified role: %w", err)
	}

	s.mu.Lock()
	if cc, ok := s.channelCache[channel]; ok {
		cc.mu.Lock()
		if roleID != nil {
			cc.NotifiedRole, cc.HasRole = *roleID, true
		} else {
			cc.NotifiedRole, cc.HasRole = 0, false
		}
		cc.mu.Unlock()
	}
	s.mu.Unlock()
	return nil
}

// DeleteChannel runs the safe-delete protocol: mark the channel deleting so
// concurrent GetChannel calls fail fast, invalidate the cache entry, prove
// exclusive ownership (no other live reference), then delete the persistent
// row (cascading games/targets) and drop it from the guild cache.
func (s *Store) DeleteChannel(ctx context.Context, channel uint64) error {
	s.mu.Lock()
	if _, already := s.deleting[channel]; already {
		s.mu.Unlock()
		return ErrOperationPending
	}
	s.deleting[channel] = struct{}{}
	cc, cached := s.channelCache[channel]
	delete(s.channelCache, channel)
	s.mu.Unlock()

	if cached {
		cc.mu.Lock()
		refs := cc.refs
		cc.mu.Unlock()
		if refs > 0 {
			s.mu.Lock()
			delete(s.deleting, channel)
			s.channelCache[channel] = cc
			s.mu.Unlock()
			return ErrOperationPending
		}
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM channel WHERE id = ?`, bitsI64(channel))
	s.mu.Lock()
	delete(s.deleting, channel)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotInitialized
	}

	guild := uint64(0)
	if cached {
		guild = cc.Guild
	}
	s.mu.Lock()
	if set, ok := s.guildCache[guild]; ok {
		delete(set, channel)
	}
	s.mu.Unlock()

	slog.Info("channel deleted", "channel", channel)
	return nil
}

// GetAllGamesAndTargets returns the distinct set of targets watched in each
// game, across every channel, via an inner join on shared channel
// membership — the snapshot the tracking loop scans each cycle.
func (s *Store) GetAllGamesAndTargets(ctx context.Context) (map[uint64][]uint64, error) {
	const q = `
SELECT DISTINCT g.id, t.id
FROM game g
JOIN target t ON t.channel = g.channel
`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query games and targets: %w", err)
	}
	defer rows.Close()

	out := make(map[uint64][]uint64)
	seen := make(map[[2]uint64]struct{})
	for rows.Next() {
		var gameID, targetID int64
		if err := rows.Scan(&gameID, &targetID); err != nil {
			return nil, fmt.Errorf("scan game/target row: %w", err)
		}
		key := [2]uint64{bitsU64(gameID), bitsU64(targetID)}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out[key[0]] = append(out[key[0]], key[1])
	}
	return out, rows.Err()
}

// LoadTargets satisfies roblox.TargetSource, returning the same snapshot as
// GetAllGamesAndTargets under the name the tracking loop depends on.
func (s *Store) LoadTargets(ctx context.Context) (map[uint64][]uint64, error) {
	return s.GetAllGamesAndTargets(ctx)
}

// GetAllChannels returns every tracked channel ID.
func (s *Store) GetAllChannels(ctx context.Context) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM channel`)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan channel id: %w", err)
		}
		ids = append(ids, bitsU64(id))
	}
	return ids, rows.Err()
}

// LoadChannelIDs satisfies discordutil.ChannelStore under the name the
// update loop depends on.
func (s *Store) LoadChannelIDs(ctx context.Context) ([]uint64, error) {
	return s.GetAllChannels(ctx)
}

// GetGameCount and GetTargetCount return global distinct counts, memoized
// for statsCacheTTL since they back only the low-priority stats command.
func (s *Store) GetGameCount(ctx context.Context) (int, error) {
	n, _, err := s.refreshStatsCounts(ctx)
	return n, err
}

func (s *Store) GetTargetCount(ctx context.Context) (int, error) {
	_, n, err := s.refreshStatsCounts(ctx)
	return n, err
}

func (s *Store) refreshStatsCounts(ctx context.Context) (games, targets int, err error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	if time.Since(s.statsFetched) < statsCacheTTL && !s.statsFetched.IsZero() {
		return s.gameCount, s.targetCount, nil
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT id) FROM game`).Scan(&s.gameCount); err != nil {
		return 0, 0, fmt.Errorf("count games: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT id) FROM target`).Scan(&s.targetCount); err != nil {
		return 0, 0, fmt.Errorf("count targets: %w", err)
	}
	s.statsFetched = time.Now()
	return s.gameCount, s.targetCount, nil
}

func isUniqueConstraint(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}
