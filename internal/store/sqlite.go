package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ora-app/orasync/internal/errs"
	"github.com/ora-app/orasync/internal/model"
)

// DB is the sqlite-backed structured store. It implements UserStore,
// TokenStore, AvailabilityStore and FriendStore.
type DB struct {
	sql *sql.DB
}

// Open opens (or creates) the database file and runs schema migrations.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s := &DB{sql: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *DB) Close() error { return s.sql.Close() }

// init applies versioned schema migrations tracked in db_version.
func (s *DB) init() error {
	var version int
	err := s.sql.QueryRow("SELECT version FROM db_version WHERE name='orasync'").Scan(&version)
	if err != nil {
		if _, err := s.sql.Exec(`CREATE TABLE IF NOT EXISTS db_version (
			name TEXT PRIMARY KEY,
			version INTEGER
		)`); err != nil {
			return fmt.Errorf("creating db_version table: %w", err)
		}
		if _, err := s.sql.Exec(`INSERT INTO db_version (name, version) VALUES ('orasync', 0)`); err != nil {
			return fmt.Errorf("initializing db_version table: %w", err)
		}
		version = 0
	}

	if version == 0 {
		stmts := []string{
			`CREATE TABLE IF NOT EXISTS users (
				uid TEXT PRIMARY KEY,
				email TEXT UNIQUE,
				display_name TEXT DEFAULT '',
				calendar_consent_status TEXT DEFAULT '',
				calendar_sync_enabled INTEGER DEFAULT 0,
				connected INTEGER DEFAULT 0,
				last_calendar_sync_at TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS session_tokens (
				uid TEXT PRIMARY KEY,
				access_token TEXT,
				expires_at TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS calendar_tokens (
				uid TEXT PRIMARY KEY,
				refresh_token TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS availability_days (
				uid TEXT,
				day TEXT,
				slots TEXT,
				updated_at TIMESTAMP,
				source TEXT DEFAULT '',
				PRIMARY KEY (uid, day)
			)`,
			`CREATE TABLE IF NOT EXISTS friend_requests (
				id TEXT PRIMARY KEY,
				from_uid TEXT,
				to_uid TEXT,
				status TEXT,
				created_at TIMESTAMP,
				responded_at TIMESTAMP,
				from_calendar_shared INTEGER DEFAULT 0,
				to_calendar_shared INTEGER DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_friend_requests_from ON friend_requests(from_uid)`,
			`CREATE INDEX IF NOT EXISTS idx_friend_requests_to ON friend_requests(to_uid)`,
		}
		for _, stmt := range stmts {
			if _, err := s.sql.Exec(stmt); err != nil {
				return fmt.Errorf("applying schema: %w", err)
			}
		}
		if _, err := s.sql.Exec(`UPDATE db_version SET version = 1 WHERE name = 'orasync'`); err != nil {
			return fmt.Errorf("updating db_version table: %w", err)
		}
	}
	return nil
}

// --- UserStore ---

func (s *DB) Get(ctx context.Context, uid string) (*model.User, error) {
	row := s.sql.QueryRowContext(ctx, `SELECT uid, email, display_name,
		calendar_consent_status, calendar_sync_enabled, connected, last_calendar_sync_at
		FROM users WHERE uid = ?`, uid)
	return scanUser(row)
}

func (s *DB) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	row := s.sql.QueryRowContext(ctx, `SELECT uid, email, display_name,
		calendar_consent_status, calendar_sync_enabled, connected, last_calendar_sync_at
		FROM users WHERE email = ?`, normalizeEmail(email))
	return scanUser(row)
}

func scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	var syncEnabled, connected int
	var lastSync sql.NullTime
	err := row.Scan(&u.UID, &u.Email, &u.DisplayName, &u.CalendarConsentStatus,
		&syncEnabled, &connected, &lastSync)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CalendarSyncEnabled = syncEnabled != 0
	u.Connected = connected != 0
	if lastSync.Valid {
		u.LastCalendarSyncAt = lastSync.Time
	}
	return &u, nil
}

func (s *DB) Upsert(ctx context.Context, u *model.User) error {
	var lastSync any
	if !u.LastCalendarSyncAt.IsZero() {
		lastSync = u.LastCalendarSyncAt
	}
	_, err := s.sql.ExecContext(ctx, `INSERT OR REPLACE INTO users
		(uid, email, display_name, calendar_consent_status, calendar_sync_enabled, connected, last_calendar_sync_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.UID, normalizeEmail(u.Email), u.DisplayName, string(u.CalendarConsentStatus),
		boolInt(u.CalendarSyncEnabled), boolInt(u.Connected), lastSync)
	return err
}

func (s *DB) SetConsent(ctx context.Context, uid string, status model.ConsentStatus, syncEnabled bool) error {
	res, err := s.sql.ExecContext(ctx,
		`UPDATE users SET calendar_consent_status = ?, calendar_sync_enabled = ? WHERE uid = ?`,
		string(status), boolInt(syncEnabled), uid)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *DB) SetConnected(ctx context.Context, uid string, connected bool) error {
	res, err := s.sql.ExecContext(ctx, `UPDATE users SET connected = ? WHERE uid = ?`,
		boolInt(connected), uid)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *DB) ListSyncable(ctx context.Context, limit int) ([]model.User, error) {
	rows, err := s.sql.QueryContext(ctx, `SELECT uid, email, display_name,
		calendar_consent_status, calendar_sync_enabled, connected, last_calendar_sync_at
		FROM users
		WHERE calendar_consent_status = 'granted' AND calendar_sync_enabled = 1
		ORDER BY uid LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		var u model.User
		var syncEnabled, connected int
		var lastSync sql.NullTime
		if err := rows.Scan(&u.UID, &u.Email, &u.DisplayName, &u.CalendarConsentStatus,
			&syncEnabled, &connected, &lastSync); err != nil {
			return nil, err
		}
		u.CalendarSyncEnabled = syncEnabled != 0
		u.Connected = connected != 0
		if lastSync.Valid {
			u.LastCalendarSyncAt = lastSync.Time
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// --- TokenStore ---

func (s *DB) SessionToken(ctx context.Context, uid string) (*model.SessionToken, error) {
	var tok model.SessionToken
	err := s.sql.QueryRowContext(ctx,
		`SELECT access_token, expires_at FROM session_tokens WHERE uid = ?`, uid).
		Scan(&tok.AccessToken, &tok.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

func (s *DB) PutSessionToken(ctx context.Context, uid string, tok *model.SessionToken) error {
	_, err := s.sql.ExecContext(ctx,
		`INSERT OR REPLACE INTO session_tokens (uid, access_token, expires_at) VALUES (?, ?, ?)`,
		uid, tok.AccessToken, tok.ExpiresAt)
	return err
}

func (s *DB) DeleteSessionToken(ctx context.Context, uid string) error {
	_, err := s.sql.ExecContext(ctx, `DELETE FROM session_tokens WHERE uid = ?`, uid)
	return err
}

func (s *DB) RefreshToken(ctx context.Context, uid string) (string, error) {
	var token string
	err := s.sql.QueryRowContext(ctx,
		`SELECT refresh_token FROM calendar_tokens WHERE uid = ?`, uid).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errs.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *DB) PutRefreshToken(ctx context.Context, uid, token string) error {
	_, err := s.sql.ExecContext(ctx,
		`INSERT OR REPLACE INTO calendar_tokens (uid, refresh_token) VALUES (?, ?)`, uid, token)
	return err
}

func (s *DB) DeleteRefreshToken(ctx context.Context, uid string) error {
	_, err := s.sql.ExecContext(ctx, `DELETE FROM calendar_tokens WHERE uid = ?`, uid)
	return err
}

// --- AvailabilityStore ---

func (s *DB) PutDays(ctx context.Context, uid string, days []model.AvailabilityDay, syncedAt time.Time) error {
	tx, err := s.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, d := range days {
		slots, err := json.Marshal(d.Slots)
		if err != nil {
			return fmt.Errorf("encoding slots for %s: %w", d.Day, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO availability_days
			(uid, day, slots, updated_at, source) VALUES (?, ?, ?, ?, ?)`,
			uid, d.Day, string(slots), syncedAt, d.Source); err != nil {
			return err
		}
	}
	// The marker commits in the same transaction as the day documents.
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET last_calendar_sync_at = ? WHERE uid = ?`, syncedAt, uid); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *DB) Day(ctx context.Context, viewerUID, ownerUID, day string) (*model.AvailabilityDay, error) {
	if viewerUID != ownerUID {
		shared, err := s.sharedWith(ctx, ownerUID, viewerUID)
		if err != nil {
			return nil, err
		}
		if !shared {
			return nil, errs.ErrPermissionDenied
		}
	}

	var d model.AvailabilityDay
	var slots string
	err := s.sql.QueryRowContext(ctx,
		`SELECT uid, day, slots, updated_at, source FROM availability_days WHERE uid = ? AND day = ?`,
		ownerUID, day).Scan(&d.UID, &d.Day, &slots, &d.UpdatedAt, &d.Source)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(slots), &d.Slots); err != nil {
		return nil, fmt.Errorf("decoding slots for %s: %w", day, err)
	}
	return &d, nil
}

// sharedWith reports whether owner's accepted relationship with viewer has
// the owner's own share flag set.
func (s *DB) sharedWith(ctx context.Context, ownerUID, viewerUID string) (bool, error) {
	for _, id := range []string{model.RequestID(ownerUID, viewerUID), model.RequestID(viewerUID, ownerUID)} {
		r, err := s.FriendRequest(ctx, id)
		if errors.Is(err, errs.ErrNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		if r.Status == model.RequestAccepted {
			return r.SharedBy(ownerUID), nil
		}
	}
	return false, nil
}

// --- FriendStore ---

// FriendRequest loads one record by its "{from}_{to}" id.
func (s *DB) FriendRequest(ctx context.Context, id string) (*model.FriendRequest, error) {
	row := s.sql.QueryRowContext(ctx, `SELECT id, from_uid, to_uid, status,
		created_at, responded_at, from_calendar_shared, to_calendar_shared
		FROM friend_requests WHERE id = ?`, id)
	return scanFriendRequest(row.Scan)
}

func (s *DB) PutFriendRequest(ctx context.Context, r *model.FriendRequest) error {
	var responded any
	if !r.RespondedAt.IsZero() {
		responded = r.RespondedAt
	}
	_, err := s.sql.ExecContext(ctx, `INSERT OR REPLACE INTO friend_requests
		(id, from_uid, to_uid, status, created_at, responded_at, from_calendar_shared, to_calendar_shared)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.FromUID, r.ToUID, string(r.Status), r.CreatedAt, responded,
		boolInt(r.FromCalendarShared), boolInt(r.ToCalendarShared))
	return err
}

func (s *DB) ListFriendRequests(ctx context.Context, uid string) ([]model.FriendRequest, error) {
	rows, err := s.sql.QueryContext(ctx, `SELECT id, from_uid, to_uid, status,
		created_at, responded_at, from_calendar_shared, to_calendar_shared
		FROM friend_requests WHERE from_uid = ? OR to_uid = ? ORDER BY created_at`, uid, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FriendRequest
	for rows.Next() {
		r, err := scanFriendRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanFriendRequest(scan func(...any) error) (*model.FriendRequest, error) {
	var r model.FriendRequest
	var fromShared, toShared int
	var responded sql.NullTime
	err := scan(&r.ID, &r.FromUID, &r.ToUID, &r.Status, &r.CreatedAt, &responded,
		&fromShared, &toShared)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.FromCalendarShared = fromShared != 0
	r.ToCalendarShared = toShared != 0
	if responded.Valid {
		r.RespondedAt = responded.Time
	}
	return &r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
