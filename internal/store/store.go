// Package store persists user credentials in SQLite. Usernames are
// encrypted at rest under a process key, passwords are stored as salted
// digests; no plaintext identity ever touches the database file.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

var (
	// ErrExists is returned when a username is already taken.
	ErrExists = errors.New("user exists")
	// ErrNotFound is returned when no matching user exists.
	ErrNotFound = errors.New("user not found")
	// ErrAdminLocked is returned on attempts to mutate an administrator.
	ErrAdminLocked = errors.New("administrators cannot be modified")
)

// seededAdmins are the two fixed operator accounts. They are re-synced
// on every start and can never be deleted or renamed through the API.
var seededAdmins = []string{"Admin_G", "Admin_D"}

// User is a decrypted directory entry.
type User struct {
	ID       int64     `json:"id"`
	Username string    `json:"username"`
	IsAdmin  bool      `json:"is_admin"`
	Created  time.Time `json:"created_at"`
}

// Store wraps the credentials database. All mutations serialize through
// a single mutex; reads that need decryption scan the whole table, which
// is fine at the user counts this runs at.
type Store struct {
	db     *sql.DB
	cipher *usernameCipher
	log    zerolog.Logger

	mu sync.Mutex
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		is_admin INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
}

// Open opens (or creates) the database and key file under dataDir and
// applies migrations.
func Open(dataDir string, log zerolog.Logger) (*Store, error) {
	cipher, err := newUsernameCipher(filepath.Join(dataDir, "secret.key"))
	if err != nil {
		return nil, fmt.Errorf("load username key: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dataDir, "users.db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc/sqlite is single-writer; cap the pool so writes never race.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{`PRAGMA journal_mode=WAL`, `PRAGMA busy_timeout=5000`} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragmas: %w", err)
		}
	}
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply migration: %w", err)
		}
	}
	// Older databases predate the role column.
	if _, err := db.Exec(`ALTER TABLE users ADD COLUMN is_admin INTEGER NOT NULL DEFAULT 0`); err != nil {
		if !strings.Contains(err.Error(), "duplicate column") {
			db.Close()
			return nil, fmt.Errorf("add is_admin column: %w", err)
		}
	}

	return &Store{db: db, cipher: cipher, log: log}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SeedAdmins creates or resets the fixed administrator accounts from
// their configured passwords. An empty password skips that account.
func (s *Store) SeedAdmins(passwords map[string]string) error {
	for _, name := range seededAdmins {
		pass := passwords[name]
		if pass == "" {
			s.log.Warn().Str("user", name).Msg("admin password not configured, account not seeded")
			continue
		}
		if err := s.seedAdmin(name, pass); err != nil {
			return fmt.Errorf("seed %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) seedAdmin(name, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash, err := hashPassword(password)
	if err != nil {
		return err
	}

	if u, err := s.findByName(name, true); err == nil {
		// Existing seeded account: reset the password to the configured
		// value so a rotated env var takes effect on restart.
		_, err = s.db.Exec(`UPDATE users SET password_hash = ? WHERE id = ?`, hash, u.ID)
		return err
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	enc, err := s.cipher.encrypt(name)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO users (username, password_hash, is_admin) VALUES (?, ?, 1)`, enc, hash)
	if err == nil {
		s.log.Info().Str("user", name).Msg("admin account seeded")
	}
	return err
}

// Exists reports whether a user with this name exists, compared
// case-insensitively.
func (s *Store) Exists(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.findByName(name, false)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Create inserts a new non-admin user. Name collisions (any case) return
// ErrExists.
func (s *Store) Create(name, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.findByName(name, false); err == nil {
		return ErrExists
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	enc, err := s.cipher.encrypt(name)
	if err != nil {
		return err
	}
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(`INSERT INTO users (username, password_hash, is_admin) VALUES (?, ?, 0)`, enc, hash); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// Authenticate verifies name (exact case) and password. On success it
// reports whether the account is an administrator.
func (s *Store) Authenticate(name, password string) (ok bool, isAdmin bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT username, password_hash, is_admin FROM users`)
	if err != nil {
		return false, false, err
	}
	defer rows.Close()

	for rows.Next() {
		var enc, hash string
		var admin bool
		if err := rows.Scan(&enc, &hash, &admin); err != nil {
			return false, false, err
		}
		plain, err := s.cipher.decrypt(enc)
		if err != nil {
			// An undecryptable row means the key file was rotated; skip
			// it rather than lock everyone out.
			s.log.Error().Err(err).Msg("undecryptable username row")
			continue
		}
		if plain == name {
			return verifyPassword(password, hash), admin, rows.Err()
		}
	}
	return false, false, rows.Err()
}

// ListAll returns every user with decrypted names, ordered by id.
func (s *Store) ListAll() ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT id, username, is_admin, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var enc string
		if err := rows.Scan(&u.ID, &enc, &u.IsAdmin, &u.Created); err != nil {
			return nil, err
		}
		plain, err := s.cipher.decrypt(enc)
		if err != nil {
			s.log.Error().Err(err).Int64("id", u.ID).Msg("undecryptable username row")
			plain = "<unreadable>"
		}
		u.Username = plain
		users = append(users, u)
	}
	return users, rows.Err()
}

// Delete removes a non-admin user by id. Administrators (by flag or
// seeded name) and unknown ids both return ErrNotFound, so the caller
// cannot distinguish a protected account from a missing one.
func (s *Store) Delete(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.findByID(id)
	if err != nil {
		return err
	}
	if u.IsAdmin || isSeededAdmin(u.Username) {
		return ErrNotFound
	}
	res, err := s.db.Exec(`DELETE FROM users WHERE id = ? AND is_admin = 0`, u.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Update renames a non-admin user and/or resets their password,
// addressed by id. Empty fields are left untouched. Renaming onto an
// existing name (any case) returns ErrExists; targeting an
// administrator returns ErrAdminLocked.
func (s *Store) Update(id int64, newName, newPassword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.findByID(id)
	if err != nil {
		return err
	}
	if u.IsAdmin || isSeededAdmin(u.Username) {
		return ErrAdminLocked
	}

	if newName != "" && !strings.EqualFold(newName, u.Username) {
		if _, err := s.findByName(newName, false); err == nil {
			return ErrExists
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
	}

	if newName != "" {
		enc, err := s.cipher.encrypt(newName)
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(`UPDATE users SET username = ? WHERE id = ?`, enc, u.ID); err != nil {
			return fmt.Errorf("update username: %w", err)
		}
	}
	if newPassword != "" {
		hash, err := hashPassword(newPassword)
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(`UPDATE users SET password_hash = ? WHERE id = ?`, hash, u.ID); err != nil {
			return fmt.Errorf("update password: %w", err)
		}
	}
	return nil
}

// findByID fetches one row and decrypts its name. Caller holds s.mu.
func (s *Store) findByID(id int64) (*User, error) {
	var u User
	var enc string
	err := s.db.QueryRow(`SELECT id, username, is_admin, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &enc, &u.IsAdmin, &u.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	plain, err := s.cipher.decrypt(enc)
	if err != nil {
		return nil, fmt.Errorf("decrypt username for id %d: %w", id, err)
	}
	u.Username = plain
	return &u, nil
}

// findByName scans the table decrypting each name. exact selects
// case-sensitive matching; otherwise the comparison folds case. Caller
// holds s.mu.
func (s *Store) findByName(name string, exact bool) (*User, error) {
	rows, err := s.db.Query(`SELECT id, username, is_admin, created_at FROM users`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var u User
		var enc string
		if err := rows.Scan(&u.ID, &enc, &u.IsAdmin, &u.Created); err != nil {
			return nil, err
		}
		plain, err := s.cipher.decrypt(enc)
		if err != nil {
			continue
		}
		if (exact && plain == name) || (!exact && strings.EqualFold(plain, name)) {
			u.Username = plain
			return &u, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nil, ErrNotFound
}

func isSeededAdmin(name string) bool {
	for _, a := range seededAdmins {
		if strings.EqualFold(name, a) {
			return true
		}
	}
	return false
}
