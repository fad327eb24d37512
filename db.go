package main

import (
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrDuplicate is returned when a username or email is already taken.
var ErrDuplicate = errors.New("username or email already exists")

// Store is the credential store. Lookups return (nil, nil) when no row
// matches.
type Store interface {
	Init() error
	// User operations
	CreateUser(username, email, passwordHash string) (*User, error)
	GetUserByEmail(email string) (*User, error)
	GetUserByID(id int64) (*User, error)
	ListUsers() ([]*User, error)
	UpdateUserDetails(id int64, username, email string) error
	UpdateUserPassword(id int64, passwordHash string) error
	DeactivateUser(id int64) error
	DeleteUser(id int64) error
	// Reset-token operations
	SetResetToken(id int64, tokenHash string, expiresAt int64) error
	// ConsumePasswordReset sets the new password hash and clears the reset
	// token in one conditional write. The update only applies while the
	// stored token hash still equals tokenHash, so of two racing consumers
	// exactly one sees ok=true.
	ConsumePasswordReset(id int64, tokenHash, newPasswordHash string) (bool, error)
	// Admin operations
	CreateAdmin(username, passwordHash string) (*Admin, error)
	GetAdminByUsername(username string) (*Admin, error)
}

// Memory store, used by tests and local development.
type MemDB struct {
	mu       sync.Mutex
	users    map[int64]*User
	admins   map[string]*Admin
	userSeq  int64
	adminSeq int64
}

func NewMemoryDB() *MemDB {
	return &MemDB{users: map[int64]*User{}, admins: map[string]*Admin{}, userSeq: 1, adminSeq: 1}
}

func (m *MemDB) Init() error { return nil }

func (m *MemDB) CreateUser(username, email, passwordHash string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username || u.Email == email {
			return nil, ErrDuplicate
		}
	}
	u := &User{ID: m.userSeq, Username: username, Email: email, Password: passwordHash, IsActive: true, CreatedAt: time.Now()}
	m.userSeq++
	m.users[u.ID] = u
	return u, nil
}

func (m *MemDB) GetUserByEmail(email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemDB) GetUserByID(id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *MemDB) ListUsers() ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*User
	for _, u := range m.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemDB) UpdateUserDetails(id int64, username, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil
	}
	for _, other := range m.users {
		if other.ID == id {
			continue
		}
		if (username != "" && other.Username == username) || (email != "" && other.Email == email) {
			return ErrDuplicate
		}
	}
	if username != "" {
		u.Username = username
	}
	if email != "" {
		u.Email = email
	}
	return nil
}

func (m *MemDB) UpdateUserPassword(id int64, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.Password = passwordHash
	}
	return nil
}

func (m *MemDB) DeactivateUser(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.IsActive = false
	}
	return nil
}

func (m *MemDB) DeleteUser(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	return nil
}

func (m *MemDB) SetResetToken(id int64, tokenHash string, expiresAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.ResetToken = &tokenHash
		u.ResetTokenExpires = &expiresAt
	}
	return nil
}

func (m *MemDB) ConsumePasswordReset(id int64, tokenHash, newPasswordHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.ResetToken == nil || *u.ResetToken != tokenHash {
		return false, nil
	}
	u.Password = newPasswordHash
	u.ResetToken = nil
	u.ResetTokenExpires = nil
	return true, nil
}

func (m *MemDB) CreateAdmin(username, passwordHash string) (*Admin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.admins[username]; ok {
		return nil, ErrDuplicate
	}
	ad := &Admin{ID: m.adminSeq, Username: username, Password: passwordHash, CreatedAt: time.Now()}
	m.adminSeq++
	m.admins[username] = ad
	return ad, nil
}

func (m *MemDB) GetAdminByUsername(username string) (*Admin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ad, ok := m.admins[username]; ok {
		cp := *ad
		return &cp, nil
	}
	return nil, nil
}

// SQLite store
type SQLiteDB struct {
	db   *sql.DB
	path string
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &SQLiteDB{db: d, path: path}
	if err := s.Init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDB) Init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (id INTEGER PRIMARY KEY AUTOINCREMENT, username TEXT UNIQUE, email TEXT UNIQUE, password TEXT, is_active INTEGER DEFAULT 1, reset_token TEXT, reset_token_expires INTEGER, created_at TEXT);`,
		`CREATE TABLE IF NOT EXISTS admins (id INTEGER PRIMARY KEY AUTOINCREMENT, username TEXT UNIQUE, password TEXT, created_at TEXT);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

func (s *SQLiteDB) CreateUser(username, email, passwordHash string) (*User, error) {
	res, err := s.db.Exec(`INSERT INTO users(username,email,password,is_active,created_at) VALUES(?,?,?,1,datetime('now'))`, username, email, passwordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	id, _ := res.LastInsertId()
	return &User{ID: id, Username: username, Email: email, Password: passwordHash, IsActive: true}, nil
}

func scanUser(row interface{ Scan(...interface{}) error }) (*User, error) {
	var u User
	var active int
	var created string
	var resetToken sql.NullString
	var resetExpires sql.NullInt64
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Password, &active, &resetToken, &resetExpires, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	u.IsActive = active != 0
	if resetToken.Valid {
		u.ResetToken = &resetToken.String
	}
	if resetExpires.Valid {
		u.ResetTokenExpires = &resetExpires.Int64
	}
	return &u, nil
}

const userColumns = `id,username,email,password,is_active,reset_token,reset_token_expires,created_at`

func (s *SQLiteDB) GetUserByEmail(email string) (*User, error) {
	return scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

func (s *SQLiteDB) GetUserByID(id int64) (*User, error) {
	return scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (s *SQLiteDB) ListUsers() ([]*User, error) {
	rows, err := s.db.Query(`SELECT ` + userColumns + ` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLiteDB) UpdateUserDetails(id int64, username, email string) error {
	var sets []string
	var args []interface{}
	if username != "" {
		sets = append(sets, "username = ?")
		args = append(args, username)
	}
	if email != "" {
		sets = append(sets, "email = ?")
		args = append(args, email)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	_, err := s.db.Exec(`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *SQLiteDB) UpdateUserPassword(id int64, passwordHash string) error {
	_, err := s.db.Exec(`UPDATE users SET password = ? WHERE id = ?`, passwordHash, id)
	return err
}

func (s *SQLiteDB) DeactivateUser(id int64) error {
	_, err := s.db.Exec(`UPDATE users SET is_active = 0 WHERE id = ?`, id)
	return err
}

func (s *SQLiteDB) DeleteUser(id int64) error {
	_, err := s.db.Exec(`DELETE FROM users WHERE id = ?`, id)
	return err
}

func (s *SQLiteDB) SetResetToken(id int64, tokenHash string, expiresAt int64) error {
	_, err := s.db.Exec(`UPDATE users SET reset_token = ?, reset_token_expires = ? WHERE id = ?`, tokenHash, expiresAt, id)
	return err
}

func (s *SQLiteDB) ConsumePasswordReset(id int64, tokenHash, newPasswordHash string) (bool, error) {
	res, err := s.db.Exec(`UPDATE users SET password = ?, reset_token = NULL, reset_token_expires = NULL WHERE id = ? AND reset_token = ?`, newPasswordHash, id, tokenHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteDB) CreateAdmin(username, passwordHash string) (*Admin, error) {
	res, err := s.db.Exec(`INSERT INTO admins(username,password,created_at) VALUES(?,?,datetime('now'))`, username, passwordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	id, _ := res.LastInsertId()
	return &Admin{ID: id, Username: username, Password: passwordHash}, nil
}

func (s *SQLiteDB) GetAdminByUsername(username string) (*Admin, error) {
	row := s.db.QueryRow(`SELECT id,username,password,created_at FROM admins WHERE username = ?`, username)
	var ad Admin
	var created string
	if err := row.Scan(&ad.ID, &ad.Username, &ad.Password, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &ad, nil
}

// lifecycle helpers
func (m *MemDB) close() error { return nil }
func (m *MemDB) ping() bool   { return true }

func (s *SQLiteDB) close() error { return s.db.Close() }
func (s *SQLiteDB) ping() bool   { return s.db.Ping() == nil }
