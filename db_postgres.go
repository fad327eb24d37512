package main

import (
	"database/sql"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

type PostgresDB struct {
	db  *sql.DB
	dsn string
}

func NewPostgresDB(dsn string) (*PostgresDB, error) {
	d, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	p := &PostgresDB{db: d, dsn: dsn}
	if err := p.Init(); err != nil {
		d.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresDB) Init() error {
	// rely on migrations to create tables; just verify connectivity
	return p.db.Ping()
}

func isPqUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}

func (p *PostgresDB) CreateUser(username, email, passwordHash string) (*User, error) {
	var id int64
	err := p.db.QueryRow(`INSERT INTO users(username,email,password,is_active,created_at) VALUES($1,$2,$3,true,now()) RETURNING id`, username, email, passwordHash).Scan(&id)
	if err != nil {
		if isPqUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return &User{ID: id, Username: username, Email: email, Password: passwordHash, IsActive: true}, nil
}

const pgUserColumns = `id,username,email,password,is_active,reset_token,reset_token_expires,created_at`

func scanPgUser(row interface{ Scan(...interface{}) error }) (*User, error) {
	var u User
	var resetToken sql.NullString
	var resetExpires sql.NullInt64
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Password, &u.IsActive, &resetToken, &resetExpires, &u.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if resetToken.Valid {
		u.ResetToken = &resetToken.String
	}
	if resetExpires.Valid {
		u.ResetTokenExpires = &resetExpires.Int64
	}
	return &u, nil
}

func (p *PostgresDB) GetUserByEmail(email string) (*User, error) {
	return scanPgUser(p.db.QueryRow(`SELECT `+pgUserColumns+` FROM users WHERE email = $1`, email))
}

func (p *PostgresDB) GetUserByID(id int64) (*User, error) {
	return scanPgUser(p.db.QueryRow(`SELECT `+pgUserColumns+` FROM users WHERE id = $1`, id))
}

func (p *PostgresDB) ListUsers() ([]*User, error) {
	rows, err := p.db.Query(`SELECT ` + pgUserColumns + ` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []*User
	for rows.Next() {
		u, err := scanPgUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (p *PostgresDB) UpdateUserDetails(id int64, username, email string) error {
	var sets []string
	var args []interface{}
	if username != "" {
		args = append(args, username)
		sets = append(sets, "username = $"+strconv.Itoa(len(args)))
	}
	if email != "" {
		args = append(args, email)
		sets = append(sets, "email = $"+strconv.Itoa(len(args)))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	_, err := p.db.Exec(`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = $`+strconv.Itoa(len(args)), args...)
	if isPqUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (p *PostgresDB) UpdateUserPassword(id int64, passwordHash string) error {
	_, err := p.db.Exec(`UPDATE users SET password = $1 WHERE id = $2`, passwordHash, id)
	return err
}

func (p *PostgresDB) DeactivateUser(id int64) error {
	_, err := p.db.Exec(`UPDATE users SET is_active = false WHERE id = $1`, id)
	return err
}

func (p *PostgresDB) DeleteUser(id int64) error {
	_, err := p.db.Exec(`DELETE FROM users WHERE id = $1`, id)
	return err
}

func (p *PostgresDB) SetResetToken(id int64, tokenHash string, expiresAt int64) error {
	_, err := p.db.Exec(`UPDATE users SET reset_token = $1, reset_token_expires = $2 WHERE id = $3`, tokenHash, expiresAt, id)
	return err
}

func (p *PostgresDB) ConsumePasswordReset(id int64, tokenHash, newPasswordHash string) (bool, error) {
	res, err := p.db.Exec(`UPDATE users SET password = $1, reset_token = NULL, reset_token_expires = NULL WHERE id = $2 AND reset_token = $3`, newPasswordHash, id, tokenHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *PostgresDB) CreateAdmin(username, passwordHash string) (*Admin, error) {
	var id int64
	err := p.db.QueryRow(`INSERT INTO admins(username,password,created_at) VALUES($1,$2,now()) RETURNING id`, username, passwordHash).Scan(&id)
	if err != nil {
		if isPqUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return &Admin{ID: id, Username: username, Password: passwordHash}, nil
}

func (p *PostgresDB) GetAdminByUsername(username string) (*Admin, error) {
	row := p.db.QueryRow(`SELECT id,username,password,created_at FROM admins WHERE username = $1`, username)
	var ad Admin
	if err := row.Scan(&ad.ID, &ad.Username, &ad.Password, &ad.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &ad, nil
}

// lifecycle helpers
func (p *PostgresDB) close() error { return p.db.Close() }
func (p *PostgresDB) ping() bool   { return p.db.Ping() == nil }
