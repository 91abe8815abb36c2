package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Register creates an account with a bcrypt hash of password.
func (s *ServerStorage) Register(username, password string) error {
	if err := ValidateIdentifier(username); err != nil {
		return fmt.Errorf("registering account: %w", err)
	}
	if password == "" {
		return fmt.Errorf("registering account %q: password must be set", username)
	}
	db, release, err := s.conn()
	if err != nil {
		return err
	}
	defer release()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.passwordCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	res, err := db.Exec(`
INSERT INTO accounts(username, password_hash, created_at) VALUES(?, ?, ?)
ON CONFLICT(username) DO NOTHING`, username, string(hash), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("registering account %q: %w", username, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("registering account %q: %w", username, ErrAccountExists)
	}
	return nil
}

// Authenticate reports whether password matches the account. Unknown users
// and wrong passwords are both a false result, not an error.
func (s *ServerStorage) Authenticate(username, password string) (bool, error) {
	db, release, err := s.conn()
	if err != nil {
		return false, err
	}
	defer release()

	var hash string
	err = db.QueryRow(`SELECT password_hash FROM accounts WHERE username = ?`, username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading account %q: %w", username, err)
	}

	err = bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking password for %q: %w", username, err)
	}
	return true, nil
}

// GetCoordinates returns the last position stored for the account.
func (s *ServerStorage) GetCoordinates(username string) (float64, float64, error) {
	db, release, err := s.conn()
	if err != nil {
		return 0, 0, err
	}
	defer release()

	var x, y float64
	err = db.QueryRow(`SELECT x, y FROM accounts WHERE username = ?`, username).Scan(&x, &y)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("account %q: %w", username, ErrNotFound)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("reading coordinates for %q: %w", username, err)
	}
	return x, y, nil
}

func (s *ServerStorage) UpdateCoordinates(username string, x, y float64) error {
	db, release, err := s.conn()
	if err != nil {
		return err
	}
	defer release()

	res, err := db.Exec(`UPDATE accounts SET x = ?, y = ? WHERE username = ?`, x, y, username)
	if err != nil {
		return fmt.Errorf("updating coordinates for %q: %w", username, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("account %q: %w", username, ErrNotFound)
	}
	return nil
}
