package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sakif/codehost/internal/apperror"
	"github.com/sakif/codehost/internal/model"
	"github.com/sakif/codehost/internal/repository"
)

var _ repository.AccountStore = (*DB)(nil)

const accountColumns = `id, username, email, password_hash, full_name, bio, avatar_url,
	website_url, location, company, github_id, is_admin, is_verified, created_at, updated_at`

// newAccountID returns "user_" followed by 32 hex characters.
func newAccountID() string {
	return "user_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func scanAccount(row rowScanner) (*model.Account, error) {
	var a model.Account
	err := row.Scan(
		&a.ID,
		&a.Username,
		&a.Email,
		&a.PasswordHash,
		&a.FullName,
		&a.Bio,
		&a.AvatarURL,
		&a.WebsiteURL,
		&a.Location,
		&a.Company,
		&a.GitHubID,
		&a.IsAdmin,
		&a.IsVerified,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// getAccount runs a single-row account query. what/key only feed the
// not-found message.
func getAccount(ctx context.Context, q querier, what, key, where string, args ...any) (*model.Account, error) {
	a, err := scanAccount(q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE `+where, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("account", key)
		}
		return nil, fmt.Errorf("sqlite: getting account by %s: %w", what, err)
	}
	return a, nil
}

// CreateAccount inserts a new account. The uniqueness check and the insert
// share one transaction; the UNIQUE indexes catch anything that slips past
// the check.
func (db *DB) CreateAccount(ctx context.Context, account *model.Account) error {
	now := time.Now().UTC()
	account.ID = newAccountID()
	account.CreatedAt = now
	account.UpdatedAt = now

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var taken int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM accounts WHERE username = ? OR email = ?`,
			account.Username, account.Email,
		).Scan(&taken)
		if err != nil {
			return fmt.Errorf("sqlite: checking account uniqueness: %w", err)
		}
		if taken > 0 {
			return apperror.Conflict("username or email already exists")
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO accounts (`+accountColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			account.ID,
			account.Username,
			account.Email,
			account.PasswordHash,
			nullable(account.FullName),
			nullable(account.Bio),
			nullable(account.AvatarURL),
			nullable(account.WebsiteURL),
			nullable(account.Location),
			nullable(account.Company),
			nullable(account.GitHubID),
			account.IsAdmin,
			account.IsVerified,
			account.CreatedAt,
			account.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("sqlite: inserting account %q: %w", account.Username, err)
		}
		return nil
	})
	if err != nil {
		account.ID = ""
		if isUniqueViolation(err, "accounts.github_id") {
			return apperror.Conflict("GitHub account is already linked")
		}
		if isUniqueViolation(err) {
			return apperror.Conflict("username or email already exists")
		}
		return err
	}
	return nil
}

func (db *DB) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	return getAccount(ctx, db.conn, "id", id, `id = ?`, id)
}

// GetAccountByUsername matches case-insensitively.
func (db *DB) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	return getAccount(ctx, db.conn, "username", username, `username = ?`, username)
}

func (db *DB) GetAccountByGitHubID(ctx context.Context, githubID int64) (*model.Account, error) {
	return getAccount(ctx, db.conn, "github_id", fmt.Sprintf("github:%d", githubID), `github_id = ?`, githubID)
}

// FindAccountByLogin looks the identifier up as a username first, then as an
// email. Usernames cannot contain "@", so at most one account matches.
func (db *DB) FindAccountByLogin(ctx context.Context, login string) (*model.Account, error) {
	return getAccount(ctx, db.conn, "login", login, `username = ? OR email = ? LIMIT 1`, login, login)
}

// RecordLogin completes a password login. The caller has already verified
// the password against verifiedDigest outside of any transaction; here the
// account is re-read under the write lock and the login is rejected if the
// digest changed in between.
func (db *DB) RecordLogin(ctx context.Context, id, verifiedDigest string) (*model.Account, error) {
	var account *model.Account
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		a, err := getAccount(ctx, tx, "id", id, `id = ?`, id)
		if err != nil {
			return err
		}
		if a.PasswordHash == "" || a.PasswordHash != verifiedDigest {
			return apperror.InvalidCredentials()
		}

		a.UpdatedAt = time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET updated_at = ? WHERE id = ?`, a.UpdatedAt, a.ID,
		); err != nil {
			return fmt.Errorf("sqlite: recording login for %s: %w", id, err)
		}
		account = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// UpdateProfile overwrites the non-nil fields of update. An empty string
// clears a field.
func (db *DB) UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) (*model.Account, error) {
	var account *model.Account
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		a, err := getAccount(ctx, tx, "id", id, `id = ?`, id)
		if err != nil {
			return err
		}

		apply := func(dst **string, src *string) {
			if src == nil {
				return
			}
			if *src == "" {
				*dst = nil
				return
			}
			v := *src
			*dst = &v
		}
		apply(&a.FullName, update.FullName)
		apply(&a.Bio, update.Bio)
		apply(&a.AvatarURL, update.AvatarURL)
		apply(&a.WebsiteURL, update.WebsiteURL)
		apply(&a.Location, update.Location)
		apply(&a.Company, update.Company)
		a.UpdatedAt = time.Now().UTC()

		_, err = tx.ExecContext(ctx,
			`UPDATE accounts
			 SET full_name = ?, bio = ?, avatar_url = ?, website_url = ?,
			     location = ?, company = ?, updated_at = ?
			 WHERE id = ?`,
			nullable(a.FullName),
			nullable(a.Bio),
			nullable(a.AvatarURL),
			nullable(a.WebsiteURL),
			nullable(a.Location),
			nullable(a.Company),
			a.UpdatedAt,
			a.ID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating profile %s: %w", id, err)
		}
		account = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// ListAccounts returns accounts newest first. A non-empty query filters on
// a case-insensitive substring of username or full name.
func (db *DB) ListAccounts(ctx context.Context, query string, opts repository.ListOptions) ([]model.Account, error) {
	opts = opts.Normalize()
	pattern := likePattern(query)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE ? = '' OR username LIKE ? ESCAPE '\' OR full_name LIKE ? ESCAPE '\'
		 ORDER BY created_at DESC, id
		 LIMIT ? OFFSET ?`,
		query, pattern, pattern, opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]model.Account, 0, opts.Limit)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning account row: %w", err)
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating accounts: %w", err)
	}
	return accounts, nil
}
