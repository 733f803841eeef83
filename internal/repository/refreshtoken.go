package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/taskdeck/taskdeck/internal/model"
)

// Common errors for refresh token repository operations.
var (
	// ErrRefreshTokenNotFound covers unknown, expired, and revoked tokens
	// alike; none of them can be exchanged.
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	// ErrRefreshTokenUsed means the token was already rotated. A presented
	// token hitting this is a replay.
	ErrRefreshTokenUsed = errors.New("refresh token already used")
)

// InsertRefreshToken stores a new refresh token record.
func (r *Repository) InsertRefreshToken(ctx context.Context, token *model.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.pool.Exec(ctx, query,
		token.ID,
		token.UserID,
		token.TokenHash,
		token.ExpiresAt,
		token.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert refresh token: %w", err)
	}

	return nil
}

// GetRefreshTokenByHash retrieves a refresh token record by its digest.
func (r *Repository) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error) {
	query := `
		SELECT id, user_id, token_hash, expires_at, created_at, rotated_at, revoked_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`

	var token model.RefreshToken
	err := readWithRetry(ctx, func() error {
		return r.pool.QueryRow(ctx, query, tokenHash).Scan(
			&token.ID,
			&token.UserID,
			&token.TokenHash,
			&token.ExpiresAt,
			&token.CreatedAt,
			&token.RotatedAt,
			&token.RevokedAt,
		)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	return &token, nil
}

// RotateRefreshToken stamps the token as rotated, exactly once.
// The conditional UPDATE is the compare-and-swap: of two concurrent refresh
// calls presenting the same token, exactly one sees a row returned; the
// other gets ErrRefreshTokenUsed.
func (r *Repository) RotateRefreshToken(ctx context.Context, tokenHash string) (*model.RefreshToken, error) {
	query := `
		UPDATE refresh_tokens
		SET rotated_at = NOW()
		WHERE token_hash = $1
		  AND rotated_at IS NULL
		  AND revoked_at IS NULL
		  AND expires_at > NOW()
		RETURNING id, user_id, token_hash, expires_at, created_at, rotated_at, revoked_at
	`

	var token model.RefreshToken
	err := r.pool.QueryRow(ctx, query, tokenHash).Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.ExpiresAt,
		&token.CreatedAt,
		&token.RotatedAt,
		&token.RevokedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifyRotateMiss(ctx, tokenHash)
		}
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	return &token, nil
}

// classifyRotateMiss decides why the conditional UPDATE matched no row.
// Only a token whose rotated_at is already stamped counts as a replay;
// unknown, expired, and revoked tokens are plain invalid tokens.
func (r *Repository) classifyRotateMiss(ctx context.Context, tokenHash string) error {
	stored, err := r.GetRefreshTokenByHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrRefreshTokenNotFound) {
			return ErrRefreshTokenNotFound
		}
		return fmt.Errorf("failed to classify refresh token: %w", err)
	}

	if stored.RotatedAt != nil {
		return ErrRefreshTokenUsed
	}
	return ErrRefreshTokenNotFound
}

// RevokeUserRefreshTokens revokes every outstanding refresh token for a
// user. Used on logout and after a detected replay.
func (r *Repository) RevokeUserRefreshTokens(ctx context.Context, userID string) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = NOW()
		WHERE user_id = $1 AND revoked_at IS NULL AND rotated_at IS NULL
	`

	result, err := r.pool.Exec(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}

	return result.RowsAffected(), nil
}

// DeleteExpiredRefreshTokens removes records past their expiry plus a grace
// window. Intended for a periodic cleanup job or manual maintenance.
func (r *Repository) DeleteExpiredRefreshTokens(ctx context.Context, grace time.Duration) (int64, error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at < $1`

	result, err := r.pool.Exec(ctx, query, time.Now().Add(-grace))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}

	return result.RowsAffected(), nil
}
