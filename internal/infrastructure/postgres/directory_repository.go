package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agrimarket/bargaining-hub/internal/domain/negotiation"
)

// DirectoryRepository reads participant profiles and crop listings. It
// implements negotiation.ProfileLookup and negotiation.ListingLookup.
type DirectoryRepository struct {
	pool *pgxpool.Pool
}

func NewDirectoryRepository(pool *pgxpool.Pool) *DirectoryRepository {
	return &DirectoryRepository{pool: pool}
}

func (r *DirectoryRepository) DisplayNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	out := make(map[uuid.UUID]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, display_name
		FROM profiles
		WHERE id = ANY($1::uuid[])
	`, idStrings(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = name
	}
	return out, rows.Err()
}

func (r *DirectoryRepository) Listings(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*negotiation.Listing, error) {
	out := make(map[uuid.UUID]*negotiation.Listing, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, COALESCE(image_url, ''), COALESCE(unit, '')
		FROM crops
		WHERE id = ANY($1::uuid[])
	`, idStrings(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l negotiation.Listing
		if err := rows.Scan(&l.ID, &l.Name, &l.Image, &l.Unit); err != nil {
			return nil, err
		}
		out[l.ID] = &l
	}
	return out, rows.Err()
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
