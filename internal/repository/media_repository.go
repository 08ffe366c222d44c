package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/nexamediaserver/server-sub005/internal/models"
)

type MediaRepository struct {
	db *sql.DB
}

func NewMediaRepository(db *sql.DB) *MediaRepository {
	return &MediaRepository{db: db}
}

const itemColumns = `id, library_id, item_type, title, sort_title, original_title, summary,
	tagline, content_rating, release_date, year, duration_ms,
	audio_codecs, audio_languages, subtitle_languages, locked_fields,
	poster_uri, poster_placeholder, backdrop_uri, backdrop_placeholder, logo_uri, logo_placeholder,
	music, classical, episode, provider_ids, updated_at`

func scanItem(row interface{ Scan(dest ...interface{}) error }) (*models.CatalogItem, error) {
	item := &models.CatalogItem{}
	var music, classical, episode, providerIDs []byte
	var releaseDate sql.NullTime
	err := row.Scan(
		&item.ID, &item.LibraryID, &item.Type, &item.Title, &item.SortTitle, &item.OriginalTitle, &item.Summary,
		&item.Tagline, &item.ContentRating, &releaseDate, &item.Year, &item.DurationMS,
		&item.AudioCodecs, &item.AudioLanguages, &item.SubtitleLanguages, &item.LockedFields,
		&item.Poster.URI, &item.Poster.Placeholder, &item.Backdrop.URI, &item.Backdrop.Placeholder,
		&item.Logo.URI, &item.Logo.Placeholder,
		&music, &classical, &episode, &providerIDs, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if releaseDate.Valid {
		d := releaseDate.Time
		item.ReleaseDate = &d
	}
	for _, col := range []struct {
		data []byte
		dst  interface{}
	}{
		{music, &item.Music},
		{classical, &item.Classical},
		{episode, &item.Episode},
		{providerIDs, &item.ProviderIDs},
	} {
		if len(col.data) == 0 {
			continue
		}
		if err := json.Unmarshal(col.data, col.dst); err != nil {
			return nil, fmt.Errorf("decode details: %w", err)
		}
	}
	return item, nil
}

// GetCatalogItem loads an item with its media parts, genres, tags, credits
// and children.
func (r *MediaRepository) GetCatalogItem(ctx context.Context, id uuid.UUID) (*models.CatalogItem, error) {
	query := `SELECT ` + itemColumns + ` FROM catalog_items WHERE id = $1`
	item, err := scanItem(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if err := r.loadMedia(ctx, item); err != nil {
		return nil, err
	}
	if item.Genres, err = r.names(ctx, `SELECT g.name FROM item_genres ig
		JOIN genres g ON g.id = ig.genre_id WHERE ig.item_id = $1 ORDER BY ig.position`, id); err != nil {
		return nil, fmt.Errorf("load genres: %w", err)
	}
	if item.Tags, err = r.names(ctx, `SELECT t.name FROM item_tags it
		JOIN tags t ON t.id = it.tag_id WHERE it.item_id = $1 ORDER BY it.position`, id); err != nil {
		return nil, fmt.Errorf("load tags: %w", err)
	}
	if err := r.loadCredits(ctx, item); err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (r *MediaRepository) loadMedia(ctx context.Context, item *models.CatalogItem) error {
	rows, err := r.db.QueryContext(ctx, `SELECT f.id, f.container, p.id, p.file_path, p.file_size, p.position
		FROM media_files f JOIN media_parts p ON p.file_id = f.id
		WHERE f.item_id = $1 ORDER BY f.created_at, f.id, p.position`, item.ID)
	if err != nil {
		return fmt.Errorf("load media: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var fileID uuid.UUID
		var container string
		var part models.MediaPart
		if err := rows.Scan(&fileID, &container, &part.ID, &part.Path, &part.Size, &part.Position); err != nil {
			return fmt.Errorf("scan media: %w", err)
		}
		part.FileID = fileID
		if n := len(item.Media); n == 0 || item.Media[n-1].ID != fileID {
			item.Media = append(item.Media, models.MediaFile{ID: fileID, ItemID: item.ID, Container: container})
		}
		last := &item.Media[len(item.Media)-1]
		last.Parts = append(last.Parts, part)
	}
	return rows.Err()
}

func (r *MediaRepository) names(ctx context.Context, query string, id uuid.UUID) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (r *MediaRepository) loadCredits(ctx context.Context, item *models.CatalogItem) error {
	rows, err := r.db.QueryContext(ctx, `SELECT COALESCE(p.name, g.name), c.person_id, c.relation, c.role, c.thumb
		FROM item_credits c
		LEFT JOIN people p ON p.id = c.person_id
		LEFT JOIN groups g ON g.id = c.group_id
		WHERE c.item_id = $1 ORDER BY c.position`, item.ID)
	if err != nil {
		return fmt.Errorf("load credits: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c models.Credit
		var personID uuid.NullUUID
		if err := rows.Scan(&c.Name, &personID, &c.Relation, &c.Role, &c.Thumb); err != nil {
			return fmt.Errorf("scan credit: %w", err)
		}
		c.Kind = models.CreditGroup
		if personID.Valid {
			id := personID.UUID
			c.PersonID = &id
			c.Kind = models.CreditPerson
		}
		item.Credits = append(item.Credits, c)
	}
	return rows.Err()
}

func (r *MediaRepository) loadChildren(ctx context.Context, item *models.CatalogItem) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM catalog_items WHERE parent_id = $1 ORDER BY sort_title, title`, item.ID)
	if err != nil {
		return fmt.Errorf("load children: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return err
		}
		item.Children = append(item.Children, id)
	}
	return rows.Err()
}

// SaveEnrichment writes the enriched fields, taxonomy and credits of item in
// one transaction. People and groups are matched by normalized name and
// created when missing; the assigned person ids are written back to the
// item's credits.
func (r *MediaRepository) SaveEnrichment(ctx context.Context, item *models.CatalogItem) error {
	music, err := marshalDetails(item.Music)
	if err != nil {
		return err
	}
	classical, err := marshalDetails(item.Classical)
	if err != nil {
		return err
	}
	episode, err := marshalDetails(item.Episode)
	if err != nil {
		return err
	}
	providerIDs, err := marshalDetails(item.ProviderIDs)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var releaseDate interface{}
	if item.ReleaseDate != nil {
		releaseDate = *item.ReleaseDate
	}
	res, err := tx.ExecContext(ctx, `UPDATE catalog_items SET
			title = $2, sort_title = $3, original_title = $4, summary = $5, tagline = $6,
			content_rating = $7, release_date = $8, year = $9, duration_ms = $10,
			audio_codecs = $11, audio_languages = $12, subtitle_languages = $13,
			poster_uri = $14, poster_placeholder = $15, backdrop_uri = $16, backdrop_placeholder = $17,
			logo_uri = $18, logo_placeholder = $19,
			music = $20, classical = $21, episode = $22, provider_ids = $23,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`,
		item.ID, item.Title, item.SortTitle, item.OriginalTitle, item.Summary, item.Tagline,
		item.ContentRating, releaseDate, item.Year, item.DurationMS,
		stringArray(item.AudioCodecs), stringArray(item.AudioLanguages), stringArray(item.SubtitleLanguages),
		item.Poster.URI, item.Poster.Placeholder, item.Backdrop.URI, item.Backdrop.Placeholder,
		item.Logo.URI, item.Logo.Placeholder,
		music, classical, episode, providerIDs,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("item %s: %w", item.ID, ErrNotFound)
	}

	if err := replaceNames(ctx, tx, item.ID, "genres", "item_genres", "genre_id", item.Genres); err != nil {
		return fmt.Errorf("save genres: %w", err)
	}
	if err := replaceNames(ctx, tx, item.ID, "tags", "item_tags", "tag_id", item.Tags); err != nil {
		return fmt.Errorf("save tags: %w", err)
	}
	if err := saveCredits(ctx, tx, item); err != nil {
		return fmt.Errorf("save credits: %w", err)
	}
	return tx.Commit()
}

// replaceNames rewrites a join table from an ordered list of names, creating
// missing rows in the lookup table.
func replaceNames(ctx context.Context, tx *sql.Tx, itemID uuid.UUID, table, join, fk string, names []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+join+` WHERE item_id = $1`, itemID); err != nil {
		return err
	}
	for i, name := range names {
		var id uuid.UUID
		err := tx.QueryRowContext(ctx, `INSERT INTO `+table+` (id, name) VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name RETURNING id`, uuid.New(), name).Scan(&id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO `+join+` (item_id, `+fk+`, position) VALUES ($1, $2, $3)`,
			itemID, id, i); err != nil {
			return err
		}
	}
	return nil
}

func saveCredits(ctx context.Context, tx *sql.Tx, item *models.CatalogItem) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM item_credits WHERE item_id = $1`, item.ID); err != nil {
		return err
	}
	people := make(map[string]uuid.UUID)
	groups := make(map[string]uuid.UUID)
	for i := range item.Credits {
		c := &item.Credits[i]
		key := normalizeName(c.Name)
		if key == "" {
			continue
		}
		var personID, groupID interface{}
		if c.Kind == models.CreditGroup {
			id, ok := groups[key]
			if !ok {
				if err := tx.QueryRowContext(ctx, `INSERT INTO groups (id, name, normalized_name) VALUES ($1, $2, $3)
					ON CONFLICT (normalized_name) DO UPDATE SET name = groups.name RETURNING id`,
					uuid.New(), c.Name, key).Scan(&id); err != nil {
					return err
				}
				groups[key] = id
			}
			groupID = id
		} else {
			id, ok := people[key]
			if !ok {
				if err := tx.QueryRowContext(ctx, `INSERT INTO people (id, name, normalized_name, thumb) VALUES ($1, $2, $3, $4)
					ON CONFLICT (normalized_name) DO UPDATE SET thumb = COALESCE(NULLIF(people.thumb, ''), EXCLUDED.thumb)
					RETURNING id`,
					uuid.New(), c.Name, key, c.Thumb).Scan(&id); err != nil {
					return err
				}
				people[key] = id
			}
			personID = id
			pid := id
			c.PersonID = &pid
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO item_credits
			(item_id, person_id, group_id, relation, role, thumb, position) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			item.ID, personID, groupID, c.Relation, c.Role, c.Thumb, i); err != nil {
			return err
		}
	}
	return nil
}

// SavePartAnalysis records probe and loudness results for one media part.
func (r *MediaRepository) SavePartAnalysis(ctx context.Context, a models.PartAnalysis) error {
	res, err := r.db.ExecContext(ctx, `UPDATE media_parts
		SET duration_ms = $2, loudness_lufs = $3, gain_db = $4, analyzed_at = CURRENT_TIMESTAMP
		WHERE id = $1`, a.PartID, a.DurationMS, a.LoudnessLUFS, a.GainDB)
	if err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("part %s: %w", a.PartID, ErrNotFound)
	}
	return nil
}

// MarkEnriched stamps the item as refreshed, whether or not anything changed.
func (r *MediaRepository) MarkEnriched(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE catalog_items SET enriched_at = CURRENT_TIMESTAMP WHERE id = $1`, id); err != nil {
		return fmt.Errorf("mark enriched: %w", err)
	}
	return nil
}

// ListStale returns up to limit ids of top-level items never enriched or last
// enriched before cutoff, oldest first.
func (r *MediaRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM catalog_items
		WHERE parent_id IS NULL AND (enriched_at IS NULL OR enriched_at < $1)
		ORDER BY enriched_at NULLS FIRST, id
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func marshalDetails(v interface{}) ([]byte, error) {
	switch d := v.(type) {
	case *models.MusicDetails:
		if d == nil {
			return nil, nil
		}
	case *models.ClassicalDetails:
		if d == nil {
			return nil, nil
		}
	case *models.EpisodeDetails:
		if d == nil {
			return nil, nil
		}
	case map[string]string:
		if len(d) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode details: %w", err)
	}
	return data, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// stringArray keeps empty collections as '{}' rather than NULL.
func stringArray(v []string) pq.StringArray {
	if v == nil {
		return pq.StringArray{}
	}
	return pq.StringArray(v)
}
