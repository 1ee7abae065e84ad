package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mediamirror/models"
)

// Identifiers is the set of identities already known to the store for
// one entity type: provider ids plus the natural-key fallback map
// (natural key -> current provider id).
type Identifiers struct {
	IDs     map[string]struct{}
	Natural map[string]string
}

// NewIdentifiers returns an empty identifier set.
func NewIdentifiers() *Identifiers {
	return &Identifiers{IDs: make(map[string]struct{}), Natural: make(map[string]string)}
}

// Known reports whether the provider id exists in the store.
func (ids *Identifiers) Known(id string) bool {
	_, ok := ids.IDs[id]
	return ok
}

// Register records a newly inserted identity so later batches in the
// same run resolve it as existing.
func (ids *Identifiers) Register(id, naturalKey string) {
	ids.IDs[id] = struct{}{}
	if naturalKey != "" {
		ids.Natural[naturalKey] = id
	}
}

// Repoint moves a natural key to a new provider id after an in-place
// primary key update.
func (ids *Identifiers) Repoint(oldID, newID, naturalKey string) {
	delete(ids.IDs, oldID)
	ids.IDs[newID] = struct{}{}
	if naturalKey != "" {
		ids.Natural[naturalKey] = newID
	}
}

func (db *DB) loadIdentifiers(ctx context.Context, table string) (*Identifiers, error) {
	rows, err := db.pool.Query(ctx, fmt.Sprintf(
		`SELECT id, normalized_name, production_year FROM %s`, table))
	if err != nil {
		return nil, fmt.Errorf("load %s identifiers: %w", table, err)
	}
	defer rows.Close()

	ids := NewIdentifiers()
	for rows.Next() {
		var (
			id   string
			name string
			year int
		)
		if err := rows.Scan(&id, &name, &year); err != nil {
			return nil, fmt.Errorf("scan %s identifier: %w", table, err)
		}
		ids.IDs[id] = struct{}{}
		ids.Natural[models.NaturalKey(name, year)] = id
	}
	return ids, rows.Err()
}

// LoadSeriesIdentifiers returns all known series identities.
func (db *DB) LoadSeriesIdentifiers(ctx context.Context) (*Identifiers, error) {
	return db.loadIdentifiers(ctx, "series")
}

// LoadMovieIdentifiers returns all known movie identities.
func (db *DB) LoadMovieIdentifiers(ctx context.Context) (*Identifiers, error) {
	return db.loadIdentifiers(ctx, "movies")
}

// LoadEpisodeIdentifiers returns known episode ids plus the
// (series, season, episode) natural-key map.
func (db *DB) LoadEpisodeIdentifiers(ctx context.Context) (*Identifiers, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, series_id, season_number, episode_number FROM episodes`)
	if err != nil {
		return nil, fmt.Errorf("load episode identifiers: %w", err)
	}
	defer rows.Close()

	ids := NewIdentifiers()
	for rows.Next() {
		var (
			id       string
			seriesID string
			season   int
			episode  int
		)
		if err := rows.Scan(&id, &seriesID, &season, &episode); err != nil {
			return nil, fmt.Errorf("scan episode identifier: %w", err)
		}
		ids.IDs[id] = struct{}{}
		ids.Natural[models.EpisodeNaturalKey(seriesID, season, episode)] = id
	}
	return ids, rows.Err()
}

// catalogCols is the column-oriented form of a series or movie batch.
// Array and object fields travel as JSON text per row and are expanded
// back into native form inside the statement; flattening []string rows
// straight into an array parameter would collapse a batch whose rows
// have different array lengths.
type catalogCols struct {
	ids         []string
	names       []string
	normalized  []string
	years       []int32
	overviews   []string
	genres      []string
	ratings     []string
	community   []float64
	runtimes    []int32
	people      []string
	imdbIDs     []string
	tmdbIDs     []string
	tvdbIDs     []string
	posters     []string
	backdrops   []string
	dateCreated []*time.Time
}

type catalogRow struct {
	id              string
	name            string
	normalizedName  string
	productionYear  int
	overview        string
	genres          []string
	officialRating  string
	communityRating float64
	runtimeMinutes  int
	people          []models.Person
	imdbID          string
	tmdbID          string
	tvdbID          string
	posterURL       string
	backdropURL     string
	dateCreated     *time.Time
}

func seriesRow(s models.Series) catalogRow {
	return catalogRow{
		id: s.ID, name: s.Name, normalizedName: s.NormalizedName,
		productionYear: s.ProductionYear, overview: s.Overview,
		genres: s.Genres, officialRating: s.OfficialRating,
		communityRating: s.CommunityRating, people: s.People,
		imdbID: s.IMDBID, tmdbID: s.TMDBID, tvdbID: s.TVDBID,
		posterURL: s.PosterURL, backdropURL: s.BackdropURL,
		dateCreated: s.DateCreated,
	}
}

func movieRow(m models.Movie) catalogRow {
	return catalogRow{
		id: m.ID, name: m.Name, normalizedName: m.NormalizedName,
		productionYear: m.ProductionYear, overview: m.Overview,
		genres: m.Genres, officialRating: m.OfficialRating,
		communityRating: m.CommunityRating, runtimeMinutes: m.RuntimeMinutes,
		people: m.People, imdbID: m.IMDBID, tmdbID: m.TMDBID, tvdbID: m.TVDBID,
		posterURL: m.PosterURL, backdropURL: m.BackdropURL,
		dateCreated: m.DateCreated,
	}
}

func buildCatalogCols(rows []catalogRow) (catalogCols, error) {
	var c catalogCols
	for _, r := range rows {
		genres, err := json.Marshal(orEmpty(r.genres))
		if err != nil {
			return c, fmt.Errorf("marshal genres for %s: %w", r.id, err)
		}
		people, err := json.Marshal(r.people)
		if err != nil {
			return c, fmt.Errorf("marshal people for %s: %w", r.id, err)
		}
		c.ids = append(c.ids, r.id)
		c.names = append(c.names, r.name)
		c.normalized = append(c.normalized, r.normalizedName)
		c.years = append(c.years, int32(r.productionYear))
		c.overviews = append(c.overviews, r.overview)
		c.genres = append(c.genres, string(genres))
		c.ratings = append(c.ratings, r.officialRating)
		c.community = append(c.community, r.communityRating)
		c.runtimes = append(c.runtimes, int32(r.runtimeMinutes))
		c.people = append(c.people, string(people))
		c.imdbIDs = append(c.imdbIDs, r.imdbID)
		c.tmdbIDs = append(c.tmdbIDs, r.tmdbID)
		c.tvdbIDs = append(c.tvdbIDs, r.tvdbID)
		c.posters = append(c.posters, r.posterURL)
		c.backdrops = append(c.backdrops, r.backdropURL)
		c.dateCreated = append(c.dateCreated, r.dateCreated)
	}
	return c, nil
}

func (c catalogCols) args() []any {
	return []any{
		c.ids, c.names, c.normalized, c.years, c.overviews,
		c.genres, c.ratings, c.community, c.runtimes, c.people,
		c.imdbIDs, c.tmdbIDs, c.tvdbIDs, c.posters, c.backdrops,
		c.dateCreated,
	}
}

// catalogUnnest aliases the 16 column arrays shared by series and
// movie statements. $17 is reserved for the old-id array in repoints.
const catalogUnnest = `unnest(
	$1::text[], $2::text[], $3::text[], $4::int[], $5::text[],
	$6::text[], $7::text[], $8::numeric[], $9::int[], $10::text[],
	$11::text[], $12::text[], $13::text[], $14::text[], $15::text[],
	$16::timestamptz[]
) AS t(id, name, normalized_name, production_year, overview,
       genres, official_rating, community_rating, runtime_minutes, people,
       imdb_id, tmdb_id, tvdb_id, poster_url, backdrop_url,
       date_created)`

const genresExpand = `(SELECT coalesce(array_agg(g.value), '{}'::text[])
	FROM jsonb_array_elements_text(t.genres::jsonb) AS g(value))`

func insertCatalogSQL(table string, withRuntime bool) string {
	runtimeCol, runtimeVal := "", ""
	if withRuntime {
		runtimeCol = "runtime_minutes,"
		runtimeVal = "t.runtime_minutes,"
	}
	return fmt.Sprintf(`
		INSERT INTO %s (id, name, normalized_name, production_year, overview,
		                genres, official_rating, community_rating, %s people,
		                imdb_id, tmdb_id, tvdb_id, poster_url, backdrop_url, date_created)
		SELECT t.id, t.name, t.normalized_name, t.production_year, t.overview,
		       %s, t.official_rating, NULLIF(t.community_rating, 0), %s
		       NULLIF(t.people, 'null')::jsonb,
		       t.imdb_id, t.tmdb_id, t.tvdb_id, t.poster_url, t.backdrop_url, t.date_created
		FROM %s`, table, runtimeCol, genresExpand, runtimeVal, catalogUnnest)
}

func updateCatalogSet(withRuntime bool) string {
	runtime := ""
	if withRuntime {
		runtime = "runtime_minutes = t.runtime_minutes,"
	}
	return fmt.Sprintf(`
			name = t.name,
			normalized_name = t.normalized_name,
			production_year = t.production_year,
			overview = t.overview,
			genres = %s,
			official_rating = t.official_rating,
			community_rating = NULLIF(t.community_rating, 0),
			%s
			people = NULLIF(t.people, 'null')::jsonb,
			imdb_id = t.imdb_id,
			tmdb_id = t.tmdb_id,
			tvdb_id = t.tvdb_id,
			poster_url = t.poster_url,
			backdrop_url = t.backdrop_url,
			date_created = t.date_created,
			updated_at = now()`, genresExpand, runtime)
}

func (db *DB) insertCatalog(ctx context.Context, table string, withRuntime bool, rows []catalogRow) error {
	if len(rows) == 0 {
		return nil
	}
	c, err := buildCatalogCols(rows)
	if err != nil {
		return err
	}
	if _, err := db.pool.Exec(ctx, insertCatalogSQL(table, withRuntime), c.args()...); err != nil {
		return fmt.Errorf("bulk insert %s: %w", table, err)
	}
	return nil
}

func (db *DB) updateCatalogByID(ctx context.Context, table string, withRuntime bool, rows []catalogRow) error {
	if len(rows) == 0 {
		return nil
	}
	c, err := buildCatalogCols(rows)
	if err != nil {
		return err
	}
	sql := fmt.Sprintf(`UPDATE %s s SET %s FROM %s WHERE s.id = t.id`,
		table, updateCatalogSet(withRuntime), catalogUnnest)
	if _, err := db.pool.Exec(ctx, sql, c.args()...); err != nil {
		return fmt.Errorf("bulk update %s: %w", table, err)
	}
	return nil
}

// repointCatalog matches rows by their previously stored id (oldIDs[i]
// pairs with rows[i]), rewrites the primary key to the new provider id,
// and refreshes all metadata and poster fields in the same statement.
func (db *DB) repointCatalog(ctx context.Context, table string, withRuntime bool, oldIDs []string, rows []catalogRow) error {
	if len(rows) == 0 {
		return nil
	}
	if len(oldIDs) != len(rows) {
		return fmt.Errorf("repoint %s: %d old ids for %d rows", table, len(oldIDs), len(rows))
	}
	c, err := buildCatalogCols(rows)
	if err != nil {
		return err
	}
	repointUnnest := `unnest(
		$1::text[], $2::text[], $3::text[], $4::int[], $5::text[],
		$6::text[], $7::text[], $8::numeric[], $9::int[], $10::text[],
		$11::text[], $12::text[], $13::text[], $14::text[], $15::text[],
		$16::timestamptz[], $17::text[]
	) AS t(id, name, normalized_name, production_year, overview,
	       genres, official_rating, community_rating, runtime_minutes, people,
	       imdb_id, tmdb_id, tvdb_id, poster_url, backdrop_url,
	       date_created, old_id)`
	sql := fmt.Sprintf(`UPDATE %s s SET id = t.id, %s FROM %s WHERE s.id = t.old_id`,
		table, updateCatalogSet(withRuntime), repointUnnest)
	args := append(c.args(), oldIDs)
	if _, err := db.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("bulk repoint %s: %w", table, err)
	}
	return nil
}

// InsertSeries adds a batch of new series in one set-based statement.
func (db *DB) InsertSeries(ctx context.Context, batch []models.Series) error {
	return db.insertCatalog(ctx, "series", false, mapRows(batch, seriesRow))
}

// UpdateSeriesByID refreshes metadata for series matched by provider id.
func (db *DB) UpdateSeriesByID(ctx context.Context, batch []models.Series) error {
	return db.updateCatalogByID(ctx, "series", false, mapRows(batch, seriesRow))
}

// RepointSeries rewrites provider ids for series matched by natural
// key. Episode foreign keys follow via ON UPDATE CASCADE.
func (db *DB) RepointSeries(ctx context.Context, oldIDs []string, batch []models.Series) error {
	return db.repointCatalog(ctx, "series", false, oldIDs, mapRows(batch, seriesRow))
}

// InsertMovies adds a batch of new movies in one set-based statement.
func (db *DB) InsertMovies(ctx context.Context, batch []models.Movie) error {
	return db.insertCatalog(ctx, "movies", true, mapRows(batch, movieRow))
}

// UpdateMoviesByID refreshes metadata for movies matched by provider id.
func (db *DB) UpdateMoviesByID(ctx context.Context, batch []models.Movie) error {
	return db.updateCatalogByID(ctx, "movies", true, mapRows(batch, movieRow))
}

// RepointMovies rewrites provider ids for movies matched by natural key.
func (db *DB) RepointMovies(ctx context.Context, oldIDs []string, batch []models.Movie) error {
	return db.repointCatalog(ctx, "movies", true, oldIDs, mapRows(batch, movieRow))
}

func mapRows[T any](batch []T, f func(T) catalogRow) []catalogRow {
	rows := make([]catalogRow, len(batch))
	for i, b := range batch {
		rows[i] = f(b)
	}
	return rows
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
