package models

import (
	"time"
)

// Person is a cast or crew credit attached to a catalog item.
type Person struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
	Type string `json:"type"` // Actor, Director, Writer, ...
}

// MDBListScores holds the aggregated rating payload stored per item.
type MDBListScores struct {
	IMDB       *float64 `json:"imdb,omitempty"`
	Metacritic *float64 `json:"metacritic,omitempty"`
	Tomatoes   *float64 `json:"tomatoes,omitempty"`
	Audience   *float64 `json:"audience,omitempty"`
	Trakt      *float64 `json:"trakt,omitempty"`
}

// StreamingProvider is one availability entry from the enrichment provider.
type StreamingProvider struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Series is a top-level catalog item mirrored from the media server.
//
// ID is the provider item id. It is not stable across provider
// reinstalls; reconciliation falls back to (normalized name, year) and
// repoints the existing row instead of inserting a duplicate.
type Series struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	NormalizedName  string     `json:"normalizedName"`
	ProductionYear  int        `json:"productionYear"`
	Overview        string     `json:"overview,omitempty"`
	Genres          []string   `json:"genres,omitempty"`
	OfficialRating  string     `json:"officialRating,omitempty"`
	CommunityRating float64    `json:"communityRating,omitempty"`
	People          []Person   `json:"people,omitempty"`
	IMDBID          string     `json:"imdbId,omitempty"`
	TMDBID          string     `json:"tmdbId,omitempty"`
	TVDBID          string     `json:"tvdbId,omitempty"`
	PosterURL       string     `json:"posterUrl,omitempty"`
	BackdropURL     string     `json:"backdropUrl,omitempty"`
	DateCreated     *time.Time `json:"dateCreated,omitempty"`

	// Enrichment fields. MDBListEnrichedAt nil means not yet enriched.
	MDBListEnrichedAt  *time.Time          `json:"mdblistEnrichedAt,omitempty"`
	MDBListScores      *MDBListScores      `json:"mdblistScores,omitempty"`
	Keywords           []string            `json:"keywords,omitempty"`
	StreamingProviders []StreamingProvider `json:"streamingProviders,omitempty"`
}

// NaturalKey returns the fallback identity used when the provider item
// id changed. Collisions (two works sharing title and year) are a known
// approximation of this scheme.
func (s Series) NaturalKey() string {
	return NaturalKey(s.NormalizedName, s.ProductionYear)
}

// Movie mirrors a movie catalog item. Same identity rules as Series.
type Movie struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	NormalizedName  string     `json:"normalizedName"`
	ProductionYear  int        `json:"productionYear"`
	Overview        string     `json:"overview,omitempty"`
	Genres          []string   `json:"genres,omitempty"`
	OfficialRating  string     `json:"officialRating,omitempty"`
	CommunityRating float64    `json:"communityRating,omitempty"`
	RuntimeMinutes  int        `json:"runtimeMinutes,omitempty"`
	People          []Person   `json:"people,omitempty"`
	IMDBID          string     `json:"imdbId,omitempty"`
	TMDBID          string     `json:"tmdbId,omitempty"`
	TVDBID          string     `json:"tvdbId,omitempty"`
	PosterURL       string     `json:"posterUrl,omitempty"`
	BackdropURL     string     `json:"backdropUrl,omitempty"`
	DateCreated     *time.Time `json:"dateCreated,omitempty"`

	MDBListEnrichedAt  *time.Time          `json:"mdblistEnrichedAt,omitempty"`
	MDBListScores      *MDBListScores      `json:"mdblistScores,omitempty"`
	Keywords           []string            `json:"keywords,omitempty"`
	StreamingProviders []StreamingProvider `json:"streamingProviders,omitempty"`
}

func (m Movie) NaturalKey() string {
	return NaturalKey(m.NormalizedName, m.ProductionYear)
}

// Episode is owned by a Series. Identity falls back to
// (seriesID, season, episode), which the store enforces as unique.
type Episode struct {
	ID              string     `json:"id"`
	SeriesID        string     `json:"seriesId"`
	Name            string     `json:"name"`
	SeasonNumber    int        `json:"seasonNumber"`
	EpisodeNumber   int        `json:"episodeNumber"`
	Overview        string     `json:"overview,omitempty"`
	CommunityRating float64    `json:"communityRating,omitempty"`
	RuntimeMinutes  int        `json:"runtimeMinutes,omitempty"`
	PremiereDate    *time.Time `json:"premiereDate,omitempty"`
	PosterURL       string     `json:"posterUrl,omitempty"`
}

// NaturalKey identifies an episode by position under its series.
func (e Episode) NaturalKey() string {
	return EpisodeNaturalKey(e.SeriesID, e.SeasonNumber, e.EpisodeNumber)
}
