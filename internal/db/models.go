package db

import (
	"encoding/json"
	"time"
)

// StoredArticle maps news.stored_articles, the TTL-governed article store.
// article_id is the stable identity used by the idempotent upsert.
type StoredArticle struct {
	ArticleID        string          `gorm:"column:article_id;type:text;primaryKey"`
	Title            string          `gorm:"column:title;type:text;not null"`
	Summary          string          `gorm:"column:summary;type:text;not null"`
	SentimentLabel   string          `gorm:"column:sentiment_label;type:text;not null;default:neutral"`
	SentimentScore   float64         `gorm:"column:sentiment_score;type:double precision;not null;default:0.5"`
	UIRecommendation string          `gorm:"column:ui_recommendation;type:text;not null"`
	ImpactAnalysis   string          `gorm:"column:impact_analysis;type:text;not null"`
	Category         string          `gorm:"column:category;type:text;not null"`
	Tickers          json.RawMessage `gorm:"column:tickers;type:jsonb;not null"`
	Entities         json.RawMessage `gorm:"column:entities;type:jsonb;not null"`
	Tags             json.RawMessage `gorm:"column:tags;type:jsonb;not null"`
	PublishedAt      *time.Time      `gorm:"column:published_at;type:timestamptz"`
	Source           string          `gorm:"column:source;type:text;not null"`
	OriginalURL      string          `gorm:"column:original_url;type:text;not null"`
	BodyExcerpt      string          `gorm:"column:body_excerpt;type:text;not null"`
	Language         string          `gorm:"column:language;type:text;not null;default:und"`
	FetchedAt        *time.Time      `gorm:"column:fetched_at;type:timestamptz"`
	StoredAt         time.Time       `gorm:"column:stored_at;type:timestamptz;not null"`
	ExpiresAt        time.Time       `gorm:"column:expires_at;type:timestamptz;not null"`
}

func (StoredArticle) TableName() string { return "news.stored_articles" }

// PipelineRun maps news.pipeline_runs, one ledger row per ingestion cycle.
// Rows are written best-effort at the end of a run; a cycle with an
// unreachable store leaves no ledger row.
type PipelineRun struct {
	RunID           int64      `gorm:"column:run_id;primaryKey;autoIncrement"`
	RunUUID         string     `gorm:"column:run_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	TriggeredBy     string     `gorm:"column:triggered_by;type:text;not null;default:schedule"`
	Status          string     `gorm:"column:status;type:text;not null;default:completed"`
	Phase           string     `gorm:"column:phase;type:text;not null;default:idle"`
	ItemsFetched    int        `gorm:"column:items_fetched;type:integer;not null;default:0"`
	ItemsKept       int        `gorm:"column:items_kept;type:integer;not null;default:0"`
	ItemsUnique     int        `gorm:"column:items_unique;type:integer;not null;default:0"`
	ItemsStructured int        `gorm:"column:items_structured;type:integer;not null;default:0"`
	ItemsStored     int        `gorm:"column:items_stored;type:integer;not null;default:0"`
	ErrorMessage    *string    `gorm:"column:error_message;type:text"`
	StartedAt       time.Time  `gorm:"column:started_at;type:timestamptz;not null"`
	FinishedAt      *time.Time `gorm:"column:finished_at;type:timestamptz"`
	CreatedAt       time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (PipelineRun) TableName() string { return "news.pipeline_runs" }

// Setting maps news.settings, a key/value row for operational state such as
// the hashed admin trigger token.
type Setting struct {
	Key       string    `gorm:"column:key;type:text;primaryKey"`
	Value     string    `gorm:"column:value;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Setting) TableName() string { return "news.settings" }

func autoMigrateModels() []any {
	return []any{
		&StoredArticle{},
		&PipelineRun{},
		&Setting{},
	}
}
