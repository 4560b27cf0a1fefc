// Package model defines the core record types shared across the pipeline.
package model

import "time"

// Award is one government award record as produced by ingestion.
// Enrichment never mutates an Award; it only attaches metadata alongside it.
type Award struct {
	ID               string  `json:"id"`
	PeriodID         string  `json:"period_id"`
	AgencyCode       string  `json:"agency_code"`
	UEI              string  `json:"uei,omitempty"`
	AwardNumber      string  `json:"award_number,omitempty"`
	RecipientName    string  `json:"recipient_name,omitempty"`
	RecipientAddress string  `json:"recipient_address,omitempty"`
	AmountUSD        float64 `json:"amount_usd,omitempty"`
}

// EnrichmentStatus is the terminal outcome of one enrichment attempt.
type EnrichmentStatus string

const (
	// StatusEnriched means metadata was attached, from cache or a live call.
	StatusEnriched EnrichmentStatus = "enriched"
	// StatusFailed means the lookup was attempted and did not produce metadata.
	StatusFailed EnrichmentStatus = "enrichment_failed"
	// StatusNotAttempted means no source or key could be derived for the record.
	StatusNotAttempted EnrichmentStatus = "not_attempted"
)

// EnrichedAward wraps an Award with the outcome of an enrichment attempt.
// It is recomputed on every attempt and never persisted; only the underlying
// ExternalMetadata is cached.
type EnrichedAward struct {
	Award           Award            `json:"award"`
	Status          EnrichmentStatus `json:"status"`
	Description     string           `json:"description,omitempty"`
	Keywords        []string         `json:"keywords,omitempty"`
	Source          string           `json:"source,omitempty"`
	RetrievedAt     *time.Time       `json:"retrieved_at,omitempty"`
	FailureReason   string           `json:"failure_reason,omitempty"`
	MatchConfidence float64          `json:"match_confidence,omitempty"`
	MatchLevel      string           `json:"match_level,omitempty"`
}

// ExternalMetadata is one record fetched from an external source, keyed by
// (Source, Key). Last write wins; there is at most one live value per key.
type ExternalMetadata struct {
	Source      string    `json:"source"`
	Key         string    `json:"key"`
	Description string    `json:"description"`
	Keywords    []string  `json:"keywords"`
	OrgName     string    `json:"org_name,omitempty"`
	RetrievedAt time.Time `json:"retrieved_at"`
}
