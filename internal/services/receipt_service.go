// Package services – ReceiptService
//
// This file implements duplicate-receipt detection over text extracted from
// receipt photos. Each candidate is embedded and compared against the stored
// corpus by cosine similarity; texts scoring at or above the threshold are
// reported as likely duplicates. Only novel receipts join the corpus, so one
// receipt resubmitted many times keeps matching its single original row.
// Embedding and corpus failures degrade to a "unique" verdict: a missed
// duplicate is acceptable, a blocked pipeline is not.
package services

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/oferrer/wa-gateway/internal/embeddings"
	"github.com/oferrer/wa-gateway/internal/repo"
)

// ReceiptMatch is one stored receipt that scored above the threshold.
type ReceiptMatch struct {
	Text  string
	Score float64
}

// ReceiptCheck is the verdict of one duplicate check.
type ReceiptCheck struct {
	// Skipped means the extracted text was too short to compare reliably.
	Skipped bool
	// Duplicate means at least one stored receipt scored at or above the
	// threshold.
	Duplicate bool
	// Matches holds the top-scoring candidates, strongest first.
	Matches []ReceiptMatch
}

// ReceiptService checks receipt text against the stored corpus.
type ReceiptService struct {
	DB       *gorm.DB
	Embedder embeddings.Embedder

	// Threshold is the minimum cosine similarity to count as a duplicate.
	Threshold float64
	// TopK bounds how many matches are reported.
	TopK int
	// MinTextLen is the minimum rune count worth comparing; shorter
	// extractions skip the check entirely.
	MinTextLen int
}

// CheckAndStore embeds text, compares it against every stored receipt, and
// appends it to the corpus when no stored receipt matched. Texts shorter than
// MinTextLen skip the check entirely, since near-empty extractions match
// everything. The returned error is always nil for embedding, search, and
// storage failures; those degrade to a unique verdict with a warning log.
func (s *ReceiptService) CheckAndStore(ctx context.Context, text string) (*ReceiptCheck, error) {
	tr := otel.Tracer("services/ReceiptService")
	ctx, span := tr.Start(ctx, "CheckAndStore",
		trace.WithAttributes(attribute.Int("text.len", utf8.RuneCountInString(text))),
	)
	defer span.End()

	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < s.MinTextLen {
		receiptChecksTotal.WithLabelValues("skipped").Inc()
		return &ReceiptCheck{Skipped: true}, nil
	}

	vec, err := s.Embedder.Embed(ctx, text)
	if err != nil {
		log.Warn().Err(err).Msg("receipt embedding failed, treating as unique")
		receiptChecksTotal.WithLabelValues("degraded").Inc()
		return &ReceiptCheck{}, nil
	}

	rows, vectors, err := repo.ListEmbeddings(ctx, s.DB)
	if err != nil {
		log.Warn().Err(err).Msg("receipt corpus load failed, treating as unique")
		receiptChecksTotal.WithLabelValues("degraded").Inc()
		return &ReceiptCheck{}, nil
	}

	matches := make([]ReceiptMatch, 0, len(rows))
	for i := range rows {
		if score := embeddings.Cosine(vec, vectors[i]); score >= s.Threshold {
			matches = append(matches, ReceiptMatch{Text: rows[i].Text, Score: score})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if s.TopK > 0 && len(matches) > s.TopK {
		matches = matches[:s.TopK]
	}

	if len(matches) == 0 {
		if _, err := repo.StoreEmbedding(ctx, s.DB, text, vec); err != nil {
			// The verdict stands; only future checks lose this receipt.
			log.Warn().Err(err).Msg("receipt embedding store failed")
		}
	}

	check := &ReceiptCheck{Duplicate: len(matches) > 0, Matches: matches}
	if check.Duplicate {
		receiptChecksTotal.WithLabelValues("duplicate").Inc()
	} else {
		receiptChecksTotal.WithLabelValues("unique").Inc()
	}
	span.SetAttributes(attribute.Bool("receipt.duplicate", check.Duplicate))
	return check, nil
}
