// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for receipt
// embeddings. Vectors are stored JSON-encoded; similarity scoring happens
// in the service layer, which keeps this repo a plain row store.
package repo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/oferrer/wa-gateway/internal/domain"
)

// StoreEmbedding inserts a new receipt embedding row.
func StoreEmbedding(ctx context.Context, db *gorm.DB, text string, vector []float32) (*domain.ReceiptEmbedding, error) {
	raw, err := json.Marshal(vector)
	if err != nil {
		return nil, err
	}
	e := &domain.ReceiptEmbedding{
		ID:        uuid.NewString(),
		Text:      text,
		Vector:    raw,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(e).Error; err != nil {
		return nil, err
	}
	return e, nil
}

// ListEmbeddings returns all stored embeddings with decoded vectors.
// Rows whose vector fails to decode are skipped rather than failing the scan.
func ListEmbeddings(ctx context.Context, db *gorm.DB) ([]domain.ReceiptEmbedding, [][]float32, error) {
	var rows []domain.ReceiptEmbedding
	if err := db.WithContext(ctx).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	kept := rows[:0]
	vectors := make([][]float32, 0, len(rows))
	for _, r := range rows {
		var v []float32
		if err := json.Unmarshal(r.Vector, &v); err != nil || len(v) == 0 {
			continue
		}
		kept = append(kept, r)
		vectors = append(vectors, v)
	}
	return kept, vectors, nil
}
