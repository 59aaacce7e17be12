package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"

	"evalcollab/config/database"
	"evalcollab/pkg/logger"
)

// OwnerRepository reads assessment ownership from the assessments table the
// surrounding application maintains.
type OwnerRepository struct {
	DB *sql.DB
}

func NewOwnerRepository(db *sql.DB) *OwnerRepository {
	return &OwnerRepository{DB: db}
}

// OwnerID returns "" with no error when the assessment does not exist.
func (r *OwnerRepository) OwnerID(ctx context.Context, assessmentID string) (string, error) {
	var ownerID string
	err := r.DB.QueryRowContext(ctx, "SELECT owner_id FROM assessments WHERE id = $1", assessmentID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get owner ID for assessment %s: %v", assessmentID, err)
		return "", database.Classify("get owner", err)
	}
	return ownerID, nil
}

// MemoryOwners is a fixed ownership table for single-node runs and tests.
type MemoryOwners struct {
	mu     sync.RWMutex
	owners map[string]string
}

func NewMemoryOwners() *MemoryOwners {
	return &MemoryOwners{owners: make(map[string]string)}
}

// ParseMemoryOwners builds a table from "assessmentID=userID" pairs.
// Malformed pairs are skipped with a warning.
func ParseMemoryOwners(pairs []string) *MemoryOwners {
	m := NewMemoryOwners()
	for _, p := range pairs {
		assessmentID, userID, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || assessmentID == "" || userID == "" {
			logger.Sugar.Warnf("Ignoring malformed owner pair %q", p)
			continue
		}
		m.Set(assessmentID, userID)
	}
	return m
}

func (m *MemoryOwners) Set(assessmentID, ownerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[assessmentID] = ownerID
}

func (m *MemoryOwners) OwnerID(_ context.Context, assessmentID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.owners[assessmentID], nil
}
