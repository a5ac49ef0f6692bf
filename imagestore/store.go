package imagestore

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gorm.io/gorm"

	"github.com/yanxingchangan/llonebot/db/models"
)

const DefaultSimilarityThreshold = 0.9

// Match is one similar-image hit, ranked by descending similarity.
type Match struct {
	ID         uint
	OwnerID    string
	Similarity float64
}

// Store is the deduplicating image store. The mutex spans the whole
// scan-then-insert sequence: two concurrent inserts of near-duplicate
// images must not both observe "no match" and both land.
type Store struct {
	mu        sync.Mutex
	gdb       *gorm.DB
	threshold float64
}

func NewStore(gdb *gorm.DB, threshold float64) *Store {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSimilarityThreshold
	}
	return &Store{gdb: gdb, threshold: threshold}
}

// Insert admits payload unless a stored fingerprint is within the
// similarity cutoff. It reports false with a nil error for a rejected
// near-duplicate; errors are persistence failures with no row written.
func (s *Store) Insert(ownerID string, payload []byte) (bool, error) {
	ownerID = strings.TrimSpace(ownerID)
	fp := Fingerprint(payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.similarExists(fp, MaxDistance(s.threshold))
	if err != nil {
		return false, fmt.Errorf("scan fingerprints: %w", err)
	}
	if exists {
		return false, nil
	}

	rec := models.ImageRecord{
		OwnerID:     ownerID,
		Payload:     base64.StdEncoding.EncodeToString(payload),
		Fingerprint: fp,
	}
	if err := s.gdb.Create(&rec).Error; err != nil {
		return false, fmt.Errorf("insert image: %w", err)
	}
	return true, nil
}

// FindSimilar returns every stored image within the similarity cutoff of
// payload, most similar first. Ties keep insertion order. A threshold of
// zero means the store default.
func (s *Store) FindSimilar(payload []byte, threshold float64) ([]Match, error) {
	if threshold <= 0 || threshold > 1 {
		threshold = s.threshold
	}
	fp := Fingerprint(payload)
	maxDist := MaxDistance(threshold)

	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []models.ImageRecord
	if err := s.gdb.Select("id", "owner_id", "fingerprint").Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("scan fingerprints: %w", err)
	}

	matches := make([]Match, 0)
	for _, row := range rows {
		dist := HammingDistance(fp, row.Fingerprint)
		if dist > maxDist {
			continue
		}
		matches = append(matches, Match{
			ID:         row.ID,
			OwnerID:    row.OwnerID,
			Similarity: 1 - float64(dist)/float64(FingerprintLength),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	return matches, nil
}

// ListByOwner returns the owner's records, most recent first.
func (s *Store) ListByOwner(ownerID string) ([]models.ImageRecord, error) {
	var rows []models.ImageRecord
	err := s.gdb.
		Where("owner_id = ?", strings.TrimSpace(ownerID)).
		Order("inserted_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list images by owner: %w", err)
	}
	return rows, nil
}

// Random picks one stored image uniformly and returns its decoded
// payload. The second return is false when the store is empty.
func (s *Store) Random() ([]byte, bool, error) {
	var rec models.ImageRecord
	err := s.gdb.Order("RANDOM()").Limit(1).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("random image: %w", err)
	}
	payload, err := base64.StdEncoding.DecodeString(rec.Payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode stored payload: %w", err)
	}
	return payload, true, nil
}

// Count reports how many images are stored.
func (s *Store) Count() (int64, error) {
	var n int64
	if err := s.gdb.Model(&models.ImageRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	return n, nil
}

// similarExists scans every stored fingerprint for one within maxDist.
// The linear scan stays behind this helper so an indexed nearest-neighbor
// structure can replace it without touching callers.
func (s *Store) similarExists(fp string, maxDist int) (bool, error) {
	var fps []string
	if err := s.gdb.Model(&models.ImageRecord{}).Order("id").Pluck("fingerprint", &fps).Error; err != nil {
		return false, err
	}
	for _, stored := range fps {
		if HammingDistance(fp, stored) <= maxDist {
			return true, nil
		}
	}
	return false, nil
}
