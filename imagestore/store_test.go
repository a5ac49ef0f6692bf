package imagestore

import (
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yanxingchangan/llonebot/db"
	"github.com/yanxingchangan/llonebot/db/models"
)

func testStore(t *testing.T, threshold float64) *Store {
	t.Helper()
	cfg := db.DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "images.sqlite")
	gdb, err := db.Open(cfg)
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	return NewStore(gdb, threshold)
}

func seedFingerprint(t *testing.T, s *Store, owner, fp string, at time.Time) uint {
	t.Helper()
	rec := models.ImageRecord{OwnerID: owner, Payload: "c2VlZA==", Fingerprint: fp, InsertedAt: at}
	if err := s.gdb.Create(&rec).Error; err != nil {
		t.Fatalf("seed record error = %v", err)
	}
	return rec.ID
}

func flipBits(fp string, n int) string {
	b := []byte(fp)
	for i := 0; i < n; i++ {
		if b[i] == '0' {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
	}
	return string(b)
}

func TestInsertRejectsDuplicate(t *testing.T) {
	t.Parallel()

	s := testStore(t, 0.9)
	payload := halfToneImage(t)

	ok, err := s.Insert("1001", payload)
	if err != nil || !ok {
		t.Fatalf("Insert() first = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = s.Insert("2002", payload)
	if err != nil || ok {
		t.Fatalf("Insert() duplicate = (%v, %v), want (false, nil)", ok, err)
	}

	n, err := s.Count()
	if err != nil || n != 1 {
		t.Fatalf("Count() = (%d, %v), want (1, nil)", n, err)
	}
}

func TestInsertAdmitsDistantImage(t *testing.T) {
	t.Parallel()

	s := testStore(t, 0.9)
	// Flat white and half-tone fingerprints differ in 32 of 64 bits, far
	// beyond the 6-bit cutoff at threshold 0.9.
	if ok, err := s.Insert("1001", flatImage(t, 255)); err != nil || !ok {
		t.Fatalf("Insert(flat) = (%v, %v), want (true, nil)", ok, err)
	}
	if ok, err := s.Insert("1001", halfToneImage(t)); err != nil || !ok {
		t.Fatalf("Insert(half-tone) = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestSimilarityCutoffBoundary(t *testing.T) {
	t.Parallel()

	s := testStore(t, 0.9)
	base := strings.Repeat("10", 32)
	seedFingerprint(t, s, "1001", base, time.Now().UTC())

	// floor(64 * (1 - 0.9)) = 6: six flipped bits is still a duplicate,
	// seven is admitted.
	exists, err := s.similarExists(flipBits(base, 6), MaxDistance(0.9))
	if err != nil || !exists {
		t.Fatalf("similarExists(6 bits) = (%v, %v), want (true, nil)", exists, err)
	}
	exists, err = s.similarExists(flipBits(base, 7), MaxDistance(0.9))
	if err != nil || exists {
		t.Fatalf("similarExists(7 bits) = (%v, %v), want (false, nil)", exists, err)
	}
}

func TestFindSimilarRankingAndThreshold(t *testing.T) {
	t.Parallel()

	s := testStore(t, 0.9)
	payload := halfToneImage(t)
	base := Fingerprint(payload)
	now := time.Now().UTC()

	exactID := seedFingerprint(t, s, "owner-exact", base, now)
	closeID := seedFingerprint(t, s, "owner-close", flipBits(base, 3), now)
	seedFingerprint(t, s, "owner-far", flipBits(base, 40), now)

	matches, err := s.FindSimilar(payload, 0)
	if err != nil {
		t.Fatalf("FindSimilar() error = %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("FindSimilar() len = %d, want 2", len(matches))
	}
	if matches[0].ID != exactID || matches[1].ID != closeID {
		t.Fatalf("FindSimilar() order = [%d, %d], want [%d, %d]", matches[0].ID, matches[1].ID, exactID, closeID)
	}
	if matches[0].Similarity != 1 {
		t.Fatalf("FindSimilar() top similarity = %v, want 1", matches[0].Similarity)
	}
	for _, m := range matches {
		if m.Similarity < 0.9 {
			t.Fatalf("FindSimilar() returned similarity %v below threshold", m.Similarity)
		}
	}
}

func TestFindSimilarTiesKeepInsertionOrder(t *testing.T) {
	t.Parallel()

	s := testStore(t, 0.9)
	payload := halfToneImage(t)
	base := Fingerprint(payload)
	now := time.Now().UTC()

	firstID := seedFingerprint(t, s, "first", flipBits(base, 2), now)
	secondID := seedFingerprint(t, s, "second", flipBits(base, 2), now)

	matches, err := s.FindSimilar(payload, 0)
	if err != nil {
		t.Fatalf("FindSimilar() error = %v", err)
	}
	if len(matches) != 2 || matches[0].ID != firstID || matches[1].ID != secondID {
		t.Fatalf("FindSimilar() ties = %+v, want insertion order [%d, %d]", matches, firstID, secondID)
	}
}

func TestListByOwnerMostRecentFirst(t *testing.T) {
	t.Parallel()

	s := testStore(t, 0.9)
	base := time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)

	seedFingerprint(t, s, "1001", strings.Repeat("0", 64), base)
	newest := seedFingerprint(t, s, "1001", strings.Repeat("1", 64), base.Add(2*time.Hour))
	seedFingerprint(t, s, "1001", strings.Repeat("10", 32), base.Add(time.Hour))
	seedFingerprint(t, s, "2002", strings.Repeat("01", 32), base.Add(3*time.Hour))

	rows, err := s.ListByOwner("1001")
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("ListByOwner() len = %d, want 3", len(rows))
	}
	if rows[0].ID != newest {
		t.Fatalf("ListByOwner()[0].ID = %d, want newest %d", rows[0].ID, newest)
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].InsertedAt.After(rows[i-1].InsertedAt) {
			t.Fatalf("ListByOwner() not ordered most recent first")
		}
	}
}

func TestRandomEmptyStore(t *testing.T) {
	t.Parallel()

	s := testStore(t, 0.9)
	payload, ok, err := s.Random()
	if err != nil || ok || payload != nil {
		t.Fatalf("Random() on empty store = (%v, %v, %v), want (nil, false, nil)", payload, ok, err)
	}
}

func TestRandomReturnsStoredPayload(t *testing.T) {
	t.Parallel()

	s := testStore(t, 0.9)
	payload := halfToneImage(t)
	if ok, err := s.Insert("1001", payload); err != nil || !ok {
		t.Fatalf("Insert() = (%v, %v), want (true, nil)", ok, err)
	}

	got, ok, err := s.Random()
	if err != nil || !ok {
		t.Fatalf("Random() = (_, %v, %v), want (_, true, nil)", ok, err)
	}
	if string(got) != string(payload) {
		t.Fatalf("Random() payload does not round-trip")
	}
}

func TestConcurrentInsertRace(t *testing.T) {
	t.Parallel()

	s := testStore(t, 0.9)
	payload := halfToneImage(t)

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Insert("1001", payload)
			if err != nil {
				t.Errorf("Insert() error = %v", err)
				return
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	admitted := 0
	for ok := range results {
		if ok {
			admitted++
		}
	}
	if admitted != 1 {
		t.Fatalf("concurrent Insert() admitted %d, want exactly 1", admitted)
	}
	n, err := s.Count()
	if err != nil || n != 1 {
		t.Fatalf("Count() = (%d, %v), want (1, nil)", n, err)
	}
}
