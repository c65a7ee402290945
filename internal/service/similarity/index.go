package similarity

import (
	"sync"

	"github.com/gradeflow/eval-service/internal/models"
)

// Index is the shared inverted fingerprint index: hash to the set of
// submissions sharing it, one shard per assignment corpus. Shards are
// immutable once published; Add builds a replacement shard and swaps it in
// under a short write lock, so similarity lookups keep reading the
// pre-insert snapshot and are never blocked by an insert
// (last-writer-visible-after-commit).
type Index struct {
	mu      sync.RWMutex
	writeMu sync.Mutex // serializes shard rebuilds; readers only contend on the swap
	shards  map[string]*shard
}

type shard struct {
	postings     map[uint64][]string
	fingerprints map[string]*models.Fingerprint
}

func NewIndex() *Index {
	return &Index{
		shards: make(map[string]*shard),
	}
}

// Add publishes a submission's fingerprint into its assignment corpus. A
// fingerprint already present for the submission is superseded, which is
// how resubmission invalidates the old one.
func (ix *Index) Add(fp *models.Fingerprint) {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	ix.mu.RLock()
	old := ix.shards[fp.AssignmentID]
	ix.mu.RUnlock()

	next := &shard{
		postings:     make(map[uint64][]string),
		fingerprints: make(map[string]*models.Fingerprint),
	}
	if old != nil {
		for id, f := range old.fingerprints {
			if id != fp.SubmissionID {
				next.fingerprints[id] = f
			}
		}
	}
	next.fingerprints[fp.SubmissionID] = fp
	for id, f := range next.fingerprints {
		for h := range f.Hashes {
			next.postings[h] = append(next.postings[h], id)
		}
	}

	ix.mu.Lock()
	ix.shards[fp.AssignmentID] = next
	ix.mu.Unlock()
}

// Load rebuilds an assignment shard from persisted fingerprints in one
// pass, used to warm the index at startup.
func (ix *Index) Load(assignmentID string, fps []*models.Fingerprint) {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	next := &shard{
		postings:     make(map[uint64][]string),
		fingerprints: make(map[string]*models.Fingerprint),
	}
	for _, fp := range fps {
		next.fingerprints[fp.SubmissionID] = fp
	}
	for id, f := range next.fingerprints {
		for h := range f.Hashes {
			next.postings[h] = append(next.postings[h], id)
		}
	}

	ix.mu.Lock()
	ix.shards[assignmentID] = next
	ix.mu.Unlock()
}

// Remove drops a submission from its corpus (cancelled or superseded work).
func (ix *Index) Remove(assignmentID, submissionID string) {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	ix.mu.RLock()
	old := ix.shards[assignmentID]
	ix.mu.RUnlock()
	if old == nil {
		return
	}
	if _, ok := old.fingerprints[submissionID]; !ok {
		return
	}

	next := &shard{
		postings:     make(map[uint64][]string),
		fingerprints: make(map[string]*models.Fingerprint),
	}
	for id, f := range old.fingerprints {
		if id == submissionID {
			continue
		}
		next.fingerprints[id] = f
		for h := range f.Hashes {
			next.postings[h] = append(next.postings[h], id)
		}
	}

	ix.mu.Lock()
	ix.shards[assignmentID] = next
	ix.mu.Unlock()
}

// Candidates returns, per submission sharing at least one hash with the
// target, the count of shared hashes. The target itself is excluded.
func (ix *Index) Candidates(assignmentID string, fp *models.Fingerprint) map[string]int {
	ix.mu.RLock()
	s := ix.shards[assignmentID]
	ix.mu.RUnlock()
	if s == nil {
		return nil
	}

	shared := make(map[string]int)
	for h := range fp.Hashes {
		for _, id := range s.postings[h] {
			if id == fp.SubmissionID {
				continue
			}
			shared[id]++
		}
	}
	return shared
}

// Fingerprint returns the indexed fingerprint of a corpus member.
func (ix *Index) Fingerprint(assignmentID, submissionID string) (*models.Fingerprint, bool) {
	ix.mu.RLock()
	s := ix.shards[assignmentID]
	ix.mu.RUnlock()
	if s == nil {
		return nil, false
	}
	fp, ok := s.fingerprints[submissionID]
	return fp, ok
}

// Size reports how many submissions an assignment corpus holds.
func (ix *Index) Size(assignmentID string) int {
	ix.mu.RLock()
	s := ix.shards[assignmentID]
	ix.mu.RUnlock()
	if s == nil {
		return 0
	}
	return len(s.fingerprints)
}
