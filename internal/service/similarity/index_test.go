package similarity

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradeflow/eval-service/internal/models"
)

func fpWithHashes(id, author string, hashes ...uint64) *models.Fingerprint {
	fp := &models.Fingerprint{
		SubmissionID: id,
		AssignmentID: "hw1",
		AuthorID:     author,
		TokenCount:   50,
		Hashes:       make(map[uint64][]models.Span),
	}
	for i, h := range hashes {
		fp.Hashes[h] = []models.Span{{Start: i, End: i + 6}}
	}
	return fp
}

func TestIndexCandidatesCountsSharedHashes(t *testing.T) {
	ix := NewIndex()
	ix.Add(fpWithHashes("sub-a", "alice", 1, 2, 3, 4))
	ix.Add(fpWithHashes("sub-b", "bob", 3, 4, 5))
	ix.Add(fpWithHashes("sub-c", "carol", 9, 10))

	probe := fpWithHashes("probe", "dave", 2, 3, 4)
	shared := ix.Candidates("hw1", probe)

	assert.Equal(t, 3, shared["sub-a"])
	assert.Equal(t, 2, shared["sub-b"])
	assert.NotContains(t, shared, "sub-c")
}

func TestIndexExcludesSelf(t *testing.T) {
	ix := NewIndex()
	fp := fpWithHashes("sub-a", "alice", 1, 2, 3)
	ix.Add(fp)

	shared := ix.Candidates("hw1", fp)
	assert.Empty(t, shared)
}

func TestIndexResubmissionSupersedes(t *testing.T) {
	ix := NewIndex()
	ix.Add(fpWithHashes("sub-a", "alice", 1, 2, 3))
	ix.Add(fpWithHashes("sub-a", "alice", 7, 8))

	require.Equal(t, 1, ix.Size("hw1"))

	probe := fpWithHashes("probe", "bob", 1, 2, 3)
	assert.Empty(t, ix.Candidates("hw1", probe), "old fingerprint must be gone")

	probe2 := fpWithHashes("probe2", "bob", 7)
	assert.Equal(t, 1, ix.Candidates("hw1", probe2)["sub-a"])
}

func TestIndexRemove(t *testing.T) {
	ix := NewIndex()
	ix.Add(fpWithHashes("sub-a", "alice", 1, 2))
	ix.Add(fpWithHashes("sub-b", "bob", 1, 2))

	ix.Remove("hw1", "sub-a")

	require.Equal(t, 1, ix.Size("hw1"))
	probe := fpWithHashes("probe", "carol", 1)
	shared := ix.Candidates("hw1", probe)
	assert.NotContains(t, shared, "sub-a")
	assert.Contains(t, shared, "sub-b")
}

func TestIndexLoadBulk(t *testing.T) {
	ix := NewIndex()
	ix.Load("hw1", []*models.Fingerprint{
		fpWithHashes("sub-a", "alice", 1, 2),
		fpWithHashes("sub-b", "bob", 2, 3),
	})

	assert.Equal(t, 2, ix.Size("hw1"))
	probe := fpWithHashes("probe", "carol", 2)
	shared := ix.Candidates("hw1", probe)
	assert.Len(t, shared, 2)
}

func TestIndexShardsIsolatedByAssignment(t *testing.T) {
	ix := NewIndex()
	other := fpWithHashes("sub-a", "alice", 1, 2)
	other.AssignmentID = "hw2"
	ix.Add(other)

	probe := fpWithHashes("probe", "bob", 1, 2)
	assert.Empty(t, ix.Candidates("hw1", probe))
	assert.Equal(t, 0, ix.Size("hw1"))
	assert.Equal(t, 1, ix.Size("hw2"))
}

// Inserts must never block or corrupt concurrent candidate lookups; readers
// see either the pre-insert or post-insert snapshot.
func TestIndexConcurrentReadsDuringInserts(t *testing.T) {
	ix := NewIndex()
	ix.Add(fpWithHashes("seed", "alice", 1, 2, 3))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("sub-%d-%d", w, i)
				ix.Add(fpWithHashes(id, "bob", uint64(i%7), uint64(i%11)))
			}
		}()
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			probe := fpWithHashes("probe", "carol", 1, 2, 3)
			for i := 0; i < 500; i++ {
				shared := ix.Candidates("hw1", probe)
				// the seed entry is immutable and must always be visible
				assert.GreaterOrEqual(t, shared["seed"], 1)
				_, ok := ix.Fingerprint("hw1", "seed")
				assert.True(t, ok)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1+4*200, ix.Size("hw1"))
}
