package dataset

import (
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/Jawbreaker1/pabench/internal/job"
)

const alphabet = "ACGT"

// Generate deterministically builds the pairs described by g. The same g
// always yields the same pairs.
func Generate(g job.GeneratedDataset) ([]job.SeqPair, error) {
	if !g.ErrorModel.Valid() {
		return nil, fmt.Errorf("unknown error model %q", g.ErrorModel)
	}
	if g.Length <= 0 {
		return nil, fmt.Errorf("length must be positive, got %d", g.Length)
	}
	if g.ErrorRate < 0 || g.ErrorRate > 1 {
		return nil, fmt.Errorf("error rate must be within [0, 1], got %v", g.ErrorRate)
	}
	count := max(g.TotalSize/g.Length, 1)
	rng := rand.New(rand.NewPCG(g.Seed, uint64(g.Length)))
	pairs := make([]job.SeqPair, 0, count)
	for range count {
		pattern := randomSeq(rng, g.Length)
		text := mutate(rng, pattern, g.ErrorModel, g.ErrorRate)
		pairs = append(pairs, job.SeqPair{string(pattern), string(text)})
	}
	return pairs, nil
}

func randomSeq(rng *rand.Rand, n int) []byte {
	s := make([]byte, n)
	for i := range s {
		s[i] = alphabet[rng.IntN(len(alphabet))]
	}
	return s
}

func otherBase(rng *rand.Rand, b byte) byte {
	for {
		c := alphabet[rng.IntN(len(alphabet))]
		if c != b {
			return c
		}
	}
}

// mutate applies round(rate*len) edits. Uniform spreads substitutions,
// insertions and deletions evenly; the noisy models spend half the budget
// on a single contiguous insertion or deletion.
func mutate(rng *rand.Rand, seq []byte, model job.ErrorModel, rate float64) []byte {
	out := append([]byte{}, seq...)
	edits := int(rate*float64(len(seq)) + 0.5)
	if model != job.ErrorModelUniform && edits >= 2 {
		block := edits / 2
		edits -= block
		pos := rng.IntN(len(out) + 1)
		switch model {
		case job.ErrorModelNoisyInsert:
			insert := randomSeq(rng, block)
			out = append(out[:pos], append(insert, out[pos:]...)...)
		case job.ErrorModelNoisyDelete:
			end := min(pos+block, len(out))
			out = append(out[:pos], out[end:]...)
		}
	}
	for range edits {
		switch op := rng.IntN(3); {
		case op == 0 && len(out) > 0:
			i := rng.IntN(len(out))
			out[i] = otherBase(rng, out[i])
		case op == 1:
			i := rng.IntN(len(out) + 1)
			out = append(out[:i], append([]byte{alphabet[rng.IntN(len(alphabet))]}, out[i:]...)...)
		case len(out) > 0:
			i := rng.IntN(len(out))
			out = append(out[:i], out[i+1:]...)
		}
	}
	return out
}

// EnsureGenerated writes g's file unless it already exists and is
// non-empty. regenerate forces a rewrite and drops cached stats. It reports
// whether the file was written.
func EnsureGenerated(g job.GeneratedDataset, regenerate bool) (bool, error) {
	path := g.Path()
	if !regenerate {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			return false, nil
		}
	}
	pairs, err := Generate(g)
	if err != nil {
		return false, fmt.Errorf("generate %s: %w", path, err)
	}
	if err := WriteSeqFile(path, pairs); err != nil {
		return false, err
	}
	if err := os.Remove(StatsPath(path)); err != nil && !os.IsNotExist(err) {
		return true, fmt.Errorf("remove stale stats: %w", err)
	}
	return true, nil
}
