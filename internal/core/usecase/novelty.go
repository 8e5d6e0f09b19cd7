package usecase

import (
	"context"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

// similarityFunc returns the similarity of candidates i and j.
type similarityFunc func(i, j int) float64

// selectMMR greedily picks up to target indices maximizing
// alpha*relevance - (1-alpha)*maxSimilarity. Selection stops early once the best
// marginal score is not positive.
func selectMMR(relevance []float64, sim similarityFunc, alpha float64, target int) []int {
	if target <= 0 || target > len(relevance) {
		target = len(relevance)
	}
	selected := make([]int, 0, target)
	taken := make([]bool, len(relevance))

	for len(selected) < target {
		best := -1
		bestScore := 0.0
		for i := range relevance {
			if taken[i] {
				continue
			}
			maxSim := 0.0
			for _, j := range selected {
				if s := sim(i, j); s > maxSim {
					maxSim = s
				}
			}
			score := alpha*relevance[i] - (1-alpha)*maxSim
			if best == -1 || score > bestScore {
				best = i
				bestScore = score
			}
		}
		if best == -1 || bestScore <= 0 {
			break
		}
		taken[best] = true
		selected = append(selected, best)
	}
	return selected
}

func jaccardSimilarity(items []domain.FusedResult) similarityFunc {
	sets := make([]map[string]struct{}, len(items))
	for i, item := range items {
		sets[i] = toTokenSet(item.Content)
	}
	return func(i, j int) float64 {
		return jaccard(sets[i], sets[j])
	}
}

func cosineSimilarity(vectors [][]float32) similarityFunc {
	vecs := make([][]float64, len(vectors))
	norms := make([]float64, len(vectors))
	for i, v := range vectors {
		vecs[i] = make([]float64, len(v))
		for k, x := range v {
			vecs[i][k] = float64(x)
		}
		norms[i] = floats.Norm(vecs[i], 2)
	}
	return func(i, j int) float64 {
		if norms[i] == 0 || norms[j] == 0 || len(vecs[i]) != len(vecs[j]) {
			return 0
		}
		return floats.Dot(vecs[i], vecs[j]) / (norms[i] * norms[j])
	}
}

type noveltySimilarity struct {
	sim  similarityFunc
	mode domain.NoveltyMode
}

// similarityFor embeds candidate contents when an embedder is configured.
// Token Jaccard takes over when the embedding stage times out or fails.
func (p *ContextPacker) similarityFor(ctx context.Context, items []domain.FusedResult, timeout time.Duration) (similarityFunc, domain.NoveltyMode) {
	lexical := noveltySimilarity{sim: jaccardSimilarity(items), mode: domain.NoveltyJaccard}
	if p.embedder == nil || len(items) < 2 {
		return lexical.sim, lexical.mode
	}

	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = item.Content
	}
	embedded := func(ctx context.Context) (noveltySimilarity, error) {
		vectors, err := p.embedder.Embed(ctx, texts)
		if err == nil && len(vectors) != len(items) {
			err = domain.WrapError(domain.ErrUpstreamUnavailable, domain.StageNovelty, errVectorCountMismatch)
		}
		if err != nil {
			if ctx.Err() != nil {
				return noveltySimilarity{}, err
			}
			p.logger.Warn("novelty_embedding_failed_using_jaccard", slog.String("error", err.Error()))
			return lexical, nil
		}
		return noveltySimilarity{sim: cosineSimilarity(vectors), mode: domain.NoveltyEmbedding}, nil
	}
	jaccardOnTimeout := func(context.Context) (noveltySimilarity, error) {
		p.logger.Warn("novelty_embedding_timed_out_using_jaccard", slog.Duration("timeout", timeout))
		return lexical, nil
	}

	out, err := ExecuteWithFallback(ctx, timeout, domain.StageNovelty, embedded, jaccardOnTimeout)
	if err != nil {
		p.logger.Warn("novelty_embedding_aborted_using_jaccard", slog.String("error", err.Error()))
		return lexical.sim, lexical.mode
	}
	return out.Result.sim, out.Result.mode
}
