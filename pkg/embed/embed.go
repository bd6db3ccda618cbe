// Package embed generates vector embeddings for cleaned papers and stores
// them as one parquet file per partition. The embedding model itself is an
// external collaborator behind the Embedder interface; the package makes no
// guarantee about vector values, only about which texts are embedded and
// how the results are laid out.
package embed

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/scholarpipe/scholarpipe/pkg/models"
)

// Embedder produces a vector for one text unit.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddedPaper holds the vectors for one paper: one for the abstract and
// one per body section, in section order.
type EmbeddedPaper struct {
	PaperID           string
	AbstractEmbedding []float32
	BodyEmbeddings    [][]float32
}

// ProcessPaper embeds a cleaned paper's abstract and every body section.
// Texts are lowercased before embedding, matching the model's casing
// convention.
func ProcessPaper(ctx context.Context, embedder Embedder, paper *models.CleanedPaper) (*EmbeddedPaper, error) {
	abstract, err := embedder.Embed(ctx, strings.ToLower(paper.CleanedAbstract))
	if err != nil {
		return nil, err
	}

	body := make([][]float32, 0, len(paper.CleanedBody))
	for _, section := range paper.CleanedBody {
		vec, err := embedder.Embed(ctx, strings.ToLower(section.Text))
		if err != nil {
			return nil, err
		}
		body = append(body, vec)
	}

	return &EmbeddedPaper{
		PaperID:           paper.PaperID,
		AbstractEmbedding: abstract,
		BodyEmbeddings:    body,
	}, nil
}

// HashEmbedder is a deterministic offline embedder for smoke tests and
// format validation. Vectors are FNV token hashes folded into a fixed
// dimension; they carry no semantic meaning.
type HashEmbedder struct {
	Dim int
}

// Embed implements Embedder.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	dim := h.Dim
	if dim <= 0 {
		dim = 64
	}

	vec := make([]float32, dim)
	for _, token := range strings.Fields(text) {
		hash := fnv.New64a()
		hash.Write([]byte(token))
		sum := hash.Sum64()

		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[sum%uint64(dim)] += sign
	}
	return vec, nil
}
