package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scholarpipe/scholarpipe/pkg/models"
	"github.com/scholarpipe/scholarpipe/pkg/piperrors"
)

func testPapers(n int) []*models.RawPaper {
	papers := make([]*models.RawPaper, n)
	for i := range papers {
		papers[i] = &models.RawPaper{PaperID: fmt.Sprintf("p%03d", i)}
	}
	return papers
}

func feed(papers []*models.RawPaper) <-chan *models.RawPaper {
	ch := make(chan *models.RawPaper)
	go func() {
		defer close(ch)
		for _, p := range papers {
			ch <- p
		}
	}()
	return ch
}

func identityTransform(paper *models.RawPaper) (*models.CleanedPaper, error) {
	return &models.CleanedPaper{PaperID: paper.PaperID}, nil
}

func calmGovernor() *MemoryGovernor {
	return NewMemoryGovernor(85.0, zap.NewNop(), WithSampler(func() (float64, error) {
		return 10.0, nil
	}))
}

func TestDispatcher_PreservesInputOrder(t *testing.T) {
	// Output order must match input order for every combination of pool
	// shape, including batch sizes that do not divide the input evenly.
	for _, workers := range []int{1, 2, 4, 8} {
		for _, batchSize := range []int{1, 3, 7, 64} {
			name := fmt.Sprintf("workers=%d batch=%d", workers, batchSize)
			t.Run(name, func(t *testing.T) {
				papers := testPapers(25)
				d := NewChunkedDispatcher(identityTransform, calmGovernor(),
					Controls{Workers: workers, BatchSize: batchSize}, "test", zap.NewNop())

				var got []string
				err := d.Run(context.Background(), feed(papers), func(c *models.CleanedPaper) error {
					got = append(got, c.PaperID)
					return nil
				})
				require.NoError(t, err)

				require.Len(t, got, len(papers))
				for i, p := range papers {
					assert.Equal(t, p.PaperID, got[i])
				}
			})
		}
	}
}

func TestDispatcher_EmptyStream(t *testing.T) {
	d := NewChunkedDispatcher(identityTransform, calmGovernor(),
		Controls{Workers: 4, BatchSize: 8}, "test", zap.NewNop())

	calls := 0
	err := d.Run(context.Background(), feed(nil), func(*models.CleanedPaper) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestDispatcher_WorkerErrorAbortsBatch(t *testing.T) {
	papers := testPapers(5)
	transform := func(paper *models.RawPaper) (*models.CleanedPaper, error) {
		if paper.PaperID == "p002" {
			return nil, errors.New("poisoned document")
		}
		return identityTransform(paper)
	}

	d := NewChunkedDispatcher(transform, calmGovernor(),
		Controls{Workers: 2, BatchSize: 5}, "test", zap.NewNop())

	emitted := 0
	err := d.Run(context.Background(), feed(papers), func(*models.CleanedPaper) error {
		emitted++
		return nil
	})
	require.Error(t, err)
	assert.True(t, piperrors.IsType(err, piperrors.ErrorTypeWorker))
	assert.Contains(t, err.Error(), "p002")

	// The failing batch emits nothing.
	assert.Zero(t, emitted)
}

func TestDispatcher_EarlierBatchesSurviveLaterFailure(t *testing.T) {
	papers := testPapers(6)
	transform := func(paper *models.RawPaper) (*models.CleanedPaper, error) {
		if paper.PaperID == "p004" {
			return nil, errors.New("poisoned document")
		}
		return identityTransform(paper)
	}

	d := NewChunkedDispatcher(transform, calmGovernor(),
		Controls{Workers: 2, BatchSize: 2}, "test", zap.NewNop())

	var got []string
	err := d.Run(context.Background(), feed(papers), func(c *models.CleanedPaper) error {
		got = append(got, c.PaperID)
		return nil
	})
	require.Error(t, err)

	// Batches before the failing one were fully emitted, in order.
	assert.Equal(t, []string{"p000", "p001", "p002", "p003"}, got)
}

func TestDispatcher_PanicContained(t *testing.T) {
	transform := func(paper *models.RawPaper) (*models.CleanedPaper, error) {
		if paper.PaperID == "p001" {
			panic("malformed body")
		}
		return identityTransform(paper)
	}

	d := NewChunkedDispatcher(transform, calmGovernor(),
		Controls{Workers: 4, BatchSize: 4}, "test", zap.NewNop())

	err := d.Run(context.Background(), feed(testPapers(4)), func(*models.CleanedPaper) error {
		return nil
	})
	require.Error(t, err)
	assert.True(t, piperrors.IsType(err, piperrors.ErrorTypeWorker))
	assert.Contains(t, err.Error(), "malformed body")
}

func TestDispatcher_GovernorShrinksControls(t *testing.T) {
	// Constant pressure: every sampled record degrades the shape until it
	// bottoms out at one worker, one document per batch.
	hot := NewMemoryGovernor(85.0, zap.NewNop(), WithSampler(func() (float64, error) {
		return 95.0, nil
	}))

	d := NewChunkedDispatcher(identityTransform, hot,
		Controls{Workers: 8, BatchSize: 16}, "test", zap.NewNop())

	err := d.Run(context.Background(), feed(testPapers(40)), func(*models.CleanedPaper) error {
		return nil
	})
	require.NoError(t, err)

	controls := d.Controls()
	assert.Equal(t, 1, controls.Workers)
	assert.Equal(t, 1, controls.BatchSize)
}

func TestDispatcher_EmitErrorStopsRun(t *testing.T) {
	d := NewChunkedDispatcher(identityTransform, calmGovernor(),
		Controls{Workers: 2, BatchSize: 4}, "test", zap.NewNop())

	sinkErr := errors.New("disk full")
	emitted := 0
	err := d.Run(context.Background(), feed(testPapers(12)), func(*models.CleanedPaper) error {
		emitted++
		if emitted == 3 {
			return sinkErr
		}
		return nil
	})
	require.ErrorIs(t, err, sinkErr)
	assert.Equal(t, 3, emitted)
}

func TestDispatcher_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	records := make(chan *models.RawPaper)
	go func() {
		records <- &models.RawPaper{PaperID: "p0"}
		cancel()
	}()

	d := NewChunkedDispatcher(identityTransform, calmGovernor(),
		Controls{Workers: 2, BatchSize: 8}, "test", zap.NewNop())

	err := d.Run(ctx, records, func(*models.CleanedPaper) error {
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDispatcher_ConcurrencyBounded(t *testing.T) {
	var inFlight, peak atomic.Int32
	transform := func(paper *models.RawPaper) (*models.CleanedPaper, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		defer inFlight.Add(-1)
		return identityTransform(paper)
	}

	d := NewChunkedDispatcher(transform, calmGovernor(),
		Controls{Workers: 3, BatchSize: 30}, "test", zap.NewNop())

	err := d.Run(context.Background(), feed(testPapers(90)), func(*models.CleanedPaper) error {
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}
