package classify

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/franz/ordb/internal/report"
	"github.com/franz/ordb/internal/util"
)

// Unknown is the category for unclassified or low-confidence images
const Unknown = "unknown"

// BatchClassifier labels a batch of images
type BatchClassifier interface {
	ClassifyBatch(ctx context.Context, paths []string) ([]Result, error)
}

// Label is the category assigned to one image
type Label struct {
	Category   string
	Confidence *float64 // nil when the service gave no answer
}

// Classifier splits images into batches and labels them with bounded
// concurrency. A failed batch degrades to Unknown instead of failing.
type Classifier struct {
	client      BatchClassifier
	batchSize   int
	threshold   float64
	concurrency int
	logger      *report.EventLogger
}

// ClassifierConfig holds classifier configuration
type ClassifierConfig struct {
	Client      BatchClassifier
	BatchSize   int
	Threshold   float64
	Concurrency int
	Logger      *report.EventLogger
}

// NewClassifier creates a classifier
func NewClassifier(cfg *ClassifierConfig) *Classifier {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Classifier{
		client:      cfg.Client,
		batchSize:   cfg.BatchSize,
		threshold:   cfg.Threshold,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
	}
}

// Stats counts batch outcomes of one ClassifyAll call
type Stats struct {
	Batches       int
	FailedBatches int
}

// ClassifyAll labels every path. Every input path is present in the result.
// The only error returned is cancellation of ctx.
func (c *Classifier) ClassifyAll(ctx context.Context, paths []string) (map[string]Label, Stats, error) {
	labels := make(map[string]Label, len(paths))
	var stats Stats
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for start := 0; start < len(paths); start += c.batchSize {
		end := start + c.batchSize
		if end > len(paths) {
			end = len(paths)
		}
		batch := paths[start:end]
		index := start / c.batchSize

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			results, err := c.client.ClassifyBatch(gctx, batch)

			mu.Lock()
			defer mu.Unlock()
			stats.Batches++

			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				stats.FailedBatches++
				c.logger.LogClassify(index, len(batch), err)
				util.WarnLog("Classification batch of %d images failed, falling back to %q: %v", len(batch), Unknown, err)
				for _, p := range batch {
					labels[p] = Label{Category: Unknown}
				}
				return nil
			}

			c.logger.LogClassify(index, len(batch), nil)
			for _, r := range results {
				labels[r.Path] = c.normalize(r)
			}
			for _, p := range batch {
				if _, ok := labels[p]; !ok {
					labels[p] = Label{Category: Unknown}
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, stats, err
	}
	return labels, stats, nil
}

// normalize applies the confidence threshold, keeping the reported confidence
func (c *Classifier) normalize(r Result) Label {
	conf := r.Confidence
	if r.Category == "" || conf < c.threshold {
		return Label{Category: Unknown, Confidence: &conf}
	}
	return Label{Category: r.Category, Confidence: &conf}
}
