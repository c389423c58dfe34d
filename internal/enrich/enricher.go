// Package enrich derives category, date and tags for primary records and
// assigns each one its destination path.
package enrich

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/text/language"

	"github.com/franz/ordb/internal/classify"
	"github.com/franz/ordb/internal/meta"
	"github.com/franz/ordb/internal/project"
	"github.com/franz/ordb/internal/report"
	"github.com/franz/ordb/internal/store"
	"github.com/franz/ordb/internal/util"
)

// Categories assigned without the classification service
const (
	CategoryVideos = "Videos"
	CategoryMusic  = "Music"
	CategoryOther  = "Other"
)

// MetadataExtractor reads dates and music tags from files
type MetadataExtractor interface {
	ExtractDate(path string) meta.DateInfo
	ExtractMusicTags(path string) meta.MusicInfo
}

// ImageClassifier labels images by path
type ImageClassifier interface {
	ClassifyAll(ctx context.Context, paths []string) (map[string]classify.Label, classify.Stats, error)
}

// Enricher projects PRIMARY records that have no destination yet
type Enricher struct {
	store      *store.Store
	extractor  MetadataExtractor
	classifier ImageClassifier
	language   language.Tag
	logger     *report.EventLogger
}

// Config holds enricher configuration
type Config struct {
	Store     *store.Store
	Extractor MetadataExtractor

	// Classifier may be nil, in which case every image is unknown
	Classifier ImageClassifier

	Language language.Tag
	Logger   *report.EventLogger
}

// New creates an Enricher
func New(cfg *Config) *Enricher {
	if cfg.Extractor == nil {
		cfg.Extractor = meta.New()
	}
	return &Enricher{
		store:      cfg.Store,
		extractor:  cfg.Extractor,
		classifier: cfg.Classifier,
		language:   cfg.Language,
		logger:     cfg.Logger,
	}
}

// Result summarizes an enrichment pass
type Result struct {
	Projected     int
	Images        int
	Videos        int
	Audio         int
	Other         int
	Collisions    int // paths that needed a hash suffix
	Stale         int // records that moved on before their update landed
	FailedBatches int
}

// Enrich assigns a destination under destRoot to every PRIMARY record that
// lacks one. Destinations already persisted are never recomputed; they seed
// the collision table so new paths cannot take them.
func (e *Enricher) Enrich(ctx context.Context, destRoot string) (*Result, error) {
	result := &Result{}

	files, err := e.store.GetPrimariesWithoutDest(ctx)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		util.InfoLog("Nothing to enrich")
		return result, nil
	}

	claims, err := e.store.GetPathClaims(ctx)
	if err != nil {
		return nil, err
	}
	table := project.NewCollisionTable()
	for _, c := range claims {
		table.Claim(c.DestPath, c.ContentHash)
	}
	util.DebugLog("Collision table seeded with %d existing destinations", table.Len())

	labels, err := e.classifyImages(ctx, files, result)
	if err != nil {
		return result, err
	}

	util.InfoLog("Projecting %d files into %s", len(files), destRoot)

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		enrichment, in := e.describe(f, labels, result)
		in.Root = destRoot
		in.Language = e.language

		dest := project.Project(in, table)
		if dest != project.Naive(in) {
			result.Collisions++
		}
		enrichment.DestPath = dest

		if err := e.store.SetEnrichment(ctx, f.ID, enrichment); err != nil {
			if errors.Is(err, store.ErrStaleTransition) {
				result.Stale++
				util.DebugLog("Skipping %s: %v", f.SourcePath, err)
				continue
			}
			return result, fmt.Errorf("failed to enrich %s: %w", f.SourcePath, err)
		}

		result.Projected++
		e.logger.LogProject(f.ID, f.SourcePath, dest, enrichment.Category)
		util.DebugLog("%s -> %s", f.SourcePath, dest)
	}

	util.SuccessLog("Enrichment complete: %d projected (%d images, %d videos, %d audio, %d other, %d renamed)",
		result.Projected, result.Images, result.Videos, result.Audio, result.Other, result.Collisions)

	return result, nil
}

func (e *Enricher) classifyImages(ctx context.Context, files []*store.File, result *Result) (map[string]classify.Label, error) {
	var images []string
	for _, f := range files {
		if project.KindOf(f.MimeType) == project.KindImage {
			images = append(images, f.SourcePath)
		}
	}
	if len(images) == 0 || e.classifier == nil {
		return nil, nil
	}

	util.InfoLog("Classifying %d images", len(images))
	labels, stats, err := e.classifier.ClassifyAll(ctx, images)
	result.FailedBatches = stats.FailedBatches
	if err != nil {
		return nil, err
	}
	if stats.FailedBatches > 0 {
		util.WarnLog("%d of %d classification batches failed", stats.FailedBatches, stats.Batches)
	}
	return labels, nil
}

// describe derives the enrichment attributes and the projection input of one record
func (e *Enricher) describe(f *store.File, labels map[string]classify.Label, result *Result) (store.Enrichment, project.Input) {
	var enrichment store.Enrichment
	in := project.Input{
		SourcePath:  f.SourcePath,
		MimeType:    f.MimeType,
		ContentHash: f.ContentHash,
	}

	switch project.KindOf(f.MimeType) {
	case project.KindImage:
		result.Images++
		label, ok := labels[f.SourcePath]
		if !ok {
			label = classify.Label{Category: classify.Unknown}
		}
		enrichment.Category = label.Category
		enrichment.Confidence = label.Confidence
		date := e.extractor.ExtractDate(f.SourcePath)
		enrichment.DateSource, enrichment.DateValue = date.Source, date.Value

	case project.KindVideo:
		result.Videos++
		enrichment.Category = CategoryVideos
		date := e.extractor.ExtractDate(f.SourcePath)
		enrichment.DateSource, enrichment.DateValue = date.Source, date.Value

	case project.KindAudio:
		result.Audio++
		enrichment.Category = CategoryMusic
		tags := e.extractor.ExtractMusicTags(f.SourcePath)
		enrichment.Artist, enrichment.Album = tags.Artist, tags.Album
		// An unknown artist collapses the tree; an unknown album is a folder
		if tags.Artist != meta.UnknownTag {
			in.Artist = tags.Artist
		}
		in.Album = tags.Album

	default:
		result.Other++
		enrichment.Category = CategoryOther
	}

	in.Category = enrichment.Category
	in.DateSource = enrichment.DateSource
	in.DateValue = enrichment.DateValue
	return enrichment, in
}
