// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

// Package indexer embeds imported books in the background. Each book's
// chapters are chunked, embedded into the vector store, summarized every
// few locations and finally indexed for keyword search.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/WhiteHades/mereader/internal/apperr"
	"github.com/WhiteHades/mereader/internal/bm25"
	"github.com/WhiteHades/mereader/internal/content"
	"github.com/WhiteHades/mereader/internal/events"
	"github.com/WhiteHades/mereader/internal/location"
	"github.com/WhiteHades/mereader/internal/metrics"
	"github.com/WhiteHades/mereader/internal/ollama"
	"github.com/WhiteHades/mereader/internal/store"
	"github.com/WhiteHades/mereader/internal/vector"
)

// minChapterBytes is the size below which a chapter file holds no prose.
const minChapterBytes = 50

// LLM is the part of the Ollama client the indexer needs.
type LLM interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Generate(ctx context.Context, prompt string, opts ollama.GenerateOptions) (string, error)
}

// Books reads the library rows of a book.
type Books interface {
	GetBook(ctx context.Context, id string) (*store.Book, error)
	Chapters(ctx context.Context, bookID string) ([]store.Chapter, error)
}

// Options tune chunking and summaries.
type Options struct {
	ChunkSize       int
	ChunkOverlap    int
	MinChunkSize    int
	BatchSize       int
	SummaryInterval int
	QueueSize       int
}

func (o *Options) defaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 400
	}
	if o.ChunkOverlap < 0 {
		o.ChunkOverlap = 0
	}
	if o.MinChunkSize <= 0 {
		o.MinChunkSize = 100
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 120
	}
	if o.SummaryInterval <= 0 {
		o.SummaryInterval = 11
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 128
	}
}

// Deps are the services an Indexer writes through.
type Deps struct {
	Books   Books
	LLM     LLM
	Vectors *vector.Store
	BM25    *bm25.Cache
	Events  *events.Hub
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Indexer runs a single background worker over a queue of book ids.
type Indexer struct {
	Deps
	opts Options
	log  *zap.Logger

	queue chan string

	mu     sync.Mutex
	status map[string]*Status

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns an idle Indexer. Call Start to process the queue.
func New(d Deps, opts Options) *Indexer {
	opts.defaults()
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if d.Events == nil {
		d.Events = events.NewHub()
	}
	return &Indexer{
		Deps:   d,
		opts:   opts,
		log:    log.Named("indexer"),
		queue:  make(chan string, opts.QueueSize),
		status: make(map[string]*Status),
	}
}

// Start launches the worker. It stops when ctx is done or Stop is called.
func (ix *Indexer) Start(ctx context.Context) {
	ctx, ix.cancel = context.WithCancel(ctx)
	ix.wg.Add(1)
	go ix.loop(ctx)
	ix.log.Info("indexer started")
}

// Stop cancels the running book, if any, and waits for the worker to exit.
// The partially written index of a cancelled book is removed.
func (ix *Indexer) Stop() {
	if ix.cancel == nil {
		return
	}
	ix.cancel()
	ix.wg.Wait()
	ix.log.Info("indexer stopped")
}

func (ix *Indexer) loop(ctx context.Context) {
	defer ix.wg.Done()
	defer ix.abandon()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-ix.queue:
			if _, err := ix.run(ctx, id); err != nil && ctx.Err() == nil {
				ix.log.Error("failed to embed book content", zap.String("book", id), zap.Error(err))
			}
		}
	}
}

// abandon drops the books still waiting when the worker exits so that Busy
// reports idle once Stop returns.
func (ix *Indexer) abandon() {
drain:
	for {
		select {
		case <-ix.queue:
		default:
			break drain
		}
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, st := range ix.status {
		if st.State == StateQueued || st.State == StateRunning {
			st.State = StateNone
			st.Error = ""
		}
	}
}

// Enqueue schedules bookID for indexing. A book already waiting or running
// is not queued twice.
func (ix *Indexer) Enqueue(bookID string) error {
	ix.mu.Lock()
	if st, ok := ix.status[bookID]; ok && (st.State == StateQueued || st.State == StateRunning) {
		ix.mu.Unlock()
		return nil
	}
	ix.status[bookID] = &Status{BookID: bookID, State: StateQueued}
	ix.mu.Unlock()

	select {
	case ix.queue <- bookID:
		ix.log.Debug("queued book", zap.String("book", bookID))
		return nil
	default:
		ix.setStatus(bookID, func(s *Status) { s.State = StateFailed; s.Error = "indexing queue is full" })
		return apperr.Unavailable(nil, "indexing queue is full")
	}
}

// Reindex drops the book's vectors and keyword index and queues it again.
func (ix *Indexer) Reindex(bookID string) error {
	if err := ix.Forget(bookID); err != nil {
		return err
	}
	return ix.Enqueue(bookID)
}

// Forget removes every index artifact of a book.
func (ix *Indexer) Forget(bookID string) error {
	ix.mu.Lock()
	delete(ix.status, bookID)
	ix.mu.Unlock()
	var errs []error
	if err := ix.Vectors.DeleteBook(bookID); err != nil {
		errs = append(errs, err)
	}
	if ix.BM25 != nil {
		if err := ix.BM25.Delete(bookID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IndexBook indexes one book synchronously and returns the number of chunks
// embedded. A book that already has vectors is skipped.
func (ix *Indexer) IndexBook(ctx context.Context, bookID string) (int, error) {
	ix.setStatus(bookID, func(s *Status) { s.State = StateQueued })
	return ix.run(ctx, bookID)
}

func (ix *Indexer) run(ctx context.Context, bookID string) (int, error) {
	if ix.Vectors.HasBook(bookID) {
		ix.log.Info("embeddings already exist, skipping", zap.String("book", bookID))
		ix.setStatus(bookID, func(s *Status) { s.State = StateCompleted })
		return 0, nil
	}

	start := time.Now()
	ix.setStatus(bookID, func(s *Status) {
		s.State = StateRunning
		s.Error = ""
		s.Chunks = 0
		s.StartedAt = start
	})
	ix.Events.Emit(events.IndexStarted, bookID, nil)

	n, err := ix.embedBook(ctx, bookID)
	ix.Metrics.Indexed(time.Since(start), err)
	if err != nil {
		if cerr := ix.Forget(bookID); cerr != nil {
			ix.log.Warn("cleanup after failed indexing", zap.String("book", bookID), zap.Error(cerr))
		}
		if ctx.Err() != nil {
			ix.setStatus(bookID, func(s *Status) { s.State = StateNone })
			ix.log.Info("indexing cancelled", zap.String("book", bookID))
			return 0, ctx.Err()
		}
		ix.setStatus(bookID, func(s *Status) { s.State = StateFailed; s.Error = err.Error() })
		ix.Events.Emit(events.IndexFailed, bookID, map[string]any{"error": err.Error()})
		return 0, apperr.Wrap(apperr.KindOf(err), err, "Failed to embed book content")
	}

	ix.setStatus(bookID, func(s *Status) { s.State = StateCompleted; s.Chunks = n })
	ix.Events.Emit(events.IndexCompleted, bookID, map[string]any{"chunks": n})
	ix.log.Info("completed embedding", zap.String("book", bookID), zap.Int("chunks", n),
		zap.Duration("took", time.Since(start)))
	return n, nil
}

// summaryState carries prose forward between chapters until a summary is due.
type summaryState struct {
	buf  strings.Builder
	last int
}

func (ix *Indexer) embedBook(ctx context.Context, bookID string) (int, error) {
	book, err := ix.Books.GetBook(ctx, bookID)
	if err != nil {
		return 0, err
	}
	if book.ContentPath == "" {
		return 0, apperr.Invalid("Content directory not found for book %s", bookID)
	}
	chapters, err := ix.Books.Chapters(ctx, bookID)
	if err != nil {
		return 0, err
	}
	if len(chapters) == 0 {
		return 0, apperr.Invalid("No chapters found for book %s", bookID)
	}

	total := book.TotalLocations
	if total <= 0 {
		total = 100
	}

	var (
		entries []bm25.Entry
		sum     summaryState
		count   int
	)
	for _, ch := range chapters {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		text, ok := ix.chapterText(ch)
		if !ok {
			continue
		}
		chunks := content.Chunk(text, ix.opts.ChunkSize, ix.opts.ChunkOverlap, ix.opts.MinChunkSize)
		for _, batch := range content.Batch(chunks, ix.opts.BatchSize) {
			points, err := ix.embedBatch(ctx, book, ch, batch, total, &sum)
			if err != nil {
				return 0, err
			}
			for _, p := range points {
				entries = append(entries, bm25.Entry{
					Text:                 p.Payload.Text,
					ChapterID:            p.Payload.ChapterID,
					ChapterTitle:         p.Payload.ChapterTitle,
					ChapterOrder:         p.Payload.ChapterOrder,
					Location:             p.Payload.Location,
					CompletionPercentage: p.Payload.CompletionPercentage,
				})
			}
			count += len(points)
			ix.Metrics.Embedded(len(points))
			ix.setStatus(bookID, func(s *Status) { s.Chunks = count })
			ix.Events.Emit(events.IndexProgress, bookID, map[string]any{
				"chapter": ch.Title,
				"chunks":  count,
			})
		}
	}

	if len(entries) > 0 && ix.BM25 != nil {
		if err := ix.BM25.Save(bookID, entries); err != nil {
			return 0, err
		}
	}
	return count, nil
}

// chapterText reads and flattens a chapter file. Missing, unreadable and
// near-empty files are skipped.
func (ix *Indexer) chapterText(ch store.Chapter) (string, bool) {
	fi, err := os.Stat(ch.ContentPath)
	if err != nil {
		ix.log.Warn("chapter content not found", zap.String("chapter", ch.ID), zap.Error(err))
		return "", false
	}
	if fi.Size() < minChapterBytes {
		ix.log.Info("skipping empty chapter", zap.String("chapter", ch.Title), zap.Int64("bytes", fi.Size()))
		return "", false
	}
	raw, err := os.ReadFile(ch.ContentPath)
	if err != nil {
		ix.log.Warn("chapter content unreadable", zap.String("chapter", ch.ID), zap.Error(err))
		return "", false
	}
	ix.log.Debug("processing chapter", zap.String("chapter", ch.Title), zap.Int("order", ch.Order))
	return content.ExtractText(string(raw)), true
}

// chunkLocation spreads the i-th of n chunks evenly across the chapter.
func chunkLocation(ch store.Chapter, i, n int) int {
	segment := float64(ch.EndLocation-ch.StartLocation) / float64(n+1)
	loc := int(float64(ch.StartLocation) + segment*float64(i+1))
	return max(ch.StartLocation, min(ch.EndLocation, loc))
}

func (ix *Indexer) embedBatch(ctx context.Context, book *store.Book, ch store.Chapter, batch []string, total int, sum *summaryState) ([]vector.Point, error) {
	points := make([]vector.Point, len(batch))
	for i, text := range batch {
		loc := chunkLocation(ch, i, len(batch))

		sum.buf.WriteString(text)
		sum.buf.WriteByte(' ')
		if loc-sum.last >= ix.opts.SummaryInterval {
			ix.summarize(ctx, book.ID, loc, sum.buf.String(), ch.Title, total)
			sum.last = loc
			sum.buf.Reset()
		}

		points[i] = vector.Point{
			ID: uuid.NewString(),
			Payload: vector.Payload{
				BookID:               book.ID,
				ChapterID:            ch.ID,
				ChapterTitle:         ch.Title,
				ChapterOrder:         ch.Order,
				Location:             loc,
				CompletionPercentage: location.Percentage(loc, total),
				Text:                 text,
				ContentType:          vector.TypeContent,
			},
		}
	}

	vecs, err := ix.LLM.EmbedBatch(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(points) {
		return nil, apperr.Internal(nil, "embedding count mismatch: got %d, want %d", len(vecs), len(points))
	}
	for i := range points {
		points[i].Vector = vecs[i]
	}
	if err := ix.Vectors.Upsert(points); err != nil {
		return nil, err
	}
	return points, nil
}

// summaryID is stable per book and location so a rerun overwrites.
func summaryID(bookID string, loc int) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(fmt.Sprintf("%s_sum_%d", bookID, loc))).String()
}

func summaryPrompt(text string, loc int) string {
	return fmt.Sprintf("summarize this text segment (location %d) in 3 sentences highlighting key plot points, "+
		"character developments, and important information. keep it concise:\n\n%s...", loc, truncate(text, 2000))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// summarize stores a short summary of the prose read since the last one.
// Failures are logged and otherwise ignored.
func (ix *Indexer) summarize(ctx context.Context, bookID string, loc int, text, chapterTitle string, total int) {
	if strings.TrimSpace(text) == "" {
		return
	}
	var (
		summary string
		vec     []float32
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		summary, err = ix.LLM.Generate(gctx, summaryPrompt(text, loc), ollama.GenerateOptions{Temperature: 0.3, MaxTokens: 150})
		return err
	})
	g.Go(func() (err error) {
		vec, err = ix.LLM.Embed(gctx, truncate(text, 2000))
		return err
	})
	if err := g.Wait(); err != nil {
		ix.log.Warn("failed to create location summary", zap.Int("location", loc), zap.Error(err))
		return
	}
	if strings.TrimSpace(summary) == "" {
		return
	}
	err := ix.Vectors.Upsert([]vector.Point{{
		ID:     summaryID(bookID, loc),
		Vector: vec,
		Payload: vector.Payload{
			BookID:               bookID,
			ChapterTitle:         chapterTitle,
			Location:             loc,
			CompletionPercentage: location.Percentage(loc, total),
			Text:                 summary,
			ContentType:          vector.TypeSummary,
		},
	}})
	if err != nil {
		ix.log.Warn("failed to store location summary", zap.Int("location", loc), zap.Error(err))
		return
	}
	ix.log.Debug("created summary", zap.Int("location", loc))
}
