package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fabrica-inc/ingest-engine/pkg/apperrors"
	"github.com/fabrica-inc/ingest-engine/pkg/llm"
	"github.com/fabrica-inc/ingest-engine/pkg/models"
	"github.com/fabrica-inc/ingest-engine/pkg/ocr"
	"github.com/fabrica-inc/ingest-engine/pkg/retry"
	"github.com/fabrica-inc/ingest-engine/pkg/services/workqueue"
	"github.com/fabrica-inc/ingest-engine/pkg/similarity"
)

// quoteText carries enough quote keywords for deterministic classification.
const quoteText = "Quotation Q-442\n" +
	"Offer valid until 2026-06-01, lead time 2 weeks.\n" +
	"ACME HW: oak plywood, 40 sheets at 52.40 each."

// extractionResponse is the canned model output for the quote above.
const extractionResponse = `[
	{
		"type": "line_item",
		"title": "Oak plywood sheets",
		"vendor_name": "ACME HW",
		"material_name": "oak plywood",
		"quantity": 40,
		"unit": "sheet",
		"unit_price": 52.40,
		"confidence": 0.9,
		"source": {"page_no": 1, "quote": "40 sheets at 52.40"}
	}
]`

type pipelineFixture struct {
	pipeline PipelineService
	docs     *mockDocumentRepo
	chunks   *mockChunkRepo
	items    *mockItemRepo
	catalog  *mockCatalogRepo
	events   *mockEventRepo
	store    *mockStore
	parser   *ocr.MockParser
	llm      *llm.MockClient
	queue    *workqueue.Queue
	doc      *models.Document
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	return newPipelineFixtureWithBackoff(t, &retry.Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	})
}

func newPipelineFixtureWithBackoff(t *testing.T, backoff *retry.Config) *pipelineFixture {
	t.Helper()
	logger := zap.NewNop()

	f := &pipelineFixture{
		docs:    newMockDocumentRepo(),
		chunks:  newMockChunkRepo(),
		items:   newMockItemRepo(),
		catalog: newMockCatalogRepo(),
		events:  newMockEventRepo(),
		store:   newMockStore(),
		parser:  ocr.NewMockParser(),
		llm:     llm.NewMockClient(),
		queue:   workqueue.New(logger),
	}
	f.llm.GenerateResponseFunc = func(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error) {
		return extractionResponse, nil
	}
	f.catalog.addEntry(models.KindVendor, "ACME Hardware", "ACME HW")
	f.catalog.addEntry(models.KindMaterial, "Oak Plywood")

	classifier, err := NewClassifierService(logger)
	require.NoError(t, err)

	f.pipeline = NewPipelineService(
		f.docs, f.chunks, f.events, f.store, f.parser,
		classifier,
		NewChunkerService(f.chunks, f.llm, 2000, 4, logger),
		NewExtractorService(f.llm, logger),
		NewResolverService(f.catalog, similarity.NewTrigramScorer(), 0.85, 0.5, logger),
		NewValidatorService(f.catalog, 0.6, 5.0, 365*24*time.Hour, logger),
		NewCommitterService(f.items, 0.6, logger),
		f.queue,
		PipelineConfig{
			MaxAttempts: 3,
			Backoff:     backoff,
		},
		logger,
	)

	f.doc = f.docs.add(&models.Document{
		Filename:    "quote.pdf",
		MimeType:    "application/pdf",
		StoragePath: "ab/abcdef",
		DocType:     models.DocTypeOther,
		Status:      models.DocumentUploaded,
		CreatedAt:   time.Now(),
	})
	f.store.objects[f.doc.StoragePath] = []byte(quoteText)

	return f
}

// settle drives a document through Process the way the worker task does,
// following scheduled retries until a terminal outcome.
func (f *pipelineFixture) settle(ctx context.Context, docID uuid.UUID) error {
	for {
		err := f.pipeline.Process(ctx, docID)
		var scheduled *retryScheduledError
		if !errors.As(err, &scheduled) {
			return err
		}
		time.Sleep(scheduled.delay)
	}
}

// stageStatuses flattens a stage's event history into status strings.
func (f *pipelineFixture) stageStatuses(stage models.Stage) []models.EventStatus {
	var out []models.EventStatus
	for _, ev := range f.events.byStage(f.doc.ID, stage) {
		out = append(out, ev.Status)
	}
	return out
}

func TestPipelineService_HappyPathToCommitted(t *testing.T) {
	f := newPipelineFixture(t)

	require.NoError(t, f.pipeline.Process(context.Background(), f.doc.ID))

	doc, err := f.docs.GetByID(context.Background(), f.doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentCommitted, doc.Status)
	assert.Equal(t, models.DocTypeQuote, doc.DocType)

	// Status walked the whole machine in order.
	assert.Equal(t, []models.DocumentStatus{
		models.DocumentParsed,
		models.DocumentClassified,
		models.DocumentChunked,
		models.DocumentExtracted,
		models.DocumentValidated,
		models.DocumentCommitted,
	}, f.docs.StatusUpdates)

	// Every stage recorded start then ok.
	for _, stage := range []models.Stage{
		models.StageParse, models.StageClassify, models.StagePack,
		models.StageExtract, models.StageLink, models.StageValidate,
		models.StageStaging,
	} {
		assert.Equal(t, []models.EventStatus{models.EventStart, models.EventOK},
			f.stageStatuses(stage), "stage %s", stage)
	}
	assert.Equal(t, []models.EventStatus{models.EventOK}, f.stageStatuses(models.StageCommit))

	// The known alias resolved the vendor without teaching a new alias.
	items, err := f.items.GetByDocument(context.Background(), f.doc.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.NotNil(t, items[0].VendorID)
	assert.NotNil(t, items[0].MaterialID)
	assert.False(t, items[0].NeedsClarification)
	assert.Empty(t, f.catalog.Aliases)

	// Confident priced item fed price history.
	require.Len(t, f.items.LastPrices, 1)
	assert.Equal(t, 52.40, f.items.LastPrices[0].UnitPrice)
}

func TestPipelineService_TransientParseFailureRetries(t *testing.T) {
	f := newPipelineFixture(t)

	calls := 0
	f.parser.ParseFunc = func(ctx context.Context, content io.Reader, mimeType string) (*ocr.ParseResult, error) {
		calls++
		if calls < 3 {
			return nil, fmt.Errorf("request timeout")
		}
		return &ocr.ParseResult{Pages: []ocr.Page{{PageNo: 1, Text: quoteText}}}, nil
	}

	require.NoError(t, f.settle(context.Background(), f.doc.ID))

	doc, err := f.docs.GetByID(context.Background(), f.doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentCommitted, doc.Status)

	// Two retry events before the successful third attempt.
	assert.Equal(t, []models.EventStatus{
		models.EventStart, models.EventRetry,
		models.EventStart, models.EventRetry,
		models.EventStart, models.EventOK,
	}, f.stageStatuses(models.StageParse))
}

func TestPipelineService_ExhaustedRetriesFailDocument(t *testing.T) {
	f := newPipelineFixture(t)

	f.parser.ParseFunc = func(ctx context.Context, content io.Reader, mimeType string) (*ocr.ParseResult, error) {
		return nil, fmt.Errorf("connection refused")
	}

	err := f.settle(context.Background(), f.doc.ID)
	require.ErrorIs(t, err, apperrors.ErrDocumentFailed)

	doc, gerr := f.docs.GetByID(context.Background(), f.doc.ID)
	require.NoError(t, gerr)
	assert.Equal(t, models.DocumentFailed, doc.Status)
	assert.Contains(t, doc.FailureReason, "parse stage failed")

	// Three attempts, ending in fail; then the error stage records the death.
	assert.Equal(t, []models.EventStatus{
		models.EventStart, models.EventRetry,
		models.EventStart, models.EventRetry,
		models.EventStart, models.EventFail,
	}, f.stageStatuses(models.StageParse))
	assert.Equal(t, []models.EventStatus{models.EventFail}, f.stageStatuses(models.StageError))
}

func TestPipelineService_TransientFailureSchedulesRetryWithoutBlocking(t *testing.T) {
	f := newPipelineFixtureWithBackoff(t, &retry.Config{
		MaxRetries:   3,
		InitialDelay: time.Minute,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
	})
	f.parser.ParseFunc = func(ctx context.Context, content io.Reader, mimeType string) (*ocr.ParseResult, error) {
		return nil, fmt.Errorf("request timeout")
	}

	start := time.Now()
	err := f.pipeline.Process(context.Background(), f.doc.ID)
	elapsed := time.Since(start)

	// The attempt fails transiently, records its retry event, and hands the
	// delay back instead of sleeping through a minute of backoff.
	var scheduled *retryScheduledError
	require.ErrorAs(t, err, &scheduled)
	assert.GreaterOrEqual(t, scheduled.delay, 30*time.Second)
	assert.Less(t, elapsed, 5*time.Second)

	assert.Equal(t, []models.EventStatus{models.EventStart, models.EventRetry},
		f.stageStatuses(models.StageParse))

	doc, gerr := f.docs.GetByID(context.Background(), f.doc.ID)
	require.NoError(t, gerr)
	assert.Equal(t, models.DocumentUploaded, doc.Status)
}

func TestPipelineService_FlakyDocumentDoesNotStarveQueue(t *testing.T) {
	f := newPipelineFixtureWithBackoff(t, &retry.Config{
		MaxRetries:   3,
		InitialDelay: time.Minute,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
	})

	// f.doc keeps timing out; a second, healthy document waits behind it.
	f.store.objects[f.doc.StoragePath] = []byte("flaky upload")
	healthy := f.docs.add(&models.Document{
		Filename:    "healthy.pdf",
		StoragePath: "cd/cdef01",
		DocType:     models.DocTypeOther,
		Status:      models.DocumentUploaded,
		CreatedAt:   time.Now(),
	})
	f.store.objects[healthy.StoragePath] = []byte(quoteText)

	f.parser.ParseFunc = func(ctx context.Context, content io.Reader, mimeType string) (*ocr.ParseResult, error) {
		data, err := io.ReadAll(content)
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(string(data), "flaky") {
			return nil, fmt.Errorf("request timeout")
		}
		return &ocr.ParseResult{Pages: []ocr.Page{{PageNo: 1, Text: string(data)}}}, nil
	}

	f.pipeline.Enqueue(f.doc.ID)
	f.pipeline.Enqueue(healthy.ID)

	// The queue runs one task at a time here, so the healthy document can
	// only commit if the flaky one released its worker slot.
	require.Eventually(t, func() bool {
		doc, err := f.docs.GetByID(context.Background(), healthy.ID)
		return err == nil && doc.Status == models.DocumentCommitted
	}, 5*time.Second, 10*time.Millisecond)

	doc, err := f.docs.GetByID(context.Background(), f.doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentUploaded, doc.Status)
}

func TestPipelineService_PermanentFailureSkipsRetry(t *testing.T) {
	f := newPipelineFixture(t)

	f.llm.GenerateResponseFunc = func(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error) {
		return "this is not json at all", nil
	}

	err := f.pipeline.Process(context.Background(), f.doc.ID)
	require.ErrorIs(t, err, apperrors.ErrDocumentFailed)

	doc, gerr := f.docs.GetByID(context.Background(), f.doc.ID)
	require.NoError(t, gerr)
	assert.Equal(t, models.DocumentFailed, doc.Status)

	// Schema failures are permanent: one attempt, no retry events.
	assert.Equal(t, []models.EventStatus{models.EventStart, models.EventFail},
		f.stageStatuses(models.StageExtract))
}

func TestPipelineService_RejectedCandidatesAuditedAndSiblingsSurvive(t *testing.T) {
	f := newPipelineFixture(t)

	f.llm.GenerateResponseFunc = func(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error) {
		return `[
			{"type": "line_item", "title": "Good", "quantity": 5, "confidence": 0.9, "source": {"page_no": 1}},
			{"type": "line_item", "title": "Bad", "quantity": "forty", "confidence": 0.9, "source": {"page_no": 1}}
		]`, nil
	}

	require.NoError(t, f.pipeline.Process(context.Background(), f.doc.ID))

	doc, err := f.docs.GetByID(context.Background(), f.doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentCommitted, doc.Status)

	items, err := f.items.GetByDocument(context.Background(), f.doc.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Good", items[0].Title)

	// The dropped candidate leaves an item-scoped fail event, while the
	// stage itself still succeeds.
	statuses := f.stageStatuses(models.StageExtract)
	assert.Equal(t, []models.EventStatus{models.EventStart, models.EventFail, models.EventOK}, statuses)
	evs := f.events.byStage(f.doc.ID, models.StageExtract)
	assert.Equal(t, "item", evs[1].Payload["scope"])
	assert.Contains(t, evs[1].Payload["reason"], "malformed item")
}

func TestPipelineService_UnresolvedVendorRoutesToClarifying(t *testing.T) {
	f := newPipelineFixture(t)

	f.llm.GenerateResponseFunc = func(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error) {
		return `[
			{"type": "line_item", "title": "Mystery vendor line", "vendor_name": "Completely Unknown Corp",
			 "quantity": 5, "unit_price": 10, "confidence": 0.9, "source": {"page_no": 1}}
		]`, nil
	}

	require.NoError(t, f.pipeline.Process(context.Background(), f.doc.ID))

	doc, err := f.docs.GetByID(context.Background(), f.doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentClarifying, doc.Status)

	// clarify/start opened the review window; no commit event yet.
	assert.Equal(t, []models.EventStatus{models.EventStart}, f.stageStatuses(models.StageClarify))
	assert.Empty(t, f.stageStatuses(models.StageCommit))

	// The flagged item is staged, but contributes no price.
	items, err := f.items.GetByDocument(context.Background(), f.doc.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].NeedsClarification)
	assert.Empty(t, f.items.LastPrices)
}

func TestPipelineService_ResumeFromChunkedRerunsExtraction(t *testing.T) {
	f := newPipelineFixture(t)

	// Simulate a crash after chunking: chunks persisted, status chunked.
	f.doc.Status = models.DocumentChunked
	f.doc.DocType = models.DocTypeQuote
	f.docs.add(f.doc)
	require.NoError(t, f.chunks.ReplaceForDocument(context.Background(), f.doc.ID, []*models.Chunk{
		{PageNo: 1, Seq: 0, Text: quoteText},
	}))

	require.NoError(t, f.pipeline.Process(context.Background(), f.doc.ID))

	doc, err := f.docs.GetByID(context.Background(), f.doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentCommitted, doc.Status)

	// No re-parse stage events; processing picked up at extraction.
	assert.Empty(t, f.stageStatuses(models.StageParse))
	assert.Equal(t, []models.EventStatus{models.EventStart, models.EventOK},
		f.stageStatuses(models.StageExtract))
}

func TestPipelineService_RerunReplacesItemsNotAppends(t *testing.T) {
	f := newPipelineFixture(t)

	require.NoError(t, f.pipeline.Process(context.Background(), f.doc.ID))
	first, err := f.items.GetByDocument(context.Background(), f.doc.ID)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Force the document back to validated and rerun: the batch replaces.
	f.doc.Status = models.DocumentValidated
	f.docs.add(f.doc)
	require.NoError(t, f.pipeline.Process(context.Background(), f.doc.ID))

	second, err := f.items.GetByDocument(context.Background(), f.doc.ID)
	require.NoError(t, err)
	assert.Len(t, second, 1)
}

func TestPipelineService_TerminalAndClarifyingAreNoOps(t *testing.T) {
	for _, status := range []models.DocumentStatus{
		models.DocumentCommitted, models.DocumentFailed, models.DocumentClarifying,
	} {
		t.Run(string(status), func(t *testing.T) {
			f := newPipelineFixture(t)
			f.doc.Status = status
			f.docs.add(f.doc)

			require.NoError(t, f.pipeline.Process(context.Background(), f.doc.ID))
			assert.Equal(t, 0, f.parser.ParseCalls)
			assert.Empty(t, f.docs.StatusUpdates)
		})
	}
}

func TestPipelineService_AttemptBoundSurvivesRestart(t *testing.T) {
	f := newPipelineFixture(t)

	// Two crashed attempts already in the log: only one remains.
	for i := 0; i < 2; i++ {
		require.NoError(t, f.events.Append(context.Background(), &models.IngestEvent{
			DocumentID: f.doc.ID,
			Stage:      models.StageParse,
			Status:     models.EventStart,
		}))
	}
	f.parser.ParseFunc = func(ctx context.Context, content io.Reader, mimeType string) (*ocr.ParseResult, error) {
		return nil, fmt.Errorf("request timeout")
	}

	err := f.pipeline.Process(context.Background(), f.doc.ID)
	require.ErrorIs(t, err, apperrors.ErrDocumentFailed)

	doc, gerr := f.docs.GetByID(context.Background(), f.doc.ID)
	require.NoError(t, gerr)
	assert.Equal(t, models.DocumentFailed, doc.Status)
	assert.Equal(t, 1, f.parser.ParseCalls)
}

func TestPipelineService_EnqueueAndWaitProcesses(t *testing.T) {
	f := newPipelineFixture(t)

	f.pipeline.Enqueue(f.doc.ID)
	require.NoError(t, f.queue.Wait(context.Background()))

	doc, err := f.docs.GetByID(context.Background(), f.doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentCommitted, doc.Status)
}

func TestPipelineService_ResumeEnqueuesStrandedDocuments(t *testing.T) {
	f := newPipelineFixture(t)

	stranded := f.docs.add(&models.Document{
		Filename:    "stranded.pdf",
		StoragePath: "cd/cdef01",
		Status:      models.DocumentParsed,
		CreatedAt:   time.Now(),
	})
	f.store.objects[stranded.StoragePath] = []byte(quoteText)
	committed := f.docs.add(&models.Document{Status: models.DocumentCommitted})

	require.NoError(t, f.pipeline.Resume(context.Background()))
	require.NoError(t, f.queue.Wait(context.Background()))

	for _, id := range []uuid.UUID{f.doc.ID, stranded.ID} {
		doc, err := f.docs.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.DocumentCommitted, doc.Status)
	}
	// Terminal documents are not re-enqueued.
	doc, err := f.docs.GetByID(context.Background(), committed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentCommitted, doc.Status)
}
