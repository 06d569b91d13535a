package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fabrica-inc/ingest-engine/pkg/apperrors"
	"github.com/fabrica-inc/ingest-engine/pkg/contentstore"
	"github.com/fabrica-inc/ingest-engine/pkg/models"
	"github.com/fabrica-inc/ingest-engine/pkg/ocr"
	"github.com/fabrica-inc/ingest-engine/pkg/repositories"
	"github.com/fabrica-inc/ingest-engine/pkg/retry"
	"github.com/fabrica-inc/ingest-engine/pkg/services/workqueue"
)

// PipelineConfig holds the orchestrator's tunables.
type PipelineConfig struct {
	MaxAttempts int
	Backoff     *retry.Config
}

// PipelineService drives documents through the ingestion state machine. All
// retry state lives in the audit log, so any worker can resume a document
// after a crash from its persisted status and event history.
type PipelineService interface {
	// Enqueue schedules processing of a document on the worker pool. Tasks
	// are keyed by document ID, so one document is never advanced by two
	// workers at once.
	Enqueue(documentID uuid.UUID)

	// Process advances a document from its current status until it reaches
	// committed, clarifying, or failed. Exposed for tests and for the
	// worker task.
	Process(ctx context.Context, documentID uuid.UUID) error

	// Resume re-enqueues every document stranded in a non-terminal,
	// non-clarifying status. Called once at startup.
	Resume(ctx context.Context) error
}

type pipelineService struct {
	documents  repositories.DocumentRepository
	chunks     repositories.ChunkRepository
	events     repositories.EventRepository
	store      contentstore.Store
	parser     ocr.Parser
	classifier ClassifierService
	chunker    ChunkerService
	extractor  ExtractorService
	resolver   ResolverService
	validator  ValidatorService
	committer  CommitterService
	queue      *workqueue.Queue
	cfg        PipelineConfig
	logger     *zap.Logger
}

// NewPipelineService creates a new PipelineService.
func NewPipelineService(
	documents repositories.DocumentRepository,
	chunks repositories.ChunkRepository,
	events repositories.EventRepository,
	store contentstore.Store,
	parser ocr.Parser,
	classifier ClassifierService,
	chunker ChunkerService,
	extractor ExtractorService,
	resolver ResolverService,
	validator ValidatorService,
	committer CommitterService,
	queue *workqueue.Queue,
	cfg PipelineConfig,
	logger *zap.Logger,
) PipelineService {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Backoff == nil {
		cfg.Backoff = retry.DefaultConfig()
	}
	return &pipelineService{
		documents:  documents,
		chunks:     chunks,
		events:     events,
		store:      store,
		parser:     parser,
		classifier: classifier,
		chunker:    chunker,
		extractor:  extractor,
		resolver:   resolver,
		validator:  validator,
		committer:  committer,
		queue:      queue,
		cfg:        cfg,
		logger:     logger.Named("pipeline-service"),
	}
}

var _ PipelineService = (*pipelineService)(nil)

// documentTask adapts Process to the work queue. A transiently failed stage
// surfaces as a scheduled retry: the task completes, freeing its worker, and
// the document is re-enqueued after the backoff delay.
type documentTask struct {
	workqueue.BaseTask
	pipeline *pipelineService
	docID    uuid.UUID
}

func (t *documentTask) Execute(ctx context.Context) error {
	err := t.pipeline.Process(ctx, t.docID)

	var scheduled *retryScheduledError
	if errors.As(err, &scheduled) {
		t.pipeline.scheduleRetry(t.docID, scheduled)
		return nil
	}
	return err
}

func (s *pipelineService) Enqueue(documentID uuid.UUID) {
	s.queue.Enqueue(&documentTask{
		BaseTask: workqueue.NewBaseTask("process-document", documentID.String()),
		pipeline: s,
		docID:    documentID,
	})
}

func (s *pipelineService) Resume(ctx context.Context) error {
	resumable := []models.DocumentStatus{
		models.DocumentUploaded,
		models.DocumentParsed,
		models.DocumentClassified,
		models.DocumentChunked,
		models.DocumentExtracted,
		models.DocumentValidated,
	}

	total := 0
	for _, status := range resumable {
		docs, err := s.documents.ListByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("failed to list %s documents: %w", status, err)
		}
		for _, doc := range docs {
			s.Enqueue(doc.ID)
			total++
		}
	}

	if total > 0 {
		s.logger.Info("resuming stranded documents", zap.Int("count", total))
	}
	return nil
}

func (s *pipelineService) Process(ctx context.Context, documentID uuid.UUID) error {
	doc, err := s.documents.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Status.IsTerminal() || doc.Status == models.DocumentClarifying {
		return nil
	}

	var pages []ocr.Page
	var items []*models.ExtractedItem

	if doc.Status == models.DocumentUploaded {
		err := s.runStage(ctx, doc, models.StageParse, func(ctx context.Context) error {
			var perr error
			pages, perr = s.parsePages(ctx, doc)
			return perr
		})
		if err != nil {
			return err
		}
		if err := s.advance(ctx, doc, models.DocumentParsed); err != nil {
			return err
		}
	}

	if doc.Status == models.DocumentParsed {
		if pages, err = s.ensurePages(ctx, doc, pages); err != nil {
			return s.failDocument(ctx, doc, models.StageParse, err)
		}
		err := s.runStage(ctx, doc, models.StageClassify, func(ctx context.Context) error {
			classification, cerr := s.classifier.Classify(ctx, pages)
			if cerr != nil {
				return cerr
			}
			return s.documents.UpdateClassification(ctx, doc.ID,
				classification.DocType, classification.Confidence, classification.Language)
		})
		if err != nil {
			return err
		}
		if err := s.advance(ctx, doc, models.DocumentClassified); err != nil {
			return err
		}
		// Pick up the classification for the extraction prompt.
		if doc, err = s.documents.GetByID(ctx, doc.ID); err != nil {
			return err
		}
	}

	if doc.Status == models.DocumentClassified {
		if pages, err = s.ensurePages(ctx, doc, pages); err != nil {
			return s.failDocument(ctx, doc, models.StageParse, err)
		}
		err := s.runStage(ctx, doc, models.StagePack, func(ctx context.Context) error {
			_, cerr := s.chunker.ChunkAndIndex(ctx, doc, pages)
			return cerr
		})
		if err != nil {
			return err
		}
		if err := s.advance(ctx, doc, models.DocumentChunked); err != nil {
			return err
		}
	}

	// The extract -> resolve -> validate -> commit run is idempotent as a
	// whole (chunks and items are replace-not-append), so a document found
	// in any of these states simply reruns from extraction.
	rerunFromExtract := doc.Status == models.DocumentChunked ||
		doc.Status == models.DocumentExtracted ||
		doc.Status == models.DocumentValidated

	if rerunFromExtract {
		err := s.runStage(ctx, doc, models.StageExtract, func(ctx context.Context) error {
			chunks, cerr := s.chunks.GetByDocument(ctx, doc.ID)
			if cerr != nil {
				return cerr
			}
			result, xerr := s.extractor.Extract(ctx, doc, chunks)
			if xerr != nil {
				return xerr
			}
			for _, rejected := range result.Rejected {
				if aerr := s.events.Append(ctx, &models.IngestEvent{
					DocumentID: doc.ID,
					Stage:      models.StageExtract,
					Status:     models.EventFail,
					Payload: map[string]any{
						"scope":   "item",
						"reason":  rejected.Reason,
						"payload": string(rejected.Payload),
					},
				}); aerr != nil {
					return aerr
				}
			}
			items = result.Items
			return nil
		})
		if err != nil {
			return err
		}
		if doc.Status == models.DocumentChunked {
			if err := s.advance(ctx, doc, models.DocumentExtracted); err != nil {
				return err
			}
		}
	}

	if doc.Status == models.DocumentExtracted || doc.Status == models.DocumentValidated {
		err := s.runStage(ctx, doc, models.StageLink, func(ctx context.Context) error {
			return s.resolver.Resolve(ctx, doc, items)
		})
		if err != nil {
			return err
		}
		err = s.runStage(ctx, doc, models.StageValidate, func(ctx context.Context) error {
			return s.validator.Validate(ctx, doc, items)
		})
		if err != nil {
			return err
		}
		if doc.Status == models.DocumentExtracted {
			if err := s.advance(ctx, doc, models.DocumentValidated); err != nil {
				return err
			}
		}
	}

	if doc.Status == models.DocumentValidated {
		var result *CommitResult
		err := s.runStage(ctx, doc, models.StageStaging, func(ctx context.Context) error {
			var serr error
			result, serr = s.committer.Commit(ctx, doc, items)
			return serr
		})
		if err != nil {
			return err
		}

		if result.Clarifications > 0 {
			if err := s.events.Append(ctx, &models.IngestEvent{
				DocumentID: doc.ID,
				Stage:      models.StageClarify,
				Status:     models.EventStart,
				Payload:    map[string]any{"pending": result.Clarifications},
			}); err != nil {
				return err
			}
			return s.advance(ctx, doc, models.DocumentClarifying)
		}

		if err := s.advance(ctx, doc, models.DocumentCommitted); err != nil {
			return err
		}
		return s.events.Append(ctx, &models.IngestEvent{
			DocumentID: doc.ID,
			Stage:      models.StageCommit,
			Status:     models.EventOK,
			Payload:    map[string]any{"items": result.Committed, "prices": result.PricesRecorded},
		})
	}

	return nil
}

// parsePages loads the stored bytes and runs the OCR capability.
func (s *pipelineService) parsePages(ctx context.Context, doc *models.Document) ([]ocr.Page, error) {
	content, err := s.store.Get(ctx, doc.StoragePath)
	if err != nil {
		return nil, err
	}
	defer content.Close()

	result, err := s.parser.Parse(ctx, content, doc.MimeType)
	if err != nil {
		return nil, err
	}
	return result.Pages, nil
}

// ensurePages re-parses when a resumed document enters past the parse stage
// without pages in memory. Parsing is read-only and idempotent, so no
// events or status changes are involved.
func (s *pipelineService) ensurePages(ctx context.Context, doc *models.Document, pages []ocr.Page) ([]ocr.Page, error) {
	if pages != nil {
		return pages, nil
	}
	return retry.DoWithResult(ctx, s.cfg.Backoff, func() ([]ocr.Page, error) {
		return s.parsePages(ctx, doc)
	})
}

// retryScheduledError marks a stage attempt that failed transiently with
// attempts left. The retry does not run in-process: the worker task catches
// it and re-enqueues the document after the backoff delay.
type retryScheduledError struct {
	stage models.Stage
	delay time.Duration
	cause error
}

func (e *retryScheduledError) Error() string {
	return fmt.Sprintf("%s stage retry in %s: %v", e.stage, e.delay, e.cause)
}

func (e *retryScheduledError) Unwrap() error { return e.cause }

// scheduleRetry re-enqueues the document after the backoff delay so the
// worker slot frees immediately. The rescheduled run re-derives its attempt
// count from the audit log.
func (s *pipelineService) scheduleRetry(docID uuid.UUID, scheduled *retryScheduledError) {
	s.logger.Warn("stage failed, rescheduling document",
		zap.String("document_id", docID.String()),
		zap.String("stage", string(scheduled.stage)),
		zap.Duration("backoff", scheduled.delay),
		zap.Error(scheduled.cause))

	time.AfterFunc(scheduled.delay, func() {
		s.Enqueue(docID)
	})
}

// runStage executes one stage attempt with the audit protocol: a start event,
// then ok, retry or fail. The attempt bound is enforced against persisted
// start events, so it survives crashes. A transient failure with attempts
// left returns retryScheduledError instead of sleeping in the worker.
func (s *pipelineService) runStage(ctx context.Context, doc *models.Document, stage models.Stage, fn func(ctx context.Context) error) error {
	attempts, err := s.events.CountAttempts(ctx, doc.ID, stage)
	if err != nil {
		return err
	}
	if attempts >= s.cfg.MaxAttempts {
		return s.failDocument(ctx, doc, stage,
			fmt.Errorf("%s exhausted %d attempts", stage, attempts))
	}

	if err := s.events.Append(ctx, &models.IngestEvent{
		DocumentID: doc.ID,
		Stage:      stage,
		Status:     models.EventStart,
	}); err != nil {
		return err
	}

	err = fn(ctx)
	if err == nil {
		return s.events.Append(ctx, &models.IngestEvent{
			DocumentID: doc.ID,
			Stage:      stage,
			Status:     models.EventOK,
		})
	}

	if ctx.Err() != nil {
		// Interrupted mid-stage: leave the dangling start event for the
		// resume path and surface the cancellation.
		return ctx.Err()
	}

	if !retry.IsRetryable(err) {
		if aerr := s.events.Append(ctx, &models.IngestEvent{
			DocumentID: doc.ID,
			Stage:      stage,
			Status:     models.EventFail,
			Payload:    map[string]any{"error": err.Error()},
		}); aerr != nil {
			return aerr
		}
		return s.failDocument(ctx, doc, stage, err)
	}

	attempts++
	if attempts >= s.cfg.MaxAttempts {
		if aerr := s.events.Append(ctx, &models.IngestEvent{
			DocumentID: doc.ID,
			Stage:      stage,
			Status:     models.EventFail,
			Payload:    map[string]any{"error": err.Error(), "attempts": attempts},
		}); aerr != nil {
			return aerr
		}
		return s.failDocument(ctx, doc, stage, err)
	}

	if aerr := s.events.Append(ctx, &models.IngestEvent{
		DocumentID: doc.ID,
		Stage:      stage,
		Status:     models.EventRetry,
		Payload:    map[string]any{"error": err.Error(), "attempt": attempts},
	}); aerr != nil {
		return aerr
	}

	return &retryScheduledError{
		stage: stage,
		delay: s.cfg.Backoff.Delay(attempts - 1),
		cause: err,
	}
}

// advance moves the document to the next status and mirrors it on the local
// copy so the caller's switch keeps flowing.
func (s *pipelineService) advance(ctx context.Context, doc *models.Document, status models.DocumentStatus) error {
	if err := s.documents.UpdateStatus(ctx, doc.ID, status, ""); err != nil {
		return err
	}
	doc.Status = status
	return nil
}

// failDocument terminates processing with a human-readable reason and an
// error event. Transitioning to failed is valid from any non-terminal state.
func (s *pipelineService) failDocument(ctx context.Context, doc *models.Document, stage models.Stage, cause error) error {
	reason := fmt.Sprintf("%s stage failed: %v", stage, cause)

	if err := s.events.Append(ctx, &models.IngestEvent{
		DocumentID: doc.ID,
		Stage:      models.StageError,
		Status:     models.EventFail,
		Payload:    map[string]any{"stage": string(stage), "reason": reason},
	}); err != nil {
		return err
	}
	if err := s.documents.UpdateStatus(ctx, doc.ID, models.DocumentFailed, reason); err != nil {
		return err
	}
	doc.Status = models.DocumentFailed

	s.logger.Error("document failed",
		zap.String("document_id", doc.ID.String()),
		zap.String("stage", string(stage)),
		zap.Error(cause))

	return fmt.Errorf("%w: %s", apperrors.ErrDocumentFailed, reason)
}
