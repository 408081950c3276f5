// Package receipt turns a submitted receipt image into stored items and, when a
// feedback session is open, scored feedback.
package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/joshsymonds/the-pantry-must-flow/internal/common"
	"github.com/joshsymonds/the-pantry-must-flow/internal/metrics"
	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
	"github.com/joshsymonds/the-pantry-must-flow/internal/ocr"
	"github.com/joshsymonds/the-pantry-must-flow/internal/service"
	"github.com/joshsymonds/the-pantry-must-flow/internal/session"
	"github.com/joshsymonds/the-pantry-must-flow/internal/whatsapp"
)

// MediaRefPrefix marks receipts created from a WhatsApp media ID.
const MediaRefPrefix = "whatsapp_media_id:"

// Stage names the pipeline step a receipt failed in.
type Stage string

// Pipeline stages.
const (
	StageOCR       Stage = "ocr"
	StageStructure Stage = "structure"
	StageNoItems   Stage = "no_items"
	StageSave      Stage = "save"
)

// StageError is a pipeline failure after the receipt row exists.
type StageError struct {
	Err    error
	Stage  Stage
	Reason string
}

func (e *StageError) Error() string {
	return fmt.Sprintf("receipt %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Store is the receipt persistence the pipeline needs.
type Store interface {
	FindReceiptByImageRef(ctx context.Context, userID, imageRef string) (*model.Receipt, error)
	CreateReceipt(ctx context.Context, receipt *model.Receipt) (int64, error)
	PendingReceiptsSince(ctx context.Context, userID string, since time.Time) ([]model.Receipt, error)
	MarkReceiptExtracted(ctx context.Context, id int64, text, storeName string, purchaseDate *time.Time) error
	MarkReceiptFailed(ctx context.Context, id int64, reason string) error
	SaveReceiptItems(ctx context.Context, receiptID int64, items []model.ReceiptItem) (int, error)
}

// Downloader fetches inbound media.
type Downloader interface {
	DownloadMedia(ctx context.Context, mediaID string) (*whatsapp.Media, error)
}

// Extractor turns an image into text.
type Extractor interface {
	Extract(ctx context.Context, image []byte) (*ocr.Result, error)
}

// Structurer turns OCR text into items.
type Structurer interface {
	Parse(ctx context.Context, text string) (*Structured, error)
}

// Archiver keeps a copy of the original image.
type Archiver interface {
	Put(ctx context.Context, userID string, data []byte, contentType string) (string, error)
}

// Sessions is the part of the session manager receipt intake uses.
type Sessions interface {
	Config() session.Config
	ActiveSession(ctx context.Context, userID string, grace bool) (*model.FeedbackSession, error)
	Extend(ctx context.Context, s *model.FeedbackSession, d time.Duration) session.TransitionResult
}

// FeedbackRecorder scores a receipt against the session's prediction.
type FeedbackRecorder interface {
	Record(ctx context.Context, s *model.FeedbackSession, receiptID int64) (*model.Feedback, error)
}

// Config holds intake settings.
type Config struct {
	BatchWindow time.Duration
}

// Batch places a receipt among the user's receipts still being processed.
type Batch struct {
	Position int
	Total    int
}

// Result describes one processed receipt.
type Result struct {
	Feedback  *model.Feedback
	StoreName string
	Batch     Batch
	ReceiptID int64
	Items     int
}

// Processor runs receipt intake.
type Processor struct {
	store     Store
	media     Downloader
	ocr       Extractor
	parser    Structurer
	archive   Archiver
	sessions  Sessions
	feedback  FeedbackRecorder
	messenger service.Messenger
	metrics   *metrics.Collectors
	logger    *slog.Logger
	now       func() time.Time
	config    Config
}

// NewProcessor wires the intake pipeline.
func NewProcessor(store Store, media Downloader, extractor Extractor, parser Structurer,
	sessions Sessions, feedback FeedbackRecorder, messenger service.Messenger, config Config,
) *Processor {
	if config.BatchWindow <= 0 {
		config.BatchWindow = 15 * time.Second
	}
	return &Processor{
		store:     store,
		media:     media,
		ocr:       extractor,
		parser:    parser,
		sessions:  sessions,
		feedback:  feedback,
		messenger: messenger,
		config:    config,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// SetArchive enables image archiving.
func (p *Processor) SetArchive(a Archiver) {
	p.archive = a
}

// SetMetrics sets the metrics collectors.
func (p *Processor) SetMetrics(c *metrics.Collectors) {
	p.metrics = c
}

// SetClock overrides the time source.
func (p *Processor) SetClock(now func() time.Time) {
	p.now = now
}

// HandleImage processes a receipt image sent over WhatsApp. Every outcome is
// reported to the user; the returned error is for logging only.
func (p *Processor) HandleImage(ctx context.Context, userID, mediaID, mimeType string) (*Result, error) {
	if mediaID == "" {
		p.send(ctx, userID, msgBadImage)
		return nil, errors.New("image message has no media id")
	}
	imageRef := MediaRefPrefix + mediaID
	logger := p.logger.With("user", userID, "media_id", mediaID)

	if existing, err := p.store.FindReceiptByImageRef(ctx, userID, imageRef); err == nil {
		p.metrics.ReceiptProcessed("duplicate")
		if existing.ExtractionStatus != model.ExtractionPending {
			p.send(ctx, userID, msgAlreadyProcessed)
		}
		logger.Info("receipt already submitted", "receipt_id", existing.ID, "status", existing.ExtractionStatus)
		return nil, nil
	} else if !errors.Is(err, common.ErrNotFound) {
		logger.Warn("duplicate check failed, continuing", "error", err)
	}

	// Keep the session open while the slow OCR step runs.
	if active, err := p.sessions.ActiveSession(ctx, userID, true); err != nil {
		logger.Warn("active session lookup failed", "error", err)
	} else if active != nil {
		if res := p.sessions.Extend(ctx, active, p.sessions.Config().ExtendBy); !res.Persisted {
			logger.Warn("session extension not persisted", "session_id", active.ID, "error", res.Err)
		}
	}

	media, err := p.media.DownloadMedia(ctx, mediaID)
	if err != nil {
		p.send(ctx, userID, msgDownloadFailed)
		return nil, fmt.Errorf("failed to download receipt image: %w", err)
	}
	if media.MimeType == "" {
		media.MimeType = mimeType
	}

	receipt := &model.Receipt{
		UserID:   userID,
		ImageRef: imageRef,
		MimeType: media.MimeType,
		FileSize: media.FileSize,
	}
	if err := p.create(ctx, receipt, media.Data); err != nil {
		if errors.Is(err, common.ErrDuplicateEntry) {
			// A redelivered webhook raced this one to the insert.
			return nil, nil
		}
		p.send(ctx, userID, msgSaveFailed)
		return nil, err
	}

	batch := p.batch(ctx, receipt)
	if batch.Total > 1 {
		p.send(ctx, userID, batchReceivedMessage(batch.Total))
	} else {
		p.send(ctx, userID, msgReceived)
	}

	result, err := p.process(ctx, receipt, media.Data)
	if err != nil {
		var stageErr *StageError
		stage := Stage("")
		if errors.As(err, &stageErr) {
			stage = stageErr.Stage
		}
		p.send(ctx, userID, failureMessage(stage))
		return nil, err
	}
	result.Batch = batch

	completion := completionMessage(batch, result.Items, result.StoreName)

	// The session may have been opened while this receipt was processing.
	current, err := p.sessions.ActiveSession(ctx, userID, true)
	if err != nil {
		logger.Warn("active session lookup failed", "error", err)
	}
	if current != nil {
		fb, err := p.feedback.Record(ctx, current, receipt.ID)
		if err != nil {
			logger.Error("failed to record feedback", "session_id", current.ID, "receipt_id", receipt.ID, "error", err)
		} else {
			result.Feedback = fb
			completion += "\n\n" + msgFeedbackFollowUp
		}
	}

	p.send(ctx, userID, completion)
	return result, nil
}

// Import runs OCR and structuring for an image that did not arrive over WhatsApp.
// No messages are sent and no feedback is recorded. Importing the same name twice
// for a user fails with common.ErrDuplicateEntry.
func (p *Processor) Import(ctx context.Context, userID, name string, data []byte, mimeType string) (*Result, error) {
	receipt := &model.Receipt{
		UserID:   userID,
		ImageRef: "import:" + name,
		MimeType: mimeType,
		FileSize: int64(len(data)),
	}
	if err := p.create(ctx, receipt, data); err != nil {
		return nil, err
	}
	return p.process(ctx, receipt, data)
}

func (p *Processor) create(ctx context.Context, receipt *model.Receipt, data []byte) error {
	if p.archive != nil {
		key, err := p.archive.Put(ctx, receipt.UserID, data, receipt.MimeType)
		if err != nil {
			p.logger.Warn("failed to archive receipt image", "user", receipt.UserID, "error", err)
		} else {
			receipt.ArchiveKey = key
		}
	}

	receipt.CreatedAt = p.now()
	receipt.ExtractionStatus = model.ExtractionPending
	if _, err := p.store.CreateReceipt(ctx, receipt); err != nil {
		return fmt.Errorf("failed to create receipt: %w", err)
	}
	return nil
}

// batch counts the user's pending receipts inside the batch window and finds this
// receipt's 1-based position among them, oldest first.
func (p *Processor) batch(ctx context.Context, receipt *model.Receipt) Batch {
	pending, err := p.store.PendingReceiptsSince(ctx, receipt.UserID, p.now().Add(-p.config.BatchWindow))
	if err != nil || len(pending) == 0 {
		return Batch{Position: 1, Total: 1}
	}
	pos := slices.IndexFunc(pending, func(r model.Receipt) bool { return r.ID == receipt.ID })
	if pos < 0 {
		return Batch{Position: len(pending) + 1, Total: len(pending) + 1}
	}
	return Batch{Position: pos + 1, Total: len(pending)}
}

// process runs OCR, structuring and item storage for a created receipt. Any failure
// marks the receipt failed.
func (p *Processor) process(ctx context.Context, receipt *model.Receipt, data []byte) (*Result, error) {
	result, err := p.extract(ctx, receipt, data)
	if err != nil {
		var stageErr *StageError
		reason := "exception during processing"
		if errors.As(err, &stageErr) {
			reason = stageErr.Reason
		}
		if markErr := p.store.MarkReceiptFailed(ctx, receipt.ID, reason); markErr != nil {
			p.logger.Error("failed to mark receipt failed", "receipt_id", receipt.ID, "error", markErr)
		}
		p.metrics.ReceiptProcessed(string(model.ExtractionFailed))
		p.logger.Warn("receipt processing failed", "receipt_id", receipt.ID, "user", receipt.UserID, "reason", reason, "error", err)
		return nil, err
	}

	p.metrics.ReceiptProcessed(string(model.ExtractionSuccess))
	p.logger.Info("receipt processed", "receipt_id", receipt.ID, "user", receipt.UserID, "items", result.Items, "store", result.StoreName)
	return result, nil
}

func (p *Processor) extract(ctx context.Context, receipt *model.Receipt, data []byte) (*Result, error) {
	text, err := p.ocr.Extract(ctx, data)
	if err != nil {
		return nil, &StageError{Stage: StageOCR, Reason: "OCR processing failed", Err: err}
	}

	structured, err := p.parser.Parse(ctx, text.Text)
	if err != nil {
		return nil, &StageError{Stage: StageStructure, Reason: "AI structuring failed", Err: err}
	}
	if len(structured.Items) == 0 {
		return nil, &StageError{Stage: StageNoItems, Reason: "no items found", Err: errors.New("structured receipt has no items")}
	}

	if err := p.store.MarkReceiptExtracted(ctx, receipt.ID, text.Text, structured.StoreName, structured.PurchaseDate); err != nil {
		return nil, &StageError{Stage: StageSave, Reason: "failed to store extraction", Err: err}
	}
	saved, err := p.store.SaveReceiptItems(ctx, receipt.ID, structured.Items)
	if err != nil {
		return nil, &StageError{Stage: StageSave, Reason: "failed to save items", Err: err}
	}

	return &Result{
		ReceiptID: receipt.ID,
		StoreName: structured.StoreName,
		Items:     saved,
	}, nil
}

func (p *Processor) send(ctx context.Context, userID, text string) {
	if err := p.messenger.Send(ctx, userID, text); err != nil {
		p.logger.Warn("failed to send receipt reply", "user", userID, "error", err)
	}
}
