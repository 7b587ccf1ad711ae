// Package generate runs one upload through validation, staging, editing and notification.
package generate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/pixmix-relay/internal/editor"
	"github.com/aliskhannn/pixmix-relay/internal/metrics"
	"github.com/aliskhannn/pixmix-relay/internal/model"
	"github.com/aliskhannn/pixmix-relay/internal/reqctx"
	"github.com/aliskhannn/pixmix-relay/internal/storage/file"
	"github.com/aliskhannn/pixmix-relay/internal/storage/object"
)

var (
	// ErrBadRequest means the upload is missing or is not a decodable image.
	ErrBadRequest = errors.New("image not uploaded or invalid format")

	// ErrUpstreamFailure means staging, the edit call or result extraction failed.
	ErrUpstreamFailure = errors.New("image processing failed")

	// ErrNoImageData means the edit API answered without an image.
	ErrNoImageData = editor.ErrNoImageData
)

const cleanupTimeout = 10 * time.Second

// spool keeps uploads on local disk for the duration of a request.
type spool interface {
	Save(src io.Reader, filename string) (string, error)
	Delete(path string) error
}

// imageChecker validates uploads and normalizes them to PNG.
type imageChecker interface {
	Validate(path string) (string, error)
	ToPNG(path string) (string, error)
}

type promptResolver interface {
	Resolve(filter string) string
}

// stageStore holds the upload in object storage while the edit API reads it.
type stageStore interface {
	Stage(ctx context.Context, localPath string) (string, error)
	OpenReadStream(ctx context.Context, handle string) (io.ReadCloser, error)
	Unstage(ctx context.Context, handle string) error
}

type imageEditor interface {
	Edit(ctx context.Context, req editor.EditRequest) (editor.EditResponse, error)
}

// notifier delivers the "image ready" push. Either a dispatcher or a queue producer.
type notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

type recorder interface {
	RecordGenerate(outcome string)
	RecordEdit(d time.Duration)
}

// Service is the upload orchestration pipeline.
type Service struct {
	spool        spool
	images       imageChecker
	prompts      promptResolver
	stage        stageStore
	editor       imageEditor
	notifier     notifier
	metrics      recorder
	normalizePNG bool
}

// NewService creates a Service. notifier may be nil, in which case no push is attempted.
func NewService(
	sp spool,
	ic imageChecker,
	pr promptResolver,
	st stageStore,
	ed imageEditor,
	n notifier,
	m recorder,
	normalizePNG bool,
) *Service {
	return &Service{
		spool:        sp,
		images:       ic,
		prompts:      pr,
		stage:        st,
		editor:       ed,
		notifier:     n,
		metrics:      m,
		normalizePNG: normalizePNG,
	}
}

// Generate applies up.Filter to the uploaded image and returns the result URL.
// Every local file and staged object created here is released before it returns.
func (s *Service) Generate(ctx context.Context, up model.Upload) (res model.EditResult, err error) {
	requestID := reqctx.RequestID(ctx)

	var held resources
	defer func() {
		held.release(ctx, s, requestID)

		// err is still nil when a stage panics.
		if r := recover(); r != nil {
			s.record(fmt.Errorf("generate panicked: %v", r))
			panic(r)
		}
		s.record(err)
	}()

	if up.Body == nil {
		return model.EditResult{}, ErrBadRequest
	}

	path, err := s.spool.Save(up.Body, up.Filename)
	if err != nil {
		if errors.Is(err, file.ErrTooLarge) {
			return model.EditResult{}, fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
		return model.EditResult{}, fmt.Errorf("generate: %w", err)
	}
	held.files = append(held.files, path)

	contentType, err := s.images.Validate(path)
	if err != nil {
		return model.EditResult{}, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	if s.normalizePNG {
		converted, err := s.images.ToPNG(path)
		if err != nil {
			return model.EditResult{}, fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
		held.files = append(held.files, converted)
		path, contentType = converted, "image/png"
	}

	prompt := s.prompts.Resolve(up.Filter)
	zlog.Logger.Info().
		Str("request_id", requestID).
		Str("filter", up.Filter).
		Str("file", filepath.Base(path)).
		Msg("processing upload")

	handle, err := s.stage.Stage(ctx, path)
	if err != nil {
		return model.EditResult{}, fmt.Errorf("%w: stage upload: %w", ErrUpstreamFailure, err)
	}
	held.handle = handle

	stream, err := s.stage.OpenReadStream(ctx, handle)
	if err != nil {
		return model.EditResult{}, fmt.Errorf("%w: open staged upload: %w", ErrUpstreamFailure, err)
	}
	held.stream = stream

	start := time.Now()
	resp, err := s.editor.Edit(ctx, editor.EditRequest{
		Image:       stream,
		Filename:    filepath.Base(path),
		ContentType: contentType,
		Prompt:      prompt,
	})
	if s.metrics != nil {
		s.metrics.RecordEdit(time.Since(start))
	}
	if err != nil {
		return model.EditResult{}, fmt.Errorf("%w: edit image: %w", ErrUpstreamFailure, err)
	}

	url, err := editor.ExtractImageURL(resp)
	if err != nil {
		return model.EditResult{}, fmt.Errorf("%w: %w", ErrUpstreamFailure, err)
	}

	s.notify(ctx, model.Notification{
		RequestID:   requestID,
		DeviceToken: up.NotifyToken,
		UserID:      up.NotifyUserID,
		ImageURL:    url,
		Filter:      up.Filter,
	})

	zlog.Logger.Info().Str("request_id", requestID).Msg("image processed")

	return model.EditResult{ImageURL: url}, nil
}

// notify never fails the request.
func (s *Service) notify(ctx context.Context, n model.Notification) {
	if s.notifier == nil || n.Empty() {
		return
	}

	if err := s.notifier.Notify(ctx, n); err != nil {
		zlog.Logger.Warn().
			Err(err).
			Str("request_id", n.RequestID).
			Str("user_id", n.UserID).
			Msg("failed to send notification")
	}
}

func (s *Service) record(err error) {
	if s.metrics == nil {
		return
	}

	switch {
	case err == nil:
		s.metrics.RecordGenerate(metrics.OutcomeSuccess)
	case errors.Is(err, ErrBadRequest):
		s.metrics.RecordGenerate(metrics.OutcomeBadRequest)
	case errors.Is(err, ErrUpstreamFailure):
		s.metrics.RecordGenerate(metrics.OutcomeUpstreamFailure)
	default:
		s.metrics.RecordGenerate(metrics.OutcomeFailure)
	}
}

// resources tracks what a single run has acquired.
type resources struct {
	files  []string
	handle string
	stream io.ReadCloser
}

// release closes the stream, unstages the object and deletes local files.
// Failures are logged and never replace the run's result.
func (r *resources) release(ctx context.Context, s *Service, requestID string) {
	if r.stream != nil {
		if err := r.stream.Close(); err != nil {
			zlog.Logger.Warn().Str("request_id", requestID).Err(err).Msg("failed to close staged stream")
		}
	}

	if r.handle != "" {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		err := s.stage.Unstage(cctx, r.handle)
		cancel()

		switch {
		case err == nil:
		case errors.Is(err, object.ErrNotFound):
			zlog.Logger.Warn().Str("request_id", requestID).Err(err).Str("handle", r.handle).Msg("staged object already gone")
		default:
			zlog.Logger.Error().Str("request_id", requestID).Err(err).Str("handle", r.handle).Msg("failed to unstage object")
		}
	}

	for _, path := range r.files {
		if err := s.spool.Delete(path); err != nil {
			zlog.Logger.Error().Str("request_id", requestID).Err(err).Str("path", path).Msg("failed to remove temp file")
		}
	}
}
