package generate

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/pixmix-relay/internal/converter"
	"github.com/aliskhannn/pixmix-relay/internal/editor"
	"github.com/aliskhannn/pixmix-relay/internal/metrics"
	"github.com/aliskhannn/pixmix-relay/internal/model"
	"github.com/aliskhannn/pixmix-relay/internal/prompt"
	"github.com/aliskhannn/pixmix-relay/internal/reqctx"
	"github.com/aliskhannn/pixmix-relay/internal/storage/file"
	"github.com/aliskhannn/pixmix-relay/internal/storage/object"
)

type fakeStage struct {
	mu         sync.Mutex
	objects    map[string][]byte
	stageErr   error
	unstageErr error
	staged     int
	unstaged   int
	streams    []*trackedStream
}

func newFakeStage() *fakeStage {
	return &fakeStage{objects: map[string][]byte{}}
}

func (f *fakeStage) Stage(_ context.Context, localPath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stageErr != nil {
		return "", f.stageErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	f.staged++
	handle := "s3://bucket/uploads/" + filepath.Base(localPath)
	f.objects[handle] = data
	return handle, nil
}

func (f *fakeStage) OpenReadStream(_ context.Context, handle string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[handle]
	if !ok {
		return nil, object.ErrNotFound
	}
	s := &trackedStream{Reader: bytes.NewReader(data)}
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeStage) Unstage(_ context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.unstaged++
	if f.unstageErr != nil {
		return f.unstageErr
	}
	if _, ok := f.objects[handle]; !ok {
		return object.ErrNotFound
	}
	delete(f.objects, handle)
	return nil
}

type trackedStream struct {
	io.Reader
	closed bool
}

func (s *trackedStream) Close() error {
	s.closed = true
	return nil
}

type fakeEditor struct {
	resp   editor.EditResponse
	err    error
	panics bool
	got    editor.EditRequest
	body   []byte
}

func (f *fakeEditor) Edit(_ context.Context, req editor.EditRequest) (editor.EditResponse, error) {
	f.got = req
	f.body, _ = io.ReadAll(req.Image)
	if f.panics {
		panic("edit exploded")
	}
	return f.resp, f.err
}

type fakeNotifier struct {
	err  error
	sent []model.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, n model.Notification) error {
	f.sent = append(f.sent, n)
	return f.err
}

type outcomeLog struct {
	outcomes []string
	edits    int
}

func (o *outcomeLog) RecordGenerate(outcome string) { o.outcomes = append(o.outcomes, outcome) }
func (o *outcomeLog) RecordEdit(time.Duration)      { o.edits++ }

type harness struct {
	svc      *Service
	dir      string
	stage    *fakeStage
	editor   *fakeEditor
	notifier *fakeNotifier
	metrics  *outcomeLog
}

func newHarness(t *testing.T, normalizePNG bool) *harness {
	t.Helper()

	dir := t.TempDir()
	sp, err := file.NewSpool(dir, 1<<20)
	require.NoError(t, err)

	h := &harness{
		dir:      dir,
		stage:    newFakeStage(),
		editor:   &fakeEditor{resp: editor.EditResponse{Data: []editor.ImageData{{B64JSON: "QUJD"}}}},
		notifier: &fakeNotifier{},
		metrics:  &outcomeLog{},
	}
	h.svc = NewService(sp, converter.New(), prompt.New(), h.stage, h.editor, h.notifier, h.metrics, normalizePNG)

	return h
}

// assertReleased checks that nothing created by the run is left behind.
func (h *harness) assertReleased(t *testing.T) {
	t.Helper()

	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp files left in upload dir")
	assert.Empty(t, h.stage.objects, "staged objects left in bucket")
	for _, s := range h.stage.streams {
		assert.True(t, s.closed, "staged stream not closed")
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(2, 2, color.RGBA{R: 255, A: 255})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8)), nil))
	return buf.Bytes()
}

func testContext() context.Context {
	return reqctx.With(context.Background(), reqctx.Values{RequestID: "req-1"})
}

func TestGenerate_InlineResult(t *testing.T) {
	h := newHarness(t, true)

	res, err := h.svc.Generate(testContext(), model.Upload{
		Filter:      "Ghibli",
		Body:        bytes.NewReader(pngBytes(t)),
		Filename:    "cat.png",
		NotifyToken: "device-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,QUJD", res.ImageURL)

	assert.Equal(t, prompt.New().Resolve("Ghibli"), h.editor.got.Prompt)
	assert.Equal(t, "image/png", h.editor.got.ContentType)
	assert.NotEmpty(t, h.editor.body)

	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, model.Notification{
		RequestID:   "req-1",
		DeviceToken: "device-1",
		ImageURL:    "data:image/png;base64,QUJD",
		Filter:      "Ghibli",
	}, h.notifier.sent[0])

	assert.Equal(t, 1, h.stage.unstaged)
	assert.Equal(t, []string{metrics.OutcomeSuccess}, h.metrics.outcomes)
	h.assertReleased(t)
}

func TestGenerate_URLResultAndFallbackPrompt(t *testing.T) {
	h := newHarness(t, true)
	h.editor.resp = editor.EditResponse{Data: []editor.ImageData{{URL: "https://x/y.png"}}}

	res, err := h.svc.Generate(testContext(), model.Upload{
		Filter:   "Unknown",
		Body:     bytes.NewReader(pngBytes(t)),
		Filename: "cat.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://x/y.png", res.ImageURL)
	assert.Equal(t, prompt.DefaultPrompt, h.editor.got.Prompt)
	assert.Empty(t, h.notifier.sent)
	h.assertReleased(t)
}

func TestGenerate_KeepsOriginalFormatWithoutNormalization(t *testing.T) {
	h := newHarness(t, false)

	_, err := h.svc.Generate(testContext(), model.Upload{
		Filter:   "Sketch",
		Body:     bytes.NewReader(jpegBytes(t)),
		Filename: "photo.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", h.editor.got.ContentType)
	assert.Equal(t, ".jpg", filepath.Ext(h.editor.got.Filename))
	h.assertReleased(t)
}

func TestGenerate_MissingUpload(t *testing.T) {
	h := newHarness(t, true)

	_, err := h.svc.Generate(testContext(), model.Upload{Filter: "Ghibli"})
	require.ErrorIs(t, err, ErrBadRequest)
	assert.Zero(t, h.stage.staged)
	assert.Equal(t, []string{metrics.OutcomeBadRequest}, h.metrics.outcomes)
	h.assertReleased(t)
}

func TestGenerate_NotAnImage(t *testing.T) {
	h := newHarness(t, true)

	_, err := h.svc.Generate(testContext(), model.Upload{
		Filter:   "Ghibli",
		Body:     strings.NewReader("definitely not pixels"),
		Filename: "notes.png",
	})
	require.ErrorIs(t, err, ErrBadRequest)
	assert.Zero(t, h.stage.staged)
	h.assertReleased(t)
}

func TestGenerate_EditFailureStillCleansUp(t *testing.T) {
	h := newHarness(t, true)
	h.editor.err = &editor.APIError{StatusCode: 400, Type: "invalid_request_error", Message: "bad image"}

	_, err := h.svc.Generate(testContext(), model.Upload{
		Filter:      "Pixar",
		Body:        bytes.NewReader(pngBytes(t)),
		Filename:    "cat.png",
		NotifyToken: "device-1",
	})
	require.ErrorIs(t, err, ErrUpstreamFailure)

	var apiErr *editor.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "bad image", apiErr.Message)

	assert.Empty(t, h.notifier.sent)
	assert.Equal(t, 1, h.stage.unstaged)
	assert.Equal(t, []string{metrics.OutcomeUpstreamFailure}, h.metrics.outcomes)
	h.assertReleased(t)
}

func TestGenerate_NoImageData(t *testing.T) {
	h := newHarness(t, true)
	h.editor.resp = editor.EditResponse{}

	_, err := h.svc.Generate(testContext(), model.Upload{
		Filter:   "Pixar",
		Body:     bytes.NewReader(pngBytes(t)),
		Filename: "cat.png",
	})
	require.ErrorIs(t, err, ErrUpstreamFailure)
	require.ErrorIs(t, err, ErrNoImageData)
	h.assertReleased(t)
}

func TestGenerate_StageFailure(t *testing.T) {
	h := newHarness(t, true)
	h.stage.stageErr = object.ErrStorageUnavailable

	_, err := h.svc.Generate(testContext(), model.Upload{
		Filter:   "Pixar",
		Body:     bytes.NewReader(pngBytes(t)),
		Filename: "cat.png",
	})
	require.ErrorIs(t, err, ErrUpstreamFailure)
	require.ErrorIs(t, err, object.ErrStorageUnavailable)
	assert.Zero(t, h.stage.unstaged)
	h.assertReleased(t)
}

func TestGenerate_NotificationFailureIsIgnored(t *testing.T) {
	h := newHarness(t, true)
	h.notifier.err = errors.New("push delivery failed")

	res, err := h.svc.Generate(testContext(), model.Upload{
		Filter:       "Cyberpunk",
		Body:         bytes.NewReader(pngBytes(t)),
		Filename:     "cat.png",
		NotifyUserID: "user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,QUJD", res.ImageURL)
	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, "user-1", h.notifier.sent[0].UserID)
	h.assertReleased(t)
}

func TestGenerate_UnstageFailureDoesNotChangeResult(t *testing.T) {
	h := newHarness(t, true)
	h.stage.unstageErr = object.ErrStorageUnavailable

	res, err := h.svc.Generate(testContext(), model.Upload{
		Filter:   "Ghibli",
		Body:     bytes.NewReader(pngBytes(t)),
		Filename: "cat.png",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ImageURL)

	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGenerate_PanicStillCleansUp(t *testing.T) {
	h := newHarness(t, true)
	h.editor.panics = true

	assert.Panics(t, func() {
		_, _ = h.svc.Generate(testContext(), model.Upload{
			Filter:   "Ghibli",
			Body:     bytes.NewReader(pngBytes(t)),
			Filename: "cat.png",
		})
	})
	h.assertReleased(t)
	assert.Equal(t, []string{metrics.OutcomeFailure}, h.metrics.outcomes)
}
