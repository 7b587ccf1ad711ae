package router

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/pixmix-relay/internal/api/handlers/device"
	"github.com/aliskhannn/pixmix-relay/internal/api/handlers/generate"
	"github.com/aliskhannn/pixmix-relay/internal/api/handlers/health"
	"github.com/aliskhannn/pixmix-relay/internal/converter"
	"github.com/aliskhannn/pixmix-relay/internal/editor"
	"github.com/aliskhannn/pixmix-relay/internal/model"
	"github.com/aliskhannn/pixmix-relay/internal/prompt"
	gensvc "github.com/aliskhannn/pixmix-relay/internal/service/generate"
	"github.com/aliskhannn/pixmix-relay/internal/storage/file"
)

// memStage is an in-memory bucket.
type memStage struct {
	mu      sync.Mutex
	seq     int
	objects map[string][]byte
}

func (m *memStage) Stage(_ context.Context, localPath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	handle := fmt.Sprintf("mem://uploads/%d%s", m.seq, filepath.Ext(localPath))
	m.objects[handle] = data
	return handle, nil
}

func (m *memStage) OpenReadStream(_ context.Context, handle string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[handle]
	if !ok {
		return nil, errors.New("no such object")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStage) Unstage(_ context.Context, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, handle)
	return nil
}

func (m *memStage) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// promptEditor records the prompt and image it was asked to edit.
type promptEditor struct {
	mu      sync.Mutex
	prompts []string
	images  [][]byte
}

func (e *promptEditor) Edit(_ context.Context, req editor.EditRequest) (editor.EditResponse, error) {
	data, err := io.ReadAll(req.Image)
	if err != nil {
		return editor.EditResponse{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.prompts = append(e.prompts, req.Prompt)
	e.images = append(e.images, data)
	return editor.EditResponse{Data: []editor.ImageData{{URL: "https://cdn.example.com/edited.png"}}}, nil
}

func TestGenerate_ThroughPipeline(t *testing.T) {
	dir := t.TempDir()
	sp, err := file.NewSpool(dir, 1<<20)
	require.NoError(t, err)

	stage := &memStage{objects: map[string][]byte{}}
	ed := &promptEditor{}
	prompts := prompt.New()

	svc := gensvc.NewService(sp, converter.New(), prompts, stage, ed, nil, nil, true)

	r := Setup(Handlers{
		Generate: generate.NewHandler(svc, 1<<20),
		Probe:    generate.NewProbeHandler(converter.New(), stubEditor{}),
		Device:   device.NewHandler(&memRegistry{regs: map[string]model.DeviceRegistration{}}),
		Health:   health.NewHandler(prompts),
	}, Options{})

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.RGBA{G: 255, A: 255})
	var pic bytes.Buffer
	require.NoError(t, png.Encode(&pic, img))

	for _, filter := range []string{"Ghibli", "Unknown"} {
		t.Run(filter, func(t *testing.T) {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			require.NoError(t, mw.WriteField("filter", filter))
			fw, err := mw.CreateFormFile("image", "cat.png")
			require.NoError(t, err)
			_, err = fw.Write(pic.Bytes())
			require.NoError(t, err)
			require.NoError(t, mw.Close())

			req := httptest.NewRequest(http.MethodPost, "/generate", &buf)
			req.Header.Set("Content-Type", mw.FormDataContentType())

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"imageUrl":"https://cdn.example.com/edited.png"}`, rec.Body.String())

			ed.mu.Lock()
			last := ed.prompts[len(ed.prompts)-1]
			sent := ed.images[len(ed.images)-1]
			ed.mu.Unlock()
			assert.Equal(t, prompts.Resolve(filter), last)
			assert.NotEmpty(t, sent)

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries, "temp files left in upload dir")
			assert.Zero(t, stage.len(), "staged objects left in bucket")
		})
	}
}
