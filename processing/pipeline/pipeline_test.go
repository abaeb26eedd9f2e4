package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"platecam/internal/artifact"
	"platecam/internal/models"
	"platecam/internal/report"
	processing "platecam/processing/detector"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	dets  []models.Detection
	err   error
	block bool
	calls atomic.Int32
}

func (f *fakeDetector) Detect(ctx context.Context, _ image.Image) ([]models.Detection, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.dets, f.err
}

type panicDetector struct{}

func (panicDetector) Detect(context.Context, image.Image) ([]models.Detection, error) {
	panic("model exploded")
}

type fakeRecognizer struct {
	texts []string
	err   error
	// failOn makes only that call (1-based) return err.
	failOn int32
	calls  atomic.Int32
}

func (f *fakeRecognizer) Recognize(_ context.Context, crop image.Image) (models.Recognition, error) {
	n := f.calls.Add(1)
	if f.err != nil && (f.failOn == 0 || f.failOn == n) {
		return models.Recognition{}, f.err
	}
	b := crop.Bounds()
	rec := models.Recognition{Engine: "fake", Width: b.Dx(), Height: b.Dy()}
	for i, t := range f.texts {
		rec.Fragments = append(rec.Fragments, models.Fragment{
			Text:       t,
			Confidence: 0.9,
			Box:        models.Box{X1: i * 10, Y1: 1, X2: i*10 + 8, Y2: b.Dy() - 2},
		})
	}
	return rec, nil
}

type upload struct {
	text      string
	fullImage bool
	plate     bool
}

type endpoint struct {
	mu      sync.Mutex
	uploads []upload
	srv     *httptest.Server
}

func newEndpoint(t *testing.T) *endpoint {
	e := &endpoint{}
	e.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		u := upload{text: r.FormValue(report.FieldPlateText)}
		_, _, err := r.FormFile(report.FieldFullImage)
		u.fullImage = err == nil
		_, _, err = r.FormFile(report.FieldPlateImage)
		u.plate = err == nil

		e.mu.Lock()
		e.uploads = append(e.uploads, u)
		e.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(e.srv.Close)
	return e
}

func (e *endpoint) received() []upload {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]upload(nil), e.uploads...)
}

func testFrame() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 200; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	return img
}

func plateDetection() []models.Detection {
	return []models.Detection{{Label: "plate", Confidence: 0.8, Box: models.Box{X1: 50, Y1: 25, X2: 150, Y2: 75}}}
}

func newStore(t *testing.T) *artifact.Store {
	store, err := artifact.NewStore(filepath.Join(t.TempDir(), "output"), 0)
	require.NoError(t, err)
	return store
}

func TestRun_Success(t *testing.T) {
	ep := newEndpoint(t)
	store := newStore(t)
	rec := &fakeRecognizer{texts: []string{"ABC", "123"}}
	p := New(&fakeDetector{dets: plateDetection()}, rec, store, report.NewUploader(ep.srv.URL, time.Second))

	res := p.Run(context.Background(), testFrame())

	require.Equal(t, models.ResultSuccess, res.Kind, res.Message)
	assert.Equal(t, "ABC123", res.Text())
	require.Len(t, res.Plates, 1)

	plate := res.Plates[0]
	assert.True(t, plate.Upload.Delivered)
	assert.Equal(t, http.StatusCreated, plate.Upload.Status)
	require.NotNil(t, res.Image())
	assert.Equal(t, image.Rect(0, 0, 100, 50), res.Image().Bounds())

	dir := filepath.Join(store.Root(), res.RunID)
	for _, name := range []string{artifact.FrameFile, artifact.PlateFile(0), artifact.RecognizedFile(0), artifact.RecordFile(0)} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	assert.Equal(t, filepath.Join(dir, artifact.RecognizedFile(0)), plate.Record.PlateImagePath)

	got := ep.received()
	require.Len(t, got, 1)
	assert.Equal(t, upload{text: "ABC123", fullImage: true, plate: true}, got[0])
}

func TestRun_NoDetection(t *testing.T) {
	ep := newEndpoint(t)
	rec := &fakeRecognizer{texts: []string{"X"}}
	det := &fakeDetector{}
	p := New(det, rec, newStore(t), report.NewUploader(ep.srv.URL, time.Second))

	res := p.Run(context.Background(), testFrame())

	assert.Equal(t, models.ResultNoDetection, res.Kind)
	assert.Equal(t, models.NoPlateDetected, res.Text())
	assert.Nil(t, res.Image())
	assert.Equal(t, int32(1), det.calls.Load())
	assert.Zero(t, rec.calls.Load())
	assert.Empty(t, ep.received())
}

func TestRun_DetectionsOutsideFrameCountAsNone(t *testing.T) {
	det := &fakeDetector{dets: []models.Detection{{Box: models.Box{X1: 300, Y1: 300, X2: 400, Y2: 400}}}}
	rec := &fakeRecognizer{}
	p := New(det, rec, newStore(t), nil)

	res := p.Run(context.Background(), testFrame())

	assert.Equal(t, models.ResultNoDetection, res.Kind)
	assert.Zero(t, rec.calls.Load())
}

func TestRun_EmptyOCRIsUnknown(t *testing.T) {
	ep := newEndpoint(t)
	p := New(&fakeDetector{dets: plateDetection()}, &fakeRecognizer{}, newStore(t), report.NewUploader(ep.srv.URL, time.Second))

	res := p.Run(context.Background(), testFrame())

	require.Equal(t, models.ResultSuccess, res.Kind)
	assert.Equal(t, models.UnknownPlate, res.Text())
	got := ep.received()
	require.Len(t, got, 1)
	assert.Equal(t, models.UnknownPlate, got[0].text)
}

func TestRun_UnreachableEndpointStillSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := New(&fakeDetector{dets: plateDetection()}, &fakeRecognizer{texts: []string{"ABC123"}}, newStore(t), report.NewUploader(url, time.Second))

	res := p.Run(context.Background(), testFrame())

	require.Equal(t, models.ResultSuccess, res.Kind)
	assert.Equal(t, "ABC123", res.Text())
	up := res.Plates[0].Upload
	assert.True(t, up.Attempted)
	assert.False(t, up.Delivered)
	assert.Error(t, up.Err)
}

func TestRun_Failures(t *testing.T) {
	tests := []struct {
		name string
		det  processing.Detector
		rec  *fakeRecognizer
		kind models.ErrorKind
	}{
		{"detector error", &fakeDetector{err: errors.New("boom")}, &fakeRecognizer{}, models.ErrKindDetect},
		{"recognizer error", &fakeDetector{dets: plateDetection()}, &fakeRecognizer{err: errors.New("ocr down")}, models.ErrKindRecognize},
		{"panic", panicDetector{}, &fakeRecognizer{}, models.ErrKindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.det, tt.rec, newStore(t), nil)
			res := p.Run(context.Background(), testFrame())

			assert.Equal(t, models.ResultFailure, res.Kind)
			assert.Equal(t, tt.kind, res.ErrKind)
			assert.NotEmpty(t, res.Text())
			assert.Zero(t, p.InFlight())
		})
	}
}

func TestRun_PanicKeepsRunID(t *testing.T) {
	store := newStore(t)
	p := New(panicDetector{}, &fakeRecognizer{}, store, nil)

	res := p.Run(context.Background(), testFrame())

	require.Equal(t, models.ResultFailure, res.Kind)
	assert.Equal(t, models.ErrKindInternal, res.ErrKind)
	require.NotEmpty(t, res.RunID)
	assert.FileExists(t, filepath.Join(store.Root(), res.RunID, artifact.FrameFile))
}

func TestRun_PolicyAllPartialFailure(t *testing.T) {
	ep := newEndpoint(t)
	dets := []models.Detection{
		{Label: "a", Confidence: 0.7, Box: models.Box{X1: 0, Y1: 0, X2: 60, Y2: 30}},
		{Label: "b", Confidence: 0.9, Box: models.Box{X1: 100, Y1: 50, X2: 180, Y2: 90}},
	}
	rec := &fakeRecognizer{texts: []string{"ABC123"}, err: errors.New("ocr down"), failOn: 2}
	p := New(&fakeDetector{dets: dets}, rec, newStore(t), report.NewUploader(ep.srv.URL, time.Second), WithPolicy(processing.PolicyAll))

	res := p.Run(context.Background(), testFrame())

	require.Equal(t, models.ResultSuccess, res.Kind, res.Message)
	require.Len(t, res.Plates, 2)
	assert.True(t, res.Plates[0].OK())
	assert.True(t, res.Plates[0].Upload.Delivered)
	assert.False(t, res.Plates[1].OK())
	assert.Equal(t, models.ErrKindRecognize, res.Plates[1].ErrKind)
	assert.Equal(t, "ABC123", res.Text())
	assert.NotNil(t, res.Image())

	got := ep.received()
	require.Len(t, got, 1)
	assert.Equal(t, "ABC123", got[0].text)
}

func TestRun_PolicyAllEveryPlateFails(t *testing.T) {
	dets := []models.Detection{
		{Box: models.Box{X1: 0, Y1: 0, X2: 60, Y2: 30}},
		{Box: models.Box{X1: 100, Y1: 50, X2: 180, Y2: 90}},
	}
	rec := &fakeRecognizer{err: errors.New("ocr down")}
	p := New(&fakeDetector{dets: dets}, rec, newStore(t), nil, WithPolicy(processing.PolicyAll))

	res := p.Run(context.Background(), testFrame())

	assert.Equal(t, models.ResultFailure, res.Kind)
	assert.Equal(t, models.ErrKindRecognize, res.ErrKind)
	assert.Len(t, res.Plates, 2)
	assert.Nil(t, res.Image())
	assert.Equal(t, int32(2), rec.calls.Load())
}

func TestRun_EmptyFrame(t *testing.T) {
	det := &fakeDetector{}
	p := New(det, &fakeRecognizer{}, newStore(t), nil)

	res := p.Run(context.Background(), image.NewRGBA(image.Rectangle{}))

	assert.Equal(t, models.ResultFailure, res.Kind)
	assert.Equal(t, models.ErrKindCapture, res.ErrKind)
	assert.Zero(t, det.calls.Load())
}

func TestRun_Timeout(t *testing.T) {
	p := New(&fakeDetector{block: true}, &fakeRecognizer{}, newStore(t), nil, WithTimeout(20*time.Millisecond))

	res := p.Run(context.Background(), testFrame())

	assert.Equal(t, models.ResultFailure, res.Kind)
	assert.Equal(t, models.ErrKindDetect, res.ErrKind)
	assert.Contains(t, res.Message, context.DeadlineExceeded.Error())
}

func TestRun_Policies(t *testing.T) {
	dets := []models.Detection{
		{Label: "a", Confidence: 0.3, Box: models.Box{X1: 0, Y1: 0, X2: 40, Y2: 20}},
		{Label: "b", Confidence: 0.9, Box: models.Box{X1: 100, Y1: 50, X2: 180, Y2: 90}},
	}

	p := New(&fakeDetector{dets: dets}, &fakeRecognizer{texts: []string{"P1"}}, newStore(t), nil, WithPolicy(processing.PolicyAll))
	res := p.Run(context.Background(), testFrame())
	require.Len(t, res.Plates, 2)
	assert.Equal(t, "P1, P1", res.Text())

	p = New(&fakeDetector{dets: dets}, &fakeRecognizer{texts: []string{"P1"}}, newStore(t), nil, WithPolicy(processing.PolicyHighestConfidence))
	res = p.Run(context.Background(), testFrame())
	require.Len(t, res.Plates, 1)
	assert.Equal(t, "b", res.Plates[0].Detection.Label)

	p = New(&fakeDetector{dets: dets}, &fakeRecognizer{texts: []string{"P1"}}, newStore(t), nil)
	res = p.Run(context.Background(), testFrame())
	require.Len(t, res.Plates, 1)
	assert.Equal(t, "a", res.Plates[0].Detection.Label)
}

type countingObserver struct {
	mu    sync.Mutex
	kinds []models.ResultKind
}

func (o *countingObserver) ObserveRun(res models.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.kinds = append(o.kinds, res.Kind)
}

func TestTrigger_Concurrent(t *testing.T) {
	ep := newEndpoint(t)
	obs := &countingObserver{}
	p := New(&fakeDetector{dets: plateDetection()}, &fakeRecognizer{texts: []string{"ABC123"}}, newStore(t),
		report.NewUploader(ep.srv.URL, time.Second), WithObserver(obs))

	const n = 8
	results := make(chan models.Result, n)
	for i := 0; i < n; i++ {
		p.Trigger(context.Background(), testFrame(), func(res models.Result) { results <- res })
	}

	ids := map[string]bool{}
	for i := 0; i < n; i++ {
		select {
		case res := <-results:
			assert.Equal(t, models.ResultSuccess, res.Kind, res.Message)
			assert.Equal(t, "ABC123", res.Text())
			ids[res.RunID] = true
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for results")
		}
	}

	assert.Len(t, ids, n)
	assert.Len(t, ep.received(), n)
	assert.Eventually(t, func() bool { return p.InFlight() == 0 }, time.Second, 10*time.Millisecond)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Len(t, obs.kinds, n)
}

func TestRun_PrunesOldRuns(t *testing.T) {
	store, err := artifact.NewStore(t.TempDir(), 2)
	require.NoError(t, err)
	p := New(&fakeDetector{}, &fakeRecognizer{}, store, nil)

	for i := 0; i < 4; i++ {
		p.Run(context.Background(), testFrame())
		time.Sleep(5 * time.Millisecond)
	}

	entries, err := os.ReadDir(store.Root())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
