package batch

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/lehigh-university-libraries/imagebatch/internal/credentials"
	"github.com/lehigh-university-libraries/imagebatch/internal/generation"
	"github.com/lehigh-university-libraries/imagebatch/internal/models"
	"github.com/lehigh-university-libraries/imagebatch/internal/pacing"
)

var pngBase64 = base64.StdEncoding.EncodeToString([]byte("\x89PNG fake"))

type fakeService struct {
	mu       sync.Mutex
	calls    []generation.Request
	failOn   map[string]string
	fileName string
	mimeType string
	before   func(req generation.Request)
}

func (f *fakeService) Generate(ctx context.Context, req generation.Request) (*generation.Response, error) {
	if f.before != nil {
		f.before(req)
	}
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if msg, ok := f.failOn[req.Prompt]; ok {
		return nil, &generation.Error{Status: http.StatusInternalServerError, Message: msg}
	}
	return &generation.Response{ImageBase64: pngBase64, FileName: f.fileName, MIMEType: f.mimeType}, nil
}

type recordingPacer struct {
	waits   []pacing.Outcome
	resets  int
	onWait  func()
	waitErr error
}

func (p *recordingPacer) Wait(ctx context.Context, last pacing.Outcome) error {
	p.waits = append(p.waits, last)
	if p.onWait != nil {
		p.onWait()
	}
	if p.waitErr != nil {
		return p.waitErr
	}
	return ctx.Err()
}

func (p *recordingPacer) Reset() { p.resets++ }

func poolWith(t *testing.T, keys ...string) *credentials.Pool {
	t.Helper()
	p := credentials.NewPool(nil)
	if err := p.Replace(keys, 0); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	return p
}

func TestRunEndToEnd(t *testing.T) {
	svc := &fakeService{}
	pacer := &recordingPacer{}
	r := NewRunner(svc, poolWith(t, "key-a"), pacer)

	n, err := r.Load("red fox\nblue bird")
	if err != nil || n != 2 {
		t.Fatalf("Load returned %d, %v", n, err)
	}

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	items := r.Items()
	wantNames := []string{"001-red-fox.png", "002-blue-bird.png"}
	for i, it := range items {
		if it.Status != models.StatusDone {
			t.Errorf("Item %d: expected done, got %s", i, it.Status)
		}
		if it.FileName != wantNames[i] {
			t.Errorf("Item %d: expected %s, got %s", i, wantNames[i], it.FileName)
		}
		if it.ImageURL != "data:image/png;base64,"+pngBase64 {
			t.Errorf("Item %d: unexpected image url %q", i, it.ImageURL)
		}
		if string(it.ImageData) != "\x89PNG fake" {
			t.Errorf("Item %d: unexpected image data", i)
		}
	}

	state := r.State()
	if state.IsRunning || state.CurrentIndex != 0 {
		t.Errorf("Expected idle state at index 0, got %+v", state)
	}
	if state.Message != FinishedMessage {
		t.Errorf("Expected finished message, got %q", state.Message)
	}
	if summary.Done != 2 || summary.Failed != 0 || summary.Pending != 0 || summary.Total != 2 {
		t.Errorf("Unexpected summary %+v", summary)
	}
	if summary.RunID == "" {
		t.Error("Expected run id")
	}
	for _, c := range svc.calls {
		if c.Credential != "key-a" {
			t.Errorf("Expected single credential reused, got %q", c.Credential)
		}
	}
}

func TestRunUsesServiceFileName(t *testing.T) {
	svc := &fakeService{fileName: "red-fox.png"}
	r := NewRunner(svc, poolWith(t, "k"), &recordingPacer{})
	_, _ = r.Load("red fox")

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := r.Items()[0].FileName; got != "red-fox.png" {
		t.Errorf("Expected service filename, got %s", got)
	}
}

func TestRunIsolatesItemFailures(t *testing.T) {
	svc := &fakeService{failOn: map[string]string{"two": "quota exceeded"}}
	pacer := &recordingPacer{}
	r := NewRunner(svc, poolWith(t, "k"), pacer)
	_, _ = r.Load("one\ntwo\nthree")

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []models.ItemStatus{models.StatusDone, models.StatusError, models.StatusDone}
	for i, it := range r.Items() {
		if it.Status != want[i] {
			t.Errorf("Item %d: expected %s, got %s", i, want[i], it.Status)
		}
	}
	if got := r.Items()[1].Error; got != "quota exceeded" {
		t.Errorf("Expected error message, got %q", got)
	}
	if summary.Done != 2 || summary.Failed != 1 {
		t.Errorf("Unexpected summary %+v", summary)
	}
	if len(pacer.waits) != 2 || pacer.waits[0] != pacing.Success || pacer.waits[1] != pacing.Failure {
		t.Errorf("Expected pacing after items 1 and 2 with their outcomes, got %v", pacer.waits)
	}
}

func TestRunInvalidImagePayload(t *testing.T) {
	svc := &badPayloadService{}
	r := NewRunner(svc, poolWith(t, "k"), &recordingPacer{})
	_, _ = r.Load("fox")

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	it := r.Items()[0]
	if it.Status != models.StatusError || it.Error == "" {
		t.Errorf("Expected error item for malformed payload, got %+v", it)
	}
}

type badPayloadService struct{}

func (badPayloadService) Generate(context.Context, generation.Request) (*generation.Response, error) {
	return &generation.Response{ImageBase64: "%%% not base64"}, nil
}

func TestRunPacesBetweenItemsOnly(t *testing.T) {
	pacer := &recordingPacer{}
	r := NewRunner(&fakeService{}, poolWith(t, "k"), pacer)
	_, _ = r.Load("a\nb\nc\nd")

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(pacer.waits) != 3 {
		t.Errorf("Expected 3 pauses for 4 items, got %d", len(pacer.waits))
	}
	if pacer.resets != 1 {
		t.Errorf("Expected pacer reset once per run, got %d", pacer.resets)
	}
}

func TestRunRotatesCredentialsPerItem(t *testing.T) {
	svc := &fakeService{}
	r := NewRunner(svc, poolWith(t, "k0", "", "k2"), &recordingPacer{})
	_, _ = r.Load("a\nb\nc")

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := []string{"k2", "k0", "k2"}
	for i, c := range svc.calls {
		if c.Credential != want[i] {
			t.Errorf("Call %d: expected %s, got %s", i, want[i], c.Credential)
		}
	}
}

func TestRunPreconditions(t *testing.T) {
	t.Run("empty queue", func(t *testing.T) {
		r := NewRunner(&fakeService{}, poolWith(t, "k"), &recordingPacer{})
		_, _ = r.Load("\n   \n")

		if _, err := r.Run(context.Background()); !errors.Is(err, ErrNoPrompts) {
			t.Errorf("Expected ErrNoPrompts, got %v", err)
		}
	})

	t.Run("no credential", func(t *testing.T) {
		svc := &fakeService{}
		r := NewRunner(svc, poolWith(t, " ", ""), &recordingPacer{})
		_, _ = r.Load("a\nb")

		_, err := r.Run(context.Background())
		if !errors.Is(err, ErrNoCredential) {
			t.Fatalf("Expected ErrNoCredential, got %v", err)
		}
		for _, it := range r.Items() {
			if it.Status != models.StatusPending {
				t.Errorf("Expected pending item, got %s", it.Status)
			}
		}
		if len(svc.calls) != 0 {
			t.Errorf("Expected no service calls, got %d", len(svc.calls))
		}
		if r.State().IsRunning {
			t.Error("Expected runner idle")
		}
	})
}

func TestProcessingPublishedBeforeCallResolves(t *testing.T) {
	var mu sync.Mutex
	var seen []Event

	svc := &fakeService{}
	r := NewRunner(svc, poolWith(t, "k"), &recordingPacer{})
	r.Observe(func(e Event) {
		mu.Lock()
		seen = append(seen, e)
		mu.Unlock()
	})
	_, _ = r.Load("red fox")

	svc.before = func(req generation.Request) {
		mu.Lock()
		defer mu.Unlock()
		last := seen[len(seen)-1]
		if last.Kind != EventItem || last.Item.Status != models.StatusProcessing {
			t.Errorf("Expected processing item event before call, got %+v", last)
		}
		if got := r.State(); !got.IsRunning || got.CurrentIndex != 0 {
			t.Errorf("Expected running state at index 0, got %+v", got)
		}
	}

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	last := seen[len(seen)-1]
	if last.Kind != EventDone || last.Summary == nil || last.Summary.Done != 1 {
		t.Errorf("Expected done event last, got %+v", last)
	}
}

func TestRunStateIndexMatchesItemID(t *testing.T) {
	svc := &fakeService{}
	r := NewRunner(svc, poolWith(t, "k"), &recordingPacer{})
	_, _ = r.Load("a\nb\nc")

	var indexes []int
	svc.before = func(req generation.Request) {
		indexes = append(indexes, r.State().CurrentIndex)
	}

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	expected := []int{0, 1, 2}
	if len(indexes) != len(expected) {
		t.Fatalf("Expected %d calls, got %v", len(expected), indexes)
	}
	for i, want := range expected {
		if indexes[i] != want {
			t.Errorf("Call %d: expected current index %d, got %d", i, want, indexes[i])
		}
	}
}

func TestRunCarriesMIMEType(t *testing.T) {
	tests := []struct {
		name     string
		mimeType string
		expected string
	}{
		{name: "reported", mimeType: "image/jpeg", expected: "image/jpeg"},
		{name: "missing defaults to png", mimeType: "", expected: "image/png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRunner(&fakeService{mimeType: tt.mimeType}, poolWith(t, "k"), &recordingPacer{})
			_, _ = r.Load("red fox")
			if _, err := r.Run(context.Background()); err != nil {
				t.Fatalf("Run failed: %v", err)
			}

			item, _ := r.Item(0)
			if item.MIMEType != tt.expected {
				t.Errorf("Expected MIME type %s, got %s", tt.expected, item.MIMEType)
			}
			if want := "data:" + tt.expected + ";base64," + pngBase64; item.ImageURL != want {
				t.Errorf("Expected image URL %q, got %q", want, item.ImageURL)
			}
		})
	}
}

func TestRunRejectsReentryAndMutationWhileRunning(t *testing.T) {
	r := NewRunner(nil, poolWith(t, "k"), &recordingPacer{})
	svc := &fakeService{}
	svc.before = func(generation.Request) {
		if _, err := r.Run(context.Background()); !errors.Is(err, ErrRunning) {
			t.Errorf("Expected ErrRunning for reentrant Run, got %v", err)
		}
		if _, err := r.Load("other"); !errors.Is(err, ErrRunning) {
			t.Errorf("Expected ErrRunning for Load, got %v", err)
		}
		if err := r.Reset(); !errors.Is(err, ErrRunning) {
			t.Errorf("Expected ErrRunning for Reset, got %v", err)
		}
	}
	r.service = svc
	_, _ = r.Load("fox")

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(r.Items()) != 1 || r.Items()[0].Prompt != "fox" {
		t.Errorf("Expected queue untouched, got %+v", r.Items())
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pacer := &recordingPacer{onWait: cancel}
	r := NewRunner(&fakeService{}, poolWith(t, "k"), pacer)
	_, _ = r.Load("a\nb\nc")

	summary, err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if summary.Done != 1 || summary.Pending != 2 {
		t.Errorf("Expected 1 done and 2 pending, got %+v", summary)
	}
	if r.State().IsRunning {
		t.Error("Expected runner idle after cancellation")
	}
}

func TestRunCancelledDuringCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc := &fakeService{failOn: map[string]string{"a": "context canceled"}}
	svc.before = func(generation.Request) { cancel() }
	r := NewRunner(svc, poolWith(t, "k"), &recordingPacer{})
	_, _ = r.Load("a\nb")

	summary, err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	items := r.Items()
	if items[0].Status != models.StatusError || items[1].Status != models.StatusPending {
		t.Errorf("Expected in-flight item error and the rest pending, got %s/%s", items[0].Status, items[1].Status)
	}
	if summary.Failed != 1 || summary.Pending != 1 {
		t.Errorf("Unexpected summary %+v", summary)
	}
}

func TestBeginReportsPreconditionsSynchronously(t *testing.T) {
	r := NewRunner(&fakeService{}, poolWith(t, "k"), &recordingPacer{})
	if _, _, err := r.Begin(); !errors.Is(err, ErrNoPrompts) {
		t.Fatalf("Expected ErrNoPrompts, got %v", err)
	}

	_, _ = r.Load("fox")
	runID, run, err := r.Begin()
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if !r.State().IsRunning || r.State().RunID != runID {
		t.Errorf("Expected running state for %s, got %+v", runID, r.State())
	}

	summary, err := run(context.Background())
	if err != nil || summary.RunID != runID || summary.Done != 1 {
		t.Errorf("Unexpected run result %+v, %v", summary, err)
	}
}

func TestLoadResetsState(t *testing.T) {
	r := NewRunner(&fakeService{}, poolWith(t, "k"), &recordingPacer{})
	_, _ = r.Load("a\nb")
	_, _ = r.Run(context.Background())

	if _, err := r.Load("c"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	items := r.Items()
	if len(items) != 1 || items[0].Status != models.StatusPending || items[0].ID != 0 {
		t.Errorf("Expected fresh pending queue, got %+v", items)
	}
	if st := r.State(); st.CurrentIndex != 0 || st.Total != 1 || st.Message != "" {
		t.Errorf("Expected reset state, got %+v", st)
	}

	if err := r.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if len(r.Items()) != 0 {
		t.Error("Expected empty queue after Reset")
	}
	if _, ok := r.Item(0); ok {
		t.Error("Expected no item after Reset")
	}
}
