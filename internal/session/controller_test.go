package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/fakeyudi/scanup/internal/session"
)

// recordingSubmitter captures every payload and replies with err, or with a
// small JSON body when err is nil. When gate is non-nil each Submit blocks
// until a value arrives on it.
type recordingSubmitter struct {
	mu       sync.Mutex
	payloads []*session.Payload
	err      error
	gate     chan struct{}
}

func (r *recordingSubmitter) Submit(ctx context.Context, p *session.Payload) (json.RawMessage, error) {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, p)
	if r.err != nil {
		return nil, r.err
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func (r *recordingSubmitter) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *recordingSubmitter) last(t fataler) *session.Payload {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.payloads) == 0 {
		t.Fatal("no payload submitted")
	}
	return r.payloads[len(r.payloads)-1]
}

// fataler is the part of *testing.T and *rapid.T the helpers need.
type fataler interface {
	Helper()
	Fatal(args ...any)
}

func file(name string) session.FileHandle {
	return session.NewMemoryFile(name, []byte("data:"+name))
}

func names(files []session.FileHandle) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Name()
	}
	return out
}

func wait(t fataler, ch <-chan session.Result) session.Result {
	t.Helper()
	select {
	case res, ok := <-ch:
		if !ok {
			t.Fatal("result channel closed without a result")
		}
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for submission result")
	}
	return session.Result{}
}

// Feature: scanup, Property 1: accumulation is the ordered concatenation of selections
func TestAccumulationConcatenatesSelections(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c := session.NewController(&recordingSubmitter{})
		if err := c.StartSession(rapid.String().Draw(rt, "title")); err != nil {
			rt.Fatalf("StartSession: %v", err)
		}

		// Names are drawn from a small alphabet so duplicates are common.
		nameGen := rapid.SampledFrom([]string{"a.jpg", "b.jpg", "c.png", "d.heic"})
		calls := rapid.IntRange(0, 8).Draw(rt, "calls")

		var want []string
		for i := 0; i < calls; i++ {
			batch := rapid.SliceOfN(nameGen, 0, 5).Draw(rt, fmt.Sprintf("batch_%d", i))
			handles := make([]session.FileHandle, len(batch))
			for j, n := range batch {
				handles[j] = file(n)
			}
			if err := c.FilesSelected(handles...); err != nil {
				rt.Fatalf("FilesSelected: %v", err)
			}
			want = append(want, batch...)
		}

		got := names(c.Files())
		if len(got) != len(want) {
			rt.Fatalf("accumulated %d files, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				rt.Fatalf("file %d: got %q, want %q", i, got[i], want[i])
			}
		}
	})
}

// Feature: scanup, Property 2: submit keys every accumulated file by position
func TestSubmitPayloadKeysFilesByPosition(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		sub := &recordingSubmitter{}
		c := session.NewController(sub)
		title := rapid.String().Draw(rt, "title")
		if err := c.StartSession(title); err != nil {
			rt.Fatalf("StartSession: %v", err)
		}
		n := rapid.IntRange(0, 20).Draw(rt, "n")
		for i := 0; i < n; i++ {
			if err := c.FilesSelected(file(fmt.Sprintf("scan%d.jpg", i))); err != nil {
				rt.Fatalf("FilesSelected: %v", err)
			}
		}

		ch, err := c.Submit(context.Background())
		if err != nil {
			rt.Fatalf("Submit: %v", err)
		}
		if res := wait(rt, ch); !res.OK() {
			rt.Fatalf("unexpected failure: %v", res.Err)
		}

		p := sub.last(rt)
		if p.Title != title {
			rt.Fatalf("title: got %q, want %q", p.Title, title)
		}
		if len(p.Parts) != n {
			rt.Fatalf("parts: got %d, want %d", len(p.Parts), n)
		}
		for i, part := range p.Parts {
			if part.Field != fmt.Sprintf("photos_%d", i) {
				rt.Fatalf("part %d field: got %q", i, part.Field)
			}
			if part.File.Name() != fmt.Sprintf("scan%d.jpg", i) {
				rt.Fatalf("part %d file: got %q", i, part.File.Name())
			}
		}
	})
}

// Feature: scanup, Property 3: StartSession always resets accumulation
func TestStartSessionResetsAccumulation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c := session.NewController(&recordingSubmitter{})
		if err := c.StartSession("first"); err != nil {
			rt.Fatalf("StartSession: %v", err)
		}
		n := rapid.IntRange(0, 10).Draw(rt, "n")
		for i := 0; i < n; i++ {
			_ = c.FilesSelected(file("x.jpg"))
		}
		if err := c.StartSession("second"); err != nil {
			rt.Fatalf("StartSession: %v", err)
		}
		if got := len(c.Files()); got != 0 {
			rt.Fatalf("expected empty accumulation after restart, got %d files", got)
		}
		if c.Title() != "second" {
			rt.Fatalf("title: got %q, want %q", c.Title(), "second")
		}
	})
}

func TestEmptySelectionIsNoOp(t *testing.T) {
	c := session.NewController(&recordingSubmitter{})
	if err := c.StartSession("t"); err != nil {
		t.Fatal(err)
	}
	if err := c.FilesSelected(file("a.jpg")); err != nil {
		t.Fatal(err)
	}
	if err := c.FilesSelected(); err != nil {
		t.Fatalf("empty selection returned error: %v", err)
	}
	if got := names(c.Files()); len(got) != 1 || got[0] != "a.jpg" {
		t.Errorf("files changed by empty selection: %v", got)
	}
	if c.Phase() != session.PhaseAwaitingFiles {
		t.Errorf("phase: got %s, want %s", c.Phase(), session.PhaseAwaitingFiles)
	}
}

func TestScenarioMultipleBrowses(t *testing.T) {
	sub := &recordingSubmitter{}
	c := session.NewController(sub)

	if err := c.StartSession("Grandma's Soup"); err != nil {
		t.Fatal(err)
	}
	if err := c.FilesSelected(file("a.jpg")); err != nil {
		t.Fatal(err)
	}
	if err := c.FilesSelected(file("b.jpg"), file("c.jpg")); err != nil {
		t.Fatal(err)
	}
	ch, err := c.Submit(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	res := wait(t, ch)
	if !res.OK() {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if string(res.Body) != `{"ok":true}` {
		t.Errorf("body: got %s", res.Body)
	}

	p := sub.last(t)
	if p.Title != "Grandma's Soup" {
		t.Errorf("title: got %q", p.Title)
	}
	wantFields := []string{"title", "photos_0", "photos_1", "photos_2"}
	gotFields := p.Fields()
	if len(gotFields) != len(wantFields) {
		t.Fatalf("fields: got %v, want %v", gotFields, wantFields)
	}
	for i := range wantFields {
		if gotFields[i] != wantFields[i] {
			t.Errorf("field %d: got %q, want %q", i, gotFields[i], wantFields[i])
		}
	}
	wantFiles := []string{"a.jpg", "b.jpg", "c.jpg"}
	for i, part := range p.Parts {
		if part.File.Name() != wantFiles[i] {
			t.Errorf("part %d: got %q, want %q", i, part.File.Name(), wantFiles[i])
		}
	}
	if c.Phase() != session.PhaseSubmitted || c.Outcome() != session.OutcomeSucceeded {
		t.Errorf("state after success: %s/%s", c.Phase(), c.Outcome())
	}
}

func TestScenarioEmptyTitleNoFiles(t *testing.T) {
	sub := &recordingSubmitter{}
	c := session.NewController(sub)
	if err := c.StartSession(""); err != nil {
		t.Fatal(err)
	}
	ch, err := c.Submit(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	wait(t, ch)

	p := sub.last(t)
	if p.Title != "" || len(p.Parts) != 0 {
		t.Errorf("payload: got title %q with %d parts", p.Title, len(p.Parts))
	}
}

func TestScenarioRestartDiscardsFirstSession(t *testing.T) {
	sub := &recordingSubmitter{}
	c := session.NewController(sub)
	_ = c.StartSession("X")
	_ = c.FilesSelected(file("a.jpg"))
	_ = c.StartSession("Y")
	_ = c.FilesSelected(file("b.jpg"))

	ch, err := c.Submit(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	wait(t, ch)

	p := sub.last(t)
	if p.Title != "Y" {
		t.Errorf("title: got %q, want %q", p.Title, "Y")
	}
	if len(p.Parts) != 1 || p.Parts[0].Field != "photos_0" || p.Parts[0].File.Name() != "b.jpg" {
		t.Errorf("parts: got %+v", p.Parts)
	}
}

func TestEventsBeforeStartFailWithInvalidState(t *testing.T) {
	tests := []struct {
		name string
		run  func(c *session.Controller) error
	}{
		{"files selected", func(c *session.Controller) error { return c.FilesSelected(file("a.jpg")) }},
		{"empty files selected", func(c *session.Controller) error { return c.FilesSelected() }},
		{"submit", func(c *session.Controller) error { _, err := c.Submit(context.Background()); return err }},
		{"retry", func(c *session.Controller) error { _, err := c.Retry(context.Background()); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := session.NewController(&recordingSubmitter{})
			err := tt.run(c)
			if !errors.Is(err, session.ErrInvalidState) {
				t.Fatalf("expected ErrInvalidState, got %v", err)
			}
			var stateErr *session.StateError
			if !errors.As(err, &stateErr) || stateErr.Phase != session.PhaseIdle {
				t.Errorf("expected *StateError in idle phase, got %#v", err)
			}
			if c.Session() != nil {
				t.Error("expected no session to be created")
			}
			if c.Phase() != session.PhaseError {
				t.Errorf("phase: got %s, want %s", c.Phase(), session.PhaseError)
			}
		})
	}
}

func TestErrorPhaseIsAbsorbingUntilReset(t *testing.T) {
	c := session.NewController(&recordingSubmitter{})
	_ = c.FilesSelected(file("a.jpg"))

	if err := c.StartSession("late"); !errors.Is(err, session.ErrInvalidState) {
		t.Fatalf("StartSession from error: expected ErrInvalidState, got %v", err)
	}
	if c.Phase() != session.PhaseError {
		t.Fatalf("phase: got %s, want error", c.Phase())
	}

	c.Reset()
	if c.Phase() != session.PhaseIdle {
		t.Fatalf("phase after reset: got %s, want idle", c.Phase())
	}
	if err := c.StartSession("fresh"); err != nil {
		t.Fatalf("StartSession after reset: %v", err)
	}
}

func TestSubmitTwiceIsInvalid(t *testing.T) {
	sub := &recordingSubmitter{}
	c := session.NewController(sub)
	_ = c.StartSession("t")
	ch, err := c.Submit(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	wait(t, ch)

	if _, err := c.Submit(context.Background()); !errors.Is(err, session.ErrInvalidState) {
		t.Fatalf("second submit: expected ErrInvalidState, got %v", err)
	}
}

func TestSubmitDoesNotBlockOnSend(t *testing.T) {
	sub := &recordingSubmitter{gate: make(chan struct{})}
	c := session.NewController(sub)
	_ = c.StartSession("t")
	_ = c.FilesSelected(file("a.jpg"))

	ch, err := c.Submit(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c.Phase() != session.PhaseSubmitted || c.Outcome() != session.OutcomePending {
		t.Fatalf("state while in flight: %s/%s", c.Phase(), c.Outcome())
	}
	select {
	case <-ch:
		t.Fatal("result delivered before the send completed")
	default:
	}

	close(sub.gate)
	if res := wait(t, ch); !res.OK() {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if _, ok := <-ch; ok {
		t.Error("expected result channel to be closed after one result")
	}
}

func TestFailedSubmitKeepsFilesAndAllowsRetry(t *testing.T) {
	transportErr := &session.TransportError{Endpoint: "http://example.invalid/", Err: errors.New("connection refused")}
	sub := &recordingSubmitter{err: transportErr}
	var observed []session.Result
	var obsMu sync.Mutex
	c := session.NewController(sub, session.WithObserver(func(r session.Result) {
		obsMu.Lock()
		defer obsMu.Unlock()
		observed = append(observed, r)
	}))

	_ = c.StartSession("Pie")
	_ = c.FilesSelected(file("a.jpg"), file("b.jpg"))

	ch, err := c.Submit(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	res := wait(t, ch)
	if !errors.Is(res.Err, session.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", res.Err)
	}
	if c.Phase() != session.PhaseSubmitted || c.Outcome() != session.OutcomeFailed {
		t.Fatalf("state after failure: %s/%s", c.Phase(), c.Outcome())
	}
	if !errors.Is(c.LastError(), session.ErrTransport) {
		t.Errorf("LastError: got %v", c.LastError())
	}
	if got := names(c.Files()); len(got) != 2 {
		t.Fatalf("files cleared by failure: %v", got)
	}

	sub.setErr(nil)
	ch, err = c.Retry(context.Background())
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	res = wait(t, ch)
	if !res.OK() || res.Attempt != 2 {
		t.Fatalf("retry result: %+v", res)
	}
	if c.Outcome() != session.OutcomeSucceeded {
		t.Errorf("outcome after retry: %s", c.Outcome())
	}

	p := sub.last(t)
	if p.Title != "Pie" || len(p.Parts) != 2 || p.Parts[1].File.Name() != "b.jpg" {
		t.Errorf("retry payload differs: %+v", p)
	}

	obsMu.Lock()
	defer obsMu.Unlock()
	if len(observed) != 2 || observed[0].OK() || !observed[1].OK() {
		t.Errorf("observer saw %+v", observed)
	}
}

func TestRetryAfterSuccessIsInvalid(t *testing.T) {
	c := session.NewController(&recordingSubmitter{})
	_ = c.StartSession("t")
	ch, _ := c.Submit(context.Background())
	wait(t, ch)

	if _, err := c.Retry(context.Background()); !errors.Is(err, session.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestStaleResultDoesNotTouchNewSession(t *testing.T) {
	sub := &recordingSubmitter{gate: make(chan struct{}), err: errors.New("boom")}
	c := session.NewController(sub)
	_ = c.StartSession("old")
	ch, err := c.Submit(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if err := c.StartSession("new"); err != nil {
		t.Fatalf("StartSession while in flight: %v", err)
	}
	close(sub.gate)
	wait(t, ch)

	if c.Phase() != session.PhaseAwaitingFiles || c.Outcome() != session.OutcomeNone {
		t.Errorf("new session disturbed by stale result: %s/%s", c.Phase(), c.Outcome())
	}
	if c.LastError() != nil {
		t.Errorf("LastError leaked from stale result: %v", c.LastError())
	}
}

func TestResetBeforeResultArrivesStaysIdle(t *testing.T) {
	sub := &recordingSubmitter{gate: make(chan struct{})}
	var observed []session.Result
	var mu sync.Mutex
	c := session.NewController(sub, session.WithObserver(func(r session.Result) {
		mu.Lock()
		defer mu.Unlock()
		observed = append(observed, r)
	}))
	_ = c.StartSession("old")
	_ = c.FilesSelected(file("a.jpg"))
	ch, err := c.Submit(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	c.Reset()
	close(sub.gate)
	if res := wait(t, ch); !res.OK() {
		t.Fatalf("in-flight send should still complete: %v", res.Err)
	}

	if c.Phase() != session.PhaseIdle || c.Outcome() != session.OutcomeNone {
		t.Errorf("reset controller disturbed by late result: %s/%s", c.Phase(), c.Outcome())
	}
	if c.Session() != nil || len(c.Files()) != 0 {
		t.Errorf("late result recreated a session: %+v", c.Session())
	}
	if _, err := c.Retry(context.Background()); !errors.Is(err, session.ErrInvalidState) {
		t.Errorf("Retry after Reset: got %v, want ErrInvalidState", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(observed) != 1 {
		t.Errorf("observers: got %d results, want 1", len(observed))
	}
}

func TestPayloadIsSnapshotAtSubmit(t *testing.T) {
	files := []session.FileHandle{file("a.jpg")}
	p := session.NewPayload("id", "t", files)
	files[0] = file("changed.jpg")
	if p.Parts[0].File.Name() != "a.jpg" {
		t.Errorf("payload shares backing array with caller: %q", p.Parts[0].File.Name())
	}
}

func TestSessionUsesInjectedIDAndClock(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := session.NewController(&recordingSubmitter{},
		session.WithIDGenerator(func() string { return "fixed-id" }),
		session.WithClock(func() time.Time { return at }),
	)
	_ = c.StartSession("t")
	s := c.Session()
	if s.ID != "fixed-id" || !s.StartedAt.Equal(at) {
		t.Errorf("session: got %+v", s)
	}
}
