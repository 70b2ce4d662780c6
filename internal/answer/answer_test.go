package answer

import (
	"context"
	"iter"
	"strings"
	"testing"

	"github.com/metaminds/metabrief/internal/apperr"
	"github.com/metaminds/metabrief/pkg/models"
)

type memStore struct {
	matches []models.EntryMatch
	saved   []models.SavedAnswer

	lastVec []float32
	lastMin float64
	lastLim int
}

func (m *memStore) SearchSimilar(ctx context.Context, projectID string, vec []float32, minSimilarity float64, limit int) ([]models.EntryMatch, error) {
	m.lastVec = vec
	m.lastMin = minSimilarity
	m.lastLim = limit
	return m.matches, nil
}

func (m *memStore) SaveAnswer(ctx context.Context, a models.SavedAnswer) error {
	m.saved = append(m.saved, a)
	return nil
}

func (m *memStore) ListSavedAnswers(ctx context.Context, projectID string) ([]models.SavedAnswer, error) {
	return m.saved, nil
}

type fakeClient struct {
	lastPrompt string
	fragments  []string
}

func (f *fakeClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.5, 0.5}, nil
}

func (f *fakeClient) Complete(ctx context.Context, prompt string) (string, error) {
	return "", nil
}

func (f *fakeClient) CompleteStream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	f.lastPrompt = prompt
	return func(yield func(string, error) bool) {
		for _, fr := range f.fragments {
			if !yield(fr, nil) {
				return
			}
		}
	}
}

func (f *fakeClient) Dim() int { return 2 }

func match(file, summary string, sim float64) models.EntryMatch {
	return models.EntryMatch{
		Entry:      models.SemanticEntry{ID: "id-" + file, FileName: file, Content: "content of " + file, Summary: summary},
		Similarity: sim,
	}
}

func TestAskBuildsGroundedPrompt(t *testing.T) {
	st := &memStore{matches: []models.EntryMatch{
		match("auth.go", "handles login", 0.91),
		match("store.go", "persists users", 0.77),
	}}
	client := &fakeClient{fragments: []string{"The ", "login ", "flow..."}}

	ans, err := New(st, client).Ask(context.Background(), "p1", "how does login work?")
	if err != nil {
		t.Fatalf("Ask() = %v", err)
	}
	if len(ans.References) != 2 || ans.References[0].Entry.FileName != "auth.go" {
		t.Errorf("references = %+v", ans.References)
	}
	if st.lastMin != 0.5 || st.lastLim != 10 {
		t.Errorf("search params = (%v, %d)", st.lastMin, st.lastLim)
	}
	if st.lastVec == nil {
		t.Error("question was not embedded")
	}

	var got strings.Builder
	for fr, err := range ans.Stream {
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		got.WriteString(fr)
	}
	if got.String() != "The login flow..." {
		t.Errorf("streamed answer = %q", got.String())
	}

	for _, want := range []string{
		"source: auth.go",
		"summary of file: handles login",
		"code content: content of store.go",
		"how does login work?",
	} {
		if !strings.Contains(client.lastPrompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestAskPreservesRankingOrder(t *testing.T) {
	// The store hands back matches ranked best-first; the engine must keep
	// that order in both the references and the prompt context block.
	st := &memStore{matches: []models.EntryMatch{
		match("router.go", "routes requests", 0.93),
		match("auth.go", "handles login", 0.84),
		match("store.go", "persists users", 0.62),
	}}
	client := &fakeClient{}

	ans, err := New(st, client).Ask(context.Background(), "p1", "where are requests routed?")
	if err != nil {
		t.Fatalf("Ask() = %v", err)
	}

	wantFiles := []string{"router.go", "auth.go", "store.go"}
	if len(ans.References) != len(wantFiles) {
		t.Fatalf("len(references) = %d, want %d", len(ans.References), len(wantFiles))
	}
	for i, want := range wantFiles {
		if got := ans.References[i].Entry.FileName; got != want {
			t.Errorf("references[%d] = %s, want %s", i, got, want)
		}
		if i > 0 && ans.References[i].Similarity > ans.References[i-1].Similarity {
			t.Errorf("references[%d] ranked above a stronger match", i)
		}
	}
	for _, ref := range ans.References {
		if ref.Similarity <= 0.5 {
			t.Errorf("reference %s below the similarity floor: %v", ref.Entry.FileName, ref.Similarity)
		}
	}

	last := -1
	for _, file := range wantFiles {
		idx := strings.Index(client.lastPrompt, "source: "+file)
		if idx < 0 {
			t.Fatalf("prompt missing source %s", file)
		}
		if idx < last {
			t.Errorf("prompt lists %s out of rank order", file)
		}
		last = idx
	}
}

func TestAskEmptyQuestion(t *testing.T) {
	_, err := New(&memStore{}, &fakeClient{}).Ask(context.Background(), "p1", "   ")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("err = %v, want validation", err)
	}
}

func TestAskStreamStopsWhenConsumerDoes(t *testing.T) {
	st := &memStore{}
	client := &fakeClient{fragments: []string{"a", "b", "c", "d"}}

	ans, err := New(st, client).Ask(context.Background(), "p1", "q")
	if err != nil {
		t.Fatalf("Ask() = %v", err)
	}

	var seen []string
	for fr := range ans.Stream {
		seen = append(seen, fr)
		if len(seen) == 2 {
			break
		}
	}
	if len(seen) != 2 {
		t.Errorf("consumed %d fragments, want 2", len(seen))
	}
}

func TestSaveAnswer(t *testing.T) {
	st := &memStore{}
	e := New(st, &fakeClient{})

	saved, err := e.Save(context.Background(), "p1", "u1", "why?", "because.", []models.FileReference{
		{EntryID: "id-auth.go", FileName: "auth.go"},
	})
	if err != nil {
		t.Fatalf("Save() = %v", err)
	}
	if saved.ID == "" {
		t.Error("saved answer has no ID")
	}
	if len(st.saved) != 1 || st.saved[0].Question != "why?" {
		t.Errorf("saved = %+v", st.saved)
	}

	if _, err := e.Save(context.Background(), "p1", "u1", "", "text", nil); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("empty question err = %v, want validation", err)
	}
}
