package meetings

import (
	"bytes"
	"context"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/metaminds/metabrief/internal/apperr"
	"github.com/metaminds/metabrief/pkg/models"
)

type memStore struct {
	meetings map[string]models.Meeting
	issues   []models.Issue
	statuses []models.MeetingStatus
	lastName string
}

func newMemStore(ms ...models.Meeting) *memStore {
	st := &memStore{meetings: map[string]models.Meeting{}}
	for _, m := range ms {
		st.meetings[m.ID] = m
	}
	return st
}

func (m *memStore) CreateMeeting(ctx context.Context, meeting models.Meeting) error {
	m.meetings[meeting.ID] = meeting
	return nil
}

func (m *memStore) GetMeeting(ctx context.Context, id string) (models.Meeting, error) {
	meeting, ok := m.meetings[id]
	if !ok {
		return models.Meeting{}, apperr.E(apperr.KindNotFound, "meeting %s not found", id)
	}
	return meeting, nil
}

func (m *memStore) UpdateMeetingStatus(ctx context.Context, id string, status models.MeetingStatus, name string) error {
	meeting, ok := m.meetings[id]
	if !ok {
		return apperr.E(apperr.KindNotFound, "meeting %s not found", id)
	}
	meeting.Status = status
	if name != "" {
		meeting.Name = name
	}
	m.meetings[id] = meeting
	m.statuses = append(m.statuses, status)
	m.lastName = name
	return nil
}

func (m *memStore) InsertIssues(ctx context.Context, issues []models.Issue) error {
	m.issues = append(m.issues, issues...)
	return nil
}

type fakeSpeech struct {
	uploaded   []byte
	transcript Transcript
	lastOpts   TranscribeOptions
}

func (f *fakeSpeech) Upload(ctx context.Context, data []byte) (string, error) {
	f.uploaded = data
	return "https://speech.example/audio/1", nil
}

func (f *fakeSpeech) Transcribe(ctx context.Context, audioURL string, opts TranscribeOptions) (Transcript, error) {
	f.lastOpts = opts
	return f.transcript, nil
}

// scriptedClient returns canned completions in order.
type scriptedClient struct {
	replies []string
	calls   int
}

func (s *scriptedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1}, nil
}

func (s *scriptedClient) Complete(ctx context.Context, prompt string) (string, error) {
	if s.calls >= len(s.replies) {
		return "", nil
	}
	r := s.replies[s.calls]
	s.calls++
	return r, nil
}

func (s *scriptedClient) CompleteStream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {}
}

func (s *scriptedClient) Dim() int { return 1 }

type memObjects struct {
	key, contentType string
	data             []byte
}

func (m *memObjects) Put(ctx context.Context, key, contentType string, r io.Reader, size int64) (string, error) {
	m.key = key
	m.contentType = contentType
	m.data, _ = io.ReadAll(r)
	return "https://objects.example/" + key, nil
}

func audioServer(t *testing.T, contentType string, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newService(st Store, speech Transcriber, client *scriptedClient, objects *memObjects) *Service {
	if client == nil {
		client = &scriptedClient{}
	}
	if objects == nil {
		objects = &memObjects{}
	}
	return NewService(st, speech, client, objects)
}

func TestProcessDirectMode(t *testing.T) {
	srv := audioServer(t, "audio/mpeg", []byte("mp3-bytes"))
	st := newMemStore(models.Meeting{ID: "m1", ProjectID: "p1", URL: srv.URL, Status: models.MeetingProcessing})
	speech := &fakeSpeech{transcript: Transcript{
		Text: "full transcript",
		Chapters: []SpeechChapter{
			{StartMS: 0, EndMS: 90000, Gist: "intro", Headline: "Kickoff", Summary: "The team kicks off."},
			{StartMS: 90000, EndMS: 300000, Gist: "plans", Headline: "Roadmap", Summary: "Plans are discussed."},
		},
	}}

	svc := newService(st, speech, nil, nil)
	issues, err := svc.Process(context.Background(), ProcessRequest{MeetingID: "m1", MeetingURL: srv.URL, ProjectID: "p1"})
	if err != nil {
		t.Fatalf("Process() = %v", err)
	}
	if len(issues) != 2 {
		t.Fatalf("len(issues) = %d, want 2", len(issues))
	}
	if issues[0].Start != "00:00" || issues[0].End != "01:30" {
		t.Errorf("issue offsets = %s..%s", issues[0].Start, issues[0].End)
	}
	if issues[1].Start != "01:30" || issues[1].End != "05:00" {
		t.Errorf("issue offsets = %s..%s", issues[1].Start, issues[1].End)
	}
	if !bytes.Equal(speech.uploaded, []byte("mp3-bytes")) {
		t.Error("downloaded audio was not handed to the speech service")
	}
	if !speech.lastOpts.AutoChapters || speech.lastOpts.LanguageCode != "" {
		t.Errorf("transcribe opts = %+v", speech.lastOpts)
	}

	m := st.meetings["m1"]
	if m.Status != models.MeetingCompleted {
		t.Errorf("status = %s, want COMPLETED", m.Status)
	}
	if m.Name != "Kickoff" {
		t.Errorf("meeting renamed to %q, want first headline", m.Name)
	}
}

func TestProcessTranslateMode(t *testing.T) {
	srv := audioServer(t, "audio/wav", []byte("wav-bytes"))
	st := newMemStore(models.Meeting{ID: "m1", ProjectID: "p1", URL: srv.URL, Status: models.MeetingProcessing})
	speech := &fakeSpeech{transcript: Transcript{Text: "transcriere in romana"}}
	client := &scriptedClient{replies: []string{
		"transcript in english",
		`Here it is: [{"start":"00:00","end":"06:00","gist":"g","headline":"Sprint Review","summary":"s"}]`,
	}}

	svc := newService(st, speech, client, nil)
	issues, err := svc.Process(context.Background(), ProcessRequest{MeetingID: "m1", MeetingURL: srv.URL, ProjectID: "p1", Language: "ro"})
	if err != nil {
		t.Fatalf("Process() = %v", err)
	}
	if len(issues) != 1 || issues[0].Headline != "Sprint Review" {
		t.Errorf("issues = %+v", issues)
	}
	if speech.lastOpts.LanguageCode != "ro" || speech.lastOpts.AutoChapters {
		t.Errorf("transcribe opts = %+v", speech.lastOpts)
	}
	if client.calls != 2 {
		t.Errorf("model calls = %d, want 2 (translate, then chapterize)", client.calls)
	}
	if st.meetings["m1"].Status != models.MeetingCompleted {
		t.Errorf("status = %s", st.meetings["m1"].Status)
	}
}

func TestProcessRejectsNonAudioContent(t *testing.T) {
	srv := audioServer(t, "text/html", []byte("<html>not audio</html>"))
	st := newMemStore(models.Meeting{ID: "m1", ProjectID: "p1", URL: srv.URL, Status: models.MeetingProcessing})

	svc := newService(st, &fakeSpeech{}, nil, nil)
	_, err := svc.Process(context.Background(), ProcessRequest{MeetingID: "m1", MeetingURL: srv.URL, ProjectID: "p1"})
	if !apperr.Is(err, apperr.KindUpstream) {
		t.Fatalf("err = %v, want upstream", err)
	}
	if st.meetings["m1"].Status != models.MeetingFailed {
		t.Errorf("status = %s, want FAILED", st.meetings["m1"].Status)
	}
	if len(st.issues) != 0 {
		t.Errorf("issues persisted for a failed meeting: %+v", st.issues)
	}
	for _, s := range st.statuses {
		if s == models.MeetingCompleted {
			t.Error("failed meeting passed through COMPLETED")
		}
	}
}

func TestProcessFailsOnEmptyTranscript(t *testing.T) {
	srv := audioServer(t, "audio/mpeg", []byte("mp3"))
	st := newMemStore(models.Meeting{ID: "m1", URL: srv.URL, Status: models.MeetingProcessing})

	svc := newService(st, &fakeSpeech{transcript: Transcript{}}, nil, nil)
	_, err := svc.Process(context.Background(), ProcessRequest{MeetingID: "m1", MeetingURL: srv.URL})
	if !apperr.Is(err, apperr.KindUpstream) {
		t.Fatalf("err = %v, want upstream", err)
	}
	if st.meetings["m1"].Status != models.MeetingFailed {
		t.Errorf("status = %s, want FAILED", st.meetings["m1"].Status)
	}
}

func TestProcessFailsOnMalformedChapterJSON(t *testing.T) {
	srv := audioServer(t, "audio/mpeg", []byte("mp3"))
	st := newMemStore(models.Meeting{ID: "m1", URL: srv.URL, Status: models.MeetingProcessing})
	client := &scriptedClient{replies: []string{"english text", "sorry, no JSON today"}}

	svc := newService(st, &fakeSpeech{transcript: Transcript{Text: "ceva"}}, client, nil)
	_, err := svc.Process(context.Background(), ProcessRequest{MeetingID: "m1", MeetingURL: srv.URL, Language: "ro"})
	if !apperr.Is(err, apperr.KindFormat) {
		t.Fatalf("err = %v, want format", err)
	}
	if st.meetings["m1"].Status != models.MeetingFailed {
		t.Errorf("status = %s, want FAILED", st.meetings["m1"].Status)
	}
}

func TestProcessHonorsCallerBudget(t *testing.T) {
	srv := audioServer(t, "audio/mpeg", []byte("mp3"))
	st := newMemStore(models.Meeting{ID: "m1", URL: srv.URL, Status: models.MeetingProcessing})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := newService(st, &fakeSpeech{}, nil, nil)
	_, err := svc.Process(ctx, ProcessRequest{MeetingID: "m1", MeetingURL: srv.URL})
	if err == nil {
		t.Fatal("expired budget did not abort processing")
	}
	if st.meetings["m1"].Status != models.MeetingFailed {
		t.Errorf("status = %s, want FAILED", st.meetings["m1"].Status)
	}
}

func TestProcessUnknownMeeting(t *testing.T) {
	svc := newService(newMemStore(), &fakeSpeech{}, nil, nil)
	_, err := svc.Process(context.Background(), ProcessRequest{MeetingID: "nope"})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("err = %v, want not_found", err)
	}
}

func TestUploadAudio(t *testing.T) {
	st := newMemStore()
	objects := &memObjects{}
	svc := newService(st, &fakeSpeech{}, nil, objects)

	meeting, err := svc.UploadAudio(context.Background(), "p1", "standup.mp3", "audio/mpeg",
		strings.NewReader("bytes"), 5)
	if err != nil {
		t.Fatalf("UploadAudio() = %v", err)
	}
	if meeting.Status != models.MeetingProcessing {
		t.Errorf("status = %s, want PROCESSING", meeting.Status)
	}
	if !strings.HasSuffix(objects.key, "-standup.mp3") {
		t.Errorf("object key = %q", objects.key)
	}
	if objects.contentType != "audio/mpeg" {
		t.Errorf("content type = %q", objects.contentType)
	}
	if meeting.URL != "https://objects.example/"+objects.key {
		t.Errorf("meeting URL = %q", meeting.URL)
	}
	if _, ok := st.meetings[meeting.ID]; !ok {
		t.Error("meeting not persisted")
	}

	if _, err := svc.UploadAudio(context.Background(), "p1", "", "audio/mpeg", strings.NewReader(""), 0); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("empty name err = %v, want validation", err)
	}
}
