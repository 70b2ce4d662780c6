// Package meetings processes uploaded meeting audio: transcription,
// optional translation, chapterization and issue persistence. A meeting
// created in PROCESSING reaches exactly one terminal state.
package meetings

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/metaminds/metabrief/internal/ai"
	"github.com/metaminds/metabrief/internal/apperr"
	"github.com/metaminds/metabrief/internal/modelout"
	"github.com/metaminds/metabrief/internal/objstore"
	"github.com/metaminds/metabrief/pkg/models"
)

// Store is the persistence surface the pipeline needs.
type Store interface {
	CreateMeeting(ctx context.Context, m models.Meeting) error
	GetMeeting(ctx context.Context, id string) (models.Meeting, error)
	UpdateMeetingStatus(ctx context.Context, id string, status models.MeetingStatus, name string) error
	InsertIssues(ctx context.Context, issues []models.Issue) error
}

// ProcessRequest identifies one meeting-processing run. Language selects
// translate mode when non-empty (e.g. "ro"); the transcript is then
// translated to English before chapterization.
type ProcessRequest struct {
	MeetingID  string
	MeetingURL string
	ProjectID  string
	Language   string
}

// Service drives the meeting state machine.
type Service struct {
	Store   Store
	Speech  Transcriber
	Client  ai.Client
	Objects objstore.Storage
	HTTP    *http.Client
}

func NewService(store Store, speech Transcriber, client ai.Client, objects objstore.Storage) *Service {
	return &Service{
		Store:   store,
		Speech:  speech,
		Client:  client,
		Objects: objects,
		HTTP:    http.DefaultClient,
	}
}

// UploadAudio stores raw audio in object storage and registers a meeting in
// PROCESSING pointing at the stored object's URL.
func (s *Service) UploadAudio(ctx context.Context, projectID, name, contentType string, r io.Reader, size int64) (models.Meeting, error) {
	if name == "" {
		return models.Meeting{}, apperr.E(apperr.KindValidation, "meeting name is required")
	}
	key := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), name)
	url, err := s.Objects.Put(ctx, key, contentType, r, size)
	if err != nil {
		return models.Meeting{}, apperr.Wrap(apperr.KindUpstream, err, "audio upload")
	}

	meeting := models.Meeting{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		URL:       url,
		Name:      name,
		Status:    models.MeetingProcessing,
	}
	if err := s.Store.CreateMeeting(ctx, meeting); err != nil {
		return models.Meeting{}, err
	}
	return meeting, nil
}

// Process runs a meeting to a terminal state. Any unrecoverable failure
// transitions the meeting to FAILED and is returned to the caller; PROCESSING
// is never a resting state after this call returns.
func (s *Service) Process(ctx context.Context, req ProcessRequest) ([]models.Issue, error) {
	if _, err := s.Store.GetMeeting(ctx, req.MeetingID); err != nil {
		return nil, err
	}

	issues, err := s.process(ctx, req)
	if err != nil {
		if ferr := s.Store.UpdateMeetingStatus(ctx, req.MeetingID, models.MeetingFailed, ""); ferr != nil {
			log.Error().Err(ferr).Str("meeting", req.MeetingID).Msg("failed to mark meeting FAILED")
		}
		return nil, err
	}
	return issues, nil
}

func (s *Service) process(ctx context.Context, req ProcessRequest) ([]models.Issue, error) {
	audio, err := s.downloadAudio(ctx, req.MeetingURL)
	if err != nil {
		return nil, err
	}

	uploadURL, err := s.Speech.Upload(ctx, audio)
	if err != nil {
		return nil, err
	}

	var chapters []modelout.Chapter
	if req.Language == "" {
		chapters, err = s.directChapters(ctx, uploadURL)
	} else {
		chapters, err = s.translatedChapters(ctx, uploadURL, req.Language)
	}
	if err != nil {
		return nil, err
	}
	if len(chapters) == 0 {
		return nil, apperr.E(apperr.KindUpstream, "no chapters produced for meeting %s", req.MeetingID)
	}

	issues := make([]models.Issue, len(chapters))
	for i, ch := range chapters {
		issues[i] = models.Issue{
			ID:        uuid.NewString(),
			MeetingID: req.MeetingID,
			Start:     ch.Start,
			End:       ch.End,
			Gist:      ch.Gist,
			Headline:  ch.Headline,
			Summary:   ch.Summary,
		}
	}
	if err := s.Store.InsertIssues(ctx, issues); err != nil {
		return nil, err
	}
	if err := s.Store.UpdateMeetingStatus(ctx, req.MeetingID, models.MeetingCompleted, chapters[0].Headline); err != nil {
		return nil, err
	}
	return issues, nil
}

// downloadAudio fetches the recording and verifies the response actually
// carries audio before any service is paid to transcribe it.
func (s *Service) downloadAudio(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "meeting URL")
	}
	resp, err := s.HTTP.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, err, "audio download")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.E(apperr.KindUpstream, "audio download: %s", resp.Status)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "audio/") {
		return nil, apperr.E(apperr.KindUpstream, "invalid content type %q for meeting audio", ct)
	}
	return io.ReadAll(resp.Body)
}

// directChapters lets the speech service chapterize during transcription.
func (s *Service) directChapters(ctx context.Context, audioURL string) ([]modelout.Chapter, error) {
	t, err := s.Speech.Transcribe(ctx, audioURL, TranscribeOptions{AutoChapters: true})
	if err != nil {
		return nil, err
	}
	if t.Text == "" {
		return nil, apperr.E(apperr.KindUpstream, "no text found in transcript")
	}

	chapters := make([]modelout.Chapter, len(t.Chapters))
	for i, ch := range t.Chapters {
		chapters[i] = modelout.Chapter{
			Start:    msToTime(ch.StartMS),
			End:      msToTime(ch.EndMS),
			Gist:     ch.Gist,
			Headline: ch.Headline,
			Summary:  ch.Summary,
		}
	}
	return chapters, nil
}

// translatedChapters transcribes in the source language, translates the full
// transcript, then asks the model for a strict JSON chapter array.
func (s *Service) translatedChapters(ctx context.Context, audioURL, language string) ([]modelout.Chapter, error) {
	t, err := s.Speech.Transcribe(ctx, audioURL, TranscribeOptions{LanguageCode: language})
	if err != nil {
		return nil, err
	}
	if t.Text == "" {
		return nil, apperr.E(apperr.KindUpstream, "no text found in transcript")
	}

	translated, err := s.Client.Complete(ctx, translatePrompt(t.Text))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(translated) == "" {
		return nil, apperr.E(apperr.KindUpstream, "no translation output")
	}

	raw, err := s.Client.Complete(ctx, chapterPrompt(translated))
	if err != nil {
		return nil, err
	}
	return modelout.ParseChapters(raw)
}

// msToTime renders a millisecond offset as mm:ss.
func msToTime(ms int64) string {
	seconds := ms / 1000
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

func translatePrompt(text string) string {
	return `You are a highly skilled professional translator.

Your task is to carefully and precisely translate the following text into natural, fluent English.

Maintain the original meaning, tone (formal or informal), and style of the source text. Do not omit or add any information.

IMPORTANT: Output ONLY the English translation, with no commentary, explanation, or notes.

Here is the text:
---
` + text + `
---`
}

func chapterPrompt(transcript string) string {
	return `You are a professional meeting summarizer.

Your task:
- Read the full transcript carefully.
- Break it into 4 to 6 major thematic chapters (NOT small 5-10 second segments).
- For each chapter, output:
  - start time ("00:00")
  - end time ("05:00")
  - gist (short 1-sentence main idea)
  - headline (title of the chapter, max 8 words)
  - summary (2-5 sentence detailed description)

IMPORTANT RULES:
- Do not create tiny segments every few seconds.
- Chapters should cover major topics discussed (5-10 minutes each, logically grouped).
- Output ONLY valid JSON array with no extra text or explanation.
- Do not include text fields or raw dialogue.

Format example:
[
  {
    "start": "00:00",
    "end": "05:00",
    "gist": "Introduction and objectives discussed",
    "headline": "Kickoff Meeting",
    "summary": "The team introduces themselves, discusses project objectives, and sets initial expectations."
  }
]

Here is the full meeting transcript:
---
` + transcript + `
---`
}
