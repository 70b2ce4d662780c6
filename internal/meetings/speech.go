package meetings

import (
	"bytes"
	"context"

	aai "github.com/AssemblyAI/assemblyai-go-sdk"

	"github.com/metaminds/metabrief/internal/apperr"
)

// TranscribeOptions selects the processing mode. An empty LanguageCode means
// the service may detect the language and chapterize on its own.
type TranscribeOptions struct {
	LanguageCode string
	AutoChapters bool
}

// SpeechChapter is a normalized chapter with millisecond offsets.
type SpeechChapter struct {
	StartMS  int64
	EndMS    int64
	Gist     string
	Headline string
	Summary  string
}

// Transcript is the normalized speech-to-text result.
type Transcript struct {
	Text     string
	Chapters []SpeechChapter
}

// Transcriber is the speech-to-text surface of the pipeline.
type Transcriber interface {
	Upload(ctx context.Context, data []byte) (string, error)
	Transcribe(ctx context.Context, audioURL string, opts TranscribeOptions) (Transcript, error)
}

// AssemblyAI implements Transcriber with the AssemblyAI service.
type AssemblyAI struct {
	client *aai.Client
}

func NewAssemblyAI(apiKey string) *AssemblyAI {
	return &AssemblyAI{client: aai.NewClient(apiKey)}
}

func (a *AssemblyAI) Upload(ctx context.Context, data []byte) (string, error) {
	url, err := a.client.Upload(ctx, bytes.NewReader(data))
	if err != nil {
		return "", apperr.Wrap(apperr.KindUpstream, err, "audio upload")
	}
	return url, nil
}

func (a *AssemblyAI) Transcribe(ctx context.Context, audioURL string, opts TranscribeOptions) (Transcript, error) {
	params := &aai.TranscriptOptionalParams{}
	if opts.AutoChapters {
		params.AutoChapters = aai.Bool(true)
	}
	if opts.LanguageCode != "" {
		params.LanguageCode = aai.TranscriptLanguageCode(opts.LanguageCode)
		// The multilingual "nano" tier covers languages the default
		// model does not.
		params.SpeechModel = aai.SpeechModel("nano")
	}

	t, err := a.client.Transcripts.TranscribeFromURL(ctx, audioURL, params)
	if err != nil {
		return Transcript{}, apperr.Wrap(apperr.KindUpstream, err, "transcription")
	}
	if t.Status == aai.TranscriptStatusError {
		return Transcript{}, apperr.E(apperr.KindUpstream, "transcription failed: %s", deref(t.Error))
	}

	out := Transcript{Text: deref(t.Text)}
	for _, ch := range t.Chapters {
		out.Chapters = append(out.Chapters, SpeechChapter{
			StartMS:  derefInt(ch.Start),
			EndMS:    derefInt(ch.End),
			Gist:     deref(ch.Gist),
			Headline: deref(ch.Headline),
			Summary:  deref(ch.Summary),
		})
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(i *int64) int64 {
	if i == nil {
		return 0
	}
	return *i
}

var _ Transcriber = (*AssemblyAI)(nil)
