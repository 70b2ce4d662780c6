package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"

	"github.com/metaminds/metabrief/internal/ai"
	"github.com/metaminds/metabrief/internal/answer"
	"github.com/metaminds/metabrief/internal/apperr"
	"github.com/metaminds/metabrief/internal/auth"
	"github.com/metaminds/metabrief/internal/collector"
	"github.com/metaminds/metabrief/internal/commits"
	"github.com/metaminds/metabrief/internal/config"
	"github.com/metaminds/metabrief/internal/hosting"
	"github.com/metaminds/metabrief/internal/indexer"
	"github.com/metaminds/metabrief/internal/meetings"
	"github.com/metaminds/metabrief/internal/objstore"
	"github.com/metaminds/metabrief/internal/project"
	"github.com/metaminds/metabrief/internal/store"
	"github.com/metaminds/metabrief/pkg/models"
)

const maxUploadBytes = 50 << 20

func main() {
	fs := pflag.NewFlagSet("metabrief-api", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Bool("auth_enabled", cfg.Auth.Enabled).Msg("starting metabrief api")

	clientConfig, err := clientConfigFor(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	auth.Initialize(cfg.Auth.JwtSecret, cfg.Auth.Enabled)

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	c, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}
	dim := c.Dim()
	logger.Info().Int("embedding_dim", dim).Str("embed_model", clientConfig.EmbedModel).Msg("AI client initialized")

	if err := st.Migrate(ctx, dim); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	hosts := hosting.NewOrigin(cfg.GitOrigin, cfg.GitToken)

	objects, err := objstore.NewMinIO(cfg.Objects.Endpoint, cfg.Objects.AccessKey, cfg.Objects.SecretKey, cfg.Objects.Bucket, cfg.Objects.UseSSL)
	if err != nil {
		log.Fatalf("Failed to create object storage client: %v", err)
	}

	coll := collector.New(hosts)
	ix := indexer.New(st, c, cfg.Concurrency)
	sync := commits.New(st, hosts, c)
	projects := project.NewService(st, coll, ix, sync)
	engine := answer.New(st, c)
	pipeline := meetings.NewService(st, meetings.NewAssemblyAI(cfg.SpeechAPIKey), c, objects)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /projects", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		var req project.CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		p, err := projects.Create(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}))

	mux.HandleFunc("GET /projects", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		out, err := projects.List(ctx)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if out == nil {
			out = []models.Project{}
		}
		writeJSON(w, http.StatusOK, out)
	}))

	mux.HandleFunc("DELETE /projects/{id}", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if err := projects.Archive(r.Context(), r.PathValue("id")); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	mux.HandleFunc("POST /projects/{id}/resync", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		persisted, err := projects.Resync(r.Context(), r.PathValue("id"), r.URL.Query().Get("branch"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"indexed": persisted})
	}))

	mux.HandleFunc("POST /projects/{id}/commits/sync", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		records, err := sync.Sync(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if records == nil {
			records = []models.CommitRecord{}
		}
		writeJSON(w, http.StatusOK, records)
	}))

	mux.HandleFunc("GET /projects/{id}/commits", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		// Poll upstream in the background; the response serves what is
		// already stored so reads never wait on the host.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if _, err := sync.Sync(ctx, id); err != nil {
				logger.Warn().Err(err).Str("project", id).Msg("background commit poll failed")
			}
		}()
		records, err := st.ListCommitRecords(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if records == nil {
			records = []models.CommitRecord{}
		}
		writeJSON(w, http.StatusOK, records)
	}))

	mux.HandleFunc("POST /ask", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var req struct {
			ProjectID string `json:"project_id"`
			Question  string `json:"question"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		ans, err := engine.Ask(r.Context(), req.ProjectID, req.Question)
		if err != nil {
			writeError(w, r, err)
			return
		}

		// References go out as one JSON line, then the answer streams as
		// plain text fragments.
		w.Header().Set("Content-Type", "application/x-ndjson")
		if err := json.NewEncoder(w).Encode(map[string]any{"references": ans.References}); err != nil {
			return
		}
		flusher, _ := w.(http.Flusher)
		if flusher != nil {
			flusher.Flush()
		}
		for fragment, err := range ans.Stream {
			if err != nil {
				hlog.FromRequest(r).Warn().Err(err).Msg("answer stream interrupted")
				return
			}
			if _, err := w.Write([]byte(fragment)); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		hlog.FromRequest(r).Info().Str("path", "/ask").Str("project", req.ProjectID).Dur("dur", time.Since(start)).Msg("served")
	}))

	mux.HandleFunc("POST /answers", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ProjectID  string                 `json:"project_id"`
			Question   string                 `json:"question"`
			Answer     string                 `json:"answer"`
			References []models.FileReference `json:"references"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		var userID string
		if u := auth.GetUserFromContext(r); u != nil {
			userID = u.ID
		}
		saved, err := engine.Save(r.Context(), req.ProjectID, userID, req.Question, req.Answer, req.References)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	}))

	mux.HandleFunc("GET /projects/{id}/questions", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		out, err := st.ListSavedAnswers(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if out == nil {
			out = []models.SavedAnswer{}
		}
		writeJSON(w, http.StatusOK, out)
	}))

	mux.HandleFunc("POST /meetings/upload", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			http.Error(w, "invalid multipart form", http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("audio")
		if err != nil {
			http.Error(w, "missing audio file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		meeting, err := pipeline.UploadAudio(r.Context(),
			r.FormValue("project_id"), header.Filename,
			header.Header.Get("Content-Type"), file, header.Size)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, meeting)
	}))

	mux.HandleFunc("POST /meetings/process", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			MeetingID  string `json:"meeting_id"`
			MeetingURL string `json:"meeting_url"`
			ProjectID  string `json:"project_id"`
			Language   string `json:"language"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		// Download plus transcription can take a while, but not forever.
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
		defer cancel()

		meetingURL := req.MeetingURL
		if meetingURL == "" {
			meeting, err := st.GetMeeting(ctx, req.MeetingID)
			if err != nil {
				writeError(w, r, err)
				return
			}
			meetingURL = meeting.URL
		}
		issues, err := pipeline.Process(ctx, meetings.ProcessRequest{
			MeetingID:  req.MeetingID,
			MeetingURL: meetingURL,
			ProjectID:  req.ProjectID,
			Language:   req.Language,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, issues)
	}))

	mux.HandleFunc("GET /projects/{id}/meetings", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		out, err := st.ListMeetings(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if out == nil {
			out = []models.Meeting{}
		}
		writeJSON(w, http.StatusOK, out)
	}))

	mux.HandleFunc("GET /meetings/{id}", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		meeting, err := st.GetMeeting(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, meeting)
	}))

	mux.HandleFunc("GET /meetings/{id}/issues", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		out, err := st.ListIssues(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if out == nil {
			out = []models.Issue{}
		}
		writeJSON(w, http.StatusOK, out)
	}))

	mux.HandleFunc("DELETE /meetings/{id}", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if err := st.DeleteMeeting(r.Context(), r.PathValue("id")); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}

func clientConfigFor(cfg config.Specification) (*ai.ClientConfig, error) {
	switch strings.ToLower(cfg.Provider) {
	case "ollama":
		return &ai.ClientConfig{
			Provider:   ai.ProviderOllama,
			BaseURL:    cfg.BaseURL,
			EmbedModel: cfg.EmbedModel,
			GenModel:   cfg.SummaryModel,
			Dim:        cfg.Dim,
		}, nil
	case "gemini", "google":
		return &ai.ClientConfig{
			Provider:   ai.ProviderGemini,
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			GenModel:   cfg.SummaryModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Location:   cfg.Location,
		}, nil
	case "stub":
		return &ai.ClientConfig{Provider: ai.ProviderStub, Dim: cfg.Dim}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// writeError maps error kinds onto HTTP statuses; unclassified errors stay 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindAuth:
		status = http.StatusUnauthorized
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindUpstream, apperr.KindFormat:
		status = http.StatusBadGateway
	case apperr.KindTimeout:
		status = http.StatusGatewayTimeout
	}
	hlog.FromRequest(r).Error().Err(err).Int("status", status).Str("path", r.URL.Path).Msg("request failed")
	http.Error(w, err.Error(), status)
}
