// Package store persists projects, semantic entries, commit records,
// meetings, issues and saved answers in Postgres. Entry vectors live in a
// native pgvector column so an entry and its embedding are written in one
// atomic insert.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/metaminds/metabrief/internal/apperr"
	"github.com/metaminds/metabrief/pkg/models"
)

// Store provides methods to interact with the database.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Migrate applies necessary database migrations and schema setup. embedDim is
// the dimensionality of the configured embedding model; all vectors in a
// deployment share it.
func (s *Store) Migrate(ctx context.Context, embedDim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS projects (
  id           TEXT PRIMARY KEY,
  name         TEXT NOT NULL,
  repo_url     TEXT NOT NULL,
  access_token TEXT NOT NULL DEFAULT '',
  deleted_at   TIMESTAMP WITH TIME ZONE,
  created_at   TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE TABLE IF NOT EXISTS semantic_entries (
  id         TEXT PRIMARY KEY,
  project_id TEXT NOT NULL REFERENCES projects (id),
  file_name  TEXT NOT NULL,
  content    TEXT NOT NULL DEFAULT '',
  summary    TEXT NOT NULL DEFAULT '',
  embedding  vector(%d),
  created_at TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE INDEX IF NOT EXISTS semantic_entries_project_idx
  ON semantic_entries (project_id);

CREATE INDEX IF NOT EXISTS semantic_entries_embedding_idx
  ON semantic_entries USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);

CREATE TABLE IF NOT EXISTS commit_records (
  id            TEXT PRIMARY KEY,
  project_id    TEXT NOT NULL REFERENCES projects (id),
  commit_hash   TEXT NOT NULL,
  message       TEXT NOT NULL DEFAULT '',
  author_name   TEXT NOT NULL DEFAULT '',
  author_avatar TEXT NOT NULL DEFAULT '',
  authored_at   TIMESTAMP WITH TIME ZONE,
  summary       TEXT NOT NULL DEFAULT '',
  created_at    TIMESTAMP WITH TIME ZONE DEFAULT now(),
  UNIQUE (project_id, commit_hash)
);

CREATE TABLE IF NOT EXISTS meetings (
  id         TEXT PRIMARY KEY,
  project_id TEXT NOT NULL REFERENCES projects (id),
  url        TEXT NOT NULL,
  name       TEXT NOT NULL DEFAULT '',
  status     TEXT NOT NULL DEFAULT 'PROCESSING',
  created_at TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE TABLE IF NOT EXISTS issues (
  id           TEXT PRIMARY KEY,
  meeting_id   TEXT NOT NULL REFERENCES meetings (id) ON DELETE CASCADE,
  start_offset TEXT NOT NULL DEFAULT '',
  end_offset   TEXT NOT NULL DEFAULT '',
  gist         TEXT NOT NULL DEFAULT '',
  headline     TEXT NOT NULL DEFAULT '',
  summary      TEXT NOT NULL DEFAULT '',
  created_at   TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE TABLE IF NOT EXISTS saved_answers (
  id         TEXT PRIMARY KEY,
  project_id TEXT NOT NULL REFERENCES projects (id),
  user_id    TEXT NOT NULL DEFAULT '',
  question   TEXT NOT NULL,
  answer     TEXT NOT NULL,
  refs       JSONB NOT NULL DEFAULT '[]',
  created_at TIMESTAMP WITH TIME ZONE DEFAULT now()
);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, embedDim))
	return err
}

// ---------- projects ----------

func (s *Store) CreateProject(ctx context.Context, p models.Project) error {
	const q = `
		INSERT INTO projects (id, name, repo_url, access_token, created_at)
		VALUES ($1, $2, $3, $4, now())`
	_, err := s.pool.Exec(ctx, q, p.ID, p.Name, p.RepoURL, p.AccessToken)
	return err
}

func (s *Store) GetProject(ctx context.Context, id string) (models.Project, error) {
	const q = `
		SELECT id, name, repo_url, access_token, deleted_at, created_at
		FROM projects WHERE id = $1`
	var p models.Project
	err := s.pool.QueryRow(ctx, q, id).
		Scan(&p.ID, &p.Name, &p.RepoURL, &p.AccessToken, &p.DeletedAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Project{}, apperr.E(apperr.KindNotFound, "project %s not found", id)
		}
		return models.Project{}, err
	}
	return p, nil
}

// ListProjects returns all projects that have not been soft-deleted.
func (s *Store) ListProjects(ctx context.Context) ([]models.Project, error) {
	const q = `
		SELECT id, name, repo_url, access_token, deleted_at, created_at
		FROM projects WHERE deleted_at IS NULL ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.RepoURL, &p.AccessToken, &p.DeletedAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) SoftDeleteProject(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE projects SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.E(apperr.KindNotFound, "project %s not found", id)
	}
	return nil
}

// ---------- semantic entries ----------

// InsertSemanticEntry writes an entry and its vector in one statement.
func (s *Store) InsertSemanticEntry(ctx context.Context, e models.SemanticEntry, vec []float32) error {
	var v any
	if vec != nil {
		v = pgvector.NewVector(vec)
	} else {
		v = (*pgvector.Vector)(nil)
	}
	const q = `
		INSERT INTO semantic_entries (id, project_id, file_name, content, summary, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`
	_, err := s.pool.Exec(ctx, q, e.ID, e.ProjectID, e.FileName, e.Content, e.Summary, v)
	return err
}

// DeleteSemanticEntries removes a project's whole index; a full re-sync calls
// this first so stale entries do not accumulate.
func (s *Store) DeleteSemanticEntries(ctx context.Context, projectID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM semantic_entries WHERE project_id = $1`, projectID)
	return err
}

// SearchSimilar ranks a project's entries against the question vector by
// cosine similarity, keeping matches above minSimilarity, best first.
func (s *Store) SearchSimilar(ctx context.Context, projectID string, vec []float32, minSimilarity float64, limit int) ([]models.EntryMatch, error) {
	const q = `
		SELECT id, project_id, file_name, content, summary, created_at,
		       1 - cosine_distance(embedding, $1) AS similarity
		FROM semantic_entries
		WHERE project_id = $2
		  AND embedding IS NOT NULL
		  AND 1 - cosine_distance(embedding, $1) > $3
		ORDER BY similarity DESC
		LIMIT $4`
	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vec), projectID, minSimilarity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EntryMatch
	for rows.Next() {
		var m models.EntryMatch
		if err := rows.Scan(
			&m.Entry.ID, &m.Entry.ProjectID, &m.Entry.FileName, &m.Entry.Content,
			&m.Entry.Summary, &m.Entry.CreatedAt, &m.Similarity,
		); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ---------- commit records ----------

// ListCommitHashes returns the hashes already recorded for a project. The
// synchronizer diffs upstream commits against this set before fanning out.
func (s *Store) ListCommitHashes(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT commit_hash FROM commit_records WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// InsertCommitRecords writes the batch in one round trip. Conflicting hashes
// are skipped, which keeps concurrent synchronization runs from duplicating
// rows.
func (s *Store) InsertCommitRecords(ctx context.Context, records []models.CommitRecord) error {
	if len(records) == 0 {
		return nil
	}
	const q = `
		INSERT INTO commit_records
			(id, project_id, commit_hash, message, author_name, author_avatar, authored_at, summary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (project_id, commit_hash) DO NOTHING`

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(q, r.ID, r.ProjectID, r.Hash, r.Message, r.AuthorName, r.AuthorAvatar, r.AuthoredAt, r.Summary)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

func (s *Store) ListCommitRecords(ctx context.Context, projectID string) ([]models.CommitRecord, error) {
	const q = `
		SELECT id, project_id, commit_hash, message, author_name, author_avatar, authored_at, summary, created_at
		FROM commit_records WHERE project_id = $1 ORDER BY authored_at DESC`
	rows, err := s.pool.Query(ctx, q, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CommitRecord
	for rows.Next() {
		var r models.CommitRecord
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Hash, &r.Message, &r.AuthorName,
			&r.AuthorAvatar, &r.AuthoredAt, &r.Summary, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---------- meetings & issues ----------

func (s *Store) CreateMeeting(ctx context.Context, m models.Meeting) error {
	const q = `
		INSERT INTO meetings (id, project_id, url, name, status, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`
	_, err := s.pool.Exec(ctx, q, m.ID, m.ProjectID, m.URL, m.Name, m.Status)
	return err
}

func (s *Store) GetMeeting(ctx context.Context, id string) (models.Meeting, error) {
	const q = `SELECT id, project_id, url, name, status, created_at FROM meetings WHERE id = $1`
	var m models.Meeting
	err := s.pool.QueryRow(ctx, q, id).
		Scan(&m.ID, &m.ProjectID, &m.URL, &m.Name, &m.Status, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Meeting{}, apperr.E(apperr.KindNotFound, "meeting %s not found", id)
		}
		return models.Meeting{}, err
	}
	return m, nil
}

func (s *Store) ListMeetings(ctx context.Context, projectID string) ([]models.Meeting, error) {
	const q = `
		SELECT id, project_id, url, name, status, created_at
		FROM meetings WHERE project_id = $1 ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, q, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Meeting
	for rows.Next() {
		var m models.Meeting
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.URL, &m.Name, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateMeetingStatus moves a meeting to a terminal state. name is applied
// only when non-empty.
func (s *Store) UpdateMeetingStatus(ctx context.Context, id string, status models.MeetingStatus, name string) error {
	const q = `
		UPDATE meetings
		SET status = $2, name = CASE WHEN $3 <> '' THEN $3 ELSE name END
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q, id, status, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.E(apperr.KindNotFound, "meeting %s not found", id)
	}
	return nil
}

func (s *Store) DeleteMeeting(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM meetings WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.E(apperr.KindNotFound, "meeting %s not found", id)
	}
	return nil
}

func (s *Store) InsertIssues(ctx context.Context, issues []models.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	const q = `
		INSERT INTO issues (id, meeting_id, start_offset, end_offset, gist, headline, summary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())`

	batch := &pgx.Batch{}
	for _, i := range issues {
		batch.Queue(q, i.ID, i.MeetingID, i.Start, i.End, i.Gist, i.Headline, i.Summary)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

func (s *Store) ListIssues(ctx context.Context, meetingID string) ([]models.Issue, error) {
	const q = `
		SELECT id, meeting_id, start_offset, end_offset, gist, headline, summary, created_at
		FROM issues WHERE meeting_id = $1 ORDER BY created_at, start_offset`
	rows, err := s.pool.Query(ctx, q, meetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Issue
	for rows.Next() {
		var i models.Issue
		if err := rows.Scan(&i.ID, &i.MeetingID, &i.Start, &i.End, &i.Gist, &i.Headline, &i.Summary, &i.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// ---------- saved answers ----------

func (s *Store) SaveAnswer(ctx context.Context, a models.SavedAnswer) error {
	refs, err := json.Marshal(a.References)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO saved_answers (id, project_id, user_id, question, answer, refs, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`
	_, err = s.pool.Exec(ctx, q, a.ID, a.ProjectID, a.UserID, a.Question, a.Answer, refs)
	return err
}

func (s *Store) ListSavedAnswers(ctx context.Context, projectID string) ([]models.SavedAnswer, error) {
	const q = `
		SELECT id, project_id, user_id, question, answer, refs, created_at
		FROM saved_answers WHERE project_id = $1 ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, q, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SavedAnswer
	for rows.Next() {
		var a models.SavedAnswer
		var refs []byte
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.UserID, &a.Question, &a.Answer, &refs, &a.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(refs, &a.References); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
