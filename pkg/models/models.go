package models

import "time"

// Project is the registration record for an indexed repository.
type Project struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	RepoURL     string     `json:"repo_url"`
	AccessToken string     `json:"-"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// SourceFragment is one collected repository file. It is transient: produced
// by the collector, consumed by the indexer, never persisted itself.
type SourceFragment struct {
	Path       string `json:"path"`
	Content    string `json:"content"`
	Repository string `json:"repository"`
	Branch     string `json:"branch"`
}

// SemanticEntry is an indexed file with its summary embedding. Rows are
// append-only and never mutated after creation.
type SemanticEntry struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	FileName  string    `json:"file_name"`
	Content   string    `json:"content"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

// EntryMatch pairs a SemanticEntry with its similarity to a question vector.
type EntryMatch struct {
	Entry      SemanticEntry `json:"entry"`
	Similarity float64       `json:"similarity"`
}

// CommitRecord is a summarized commit. The hash is unique per project.
type CommitRecord struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	Hash         string    `json:"hash"`
	Message      string    `json:"message"`
	AuthorName   string    `json:"author_name"`
	AuthorAvatar string    `json:"author_avatar"`
	AuthoredAt   time.Time `json:"authored_at"`
	Summary      string    `json:"summary"`
	CreatedAt    time.Time `json:"created_at"`
}

type MeetingStatus string

const (
	MeetingProcessing MeetingStatus = "PROCESSING"
	MeetingCompleted  MeetingStatus = "COMPLETED"
	MeetingFailed     MeetingStatus = "FAILED"
)

// Meeting tracks one uploaded recording. Status moves from PROCESSING to
// exactly one terminal state.
type Meeting struct {
	ID        string        `json:"id"`
	ProjectID string        `json:"project_id"`
	URL       string        `json:"url"`
	Name      string        `json:"name"`
	Status    MeetingStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// Issue is one chapter of a completed meeting, immutable after creation.
type Issue struct {
	ID        string    `json:"id"`
	MeetingID string    `json:"meeting_id"`
	Start     string    `json:"start"`
	End       string    `json:"end"`
	Gist      string    `json:"gist"`
	Headline  string    `json:"headline"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

// FileReference identifies a SemanticEntry cited by a saved answer.
type FileReference struct {
	EntryID  string `json:"entry_id"`
	FileName string `json:"file_name"`
}

// SavedAnswer is a question/answer pair a user chose to keep.
type SavedAnswer struct {
	ID         string          `json:"id"`
	ProjectID  string          `json:"project_id"`
	UserID     string          `json:"user_id"`
	Question   string          `json:"question"`
	Answer     string          `json:"answer"`
	References []FileReference `json:"references"`
	CreatedAt  time.Time       `json:"created_at"`
}
