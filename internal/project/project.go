// Package project orchestrates registration: a new project is recorded, its
// repository collected and indexed, and its recent commits synchronized.
package project

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/metaminds/metabrief/internal/apperr"
	"github.com/metaminds/metabrief/internal/collector"
	"github.com/metaminds/metabrief/internal/commits"
	"github.com/metaminds/metabrief/internal/hosting"
	"github.com/metaminds/metabrief/internal/indexer"
	"github.com/metaminds/metabrief/pkg/models"
)

// Store is the persistence surface project registration needs.
type Store interface {
	CreateProject(ctx context.Context, p models.Project) error
	GetProject(ctx context.Context, id string) (models.Project, error)
	ListProjects(ctx context.Context) ([]models.Project, error)
	SoftDeleteProject(ctx context.Context, id string) error
}

// Service wires the collector, indexer and commit synchronizer behind one
// registration call.
type Service struct {
	Store     Store
	Collector *collector.Collector
	Indexer   *indexer.Indexer
	Commits   *commits.Synchronizer
}

func NewService(store Store, coll *collector.Collector, ix *indexer.Indexer, sync *commits.Synchronizer) *Service {
	return &Service{Store: store, Collector: coll, Indexer: ix, Commits: sync}
}

// CreateRequest registers one repository. Branch defaults to the collector's
// default when empty; AccessToken may be empty for public repositories.
type CreateRequest struct {
	Name        string `json:"name"`
	RepoURL     string `json:"repo_url"`
	Branch      string `json:"branch"`
	AccessToken string `json:"access_token"`
}

// Create registers the project and runs the initial collect-index-sync pass.
// Indexing failures of individual files do not fail registration; a hosting
// URL that cannot be reached at all does.
func (s *Service) Create(ctx context.Context, req CreateRequest) (models.Project, error) {
	if strings.TrimSpace(req.Name) == "" {
		return models.Project{}, apperr.E(apperr.KindValidation, "project name is required")
	}
	if _, err := hosting.ParseRepoPath(req.RepoURL); err != nil {
		return models.Project{}, err
	}

	p := models.Project{
		ID:          uuid.NewString(),
		Name:        req.Name,
		RepoURL:     req.RepoURL,
		AccessToken: req.AccessToken,
	}
	if err := s.Store.CreateProject(ctx, p); err != nil {
		return models.Project{}, err
	}

	fragments, err := s.Collector.Collect(ctx, req.RepoURL, req.Branch, req.AccessToken)
	if err != nil {
		return models.Project{}, err
	}
	persisted := s.Indexer.Index(ctx, p.ID, fragments)
	log.Info().Str("project", p.ID).Int("files", persisted).Msg("project indexed")

	if _, err := s.Commits.Sync(ctx, p.ID); err != nil {
		// Commit history is supplementary; registration stands without it.
		log.Warn().Err(err).Str("project", p.ID).Msg("initial commit sync failed")
	}
	return p, nil
}

// Resync rebuilds the project's semantic index from the current repository
// state and picks up new commits.
func (s *Service) Resync(ctx context.Context, projectID, branch string) (int, error) {
	p, err := s.Store.GetProject(ctx, projectID)
	if err != nil {
		return 0, err
	}
	fragments, err := s.Collector.Collect(ctx, p.RepoURL, branch, p.AccessToken)
	if err != nil {
		return 0, err
	}
	persisted, err := s.Indexer.Reindex(ctx, projectID, fragments)
	if err != nil {
		return 0, err
	}
	if _, err := s.Commits.Sync(ctx, projectID); err != nil {
		log.Warn().Err(err).Str("project", projectID).Msg("commit sync failed")
	}
	return persisted, nil
}

func (s *Service) List(ctx context.Context) ([]models.Project, error) {
	return s.Store.ListProjects(ctx)
}

// Archive soft-deletes a project; its entries and history stay queryable by
// ID but the project no longer lists.
func (s *Service) Archive(ctx context.Context, projectID string) error {
	return s.Store.SoftDeleteProject(ctx, projectID)
}
