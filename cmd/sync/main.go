// Command sync runs one indexing pass for a single project and exits. It is
// meant for cron-style full re-syncs; the API server handles the initial
// registration pass itself.
package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/metaminds/metabrief/internal/ai"
	"github.com/metaminds/metabrief/internal/collector"
	"github.com/metaminds/metabrief/internal/commits"
	"github.com/metaminds/metabrief/internal/config"
	"github.com/metaminds/metabrief/internal/hosting"
	"github.com/metaminds/metabrief/internal/indexer"
	"github.com/metaminds/metabrief/internal/store"
)

func main() {
	fs := pflag.NewFlagSet("metabrief-sync", pflag.ExitOnError)
	fs.String("project", "", "Project ID to synchronize")
	fs.String("branch", "", "Branch to index (defaults to main)")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	projectID, _ := fs.GetString("project")
	branch, _ := fs.GetString("branch")
	if projectID == "" {
		log.Fatal("--project is required")
	}

	clientConfig, err := clientConfigFor(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx := context.Background()

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	c, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatal(err)
	}
	if c.Dim() == 0 {
		log.Fatal("embedding dimension must be set")
	}
	if err := st.Migrate(ctx, c.Dim()); err != nil {
		log.Fatal(err)
	}

	p, err := st.GetProject(ctx, projectID)
	if err != nil {
		log.Fatal(err)
	}

	ix := indexer.New(st, c, cfg.Concurrency)

	if cfg.RepoRoot != "" {
		// Index a local checkout directly; no hosting API involved.
		fragments, err := collector.CollectLocal(cfg.RepoRoot, filepath.Base(strings.TrimRight(cfg.RepoRoot, "/")))
		if err != nil {
			log.Fatalf("collect %s: %v", cfg.RepoRoot, err)
		}
		persisted, err := ix.Reindex(ctx, projectID, fragments)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("indexed %d files from %s", persisted, cfg.RepoRoot)
		return
	}

	hosts := hosting.NewOrigin(cfg.GitOrigin, cfg.GitToken)

	fragments, err := collector.New(hosts).Collect(ctx, p.RepoURL, branch, p.AccessToken)
	if err != nil {
		log.Fatalf("collect %s: %v", p.RepoURL, err)
	}
	persisted, err := ix.Reindex(ctx, projectID, fragments)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("indexed %d files from %s", persisted, p.RepoURL)

	records, err := commits.New(st, hosts, c).Sync(ctx, projectID)
	if err != nil {
		log.Fatalf("commit sync: %v", err)
	}
	log.Printf("recorded %d new commits", len(records))
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
