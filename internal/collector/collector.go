// Package collector fetches a repository's files from the hosting API and
// turns them into transient source fragments for the indexer.
package collector

import (
	"context"
	"path"

	"github.com/rs/zerolog/log"

	"github.com/metaminds/metabrief/internal/hosting"
	"github.com/metaminds/metabrief/internal/resilience"
	"github.com/metaminds/metabrief/pkg/models"
)

// DefaultBranch is used when a project does not name one.
const DefaultBranch = "main"

// defaultFetchLimit bounds concurrent raw-content fetches against the host.
const defaultFetchLimit = 5

// Lockfiles are skipped by exact name: they are huge, generated and
// semantically empty.
var skipNames = map[string]bool{
	"package-lock.json": true,
	"yarn.lock":         true,
	"pnpm-lock.yaml":    true,
	"bun.lockb":         true,
}

// Collector walks a hosted repository tree and fetches blob contents with
// bounded concurrency. Each collection run connects with the project's own
// access token, so private repositories stay reachable.
type Collector struct {
	Hosts      hosting.Connector
	FetchLimit int
}

func New(hosts hosting.Connector) *Collector {
	return &Collector{Hosts: hosts, FetchLimit: defaultFetchLimit}
}

// Collect returns the full set of non-ignored file fragments for the
// repository at repoURL. token may be empty for public repositories. A file
// whose content fetch fails is logged and left out; the batch itself still
// settles.
func (c *Collector) Collect(ctx context.Context, repoURL, branch, token string) ([]models.SourceFragment, error) {
	if branch == "" {
		branch = DefaultBranch
	}
	projectPath, err := hosting.ParseRepoPath(repoURL)
	if err != nil {
		return nil, err
	}
	host, err := c.Hosts.Connect(token)
	if err != nil {
		return nil, err
	}

	tree, err := host.ListTree(ctx, projectPath, branch)
	if err != nil {
		return nil, err
	}

	var blobs []string
	for _, entry := range tree {
		if entry.Type != "blob" {
			continue
		}
		if skipNames[path.Base(entry.Path)] {
			continue
		}
		blobs = append(blobs, entry.Path)
	}

	units := make([]func(context.Context) (models.SourceFragment, error), len(blobs))
	for i, p := range blobs {
		p := p
		units[i] = func(ctx context.Context) (models.SourceFragment, error) {
			content, err := host.RawFile(ctx, projectPath, p, branch)
			if err != nil {
				return models.SourceFragment{}, err
			}
			return models.SourceFragment{
				Path:       p,
				Content:    content,
				Repository: repoURL,
				Branch:     branch,
			}, nil
		}
	}

	outcomes := resilience.Gather(ctx, c.FetchLimit, units)
	fragments := make([]models.SourceFragment, 0, len(outcomes))
	for i, o := range outcomes {
		if o.Err != nil {
			log.Warn().Err(o.Err).Str("path", blobs[i]).Msg("failed to fetch file content")
			continue
		}
		fragments = append(fragments, o.Value)
	}
	return fragments, nil
}
