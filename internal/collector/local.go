package collector

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"

	"github.com/metaminds/metabrief/pkg/models"
)

// CollectLocal walks an already-checked-out repository on disk and returns
// its fragments, applying the same ignore rules as the hosted collector. The
// sync CLI uses this when pointed at a local checkout instead of a hosting
// URL.
func CollectLocal(root, repoName string) ([]models.SourceFragment, error) {
	var fragments []models.SourceFragment
	err := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(p string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				if skipDir(de.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if skipNames[filepath.Base(p)] {
				return nil
			}
			b, err := os.ReadFile(p)
			if err != nil {
				log.Warn().Err(err).Str("path", p).Msg("failed to read file")
				return nil
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				rel = p
			}
			fragments = append(fragments, models.SourceFragment{
				Path:       filepath.ToSlash(rel),
				Content:    string(b),
				Repository: repoName,
				Branch:     "local",
			})
			return nil
		},
	})
	return fragments, err
}

func skipDir(name string) bool {
	switch strings.ToLower(name) {
	case ".git", "node_modules", "vendor", "dist", "build", "target", ".venv", "__pycache__", ".idea":
		return true
	}
	return false
}
