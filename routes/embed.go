package routes

import (
	"embed"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

//go:embed *.yaml scenes/*.yaml
var DocsFS embed.FS

//go:embed scripts/*.tengo
var ScriptsFS embed.FS

//go:embed schema/*.json
var SchemaFS embed.FS

// DiskDir is checked before the embedded documents, so files edited on disk
// take effect without a rebuild.
var DiskDir = "routes"

// Load returns a document by its path relative to the routes directory.
func Load(name string) ([]byte, error) {
	clean := cleanDocPath(name)
	if data, err := os.ReadFile(diskPath(clean)); err == nil {
		return data, nil
	}
	return DocsFS.ReadFile(clean)
}

func LoadScript(name string) ([]byte, error) {
	clean := cleanScriptPath(name)
	if data, err := os.ReadFile(diskPath(clean)); err == nil {
		return data, nil
	}
	return ScriptsFS.ReadFile(clean)
}

func ModTime(name string) (time.Time, bool) {
	info, err := os.Stat(diskPath(cleanDocPath(name)))
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// Names lists the embedded route names, without extension.
func Names() ([]string, error) {
	return list(DocsFS, "*.yaml")
}

// SceneNames lists the embedded scene names, without extension.
func SceneNames() ([]string, error) {
	return list(DocsFS, "scenes/*.yaml")
}

func list(fsys fs.FS, pattern string) ([]string, error) {
	matches, err := fs.Glob(fsys, pattern)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSuffix(path.Base(m), path.Ext(m)))
	}
	sort.Strings(out)
	return out, nil
}

func cleanDocPath(name string) string {
	if name == "" {
		return ""
	}
	s := filepath.ToSlash(name)
	if after, ok := strings.CutPrefix(s, DiskDir+"/"); ok {
		s = after
	}
	if path.Ext(s) == "" {
		s += ".yaml"
	}
	return s
}

func cleanScriptPath(name string) string {
	if name == "" {
		return ""
	}
	s := filepath.ToSlash(name)
	if after, ok := strings.CutPrefix(s, DiskDir+"/"); ok {
		s = after
	}
	s = strings.TrimPrefix(s, "scripts/")
	if path.Ext(s) == "" {
		s += ".tengo"
	}
	return "scripts/" + s
}

func diskPath(clean string) string {
	return filepath.Join(DiskDir, filepath.FromSlash(clean))
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
