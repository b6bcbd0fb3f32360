// Package archive extracts a plugin's compressed archive into a staging
// directory, rejecting any entry that would escape the extraction root.
package archive

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-lynx/pluginhost/plugins"
	"github.com/klauspost/compress/flate"
)

// ManifestNames are the filenames the extractor recognizes as the archive's
// manifest document.
var ManifestNames = []string{"manifest.yaml", "manifest.yml", "manifest.json"}

// Result describes a completed extraction.
type Result struct {
	StagingDir   string
	ManifestPath string
	Files        []string
}

// inflate decodes DEFLATE entries through klauspost/compress instead of
// archive/zip's own decoder. Large native modules dominate extraction time,
// which makes this the one codec worth replacing. archive/zip already
// registers a global DEFLATE decoder, so Extract installs this one on each
// reader it opens.
func inflate(r io.Reader) io.ReadCloser {
	return flate.NewReader(r)
}

// Extract unpacks src (a zip-format archive) into a fresh subdirectory of
// stagingRoot and returns the staging directory, the discovered manifest
// path, and the list of extracted files. Any entry whose cleaned relative
// path would escape the staging directory is rejected with
// ErrorCodeArchiveMalformed.
func Extract(src, stagingRoot string) (*Result, error) {
	r, err := zip.OpenReader(src)
	if err != nil {
		return nil, plugins.NewPluginErrorWithCode(plugins.ErrorCodeArchiveMalformed, "", src, err.Error(), err)
	}
	defer r.Close()
	r.RegisterDecompressor(zip.Deflate, inflate)

	if err := os.MkdirAll(stagingRoot, 0o755); err != nil {
		return nil, err
	}
	stagingDir, err := os.MkdirTemp(stagingRoot, "staging-*")
	if err != nil {
		return nil, err
	}

	res := &Result{StagingDir: stagingDir}
	for _, f := range r.File {
		destPath, err := safeJoin(stagingDir, f.Name)
		if err != nil {
			os.RemoveAll(stagingDir)
			return nil, plugins.NewPluginErrorWithCode(plugins.ErrorCodeArchiveMalformed, f.Name, "extract", err.Error(), err)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				os.RemoveAll(stagingDir)
				return nil, err
			}
			continue
		}

		if err := extractFile(f, destPath); err != nil {
			os.RemoveAll(stagingDir)
			return nil, plugins.NewPluginErrorWithCode(plugins.ErrorCodeArchiveMalformed, f.Name, "extract", err.Error(), err)
		}

		res.Files = append(res.Files, destPath)
		if isManifestName(filepath.Base(destPath)) {
			res.ManifestPath = destPath
		}
	}

	if res.ManifestPath == "" {
		os.RemoveAll(stagingDir)
		return nil, plugins.NewPluginErrorWithCode(plugins.ErrorCodeArchiveMalformed, "", src, "archive has no manifest document", nil)
	}
	return res, nil
}

func isManifestName(name string) bool {
	lower := strings.ToLower(name)
	for _, n := range ManifestNames {
		if lower == n {
			return true
		}
	}
	return false
}

// safeJoin joins root and name, rejecting any result that normalizes
// outside of root (an absolute path, a leading "..", or a "../" component).
func safeJoin(root, name string) (string, error) {
	cleaned := filepath.Clean(strings.ReplaceAll(name, "\\", "/"))
	if filepath.IsAbs(cleaned) {
		return "", errEscape(name)
	}
	joined := filepath.Join(root, cleaned)
	rel, err := filepath.Rel(root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errEscape(name)
	}
	return joined, nil
}

type archiveError string

func (e archiveError) Error() string { return string(e) }

func errEscape(name string) error {
	return archiveError("entry " + name + " escapes the extraction root")
}

func extractFile(f *zip.File, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()|0o600)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}
