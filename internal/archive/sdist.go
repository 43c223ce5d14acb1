package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	pypi "deps.dev/util/pypi"

	"github.com/alexbecker/dotlock/internal/distinfo"
)

// introspectScript partially evaluates a package's setup.py the way
// `distutils.core.run_setup(stop_after='config')` does, except it sets
// __name__ = '__main__' which some packages require, and reports the
// configured distribution as a single line of JSON on stdout.
const introspectScript = `import distutils.core, json, os, sys
sys.path.insert(0, os.getcwd())
sys.argv[:] = ['setup.py', 'sdist']
distutils.core._setup_stop_after = 'config'
try:
    with open('setup.py') as fp:
        exec(compile(fp.read(), 'setup.py', 'exec'), {
            '__file__': 'setup.py',
            '__name__': '__main__',
        })
finally:
    distutils.core._setup_stop_after = None
dist = distutils.core._setup_distribution
install_requires = getattr(dist, 'install_requires', None)
if install_requires is None:
    install_requires = dist.get_requires()
print(json.dumps({
    'name': dist.get_name(),
    'version': dist.get_version(),
    'install_requires': list(install_requires or []),
    'setup_requires': list(getattr(dist, 'setup_requires', None) or []),
}))`

// introspectResult is the JSON the subprocess reports.
type introspectResult struct {
	Name            string   `json:"name"`
	Version         string   `json:"version"`
	InstallRequires []string `json:"install_requires"`
	SetupRequires   []string `json:"setup_requires"`
}

// SdistRequirements downloads a source archive and extracts its declared
// install requirements. Indices do not publish sdist dependencies, so
// this is the only way to learn them. The static metadata inside the
// archive is preferred; when the package defers its dependency list to
// setup.py the build script is partially evaluated in a subprocess.
func (s *Service) SdistRequirements(ctx context.Context, candidate distinfo.CandidateInfo) ([]distinfo.RequirementInfo, error) {
	s.logger.Debug("introspecting sdist", slog.String("package", candidate.Name))

	workDir, err := os.MkdirTemp("", "dotlock-sdist-")
	if err != nil {
		return nil, fmt.Errorf("creating working directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	archivePath, err := s.download(ctx, candidate, workDir)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", archivePath, err)
	}

	meta, metaErr := pypi.SdistMetadata(ctx, filepath.Base(archivePath), f)
	_ = f.Close()

	var unsupported pypi.UnsupportedError

	switch {
	case metaErr == nil:
		if canonical := distinfo.CanonicalName(meta.Name); canonical != candidate.Name {
			return nil, &NameMismatchError{Expected: candidate.Name, Actual: canonical}
		}

		return metadataRequirements(meta)
	case errors.As(metaErr, &unsupported):
		// Dependencies live in setup.py; evaluate it.
		s.logger.Debug("sdist defers requirements to its build script",
			slog.String("package", candidate.Name))
	default:
		return nil, fmt.Errorf("reading sdist metadata for %s: %w", candidate.Name, metaErr)
	}

	packageDir, err := extract(archivePath, workDir)
	if err != nil {
		return nil, err
	}

	return s.LocalRequirements(ctx, candidate.Name, packageDir)
}

// LocalRequirements introspects an unpacked package tree by partially
// evaluating its build script in an isolated python subprocess. The
// subprocess runs with the tree as its working directory and on its
// module search path; the parent process's directory and path are never
// touched.
func (s *Service) LocalRequirements(ctx context.Context, name, dir string) ([]distinfo.RequirementInfo, error) {
	s.logger.Debug("evaluating build script",
		slog.String("package", name), slog.String("dir", dir))

	output, err := s.runCmd(ctx, dir, s.pythonBin, "-c", introspectScript)
	if err != nil {
		return nil, fmt.Errorf("evaluating setup.py for %s: %w", name, err)
	}

	var result introspectResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("decoding setup.py introspection for %s: %w", name, err)
	}

	if canonical := distinfo.CanonicalName(result.Name); canonical != name {
		return nil, &NameMismatchError{Expected: name, Actual: canonical}
	}

	if len(result.SetupRequires) > 0 {
		s.logger.Warn("package uses setup_requires; integrity cannot be guaranteed",
			slog.String("package", name))
	}

	return distinfo.ParseRequiresDist(result.InstallRequires)
}

// sdistExtensions maps archive extensions to extraction formats.
var sdistExtensions = []string{".tar.gz", ".tar.bz2", ".zip"}

// extract unpacks a source archive next to itself and returns the
// package directory (the archive name with its extension removed).
func extract(archivePath, workDir string) (string, error) {
	filename := filepath.Base(archivePath)

	var ext string

	for _, e := range sdistExtensions {
		if strings.HasSuffix(filename, e) {
			ext = e

			break
		}
	}

	if ext == "" {
		return "", fmt.Errorf("unrecognized archive format: %s", filename)
	}

	var err error
	if ext == ".zip" {
		err = extractZip(archivePath, workDir)
	} else {
		err = extractTar(archivePath, workDir, ext)
	}

	if err != nil {
		return "", fmt.Errorf("extracting %s: %w", filename, err)
	}

	return filepath.Join(workDir, strings.TrimSuffix(filename, ext)), nil
}
