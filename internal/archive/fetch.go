package archive

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/alexbecker/dotlock/internal/distinfo"
)

// download streams an archive into destDir, verifying the recorded
// content hash when one is present. Returns the path of the downloaded
// file.
func (s *Service) download(ctx context.Context, candidate distinfo.CandidateInfo, destDir string) (string, error) {
	filename := path.Base(candidate.Location)
	destPath := filepath.Join(destDir, filename)

	s.logger.Debug("downloading archive",
		slog.String("package", candidate.Name),
		slog.String("url", candidate.Location),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, candidate.Location, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting %s: %w", candidate.Location, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d from %s", resp.StatusCode, candidate.Location)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", destPath, err)
	}

	h := newHash(candidate.HashAlg)

	var w io.Writer = f
	if h != nil {
		w = io.MultiWriter(f, h)
	}

	_, copyErr := io.Copy(w, resp.Body)

	if err := f.Close(); err != nil && copyErr == nil {
		copyErr = fmt.Errorf("closing %s: %w", destPath, err)
	}

	if copyErr != nil {
		_ = os.Remove(destPath)

		return "", fmt.Errorf("writing %s: %w", filename, copyErr)
	}

	if h != nil {
		if got := hex.EncodeToString(h.Sum(nil)); got != candidate.HashVal {
			_ = os.Remove(destPath)

			return "", &HashMismatchError{
				Name:     candidate.Name,
				Version:  candidate.Version,
				Expected: candidate.HashVal,
				Actual:   got,
			}
		}
	}

	return destPath, nil
}

// newHash maps a recorded hash algorithm to its implementation. Unknown
// algorithms disable verification; the index client only admits
// candidates with a supported hash.
func newHash(alg string) hash.Hash {
	switch alg {
	case "sha256":
		return sha256.New()
	case "sha1":
		return sha1.New()
	case "md5":
		return md5.New()
	}

	return nil
}
