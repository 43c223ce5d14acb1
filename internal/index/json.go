package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	pypi "deps.dev/util/pypi"

	"github.com/alexbecker/dotlock/internal/distinfo"
	"github.com/alexbecker/dotlock/internal/pyenv"
)

// packageResponse is the shape shared by the JSON API's package and
// per-version endpoints.
type packageResponse struct {
	Info     packageDetail             `json:"info"`
	Releases map[string][]distribution `json:"releases"`
}

type packageDetail struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	RequiresDist []string `json:"requires_dist"`
}

type distribution struct {
	Filename    string            `json:"filename"`
	URL         string            `json:"url"`
	PackageType string            `json:"packagetype"`
	Digests     map[string]string `json:"digests"`
}

func (s *Service) getJSON(ctx context.Context, source, name, version string) (*packageResponse, error) {
	url := fmt.Sprintf("%s/%s/json", source, name)
	if version != "" {
		url = fmt.Sprintf("%s/%s/%s/json", source, name, version)
	}

	body, err := s.fetch(ctx, source, url)
	if err != nil {
		return nil, err
	}

	var resp packageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &IndexError{Source: source, Err: fmt.Errorf("decoding %s: %w", url, err)}
	}

	return &resp, nil
}

// jsonCandidateInfos builds the filtered candidate list from the JSON
// API's releases map.
func (s *Service) jsonCandidateInfos(ctx context.Context, source, name string) ([]distinfo.CandidateInfo, error) {
	resp, err := s.getJSON(ctx, source, name, "")
	if err != nil {
		return nil, err
	}

	var infos []distinfo.CandidateInfo

	for versionStr, distributions := range resp.Releases {
		if !distinfo.ValidVersion(versionStr) {
			s.logger.Info("skipping invalid version",
				slog.String("package", name), slog.String("version", versionStr))

			continue
		}

		for _, dist := range distributions {
			packageType, err := distinfo.ParsePackageType(dist.PackageType)
			if err != nil {
				s.logger.Debug("skipping unknown package type",
					slog.String("package", name), slog.String("packagetype", dist.PackageType))

				continue
			}

			if isBdist(packageType) && !s.wheelSupported(dist.Filename) {
				s.logger.Debug("skipping unsupported bdist", slog.String("filename", dist.Filename))

				continue
			}

			if !s.typeAllowed(packageType) {
				s.logger.Debug("skipping package type",
					slog.String("package", name), slog.String("packagetype", dist.PackageType))

				continue
			}

			hashAlg, hashVal, err := selectHash(dist.Filename, dist.Digests)
			if err != nil {
				return nil, err
			}

			infos = append(infos, distinfo.CandidateInfo{
				Name:        name,
				Version:     versionStr,
				PackageType: packageType,
				Source:      source,
				Location:    dist.URL,
				HashAlg:     hashAlg,
				HashVal:     hashVal,
			})
		}
	}

	return infos, nil
}

// RequiresDist asks the candidate's source for its declared requirements
// via the per-version JSON endpoint. Simple sources cannot answer, and
// the JSON API may report null requirements; both return ok=false so the
// caller falls back to archive introspection.
func (s *Service) RequiresDist(ctx context.Context, candidate distinfo.CandidateInfo) ([]string, bool, error) {
	if isSimpleSource(candidate.Source) {
		return nil, false, nil
	}

	resp, err := s.getJSON(ctx, candidate.Source, candidate.Name, candidate.Version)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, false, nil
		}

		return nil, false, err
	}

	if resp.Info.RequiresDist == nil {
		return nil, false, nil
	}

	return resp.Info.RequiresDist, true, nil
}

func isBdist(pt distinfo.PackageType) bool {
	switch pt {
	case distinfo.BdistWheel, distinfo.BdistEgg, distinfo.BdistMsi, distinfo.BdistRPM, distinfo.BdistWininst:
		return true
	}

	return false
}

// wheelSupported reports whether a bdist filename is installable in this
// environment per its PEP 425 tag. Filenames that do not parse as PEP
// 427 are assumed universal, matching how legacy bdists behave on real
// indices.
func (s *Service) wheelSupported(filename string) bool {
	info, err := pypi.ParseWheelName(filename)
	if err != nil {
		return true
	}

	for _, tag := range info.Platforms {
		if s.supported.Contains(pyenv.Tag{Python: tag.Python, ABI: tag.ABI, Platform: tag.Platform}) {
			return true
		}
	}

	return false
}
