package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	pypi "deps.dev/util/pypi"

	"github.com/alexbecker/dotlock/internal/distinfo"
)

// WheelRequirements downloads a wheel whose index metadata lacked
// requirements and parses its dist-info METADATA.
func (s *Service) WheelRequirements(ctx context.Context, candidate distinfo.CandidateInfo) ([]distinfo.RequirementInfo, error) {
	s.logger.Debug("index has no requirements for wheel, downloading it",
		slog.String("package", candidate.Name))

	workDir, err := os.MkdirTemp("", "dotlock-wheel-")
	if err != nil {
		return nil, fmt.Errorf("creating working directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	wheelPath, err := s.download(ctx, candidate, workDir)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(wheelPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", wheelPath, err)
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", wheelPath, err)
	}

	meta, err := pypi.WheelMetadata(ctx, f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("reading wheel metadata for %s: %w", candidate.Name, err)
	}

	return metadataRequirements(meta)
}

// metadataRequirements converts parsed core-metadata dependencies into
// the shared requirement shape.
func metadataRequirements(meta *pypi.Metadata) ([]distinfo.RequirementInfo, error) {
	infos := make([]distinfo.RequirementInfo, 0, len(meta.Dependencies))

	for _, dep := range meta.Dependencies {
		infos = append(infos, distinfo.RequirementInfo{
			Name:          dep.Name,
			SpecifierType: distinfo.SpecifierVersion,
			Specifier:     dep.Constraint,
			Extras:        distinfo.JoinExtras(strings.Split(dep.Extras, ",")),
			Marker:        dep.Environment,
		})
	}

	return infos, nil
}
