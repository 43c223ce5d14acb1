package index

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	pypi "deps.dev/util/pypi"
	"golang.org/x/net/html"

	"github.com/alexbecker/dotlock/internal/distinfo"
)

// pageLink is one anchor from a PEP 503 package page.
type pageLink struct {
	href           string
	requiresPython string
}

// simpleCandidateInfos builds the filtered candidate list from a Simple
// (PEP 503) index page.
func (s *Service) simpleCandidateInfos(ctx context.Context, source, name string) ([]distinfo.CandidateInfo, error) {
	pageURL := fmt.Sprintf("%s/%s/", source, name)

	body, err := s.fetch(ctx, source, pageURL)
	if err != nil {
		return nil, err
	}

	links, err := parsePackagePage(body)
	if err != nil {
		return nil, &IndexError{Source: source, Err: fmt.Errorf("parsing %s: %w", pageURL, err)}
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, &IndexError{Source: source, Err: err}
	}

	var infos []distinfo.CandidateInfo

	for _, link := range links {
		if link.requiresPython != "" {
			ok, err := distinfo.MatchesSpecifier(link.requiresPython, s.env.Tags.Version)
			if err != nil || !ok {
				s.logger.Debug("skipping candidate by requires-python",
					slog.String("package", name), slog.String("requires_python", link.requiresPython))

				continue
			}
		}

		ref, err := url.Parse(link.href)
		if err != nil {
			s.logger.Debug("skipping unparseable href", slog.String("href", link.href))

			continue
		}

		// Relative URLs are resolved against the package page.
		ref = base.ResolveReference(ref)

		if ref.Fragment == "" {
			return nil, &UnsupportedHashError{Filename: link.href}
		}

		hashAlg, hashVal, found := strings.Cut(ref.Fragment, "=")
		if !found || !supportedHashAlg(hashAlg) {
			return nil, &UnsupportedHashError{Filename: link.href}
		}

		filename := path.Base(ref.Path)

		info, ok := s.simpleCandidate(name, filename)
		if !ok {
			continue
		}

		ref.Fragment = ""
		info.Source = source
		info.Location = ref.String()
		info.HashAlg = hashAlg
		info.HashVal = hashVal

		infos = append(infos, info)
	}

	return infos, nil
}

// simpleCandidate classifies a filename from a Simple page into a wheel
// or sdist candidate, extracting its version. Unrecognized or
// incompatible files are skipped.
func (s *Service) simpleCandidate(name, filename string) (distinfo.CandidateInfo, bool) {
	if strings.HasSuffix(filename, ".whl") {
		if !s.wheelSupported(filename) {
			s.logger.Debug("skipping unsupported bdist", slog.String("filename", filename))

			return distinfo.CandidateInfo{}, false
		}

		wheel, err := pypi.ParseWheelName(filename)
		if err != nil || !distinfo.ValidVersion(wheel.Version) {
			s.logger.Warn("skipping wheel with invalid version", slog.String("filename", filename))

			return distinfo.CandidateInfo{}, false
		}

		if !s.typeAllowed(distinfo.BdistWheel) {
			return distinfo.CandidateInfo{}, false
		}

		return distinfo.CandidateInfo{
			Name:        name,
			Version:     wheel.Version,
			PackageType: distinfo.BdistWheel,
		}, true
	}

	if !hasSdistExtension(filename) {
		s.logger.Debug("skipping unrecognized filename", slog.String("filename", filename))

		return distinfo.CandidateInfo{}, false
	}

	_, version, err := pypi.SdistVersion(name, filename)
	if err != nil || !distinfo.ValidVersion(version) {
		s.logger.Warn("skipping sdist with invalid version", slog.String("filename", filename))

		return distinfo.CandidateInfo{}, false
	}

	if !s.typeAllowed(distinfo.SdistType) {
		return distinfo.CandidateInfo{}, false
	}

	return distinfo.CandidateInfo{
		Name:        name,
		Version:     version,
		PackageType: distinfo.SdistType,
	}, true
}

func hasSdistExtension(filename string) bool {
	for _, ext := range []string{".tar.gz", ".tar.bz2", ".zip"} {
		if strings.HasSuffix(filename, ext) {
			return true
		}
	}

	return false
}

func supportedHashAlg(alg string) bool {
	for _, a := range distinfo.HashAlgorithms {
		if a == alg {
			return true
		}
	}

	return false
}

// parsePackagePage walks the HTML tree and collects every anchor's href
// and data-requires-python attributes.
func parsePackagePage(body []byte) ([]pageLink, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var links []pageLink

	var visit func(*html.Node)
	visit = func(node *html.Node) {
		if node.Type == html.ElementNode && node.Data == "a" {
			var link pageLink

			for _, attr := range node.Attr {
				switch attr.Key {
				case "href":
					link.href = attr.Val
				case "data-requires-python":
					link.requiresPython = attr.Val
				}
			}

			if link.href != "" {
				links = append(links, link)
			}
		}

		for child := node.FirstChild; child != nil; child = child.NextSibling {
			visit(child)
		}
	}
	visit(doc)

	return links, nil
}
