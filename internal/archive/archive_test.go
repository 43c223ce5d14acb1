package archive_test

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alexbecker/dotlock/internal/archive"
	"github.com/alexbecker/dotlock/internal/distinfo"
)

// makeWheel builds a minimal wheel archive holding a dist-info METADATA.
func makeWheel(t *testing.T, nameVer string, metadata string) []byte {
	t.Helper()

	var buf bytes.Buffer

	zw := zip.NewWriter(&buf)

	w, err := zw.Create(nameVer + ".dist-info/METADATA")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := w.Write([]byte(metadata)); err != nil {
		t.Fatal(err)
	}

	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	return buf.Bytes()
}

// makeTarGz builds a .tar.gz archive from a map of member name to
// contents.
func makeTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer

	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for name, contents := range files {
		if err := tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(contents)),
		}); err != nil {
			t.Fatal(err)
		}

		if _, err := tw.Write([]byte(contents)); err != nil {
			t.Fatal(err)
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}

	return buf.Bytes()
}

func serveFile(t *testing.T, filename string, contents []byte) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/"+filename {
			http.NotFound(w, r)

			return
		}

		_, _ = w.Write(contents)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}

const wheelMetadata = `Metadata-Version: 2.1
Name: mypy
Version: 0.600
Requires-Dist: typed-ast (<1.2.0,>=1.1.0)
Requires-Dist: psutil (<5.5.0,>=5.4.0); extra == 'dmypy'
`

func TestWheelRequirements(t *testing.T) {
	wheel := makeWheel(t, "mypy-0.600", wheelMetadata)
	srv := serveFile(t, "mypy-0.600-py3-none-any.whl", wheel)

	svc := archive.New(archive.WithHTTPClient(srv.Client()))

	infos, err := svc.WheelRequirements(context.Background(), distinfo.CandidateInfo{
		Name:        "mypy",
		Version:     "0.600",
		PackageType: distinfo.BdistWheel,
		Location:    srv.URL + "/mypy-0.600-py3-none-any.whl",
		HashAlg:     "sha256",
		HashVal:     sha256Hex(wheel),
	})
	if err != nil {
		t.Fatalf("WheelRequirements() error: %v", err)
	}

	if len(infos) != 2 {
		t.Fatalf("expected 2 requirements, got %d: %v", len(infos), infos)
	}

	if infos[0].Name != "typed-ast" || infos[0].Specifier != "<1.2.0,>=1.1.0" {
		t.Errorf("first requirement = %+v", infos[0])
	}

	if infos[1].Marker != `extra == 'dmypy'` {
		t.Errorf("marker = %q", infos[1].Marker)
	}
}

func TestWheelRequirementsHashMismatch(t *testing.T) {
	wheel := makeWheel(t, "mypy-0.600", wheelMetadata)
	srv := serveFile(t, "mypy-0.600-py3-none-any.whl", wheel)

	svc := archive.New(archive.WithHTTPClient(srv.Client()))

	_, err := svc.WheelRequirements(context.Background(), distinfo.CandidateInfo{
		Name:     "mypy",
		Version:  "0.600",
		Location: srv.URL + "/mypy-0.600-py3-none-any.whl",
		HashAlg:  "sha256",
		HashVal:  "0000",
	})

	var mismatch *archive.HashMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected HashMismatchError, got %v", err)
	}
}

func TestSdistRequirementsFromStaticMetadata(t *testing.T) {
	sdist := makeTarGz(t, map[string]string{
		"attrs-18.2.0/PKG-INFO": "Metadata-Version: 2.1\nName: attrs\nVersion: 18.2.0\nRequires-Dist: six (>=1.0)\n",
		"attrs-18.2.0/setup.py": "from setuptools import setup\nsetup()\n",
	})
	srv := serveFile(t, "attrs-18.2.0.tar.gz", sdist)

	svc := archive.New(
		archive.WithHTTPClient(srv.Client()),
		archive.WithCommandRunner(func(context.Context, string, string, ...string) ([]byte, error) {
			t.Error("build script must not be evaluated when PKG-INFO declares requirements")

			return nil, nil
		}),
	)

	infos, err := svc.SdistRequirements(context.Background(), distinfo.CandidateInfo{
		Name:        "attrs",
		Version:     "18.2.0",
		PackageType: distinfo.SdistType,
		Location:    srv.URL + "/attrs-18.2.0.tar.gz",
		HashAlg:     "sha256",
		HashVal:     sha256Hex(sdist),
	})
	if err != nil {
		t.Fatalf("SdistRequirements() error: %v", err)
	}

	if len(infos) != 1 || infos[0].Name != "six" {
		t.Errorf("requirements = %v", infos)
	}
}

func TestSdistRequirementsFallsBackToBuildScript(t *testing.T) {
	setupPy := "from setuptools import setup\nsetup(name='attrs', install_requires=['six>=1.0'])\n"
	sdist := makeTarGz(t, map[string]string{
		"attrs-18.2.0/PKG-INFO": "Metadata-Version: 2.1\nName: attrs\nVersion: 18.2.0\n",
		"attrs-18.2.0/setup.py": setupPy,
	})
	srv := serveFile(t, "attrs-18.2.0.tar.gz", sdist)

	var gotDir string

	svc := archive.New(
		archive.WithHTTPClient(srv.Client()),
		archive.WithCommandRunner(func(_ context.Context, dir, _ string, _ ...string) ([]byte, error) {
			gotDir = dir

			return []byte(`{"name": "attrs", "version": "18.2.0", "install_requires": ["six>=1.0"], "setup_requires": []}`), nil
		}),
	)

	infos, err := svc.SdistRequirements(context.Background(), distinfo.CandidateInfo{
		Name:        "attrs",
		Version:     "18.2.0",
		PackageType: distinfo.SdistType,
		Location:    srv.URL + "/attrs-18.2.0.tar.gz",
	})
	if err != nil {
		t.Fatalf("SdistRequirements() error: %v", err)
	}

	if len(infos) != 1 || infos[0].Name != "six" || infos[0].Specifier != ">=1.0" {
		t.Errorf("requirements = %v", infos)
	}

	// The subprocess must run inside the extracted package directory.
	if gotDir == "" {
		t.Fatal("build script was not evaluated")
	}

	if filepath.Base(gotDir) != "attrs-18.2.0" {
		t.Errorf("build script ran in %q, want the extracted attrs-18.2.0 directory", gotDir)
	}
}

func TestLocalRequirementsNameMismatch(t *testing.T) {
	svc := archive.New(
		archive.WithCommandRunner(func(context.Context, string, string, ...string) ([]byte, error) {
			return []byte(`{"name": "Other_Package", "version": "1.0", "install_requires": [], "setup_requires": []}`), nil
		}),
	)

	_, err := svc.LocalRequirements(context.Background(), "attrs", t.TempDir())

	var mismatch *archive.NameMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected NameMismatchError, got %v", err)
	}

	if mismatch.Actual != "other-package" {
		t.Errorf("actual name = %q", mismatch.Actual)
	}
}

func TestLocalRequirementsCanonicalizesNames(t *testing.T) {
	svc := archive.New(
		archive.WithCommandRunner(func(context.Context, string, string, ...string) ([]byte, error) {
			return []byte(`{"name": "My_Package", "version": "1.0", "install_requires": ["Typed_AST >=1.3.1"], "setup_requires": ["setuptools-scm"]}`), nil
		}),
	)

	infos, err := svc.LocalRequirements(context.Background(), "my-package", t.TempDir())
	if err != nil {
		t.Fatalf("LocalRequirements() error: %v", err)
	}

	if len(infos) != 1 || infos[0].Name != "typed-ast" {
		t.Errorf("requirements = %v", infos)
	}
}

func TestDownloadNotFound(t *testing.T) {
	srv := serveFile(t, "exists.tar.gz", []byte("x"))

	svc := archive.New(archive.WithHTTPClient(srv.Client()))

	_, err := svc.SdistRequirements(context.Background(), distinfo.CandidateInfo{
		Name:     "missing",
		Version:  "1.0",
		Location: srv.URL + "/missing-1.0.tar.gz",
	})
	if err == nil {
		t.Fatal("expected error for missing archive")
	}

	if want := fmt.Sprintf("unexpected status %d", http.StatusNotFound); !bytes.Contains([]byte(err.Error()), []byte(want)) {
		t.Errorf("error = %v, want mention of %s", err, want)
	}
}
