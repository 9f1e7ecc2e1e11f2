package fetcher

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"

	"github.com/releasekit/relfetch/internal/domain"
)

func testFetcher(t *testing.T) *Fetcher {
	t.Helper()
	return New(zap.NewNop(), 5*time.Second, 16*1024)
}

// testContext stands in for testContext(t), which needs Go 1.24.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func payload(t *testing.T, size int) ([]byte, string) {
	t.Helper()
	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:])
}

func serve(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch_PlainBody(t *testing.T) {
	data, digest := payload(t, 64*1024)
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(data)
	})

	dest := filepath.Join(t.TempDir(), "artifact.tar.gz")
	result, err := testFetcher(t).Fetch(testContext(t), srv.URL, dest, Options{ExpectedDigest: digest})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if result.Digest != digest {
		t.Errorf("Digest = %q, want %q", result.Digest, digest)
	}
	if result.ByteCount != int64(len(data)) {
		t.Errorf("ByteCount = %d, want %d", result.ByteCount, len(data))
	}
	if result.Algorithm != domain.AlgorithmSHA256 {
		t.Errorf("Algorithm = %q, want sha256", result.Algorithm)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("written bytes differ from payload")
	}
}

func TestFetch_DecodedDigestMatchesPlain(t *testing.T) {
	// The digest must be computed over decoded bytes, so every encoding of
	// the same payload verifies against the same expected value.
	data, digest := payload(t, 96*1024)

	encoders := map[string]func([]byte) []byte{
		"gzip": func(b []byte) []byte {
			var buf bytes.Buffer
			zw := gzip.NewWriter(&buf)
			zw.Write(b)
			zw.Close()
			return buf.Bytes()
		},
		"deflate": func(b []byte) []byte {
			var buf bytes.Buffer
			fw, _ := flate.NewWriter(&buf, flate.DefaultCompression)
			fw.Write(b)
			fw.Close()
			return buf.Bytes()
		},
		"br": func(b []byte) []byte {
			var buf bytes.Buffer
			bw := brotli.NewWriter(&buf)
			bw.Write(b)
			bw.Close()
			return buf.Bytes()
		},
	}

	for encoding, encode := range encoders {
		t.Run(encoding, func(t *testing.T) {
			wire := encode(data)
			srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/octet-stream")
				w.Header().Set("Content-Encoding", encoding)
				w.Write(wire)
			})

			dest := filepath.Join(t.TempDir(), "artifact.tar.gz")
			result, err := testFetcher(t).Fetch(testContext(t), srv.URL, dest, Options{ExpectedDigest: digest})
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if result.Digest != digest {
				t.Errorf("Digest = %q, want %q", result.Digest, digest)
			}
			if result.ByteCount != int64(len(data)) {
				t.Errorf("ByteCount = %d, want decoded size %d", result.ByteCount, len(data))
			}
		})
	}
}

func TestFetch_DigestMismatch(t *testing.T) {
	data, digest := payload(t, 4096)

	// Flip one character: an off-by-one mismatch must fail exactly like a
	// completely different value.
	wrong := []byte(digest)
	if wrong[0] == 'a' {
		wrong[0] = 'b'
	} else {
		wrong[0] = 'a'
	}

	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	})

	dest := filepath.Join(t.TempDir(), "artifact.tar.gz")
	_, err := testFetcher(t).Fetch(testContext(t), srv.URL, dest, Options{ExpectedDigest: string(wrong)})

	mismatch, ok := domain.IsDigestMismatch(err)
	if !ok {
		t.Fatalf("Fetch() error = %v, want DigestMismatchError", err)
	}
	if mismatch.Expected != string(wrong) {
		t.Errorf("Expected = %q, want %q", mismatch.Expected, wrong)
	}
	if mismatch.Actual != digest {
		t.Errorf("Actual = %q, want %q", mismatch.Actual, digest)
	}

	// The unverified file stays on disk; the caller decides what to do.
	if _, statErr := os.Stat(dest); statErr != nil {
		t.Errorf("destination file missing after mismatch: %v", statErr)
	}
}

func TestFetch_CaseInsensitiveCompare(t *testing.T) {
	data, digest := payload(t, 1024)
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	})

	dest := filepath.Join(t.TempDir(), "a")
	upper := []byte(digest)
	for i, c := range upper {
		if c >= 'a' && c <= 'f' {
			upper[i] = c - 'a' + 'A'
		}
	}
	if _, err := testFetcher(t).Fetch(testContext(t), srv.URL, dest, Options{ExpectedDigest: string(upper)}); err != nil {
		t.Fatalf("Fetch() with uppercase expected digest error = %v", err)
	}
}

func TestFetch_ProgressMonotonicEndsAtOne(t *testing.T) {
	data, digest := payload(t, 256*1024)
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "262144")
		w.Write(data)
	})

	var fractions []float64
	dest := filepath.Join(t.TempDir(), "a")
	_, err := testFetcher(t).Fetch(testContext(t), srv.URL, dest, Options{
		ExpectedDigest: digest,
		OnProgress: func(p domain.TransferProgress) {
			fractions = append(fractions, p.Fraction)
		},
	})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(fractions) == 0 {
		t.Fatal("no progress reported")
	}
	for i := 1; i < len(fractions); i++ {
		if fractions[i] < fractions[i-1] {
			t.Fatalf("fraction decreased: %v -> %v", fractions[i-1], fractions[i])
		}
	}
	if last := fractions[len(fractions)-1]; last != 1.0 {
		t.Errorf("final fraction = %v, want 1.0", last)
	}
}

func TestFetch_ProgressIndeterminateWithoutLength(t *testing.T) {
	data, _ := payload(t, 32*1024)
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		zw.Write(data)
		zw.Close()
	})

	dest := filepath.Join(t.TempDir(), "a")
	_, err := testFetcher(t).Fetch(testContext(t), srv.URL, dest, Options{
		OnProgress: func(p domain.TransferProgress) {
			if p.Fraction != -1 {
				t.Errorf("Fraction = %v, want -1 for unknown total", p.Fraction)
			}
			if p.TotalBytes != 0 {
				t.Errorf("TotalBytes = %d, want 0", p.TotalBytes)
			}
		},
	})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
}

func TestFetch_UnexpectedStatus(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	})

	dest := filepath.Join(t.TempDir(), "a")
	_, err := testFetcher(t).Fetch(testContext(t), srv.URL, dest, Options{})

	var statusErr *domain.UnexpectedStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Fetch() error = %v, want UnexpectedStatusError", err)
	}
	if statusErr.StatusCode != http.StatusGone {
		t.Errorf("StatusCode = %d, want %d", statusErr.StatusCode, http.StatusGone)
	}
}

func TestFetch_UnresponsiveServerTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		// Hold the response headers past the fetcher's request timeout.
		<-release
	})
	// Registered after serve() so it runs before srv.Close, which waits for
	// the blocked handler to return.
	t.Cleanup(func() { close(release) })

	dest := filepath.Join(t.TempDir(), "a")
	f := New(zap.NewNop(), 200*time.Millisecond, 0)
	_, err := f.Fetch(testContext(t), srv.URL, dest, Options{})
	if !errors.Is(err, domain.ErrTransferTimeout) {
		t.Fatalf("Fetch() error = %v, want ErrTransferTimeout", err)
	}
}

func TestFetch_MD5InferredFromLength(t *testing.T) {
	data := []byte("legacy artifact body")
	sum := md5.Sum(data)
	digest := hex.EncodeToString(sum[:])

	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	})

	dest := filepath.Join(t.TempDir(), "a")
	result, err := testFetcher(t).Fetch(testContext(t), srv.URL, dest, Options{ExpectedDigest: digest})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if result.Algorithm != domain.AlgorithmMD5 {
		t.Errorf("Algorithm = %q, want md5", result.Algorithm)
	}
}

func TestFetch_RejectsTruncatedExpectedDigest(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("body"))
	})

	dest := filepath.Join(t.TempDir(), "a")
	_, err := testFetcher(t).Fetch(testContext(t), srv.URL, dest, Options{
		ExpectedDigest: "bb476f3f1a7ddef1",
	})
	if !errors.Is(err, domain.ErrInvalidDigest) {
		t.Fatalf("Fetch() error = %v, want ErrInvalidDigest", err)
	}
}
