// Package fetcher streams a resolved artifact URL to local storage while
// computing its digest. Verification is fail-closed: a supplied expected
// digest that does not match the computed value always aborts the operation.
package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"

	"github.com/releasekit/relfetch/internal/domain"
)

// Options controls a single fetch.
type Options struct {
	// ExpectedDigest, when set, is compared against the computed digest;
	// a mismatch fails the fetch.
	ExpectedDigest string
	// Algorithm is an explicit hint. When empty the algorithm is inferred
	// from the expected digest's length, defaulting to sha256.
	Algorithm domain.Algorithm
	// OnProgress, when set, receives a snapshot per received chunk.
	OnProgress domain.ProgressFunc
}

// Fetcher downloads artifacts over HTTP.
type Fetcher struct {
	client     *http.Client
	logger     *zap.Logger
	bufferSize int
}

// New creates a Fetcher. requestTimeout bounds connection setup and the wait
// for response headers, not the body transfer.
func New(logger *zap.Logger, requestTimeout time.Duration, bufferSize int) *Fetcher {
	if bufferSize <= 0 {
		bufferSize = 128 * 1024
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: requestTimeout,
		}).DialContext,
		ResponseHeaderTimeout: requestTimeout,
		// The digest must cover exactly the bytes written to disk, so
		// content decoding is negotiated and performed explicitly.
		DisableCompression: true,
	}
	return &Fetcher{
		client:     &http.Client{Transport: transport},
		logger:     logger,
		bufferSize: bufferSize,
	}
}

// Fetch streams url to destination, reporting progress and enforcing the
// digest check. The destination file is left in place on a digest mismatch;
// it is unverified, not rolled back.
func (f *Fetcher) Fetch(ctx context.Context, url, destination string, opts Options) (*domain.TransferResult, error) {
	algorithm, digester, err := pickDigester(opts)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	resp, err := f.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%s: %w", url, domain.ErrTransferTimeout)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.UnexpectedStatusError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
		}
	}

	body, encoded, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	// A wire-level content length only describes decoded size when the
	// body is unencoded.
	var totalBytes int64
	if !encoded && resp.ContentLength > 0 {
		totalBytes = resp.ContentLength
	}

	f.logger.Debug("transfer started",
		zap.String("url", url),
		zap.String("destination", destination),
		zap.Int64("total_bytes", totalBytes))

	out, err := os.Create(destination)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", destination, err)
	}
	defer out.Close()

	written, err := f.copyWithProgress(ctx, out, digester, body, totalBytes, opts.OnProgress)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%s: %w", url, domain.ErrTransferTimeout)
		}
		return nil, fmt.Errorf("transfer failed: %w", err)
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("failed to close %s: %w", destination, err)
	}

	computed := hex.EncodeToString(digester.Sum(nil))
	if opts.ExpectedDigest != "" && !strings.EqualFold(opts.ExpectedDigest, computed) {
		return nil, &domain.DigestMismatchError{
			Path:      destination,
			Algorithm: algorithm,
			Expected:  opts.ExpectedDigest,
			Actual:    computed,
		}
	}

	f.logger.Info("transfer verified",
		zap.String("destination", destination),
		zap.Int64("bytes", written),
		zap.String(string(algorithm), computed))

	return &domain.TransferResult{
		DestinationPath: destination,
		ByteCount:       written,
		Digest:          computed,
		Algorithm:       algorithm,
		CompletedAt:     time.Now(),
	}, nil
}

// copyWithProgress drains src into both dst and the digester, emitting a
// progress snapshot per chunk. Writing paces reading, so the disk applies
// backpressure to the socket.
func (f *Fetcher) copyWithProgress(ctx context.Context, dst io.Writer, digester hash.Hash, src io.Reader, totalBytes int64, onProgress domain.ProgressFunc) (int64, error) {
	buf := make([]byte, f.bufferSize)
	sink := io.MultiWriter(dst, digester)

	var transferred int64
	for {
		if err := ctx.Err(); err != nil {
			return transferred, err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := sink.Write(buf[:n]); err != nil {
				return transferred, err
			}
			transferred += int64(n)
			if onProgress != nil {
				onProgress(snapshot(transferred, totalBytes))
			}
		}
		if readErr == io.EOF {
			return transferred, nil
		}
		if readErr != nil {
			return transferred, readErr
		}
	}
}

func snapshot(transferred, total int64) domain.TransferProgress {
	p := domain.TransferProgress{
		BytesTransferred: transferred,
		TotalBytes:       total,
		Fraction:         -1,
	}
	if total > 0 {
		p.Fraction = float64(transferred) / float64(total)
		if p.Fraction > 1 {
			p.Fraction = 1
		}
	}
	return p
}

// decodeBody wraps the response body in the decoder its Content-Encoding
// declares. Reports whether a decoder was applied.
func decodeBody(resp *http.Response) (io.ReadCloser, bool, error) {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "", "identity":
		return resp.Body, false, nil
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, false, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		return gz, true, nil
	case "deflate":
		return flate.NewReader(resp.Body), true, nil
	case "br":
		return io.NopCloser(brotli.NewReader(resp.Body)), true, nil
	default:
		return nil, false, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

// pickDigester selects the hash implementation: explicit hint first, then
// inference from the expected digest, then the sha256 default.
func pickDigester(opts Options) (domain.Algorithm, hash.Hash, error) {
	algorithm := opts.Algorithm
	if algorithm == "" && opts.ExpectedDigest != "" {
		inferred, err := domain.InferAlgorithm(opts.ExpectedDigest)
		if err != nil {
			return "", nil, err
		}
		algorithm = inferred
	}
	if algorithm == "" {
		algorithm = domain.AlgorithmSHA256
	}

	switch algorithm {
	case domain.AlgorithmSHA256:
		return algorithm, sha256.New(), nil
	case domain.AlgorithmMD5:
		return algorithm, md5.New(), nil
	default:
		return "", nil, fmt.Errorf("unsupported algorithm %q", algorithm)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
