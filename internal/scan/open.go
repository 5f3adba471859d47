package scan

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression identifies the encoding of a source, detected from its
// leading bytes rather than its name so rotated files need no extension.
type Compression string

const (
	None  Compression = "none"
	Gzip  Compression = "gzip"
	Zstd  Compression = "zstd"
	Bzip2 Compression = "bzip2"
	XZ    Compression = "xz"
	LZ4   Compression = "lz4"
	Zip   Compression = "zip"
)

// ErrUnsupportedCompression is returned for a compressed source that can be
// neither decoded in-process nor handed to a configured decompressor.
var ErrUnsupportedCompression = errors.New("unsupported compression")

var magics = []struct {
	prefix []byte
	kind   Compression
}{
	{[]byte{0x1f, 0x8b}, Gzip},
	{[]byte{0x28, 0xb5, 0x2f, 0xfd}, Zstd},
	{[]byte("BZh"), Bzip2},
	{[]byte{0xfd, '7', 'z', 'X', 'Z', 0x00}, XZ},
	{[]byte{0x04, 0x22, 0x4d, 0x18}, LZ4},
	{[]byte{'P', 'K', 0x03, 0x04}, Zip},
}

// Detect returns the compression of a stream given its first bytes.
func Detect(head []byte) Compression {
	for _, m := range magics {
		if bytes.HasPrefix(head, m.prefix) {
			return m.kind
		}
	}
	return None
}

// ParseCompression maps a configuration name to a Compression.
func ParseCompression(s string) (Compression, error) {
	c := Compression(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case Gzip, Zstd, Bzip2, XZ, LZ4, Zip:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCompression, s)
	}
}

// open returns a line-readable, decompressed view of path.
func (s *Scanner) open(ctx context.Context, path string) (io.ReadCloser, Compression, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, None, err
	}

	br := bufio.NewReader(f)
	head, err := br.Peek(6)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		_ = f.Close()
		return nil, None, fmt.Errorf("read header: %w", err)
	}

	kind := Detect(head)
	switch kind {
	case None:
		return readCloser{Reader: br, close: f.Close}, kind, nil

	case Gzip:
		gz, err := gzip.NewReader(br)
		if err != nil {
			_ = f.Close()
			return nil, kind, fmt.Errorf("open gzip reader: %w", err)
		}
		return readCloser{Reader: gz, close: func() error {
			_ = gz.Close()
			return f.Close()
		}}, kind, nil

	case Zstd:
		dec, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(1))
		if err != nil {
			_ = f.Close()
			return nil, kind, fmt.Errorf("open zstd reader: %w", err)
		}
		rc := dec.IOReadCloser()
		return readCloser{Reader: rc, close: func() error {
			_ = rc.Close()
			return f.Close()
		}}, kind, nil
	}

	argv, ok := s.decompressors[kind]
	if !ok || len(argv) == 0 {
		_ = f.Close()
		return nil, kind, fmt.Errorf("%w: %s", ErrUnsupportedCompression, kind)
	}
	rc, err := s.external(ctx, argv, br, f)
	if err != nil {
		_ = f.Close()
		return nil, kind, err
	}
	return rc, kind, nil
}

// external streams src through a decompressor subprocess, bounded by the
// scanner's decompress timeout.
func (s *Scanner) external(ctx context.Context, argv []string, src io.Reader, f *os.File) (io.ReadCloser, error) {
	cancel := func() {}
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec // G204: decompressor argv comes from operator configuration
	cmd.Stdin = src
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("decompressor pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start decompressor %s: %w", argv[0], err)
	}

	return readCloser{Reader: out, close: func() error {
		defer cancel()
		// Drain so the child is not blocked on a full pipe when we stop early.
		_, _ = io.Copy(io.Discard, out)
		waitErr := cmd.Wait()
		closeErr := f.Close()
		if waitErr != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("decompressor %s: %w", argv[0], ctx.Err())
			}
			return fmt.Errorf("decompressor %s: %w: %s", argv[0], waitErr, strings.TrimSpace(stderr.String()))
		}
		return closeErr
	}}, nil
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r readCloser) Close() error { return r.close() }
