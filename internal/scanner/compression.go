// internal/scanner/compression.go
package scanner

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// acceptEncoding is advertised on every scan request.
const acceptEncoding = "br, gzip, deflate"

var (
	gzipReaderPool   = sync.Pool{New: func() interface{} { return new(gzip.Reader) }}
	brotliReaderPool = sync.Pool{New: func() interface{} { return brotli.NewReader(nil) }}
	emptyReader      = strings.NewReader("")
)

// decompressingTransport negotiates compression and decodes response bodies
// so modules always see plain bytes.
type decompressingTransport struct {
	next http.RoundTripper
}

func newDecompressingTransport(next http.RoundTripper) *decompressingTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &decompressingTransport{next: next}
}

func (t *decompressingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if err := decompressBody(resp); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to initialize response decompression: %w", err)
	}
	return resp, nil
}

// layeredBody closes a decoder, returns it to its pool and closes the
// wrapped body.
type layeredBody struct {
	io.ReadCloser
	inner   io.ReadCloser
	release func()
}

func (b *layeredBody) Close() error {
	if b.release != nil {
		b.release()
		b.release = nil
	}
	return errors.Join(b.ReadCloser.Close(), b.inner.Close())
}

// decompressBody unwraps every Content-Encoding layer, last applied first.
// On error the body may be partially consumed and must be discarded.
func decompressBody(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}
	encodings := resp.Header.Values("Content-Encoding")
	if len(encodings) == 0 {
		return nil
	}

	for i := len(encodings) - 1; i >= 0; i-- {
		for _, layer := range reversed(strings.Split(encodings[i], ",")) {
			var (
				reader  io.ReadCloser
				release func()
			)
			switch strings.ToLower(strings.TrimSpace(layer)) {
			case "gzip", "x-gzip":
				zr := gzipReaderPool.Get().(*gzip.Reader)
				if err := zr.Reset(resp.Body); err != nil {
					gzipReaderPool.Put(zr)
					return fmt.Errorf("gzip initialization error: %w", err)
				}
				reader = zr
				release = func() {
					_ = zr.Reset(emptyReader)
					gzipReaderPool.Put(zr)
				}
			case "br":
				br := brotliReaderPool.Get().(*brotli.Reader)
				if err := br.Reset(resp.Body); err != nil {
					brotliReaderPool.Put(br)
					return fmt.Errorf("brotli initialization error: %w", err)
				}
				reader = io.NopCloser(br)
				release = func() {
					_ = br.Reset(emptyReader)
					brotliReaderPool.Put(br)
				}
			case "deflate":
				reader = newDeflateReader(resp.Body)
			case "identity", "":
				continue
			default:
				return fmt.Errorf("unsupported Content-Encoding layer: %s", layer)
			}
			resp.Body = &layeredBody{ReadCloser: reader, inner: resp.Body, release: release}
		}
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// newDeflateReader accepts both zlib-wrapped and raw deflate streams, which
// servers use interchangeably for "deflate".
func newDeflateReader(r io.Reader) io.ReadCloser {
	br := bufio.NewReader(r)
	if header, err := br.Peek(2); err == nil && isZlibHeader(header) {
		if zr, err := zlib.NewReader(br); err == nil {
			return zr
		}
	}
	return flate.NewReader(br)
}

// isZlibHeader checks the CMF/FLG pair of RFC 1950.
func isZlibHeader(h []byte) bool {
	return h[0]&0x0f == 8 && (uint16(h[0])<<8|uint16(h[1]))%31 == 0
}

func reversed(s []string) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}
