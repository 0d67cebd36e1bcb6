package api

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const codeUnsupportedEncoding = "unsupported_encoding"

var errBodyTooLarge = errors.New("request body too large")

// RequestBodyMiddleware bounds task write bodies to maxBytes. The bound holds
// on the wire and, for gzip bodies, again on the decompressed stream, so a
// small compressed payload cannot expand past what decodePatch accepts.
// Content encodings other than gzip are refused.
func RequestBodyMiddleware(maxBytes int64) echo.MiddlewareFunc {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method == http.MethodGet || req.Method == http.MethodHead || req.Body == nil {
				return next(c)
			}
			if req.ContentLength > maxBytes {
				_ = req.Body.Close()
				return tooLarge(maxBytes)
			}
			gzipped, err := gzipEncoded(req.Header.Get(echo.HeaderContentEncoding))
			if err != nil {
				_ = req.Body.Close()
				return &requestError{status: http.StatusUnsupportedMediaType, code: codeUnsupportedEncoding, msg: err.Error()}
			}

			wire := &cappedBody{r: req.Body, left: maxBytes, closer: req.Body.Close}
			if !gzipped {
				req.Body = wire
				return next(c)
			}
			gr, err := gzip.NewReader(wire)
			if err != nil {
				_ = wire.Close()
				if errors.Is(err, errBodyTooLarge) {
					return tooLarge(maxBytes)
				}
				return badRequest(codeInvalidBody, "invalid gzip body")
			}
			req.Body = &cappedBody{r: gr, left: maxBytes, closer: func() error {
				return errors.Join(gr.Close(), wire.Close())
			}}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

func tooLarge(max int64) *requestError {
	return &requestError{status: http.StatusRequestEntityTooLarge, code: codeTooLarge, msg: fmt.Sprintf("body exceeds %d bytes", max), err: errBodyTooLarge}
}

// gzipEncoded reports whether the body is gzip. An empty or identity
// encoding is plain.
func gzipEncoded(header string) (bool, error) {
	gzipped := false
	for _, enc := range strings.Split(header, ",") {
		switch enc = strings.ToLower(strings.TrimSpace(enc)); enc {
		case "", "identity":
		case "gzip", "x-gzip":
			if gzipped {
				return false, errors.New("gzip applied more than once")
			}
			gzipped = true
		default:
			return false, fmt.Errorf("unsupported content encoding %q", enc)
		}
	}
	return gzipped, nil
}

// cappedBody fails with errBodyTooLarge once more than left bytes are read.
type cappedBody struct {
	r      io.Reader
	left   int64
	closer func() error
}

func (b *cappedBody) Read(p []byte) (int, error) {
	if b.left < 0 {
		return 0, errBodyTooLarge
	}
	if int64(len(p)) > b.left+1 {
		p = p[:b.left+1]
	}
	n, err := b.r.Read(p)
	if int64(n) <= b.left {
		b.left -= int64(n)
		return n, err
	}
	n = int(b.left)
	b.left = -1
	return n, errBodyTooLarge
}

func (b *cappedBody) Close() error { return b.closer() }
