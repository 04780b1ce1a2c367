package axonhttp

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// contentEncodingZstd is the only Content-Encoding/Accept-Encoding
// value the store negotiates. The original wire protocol never
// supported content negotiation beyond this one codec, so there's no
// format registry to look up: a header either names zstd or it doesn't.
const contentEncodingZstd = "zstd"

// acceptedEncoding returns "zstd" if the request's Accept-Encoding
// header names it, or "" if the caller didn't ask for a compressed
// response.
func acceptedEncoding(header string) string {
	for _, part := range strings.Split(header, ",") {
		name := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if name == contentEncodingZstd {
			return contentEncodingZstd
		}
	}
	return ""
}

// decodeZstd wraps body in a zstd-decompressing reader for a PUT whose
// Content-Encoding is zstd. err is non-nil when the decoder cannot be
// opened.
func decodeZstd(body io.ReadCloser) (io.ReadCloser, error) {
	zr, err := zstd.NewReader(body)
	if err != nil {
		return nil, fmt.Errorf("open zstd decoder: %w", err)
	}
	return zstdReader{Decoder: zr, body: body}, nil
}

// zstdReader closes both the zstd decoder and the request body it
// wraps, since *zstd.Decoder.Close never touches the underlying reader.
type zstdReader struct {
	*zstd.Decoder
	body io.ReadCloser
}

func (z zstdReader) Close() error {
	z.Decoder.Close()
	return z.body.Close()
}

// encodeZstd wraps w in a zstd-compressing writer for a GET whose
// caller accepts the encoding.
func encodeZstd(w io.Writer) (io.WriteCloser, error) {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("open zstd encoder: %w", err)
	}
	return zw, nil
}
