package api

import (
	"bytes"
	"io"
	"net/http"
	"strconv"

	"github.com/edgecoder/coordinator/internal/protocol"
)

// readAndRestoreBody reads r.Body fully and replaces it with a fresh
// reader over the same bytes, so downstream handlers can still decode it
// after the signed-request middleware has hashed it.
func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func parseInt64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func protocolNow() int64 { return protocol.NowMs() }
