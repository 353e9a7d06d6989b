package marketplace

import (
	"bytes"
	"encoding/json"
	"io"
)

// jsonReader adapts an arbitrary value to an io.Reader of its JSON encoding,
// satisfying http.NewRequestWithContext's body parameter.
type jsonReader struct {
	io.Reader
}

func newJSONReader(v any) *jsonReader {
	buf, _ := json.Marshal(v)
	return &jsonReader{Reader: bytes.NewReader(buf)}
}

func newJSONReaderRaw(s string) *jsonReader {
	return &jsonReader{Reader: bytes.NewReader([]byte(s))}
}
