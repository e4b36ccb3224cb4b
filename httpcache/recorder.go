package httpcache

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"
)

// recorder is an http.ResponseWriter that keeps the whole response in memory,
// so it can be inspected (and stored) before anything is sent to the client.
type recorder struct {
	b            *bytes.Buffer
	header       http.Header
	status       int
	wroteHeaders bool
}

func newRecorder() *recorder {
	return &recorder{
		b:      &bytes.Buffer{},
		header: http.Header{},
	}
}

// Implementation of http.ResponseWriter
func (t *recorder) Header() http.Header {
	return t.header
}

// Implementation of http.ResponseWriter
func (t *recorder) WriteHeader(statusCode int) {
	if t.wroteHeaders {
		return
	}
	t.wroteHeaders = true
	t.status = statusCode
	// snapshot, handlers may keep mutating the map after WriteHeader
	t.header = t.header.Clone()
}

// Implementation of http.ResponseWriter
func (t *recorder) Write(b []byte) (int, error) {
	if !t.wroteHeaders {
		t.WriteHeader(http.StatusOK)
	}
	return t.b.Write(b)
}

// Result returns the recorded response for request r.
func (t *recorder) Result(r *http.Request) *http.Response {
	if !t.wroteHeaders {
		t.WriteHeader(http.StatusOK)
	}
	body := t.b.Bytes()
	res := &http.Response{
		Status:        strconv.Itoa(t.status) + " " + http.StatusText(t.status),
		StatusCode:    t.status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        t.header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       r,
	}
	if res.Header.Get("Date") == "" {
		res.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	return res
}
