package httpserver

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// FuzzCreateJobBody checks that no request body makes intake fail with
// anything other than acceptance or a client error.
func FuzzCreateJobBody(f *testing.F) {
	f.Add([]byte(`{"problem_statement":"spam filtering for telecom"}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`{"problem_statement":""}`))
	f.Add([]byte(`{"problem_statement":null}`))
	f.Add([]byte(`{"problem_statement":123}`))
	f.Add([]byte(`{"problem_statement":"abc","session_id":"\u0000"}`))
	f.Add([]byte(`not json at all`))
	f.Add([]byte{0xff, 0xfe})
	f.Add([]byte(`{"problem_statement": "` + strings.Repeat("a", 20000) + `"}`))

	f.Fuzz(func(t *testing.T, body []byte) {
		ts := newTestHTTPServer(t, nil, nil)
		rr := ts.do(httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body)))
		switch rr.Code {
		case http.StatusAccepted, http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		default:
			t.Fatalf("unexpected status %d for body %q: %s", rr.Code, body, rr.Body.String())
		}
	})
}
