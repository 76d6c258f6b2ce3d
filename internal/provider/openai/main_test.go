package openai

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"gochat/internal/models"
	"gochat/internal/provider"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

const testKey = "sk-test"

// fakeUpstream is an OpenAI-compatible endpoint serving a fixed catalogue and a
// configurable chat/completions handler.
type fakeUpstream struct {
	srv         *httptest.Server
	modelHits   atomic.Int32
	catalogue   []string
	completions http.HandlerFunc

	// holdModels, when set, keeps /v1/models from answering until it is closed.
	holdModels chan struct{}
}

func newFakeUpstream(t *testing.T, catalogue ...string) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{catalogue: catalogue}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models", func(w http.ResponseWriter, r *http.Request) {
		f.modelHits.Add(1)
		if f.holdModels != nil {
			select {
			case <-f.holdModels:
			case <-r.Context().Done():
				return
			}
		}
		if r.Header.Get("Authorization") != "Bearer "+testKey {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`)
			return
		}
		data := make([]map[string]string, 0, len(f.catalogue))
		for _, id := range f.catalogue {
			data = append(data, map[string]string{"id": id, "object": "model"})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
	})
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if f.completions == nil {
			http.NotFound(w, r)
			return
		}
		f.completions(w, r)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeUpstream) credentials() provider.Credentials {
	return provider.Credentials{Endpoint: f.srv.URL + "/", APIKey: testKey}
}

func (f *fakeUpstream) resolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver(f.srv.Client(), 4)
	require.NoError(t, err)
	return r
}

func (f *fakeUpstream) session(t *testing.T) *Session {
	t.Helper()
	return f.resolver(t).NewSession(f.credentials(), models.Settings{})
}

// sseBody renders content deltas as a chat/completions event stream.
func sseBody(deltas ...string) string {
	var b strings.Builder
	for _, d := range deltas {
		chunk, _ := json.Marshal(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion.chunk",
			"choices": []any{map[string]any{"index": 0, "delta": map[string]string{"content": d}}},
		})
		fmt.Fprintf(&b, "data: %s\n\n", chunk)
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}
