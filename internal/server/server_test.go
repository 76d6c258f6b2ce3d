package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"gochat/internal/config"
	"gochat/internal/provider/openai"
	"gochat/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

type harness struct {
	srv         *Server
	upstream    *httptest.Server
	completions http.HandlerFunc
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided"}}`)
			return
		}
		fmt.Fprint(w, `{"data":[{"id":"gpt-4o"},{"id":"gpt-4"},{"id":"babbage-002"}]}`)
	})
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		h.completions(w, r)
	})
	h.upstream = httptest.NewServer(mux)
	t.Cleanup(h.upstream.Close)

	cfg, err := config.Parse([]byte("api:\n  endpoint: " + h.upstream.URL + "\n  api_key: sk-test\nchat:\n  default_model: gpt-4o\n"))
	require.NoError(t, err)

	resolver, err := openai.NewResolver(h.upstream.Client(), cfg.Cache.Models, openai.WithMetadata(cfg.Metadata()))
	require.NoError(t, err)
	manager, err := session.NewManager(resolver, cfg.Credentials(), cfg.Settings(), cfg.Sessions.Max)
	require.NoError(t, err)

	h.srv, err = New(cfg, manager)
	require.NoError(t, err)
	return h
}

func (h *harness) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

type sseEvent struct {
	Name string
	Data string
}

func parseEvents(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var current sseEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.Name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.Data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if current.Name != "" {
				events = append(events, current)
			}
			current = sseEvent{}
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","conversations":0}`, rec.Body.String())
}

func TestModels(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/api/models", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Data []struct {
			ID     string `json:"id"`
			Images bool   `json:"images"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data, 2)
	assert.Equal(t, "gpt-4o", list.Data[0].ID)
	assert.True(t, list.Data[0].Images)
	assert.Equal(t, "gpt-4", list.Data[1].ID)

	rec = h.do(http.MethodGet, "/api/models/gpt-4", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodGet, "/api/models/gpt-5-nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "MODEL_NOT_FOUND")
}

func TestChat_Streams(t *testing.T) {
	h := newHarness(t)
	h.completions = func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}

	rec := h.do(http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"Hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	id := rec.Header().Get(conversationHeader)
	_, err := uuid.Parse(id)
	require.NoError(t, err)

	events := parseEvents(t, rec.Body.String())
	require.Len(t, events, 4)
	assert.Equal(t, "conversation", events[0].Name)
	assert.Contains(t, events[0].Data, id)
	assert.Equal(t, "delta", events[1].Name)
	assert.JSONEq(t, `{"text":"Hel","files":[]}`, events[1].Data)
	assert.JSONEq(t, `{"text":"lo","files":[]}`, events[2].Data)
	assert.Equal(t, "done", events[3].Name)
}

func TestChat_ErrorBeforeStream(t *testing.T) {
	h := newHarness(t)
	h.completions = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"This model's maximum context length is 8192 tokens"}}`)
	}

	rec := h.do(http.MethodPost, "/api/chat", `{"model":"gpt-4","messages":[{"role":"user","content":"Hi"}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "This model's maximum context length is 8192 tokens", body.Error.Message)
	assert.Equal(t, "API_ERROR", body.Error.Code)
}

func TestChat_UnknownModel(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/api/chat", `{"model":"gpt-unknown","messages":[{"role":"user","content":"Hi"}]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChat_BadRequests(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"not json", "{"},
		{"two objects", `{"messages":[{"role":"user","content":"a"}]}{}`},
		{"no messages", `{"messages":[]}`},
		{"bad conversation id", `{"conversation_id":"abc","messages":[{"role":"user","content":"a"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(http.MethodPost, "/api/chat", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "invalid_request_error")
		})
	}
}

func TestConversation_UnknownID(t *testing.T) {
	h := newHarness(t)
	id := uuid.NewString()

	rec := h.do(http.MethodPost, "/api/conversations/"+id+"/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodDelete, "/api/conversations/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConversation_CancelStopsStream(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.completions = func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"thinking\"}}]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}

	front := httptest.NewServer(h.srv.Handler())
	defer front.Close()
	defer close(release)

	id := uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, front.URL+"/api/chat",
		strings.NewReader(`{"conversation_id":"`+id+`","messages":[{"role":"user","content":"Hi"}]}`))
	require.NoError(t, err)
	resp, err := front.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)
	var names []string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if name, ok := strings.CutPrefix(strings.TrimSpace(line), "event: "); ok {
			names = append(names, name)
			if name == "delta" {
				break
			}
		}
	}

	cancelResp, err := front.Client().Post(front.URL+"/api/conversations/"+id+"/cancel", "application/json", nil)
	require.NoError(t, err)
	cancelResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, cancelResp.StatusCode)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		if name, ok := strings.CutPrefix(strings.TrimSpace(line), "event: "); ok {
			names = append(names, name)
		}
	}
	assert.Equal(t, []string{"conversation", "delta", "done"}, names)

	closeResp, err := front.Client().Do(mustRequest(t, http.MethodDelete, front.URL+"/api/conversations/"+id))
	require.NoError(t, err)
	closeResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, closeResp.StatusCode)
}

func TestConversation_CloseMidStreamReportsError(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.completions = func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}

	front := httptest.NewServer(h.srv.Handler())
	defer front.Close()
	defer close(release)

	id := uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, front.URL+"/api/chat",
		strings.NewReader(`{"conversation_id":"`+id+`","messages":[{"role":"user","content":"Hi"}]}`))
	require.NoError(t, err)
	resp, err := front.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.TrimSpace(line) == "event: delta" {
			break
		}
	}

	closeResp, err := front.Client().Do(mustRequest(t, http.MethodDelete, front.URL+"/api/conversations/"+id))
	require.NoError(t, err)
	closeResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, closeResp.StatusCode)

	rest, err := io.ReadAll(reader)
	require.NoError(t, err)
	events := parseEvents(t, "event: delta\n"+string(rest))
	require.Len(t, events, 2)
	assert.Equal(t, "delta", events[0].Name)
	assert.Equal(t, "error", events[1].Name)
	assert.Contains(t, events[1].Data, "CONVERSATION_CLOSED")
}

func mustRequest(t *testing.T, method, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	return req
}

func TestNew_RequiresManager(t *testing.T) {
	_, err := New(config.Config{}, nil)
	assert.Error(t, err)
}
