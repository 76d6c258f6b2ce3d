package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"gochat/internal/models"
	"gochat/internal/provider"
)

// DefaultModel is used when neither the call nor the session names a model.
const DefaultModel = "gpt-4o-mini"

const readBufferSize = 4 * 1024

var errStreamCanceled = errors.New("stream canceled")

// ErrSessionClosed is returned by SendStreamed when the session is closed before or
// while it streams.
var ErrSessionClosed = errors.New("conversation closed")

// Session adapts one conversation to the completions API.
// It owns a single cancellation slot: starting a stream replaces the slot without
// cancelling whatever stream held it before.
type Session struct {
	resolver *Resolver
	cred     provider.Credentials
	defaults models.Settings

	mu      sync.Mutex
	current *streamHandle
	closed  bool
}

type streamHandle struct {
	cancel context.CancelCauseFunc
}

// Models returns the resolved catalogue for the session's credentials.
func (s *Session) Models(ctx context.Context) ([]models.Model, error) {
	return s.resolver.Models(ctx, s.cred)
}

// MapMessages converts a conversation into completions wire messages for modelID.
// Image files are inlined only when the model accepts images.
func (s *Session) MapMessages(ctx context.Context, modelID string, messages []models.ChatMessage) ([]CompletionMessage, error) {
	model, err := s.resolver.ModelByID(ctx, s.cred, modelID)
	if err != nil {
		return nil, err
	}
	return mapMessages(model, messages), nil
}

func mapMessages(model models.Model, messages []models.ChatMessage) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(messages))
	for _, msg := range messages {
		content := []ContentPart{TextPart(msg.Content)}

		if model.Images && len(msg.Files) > 0 {
			var images []ContentPart
			for _, file := range msg.Files {
				if file.IsImage() {
					images = append(images, ImagePart(file.DataURL))
				}
			}
			if len(images) > 0 {
				content = append(content, images...)
			}
		}

		out = append(out, CompletionMessage{
			Role:    string(msg.Role),
			Content: content,
		})
	}
	return out
}

// SendStreamed posts the conversation with streaming enabled and calls onDelta for
// every non-empty content delta, in the order the server emitted them.
// It returns nil when the stream ends, reaches [DONE] or is stopped with Cancel, and
// ErrSessionClosed when the session is closed underneath it.
func (s *Session) SendStreamed(ctx context.Context, settings models.Settings, messages []models.ChatMessage, onDelta models.DeltaFunc) error {
	settings = s.resolve(settings)

	// The slot is taken before model resolution so Cancel covers a cold catalogue fetch.
	streamCtx, cancel := context.WithCancelCause(ctx)
	handle := s.track(cancel)
	defer s.release(handle)
	if handle == nil {
		return ErrSessionClosed
	}

	mapped, err := s.MapMessages(streamCtx, settings.Model, messages)
	if err != nil {
		if stopped, stopErr := interrupted(streamCtx); stopped {
			return stopErr
		}
		return err
	}

	payload := CompletionRequest{
		Model:       settings.Model,
		Messages:    mapped,
		Stream:      true,
		Temperature: settings.Temperature,
		TopP:        settings.TopP,
		Seed:        settings.Seed,
	}

	req, err := newRequest(streamCtx, http.MethodPost, s.cred.BaseURL()+"/v1/chat/completions", s.cred, s.resolver.headers, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.resolver.client.Do(req)
	if err != nil {
		if stopped, stopErr := interrupted(streamCtx); stopped {
			return stopErr
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return provider.InvalidEndpoint(s.cred.BaseURL(), err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return provider.APIError(parseAPIError(resp))
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return provider.ErrEmptyBody
	}

	decoder := NewStreamDecoder(func(text string) {
		if streamCtx.Err() != nil {
			return
		}
		onDelta(text, []models.FileReference{})
	})

	buf := make([]byte, readBufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if stopped, stopErr := interrupted(streamCtx); stopped {
			return stopErr
		}
		if n > 0 && decoder.Write(buf[:n]) {
			return nil
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("read completion stream: %w", readErr)
		}
	}
}

// Cancel aborts the stream currently tracked by the session, if any, and clears the slot.
func (s *Session) Cancel() {
	s.abort(errStreamCanceled)
}

// Close aborts the tracked stream with ErrSessionClosed and makes every later
// SendStreamed fail with it.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.abort(ErrSessionClosed)
}

func (s *Session) abort(cause error) {
	s.mu.Lock()
	h := s.current
	s.current = nil
	s.mu.Unlock()

	if h != nil {
		h.cancel(cause)
	}
}

// InFlight reports whether a stream currently occupies the cancellation slot.
func (s *Session) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// track occupies the slot with a new handle. It returns nil once the session is closed.
func (s *Session) track(cancel context.CancelCauseFunc) *streamHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		cancel(ErrSessionClosed)
		return nil
	}
	h := &streamHandle{cancel: cancel}
	s.current = h
	return h
}

func (s *Session) release(h *streamHandle) {
	if h == nil {
		return
	}
	s.mu.Lock()
	if s.current == h {
		s.current = nil
	}
	s.mu.Unlock()
	h.cancel(nil)
}

func (s *Session) resolve(settings models.Settings) models.Settings {
	out := s.defaults
	if settings.Model != "" {
		out.Model = settings.Model
	}
	if settings.Temperature != nil {
		out.Temperature = settings.Temperature
	}
	if settings.TopP != nil {
		out.TopP = settings.TopP
	}
	if settings.Seed != nil {
		out.Seed = settings.Seed
	}
	return out
}

// interrupted reports whether the stream was stopped through its session and the
// error SendStreamed returns for it: nil for Cancel, ErrSessionClosed for Close.
func interrupted(ctx context.Context) (bool, error) {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errStreamCanceled):
		return true, nil
	case errors.Is(cause, ErrSessionClosed):
		return true, ErrSessionClosed
	default:
		return false, nil
	}
}
