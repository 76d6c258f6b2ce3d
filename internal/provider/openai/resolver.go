package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"gochat/internal/metadata"
	"gochat/internal/models"
	"gochat/internal/provider"
)

const (
	modelPrefix      = "gpt-"
	defaultCacheSize = 8
	fetchTimeout     = 30 * time.Second
)

// Resolver fetches the model catalogue of an endpoint and caches it per credentials pair.
// A cached list is kept until Invalidate is called or the pair is evicted.
type Resolver struct {
	client  *http.Client
	table   metadata.Table
	headers map[string]string
	cache   *lru.Cache[string, []models.Model]
	group   singleflight.Group
}

// ResolverOption customises a Resolver.
type ResolverOption func(*Resolver)

// WithMetadata replaces the built-in metadata table.
func WithMetadata(table metadata.Table) ResolverOption {
	return func(r *Resolver) {
		r.table = table
	}
}

// WithHeaders adds headers to every upstream request.
func WithHeaders(headers map[string]string) ResolverOption {
	return func(r *Resolver) {
		r.headers = headers
	}
}

// NewResolver builds a resolver caching up to cacheSize credentials pairs.
func NewResolver(client *http.Client, cacheSize int, opts ...ResolverOption) (*Resolver, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}

	cache, err := lru.New[string, []models.Model](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create model cache: %w", err)
	}

	r := &Resolver{
		client: client,
		table:  metadata.Builtin(),
		cache:  cache,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Models returns the gpt- models offered by the endpoint, newest-looking identifiers first.
// Only the first call per credentials pair reaches the network; later calls return the same slice.
func (r *Resolver) Models(ctx context.Context, cred provider.Credentials) ([]models.Model, error) {
	key := cred.CacheKey()
	if cached, ok := r.cache.Get(key); ok {
		return cached, nil
	}

	// The fetch is shared by every waiting caller and is not tied to any one of them.
	ch := r.group.DoChan(key, func() (any, error) {
		if cached, ok := r.cache.Get(key); ok {
			return cached, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()

		list, err := r.fetch(fetchCtx, cred)
		if err != nil {
			return nil, err
		}
		r.cache.Add(key, list)
		return list, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]models.Model), nil
	}
}

// ModelByID looks the identifier up in the resolved catalogue.
func (r *Resolver) ModelByID(ctx context.Context, cred provider.Credentials, id string) (models.Model, error) {
	list, err := r.Models(ctx, cred)
	if err != nil {
		return models.Model{}, err
	}
	for _, m := range list {
		if m.ID == id {
			return m, nil
		}
	}
	return models.Model{}, provider.ModelNotFound(id)
}

// Invalidate drops the cached catalogue for the credentials pair.
func (r *Resolver) Invalidate(cred provider.Credentials) {
	r.cache.Remove(cred.CacheKey())
}

// NewSession creates a conversation session that resolves models through r.
func (r *Resolver) NewSession(cred provider.Credentials, defaults models.Settings) *Session {
	if defaults.Model == "" {
		defaults.Model = DefaultModel
	}
	return &Session{
		resolver: r,
		cred:     cred,
		defaults: defaults,
	}
}

func (r *Resolver) fetch(ctx context.Context, cred provider.Credentials) ([]models.Model, error) {
	req, err := newRequest(ctx, http.MethodGet, cred.BaseURL()+"/v1/models", cred, r.headers, nil)
	if err != nil {
		return nil, fetchFailed(http.StatusInternalServerError, err.Error(), err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fetchFailed(http.StatusGatewayTimeout, "model list request timed out", err)
		}
		return nil, provider.InvalidEndpoint(cred.BaseURL(), err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		status, message := parseAPIError(resp)
		return nil, fetchFailed(status, message, nil)
	}

	var catalogue modelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&catalogue); err != nil {
		return nil, fetchFailed(http.StatusBadGateway, fmt.Sprintf("decode model list: %v", err), err)
	}

	list := make([]models.Model, 0, len(catalogue.Data))
	for _, entry := range catalogue.Data {
		if !strings.HasPrefix(entry.ID, modelPrefix) {
			continue
		}
		list = append(list, r.table.Enrich(entry.ID))
	}

	// Lexicographic, not version-aware: relies on date-like suffixes sorting later.
	slices.SortFunc(list, func(a, b models.Model) int {
		return strings.Compare(b.ID, a.ID)
	})

	return list, nil
}

func fetchFailed(status int, message string, err error) *provider.Error {
	return &provider.Error{
		Kind:    provider.KindFetchModelsFailed,
		Status:  status,
		Message: message,
		Err:     err,
	}
}
