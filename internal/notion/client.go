package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/twag/internal/tags"
	"go.uber.org/zap"
)

const (
	defaultBaseURL       = "https://api.notion.com"
	defaultNotionVersion = "2022-06-28"
	defaultPageCacheTTL  = 30 * time.Second
	defaultTagProperty   = "Tag ID"
	defaultContainerProp = "Container"
)

var (
	errMissingToken        = errors.New("notion: integration token required")
	errMissingBelongingsDB = errors.New("notion: belongings database id required")
	errMissingContainersDB = errors.New("notion: containers database id required")
	// ErrInvalidClientConfig wraps construction failures.
	ErrInvalidClientConfig = errors.New("notion: invalid client config")
)

// ClientConfig bundles configuration for the Notion API client.
type ClientConfig struct {
	BaseURL           string
	Token             string
	NotionVersion     string
	BelongingsDB      tags.PageRef
	ContainersDB      tags.PageRef
	TagProperty       string
	ContainerProperty string
	HTTPClient        *http.Client
	CacheTTL          time.Duration
	Logger            *zap.Logger
	Clock             func() time.Time
}

// Client reads and writes the authoritative containment store. Reads degrade
// to errors the engine treats as unknown classification; writes are
// set-relation calls, so replays are idempotent.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *zap.Logger
	clock      func() time.Time
	cache      *pageCache
}

// NewClient constructs a client with validated configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingToken)
	}
	if cfg.BelongingsDB == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingBelongingsDB)
	}
	if cfg.ContainersDB == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingContainersDB)
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if strings.TrimSpace(cfg.NotionVersion) == "" {
		cfg.NotionVersion = defaultNotionVersion
	}
	if strings.TrimSpace(cfg.TagProperty) == "" {
		cfg.TagProperty = defaultTagProperty
	}
	if strings.TrimSpace(cfg.ContainerProperty) == "" {
		cfg.ContainerProperty = defaultContainerProp
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultPageCacheTTL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Client{
		config:     cfg,
		httpClient: httpClient,
		logger:     logger,
		clock:      clock,
		cache:      &pageCache{ttl: cfg.CacheTTL},
	}, nil
}

// ResolveTag finds the page carrying the tag identifier and classifies it by
// the database it lives in: belongings database, containers database, or
// unknown. Returns tags.ErrTagNotFound when no page carries the tag.
func (c *Client) ResolveTag(ctx context.Context, id tags.TagID) (tags.PageInfo, error) {
	now := c.clock()
	if info, ok := c.cache.get(id, now); ok {
		return info, nil
	}

	info, err := c.queryDatabase(ctx, c.config.BelongingsDB, id, tags.TagKindBelonging)
	if errors.Is(err, tags.ErrTagNotFound) {
		info, err = c.queryDatabase(ctx, c.config.ContainersDB, id, tags.TagKindContainer)
	}
	if err != nil {
		return tags.PageInfo{}, err
	}

	c.cache.store(id, info, now)
	return info, nil
}

// ResolvePage retrieves one page by its canonical reference.
func (c *Client) ResolvePage(ctx context.Context, ref tags.PageRef) (tags.PageInfo, error) {
	var page pagePayload
	status, err := c.do(ctx, http.MethodGet, "/v1/pages/"+ref.String(), nil, &page)
	if err != nil {
		return tags.PageInfo{}, err
	}
	if status == http.StatusNotFound {
		return tags.PageInfo{}, fmt.Errorf("%w: page %s", tags.ErrTagNotFound, ref)
	}
	if status != http.StatusOK {
		return tags.PageInfo{}, fmt.Errorf("notion: page retrieve returned status %d", status)
	}
	return c.pageInfo(page)
}

// SetContainer re-parents the belonging under the container via the relation
// property. A nil container clears the relation. The write is a set, not an
// append, so repeating it is harmless.
func (c *Client) SetContainer(ctx context.Context, belonging tags.TagID, container *tags.PageRef) error {
	info, err := c.ResolveTag(ctx, belonging)
	if err != nil {
		return err
	}

	relation := []relationEntry{}
	if container != nil {
		relation = append(relation, relationEntry{ID: container.String()})
	}
	body := map[string]interface{}{
		"properties": map[string]interface{}{
			c.config.ContainerProperty: map[string]interface{}{
				"relation": relation,
			},
		},
	}

	status, err := c.do(ctx, http.MethodPatch, "/v1/pages/"+info.Ref.String(), body, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("notion: relation update returned status %d", status)
	}

	// The cached parent is now wrong.
	c.cache.invalidate(belonging)
	return nil
}

func (c *Client) queryDatabase(ctx context.Context, database tags.PageRef, id tags.TagID, kind tags.TagKind) (tags.PageInfo, error) {
	body := map[string]interface{}{
		"page_size": 1,
		"filter": map[string]interface{}{
			"property": c.config.TagProperty,
			"rich_text": map[string]interface{}{
				"equals": id.String(),
			},
		},
	}

	var result queryPayload
	status, err := c.do(ctx, http.MethodPost, "/v1/databases/"+database.String()+"/query", body, &result)
	if err != nil {
		return tags.PageInfo{}, err
	}
	if status != http.StatusOK {
		return tags.PageInfo{}, fmt.Errorf("notion: database query returned status %d", status)
	}
	if len(result.Results) == 0 {
		return tags.PageInfo{}, fmt.Errorf("%w: tag %s", tags.ErrTagNotFound, id)
	}

	info, err := c.pageInfo(result.Results[0])
	if err != nil {
		return tags.PageInfo{}, err
	}
	info.Kind = kind
	return info, nil
}

func (c *Client) pageInfo(page pagePayload) (tags.PageInfo, error) {
	ref, err := tags.ParsePageRef(page.ID)
	if err != nil {
		return tags.PageInfo{}, fmt.Errorf("notion: unparseable page id %q: %v", page.ID, err)
	}

	info := tags.PageInfo{
		Ref:  ref,
		Kind: tags.TagKindUnknown,
		URL:  page.URL,
	}

	if property, ok := page.Properties[c.config.ContainerProperty]; ok && len(property.Relation) > 0 {
		parent, err := tags.ParsePageRef(property.Relation[0].ID)
		if err != nil {
			c.logger.Debug("skipping unparseable relation target",
				zap.String("page_id", page.ID), zap.Error(err))
		} else {
			info.Parent = &parent
		}
	}
	return info, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	request.Header.Set("Authorization", "Bearer "+c.config.Token)
	request.Header.Set("Notion-Version", c.config.NotionVersion)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return 0, err
	}
	defer response.Body.Close()

	if out != nil && response.StatusCode == http.StatusOK {
		if err := json.NewDecoder(response.Body).Decode(out); err != nil {
			return response.StatusCode, err
		}
	}
	return response.StatusCode, nil
}

type queryPayload struct {
	Results []pagePayload `json:"results"`
}

type pagePayload struct {
	ID         string                     `json:"id"`
	URL        string                     `json:"url"`
	Properties map[string]propertyPayload `json:"properties"`
}

type propertyPayload struct {
	Relation []relationEntry `json:"relation"`
}

type relationEntry struct {
	ID string `json:"id"`
}

type pageCache struct {
	mu    sync.RWMutex
	pages map[tags.TagID]cachedPage
	ttl   time.Duration
}

type cachedPage struct {
	info      tags.PageInfo
	expiresAt time.Time
}

func (c *pageCache) get(id tags.TagID, now time.Time) (tags.PageInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cached, ok := c.pages[id]
	if !ok || now.After(cached.expiresAt) {
		return tags.PageInfo{}, false
	}
	return cached.info, true
}

func (c *pageCache) store(id tags.TagID, info tags.PageInfo, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pages == nil {
		c.pages = make(map[tags.TagID]cachedPage)
	}
	c.pages[id] = cachedPage{info: info, expiresAt: now.Add(c.ttl)}
}

func (c *pageCache) invalidate(id tags.TagID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pages, id)
}
