package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/therealutkarshpriyadarshi/nodewatch/internal/config"
)

// Elasticsearch reads lines a log shipper indexed for a service
type Elasticsearch struct {
	client  *elasticsearch.Client
	cfg     config.ElasticsearchConfig
	service string
}

// NewElasticsearch creates an Elasticsearch backend. The client does not
// connect until the first search
func NewElasticsearch(cfg *config.ElasticsearchConfig, service string) (*Elasticsearch, error) {
	esConfig := elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		CloudID:   cfg.CloudID,
		APIKey:    cfg.APIKey,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	return &Elasticsearch{client: client, cfg: *cfg, service: service}, nil
}

// Name implements Backend
func (e *Elasticsearch) Name() string {
	return "elasticsearch"
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source map[string]interface{} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Tail implements Backend. Documents are fetched newest first and returned
// oldest first
func (e *Elasticsearch) Tail(ctx context.Context, n int) ([]string, error) {
	query := map[string]interface{}{
		"size":    n,
		"_source": []string{e.cfg.MessageField},
		"sort": []interface{}{
			map[string]interface{}{
				e.cfg.TimestampField: map[string]string{"order": "desc"},
			},
		},
		"query": map[string]interface{}{
			"term": map[string]interface{}{
				e.cfg.ServiceField: e.service,
			},
		},
	}

	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.cfg.Index),
		e.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search failed: %s", res.Status())
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	hits := parsed.Hits.Hits
	lines := make([]string, 0, len(hits))
	for i := len(hits) - 1; i >= 0; i-- {
		if msg, ok := lookupField(hits[i].Source, e.cfg.MessageField); ok {
			lines = append(lines, msg)
		}
	}
	return lines, nil
}

// lookupField resolves a dotted field path inside a document source
func lookupField(doc map[string]interface{}, path string) (string, bool) {
	if v, ok := doc[path]; ok {
		s, isString := v.(string)
		return s, isString
	}

	head, rest, found := strings.Cut(path, ".")
	if !found {
		return "", false
	}
	nested, ok := doc[head].(map[string]interface{})
	if !ok {
		return "", false
	}
	return lookupField(nested, rest)
}
