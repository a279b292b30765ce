package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/manifest/internal/history"
)

// Sink indexes timer events into OpenSearch via HTTP.
// Each event is POSTed to baseURL + "/" + index + "/_doc".
type Sink struct {
	client   *http.Client
	baseURL  string
	index    string
	user     string
	password string
}

func New(baseURL, index string) *Sink {
	c := &http.Client{Timeout: 5 * time.Second}
	if index == "" {
		index = "timer-history"
	}
	return &Sink{client: c, baseURL: strings.TrimRight(baseURL, "/"), index: index}
}

// WithBasicAuth sets credentials sent with every request.
func (s *Sink) WithBasicAuth(user, password string) *Sink {
	s.user, s.password = user, password
	return s
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	u := fmt.Sprintf("%s/%s/_doc", s.baseURL, s.index)
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.user != "" {
		req.SetBasicAuth(s.user, s.password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("opensearch sink status %d", resp.StatusCode)
	}
	return nil
}
