// Package testutil provides testing utilities for the LingQ exporter.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// APIPrefix is the path prefix the mock serves, mirroring the real API.
const APIPrefix = "/api/v2"

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockLingQ is a configurable mock LingQ API server for testing.
type MockLingQ struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	cards    map[string][]MockResponse

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
	cardRequests      map[string][]cardRequest
}

type cardRequest struct {
	page     int
	pageSize int
}

// NewMockLingQ creates a new mock LingQ server.
func NewMockLingQ() *MockLingQ {
	mock := &MockLingQ{
		handlers:     make(map[string]func(w http.ResponseWriter, r *http.Request)),
		cards:        make(map[string][]MockResponse),
		cardRequests: make(map[string][]cardRequest),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.mu.Unlock()

		path := strings.TrimPrefix(r.URL.Path, APIPrefix)

		mock.mu.RLock()
		handler, exists := mock.handlers[path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		if language, ok := cardsLanguage(path); ok {
			mock.cardsHandler(w, r, language)
			return
		}

		http.NotFound(w, r)
	}))

	return mock
}

// URL returns the mock API base URL (including /api/v2).
func (m *MockLingQ) URL() string {
	return m.server.URL + APIPrefix
}

// Close shuts down the mock server.
func (m *MockLingQ) Close() {
	m.server.Close()
}

// SetHandler sets a custom handler for a path relative to the API prefix.
func (m *MockLingQ) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path relative to the API prefix.
func (m *MockLingQ) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, resp)
	})
}

// ScriptCards queues the responses the cards endpoint of language returns,
// one per request, in order. Once the script is exhausted the endpoint
// answers an empty final page.
func (m *MockLingQ) ScriptCards(language string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cards[language] = append(m.cards[language], responses...)
}

// CardPages returns the page numbers requested for language, in order.
func (m *MockLingQ) CardPages(language string) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pages := make([]int, 0, len(m.cardRequests[language]))
	for _, req := range m.cardRequests[language] {
		pages = append(pages, req.page)
	}
	return pages
}

// CardPageSizes returns the page_size values requested for language, in order.
func (m *MockLingQ) CardPageSizes(language string) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sizes := make([]int, 0, len(m.cardRequests[language]))
	for _, req := range m.cardRequests[language] {
		sizes = append(sizes, req.pageSize)
	}
	return sizes
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockLingQ) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetLastRequestHeader returns the headers of the most recent request.
func (m *MockLingQ) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader
}

func (m *MockLingQ) cardsHandler(w http.ResponseWriter, r *http.Request, language string) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	m.mu.Lock()
	m.cardRequests[language] = append(m.cardRequests[language], cardRequest{page: page, pageSize: pageSize})
	var resp MockResponse
	if queue := m.cards[language]; len(queue) > 0 {
		resp = queue[0]
		m.cards[language] = queue[1:]
	} else {
		resp = NewPageResponse(0, 0, false)
	}
	m.mu.Unlock()

	writeResponse(w, resp)
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}

	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// cardsLanguage extracts the language of a "/{language}/cards/" path.
func cardsLanguage(path string) (string, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 2 && parts[1] == "cards" && parts[0] != "" {
		return parts[0], true
	}
	return "", false
}

// NewCard returns a card object as served by the API.
func NewCard(id int64, term string) map[string]any {
	return map[string]any{
		"pk":       id,
		"term":     term,
		"fragment": "... " + term + " ...",
		"hints": []map[string]any{
			{"text": term + "-en", "locale": "en", "popularity": 5},
		},
		"importance":            1,
		"status":                0,
		"notes":                 "",
		"tags":                  []string{},
		"srs_due_date":          "2024-01-01T00:00:00Z",
		"last_reviewed_correct": nil,
		"words":                 []string{term},
		"audio":                 nil,
		"url":                   fmt.Sprintf("https://www.lingq.com/api/v2/cards/%d/", id),
	}
}

// NewPageResponse creates a 200 cards page holding n cards with ids starting at
// firstID. hasNext controls the continuation URL.
func NewPageResponse(firstID int64, n int, hasNext bool) MockResponse {
	results := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		id := firstID + int64(i)
		results = append(results, NewCard(id, fmt.Sprintf("term-%d", id)))
	}

	page := map[string]any{
		"count":   n,
		"results": results,
		"next":    nil,
	}
	if hasNext {
		page["next"] = "https://www.lingq.com/api/v2/xx/cards/?page=next"
	}

	body, _ := json.Marshal(page)
	return NewJSONResponse(string(body))
}

// NewCountResponse creates a 200 cards page that only reports a total count.
func NewCountResponse(count int) MockResponse {
	return NewJSONResponse(fmt.Sprintf(`{"count": %d, "results": [], "next": null}`, count))
}

// NewJSONResponse creates a 200 OK JSON response.
func NewJSONResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"detail": "Request was throttled."}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
			"Retry-After":  "60",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"detail": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// NewUnauthorizedResponse creates a 401 response.
func NewUnauthorizedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusUnauthorized,
		Body:       `{"detail": "Invalid token."}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}
