package monday

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/inflow-io/inflow/errors"
)

// Client is a minimal monday.com GraphQL API client. Monday enforces a
// complexity budget per minute, so every call goes through a rate limiter.
type Client struct {
	apiToken string
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	logger   *zap.SugaredLogger
}

// ClientConfig configures the monday API client.
type ClientConfig struct {
	APIToken          string
	BaseURL           string
	RequestsPerMinute int
	Timeout           time.Duration
}

// NewClient creates a monday API client.
func NewClient(cfg ClientConfig, logger *zap.SugaredLogger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.monday.com/v2"
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 40
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		apiToken: cfg.APIToken,
		baseURL:  cfg.BaseURL,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1),
		logger:   logger,
	}
}

type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors,omitempty"`
}

// query executes one GraphQL request and unmarshals the data payload into out.
func (c *Client) query(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	if c.apiToken == "" {
		return errors.NewInvalidRequestError("monday api token is not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limit wait")
	}

	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return errors.Wrap(err, "marshal graphql request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build graphql request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "monday api request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read monday api response")
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Newf("monday api returned %d: %s", resp.StatusCode, truncate(respBody, 512))
	}

	var gql graphqlResponse
	if err := json.Unmarshal(respBody, &gql); err != nil {
		return errors.Wrap(err, "decode monday api response")
	}
	if len(gql.Errors) > 0 {
		return errors.Newf("monday graphql error: %s", gql.Errors[0].Message)
	}

	if err := json.Unmarshal(gql.Data, out); err != nil {
		return errors.Wrap(err, "decode monday graphql data")
	}
	return nil
}

// Board is one monday board with its groups and items.
type Board struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Groups []Group `json:"groups"`
	Items  []Item  `json:"-"`
}

// Group is a monday board group (a visual section of rows).
type Group struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Item is a monday board row with its column values and subitems.
type Item struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Group        *Group        `json:"group"`
	ColumnValues []ColumnValue `json:"column_values"`
	Subitems     []Item        `json:"subitems"`
}

// ColumnValue is one cell of a monday item.
type ColumnValue struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text"`
}

const boardsQuery = `
query ($boardIds: [ID!], $cursor: String) {
  boards(ids: $boardIds) {
    id
    name
    groups { id title }
    items_page(limit: 100, cursor: $cursor) {
      cursor
      items {
        id
        name
        group { id title }
        column_values { id type text }
        subitems {
          id
          name
          column_values { id type text }
        }
      }
    }
  }
}`

type boardsPayload struct {
	Boards []struct {
		ID        string  `json:"id"`
		Name      string  `json:"name"`
		Groups    []Group `json:"groups"`
		ItemsPage struct {
			Cursor string `json:"cursor"`
			Items  []Item `json:"items"`
		} `json:"items_page"`
	} `json:"boards"`
}

// FetchBoards retrieves the boards with all their items, following the
// items_page cursor until exhausted.
func (c *Client) FetchBoards(ctx context.Context, boardIDs []string) ([]Board, error) {
	boards := make(map[string]*Board)
	var order []string

	cursor := ""
	for {
		variables := map[string]interface{}{"boardIds": boardIDs}
		if cursor != "" {
			variables["cursor"] = cursor
		}

		var payload boardsPayload
		if err := c.query(ctx, boardsQuery, variables, &payload); err != nil {
			return nil, err
		}

		nextCursor := ""
		for _, b := range payload.Boards {
			board, ok := boards[b.ID]
			if !ok {
				board = &Board{ID: b.ID, Name: b.Name, Groups: b.Groups}
				boards[b.ID] = board
				order = append(order, b.ID)
			}
			board.Items = append(board.Items, b.ItemsPage.Items...)
			if b.ItemsPage.Cursor != "" {
				nextCursor = b.ItemsPage.Cursor
			}
		}

		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	result := make([]Board, 0, len(order))
	for _, id := range order {
		result = append(result, *boards[id])
	}
	c.logger.Debugw("Fetched monday boards", "boards", len(result))
	return result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return fmt.Sprintf("%s... (%d bytes)", b[:n], len(b))
}
