package twitchirc

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// ChannelSource rehydrates the wanted channel set. The manager calls
// Channels on its own schedule; implementations do no caching.
type ChannelSource interface {
	Channels(ctx context.Context) ([]string, error)
}

// JSONFileChannelSource reads a JSON array of channel names from a file.
type JSONFileChannelSource struct {
	Path string
}

func (s JSONFileChannelSource) Channels(context.Context) ([]string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, errors.Wrap(err, "read channels file")
	}
	var channels []string
	if err := json.Unmarshal(data, &channels); err != nil {
		return nil, errors.Wrap(err, "decode channels file")
	}
	return normalizeChannels(channels), nil
}

// SQLiteChannelSource reads distinct channel logins from a table/column in
// an existing SQLite database.
type SQLiteChannelSource struct {
	DB     *sql.DB
	Table  string
	Column string // defaults to "channel"
}

func (s SQLiteChannelSource) Channels(ctx context.Context) ([]string, error) {
	column := s.Column
	if column == "" {
		column = "channel"
	}
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf("SELECT DISTINCT %s FROM %s", column, s.Table))
	if err != nil {
		return nil, errors.Wrap(err, "query channels table")
	}
	defer rows.Close()

	var channels []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, errors.Wrap(err, "scan channel row")
		}
		channels = append(channels, c)
	}
	return normalizeChannels(channels), rows.Err()
}

// HTTPChannelSource fetches the channel set from an authenticated endpoint
// returning {"data":{"channels":["..."]}}.
type HTTPChannelSource struct {
	URL         string
	BearerToken string
	Client      *http.Client
}

func (s HTTPChannelSource) Channels(ctx context.Context) ([]string, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build channels request")
	}
	if s.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.BearerToken)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch channels")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected channels response status %s", resp.Status)
	}

	var body struct {
		Data struct {
			Channels []string `json:"channels"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "decode channels response")
	}
	return normalizeChannels(body.Data.Channels), nil
}

func normalizeChannels(channels []string) []string {
	out := make([]string, 0, len(channels))
	seen := make(map[string]bool, len(channels))
	for _, c := range channels {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
