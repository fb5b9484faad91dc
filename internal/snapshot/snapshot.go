// Package snapshot fetches the initial state of a trip over REST.
package snapshot

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/tripsync/internal/model"
	"github.com/roach88/tripsync/internal/scheduler"
)

// planResponse is the body of GET /api/plans/{id}. Blocks arrive as one flat
// list and are partitioned by timetable id.
type planResponse struct {
	model.PlanDTO
	Timetables []model.TimetableDTO `json:"timetables"`
	Blocks     []model.BlockDTO     `json:"blocks"`
}

// Client reads plan snapshots from the trip API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client (default: 10 second timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the snapshot of plan planID.
//
// Days are ordered by date. Each block is normalized at decode time and
// attached to its day; blocks of unknown days are dropped and logged. Every
// day is then resolved with the no-anchor pass so the result satisfies the
// store's ordering and non-overlap invariants.
func (c *Client) Fetch(ctx context.Context, planID int64) (model.Snapshot, error) {
	u := c.baseURL + "/api/plans/" + strconv.FormatInt(planID, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("fetch plan %d: %w", planID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return model.Snapshot{}, fmt.Errorf("fetch plan %d: status %d: %s", planID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var pr planResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return model.Snapshot{}, fmt.Errorf("decode plan %d: %w", planID, err)
	}
	if pr.PlanID == 0 {
		pr.PlanID = planID
	}
	return c.build(pr), nil
}

func (c *Client) build(pr planResponse) model.Snapshot {
	days := make([]model.Day, 0, len(pr.Timetables))
	for _, t := range pr.Timetables {
		days = append(days, model.DayFromDTO(t))
	}
	slices.SortStableFunc(days, func(a, b model.Day) int { return cmp.Compare(a.Date, b.Date) })

	index := make(map[int64]int, len(days))
	for i := range days {
		index[days[i].DurableID] = i
		days[i].Number = i + 1
	}
	for _, b := range pr.Blocks {
		i, ok := index[b.TimetableID]
		if !ok {
			c.logger.Info("dropping block for unknown day", "plan_id", pr.PlanID, "timetable_id", b.TimetableID, "block_id", b.BlockID)
			continue
		}
		days[i].Entries = append(days[i].Entries, model.EntryFromDTO(b))
	}
	for i := range days {
		days[i].Entries = scheduler.Resolve(days[i].Entries, "")
		if days[i].Entries == nil {
			days[i].Entries = []model.Entry{}
		}
	}

	return model.Snapshot{Plan: model.PlanFromDTO(pr.PlanDTO), Days: days}
}
