package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dreamware/drswing/internal/failover"
	"github.com/dreamware/drswing/internal/journal"
)

// Client reads a running controller's HTTP API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// Report fetches /status.
func (c *Client) Report(ctx context.Context) (Report, error) {
	var rep Report
	err := c.get(ctx, "/status", &rep)
	return rep, err
}

// Snapshot fetches /status without the storage figures.
func (c *Client) Snapshot(ctx context.Context) (failover.Snapshot, error) {
	rep, err := c.Report(ctx)
	return rep.Snapshot, err
}

// Events fetches /events with the given limit.
func (c *Client) Events(ctx context.Context, limit int) ([]journal.Event, error) {
	var body struct {
		Events []journal.Event `json:"events"`
	}
	err := c.get(ctx, fmt.Sprintf("/events?limit=%d", limit), &body)
	return body.Events, err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	base := c.BaseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+path, nil)
	if err != nil {
		return err
	}

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// CheckHealth asks the gRPC health service at target about HealthService.
func CheckHealth(ctx context.Context, target string, opts ...grpc.DialOption) (*healthpb.HealthCheckResponse, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()

	return healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
}
