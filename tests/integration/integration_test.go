//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"testing"
	"time"

	tc "github.com/testcontainers/testcontainers-go/modules/compose"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	baseURL    string
	httpClient *http.Client
)

// Response types are defined locally so the tests stay black-box and catch
// accidental wire format changes.

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type applyRequest struct {
	Amount  string `json:"amount"`
	OrderID string `json:"orderId,omitempty"`
}

type applyResponse struct {
	OriginalAmount string `json:"originalAmount"`
	FinalAmount    string `json:"finalAmount"`
}

type eligibleDiscount struct {
	Code        string `json:"code"`
	Type        string `json:"type"`
	Value       string `json:"value"`
	Priority    int    `json:"priority"`
	IsStackable bool   `json:"isStackable"`
	UsageCount  int    `json:"usageCount"`
}

type eligibleResponse struct {
	Discounts []eligibleDiscount `json:"discounts"`
}

// seedSQL loads the discount definitions the scenarios below rely on.
const seedSQL = `
INSERT INTO discounts (id, code, name, type, value, min_order_value, max_discount_amount, is_active, max_uses_per_user, priority, is_stackable, expires_at) VALUES
  ('it-save20',  'SAVE20',  '20 percent off',   'percentage', 20, 0,   0, TRUE, 0, 20, TRUE,  NULL),
  ('it-flat10',  'FLAT10',  '10 off',           'fixed',      10, 0,   0, TRUE, 0, 10, FALSE, NULL),
  ('it-oneuse',  'ONEUSE',  'single use 15',    'fixed',      15, 0,   0, TRUE, 1, 0,  TRUE,  NULL),
  ('it-big',     'BIG',     'for large orders', 'percentage', 10, 500, 0, TRUE, 0, 0,  TRUE,  NULL),
  ('it-expired', 'EXPIRED', 'long gone',        'percentage', 10, 0,   0, TRUE, 0, 0,  TRUE,  now() - interval '1 day')
ON CONFLICT (code) DO NOTHING;
`

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	dc, err := tc.NewDockerCompose("docker-compose.test.yml")
	if err != nil {
		log.Fatalf("compose init: %v", err)
	}

	err = dc.
		WaitForService("api", wait.ForHTTP("/readyz").WithPort("8080/tcp")).
		Up(ctx, tc.Wait(true))
	if err != nil {
		log.Fatalf("compose up: %v", err)
	}

	apiContainer, err := dc.ServiceContainer(ctx, "api")
	if err != nil {
		log.Fatalf("api container: %v", err)
	}

	host, err := apiContainer.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	mappedPort, err := apiContainer.MappedPort(ctx, "8080/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	baseURL = fmt.Sprintf("http://%s:%s", host, mappedPort.Port())
	httpClient = &http.Client{Timeout: 10 * time.Second}
	log.Printf("API available at %s", baseURL)

	// Seed discount definitions straight into the database: the API owns
	// assignments and applications, definitions come from an external
	// authoring process.
	pgContainer, err := dc.ServiceContainer(ctx, "postgres")
	if err != nil {
		log.Fatalf("postgres container: %v", err)
	}
	exitCode, output, err := pgContainer.Exec(ctx, []string{
		"psql", "-U", "discounts", "-d", "discounts", "-v", "ON_ERROR_STOP=1", "-c", seedSQL,
	})
	if err != nil {
		log.Fatalf("seed exec: %v", err)
	}
	if exitCode != 0 {
		out, _ := io.ReadAll(output)
		log.Fatalf("seed psql exited %d: %s", exitCode, out)
	}
	log.Printf("seed data loaded")

	result := m.Run()

	// SIGINT stop so app.Run shuts the server down gracefully.
	stopTimeout := 30 * time.Second
	if err := apiContainer.Stop(ctx, &stopTimeout); err != nil {
		log.Printf("stop api container: %v", err)
	}
	if err := dc.Down(context.Background(), tc.RemoveOrphans(true)); err != nil {
		log.Printf("compose down: %v", err)
	}

	return result
}

// HTTP helpers.

func do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, baseURL+path, rd)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func doGet(t *testing.T, path string) *http.Response {
	return do(t, http.MethodGet, path, nil)
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}
