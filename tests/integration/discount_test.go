//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
)

func assignCode(t *testing.T, user, code string) {
	t.Helper()
	resp := do(t, http.MethodPost, fmt.Sprintf("/api/users/%s/discounts/%s", user, code), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("assign %s to %s: expected 204, got %d", code, user, resp.StatusCode)
	}
}

func TestAssign_UnknownCode(t *testing.T) {
	resp := do(t, http.MethodPost, "/api/users/assign-unknown/discounts/NOSUCH", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	body := decodeJSON[errorResponse](t, resp)
	if body.Code != http.StatusNotFound {
		t.Errorf("body code: got %d, want 404", body.Code)
	}
}

func TestAssign_ExpiredCode(t *testing.T) {
	resp := do(t, http.MethodPost, "/api/users/assign-expired/discounts/EXPIRED", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestAssign_Idempotent(t *testing.T) {
	const user = "assign-twice"
	assignCode(t, user, "SAVE20")
	assignCode(t, user, "SAVE20")

	resp := doGet(t, "/api/users/"+user+"/discounts")
	defer resp.Body.Close()

	body := decodeJSON[eligibleResponse](t, resp)
	if len(body.Discounts) != 1 {
		t.Fatalf("expected 1 discount after re-assign, got %d", len(body.Discounts))
	}
}

func TestAssign_CaseInsensitiveCode(t *testing.T) {
	assignCode(t, "assign-lowercase", "save20")
}

func TestRevoke(t *testing.T) {
	const user = "revoke-user"
	assignCode(t, user, "SAVE20")

	resp := do(t, http.MethodDelete, "/api/users/"+user+"/discounts/SAVE20", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke: expected 204, got %d", resp.StatusCode)
	}

	// Revoked discounts leave the eligible set.
	listResp := doGet(t, "/api/users/" + user + "/discounts")
	defer listResp.Body.Close()
	body := decodeJSON[eligibleResponse](t, listResp)
	if len(body.Discounts) != 0 {
		t.Errorf("expected empty eligible set after revoke, got %d", len(body.Discounts))
	}

	// Re-revoking is a no-op, not an error.
	again := do(t, http.MethodDelete, "/api/users/"+user+"/discounts/SAVE20", nil)
	defer again.Body.Close()
	if again.StatusCode != http.StatusNoContent {
		t.Errorf("re-revoke: expected 204, got %d", again.StatusCode)
	}
}

func TestRevoke_NeverAssigned(t *testing.T) {
	resp := do(t, http.MethodDelete, "/api/users/revoke-nobody/discounts/SAVE20", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestEligible_FiltersByAmount(t *testing.T) {
	const user = "eligible-amounts"
	assignCode(t, user, "SAVE20")
	assignCode(t, user, "BIG") // requires a 500 minimum

	resp := doGet(t, "/api/users/"+user+"/discounts?amount=100")
	defer resp.Body.Close()
	body := decodeJSON[eligibleResponse](t, resp)
	if len(body.Discounts) != 1 || body.Discounts[0].Code != "SAVE20" {
		t.Fatalf("amount=100: expected only SAVE20, got %+v", body.Discounts)
	}

	richResp := doGet(t, "/api/users/"+user+"/discounts?amount=600")
	defer richResp.Body.Close()
	richBody := decodeJSON[eligibleResponse](t, richResp)
	if len(richBody.Discounts) != 2 {
		t.Fatalf("amount=600: expected 2 discounts, got %d", len(richBody.Discounts))
	}
}

func TestApply_StacksInPriorityOrder(t *testing.T) {
	const user = "apply-stacking"
	assignCode(t, user, "SAVE20")
	assignCode(t, user, "FLAT10")

	resp := do(t, http.MethodPost, "/api/users/"+user+"/discounts/apply", applyRequest{
		Amount:  "200",
		OrderID: "order-stacking",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	// 200 minus 20 percent is 160, minus the flat 10 is 150.
	body := decodeJSON[applyResponse](t, resp)
	if body.FinalAmount != "150" {
		t.Errorf("final amount: got %s, want 150", body.FinalAmount)
	}
	if body.OriginalAmount != "200" {
		t.Errorf("original amount: got %s, want 200", body.OriginalAmount)
	}
}

func TestApply_SingleUseExhausts(t *testing.T) {
	const user = "apply-oneuse"
	assignCode(t, user, "ONEUSE")

	first := do(t, http.MethodPost, "/api/users/"+user+"/discounts/apply", applyRequest{Amount: "100"})
	defer first.Body.Close()
	if body := decodeJSON[applyResponse](t, first); body.FinalAmount != "85" {
		t.Errorf("first apply: got %s, want 85", body.FinalAmount)
	}

	// Exhausted: the discount silently drops out of the second pass.
	second := do(t, http.MethodPost, "/api/users/"+user+"/discounts/apply", applyRequest{Amount: "80"})
	defer second.Body.Close()
	if body := decodeJSON[applyResponse](t, second); body.FinalAmount != "80" {
		t.Errorf("second apply: got %s, want 80", body.FinalAmount)
	}
}

func TestApply_NegativeAmount(t *testing.T) {
	resp := do(t, http.MethodPost, "/api/users/apply-negative/discounts/apply", applyRequest{Amount: "-5"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestApply_NoDiscountsIsPassthrough(t *testing.T) {
	resp := do(t, http.MethodPost, "/api/users/apply-nobody/discounts/apply", applyRequest{Amount: "42.50"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeJSON[applyResponse](t, resp)
	if body.FinalAmount != "42.5" {
		t.Errorf("final amount: got %s, want 42.5", body.FinalAmount)
	}
}

// Parallel applies for one user serialize on the per-user lock: the
// single-use discount is consumed exactly once.
func TestApply_ConcurrentSingleUse(t *testing.T) {
	const user = "apply-concurrent"
	assignCode(t, user, "ONEUSE")

	const workers = 8
	finals := make(chan string, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := httpClient.Post(
				baseURL+"/api/users/"+user+"/discounts/apply",
				"application/json",
				strings.NewReader(`{"amount":"100"}`),
			)
			if err != nil {
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return
			}
			var body applyResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return
			}
			finals <- body.FinalAmount
		}()
	}
	wg.Wait()
	close(finals)

	var discounted int
	for final := range finals {
		if final != "100" {
			discounted++
			if final != "85" {
				t.Errorf("discounted amount: got %s, want 85", final)
			}
		}
	}
	if discounted != 1 {
		t.Errorf("single-use discount applied %d times, want exactly 1", discounted)
	}
}

func TestApply_UsageCountVisibleInEligible(t *testing.T) {
	const user = "apply-usage-count"
	assignCode(t, user, "SAVE20")

	resp := do(t, http.MethodPost, "/api/users/"+user+"/discounts/apply", applyRequest{Amount: "100"})
	resp.Body.Close()

	listResp := doGet(t, "/api/users/" + user + "/discounts")
	defer listResp.Body.Close()
	body := decodeJSON[eligibleResponse](t, listResp)
	if len(body.Discounts) != 1 {
		t.Fatalf("expected 1 discount, got %d", len(body.Discounts))
	}
	if body.Discounts[0].UsageCount != 1 {
		t.Errorf("usage count: got %d, want 1", body.Discounts[0].UsageCount)
	}
}
