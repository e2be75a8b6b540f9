//go:build integration

// Package integration provides end-to-end tests against a running Medoracle.
//
// These tests exercise the COMPLETE decision pipeline:
//
//	Extraction → Normalize → Rules → Decision → Audit record
//
// Run with: MEDORACLE_TEST_URL=http://localhost:8080 go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. EXTRACTION: fields pulled from a medical report by an external
// extractor, each with a confidence. Low-confidence fields count as missing.
//
// 2. RULE: a predicate over one claim field. Failing a hard rule rejects
// the claim; failing a soft rule sends it to human review. A cap_amount rule
// limits the reimbursement instead of failing.
//
// 3. DECISION: APPROVED, REJECTED or NEEDS_REVIEW, recorded in an
// append-only audit store with a content hash.
//
// The suite uploads its own rule document with PUT /rules before running,
// so it replaces whatever catalog the server had.
//
// | Rule ID | What It Checks                | Severity | Effect      |
// |---------|-------------------------------|----------|-------------|
// | IT-1    | exam date inside 2025         | hard     | reject      |
// | IT-2    | MRI claims at most 400        | soft     | cap_amount  |
// | IT-3    | patient id is a registry id   | soft     | flag_review |
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"
)

const ruleDocument = `
version: "integration"
policy:
  name: integration-suite
rules:
  - id: IT-1
    description: exam within policy period
    field: examDate
    operator: withinRange
    range: {min: "2025-01-01", max: "2025-12-31"}
    severity: hard
    effect: reject
  - id: IT-2
    description: MRI reimbursement ceiling
    field: claimedAmount
    operator: withinRange
    range: {max: "400"}
    severity: soft
    effect: cap_amount
    cap: "400"
    when: 'claim.examType == "MRI"'
  - id: IT-3
    description: patient id must be a registry id
    field: patientId
    operator: matchesPattern
    value: "^P[0-9]+$"
    severity: soft
    effect: flag_review
`

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL  string
	TenantID string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("MEDORACLE_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL:  baseURL,
		TenantID: "integration-tenant",
	}
}

var setupOnce sync.Once

// uploadRules installs the suite's catalog once per run.
func uploadRules(t *testing.T, config TestConfig) {
	t.Helper()
	setupOnce.Do(func() {
		status, body := do(t, config, http.MethodPut, "/rules", []byte(ruleDocument))
		if status != http.StatusOK {
			t.Fatalf("failed to upload rules: %d %s", status, body)
		}
	})
}

// ============================================================================
// API Request/Response Types (matching Medoracle's API contract)
// ============================================================================

type ExtractedField struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Present    bool    `json:"present"`
}

type ClaimRequest struct {
	ClaimID string                    `json:"claimId,omitempty"`
	Source  string                    `json:"source,omitempty"`
	Fields  map[string]ExtractedField `json:"fields,omitempty"`
	Values  map[string]string         `json:"values,omitempty"`
}

type ClaimResponse struct {
	RecordID            string   `json:"recordId"`
	ClaimID             string   `json:"claimId"`
	Status              string   `json:"status"`
	ReimbursementAmount string   `json:"reimbursementAmount"`
	Currency            string   `json:"currency"`
	Pending             bool     `json:"pending"`
	Reasons             []string `json:"reasons"`
	Metadata            struct {
		TraceID        string `json:"traceId"`
		CatalogVersion string `json:"catalogVersion"`
		TotalMs        int64  `json:"totalMs"`
	} `json:"metadata"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Issues []struct {
		Field string `json:"field"`
		Kind  string `json:"kind"`
	} `json:"issues"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func do(t *testing.T, config TestConfig, method, path string, body []byte) (int, []byte) {
	t.Helper()

	httpReq, err := http.NewRequest(method, config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp.StatusCode, respBody
}

func submit(t *testing.T, config TestConfig, req ClaimRequest) ClaimResponse {
	t.Helper()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	status, respBody := do(t, config, http.MethodPost, "/claims", body)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, string(respBody))
	}

	var result ClaimResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
	}
	return result
}

func claimID(name string) string {
	return fmt.Sprintf("it-%s-%d", name, time.Now().UnixNano())
}

func mriClaim(name, date, amount, patient string) ClaimRequest {
	return ClaimRequest{
		ClaimID: claimID(name),
		Source:  "integration",
		Values: map[string]string{
			"examType":      "MRI",
			"examDate":      date,
			"claimedAmount": amount,
			"patientId":     patient,
			"currency":      "EUR",
		},
	}
}

// ============================================================================
// SCENARIO 1: Claim inside every rule
// ============================================================================

func TestClaimWithinPolicy_Approved(t *testing.T) {
	/*
	   SCENARIO: a 350 EUR MRI in March 2025 for a registry patient

	   EXPECTED: every rule holds → APPROVED for the claimed amount
	*/
	config := getTestConfig()
	uploadRules(t, config)

	result := submit(t, config, mriClaim("within", "2025-03-01", "350", "P100"))

	if result.Status != "APPROVED" {
		t.Errorf("Expected APPROVED, got %s (reasons %v)", result.Status, result.Reasons)
	}
	if result.ReimbursementAmount != "350.00" {
		t.Errorf("Expected 350.00, got %s", result.ReimbursementAmount)
	}
	if result.Pending {
		t.Error("Approved decision should not be pending")
	}

	t.Logf("✓ Claim approved: record=%s amount=%s", result.RecordID, result.ReimbursementAmount)
}

// ============================================================================
// SCENARIO 2: Cap rule limits the reimbursement
// ============================================================================

func TestClaimAboveCap_ApprovedAtCap(t *testing.T) {
	/*
	   SCENARIO: a 900 EUR MRI

	   EXPECTED: IT-2 matches and caps the amount; the claim is still APPROVED
	*/
	config := getTestConfig()
	uploadRules(t, config)

	result := submit(t, config, mriClaim("capped", "2025-06-15", "900", "P101"))

	if result.Status != "APPROVED" {
		t.Errorf("Expected APPROVED, got %s", result.Status)
	}
	if result.ReimbursementAmount != "400.00" {
		t.Errorf("Expected capped amount 400.00, got %s", result.ReimbursementAmount)
	}

	t.Logf("✓ Cap applied: claimed 900 → reimbursed %s", result.ReimbursementAmount)
}

// ============================================================================
// SCENARIO 3: Hard rule rejects
// ============================================================================

func TestClaimOutsidePeriod_Rejected(t *testing.T) {
	config := getTestConfig()
	uploadRules(t, config)

	result := submit(t, config, mriClaim("old", "2024-12-31", "100", "P102"))

	if result.Status != "REJECTED" {
		t.Errorf("Expected REJECTED, got %s", result.Status)
	}
	if result.ReimbursementAmount != "0.00" {
		t.Errorf("Rejected claims reimburse nothing, got %s", result.ReimbursementAmount)
	}
	if len(result.Reasons) == 0 {
		t.Error("Rejected decision should name the failed rule")
	}

	t.Logf("✓ Claim rejected: reasons=%v", result.Reasons)
}

// ============================================================================
// SCENARIO 4: Soft rule → human review → adjudication
// ============================================================================

func TestClaimNeedsReview_Adjudicated(t *testing.T) {
	/*
	   SCENARIO: patient id does not match the registry pattern

	   EXPECTED:
	   - NEEDS_REVIEW, pending, amount 0
	   - a reviewer approves it, producing a superseding decision
	   - a second adjudication is refused with 409
	*/
	config := getTestConfig()
	uploadRules(t, config)

	req := mriClaim("review", "2025-04-01", "200", "walk-in")
	result := submit(t, config, req)

	if result.Status != "NEEDS_REVIEW" || !result.Pending {
		t.Fatalf("Expected pending NEEDS_REVIEW, got %s pending=%v", result.Status, result.Pending)
	}

	adj, _ := json.Marshal(map[string]string{
		"status":   "APPROVED",
		"reviewer": "dr-integration",
		"reason":   "patient identified by phone",
	})
	status, body := do(t, config, http.MethodPost, "/decisions/"+result.RecordID+"/adjudicate", adj)
	if status != http.StatusCreated {
		t.Fatalf("Expected 201 from adjudication, got %d: %s", status, body)
	}

	status, _ = do(t, config, http.MethodPost, "/decisions/"+result.RecordID+"/adjudicate", adj)
	if status != http.StatusConflict {
		t.Errorf("Expected 409 on second adjudication, got %d", status)
	}

	status, body = do(t, config, http.MethodGet, "/claims/"+req.ClaimID+"/decisions", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200 listing decisions, got %d", status)
	}
	var history struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(body, &history); err != nil {
		t.Fatalf("Failed to decode history: %v", err)
	}
	if history.Count != 2 {
		t.Errorf("Expected original and adjudicated decision, got %d", history.Count)
	}

	t.Logf("✓ Review resolved: %s superseded by adjudication", result.RecordID)
}

// ============================================================================
// SCENARIO 5: Unusable extraction
// ============================================================================

func TestLowConfidenceField_Unprocessable(t *testing.T) {
	/*
	   SCENARIO: the exam date was extracted with 0.3 confidence

	   EXPECTED: the field counts as missing → 422 naming examDate, no decision
	*/
	config := getTestConfig()
	uploadRules(t, config)

	req := mriClaim("lowconf", "", "200", "P103")
	delete(req.Values, "examDate")
	req.Fields = map[string]ExtractedField{
		"examDate": {Value: "2025-04-01", Confidence: 0.3, Present: true},
	}

	body, _ := json.Marshal(req)
	status, respBody := do(t, config, http.MethodPost, "/claims", body)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422, got %d: %s", status, respBody)
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(respBody, &errResp); err != nil {
		t.Fatalf("Failed to decode error: %v", err)
	}
	found := false
	for _, issue := range errResp.Issues {
		if issue.Field == "examDate" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected an issue for examDate, got %+v", errResp.Issues)
	}

	t.Logf("✓ Low-confidence extraction refused: %+v", errResp.Issues)
}

// ============================================================================
// SCENARIO 6: Audit integrity and tenant isolation
// ============================================================================

func TestRecordVerification_TenantIsolated(t *testing.T) {
	config := getTestConfig()
	uploadRules(t, config)

	result := submit(t, config, mriClaim("audit", "2025-02-02", "120", "P104"))

	status, body := do(t, config, http.MethodGet, "/records/"+result.RecordID+"/verify", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200 from verify, got %d: %s", status, body)
	}
	var v struct {
		Valid bool `json:"valid"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("Failed to decode verification: %v", err)
	}
	if !v.Valid {
		t.Error("Freshly recorded decision should verify")
	}

	other := config
	other.TenantID = "integration-other"
	status, _ = do(t, other, http.MethodGet, "/decisions/"+result.RecordID, nil)
	if status != http.StatusNotFound {
		t.Errorf("Expected 404 for another tenant, got %d", status)
	}

	t.Logf("✓ Record %s verified and isolated", result.RecordID)
}

// ============================================================================
// SCENARIO 7: Determinism
// ============================================================================

func TestSameClaimTwice_SameVerdict(t *testing.T) {
	config := getTestConfig()
	uploadRules(t, config)

	req := mriClaim("twice", "2025-07-07", "650", "P105")
	first := submit(t, config, req)
	second := submit(t, config, req)

	if first.Status != second.Status || first.ReimbursementAmount != second.ReimbursementAmount {
		t.Errorf("Same claim decided differently: %s/%s vs %s/%s",
			first.Status, first.ReimbursementAmount, second.Status, second.ReimbursementAmount)
	}
	if first.Metadata.CatalogVersion != second.Metadata.CatalogVersion {
		t.Error("Catalog version changed between submissions")
	}
	if first.RecordID == second.RecordID {
		t.Error("Each submission should produce its own record")
	}

	t.Logf("✓ Deterministic: %s %s under catalog %s", first.Status, first.ReimbursementAmount, first.Metadata.CatalogVersion)
}
