package rules

import (
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/medoracle/internal/domain"
	"github.com/shopspring/decimal"
)

const policyDoc = `
version: "2025.1"
policy:
  name: standard-outpatient
rules:
  - id: R1
    description: exam must fall within the policy period
    field: examDate
    operator: withinRange
    range: {min: "2025-01-01", max: "2025-12-31"}
    severity: hard
    effect: reject
  - id: R2
    description: MRI reimbursement ceiling
    field: claimedAmount
    operator: withinRange
    range: {max: "400"}
    severity: soft
    effect: cap_amount
    cap: "400"
`

func testClaim(examType, date, amount string) *domain.Claim {
	d, err := time.ParseInLocation(domain.DateLayout, date, time.UTC)
	if err != nil {
		panic(err)
	}
	return &domain.Claim{
		ID:            "claim-1",
		ExamType:      examType,
		ExamDate:      d,
		ClaimedAmount: decimal.RequireFromString(amount),
		Currency:      "EUR",
		PatientID:     "P1",
	}
}

func mustLoad(t *testing.T, src string) *Catalog {
	t.Helper()
	cat, err := Load([]byte(src))
	if err != nil {
		t.Fatalf("failed to load catalog: %v", err)
	}
	return cat
}

func TestEvaluateApprovedWithCap(t *testing.T) {
	cat := mustLoad(t, policyDoc)

	v := Evaluate(testClaim("MRI", "2025-04-10", "500"), cat)

	if v.Status != domain.StatusApproved {
		t.Fatalf("expected APPROVED, got %s", v.Status)
	}
	if len(v.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(v.Results))
	}
	if !v.Results[0].Passed || v.Results[0].RuleID != "R1" {
		t.Errorf("expected R1 to pass first, got %+v", v.Results[0])
	}
	caps := v.Caps()
	if len(caps) != 1 || !caps[0].Equal(decimal.NewFromInt(400)) {
		t.Errorf("expected a single 400 cap, got %v", caps)
	}
	if v.CatalogVersion != cat.Version() {
		t.Errorf("expected catalog version %s, got %s", cat.Version(), v.CatalogVersion)
	}
}

func TestEvaluateHardFailureRejects(t *testing.T) {
	cat := mustLoad(t, policyDoc)

	v := Evaluate(testClaim("MRI", "2024-11-02", "500"), cat)

	if v.Status != domain.StatusRejected {
		t.Fatalf("expected REJECTED, got %s", v.Status)
	}
	if len(v.Results) != 2 {
		t.Fatalf("every rule must be recorded, got %d results", len(v.Results))
	}
	failed := v.Failed()
	if len(failed) != 1 || failed[0].RuleID != "R1" {
		t.Errorf("expected only R1 to fail, got %+v", failed)
	}
}

func TestEvaluateSeverityDominance(t *testing.T) {
	src := `
rules:
  - id: soft-1
    field: examType
    operator: equals
    value: CT
    severity: soft
    effect: flag_review
  - id: soft-2
    field: patientId
    operator: matchesPattern
    value: "^X"
    severity: soft
    effect: flag_review
  - id: hard-1
    field: claimedAmount
    operator: withinRange
    range: {min: "1000"}
    severity: hard
    effect: reject
`
	cat := mustLoad(t, src)

	tests := []struct {
		name   string
		claim  *domain.Claim
		status domain.Status
	}{
		{"hard failure wins over soft failures", testClaim("MRI", "2025-01-01", "10"), domain.StatusRejected},
		{"soft failure only", testClaim("MRI", "2025-01-01", "5000"), domain.StatusNeedsReview},
		{"one soft failure is enough", testClaim("CT", "2025-01-01", "5000"), domain.StatusNeedsReview},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Evaluate(tt.claim, cat)
			if v.Status != tt.status {
				t.Errorf("expected %s, got %s (%v)", tt.status, v.Status, v.Reasons())
			}
		})
	}
}

func TestEvaluateAllPassApproves(t *testing.T) {
	cat := mustLoad(t, `
rules:
  - id: type
    field: examType
    operator: notEquals
    value: COSMETIC
    severity: hard
    effect: reject
`)
	v := Evaluate(testClaim("MRI", "2025-04-10", "500"), cat)
	if v.Status != domain.StatusApproved {
		t.Errorf("expected APPROVED, got %s", v.Status)
	}
	if len(v.Reasons()) != 0 {
		t.Errorf("expected no reasons, got %v", v.Reasons())
	}
}

func TestEvaluateEmptyCatalog(t *testing.T) {
	v := Evaluate(testClaim("MRI", "2025-04-10", "500"), Empty())
	if v.Status != domain.StatusApproved {
		t.Errorf("expected APPROVED, got %s", v.Status)
	}
	if len(v.Results) != 0 {
		t.Errorf("expected no results, got %d", len(v.Results))
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	cat := mustLoad(t, policyDoc)
	claim := testClaim("MRI", "2025-04-10", "500")

	first := Evaluate(claim, cat)
	for i := 0; i < 50; i++ {
		if got := Evaluate(claim, cat); !reflect.DeepEqual(first, got) {
			t.Fatalf("verdict changed on run %d", i)
		}
	}
}

func TestEvaluateWhenGuard(t *testing.T) {
	cat := mustLoad(t, `
rules:
  - id: mri-cap
    field: claimedAmount
    operator: withinRange
    range: {max: "400"}
    severity: soft
    effect: cap_amount
    cap: "400"
    when: claim.examType == "MRI"
`)

	t.Run("guard true applies rule", func(t *testing.T) {
		v := Evaluate(testClaim("MRI", "2025-04-10", "500"), cat)
		if !v.Results[0].Applicable || v.Results[0].Cap == nil {
			t.Errorf("expected applicable capped result, got %+v", v.Results[0])
		}
	})

	t.Run("guard false skips rule", func(t *testing.T) {
		v := Evaluate(testClaim("XRAY", "2025-04-10", "500"), cat)
		r := v.Results[0]
		if r.Applicable || !r.Passed || r.Cap != nil {
			t.Errorf("expected non-applicable pass, got %+v", r)
		}
		if v.Status != domain.StatusApproved {
			t.Errorf("expected APPROVED, got %s", v.Status)
		}
	})
}

func TestEvaluateGuardSeesAmountAsDouble(t *testing.T) {
	cat := mustLoad(t, `
rules:
  - id: exact-ceiling
    field: claimedAmount
    operator: withinRange
    range: {max: "0.3"}
    severity: hard
    effect: reject
  - id: guarded
    field: examType
    operator: equals
    value: CT
    severity: hard
    effect: reject
    when: claim.claimedAmount > 0.3
`)

	// 0.30000000000000001 rounds to the double 0.3.
	v := Evaluate(testClaim("MRI", "2025-04-10", "0.30000000000000001"), cat)
	if v.Results[0].Passed {
		t.Error("decimal range must see the amount above 0.3")
	}
	if v.Results[1].Applicable {
		t.Error("guard compares doubles and must not see the amount above 0.3")
	}
}

func TestEvaluateDoesNotMutateClaim(t *testing.T) {
	cat := mustLoad(t, policyDoc)
	claim := testClaim("MRI", "2025-04-10", "500")
	before := *claim

	Evaluate(claim, cat)

	if !reflect.DeepEqual(before, *claim) {
		t.Error("claim was mutated by evaluation")
	}
}

func TestEngineReload(t *testing.T) {
	engine := NewEngine(nil, nil)
	if engine.Catalog().Len() != 0 {
		t.Fatalf("expected empty catalog, got %d rules", engine.Catalog().Len())
	}

	cat, err := engine.Reload([]byte(policyDoc))
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if engine.Catalog() != cat {
		t.Error("expected reloaded catalog to be active")
	}

	if _, err := engine.Reload([]byte("rules: [{id: x, field: nope}]")); err == nil {
		t.Fatal("expected reload of invalid source to fail")
	}
	if engine.Catalog() != cat {
		t.Error("failed reload must keep the previous catalog")
	}
}

func TestEngineConcurrentReload(t *testing.T) {
	alt := `
rules:
  - id: A1
    field: examType
    operator: equals
    value: MRI
    severity: hard
    effect: reject
  - id: A2
    field: patientId
    operator: equals
    value: P1
    severity: hard
    effect: reject
  - id: A3
    field: currency
    operator: equals
    value: EUR
    severity: hard
    effect: reject
`
	catA := mustLoad(t, policyDoc)
	catB := mustLoad(t, alt)
	engine := NewEngine(catA, nil)
	claim := testClaim("MRI", "2025-04-10", "500")

	var stop atomic.Bool
	var mixed atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				v := engine.Evaluate(claim)
				switch v.CatalogVersion {
				case catA.Version():
					if len(v.Results) != catA.Len() {
						mixed.Add(1)
					}
				case catB.Version():
					if len(v.Results) != catB.Len() {
						mixed.Add(1)
					}
				default:
					mixed.Add(1)
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			engine.Swap(catB)
		} else {
			engine.Swap(catA)
		}
	}
	stop.Store(true)
	wg.Wait()

	if mixed.Load() != 0 {
		t.Errorf("observed %d verdicts mixing catalog versions", mixed.Load())
	}
}
