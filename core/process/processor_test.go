package process

import (
	"encoding/json"
	"testing"
)

func TestProcessValidRequestIncrementsNumberAndSums(t *testing.T) {
	p := New()
	body := []byte(`{"id":123,"name":"Test User","phone":"+1234567890","number":42}`)

	out, ok := p.Process(body)
	if !ok {
		t.Fatalf("expected success, got failure: %s", out)
	}

	var resp successResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Number != 43 || !resp.Success {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if got := p.TotalSum(); got != 42 {
		t.Fatalf("total sum = %d, want 42", got)
	}
	if got := p.ClientSum(123); got != 42 {
		t.Fatalf("client sum = %d, want 42", got)
	}
}

func TestProcessMissingFieldFails(t *testing.T) {
	p := New()
	body := []byte(`{"id":1,"name":"x","phone":"y"}`)

	out, ok := p.Process(body)
	if ok {
		t.Fatalf("expected failure, got success: %s", out)
	}

	var resp errorResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Success {
		t.Fatalf("success = true, want false")
	}
	if got := p.TotalSum(); got != 0 {
		t.Fatalf("total sum = %d, want 0 after failed request", got)
	}
	_, _, failed := p.Stats()
	if failed != 1 {
		t.Fatalf("failed count = %d, want 1", failed)
	}
}

func TestProcessEmptyNameIsValidationError(t *testing.T) {
	p := New()
	body := []byte(`{"id":1,"name":"","phone":"y","number":1}`)
	_, ok := p.Process(body)
	if ok {
		t.Fatal("expected failure for empty name")
	}
}

func TestProcessNegativeIDIsValidationError(t *testing.T) {
	p := New()
	body := []byte(`{"id":-1,"name":"x","phone":"y","number":1}`)
	_, ok := p.Process(body)
	if ok {
		t.Fatal("expected failure for negative id")
	}
}

func TestAllClientSumsSnapshot(t *testing.T) {
	p := New()
	p.Process([]byte(`{"id":1,"name":"a","phone":"b","number":5}`))
	p.Process([]byte(`{"id":2,"name":"a","phone":"b","number":7}`))

	sums := p.AllClientSums()
	if sums["user_1"] != 5 || sums["user_2"] != 7 {
		t.Fatalf("unexpected snapshot: %+v", sums)
	}
}
