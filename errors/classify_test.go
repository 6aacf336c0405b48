package errors

import (
	"context"
	"fmt"
	"testing"
)

func TestClassify_StatusCodes(t *testing.T) {
	cases := []struct {
		status    int
		kind      Kind
		retryable bool
	}{
		{401, KindSession, false},
		{403, KindPermission, false},
		{404, KindSync, true},
		{408, KindTimeout, true},
		{422, KindValidation, false},
		{429, KindServer, true},
		{500, KindServer, true},
		{503, KindServer, true},
		{418, KindClient, false},
	}

	for _, tc := range cases {
		err := Classify(fmt.Errorf("remote said %d", tc.status), Context{
			Op:         OpBulkUpdate,
			StatusCode: tc.status,
		})
		if err.Kind != tc.kind {
			t.Errorf("status %d: kind = %s, want %s", tc.status, err.Kind, tc.kind)
		}
		if err.Retryable != tc.retryable {
			t.Errorf("status %d: retryable = %v, want %v", tc.status, err.Retryable, tc.retryable)
		}
	}
}

func TestClassify_ContextErrors(t *testing.T) {
	err := Classify(context.DeadlineExceeded, Context{Op: OpFlush})
	if err.Kind != KindTimeout || !err.Retryable {
		t.Fatalf("deadline exceeded should be retryable timeout, got %s retryable=%v", err.Kind, err.Retryable)
	}

	err = Classify(context.Canceled, Context{Op: OpFlush})
	if err.Kind != KindClient || err.Retryable {
		t.Fatalf("cancellation should be non-retryable client error, got %s retryable=%v", err.Kind, err.Retryable)
	}
}

func TestClassify_NetworkByMessage(t *testing.T) {
	err := Classify(fmt.Errorf("dial tcp: connection refused"), Context{Op: OpFlush})
	if err.Kind != KindNetwork {
		t.Fatalf("expected network kind, got %s", err.Kind)
	}
	if !err.Retryable {
		t.Fatal("network errors must be retryable")
	}
	if err.UserMessage == "" {
		t.Fatal("expected a user-facing message")
	}
	if len(err.Suggestions) == 0 {
		t.Fatal("expected suggested actions")
	}
}

func TestClassify_TempIDNeverRetryable(t *testing.T) {
	// Even a kind that would normally be retried must not be retried when the
	// operation was addressed to a temporary identifier.
	err := Classify(fmt.Errorf("connection reset"), Context{
		Op:       OpBulkUpdate,
		EntityID: "tmp_abc",
		TempID:   true,
	})
	if err.Kind != KindNetwork {
		t.Fatalf("expected network kind, got %s", err.Kind)
	}
	if err.Retryable {
		t.Fatal("operations on temporary identifiers must never be retryable")
	}
	if err.Metadata["temp_id"] != true {
		t.Fatal("expected temp_id metadata marker")
	}
}

func TestClassify_PreservesSyncError(t *testing.T) {
	orig := NewValidationError(OpBulkCreate, fmt.Errorf("missing quantity"))
	out := Classify(orig, Context{Op: OpFlush, Component: "executor", EntityID: "l1"})
	if out.Kind != KindValidation {
		t.Fatalf("kind changed during reclassification: %s", out.Kind)
	}
	if out.Op != OpBulkCreate {
		t.Fatalf("existing op must be preserved, got %s", out.Op)
	}
	if out.Metadata["entity_id"] != "l1" {
		t.Fatal("context metadata not applied")
	}
}

func TestClassify_Deterministic(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	ctx := Context{Op: OpFlush, StatusCode: 0}
	a := Classify(cause, ctx)
	b := Classify(cause, ctx)
	if a.Kind != b.Kind || a.Retryable != b.Retryable || a.Severity != b.Severity {
		t.Fatal("classification must be deterministic")
	}
}

func TestClassify_Nil(t *testing.T) {
	if Classify(nil, Context{Op: OpFlush}) != nil {
		t.Fatal("nil error must classify to nil")
	}
}
