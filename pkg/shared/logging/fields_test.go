package logging

import (
	"errors"
	"testing"
	"time"
)

func TestNewFields(t *testing.T) {
	fields := NewFields()
	if fields == nil {
		t.Fatal("NewFields() returned nil")
	}
	if len(fields) != 0 {
		t.Errorf("NewFields() should be empty, got %d fields", len(fields))
	}
}

func TestFields_Component(t *testing.T) {
	fields := NewFields().Component("router")
	if fields["component"] != "router" {
		t.Errorf("Component() = %v, want %v", fields["component"], "router")
	}
}

func TestFields_Resource(t *testing.T) {
	fields := NewFields().Resource("model", "llama-8b")
	if fields["resource_type"] != "model" {
		t.Errorf("resource_type = %v", fields["resource_type"])
	}
	if fields["resource_name"] != "llama-8b" {
		t.Errorf("resource_name = %v", fields["resource_name"])
	}
}

func TestFields_ResourceWithoutName(t *testing.T) {
	fields := NewFields().Resource("model", "")
	if _, exists := fields["resource_name"]; exists {
		t.Error("Resource() should not set resource_name when empty")
	}
}

func TestFields_Duration(t *testing.T) {
	fields := NewFields().Duration(150 * time.Millisecond)
	if fields["duration_ms"] != int64(150) {
		t.Errorf("Duration() = %v", fields["duration_ms"])
	}
}

func TestFields_ErrorNil(t *testing.T) {
	fields := NewFields().Error(nil)
	if _, exists := fields["error"]; exists {
		t.Error("Error(nil) should not set error field")
	}
}

func TestFields_Error(t *testing.T) {
	fields := NewFields().Error(errors.New("boom"))
	if fields["error"] != "boom" {
		t.Errorf("Error() = %v", fields["error"])
	}
}

func TestFields_Decision(t *testing.T) {
	fields := NewFields().Decision("cloud", "claude-sonnet").Complexity("high").Intent("coding").ElapsedMS(42 * time.Millisecond)
	if fields["decision_location"] != "cloud" || fields["target_model"] != "claude-sonnet" {
		t.Errorf("Decision() = %v", fields)
	}
	if fields["complexity"] != "high" || fields["intent"] != "coding" {
		t.Errorf("Complexity/Intent = %v", fields)
	}
	if fields["elapsed_ms"] != int64(42) {
		t.Errorf("ElapsedMS = %v", fields["elapsed_ms"])
	}
}

func TestFields_ProviderEmpty(t *testing.T) {
	fields := NewFields().Provider("")
	if _, exists := fields["provider"]; exists {
		t.Error("Provider(\"\") should not set provider field")
	}
}
