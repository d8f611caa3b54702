package core

import (
	"testing"
)

func TestCommandRegistry(t *testing.T) {
	registry := NewCommandRegistry()

	var called bool
	handler := func(data *[]byte) error {
		called = true
		return nil
	}

	id := registry.Register("test_command", "arg=%u", handler)
	if id != 0 {
		t.Errorf("Expected first command to have ID 0, got %d", id)
	}

	cmd, ok := registry.GetCommand(id)
	if !ok {
		t.Fatal("Failed to retrieve registered command")
	}
	if cmd.Signature() != "test_command arg=%u" {
		t.Errorf("Expected signature 'test_command arg=%%u', got '%s'", cmd.Signature())
	}

	var data []byte
	if err := registry.Dispatch(id, &data); err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}
	if !called {
		t.Error("Command handler was not called")
	}

	if err := registry.Dispatch(999, &data); err == nil {
		t.Error("Expected error for unknown command ID")
	}
}

func TestCommandRegistryResponses(t *testing.T) {
	registry := NewCommandRegistry()
	cmdID := registry.Register("ping", "", func(*[]byte) error { return nil })
	respID := registry.Register("pong", "value=%u", nil)

	if again := registry.Register("ping", "other=%c", nil); again != cmdID {
		t.Errorf("Expected re-registration to return %d, got %d", cmdID, again)
	}
	if registry.Count() != 2 {
		t.Errorf("Expected 2 entries, got %d", registry.Count())
	}

	resp, ok := registry.GetCommandByName("pong")
	if !ok || resp.ID != respID || !resp.IsResponse() {
		t.Errorf("Expected pong to be a response with ID %d", respID)
	}

	var data []byte
	if err := registry.Dispatch(respID, &data); err == nil {
		t.Error("Expected error when dispatching a response")
	}

	entries := registry.Entries()
	if len(entries) != 2 || entries[0].Name != "ping" || entries[1].Name != "pong" {
		t.Errorf("Expected entries ordered by ID, got %+v", entries)
	}
}
