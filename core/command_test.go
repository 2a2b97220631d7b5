package core

import (
	"errors"
	"testing"
)

func TestCommand_NormalizeValidateTask(t *testing.T) {
	cmd := Command{TaskType: "echo", Params: map[string]any{"text": "hi"}}
	cmd.Normalize()
	if cmd.TaskID == "" || cmd.CorrelationID == "" {
		t.Fatalf("Normalize should fill generated ids: %+v", cmd)
	}
	if cmd.Priority != PriorityNormal {
		t.Fatalf("Normalize should default priority: %v", cmd.Priority)
	}
	if err := cmd.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	task := cmd.Task()
	if task.ID != cmd.TaskID || task.Type != "echo" || task.Status != "" {
		t.Fatalf("Task conversion malformed: %+v", task)
	}
	if task.CreatedAt.IsZero() || task.LastUpdate.IsZero() {
		t.Error("Task conversion should stamp timestamps")
	}
	task.Params["text"] = "mutated"
	if cmd.Params["text"] != "hi" {
		t.Error("Task params share state with command")
	}

	var verr *MessageValidationError
	if err := (Command{}).Validate(); !errors.As(err, &verr) || verr.Field != "task_type" {
		t.Fatalf("Expected task_type validation error, got %v", err)
	}
}

func TestCommand_EventRoundTrip(t *testing.T) {
	cmd := Command{
		TaskID:        "task-rt",
		TaskType:      "echo",
		Params:        map[string]any{"text": "hi"},
		Priority:      PriorityHigh,
		CorrelationID: "corr-rt",
	}
	ev := NewCommandEvent("client-1", "worker-1", cmd)
	if ev.Type != EventTaskCommand || ev.Topic != CommandTopic("worker-1") {
		t.Fatalf("Command event routing wrong: %+v", ev)
	}

	parsed, err := ParseCommand(ev)
	if err != nil {
		t.Fatalf("ParseCommand failed: %v", err)
	}
	if parsed.TaskID != "task-rt" || parsed.TaskType != "echo" || parsed.Priority != PriorityHigh {
		t.Fatalf("Round trip lost fields: %+v", parsed)
	}
	if parsed.CorrelationID != "corr-rt" {
		t.Errorf("Correlation lost: %q", parsed.CorrelationID)
	}
	if parsed.Params["text"] != "hi" {
		t.Errorf("Params lost: %+v", parsed.Params)
	}
}

func TestParseCommand_Defects(t *testing.T) {
	base := func() Event {
		return NewCommandEvent("client-1", "worker-1", Command{TaskID: "task-x", TaskType: "echo"})
	}

	cases := []struct {
		name   string
		mutate func(*Event)
		field  string
	}{
		{"empty payload", func(e *Event) { e.Data = nil }, "data"},
		{"missing task_id", func(e *Event) { delete(e.Data, "task_id") }, "task_id"},
		{"blank task_id", func(e *Event) { e.Data["task_id"] = "" }, "task_id"},
		{"missing task_type", func(e *Event) { delete(e.Data, "task_type") }, "task_type"},
		{"non-string task_type", func(e *Event) { e.Data["task_type"] = 7 }, "task_type"},
		{"params not object", func(e *Event) { e.Data["params"] = "oops" }, "params"},
		{"bad priority", func(e *Event) { e.Data["priority"] = "URGENT" }, "priority"},
	}
	for _, c := range cases {
		ev := base()
		c.mutate(&ev)
		_, err := ParseCommand(ev)
		var verr *MessageValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: expected *MessageValidationError, got %v", c.name, err)
		}
		if verr.Field != c.field {
			t.Errorf("%s: expected field %q, got %q", c.name, c.field, verr.Field)
		}
	}
}

func TestParseCommand_CorrelationFallback(t *testing.T) {
	ev := NewCommandEvent("client-1", "worker-1", Command{TaskID: "task-cf", TaskType: "echo"})
	delete(ev.Data, "correlation_id")
	ev.CorrelationID = "envelope-corr"

	parsed, err := ParseCommand(ev)
	if err != nil {
		t.Fatalf("ParseCommand failed: %v", err)
	}
	if parsed.CorrelationID != "envelope-corr" {
		t.Errorf("Expected envelope correlation fallback, got %q", parsed.CorrelationID)
	}
}
