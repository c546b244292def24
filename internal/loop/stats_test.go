package loop

import (
	"testing"
	"time"
)

// TestSnapshot_StatusMap verifies the JSON-ready rendering of a snapshot.
func TestSnapshot_StatusMap(t *testing.T) {
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Name:      "ping",
		Interval:  59 * time.Second,
		NextRunIn: 12 * time.Second,
		Total:     10,
		Success:   7,
		Failed:    1,
		Faulted:   1,
		History: []RunRecord{
			{Seq: 9, Start: start, Completion: 1500 * time.Millisecond},
			{Seq: 10, Start: start.Add(59 * time.Second), Completion: 80 * time.Millisecond, Failure: "boom"},
		},
		LastFailure:      "boom",
		LastFailureStack: "goroutine 1 [running]:",
		LastFailureTime:  start.Add(time.Minute),
	}

	m := snap.StatusMap()

	loops, ok := m["loops"].(map[string]any)
	if !ok {
		t.Fatalf("loops = %T, want map", m["loops"])
	}
	if loops["total"] != uint64(10) || loops["success"] != uint64(7) ||
		loops["failed"] != uint64(1) || loops["exception"] != uint64(1) {
		t.Errorf("loops counters = %v", loops)
	}
	// one iteration unaccounted for means it is running now
	if loops["running"] != uint64(1) {
		t.Errorf("loops.running = %v, want 1", loops["running"])
	}

	if m["next_loop_sec"] != int64(12) {
		t.Errorf("next_loop_sec = %v, want 12", m["next_loop_sec"])
	}
	if m["config_loop_sec"] != int64(59) {
		t.Errorf("config_loop_sec = %v, want 59", m["config_loop_sec"])
	}

	hist, ok := m["loops_history"].([]map[string]any)
	if !ok || len(hist) != 2 {
		t.Fatalf("loops_history = %v, want 2 entries", m["loops_history"])
	}
	if hist[0]["completion_time_ms"] != int64(1500) {
		t.Errorf("history[0].completion_time_ms = %v, want 1500", hist[0]["completion_time_ms"])
	}
	if _, present := hist[0]["start_time_diff_sec"]; present {
		t.Error("first history entry should not carry start_time_diff_sec")
	}
	if hist[1]["start_time_diff_sec"] != int64(59) {
		t.Errorf("history[1].start_time_diff_sec = %v, want 59", hist[1]["start_time_diff_sec"])
	}
	if hist[1]["exception_message"] != "boom" {
		t.Errorf("history[1].exception_message = %v, want boom", hist[1]["exception_message"])
	}

	lastExc, ok := m["last_exception"].(map[string]any)
	if !ok {
		t.Fatalf("last_exception = %T, want map", m["last_exception"])
	}
	if lastExc["message"] != "boom" {
		t.Errorf("last_exception.message = %v, want boom", lastExc["message"])
	}

	if m["last_wakeup"] != "(never)" {
		t.Errorf("last_wakeup = %v, want (never)", m["last_wakeup"])
	}
}

// TestSnapshot_StatusMap_Minimal verifies a fresh loop renders without
// history or exception blocks.
func TestSnapshot_StatusMap_Minimal(t *testing.T) {
	m := Snapshot{Name: "announce", Interval: 5 * time.Minute}.StatusMap()

	if _, present := m["loops_history"]; present {
		t.Error("empty history should omit loops_history")
	}
	if _, present := m["last_exception"]; present {
		t.Error("zero faults should omit last_exception")
	}
	if m["config_loop_sec"] != int64(300) {
		t.Errorf("config_loop_sec = %v, want 300", m["config_loop_sec"])
	}
}
