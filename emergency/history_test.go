package emergency

import (
	"context"
	"testing"

	"github.com/hazyhaar/alerte/dbopen"
	_ "modernc.org/sqlite"
)

func testHistory(t *testing.T) *History {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return NewHistory(db)
}

func sampleResponse(id, emergencyID string, at int64) *Response {
	return &Response{
		ID:          id,
		EmergencyID: emergencyID,
		Actions: []Action{
			{ID: "a1", Type: "assess_situation", Status: ActionCompleted, Result: "ok"},
			{ID: "a2", Type: "gather_context", Status: ActionPending},
		},
		ResponseTimeMs: 1200,
		Status:         StatusCompleted,
		Result: Result{
			Summary:           "protocol market_crisis executed",
			NotificationsSent: 3,
		},
		Timestamp: at,
	}
}

func TestHistory_RoundTrip(t *testing.T) {
	// WHAT: A stored response reads back with actions and result intact.
	// WHY: The analyzer and the API read history, not live responses.
	h := testHistory(t)
	ctx := context.Background()

	if err := h.Append(ctx, sampleResponse("rsp_1", "emg_1", 1000)); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := h.ListByEmergency(ctx, "emg_1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("responses: got %d", len(got))
	}
	r := got[0]
	if r.Status != StatusCompleted || r.ResponseTimeMs != 1200 {
		t.Errorf("response: %+v", r)
	}
	if len(r.Actions) != 2 || r.Actions[0].Status != ActionCompleted {
		t.Errorf("actions: %+v", r.Actions)
	}
	if r.Result.NotificationsSent != 3 {
		t.Errorf("result: %+v", r.Result)
	}
}

func TestHistory_ListOrderAndIsolation(t *testing.T) {
	// WHAT: ListByEmergency returns only that emergency's responses,
	// oldest first; Recent returns newest first across all.
	// WHY: Repeated emergencies accumulate a per-incident timeline.
	h := testHistory(t)
	ctx := context.Background()

	h.Append(ctx, sampleResponse("rsp_1", "emg_a", 1000))
	h.Append(ctx, sampleResponse("rsp_2", "emg_a", 2000))
	h.Append(ctx, sampleResponse("rsp_3", "emg_b", 3000))

	forA, err := h.ListByEmergency(ctx, "emg_a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(forA) != 2 || forA[0].ID != "rsp_1" || forA[1].ID != "rsp_2" {
		t.Errorf("emg_a timeline: %+v", forA)
	}

	recent, err := h.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "rsp_3" {
		t.Errorf("recent: %+v", recent)
	}
}

func TestExecutor_PersistsResponses(t *testing.T) {
	// WHAT: An executor wired with a history store persists every run,
	// including failed ones.
	// WHY: The incident record must survive the process.
	h := testHistory(t)
	n := &fakeNotifier{}
	e := NewExecutor(NewSelector(nil, nil), panickyRunner{}, n, nil, WithHistory(h))

	resp := e.HandleEmergency(context.Background(), crisisInfo())
	got, err := h.ListByEmergency(context.Background(), "emg_1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != resp.ID {
		t.Fatalf("persisted: %+v", got)
	}
	if got[0].Status != StatusFailed {
		t.Errorf("status: got %s", got[0].Status)
	}
}
