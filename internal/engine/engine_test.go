package engine_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"hyvve/internal/config"
	"hyvve/internal/db"
	"hyvve/internal/engine"
	"hyvve/internal/engine/actions"
	"hyvve/internal/engine/hive"
	"hyvve/internal/migrate"
	"hyvve/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

var testEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("proj-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return testEpoch }
	ctx := context.Background()
	if _, err := eng.InitProject(ctx, "proj-1", "test", "", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func propose(t *testing.T, env testEnv, agent, kind, payload string, confidence float64) string {
	t.Helper()
	s, err := env.Engine.ProposeSuggestion(env.Ctx, engine.ProposeOptions{
		ProjectID:  "proj-1",
		Agent:      agent,
		ActionKind: kind,
		Payload:    json.RawMessage(payload),
		Confidence: confidence,
		ActorID:    "agent",
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	return s.ID
}

func TestProposeRoutesByConfidence(t *testing.T) {
	env := newTestEnv(t)
	payload := `{"type":"feature","title":"Add search"}`

	s, err := env.Engine.ProposeSuggestion(env.Ctx, engine.ProposeOptions{
		ProjectID: "proj-1", Agent: "navi", ActionKind: hive.ActionCreateWorkItem,
		Payload: json.RawMessage(payload), Confidence: 0.85, ActorID: "agent",
	})
	if err != nil {
		t.Fatalf("propose at threshold: %v", err)
	}
	if !s.AutoSurface || s.ApprovalQueue {
		t.Fatalf("confidence at threshold must auto-surface, got %+v", s)
	}

	s, err = env.Engine.ProposeSuggestion(env.Ctx, engine.ProposeOptions{
		ProjectID: "proj-1", Agent: "navi", ActionKind: hive.ActionCreateWorkItem,
		Payload: json.RawMessage(payload), Confidence: 0.84, ActorID: "agent",
	})
	if err != nil {
		t.Fatalf("propose below threshold: %v", err)
	}
	if s.AutoSurface || !s.ApprovalQueue {
		t.Fatalf("confidence below threshold must queue for approval, got %+v", s)
	}
	if s.ExpiresAt != testEpoch.Add(24*time.Hour).Format(time.RFC3339) {
		t.Fatalf("expiry horizon: got %s", s.ExpiresAt)
	}
}

func TestProposeRejectsOutOfCatalogAction(t *testing.T) {
	env := newTestEnv(t)
	// sage may only propose estimates
	_, err := env.Engine.ProposeSuggestion(env.Ctx, engine.ProposeOptions{
		ProjectID: "proj-1", Agent: "sage", ActionKind: hive.ActionCreateWorkItem,
		Payload: json.RawMessage(`{"type":"feature","title":"x"}`), Confidence: 0.9, ActorID: "agent",
	})
	var ve hive.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	_, err = env.Engine.ProposeSuggestion(env.Ctx, engine.ProposeOptions{
		ProjectID: "proj-1", Agent: "ghost", ActionKind: hive.ActionCreateWorkItem,
		Payload: json.RawMessage(`{"type":"feature","title":"x"}`), Confidence: 0.9, ActorID: "agent",
	})
	if !errors.As(err, &ve) {
		t.Fatalf("unknown agent: want ValidationError, got %v", err)
	}
}

func TestAcceptExecutesActionOnce(t *testing.T) {
	env := newTestEnv(t)
	id := propose(t, env, "navi", hive.ActionCreateWorkItem, `{"type":"feature","title":"Add search"}`, 0.9)

	s, err := env.Engine.DecideSuggestion(env.Ctx, id, "accept", "human")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if s.Status != "accepted" || s.DecidedBy == nil || *s.DecidedBy != "human" {
		t.Fatalf("unexpected decision state: %+v", s)
	}
	if s.ResultJSON == nil {
		t.Fatalf("accept must record an execution result")
	}
	var result map[string]any
	if err := json.Unmarshal([]byte(*s.ResultJSON), &result); err != nil {
		t.Fatalf("result json: %v", err)
	}
	itemID, _ := result["work_item_id"].(string)
	if itemID == "" {
		t.Fatalf("result missing work_item_id: %v", result)
	}
	w, err := env.Engine.Repo.GetWorkItem(env.Ctx, itemID)
	if err != nil || w.Title != "Add search" {
		t.Fatalf("executed work item: %v %+v", err, w)
	}

	// second accept must conflict, not execute again
	_, err = env.Engine.DecideSuggestion(env.Ctx, id, "accept", "human")
	if !hive.IsConflict(err, hive.ConflictAlreadyTerminal) {
		t.Fatalf("want already_terminal conflict, got %v", err)
	}
	items, err := env.Engine.Repo.ListWorkItems(env.Ctx, repo.WorkItemFilters{ProjectID: "proj-1", Limit: 100})
	if err != nil || len(items) != 1 {
		t.Fatalf("double accept must not duplicate the action: %v items=%d", err, len(items))
	}
}

func TestRejectLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t)
	id := propose(t, env, "navi", hive.ActionCreateWorkItem, `{"type":"bug","title":"Fix crash"}`, 0.5)
	s, err := env.Engine.DecideSuggestion(env.Ctx, id, "reject", "human")
	if err != nil || s.Status != "rejected" {
		t.Fatalf("reject: %v %+v", err, s)
	}
	items, _ := env.Engine.Repo.ListWorkItems(env.Ctx, repo.WorkItemFilters{ProjectID: "proj-1", Limit: 100})
	if len(items) != 0 {
		t.Fatalf("reject must not execute the action")
	}
	_, err = env.Engine.DecideSuggestion(env.Ctx, id, "accept", "human")
	if !hive.IsConflict(err, hive.ConflictAlreadyTerminal) {
		t.Fatalf("terminal suggestion must stay terminal, got %v", err)
	}
}

type failingExecutor struct{ calls int }

func (f *failingExecutor) Execute(ctx context.Context, tx *sql.Tx, req actions.Request) (actions.Result, error) {
	f.calls++
	return nil, fmt.Errorf("executor unavailable")
}

func TestExecutorFailureKeepsSuggestionPending(t *testing.T) {
	env := newTestEnv(t)
	id := propose(t, env, "navi", hive.ActionCreateWorkItem, `{"type":"feature","title":"Retry me"}`, 0.9)

	failing := &failingExecutor{}
	env.Engine.Executor = failing
	_, err := env.Engine.DecideSuggestion(env.Ctx, id, "accept", "human")
	var de hive.DependencyError
	if !errors.As(err, &de) || !de.Retryable {
		t.Fatalf("want retryable DependencyError, got %v", err)
	}
	s, err := env.Engine.Repo.GetSuggestion(env.Ctx, id)
	if err != nil || s.Status != "pending" {
		t.Fatalf("failed execution must leave suggestion pending: %v %+v", err, s)
	}

	// retry with a working executor succeeds
	env.Engine.Executor = nil
	s, err = env.Engine.DecideSuggestion(env.Ctx, id, "accept", "human")
	if err != nil || s.Status != "accepted" {
		t.Fatalf("retry accept: %v %+v", err, s)
	}
	if failing.calls != 1 {
		t.Fatalf("failing executor called %d times, want 1", failing.calls)
	}
}

func TestExpiryBlocksDecisionAndSweeps(t *testing.T) {
	env := newTestEnv(t)
	id := propose(t, env, "navi", hive.ActionCreateWorkItem, `{"type":"feature","title":"Stale"}`, 0.9)

	env.Engine.Now = func() time.Time { return testEpoch.Add(25 * time.Hour) }
	_, err := env.Engine.DecideSuggestion(env.Ctx, id, "accept", "human")
	if !hive.IsConflict(err, hive.ConflictAlreadyTerminal) {
		t.Fatalf("expired suggestion must not accept, got %v", err)
	}
	s, _ := env.Engine.Repo.GetSuggestion(env.Ctx, id)
	if s.Status != "expired" {
		t.Fatalf("deciding an overdue suggestion must expire it, got %s", s.Status)
	}
	items, _ := env.Engine.Repo.ListWorkItems(env.Ctx, repo.WorkItemFilters{ProjectID: "proj-1", Limit: 100})
	if len(items) != 0 {
		t.Fatalf("expiry must not execute the action")
	}

	id2 := propose(t, env, "navi", hive.ActionCreateWorkItem, `{"type":"feature","title":"Also stale"}`, 0.9)
	env.Engine.Now = func() time.Time { return testEpoch.Add(50 * time.Hour) }
	n, err := env.Engine.SweepExpired(env.Ctx, "system")
	if err != nil || n != 1 {
		t.Fatalf("sweep: %v n=%d", err, n)
	}
	s, _ = env.Engine.Repo.GetSuggestion(env.Ctx, id2)
	if s.Status != "expired" {
		t.Fatalf("swept suggestion status: %s", s.Status)
	}
	// idempotent
	n, err = env.Engine.SweepExpired(env.Ctx, "system")
	if err != nil || n != 0 {
		t.Fatalf("second sweep: %v n=%d", err, n)
	}
}

func TestPhaseTransitions(t *testing.T) {
	env := newTestEnv(t)
	w, err := env.Engine.CreateWorkItem(env.Ctx, "proj-1", hive.CreateWorkItemPayload{Type: "feature", Title: "Flow"}, "tester")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, phase := range []string{"planned", "in_progress", "review", "done"} {
		if w, err = env.Engine.ChangePhase(env.Ctx, w.ID, phase, "tester"); err != nil {
			t.Fatalf("to %s: %v", phase, err)
		}
	}
	if w.CompletedAt == nil {
		t.Fatalf("done must stamp completed_at")
	}
	if _, err = env.Engine.ChangePhase(env.Ctx, w.ID, "in_progress", "tester"); err == nil {
		t.Fatalf("done is terminal except for nothing: expected transition error")
	}

	// canceled can return to backlog
	w2, _ := env.Engine.CreateWorkItem(env.Ctx, "proj-1", hive.CreateWorkItemPayload{Type: "chore", Title: "Drop"}, "tester")
	if w2, err = env.Engine.ChangePhase(env.Ctx, w2.ID, "canceled", "tester"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err = env.Engine.ChangePhase(env.Ctx, w2.ID, "backlog", "tester"); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	// skipping levels is not allowed
	w3, _ := env.Engine.CreateWorkItem(env.Ctx, "proj-1", hive.CreateWorkItemPayload{Type: "bug", Title: "Jump"}, "tester")
	if _, err = env.Engine.ChangePhase(env.Ctx, w3.ID, "review", "tester"); err == nil {
		t.Fatalf("backlog->review must fail")
	}
}

func TestSingleActiveTimer(t *testing.T) {
	env := newTestEnv(t)
	w, _ := env.Engine.CreateWorkItem(env.Ctx, "proj-1", hive.CreateWorkItemPayload{Type: "feature", Title: "Timed"}, "tester")
	w2, _ := env.Engine.CreateWorkItem(env.Ctx, "proj-1", hive.CreateWorkItemPayload{Type: "feature", Title: "Other"}, "tester")

	if _, err := env.Engine.StartTimer(env.Ctx, "u1", "proj-1", w.ID, "working"); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := env.Engine.StartTimer(env.Ctx, "u1", "proj-1", w2.ID, "")
	if !hive.IsConflict(err, hive.ConflictTimerActive) {
		t.Fatalf("want timer_active conflict, got %v", err)
	}
	// a different user is unaffected
	if _, err := env.Engine.StartTimer(env.Ctx, "u2", "proj-1", w2.ID, ""); err != nil {
		t.Fatalf("second user start: %v", err)
	}
}

func TestReplacePolicyStopsPreviousTimer(t *testing.T) {
	env := newTestEnv(t)
	cfg := config.Default("proj-1")
	cfg.Timers.OnConflict = "replace"
	if err := env.Engine.Repo.UpsertProjectConfig(env.Ctx, "proj-1", cfg); err != nil {
		t.Fatalf("store config: %v", err)
	}
	w, _ := env.Engine.CreateWorkItem(env.Ctx, "proj-1", hive.CreateWorkItemPayload{Type: "feature", Title: "A"}, "tester")
	w2, _ := env.Engine.CreateWorkItem(env.Ctx, "proj-1", hive.CreateWorkItemPayload{Type: "feature", Title: "B"}, "tester")

	if _, err := env.Engine.StartTimer(env.Ctx, "u1", "proj-1", w.ID, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	env.Engine.Now = func() time.Time { return testEpoch.Add(600 * time.Second) }
	timer, err := env.Engine.StartTimer(env.Ctx, "u1", "proj-1", w2.ID, "")
	if err != nil {
		t.Fatalf("replace start: %v", err)
	}
	if timer.WorkItemID != w2.ID {
		t.Fatalf("new timer on wrong item: %s", timer.WorkItemID)
	}
	entries, err := env.Engine.Repo.ListTimeEntries(env.Ctx, repo.TimeEntryFilters{ProjectID: "proj-1", UserID: "u1"})
	if err != nil || len(entries) != 1 {
		t.Fatalf("replace must write one entry for the old timer: %v n=%d", err, len(entries))
	}
	if entries[0].WorkItemID != w.ID || entries[0].DurationSeconds != 600 {
		t.Fatalf("replaced entry: %+v", entries[0])
	}
}

func TestStopTimerWritesExactDuration(t *testing.T) {
	env := newTestEnv(t)
	w, _ := env.Engine.CreateWorkItem(env.Ctx, "proj-1", hive.CreateWorkItemPayload{Type: "feature", Title: "Timed"}, "tester")
	if _, err := env.Engine.StartTimer(env.Ctx, "u1", "proj-1", w.ID, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	env.Engine.Now = func() time.Time { return testEpoch.Add(2730 * time.Second) }
	entry, err := env.Engine.StopTimer(env.Ctx, "u1", "wrapped up")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if entry.DurationSeconds != 2730 {
		t.Fatalf("duration: got %d, want 2730", entry.DurationSeconds)
	}
	if entry.Source != "timer" || entry.Note != "wrapped up" {
		t.Fatalf("entry: %+v", entry)
	}
	_, err = env.Engine.StopTimer(env.Ctx, "u1", "")
	if !hive.IsConflict(err, hive.ConflictNoActiveTimer) {
		t.Fatalf("want no_active_timer conflict, got %v", err)
	}
}

func TestStopTimerRefusesClockSkew(t *testing.T) {
	env := newTestEnv(t)
	w, _ := env.Engine.CreateWorkItem(env.Ctx, "proj-1", hive.CreateWorkItemPayload{Type: "feature", Title: "Timed"}, "tester")
	if _, err := env.Engine.StartTimer(env.Ctx, "u1", "proj-1", w.ID, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	env.Engine.Now = func() time.Time { return testEpoch.Add(-time.Minute) }
	_, err := env.Engine.StopTimer(env.Ctx, "u1", "")
	var ve hive.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	// the timer is still running
	if _, err := env.Engine.Repo.GetTimer(env.Ctx, "u1"); err != nil {
		t.Fatalf("timer must survive a skewed stop: %v", err)
	}
}

func TestManualLogAndReport(t *testing.T) {
	env := newTestEnv(t)
	w, _ := env.Engine.CreateWorkItem(env.Ctx, "proj-1", hive.CreateWorkItemPayload{Type: "feature", Title: "Manual"}, "tester")
	if _, err := env.Engine.ApplyEstimate(env.Ctx, hive.EstimatePayload{WorkItemID: w.ID, Hours: 2}, "tester"); err != nil {
		t.Fatalf("estimate: %v", err)
	}
	entry, err := env.Engine.LogManualTime(env.Ctx, engine.ManualTimeOptions{
		ProjectID: "proj-1", WorkItemID: w.ID, UserID: "u1",
		DurationSeconds: 10800, Note: "backfill", ActorID: "u1",
	})
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if entry.Source != "manual" || entry.DurationSeconds != 10800 {
		t.Fatalf("entry: %+v", entry)
	}
	_, err = env.Engine.LogManualTime(env.Ctx, engine.ManualTimeOptions{
		ProjectID: "proj-1", WorkItemID: w.ID, UserID: "u1", DurationSeconds: 0, ActorID: "u1",
	})
	var ve hive.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("zero duration: want ValidationError, got %v", err)
	}

	rows, err := env.Engine.TimeReport(env.Ctx, "proj-1", "unit", "", "")
	if err != nil || len(rows) != 1 {
		t.Fatalf("report: %v rows=%d", err, len(rows))
	}
	if rows[0].TotalSeconds != 10800 {
		t.Fatalf("report total: %+v", rows[0])
	}
	// 3h logged vs 2h estimated
	if rows[0].VarianceHours != 1 {
		t.Fatalf("variance: %+v", rows[0])
	}
	if _, err := env.Engine.TimeReport(env.Ctx, "proj-1", "sprint", "", ""); err == nil {
		t.Fatalf("unknown grouping must fail")
	}
}

func TestEstimateColdStartUsesBenchmark(t *testing.T) {
	env := newTestEnv(t)
	est, err := env.Engine.Estimate(env.Ctx, "proj-1", "feature")
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if !est.ColdStart || est.Hours != 8 || est.ConfidenceLevel != "low" {
		t.Fatalf("cold start: %+v", est)
	}
	// unknown type falls back to the global default
	est, err = env.Engine.Estimate(env.Ctx, "proj-1", "research")
	if err != nil || est.Hours != 4 || !est.ColdStart {
		t.Fatalf("fallback: %v %+v", err, est)
	}
}

func TestCompletingEstimatedItemFeedsBaseline(t *testing.T) {
	env := newTestEnv(t)
	w, _ := env.Engine.CreateWorkItem(env.Ctx, "proj-1", hive.CreateWorkItemPayload{Type: "feature", Title: "Learn"}, "tester")
	if _, err := env.Engine.ApplyEstimate(env.Ctx, hive.EstimatePayload{WorkItemID: w.ID, Hours: 2}, "tester"); err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if _, err := env.Engine.LogManualTime(env.Ctx, engine.ManualTimeOptions{
		ProjectID: "proj-1", WorkItemID: w.ID, UserID: "u1", DurationSeconds: 10800, ActorID: "u1",
	}); err != nil {
		t.Fatalf("log: %v", err)
	}
	for _, phase := range []string{"in_progress", "done"} {
		if _, err := env.Engine.ChangePhase(env.Ctx, w.ID, phase, "tester"); err != nil {
			t.Fatalf("to %s: %v", phase, err)
		}
	}

	m, err := env.Engine.Repo.GetMetricByWorkItem(env.Ctx, w.ID)
	if err != nil {
		t.Fatalf("metric: %v", err)
	}
	// 3h actual vs 2h estimate: +50% error
	if m.ErrorHours != 1 || m.ErrorPercent != 50 {
		t.Fatalf("metric: %+v", m)
	}
	b, err := env.Engine.Repo.GetBaseline(env.Ctx, "proj-1", "feature")
	if err != nil {
		t.Fatalf("baseline: %v", err)
	}
	// one EWMA step: 0.2 * (50 - 0) = 10
	if b.ErrorPercent != 10 || b.SampleCount != 1 {
		t.Fatalf("baseline: %+v", b)
	}

	est, err := env.Engine.Estimate(env.Ctx, "proj-1", "feature")
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	// mean of [3h] corrected by +10%
	if est.ColdStart || est.Hours != 3.3 || est.ConfidenceLevel != "low" {
		t.Fatalf("informed estimate: %+v", est)
	}
}

func TestRecordActualIdempotent(t *testing.T) {
	env := newTestEnv(t)
	w, _ := env.Engine.CreateWorkItem(env.Ctx, "proj-1", hive.CreateWorkItemPayload{Type: "bug", Title: "Once"}, "tester")
	if _, err := env.Engine.ApplyEstimate(env.Ctx, hive.EstimatePayload{WorkItemID: w.ID, Hours: 1}, "tester"); err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if _, err := env.Engine.LogManualTime(env.Ctx, engine.ManualTimeOptions{
		ProjectID: "proj-1", WorkItemID: w.ID, UserID: "u1", DurationSeconds: 3600, ActorID: "u1",
	}); err != nil {
		t.Fatalf("log: %v", err)
	}
	for _, phase := range []string{"in_progress", "done"} {
		if _, err := env.Engine.ChangePhase(env.Ctx, w.ID, phase, "tester"); err != nil {
			t.Fatalf("to %s: %v", phase, err)
		}
	}
	if err := env.Engine.RecordActual(env.Ctx, w.ID, "tester"); err != nil {
		t.Fatalf("record again: %v", err)
	}
	b, err := env.Engine.Repo.GetBaseline(env.Ctx, "proj-1", "bug")
	if err != nil {
		t.Fatalf("baseline: %v", err)
	}
	if b.SampleCount != 1 {
		t.Fatalf("re-recording must not double count: %+v", b)
	}
}

func TestAcceptedTimerSuggestionRunsTimerAction(t *testing.T) {
	env := newTestEnv(t)
	w, _ := env.Engine.CreateWorkItem(env.Ctx, "proj-1", hive.CreateWorkItemPayload{Type: "feature", Title: "Agent timed"}, "tester")
	payload := fmt.Sprintf(`{"user_id":"u1","work_item_id":"%s"}`, w.ID)
	id := propose(t, env, "chrono", hive.ActionStartTimer, payload, 0.95)

	s, err := env.Engine.DecideSuggestion(env.Ctx, id, "accept", "human")
	if err != nil || s.Status != "accepted" {
		t.Fatalf("accept: %v %+v", err, s)
	}
	timer, err := env.Engine.Repo.GetTimer(env.Ctx, "u1")
	if err != nil || timer.WorkItemID != w.ID {
		t.Fatalf("timer after accept: %v %+v", err, timer)
	}

	// a second start for the same user surfaces the conflict through accept
	id2 := propose(t, env, "chrono", hive.ActionStartTimer, payload, 0.95)
	_, err = env.Engine.DecideSuggestion(env.Ctx, id2, "accept", "human")
	if !hive.IsConflict(err, hive.ConflictTimerActive) {
		t.Fatalf("want timer_active through accept, got %v", err)
	}
	s2, _ := env.Engine.Repo.GetSuggestion(env.Ctx, id2)
	if s2.Status != "pending" {
		t.Fatalf("conflicted accept must leave suggestion pending: %s", s2.Status)
	}
}

func TestConversationTurns(t *testing.T) {
	env := newTestEnv(t)
	for i, msg := range []string{"hello", "hi there", "what next"} {
		role := "user"
		if i == 1 {
			role = "agent"
		}
		if _, err := env.Engine.AppendTurn(env.Ctx, engine.TurnOptions{
			ProjectID: "proj-1", Agent: "navi", UserID: "u1", Role: role, Message: msg,
		}); err != nil {
			t.Fatalf("append %q: %v", msg, err)
		}
	}
	turns, err := env.Engine.ListTurns(env.Ctx, repo.TurnFilters{ProjectID: "proj-1", Agent: "navi", UserID: "u1"})
	if err != nil || len(turns) != 3 {
		t.Fatalf("list: %v n=%d", err, len(turns))
	}
	for i, want := range []string{"hello", "hi there", "what next"} {
		if turns[i].Message != want {
			t.Fatalf("append order violated at %d: %q", i, turns[i].Message)
		}
	}
	_, err = env.Engine.AppendTurn(env.Ctx, engine.TurnOptions{
		ProjectID: "proj-1", Agent: "ghost", UserID: "u1", Role: "user", Message: "hi",
	})
	var ve hive.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("unknown agent: want ValidationError, got %v", err)
	}
}
