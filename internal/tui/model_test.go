package tui

import (
	"context"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/djlord-it/arc-companion/internal/domain"
	"github.com/djlord-it/arc-companion/internal/testutil"
)

type mockController struct {
	mu      sync.Mutex
	retries int
}

func (c *mockController) Retry(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retries++
}

func (c *mockController) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries
}

func readySnapshot() domain.Snapshot {
	next := testutil.Monday(10, 0)
	return domain.Snapshot{
		Seq:   3,
		State: domain.SnapshotReady,
		Timers: []domain.TimerCountdown{
			{Timer: testutil.Timer("Harvester", []string{"Mon"}, "10:00"), Countdown: "1h 0m", Next: &next},
			{Timer: testutil.Timer("Night Raid", []string{"Xyz"}, "22:00"), Countdown: "No upcoming events"},
		},
	}
}

func update(t *testing.T, m tea.Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	updated, cmd := m.Update(msg)
	model, ok := updated.(Model)
	if !ok {
		t.Fatalf("Update returned %T", updated)
	}
	return model, cmd
}

func TestModel_InitWaitsForSnapshot(t *testing.T) {
	updates := make(chan domain.Snapshot, 1)
	model := NewModel(context.Background(), updates, &mockController{})

	cmd := model.Init()
	if cmd == nil {
		t.Fatal("Init should return a command")
	}

	updates <- readySnapshot()
	msg := cmd()
	sm, ok := msg.(snapshotMsg)
	if !ok {
		t.Fatalf("expected snapshotMsg, got %T", msg)
	}
	if sm.snapshot.Seq != 3 {
		t.Errorf("seq = %d", sm.snapshot.Seq)
	}
}

func TestModel_ClosedSubscriptionQuits(t *testing.T) {
	updates := make(chan domain.Snapshot)
	close(updates)
	model := NewModel(context.Background(), updates, &mockController{})

	msg := model.Init()()
	if _, ok := msg.(closedMsg); !ok {
		t.Fatalf("expected closedMsg, got %T", msg)
	}

	_, cmd := update(t, model, msg)
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("closed subscription should quit")
	}
}

func TestModel_ViewLoading(t *testing.T) {
	model := NewModel(context.Background(), nil, &mockController{})

	if view := model.View(); !strings.Contains(view, "Loading") {
		t.Errorf("view should show loading state:\n%s", view)
	}
}

func TestModel_ViewReady(t *testing.T) {
	updates := make(chan domain.Snapshot)
	model := NewModel(context.Background(), updates, &mockController{})
	model, _ = update(t, model, tea.WindowSizeMsg{Width: 100, Height: 20})
	model, cmd := update(t, model, snapshotMsg{snapshot: readySnapshot()})

	if cmd == nil {
		t.Error("a snapshot should re-arm the subscription")
	}

	view := model.View()
	for _, want := range []string{"Harvester", "Dam Battlegrounds", "1h 0m", "Night Raid", "No upcoming events"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
	if strings.Index(view, "Harvester") > strings.Index(view, "Night Raid") {
		t.Error("rows should keep snapshot order")
	}
}

func TestModel_ViewEmpty(t *testing.T) {
	model := NewModel(context.Background(), nil, &mockController{})
	model, _ = update(t, model, snapshotMsg{snapshot: domain.Snapshot{
		State:   domain.SnapshotEmpty,
		Message: domain.NoEventsMessage,
	}})

	view := model.View()
	if !strings.Contains(view, "No events found") || !strings.Contains(view, "press r to retry") {
		t.Errorf("empty view:\n%s", view)
	}
}

func TestModel_RetryKey(t *testing.T) {
	ctrl := &mockController{}
	model := NewModel(context.Background(), nil, ctrl)

	model, cmd := update(t, model, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	if cmd == nil {
		t.Fatal("r should return a retry command")
	}
	if !strings.Contains(model.View(), "retrying") {
		t.Error("view should show retry in progress")
	}

	// A second press while retrying is ignored.
	_, second := update(t, model, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	if second != nil {
		t.Error("retry should not be queued twice")
	}

	msg := cmd()
	if ctrl.count() != 1 {
		t.Errorf("retries = %d, want 1", ctrl.count())
	}
	model, _ = update(t, model, msg)
	if strings.Contains(model.View(), "retrying") {
		t.Error("retry indicator should clear")
	}
}

func TestModel_Quit(t *testing.T) {
	model := NewModel(context.Background(), nil, &mockController{})

	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
		{Type: tea.KeyCtrlC},
	} {
		_, cmd := update(t, model, key)
		if cmd == nil {
			t.Fatalf("%s: expected command", key.String())
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("%s: expected QuitMsg", key.String())
		}
	}
}

func TestModel_NarrowTerminalTruncatesNames(t *testing.T) {
	long := readySnapshot()
	long.Timers[0].Timer.Name = strings.Repeat("Very Long Event Name ", 5)

	model := NewModel(context.Background(), nil, &mockController{})
	model, _ = update(t, model, tea.WindowSizeMsg{Width: 60, Height: 20})
	model, _ = update(t, model, snapshotMsg{snapshot: long})

	if strings.Contains(model.View(), long.Timers[0].Timer.Name) {
		t.Error("long name should be truncated on a narrow terminal")
	}
}

func TestRender_OneShot(t *testing.T) {
	out := Render(readySnapshot(), 0)
	if !strings.Contains(out, "Harvester") || !strings.Contains(out, "1h 0m") {
		t.Errorf("render:\n%s", out)
	}
	if strings.Contains(out, "q quit") {
		t.Error("one-shot render should not include key help")
	}

	empty := Render(domain.Snapshot{State: domain.SnapshotEmpty}, 0)
	if !strings.Contains(empty, "No events found") || strings.Contains(empty, "press r") {
		t.Errorf("empty render:\n%s", empty)
	}
}
