package updater

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XavierBriggs/Pythia/internal/sports"
	"github.com/XavierBriggs/Pythia/pkg/models"
	"github.com/XavierBriggs/Pythia/pkg/testutil"
)

// fakeSource records every refresh request. Optional hooks inject failures.
type fakeSource struct {
	mu          sync.Mutex
	sports      []models.Sport
	sportsErr   error
	sportsHook  func(ctx context.Context)
	eventErrs   map[string]error
	eventPanics map[string]bool
	refreshed   []string
	invalidated []string
	sportsCalls int
	deadlines   []bool
}

func (f *fakeSource) GetAllSports(ctx context.Context, region string, _ ...sports.QueryOption) ([]models.Sport, error) {
	f.mu.Lock()
	f.sportsCalls++
	hook := f.sportsHook
	f.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	if f.sportsErr != nil {
		return nil, f.sportsErr
	}
	return f.sports, nil
}

func (f *fakeSource) GetBestOddsForEvent(ctx context.Context, sportKey, eventID, region, markets string) (*models.BestOddsResult, error) {
	f.mu.Lock()
	f.refreshed = append(f.refreshed, eventID)
	_, hasDeadline := ctx.Deadline()
	f.deadlines = append(f.deadlines, hasDeadline)
	f.mu.Unlock()

	if f.eventPanics[eventID] {
		panic("bad payload")
	}
	if err := f.eventErrs[eventID]; err != nil {
		return nil, err
	}
	return &models.BestOddsResult{EventID: eventID, BestOdds: map[string]models.BestPrice{}}, nil
}

func (f *fakeSource) InvalidateSport(ctx context.Context, sportKey, region, markets string) {
	f.mu.Lock()
	f.invalidated = append(f.invalidated, sportKey)
	f.mu.Unlock()
}

func (f *fakeSource) Refreshed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.refreshed...)
}

func newTestUpdater(source *fakeSource, bets *testutil.MockBetRepository) *Updater {
	return New(source, bets, Config{Region: "us", Markets: "h2h", CallTimeout: time.Second}, zerolog.Nop())
}

func TestUpdateAllOdds_DeduplicatesEvents(t *testing.T) {
	source := &fakeSource{sports: []models.Sport{testutil.NewSport("soccer_epl", "EPL")}}
	bets := &testutil.MockBetRepository{Bets: map[string][]models.PendingBet{
		"soccer_epl": testutil.PendingBets("soccer_epl", "E1", "E1", "E2"),
	}}
	u := newTestUpdater(source, bets)

	summary := u.UpdateAllOdds(context.Background())

	assert.Equal(t, []string{"E1", "E2"}, source.Refreshed())
	assert.Equal(t, 1, summary.Sports)
	assert.Equal(t, 2, summary.Events)
	assert.Equal(t, 2, summary.Refreshed)
	assert.NoError(t, summary.Err)
	assert.NotEmpty(t, summary.ID)
	assert.False(t, summary.FinishedAt.Before(summary.StartedAt))
}

func TestUpdateAllOdds_SingleFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	source := &fakeSource{
		sports: []models.Sport{testutil.NewSport("soccer_epl", "EPL")},
		sportsHook: func(ctx context.Context) {
			close(entered)
			<-release
		},
	}

	var findCalls int
	var findMu sync.Mutex
	bets := &testutil.MockBetRepository{FindHook: func(ctx context.Context, sportKey string) {
		findMu.Lock()
		findCalls++
		findMu.Unlock()
	}}
	u := newTestUpdater(source, bets)

	done := make(chan RunSummary)
	go func() {
		done <- u.UpdateAllOdds(context.Background())
	}()
	<-entered

	assert.True(t, u.IsRunning())
	second := u.UpdateAllOdds(context.Background())
	assert.True(t, second.Skipped)

	findMu.Lock()
	assert.Zero(t, findCalls)
	findMu.Unlock()
	source.mu.Lock()
	assert.Equal(t, 1, source.sportsCalls)
	source.mu.Unlock()

	close(release)
	first := <-done
	assert.False(t, first.Skipped)
	assert.False(t, u.IsRunning())

	findMu.Lock()
	assert.Equal(t, 1, findCalls)
	findMu.Unlock()
}

func TestUpdateAllOdds_EventFailureIsIsolated(t *testing.T) {
	source := &fakeSource{
		sports:    []models.Sport{testutil.NewSport("soccer_epl", "EPL")},
		eventErrs: map[string]error{"E2": sports.ErrUpstreamUnavailable},
	}
	bets := &testutil.MockBetRepository{Bets: map[string][]models.PendingBet{
		"soccer_epl": testutil.PendingBets("soccer_epl", "E1", "E2", "E3"),
	}}
	u := newTestUpdater(source, bets)

	summary := u.UpdateAllOdds(context.Background())

	assert.Equal(t, []string{"E1", "E2", "E3"}, source.Refreshed())
	assert.Equal(t, 3, summary.Events)
	assert.Equal(t, 2, summary.Refreshed)
	require.Len(t, summary.EventErrors, 1)
	assert.Equal(t, "E2", summary.EventErrors[0].EventID)
	assert.ErrorIs(t, summary.EventErrors[0], sports.ErrUpstreamUnavailable)
	assert.NoError(t, summary.Err)
}

func TestUpdateAllOdds_EventPanicIsIsolated(t *testing.T) {
	source := &fakeSource{
		sports:      []models.Sport{testutil.NewSport("soccer_epl", "EPL")},
		eventPanics: map[string]bool{"E1": true},
	}
	bets := &testutil.MockBetRepository{Bets: map[string][]models.PendingBet{
		"soccer_epl": testutil.PendingBets("soccer_epl", "E1", "E2"),
	}}
	u := newTestUpdater(source, bets)

	summary := u.UpdateAllOdds(context.Background())

	assert.Equal(t, 1, summary.Refreshed)
	require.Len(t, summary.EventErrors, 1)
	assert.Contains(t, summary.EventErrors[0].Error(), "panic")
	assert.False(t, u.IsRunning())
}

func TestUpdateAllOdds_SportFailureIsIsolated(t *testing.T) {
	dbErr := errors.New("connection reset")
	source := &fakeSource{sports: []models.Sport{
		testutil.NewSport("soccer_epl", "EPL"),
		testutil.NewSport("basketball_nba", "NBA"),
	}}
	bets := &testutil.MockBetRepository{
		Bets: map[string][]models.PendingBet{
			"basketball_nba": testutil.PendingBets("basketball_nba", "N1"),
		},
		Errs: map[string]error{"soccer_epl": dbErr},
	}
	u := newTestUpdater(source, bets)

	summary := u.UpdateAllOdds(context.Background())

	assert.Equal(t, []string{"N1"}, source.Refreshed())
	require.Len(t, summary.SportErrors, 1)
	assert.Equal(t, "soccer_epl", summary.SportErrors[0].SportKey)
	assert.ErrorIs(t, summary.SportErrors[0], dbErr)
	assert.Equal(t, 2, summary.Sports)
	assert.NoError(t, summary.Err)
}

func TestUpdateAllOdds_ReleasesLockWhenSportsFail(t *testing.T) {
	source := &fakeSource{sportsErr: errors.New("quota exhausted")}
	bets := &testutil.MockBetRepository{}
	u := newTestUpdater(source, bets)

	summary := u.UpdateAllOdds(context.Background())

	require.Error(t, summary.Err)
	assert.Contains(t, summary.Err.Error(), "fetch sports")
	assert.False(t, u.IsRunning())

	last, ok := u.LastRun()
	require.True(t, ok)
	assert.Equal(t, summary.ID, last.ID)
}

func TestUpdateAllOdds_ReleasesLockOnPanic(t *testing.T) {
	source := &fakeSource{sports: []models.Sport{testutil.NewSport("soccer_epl", "EPL")}}
	u := New(source, nil, Config{CallTimeout: time.Second}, zerolog.Nop())

	summary := u.UpdateAllOdds(context.Background())

	// A nil repository panics inside the per-sport call and is recorded there.
	require.Len(t, summary.SportErrors, 1)
	assert.False(t, u.IsRunning())
}

func TestUpdateAllOdds_CallsCarryTimeout(t *testing.T) {
	source := &fakeSource{sports: []models.Sport{testutil.NewSport("soccer_epl", "EPL")}}
	bets := &testutil.MockBetRepository{Bets: map[string][]models.PendingBet{
		"soccer_epl": testutil.PendingBets("soccer_epl", "E1"),
	}}
	u := newTestUpdater(source, bets)

	u.UpdateAllOdds(context.Background())

	source.mu.Lock()
	defer source.mu.Unlock()
	assert.Equal(t, []bool{true}, source.deadlines)
}

func TestUpdateAllOdds_ForceRefreshInvalidatesSportsWithBets(t *testing.T) {
	source := &fakeSource{sports: []models.Sport{
		testutil.NewSport("soccer_epl", "EPL"),
		testutil.NewSport("basketball_nba", "NBA"),
	}}
	bets := &testutil.MockBetRepository{Bets: map[string][]models.PendingBet{
		"soccer_epl": testutil.PendingBets("soccer_epl", "E1", "E2"),
	}}
	u := New(source, bets, Config{Region: "us", Markets: "h2h", ForceRefresh: true}, zerolog.Nop())

	u.UpdateAllOdds(context.Background())

	assert.Equal(t, []string{"soccer_epl"}, source.invalidated)
}

func TestUpdateAllOdds_CancelledContext(t *testing.T) {
	source := &fakeSource{sports: []models.Sport{testutil.NewSport("soccer_epl", "EPL")}}
	bets := &testutil.MockBetRepository{}
	u := newTestUpdater(source, bets)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary := u.UpdateAllOdds(ctx)

	assert.ErrorIs(t, summary.Err, context.Canceled)
	assert.Empty(t, source.Refreshed())
}

func TestTrigger_DeliversSummary(t *testing.T) {
	source := &fakeSource{sports: []models.Sport{testutil.NewSport("soccer_epl", "EPL")}}
	bets := &testutil.MockBetRepository{Bets: map[string][]models.PendingBet{
		"soccer_epl": testutil.PendingBets("soccer_epl", "E1"),
	}}
	u := newTestUpdater(source, bets)

	ctx, cancel := context.WithCancel(context.Background())
	done := u.Trigger(ctx)
	cancel()

	select {
	case summary := <-done:
		assert.Equal(t, 1, summary.Refreshed)
		assert.NoError(t, summary.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("trigger did not complete")
	}
}

func TestStart_Schedules(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
		want     string
	}{
		{name: "empty uses default", schedule: "", want: DefaultSchedule},
		{name: "invalid uses default", schedule: "every now and then", want: DefaultSchedule},
		{name: "standard cron", schedule: "*/5 * * * *", want: "*/5 * * * *"},
		{name: "descriptor", schedule: "@every 1h", want: "@every 1h"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := newTestUpdater(&fakeSource{}, &testutil.MockBetRepository{})
			require.NoError(t, u.Start(tt.schedule))
			defer u.Stop()

			assert.Equal(t, tt.want, u.Schedule())
			assert.True(t, u.NextRun().After(time.Now()))
		})
	}
}

func TestStart_ReplacesPreviousSchedule(t *testing.T) {
	u := newTestUpdater(&fakeSource{}, &testutil.MockBetRepository{})

	require.NoError(t, u.Start("@every 1h"))
	first := u.cron
	require.NoError(t, u.Start("@every 2h"))
	defer u.Stop()

	assert.NotSame(t, first, u.cron)
	assert.Equal(t, "@every 2h", u.Schedule())
}

func TestStop_Idempotent(t *testing.T) {
	u := newTestUpdater(&fakeSource{}, &testutil.MockBetRepository{})

	u.Stop()
	require.NoError(t, u.Start(""))
	u.Stop()
	u.Stop()

	assert.Empty(t, u.Schedule())
	assert.True(t, u.NextRun().IsZero())
}

func TestStop_StatusReadableWhileCycleDrains(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	source := &fakeSource{
		sports: []models.Sport{testutil.NewSport("soccer_epl", "EPL")},
		sportsHook: func(ctx context.Context) {
			once.Do(func() { close(entered) })
			<-release
		},
	}
	u := newTestUpdater(source, &testutil.MockBetRepository{})

	require.NoError(t, u.Start("@every 1s"))
	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled cycle never started")
	}

	stopped := make(chan struct{})
	go func() {
		u.Stop()
		close(stopped)
	}()

	status := make(chan string)
	go func() {
		assert.Eventually(t, func() bool { return u.NextRun().IsZero() }, time.Second, 10*time.Millisecond)
		status <- u.Schedule()
	}()

	select {
	case schedule := <-status:
		assert.Empty(t, schedule)
	case <-time.After(2 * time.Second):
		t.Fatal("status reads blocked while stopping")
	}

	select {
	case <-stopped:
		t.Fatal("Stop returned before the running cycle finished")
	default:
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the cycle finished")
	}
	assert.False(t, u.IsRunning())
}

func TestStart_RunsOnTick(t *testing.T) {
	source := &fakeSource{sports: []models.Sport{testutil.NewSport("soccer_epl", "EPL")}}
	bets := &testutil.MockBetRepository{Bets: map[string][]models.PendingBet{
		"soccer_epl": testutil.PendingBets("soccer_epl", "E1"),
	}}
	u := newTestUpdater(source, bets)

	require.NoError(t, u.Start("@every 1s"))
	defer u.Stop()

	assert.Eventually(t, func() bool {
		_, ok := u.LastRun()
		return ok
	}, 3*time.Second, 50*time.Millisecond)
	assert.Contains(t, source.Refreshed(), "E1")
}

func TestDistinctEventIDs(t *testing.T) {
	ids := distinctEventIDs([]models.PendingBet{
		{EventID: "E2"}, {EventID: "E1"}, {EventID: ""}, {EventID: "E2"}, {EventID: "E3"},
	})
	assert.Equal(t, []string{"E2", "E1", "E3"}, ids)
}
