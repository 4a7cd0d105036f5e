package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/race-engine/internal/race-engine/model"
	"github.com/radieske/race-engine/internal/race-engine/repo"
)

type fakeStore struct {
	mu      sync.Mutex
	open    *model.Race
	created []*model.Race
	deleted []string
	findErr error
}

func (f *fakeStore) FindOpenRace(_ context.Context) (*model.Race, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	if f.open == nil {
		return nil, repo.ErrNoOpenRace
	}
	return f.open, nil
}

func (f *fakeStore) CreateRace(_ context.Context, race *model.Race) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, race)
	return nil
}

func (f *fakeStore) DeleteRace(_ context.Context, raceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, raceID)
	f.open = nil
	return nil
}

func (f *fakeStore) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

// blockingRunner segura cada corrida até release ser fechado
type blockingRunner struct {
	mu      sync.Mutex
	started []string
	release chan struct{}
	runs    chan string
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{release: make(chan struct{}), runs: make(chan string, 16)}
}

func (b *blockingRunner) Run(ctx context.Context, race *model.Race) error {
	b.mu.Lock()
	b.started = append(b.started, race.RaceID)
	b.mu.Unlock()
	select {
	case b.runs <- race.RaceID:
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.release:
		return nil
	}
}

func testConfig() Config {
	return Config{ReadySeconds: 5, BetSeconds: 20, SpecialPoolProb: 0.3, RetryDelay: time.Millisecond}
}

func TestStartNextCreatesFreshRace(t *testing.T) {
	store := &fakeStore{}
	runner := newBlockingRunner()
	reg := New(zap.NewNop(), store, runner, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg.StartNext(ctx)

	select {
	case id := <-runner.runs:
		assert.True(t, strings.HasPrefix(id, "race_"))
	case <-time.After(2 * time.Second):
		t.Fatal("runner não foi invocado")
	}

	require.Equal(t, 1, store.createdCount())
	race := store.created[0]
	assert.Equal(t, model.PhaseReady, race.Phase)
	assert.Equal(t, 5, race.ReadyCountdown)
	assert.Len(t, race.ServerSeed, 64)
	assert.Len(t, race.ServerSeedHash, 64)
	assert.Len(t, race.Multipliers, 5)
	assert.Equal(t, 0.3, race.SpecialPoolProb, "limiar vigente gravado com a corrida")
	assert.Equal(t, race.RaceID, reg.ActiveRaceID())
}

func TestStartNextSingleFlight(t *testing.T) {
	store := &fakeStore{}
	runner := newBlockingRunner()
	reg := New(zap.NewNop(), store, runner, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.StartNext(ctx)
		}()
	}
	wg.Wait()
	<-runner.runs

	// dez chamadas concorrentes, uma corrida só
	assert.Equal(t, 1, store.createdCount())
}

func TestStartNextResumesPersistedRace(t *testing.T) {
	persisted := &model.Race{
		RaceID:         "race_persisted",
		Phase:          model.PhaseBetting,
		BetCountdown:   7,
		Multipliers:    map[string]int{"Pepe": 2, "Wojak": 2, "Doge": 4, "Chad": 2, "Milady": 3},
		ServerSeed:     strings.Repeat("a", 64),
		ServerSeedHash: strings.Repeat("b", 64),
	}
	store := &fakeStore{open: persisted}
	runner := newBlockingRunner()
	reg := New(zap.NewNop(), store, runner, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg.StartNext(ctx)
	assert.Equal(t, "race_persisted", <-runner.runs)
	assert.Equal(t, 0, store.createdCount(), "corrida persistida não é recriada")
}

func TestStartNextDiscardsRaceWithoutCommitment(t *testing.T) {
	store := &fakeStore{open: &model.Race{RaceID: "race_bad", Phase: model.PhaseBetting}}
	runner := newBlockingRunner()
	reg := New(zap.NewNop(), store, runner, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg.StartNext(ctx)
	id := <-runner.runs

	assert.Equal(t, []string{"race_bad"}, store.deleted)
	require.Equal(t, 1, store.createdCount())
	assert.Equal(t, store.created[0].RaceID, id)
}

func TestRegistrySchedulesNextAfterCycleEnds(t *testing.T) {
	store := &fakeStore{}
	runner := newBlockingRunner()
	reg := New(zap.NewNop(), store, runner, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg.StartNext(ctx)
	first := <-runner.runs
	close(runner.release) // ciclo da primeira termina; as seguintes retornam direto

	second := <-runner.runs
	assert.NotEqual(t, first, second)
	assert.GreaterOrEqual(t, store.createdCount(), 2)
}

func TestStartNextRetriesAfterResolveError(t *testing.T) {
	store := &fakeStore{findErr: errors.New("pg down")}
	runner := newBlockingRunner()
	reg := New(zap.NewNop(), store, runner, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg.StartNext(ctx)

	// depois do RetryDelay o erro some e a corrida nasce
	time.Sleep(5 * time.Millisecond)
	store.mu.Lock()
	store.findErr = nil
	store.mu.Unlock()

	select {
	case <-runner.runs:
	case <-time.After(2 * time.Second):
		t.Fatal("registry não tentou de novo após erro")
	}
	assert.Equal(t, 1, store.createdCount())
}
