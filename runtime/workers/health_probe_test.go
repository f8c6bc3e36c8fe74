package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"session-chat/mocks"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type recordedStatus struct {
	mu      sync.Mutex
	changes []bool
}

func (r *recordedStatus) SetServing(serving bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, serving)
}

func (r *recordedStatus) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.changes...)
}

func TestHealthProbe_Reports_Only_Transitions(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIMessageStore(ctrl)
	status := &recordedStatus{}

	// Given a store answering, failing twice, then answering again
	gomock.InOrder(
		store.EXPECT().Ping(gomock.Any()).Return(nil),
		store.EXPECT().Ping(gomock.Any()).Return(fmt.Errorf("down")),
		store.EXPECT().Ping(gomock.Any()).Return(fmt.Errorf("down")),
		store.EXPECT().Ping(gomock.Any()).Return(nil).AnyTimes(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- NewHealthProbe(log, store, status, 10*time.Millisecond).Run(ctx) }()

	req.Eventually(func() bool { return len(status.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	req.NoError(<-done)

	// Then serving, not serving, serving again
	req.Equal([]bool{true, false, true}, status.snapshot())
}

type fixedStats struct{}

func (fixedStats) Stats() (int, int) { return 2, 5 }

func TestStatsReporter_Stops_With_Context(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := NewStatsReporter(log, fixedStats{}, 10*time.Millisecond).Run(ctx)

	req.NoError(err)
}
