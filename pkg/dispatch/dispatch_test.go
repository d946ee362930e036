package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/meek/pkg/config"
	"github.com/cuemby/meek/pkg/registry"
	"github.com/cuemby/meek/pkg/store"
	"github.com/cuemby/meek/pkg/taskstate"
	"github.com/cuemby/meek/pkg/types"
)

func setupTestDispatcher(t *testing.T) (*Dispatcher, *store.SQLiteStore, *registry.Registry) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	reg := registry.New(s, nil)
	cfg := config.DispatchConfig{ResourceWeight: 0.4, BalanceWeight: 0.4, NodeWeight: 0.2}
	return New(s, reg, nil, nil, cfg, "meek"), s, reg
}

func mustUpsertOnlineNode(t *testing.T, ctx context.Context, s *store.SQLiteStore, mac string, maxTasks int) *types.Node {
	t.Helper()
	n := &types.Node{
		MACAddress: mac, Status: types.NodeOnline, Active: true,
		MaxTasks: maxTasks, TaskCounts: map[string]int{},
	}
	id, err := s.UpsertNode(ctx, n)
	require.NoError(t, err)
	n.ID = id
	return n
}

func TestSelectNodeReturnsErrNoCapacityWhenNoneEligible(t *testing.T) {
	ctx := context.Background()
	d, _, _ := setupTestDispatcher(t)

	_, err := d.selectNode(ctx, &types.SubTask{Kind: types.AnalysisImage}, 0)
	require.ErrorIs(t, err, ErrNoCapacity)
}

func TestSelectNodeHonorsPreferredNode(t *testing.T) {
	ctx := context.Background()
	d, s, _ := setupTestDispatcher(t)

	mustUpsertOnlineNode(t, ctx, s, "AA:01", 4)
	preferred := mustUpsertOnlineNode(t, ctx, s, "AA:02", 4)

	n, err := d.selectNode(ctx, &types.SubTask{Kind: types.AnalysisImage}, preferred.ID)
	require.NoError(t, err)
	require.Equal(t, preferred.ID, n.ID)
}

func TestSelectNodePicksHighestScore(t *testing.T) {
	ctx := context.Background()
	d, s, _ := setupTestDispatcher(t)

	busy := mustUpsertOnlineNode(t, ctx, s, "AA:01", 4)
	busy.TaskCounts = map[string]int{"image": 3}
	_, err := s.UpsertNode(ctx, busy)
	require.NoError(t, err)

	idle := mustUpsertOnlineNode(t, ctx, s, "AA:02", 4)

	n, err := d.selectNode(ctx, &types.SubTask{Kind: types.AnalysisImage}, 0)
	require.NoError(t, err)
	require.Equal(t, idle.ID, n.ID)
}

func TestHandleReplySuccessResolvesWaiter(t *testing.T) {
	d, _, _ := setupTestDispatcher(t)

	ch := make(chan replyResult, 1)
	d.mu.Lock()
	d.waiters["uuid-1"] = ch
	d.mu.Unlock()

	d.HandleReply("meek/device_config_reply", []byte(`{"message_uuid":"uuid-1","status":"success"}`))

	res := <-ch
	require.True(t, res.accepted)
}

func TestHandleReplyErrorResolvesWaiterRejected(t *testing.T) {
	d, _, _ := setupTestDispatcher(t)

	ch := make(chan replyResult, 1)
	d.mu.Lock()
	d.waiters["uuid-2"] = ch
	d.mu.Unlock()

	d.HandleReply("meek/device_config_reply", []byte(`{"message_uuid":"uuid-2","status":"error","data":{"error_code":"ERR_003","message":"task already exists"}}`))

	res := <-ch
	require.False(t, res.accepted)
	require.Contains(t, res.reason, "ERR_003")
}

func TestNotifyAcceptedForSubtaskResolvesWaiterByUUID(t *testing.T) {
	d, _, _ := setupTestDispatcher(t)

	ch := make(chan replyResult, 1)
	d.mu.Lock()
	d.waiters["uuid-3"] = ch
	d.subtaskUUIDs[42] = "uuid-3"
	d.mu.Unlock()

	d.NotifyAcceptedForSubtask(42, "w-42")

	res := <-ch
	require.True(t, res.accepted)
}

func TestNotifyAcceptedForSubtaskNoopWhenUnknown(t *testing.T) {
	d, _, _ := setupTestDispatcher(t)

	require.NotPanics(t, func() { d.NotifyAcceptedForSubtask(999, "w-999") })
}

func TestAcceptancePersistsSubtaskRunningViaTaskState(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ts := taskstate.New(s, nil, config.TaskStateConfig{})
	reg := registry.New(s, nil)
	d := New(s, reg, nil, ts, config.DispatchConfig{}, "meek")

	modelID, err := s.UpsertModel(ctx, &types.Model{Code: "m1"})
	require.NoError(t, err)
	taskID, err := s.CreateTask(ctx, &types.Task{Name: "t", Kind: types.AnalysisImage, URLs: []string{"a.jpg"}})
	require.NoError(t, err)
	subID, err := s.CreateSubTask(ctx, &types.SubTask{
		TaskID: taskID, Kind: types.AnalysisImage, ModelID: modelID,
		Source: types.Source{Kind: types.SourceImageBatch, URLs: []string{"a.jpg"}},
	})
	require.NoError(t, err)
	st, err := s.GetSubTask(ctx, subID)
	require.NoError(t, err)
	st.AssignedNodeID = 7

	d.mu.Lock()
	d.inflight["uuid-4"] = st
	d.mu.Unlock()

	d.NotifyAccepted("uuid-4", "worker-echo-id")
	ts.Stop()

	got, err := s.GetSubTask(ctx, subID)
	require.NoError(t, err)
	require.Equal(t, types.StatusRunning, got.Status)
	require.Equal(t, "worker-echo-id", got.WorkerSubtaskID)
	require.Equal(t, int64(7), got.AssignedNodeID)
}

func TestNotifyRejectedDoesNotPersistRunning(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ts := taskstate.New(s, nil, config.TaskStateConfig{})
	reg := registry.New(s, nil)
	d := New(s, reg, nil, ts, config.DispatchConfig{}, "meek")

	modelID, err := s.UpsertModel(ctx, &types.Model{Code: "m1"})
	require.NoError(t, err)
	taskID, err := s.CreateTask(ctx, &types.Task{Name: "t", Kind: types.AnalysisImage, URLs: []string{"a.jpg"}})
	require.NoError(t, err)
	subID, err := s.CreateSubTask(ctx, &types.SubTask{
		TaskID: taskID, Kind: types.AnalysisImage, ModelID: modelID,
		Source: types.Source{Kind: types.SourceImageBatch, URLs: []string{"a.jpg"}},
	})
	require.NoError(t, err)
	st, err := s.GetSubTask(ctx, subID)
	require.NoError(t, err)

	d.mu.Lock()
	d.inflight["uuid-5"] = st
	d.mu.Unlock()

	d.NotifyRejected("uuid-5", "no capacity")
	ts.Stop()

	got, err := s.GetSubTask(ctx, subID)
	require.NoError(t, err)
	require.Equal(t, types.StatusPending, got.Status)
}
