package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	uatomic "go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/loopwork/realtime/internal/service"
	"github.com/loopwork/realtime/pkg/auth"
)

type fakeLabels struct {
	creates  uatomic.Int32
	fail     error
	failName string // when set, fail only creates for this label name
	block    chan struct{}
}

func (f *fakeLabels) Create(ctx context.Context, rc service.RequestContext, in service.CreateLabelInput) (interface{}, error) {
	if f.block != nil {
		<-f.block
	}
	f.creates.Inc()
	if f.fail != nil && (f.failName == "" || f.failName == in.Name) {
		return nil, f.fail
	}
	return map[string]interface{}{"id": uuid.New().String(), "name": in.Name, "workspace_id": rc.WorkspaceID.String()}, nil
}

func (f *fakeLabels) Update(ctx context.Context, rc service.RequestContext, labelID uuid.UUID, in service.UpdateLabelInput) (interface{}, error) {
	return map[string]interface{}{"id": labelID.String()}, nil
}

func (f *fakeLabels) Delete(ctx context.Context, rc service.RequestContext, labelID uuid.UUID) (interface{}, error) {
	return map[string]interface{}{"id": labelID.String(), "deleted": true}, nil
}

func (f *fakeLabels) Query(ctx context.Context, rc service.RequestContext, fl service.LabelFilters) (interface{}, error) {
	return map[string]interface{}{"labels": []interface{}{}}, nil
}

type fakeProfile struct{}

func (fakeProfile) Get(ctx context.Context, userID uuid.UUID) (interface{}, error) {
	return map[string]interface{}{"id": userID.String()}, nil
}

func (fakeProfile) Update(ctx context.Context, userID uuid.UUID, in service.UpdateProfileInput) (interface{}, error) {
	return map[string]interface{}{"id": userID.String()}, nil
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	authc      *MessageAuthenticator
	registry   *Registry
	labels     *fakeLabels
	limiter    *RateLimiter
	cache      *IdempotencyCache
}

func newDispatcherFixture(t *testing.T, limitCfg RateLimitConfig) *dispatcherFixture {
	t.Helper()
	log := zap.NewNop()
	authc := NewMessageAuthenticator("test-secret", 300*time.Second)
	cache := NewIdempotencyCache(300 * time.Second)
	limiter := NewRateLimiter(limitCfg)
	registry := NewRegistry(log)
	metrics := NewMetrics(prometheus.NewRegistry())
	broadcaster := NewBroadcaster(registry, nil, metrics, log)
	labels := &fakeLabels{}

	dispatcher := NewDispatcher(authc, cache, limiter, registry, broadcaster, Collaborators{
		Labels:  labels,
		Profile: fakeProfile{},
	}, metrics, log)

	return &dispatcherFixture{
		dispatcher: dispatcher,
		authc:      authc,
		registry:   registry,
		labels:     labels,
		limiter:    limiter,
		cache:      cache,
	}
}

func (fx *dispatcherFixture) connect(t *testing.T, withWorkspace bool) *Connection {
	t.Helper()
	principal := &auth.Principal{UserID: uuid.New(), Username: "tester"}
	if withWorkspace {
		wid := uuid.New()
		principal.WorkspaceID = &wid
	}
	conn := NewConnection(uuid.New(), principal)
	require.NoError(t, conn.Transition(StateConnected, ""))
	fx.registry.Add(conn)
	return conn
}

func (fx *dispatcherFixture) frame(t *testing.T, userID uuid.UUID, payload interface{}) []byte {
	t.Helper()
	raw, err := codec.Marshal(payload)
	require.NoError(t, err)
	msg := fx.authc.Sign(raw, userID)
	frame, err := codec.Marshal(msg)
	require.NoError(t, err)
	return frame
}

func createLabelEnvelope(key string) map[string]interface{} {
	return map[string]interface{}{
		"type":            "create_label",
		"idempotency_key": key,
		"request_id":      "req-1",
		"name":            "bug",
		"color":           "#ff0000",
		"level":           "issue",
	}
}

func TestDispatchSuccess(t *testing.T) {
	fx := newDispatcherFixture(t, DefaultRateLimitConfig())
	conn := fx.connect(t, true)

	resp, terminal := fx.dispatcher.HandleMessage(context.Background(),
		conn, fx.frame(t, conn.Principal.UserID, createLabelEnvelope("k1")))

	assert.False(t, terminal)
	require.True(t, resp.Success)
	assert.Equal(t, CmdCreateLabel, resp.CommandType)
	assert.Equal(t, "k1", resp.IdempotencyKey)
	assert.Equal(t, "req-1", resp.RequestID)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int32(1), fx.labels.creates.Load())
}

func TestDispatchSecurityFailureIsTerminal(t *testing.T) {
	fx := newDispatcherFixture(t, DefaultRateLimitConfig())
	conn := fx.connect(t, true)

	frame := fx.frame(t, uuid.New(), createLabelEnvelope("k1")) // signed for a different user

	resp, terminal := fx.dispatcher.HandleMessage(context.Background(), conn, frame)
	assert.True(t, terminal)
	require.False(t, resp.Success)
	assert.Equal(t, CodeInvalidSignature, resp.Error.Code)
	assert.Equal(t, int32(0), fx.labels.creates.Load())
}

func TestDispatchReplayIsTerminal(t *testing.T) {
	fx := newDispatcherFixture(t, DefaultRateLimitConfig())
	conn := fx.connect(t, true)
	frame := fx.frame(t, conn.Principal.UserID, createLabelEnvelope("k1"))

	_, terminal := fx.dispatcher.HandleMessage(context.Background(), conn, frame)
	require.False(t, terminal)

	resp, terminal := fx.dispatcher.HandleMessage(context.Background(), conn, frame)
	assert.True(t, terminal)
	assert.Equal(t, CodeReplayAttack, resp.Error.Code)
	assert.Equal(t, int32(1), fx.labels.creates.Load(), "replayed command must not execute again")
}

func TestDispatchIdempotencyShortCircuit(t *testing.T) {
	fx := newDispatcherFixture(t, DefaultRateLimitConfig())
	conn := fx.connect(t, true)

	first, _ := fx.dispatcher.HandleMessage(context.Background(),
		conn, fx.frame(t, conn.Principal.UserID, createLabelEnvelope("same-key")))
	require.True(t, first.Success)

	// Same idempotency key, fresh secure envelope, different payload.
	envelope := createLabelEnvelope("same-key")
	envelope["name"] = "completely different"
	second, _ := fx.dispatcher.HandleMessage(context.Background(),
		conn, fx.frame(t, conn.Principal.UserID, envelope))

	assert.Equal(t, int32(1), fx.labels.creates.Load(), "collaborator must run once per key")
	assert.Equal(t, first.Data, second.Data, "first execution's result wins over the new payload")
}

func TestDispatchConcurrentDuplicatesExecuteOnce(t *testing.T) {
	fx := newDispatcherFixture(t, DefaultRateLimitConfig())
	conn := fx.connect(t, true)
	fx.labels.block = make(chan struct{})

	const callers = 10
	frames := make([][]byte, callers)
	for i := range frames {
		frames[i] = fx.frame(t, conn.Principal.UserID, createLabelEnvelope("racing-key"))
	}

	var wg sync.WaitGroup
	responses := make([]*Response, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			responses[i], _ = fx.dispatcher.HandleMessage(context.Background(), conn, frames[i])
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(fx.labels.block)
	wg.Wait()

	assert.Equal(t, int32(1), fx.labels.creates.Load())
	for _, resp := range responses {
		require.NotNil(t, resp)
		require.True(t, resp.Success)
		assert.Equal(t, responses[0].Data, resp.Data)
	}
}

func TestDispatchConcurrentDuplicatesBroadcastOnce(t *testing.T) {
	fx := newDispatcherFixture(t, DefaultRateLimitConfig())
	conn := fx.connect(t, true)
	fx.labels.block = make(chan struct{})

	subscriber := NewConnection(uuid.New(), &auth.Principal{
		UserID:      uuid.New(),
		WorkspaceID: conn.Principal.WorkspaceID,
	})
	require.NoError(t, subscriber.Transition(StateConnected, ""))
	fx.registry.Add(subscriber)
	subscriber.Subscribe(EventTopic(*conn.Principal.WorkspaceID, "labels"))

	const callers = 10
	frames := make([][]byte, callers)
	for i := range frames {
		frames[i] = fx.frame(t, conn.Principal.UserID, createLabelEnvelope("racing-key"))
	}

	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			fx.dispatcher.HandleMessage(context.Background(), conn, frames[i])
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(fx.labels.block)
	wg.Wait()

	events := 0
	for drained := false; !drained; {
		select {
		case <-subscriber.Outbound():
			events++
		default:
			drained = true
		}
	}
	assert.Equal(t, 1, events, "one execution publishes one change event")
	assert.Equal(t, int32(1), fx.labels.creates.Load())
}

func TestDispatchNoWorkspace(t *testing.T) {
	fx := newDispatcherFixture(t, DefaultRateLimitConfig())
	conn := fx.connect(t, false)

	resp, terminal := fx.dispatcher.HandleMessage(context.Background(),
		conn, fx.frame(t, conn.Principal.UserID, createLabelEnvelope("k1")))

	assert.False(t, terminal)
	require.False(t, resp.Success)
	assert.Equal(t, CodeNoWorkspace, resp.Error.Code)
	assert.Equal(t, int32(0), fx.labels.creates.Load())

	// The rejection is not cached: once a workspace exists the same key
	// executes.
	wid := uuid.New()
	conn.Principal.WorkspaceID = &wid
	resp, _ = fx.dispatcher.HandleMessage(context.Background(),
		conn, fx.frame(t, conn.Principal.UserID, createLabelEnvelope("k1")))
	assert.True(t, resp.Success)
	assert.Equal(t, int32(1), fx.labels.creates.Load())
}

func TestDispatchRateLimited(t *testing.T) {
	fx := newDispatcherFixture(t, RateLimitConfig{Window: time.Minute, MaxRequests: 1})
	conn := fx.connect(t, true)

	first, _ := fx.dispatcher.HandleMessage(context.Background(),
		conn, fx.frame(t, conn.Principal.UserID, createLabelEnvelope("k1")))
	require.True(t, first.Success)

	resp, terminal := fx.dispatcher.HandleMessage(context.Background(),
		conn, fx.frame(t, conn.Principal.UserID, createLabelEnvelope("k2")))

	assert.False(t, terminal, "rate limiting does not terminate the connection")
	require.False(t, resp.Success)
	assert.Equal(t, CodeRateLimitExceeded, resp.Error.Code)
	require.NotNil(t, resp.Error.RetryAfter)
	assert.Positive(t, *resp.Error.RetryAfter)
	assert.Equal(t, int32(1), fx.labels.creates.Load())

	// The limited attempt must not poison the idempotency cache.
	_, ok := fx.cache.Lookup("k2")
	assert.False(t, ok)
}

func TestDispatchProfileWithoutWorkspace(t *testing.T) {
	fx := newDispatcherFixture(t, DefaultRateLimitConfig())
	conn := fx.connect(t, false)

	resp, _ := fx.dispatcher.HandleMessage(context.Background(),
		conn, fx.frame(t, conn.Principal.UserID, map[string]interface{}{
			"type":            "get_profile",
			"idempotency_key": "k1",
		}))

	assert.True(t, resp.Success, "profile commands run without a workspace")
}

func TestDispatchUnknownCommand(t *testing.T) {
	fx := newDispatcherFixture(t, DefaultRateLimitConfig())
	conn := fx.connect(t, true)

	resp, terminal := fx.dispatcher.HandleMessage(context.Background(),
		conn, fx.frame(t, conn.Principal.UserID, map[string]interface{}{
			"type":            "drop_all_tables",
			"idempotency_key": "k1",
		}))

	assert.False(t, terminal)
	require.False(t, resp.Success)
	assert.Equal(t, CodeValidation, resp.Error.Code)
}

func TestDispatchServiceErrorMapping(t *testing.T) {
	fx := newDispatcherFixture(t, DefaultRateLimitConfig())
	conn := fx.connect(t, true)
	fx.labels.fail = service.Validation("color", "color must be a hex value like #6e56cf")

	resp, terminal := fx.dispatcher.HandleMessage(context.Background(),
		conn, fx.frame(t, conn.Principal.UserID, createLabelEnvelope("k1")))

	assert.False(t, terminal)
	require.False(t, resp.Success)
	assert.Equal(t, CodeValidation, resp.Error.Code)
	assert.Equal(t, "color", resp.Error.Field)
}

func TestDispatchDatabaseErrorHidesDetail(t *testing.T) {
	fx := newDispatcherFixture(t, DefaultRateLimitConfig())
	conn := fx.connect(t, true)
	fx.labels.fail = service.Internal("connection pool exhausted on shard 3")

	resp, _ := fx.dispatcher.HandleMessage(context.Background(),
		conn, fx.frame(t, conn.Principal.UserID, createLabelEnvelope("k1")))

	require.False(t, resp.Success)
	assert.Equal(t, CodeInternal, resp.Error.Code)
	assert.NotContains(t, resp.Error.Message, "shard", "internal detail must not reach the client")
	require.NotNil(t, resp.Error.RetryAfter)
}

func TestDispatchMutationBroadcast(t *testing.T) {
	fx := newDispatcherFixture(t, DefaultRateLimitConfig())
	conn := fx.connect(t, true)

	subscriber := NewConnection(uuid.New(), &auth.Principal{
		UserID:      uuid.New(),
		WorkspaceID: conn.Principal.WorkspaceID,
	})
	require.NoError(t, subscriber.Transition(StateConnected, ""))
	fx.registry.Add(subscriber)
	subscriber.Subscribe(EventTopic(*conn.Principal.WorkspaceID, "labels"))

	resp, _ := fx.dispatcher.HandleMessage(context.Background(),
		conn, fx.frame(t, conn.Principal.UserID, createLabelEnvelope("k1")))
	require.True(t, resp.Success)

	select {
	case frame := <-subscriber.Outbound():
		var event Event
		require.NoError(t, codec.Unmarshal(frame, &event))
		assert.Equal(t, "create_label", event.Type)
		assert.Equal(t, *conn.Principal.WorkspaceID, event.WorkspaceID)
	default:
		t.Fatal("subscriber should have received the change notification")
	}
}

func TestDispatchPing(t *testing.T) {
	fx := newDispatcherFixture(t, DefaultRateLimitConfig())
	conn := fx.connect(t, false)

	before := conn.LastPing()
	time.Sleep(5 * time.Millisecond)

	resp, _ := fx.dispatcher.HandleMessage(context.Background(),
		conn, fx.frame(t, conn.Principal.UserID, map[string]interface{}{
			"type":            "ping",
			"idempotency_key": "p1",
		}))

	require.True(t, resp.Success)
	assert.True(t, conn.LastPing().After(before), "ping must refresh liveness")

	// Ping responses are never served from the idempotency cache.
	time.Sleep(time.Millisecond)
	resp2, _ := fx.dispatcher.HandleMessage(context.Background(),
		conn, fx.frame(t, conn.Principal.UserID, map[string]interface{}{
			"type":            "ping",
			"idempotency_key": "p1",
		}))
	require.True(t, resp2.Success)
	assert.NotEqual(t, resp.Data, resp2.Data)
}

func TestDispatchSubscribeUnsubscribe(t *testing.T) {
	fx := newDispatcherFixture(t, DefaultRateLimitConfig())
	conn := fx.connect(t, true)
	topic := EventTopic(*conn.Principal.WorkspaceID, "issues")

	resp, _ := fx.dispatcher.HandleMessage(context.Background(),
		conn, fx.frame(t, conn.Principal.UserID, map[string]interface{}{
			"type":            "subscribe",
			"idempotency_key": "s1",
			"topic":           topic,
		}))
	require.True(t, resp.Success)
	assert.True(t, conn.SubscribedTo(topic))

	resp, _ = fx.dispatcher.HandleMessage(context.Background(),
		conn, fx.frame(t, conn.Principal.UserID, map[string]interface{}{
			"type":            "unsubscribe",
			"idempotency_key": "s2",
			"topic":           topic,
		}))
	require.True(t, resp.Success)
	assert.False(t, conn.SubscribedTo(topic))
}

func TestDispatchGetConnectionInfo(t *testing.T) {
	fx := newDispatcherFixture(t, DefaultRateLimitConfig())
	conn := fx.connect(t, true)

	resp, _ := fx.dispatcher.HandleMessage(context.Background(),
		conn, fx.frame(t, conn.Principal.UserID, map[string]interface{}{
			"type":            "get_connection_info",
			"idempotency_key": "i1",
		}))

	require.True(t, resp.Success)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "connected", data["state"])
	assert.Equal(t, conn.ID, data["connection_id"])
	assert.Equal(t, conn.ConnectedAt, data["connected_at"])
	assert.Equal(t, 0, data["queue_size"])
}

func TestDispatchRejectsNonAcceptingState(t *testing.T) {
	fx := newDispatcherFixture(t, DefaultRateLimitConfig())
	conn := fx.connect(t, true)
	require.NoError(t, conn.Transition(StateSuspended, ""))

	resp, terminal := fx.dispatcher.HandleMessage(context.Background(),
		conn, fx.frame(t, conn.Principal.UserID, createLabelEnvelope("k1")))

	assert.False(t, terminal)
	require.False(t, resp.Success)
	assert.Equal(t, CodePermission, resp.Error.Code)
	assert.Equal(t, int32(0), fx.labels.creates.Load())
}

func batchCreateLabelsEnvelope(key string, names ...string) map[string]interface{} {
	data := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		data = append(data, map[string]interface{}{"name": name, "color": "#ff0000", "level": "issue"})
	}
	return map[string]interface{}{
		"type":            "batch_create_labels",
		"idempotency_key": key,
		"data":            data,
	}
}

func TestDispatchBatchCreateLabels(t *testing.T) {
	fx := newDispatcherFixture(t, DefaultRateLimitConfig())
	conn := fx.connect(t, true)

	resp, terminal := fx.dispatcher.HandleMessage(context.Background(),
		conn, fx.frame(t, conn.Principal.UserID, batchCreateLabelsEnvelope("b1", "bug", "feature", "chore")))

	assert.False(t, terminal)
	require.True(t, resp.Success)
	require.NotNil(t, resp.Meta)
	require.NotNil(t, resp.Meta.BatchStats)
	assert.Equal(t, int64(3), resp.Meta.BatchStats.Total)
	assert.Equal(t, int64(3), resp.Meta.BatchStats.Successful)
	assert.Equal(t, int64(0), resp.Meta.BatchStats.Failed)
	assert.Equal(t, int32(3), fx.labels.creates.Load())
}

func TestDispatchBatchPartialFailure(t *testing.T) {
	fx := newDispatcherFixture(t, DefaultRateLimitConfig())
	conn := fx.connect(t, true)
	fx.labels.fail = service.Validation("name", "label name already in use")
	fx.labels.failName = "feature"

	resp, _ := fx.dispatcher.HandleMessage(context.Background(),
		conn, fx.frame(t, conn.Principal.UserID, batchCreateLabelsEnvelope("b1", "bug", "feature", "chore")))

	require.True(t, resp.Success, "a batch with failed items still reports the batch outcome")
	require.NotNil(t, resp.Meta.BatchStats)
	assert.Equal(t, int64(3), resp.Meta.BatchStats.Total)
	assert.Equal(t, int64(2), resp.Meta.BatchStats.Successful)
	assert.Equal(t, int64(1), resp.Meta.BatchStats.Failed)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	results, ok := data["results"].([]batchItemResult)
	require.True(t, ok)
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	require.NotNil(t, results[1].Error)
	assert.Equal(t, CodeValidation, results[1].Error.Code)
	assert.True(t, results[2].Success)
}

func TestDispatchBatchRejectsEmpty(t *testing.T) {
	fx := newDispatcherFixture(t, DefaultRateLimitConfig())
	conn := fx.connect(t, true)

	resp, _ := fx.dispatcher.HandleMessage(context.Background(),
		conn, fx.frame(t, conn.Principal.UserID, batchCreateLabelsEnvelope("b1")))

	require.False(t, resp.Success)
	assert.Equal(t, CodeValidation, resp.Error.Code)
	assert.Equal(t, int32(0), fx.labels.creates.Load())
}

func TestDispatchBatchRejectsOversize(t *testing.T) {
	fx := newDispatcherFixture(t, DefaultRateLimitConfig())
	conn := fx.connect(t, true)

	names := make([]string, maxBatchSize+1)
	for i := range names {
		names[i] = fmt.Sprintf("label-%d", i)
	}
	resp, _ := fx.dispatcher.HandleMessage(context.Background(),
		conn, fx.frame(t, conn.Principal.UserID, batchCreateLabelsEnvelope("b1", names...)))

	require.False(t, resp.Success)
	assert.Equal(t, CodeValidation, resp.Error.Code)
	assert.Equal(t, int32(0), fx.labels.creates.Load())
}

func TestDispatchBatchIdempotent(t *testing.T) {
	fx := newDispatcherFixture(t, DefaultRateLimitConfig())
	conn := fx.connect(t, true)

	first, _ := fx.dispatcher.HandleMessage(context.Background(),
		conn, fx.frame(t, conn.Principal.UserID, batchCreateLabelsEnvelope("same-batch", "bug", "feature")))
	require.True(t, first.Success)

	second, _ := fx.dispatcher.HandleMessage(context.Background(),
		conn, fx.frame(t, conn.Principal.UserID, batchCreateLabelsEnvelope("same-batch", "bug", "feature")))

	assert.Equal(t, int32(2), fx.labels.creates.Load(), "the batch must execute once per key")
	assert.Equal(t, first.Data, second.Data)
}

func TestDispatchBatchUpdateLabels(t *testing.T) {
	fx := newDispatcherFixture(t, DefaultRateLimitConfig())
	conn := fx.connect(t, true)

	// Batch update items nest their fields under data.
	resp, _ := fx.dispatcher.HandleMessage(context.Background(),
		conn, fx.frame(t, conn.Principal.UserID, map[string]interface{}{
			"type":            "batch_update_labels",
			"idempotency_key": "b1",
			"updates": []map[string]interface{}{
				{"label_id": uuid.NewString(), "data": map[string]interface{}{"name": "regression"}},
				{"label_id": uuid.NewString(), "data": map[string]interface{}{"color": "#00ff00"}},
			},
		}))

	require.True(t, resp.Success)
	require.NotNil(t, resp.Meta.BatchStats)
	assert.Equal(t, int64(2), resp.Meta.BatchStats.Total)
	assert.Equal(t, int64(2), resp.Meta.BatchStats.Successful)
}

func TestDispatchBatchDeleteLabels(t *testing.T) {
	fx := newDispatcherFixture(t, DefaultRateLimitConfig())
	conn := fx.connect(t, true)

	resp, _ := fx.dispatcher.HandleMessage(context.Background(),
		conn, fx.frame(t, conn.Principal.UserID, map[string]interface{}{
			"type":            "batch_delete_labels",
			"idempotency_key": "b1",
			"label_ids":       []string{uuid.NewString(), uuid.NewString()},
		}))

	require.True(t, resp.Success)
	require.NotNil(t, resp.Meta.BatchStats)
	assert.Equal(t, int64(2), resp.Meta.BatchStats.Successful)
}

func TestDispatchBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	fx := newDispatcherFixture(t, DefaultRateLimitConfig())
	conn := fx.connect(t, true)
	fx.labels.fail = service.Database("create label", errors.New("connection refused"))

	for i := 0; i < 5; i++ {
		resp, _ := fx.dispatcher.HandleMessage(context.Background(),
			conn, fx.frame(t, conn.Principal.UserID, createLabelEnvelope(fmt.Sprintf("k%d", i))))
		require.False(t, resp.Success)
		assert.Equal(t, CodeDatabase, resp.Error.Code)
	}
	require.Equal(t, int32(5), fx.labels.creates.Load())

	resp, terminal := fx.dispatcher.HandleMessage(context.Background(),
		conn, fx.frame(t, conn.Principal.UserID, createLabelEnvelope("k-open")))

	assert.False(t, terminal)
	require.False(t, resp.Success)
	assert.Equal(t, CodeInternal, resp.Error.Code)
	require.NotNil(t, resp.Error.RetryAfter)
	assert.Positive(t, *resp.Error.RetryAfter)
	assert.Equal(t, int32(5), fx.labels.creates.Load(), "an open circuit must not reach the collaborator")
}

func TestDispatchBatchSkipsAfterBreakerOpens(t *testing.T) {
	fx := newDispatcherFixture(t, DefaultRateLimitConfig())
	conn := fx.connect(t, true)
	fx.labels.fail = service.Database("create label", errors.New("connection refused"))

	names := make([]string, 8)
	for i := range names {
		names[i] = fmt.Sprintf("label-%d", i)
	}
	resp, _ := fx.dispatcher.HandleMessage(context.Background(),
		conn, fx.frame(t, conn.Principal.UserID, batchCreateLabelsEnvelope("b1", names...)))

	require.True(t, resp.Success)
	require.NotNil(t, resp.Meta.BatchStats)
	assert.Equal(t, int64(8), resp.Meta.BatchStats.Total)
	assert.Equal(t, int64(0), resp.Meta.BatchStats.Successful)
	assert.Equal(t, int64(5), resp.Meta.BatchStats.Failed)
	assert.Equal(t, int64(3), resp.Meta.BatchStats.Skipped)
	assert.Equal(t, int32(5), fx.labels.creates.Load(), "skipped items never reach the collaborator")

	data := resp.Data.(map[string]interface{})
	results := data["results"].([]batchItemResult)
	require.NotNil(t, results[7].Error)
	assert.Equal(t, CodeInternal, results[7].Error.Code)
}

func TestDispatchMalformedEnvelope(t *testing.T) {
	fx := newDispatcherFixture(t, DefaultRateLimitConfig())
	conn := fx.connect(t, true)

	resp, terminal := fx.dispatcher.HandleMessage(context.Background(), conn, []byte(`not json`))
	assert.False(t, terminal)
	require.False(t, resp.Success)
	assert.Equal(t, CodeValidation, resp.Error.Code)
}
