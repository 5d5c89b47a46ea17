package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingInvalidator struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordingInvalidator) OnInvalidate(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
}

func (r *recordingInvalidator) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

type countingRecorder struct {
	mu         sync.Mutex
	events     map[string]int
	reconnects int
}

func (c *countingRecorder) RealtimeEvent(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.events == nil {
		c.events = map[string]int{}
	}
	c.events[table]++
}

func (c *countingRecorder) RealtimeReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnects++
}

// fakeRealtime accepts joins and lets tests push frames to the client.
type fakeRealtime struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu        sync.Mutex
	conns     []*websocket.Conn
	received  []Message
	queries   []string
	connected chan struct{}
	silent    bool
}

func newFakeRealtime(t *testing.T) *fakeRealtime {
	f := &fakeRealtime{t: t, connected: make(chan struct{}, 8)}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeRealtime) URL() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/realtime/v1/websocket"
}

func (f *fakeRealtime) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.queries = append(f.queries, r.URL.RawQuery)
	f.mu.Unlock()

	joined := 0
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		f.mu.Lock()
		f.received = append(f.received, msg)
		f.mu.Unlock()

		if msg.Event == eventHeartbeat && !f.isSilent() {
			f.write(conn, Message{Topic: phoenixTopic, Event: eventReply, Ref: msg.Ref, Payload: []byte(`{"status":"ok","response":{}}`)})
		}
		if msg.Event == eventJoin {
			f.write(conn, Message{Topic: msg.Topic, Event: eventReply, Ref: msg.Ref, Payload: []byte(`{"status":"ok","response":{}}`)})
			joined++
			if joined == len(DefaultSubscriptions()) {
				f.connected <- struct{}{}
			}
		}
	}
}

func (f *fakeRealtime) isSilent() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.silent
}

// goSilent stops answering heartbeats, like a half-open connection.
func (f *fakeRealtime) goSilent() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.silent = true
}

func (f *fakeRealtime) write(conn *websocket.Conn, msg Message) {
	data, err := json.Marshal(msg)
	require.NoError(f.t, err)
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

func (f *fakeRealtime) latest() *websocket.Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[len(f.conns)-1]
}

func (f *fakeRealtime) push(topic, event, payload string) {
	f.write(f.latest(), Message{Topic: topic, Event: event, Payload: []byte(payload)})
}

func (f *fakeRealtime) events(event string) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Message
	for _, m := range f.received {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeRealtime) waitConnected(t *testing.T) {
	t.Helper()
	select {
	case <-f.connected:
	case <-time.After(5 * time.Second):
		t.Fatal("client did not join its channels")
	}
}

func startClient(t *testing.T, cfg Config, inv Invalidator, opts ...Option) (*Client, context.CancelFunc, <-chan error) {
	t.Helper()
	client := NewClient(cfg, inv, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()
	t.Cleanup(cancel)
	return client, cancel, done
}

func TestDefaultsApplied(t *testing.T) {
	c := NewClient(Config{URL: "ws://localhost"}, &recordingInvalidator{})
	assert.Equal(t, 30*time.Second, c.config.HeartbeatInterval)
	assert.Equal(t, 2*time.Second, c.config.ReconnectMin)
	assert.Equal(t, 30*time.Second, c.config.ReconnectMax)
	assert.Equal(t, []string{"posts"}, c.tables["reactions"])
	assert.Equal(t, StateDisconnected, c.State())
}

func TestJoinsEveryTable(t *testing.T) {
	fake := newFakeRealtime(t)
	client, _, _ := startClient(t, Config{URL: fake.URL(), APIKey: "anon"}, &recordingInvalidator{})
	fake.waitConnected(t)

	joins := fake.events(eventJoin)
	require.Len(t, joins, len(DefaultSubscriptions()))

	topics := map[string]bool{}
	for _, j := range joins {
		topics[j.Topic] = true
		var p joinPayload
		require.NoError(t, json.Unmarshal(j.Payload, &p))
		require.Len(t, p.Config.PostgresChanges, 1)
		assert.Equal(t, "*", p.Config.PostgresChanges[0].Event)
		assert.Equal(t, "public", p.Config.PostgresChanges[0].Schema)
		assert.Equal(t, topicFor(p.Config.PostgresChanges[0].Table), j.Topic)
	}
	assert.True(t, topics["realtime:public:connections"])

	fake.mu.Lock()
	query := fake.queries[0]
	fake.mu.Unlock()
	assert.Contains(t, query, "apikey=anon")
	assert.Contains(t, query, "vsn=1.0.0")
	assert.Eventually(t, client.IsConnected, time.Second, 10*time.Millisecond)
}

func TestChangesInvalidateMappedKeys(t *testing.T) {
	fake := newFakeRealtime(t)
	inv := &recordingInvalidator{}
	rec := &countingRecorder{}
	_, _, _ = startClient(t, Config{URL: fake.URL()}, inv, WithRecorder(rec))
	fake.waitConnected(t)

	fake.push("realtime:public:reactions", eventChanges, `{"data":{"table":"reactions","type":"INSERT"}}`)
	fake.push("realtime:public:connections", "UPDATE", `{"table":"connections","type":"UPDATE"}`)
	fake.push("realtime:public:notifications", eventChanges, `{"ids":[1]}`)
	fake.push("realtime:public:unknown", eventChanges, `{"data":{"table":"unknown"}}`)

	assert.Eventually(t, func() bool { return len(inv.Keys()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"posts", "connections", "notifications"}, inv.Keys())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.events["reactions"])
	assert.Zero(t, rec.events["unknown"])
}

func TestHeartbeat(t *testing.T) {
	fake := newFakeRealtime(t)
	_, _, _ = startClient(t, Config{URL: fake.URL(), HeartbeatInterval: 20 * time.Millisecond}, &recordingInvalidator{})
	fake.waitConnected(t)

	assert.Eventually(t, func() bool { return len(fake.events(eventHeartbeat)) >= 2 }, 2*time.Second, 10*time.Millisecond)
	hb := fake.events(eventHeartbeat)[0]
	assert.Equal(t, phoenixTopic, hb.Topic)
	assert.NotEmpty(t, hb.Ref)
}

func TestHeartbeatRepliesKeepConnectionAlive(t *testing.T) {
	fake := newFakeRealtime(t)
	client, _, _ := startClient(t, Config{URL: fake.URL(), HeartbeatInterval: 20 * time.Millisecond}, &recordingInvalidator{})
	fake.waitConnected(t)

	time.Sleep(150 * time.Millisecond)
	assert.True(t, client.IsConnected())
	assert.Zero(t, client.Stats().ReconnectCount)
}

func TestSilentServerTriggersReconnect(t *testing.T) {
	fake := newFakeRealtime(t)
	inv := &recordingInvalidator{}
	client, _, _ := startClient(t, Config{
		URL:               fake.URL(),
		HeartbeatInterval: 20 * time.Millisecond,
		ReconnectMin:      10 * time.Millisecond,
		ReconnectMax:      20 * time.Millisecond,
	}, inv)
	fake.waitConnected(t)

	fake.goSilent()
	fake.waitConnected(t)

	assert.GreaterOrEqual(t, client.Stats().ReconnectCount, 1)
	assert.Contains(t, client.Stats().LastError, "timeout")
	assert.Eventually(t, func() bool { return len(inv.Keys()) >= 4 }, 2*time.Second, 10*time.Millisecond)
}

func TestReconnectResyncsAllKeys(t *testing.T) {
	fake := newFakeRealtime(t)
	inv := &recordingInvalidator{}
	rec := &countingRecorder{}
	client, _, _ := startClient(t, Config{
		URL:          fake.URL(),
		ReconnectMin: 10 * time.Millisecond,
		ReconnectMax: 20 * time.Millisecond,
	}, inv, WithRecorder(rec))
	fake.waitConnected(t)
	assert.Empty(t, inv.Keys(), "the first connection does not invalidate")

	require.NoError(t, fake.latest().Close())
	fake.waitConnected(t)

	assert.Eventually(t, func() bool { return len(inv.Keys()) == 4 }, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"posts", "connections", "notifications", "analyses"}, inv.Keys())
	assert.Equal(t, 1, client.Stats().ReconnectCount)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.reconnects)
}

func TestChannelErrorForcesReconnect(t *testing.T) {
	fake := newFakeRealtime(t)
	client, _, _ := startClient(t, Config{URL: fake.URL(), ReconnectMin: 10 * time.Millisecond}, &recordingInvalidator{})
	fake.waitConnected(t)

	fake.push("realtime:public:posts", eventError, `{}`)
	fake.waitConnected(t)
	assert.Equal(t, 1, client.Stats().ReconnectCount)
	assert.Contains(t, client.Stats().LastError, "phx_error")
}

func TestRunStopsOnCancel(t *testing.T) {
	fake := newFakeRealtime(t)
	client, cancel, done := startClient(t, Config{URL: fake.URL()}, &recordingInvalidator{})
	fake.waitConnected(t)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StateDisconnected, client.State())
}

func TestRunRetriesUnreachableServer(t *testing.T) {
	rec := &countingRecorder{}
	client, cancel, done := startClient(t, Config{
		URL:            "ws://127.0.0.1:1/realtime/v1/websocket",
		ConnectTimeout: 50 * time.Millisecond,
		ReconnectMin:   5 * time.Millisecond,
		ReconnectMax:   10 * time.Millisecond,
	}, &recordingInvalidator{}, WithRecorder(rec))

	assert.Eventually(t, func() bool { return client.Stats().ReconnectCount >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.NotEmpty(t, client.Stats().LastError)
}

func TestJitterBounded(t *testing.T) {
	for i := 0; i < 100; i++ {
		j := jitter(time.Second)
		assert.GreaterOrEqual(t, j, time.Duration(0))
		assert.LessOrEqual(t, j, time.Second/4)
	}
}
