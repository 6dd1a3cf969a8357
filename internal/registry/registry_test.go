package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMember struct {
	id     string
	queue  chan []byte
	mu     sync.Mutex
	closed bool
}

func newFakeMember(id string, buffer int) *fakeMember {
	return &fakeMember{id: id, queue: make(chan []byte, buffer)}
}

func (m *fakeMember) ID() string { return m.id }

func (m *fakeMember) Send(payload []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	select {
	case m.queue <- payload:
		return true
	default:
		return false
	}
}

func (m *fakeMember) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func (m *fakeMember) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *fakeMember) drain() []string {
	var out []string
	for {
		select {
		case p := <-m.queue:
			out = append(out, string(p))
		default:
			return out
		}
	}
}

func TestTopicRoundTrip(t *testing.T) {
	keys := []GroupKey{
		{ServerID: "1", ChannelID: "7"},
		{ServerID: "a.b", ChannelID: "c"},
		{ServerID: "a", ChannelID: "b.c"},
		{ServerID: "*", ChannelID: "#"},
		{ServerID: "with space", ChannelID: "%2E"},
	}
	seen := map[string]GroupKey{}
	for _, key := range keys {
		topic := key.Topic()
		if prev, dup := seen[topic]; dup {
			t.Fatalf("keys %v and %v share topic %q", prev, key, topic)
		}
		seen[topic] = key
		assert.NotContains(t, topic[len("chat."):], "*")
		assert.NotContains(t, topic[len("chat."):], "#")

		parsed, err := ParseTopic(topic)
		require.NoError(t, err)
		assert.Equal(t, key, parsed)
	}
	assert.Equal(t, "chat.s1.c7", GroupKey{ServerID: "1", ChannelID: "7"}.Topic())

	_, err := ParseTopic("chat.s1")
	assert.Error(t, err)
	_, err = ParseTopic("other.s1.c2")
	assert.Error(t, err)
}

func TestPublishReachesEveryMemberOfGroupOnly(t *testing.T) {
	reg := NewLocalRegistry(zerolog.Nop())
	ctx := context.Background()
	g7 := GroupKey{ServerID: "1", ChannelID: "7"}
	g8 := GroupKey{ServerID: "1", ChannelID: "8"}
	otherServer := GroupKey{ServerID: "2", ChannelID: "7"}

	a, b, c, d := newFakeMember("a", 8), newFakeMember("b", 8), newFakeMember("c", 8), newFakeMember("d", 8)
	require.NoError(t, reg.Join(ctx, g7, a))
	require.NoError(t, reg.Join(ctx, g7, b))
	require.NoError(t, reg.Join(ctx, g8, c))
	require.NoError(t, reg.Join(ctx, otherServer, d))

	require.NoError(t, reg.Publish(ctx, g7, []byte("hi")))

	assert.Equal(t, []string{"hi"}, a.drain())
	assert.Equal(t, []string{"hi"}, b.drain())
	assert.Empty(t, c.drain())
	assert.Empty(t, d.drain())
}

func TestJoinIsIdempotentAndLeaveReapsGroup(t *testing.T) {
	reg := NewLocalRegistry(zerolog.Nop())
	ctx := context.Background()
	key := GroupKey{ServerID: "1", ChannelID: "7"}
	a := newFakeMember("a", 8)

	require.NoError(t, reg.Join(ctx, key, a))
	require.NoError(t, reg.Join(ctx, key, a))
	assert.Equal(t, 1, reg.Size(key))
	assert.Equal(t, 1, reg.Deliver(key, []byte("once")))

	reg.Leave(key, a)
	reg.Leave(key, a)
	reg.Leave(GroupKey{ServerID: "9", ChannelID: "9"}, a)
	assert.Equal(t, 0, reg.Size(key))
	assert.Equal(t, 0, reg.Groups())
	assert.Equal(t, 0, reg.Deliver(key, []byte("after")))
	assert.Equal(t, []string{"once"}, a.drain())
}

func TestJoinHonoursCancelledContext(t *testing.T) {
	reg := NewLocalRegistry(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := reg.Join(ctx, GroupKey{ServerID: "1", ChannelID: "7"}, newFakeMember("a", 1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, reg.Groups())
}

func TestSlowMemberIsDroppedWithoutBlockingOthers(t *testing.T) {
	reg := NewLocalRegistry(zerolog.Nop())
	ctx := context.Background()
	key := GroupKey{ServerID: "1", ChannelID: "7"}
	slow, fast := newFakeMember("slow", 1), newFakeMember("fast", 8)
	require.NoError(t, reg.Join(ctx, key, slow))
	require.NoError(t, reg.Join(ctx, key, fast))

	assert.Equal(t, 2, reg.Deliver(key, []byte("1")))
	assert.Equal(t, 1, reg.Deliver(key, []byte("2")))
	assert.Equal(t, 1, reg.Deliver(key, []byte("3")))

	assert.True(t, slow.isClosed())
	assert.Equal(t, 1, reg.Size(key))
	assert.Equal(t, []string{"1"}, slow.drain())
	assert.Equal(t, []string{"1", "2", "3"}, fast.drain())
}

func TestConcurrentPublishersProduceOneOrder(t *testing.T) {
	reg := NewLocalRegistry(zerolog.Nop())
	ctx := context.Background()
	key := GroupKey{ServerID: "1", ChannelID: "7"}

	const publishers, perPublisher = 4, 50
	members := make([]*fakeMember, 5)
	for i := range members {
		members[i] = newFakeMember(fmt.Sprintf("m%d", i), publishers*perPublisher)
		require.NoError(t, reg.Join(ctx, key, members[i]))
	}

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				_ = reg.Publish(ctx, key, []byte(fmt.Sprintf("%d-%d", p, i)))
			}
		}(p)
	}
	wg.Wait()

	first := members[0].drain()
	require.Len(t, first, publishers*perPublisher)
	for _, m := range members[1:] {
		assert.Equal(t, first, m.drain())
	}
}

func TestConcurrentJoinLeaveKeepsRegistryConsistent(t *testing.T) {
	reg := NewLocalRegistry(zerolog.Nop())
	ctx := context.Background()
	key := GroupKey{ServerID: "1", ChannelID: "7"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := newFakeMember(fmt.Sprintf("m%d", i), 4)
			for j := 0; j < 20; j++ {
				_ = reg.Join(ctx, key, m)
				reg.Deliver(key, []byte("x"))
				m.drain()
				reg.Leave(key, m)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, reg.Size(key))
	assert.Equal(t, 0, reg.Groups())
}

// memBroker is an in-process Broker shared by several registries, standing
// in for a real pub/sub server.
type memBroker struct {
	hub  *memHub
	mu   sync.Mutex
	subs map[string]bool
	in   chan memMsg
	fail error

	// held topics make Subscribe wait until the channel is closed.
	held    map[string]chan struct{}
	entered chan string
}

type memMsg struct {
	topic   string
	payload []byte
}

type memHub struct {
	mu      sync.Mutex
	brokers []*memBroker
}

func (h *memHub) newBroker() *memBroker {
	b := &memBroker{
		hub:     h,
		subs:    map[string]bool{},
		in:      make(chan memMsg, 64),
		held:    map[string]chan struct{}{},
		entered: make(chan string, 8),
	}
	h.mu.Lock()
	h.brokers = append(h.brokers, b)
	h.mu.Unlock()
	return b
}

func (b *memBroker) Name() string { return "mem" }

func (b *memBroker) Publish(_ context.Context, topic string, payload []byte) error {
	if b.fail != nil {
		return b.fail
	}
	b.hub.mu.Lock()
	defer b.hub.mu.Unlock()
	for _, other := range b.hub.brokers {
		if other.isSubscribed(topic) {
			other.in <- memMsg{topic: topic, payload: payload}
		}
	}
	return nil
}

func (b *memBroker) isSubscribed(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs[topic]
}

func (b *memBroker) hold(topic string) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	gate := make(chan struct{})
	b.held[topic] = gate
	return gate
}

func (b *memBroker) Subscribe(ctx context.Context, topic string) error {
	b.mu.Lock()
	gate := b.held[topic]
	b.mu.Unlock()
	if gate != nil {
		b.entered <- topic
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = true
	return nil
}

func (b *memBroker) Unsubscribe(_ context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, topic)
	return nil
}

func (b *memBroker) Consume(ctx context.Context, handle func(string, []byte)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-b.in:
			handle(msg.topic, msg.payload)
		}
	}
}

func (b *memBroker) Close() error { return nil }

func TestBrokeredRegistriesShareGroups(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := &memHub{}
	brokerA, brokerB := hub.newBroker(), hub.newBroker()
	regA := NewBrokeredRegistry(NewLocalRegistry(zerolog.Nop()), brokerA, zerolog.Nop())
	regB := NewBrokeredRegistry(NewLocalRegistry(zerolog.Nop()), brokerB, zerolog.Nop())
	go regA.Run(ctx)
	go regB.Run(ctx)

	g7 := GroupKey{ServerID: "1", ChannelID: "7"}
	g8 := GroupKey{ServerID: "1", ChannelID: "8"}
	otherServer := GroupKey{ServerID: "2", ChannelID: "7"}
	a, b, c, d := newFakeMember("a", 8), newFakeMember("b", 8), newFakeMember("c", 8), newFakeMember("d", 8)
	require.NoError(t, regA.Join(ctx, g7, a))
	require.NoError(t, regB.Join(ctx, g7, b))
	require.NoError(t, regB.Join(ctx, g8, c))
	require.NoError(t, regB.Join(ctx, otherServer, d))

	require.NoError(t, regA.Publish(ctx, g7, []byte("hi")))

	assert.Equal(t, []byte("hi"), <-a.queue)
	assert.Equal(t, []byte("hi"), <-b.queue)
	assert.Empty(t, c.drain())
	assert.Empty(t, d.drain())

	regB.Leave(g7, b)
	assert.False(t, brokerB.isSubscribed(g7.Topic()))
	assert.True(t, brokerB.isSubscribed(g8.Topic()))
	assert.Equal(t, 0, regB.Local().Size(g7))
}

func TestBrokeredPublishFailure(t *testing.T) {
	hub := &memHub{}
	broker := hub.newBroker()
	broker.fail = errors.New("connection reset")
	reg := NewBrokeredRegistry(NewLocalRegistry(zerolog.Nop()), broker, zerolog.Nop())

	err := reg.Publish(context.Background(), GroupKey{ServerID: "1", ChannelID: "7"}, []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestSlowSubscribeDoesNotBlockOtherGroups(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	broker := (&memHub{}).newBroker()
	reg := NewBrokeredRegistry(NewLocalRegistry(zerolog.Nop()), broker, zerolog.Nop())

	slow := GroupKey{ServerID: "1", ChannelID: "slow"}
	fast := GroupKey{ServerID: "2", ChannelID: "fast"}
	release := broker.hold(slow.Topic())

	slowDone := make(chan error, 1)
	go func() { slowDone <- reg.Join(ctx, slow, newFakeMember("s", 1)) }()
	select {
	case <-broker.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe for the slow group never started")
	}

	m := newFakeMember("f", 1)
	fastDone := make(chan error, 1)
	go func() { fastDone <- reg.Join(ctx, fast, m) }()
	select {
	case err := <-fastDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("join on another group waited for a pending subscribe")
	}

	leaveDone := make(chan struct{})
	go func() {
		reg.Leave(fast, m)
		close(leaveDone)
	}()
	select {
	case <-leaveDone:
	case <-time.After(time.Second):
		t.Fatal("leave on another group waited for a pending subscribe")
	}
	assert.False(t, broker.isSubscribed(fast.Topic()))

	close(release)
	require.NoError(t, <-slowDone)
	assert.True(t, broker.isSubscribed(slow.Topic()))
	assert.Equal(t, 1, reg.Local().Size(slow))
}

func TestBrokeredJoinFailureDropsSubscription(t *testing.T) {
	broker := (&memHub{}).newBroker()
	reg := NewBrokeredRegistry(NewLocalRegistry(zerolog.Nop()), broker, zerolog.Nop())
	key := GroupKey{ServerID: "1", ChannelID: "7"}
	m := newFakeMember("a", 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := reg.Join(ctx, key, m)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, broker.isSubscribed(key.Topic()))
	assert.Equal(t, 0, reg.Local().Size(key))

	require.NoError(t, reg.Join(context.Background(), key, m))
	assert.True(t, broker.isSubscribed(key.Topic()))
}
