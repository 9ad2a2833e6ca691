package chat_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-finstats-client/auth"
	fakeauthbackend "github.com/jrsteele09/go-finstats-client/auth/backendfake"
	"github.com/jrsteele09/go-finstats-client/chat"
	fakechat "github.com/jrsteele09/go-finstats-client/chat/chatfakes"
	apperrors "github.com/jrsteele09/go-finstats-client/internal/errors"
	fakesessionrepo "github.com/jrsteele09/go-finstats-client/sessions/repofakes"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	emailA  = "a@x.com"
	emailB  = "b@x.com"
	userA   = "id-" + emailA
	userB   = "id-" + emailB
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// testFixture holds all test dependencies
type testFixture struct {
	backend   *fakeauthbackend.FakeBackend
	store     *auth.SessionStore
	transport *fakechat.FakeTransport
	sender    *fakechat.FakeSender
	registry  *prometheus.Registry
	channel   *chat.Channel
}

func setupTestFixture(t *testing.T, options ...chat.Option) *testFixture {
	t.Helper()

	backend := fakeauthbackend.NewFakeBackend()
	store, err := auth.NewSessionStore(backend, fakesessionrepo.NewFakeSessionRepo(), auth.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	f := &testFixture{
		backend:   backend,
		store:     store,
		transport: fakechat.NewFakeTransport(),
		sender:    fakechat.NewFakeSender(),
		registry:  prometheus.NewRegistry(),
	}

	var ids atomic.Int64
	options = append([]chat.Option{
		chat.WithLogger(zerolog.Nop()),
		chat.WithIdleWindow(100 * time.Millisecond),
		chat.WithBackoff([]time.Duration{0, 10 * time.Millisecond}),
		chat.WithRetryInterval(50 * time.Millisecond),
		chat.WithMetrics(chat.NewMetrics(f.registry)),
		chat.WithIDGenerator(func() string { return fmt.Sprintf("m%d", ids.Add(1)) }),
	}, options...)
	f.channel = chat.NewChannel(store, f.transport, f.sender, options...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.channel.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return f
}

func (f *testFixture) login(t *testing.T, email string) {
	t.Helper()
	_, err := f.store.Login(context.Background(), email, "secret1")
	require.NoError(t, err)
}

func (f *testFixture) await(t *testing.T, desc string, cond func(chat.Snapshot) bool) chat.Snapshot {
	t.Helper()
	require.Eventually(t, func() bool { return cond(f.channel.Snapshot()) }, waitFor, tick, desc)
	return f.channel.Snapshot()
}

// connected waits until the channel is connected over the newest transport connection.
func (f *testFixture) connected(t *testing.T) *fakechat.FakeConn {
	t.Helper()
	f.await(t, "connected", func(s chat.Snapshot) bool {
		last := f.transport.Last()
		return s.State == chat.Connected && last != nil && s.ConnectionID == last.ConnectionID()
	})
	return f.transport.Last()
}

func (f *testFixture) counter(t *testing.T, name string) float64 {
	t.Helper()
	families, err := f.registry.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func assistantMessages(s chat.Snapshot) []chat.Message {
	var out []chat.Message
	for _, m := range s.Messages {
		if m.Origin == chat.OriginAssistant {
			out = append(out, m)
		}
	}
	return out
}

func TestChannel_ConnectsWithSessionToken(t *testing.T) {
	f := setupTestFixture(t)

	snap := f.channel.Snapshot()
	require.Equal(t, chat.Disconnected, snap.State)
	require.Empty(t, snap.Messages)

	f.login(t, emailA)
	conn := f.connected(t)

	require.Equal(t, "access-"+emailA, conn.Token())
	require.Equal(t, userA, f.channel.Snapshot().ActiveUserID)
	require.Equal(t, float64(1), f.counter(t, "finstats_chat_connects_total"))
}

func TestChannel_Send(t *testing.T) {
	t.Run("no session", func(t *testing.T) {
		f := setupTestFixture(t)
		err := f.channel.Send(context.Background(), "hello")
		require.ErrorIs(t, err, apperrors.ErrNoSession)
	})

	t.Run("not connected", func(t *testing.T) {
		f := setupTestFixture(t, chat.WithRetryInterval(time.Hour))
		f.transport.FailNext(100, nil)
		f.login(t, emailA)
		f.await(t, "gave up", func(s chat.Snapshot) bool { return s.State != chat.Connected && len(f.transport.Tokens()) == 3 })

		err := f.channel.Send(context.Background(), "hello")
		require.ErrorIs(t, err, apperrors.ErrNotConnected)
	})

	t.Run("empty prompt", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t, emailA)
		f.connected(t)
		require.ErrorIs(t, f.channel.Send(context.Background(), "   "), apperrors.ErrEmptyPrompt)
	})

	t.Run("appends optimistically and marks a reply pending", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t, emailA)
		conn := f.connected(t)

		require.NoError(t, f.channel.Send(context.Background(), "What did I spend?"))

		snap := f.channel.Snapshot()
		require.True(t, snap.Streaming)
		require.Len(t, snap.Messages, 1)
		require.Equal(t, chat.OriginUser, snap.Messages[0].Origin)
		require.Equal(t, "What did I spend?", snap.Messages[0].Content)
		require.Equal(t, userA, snap.Messages[0].OwnerUserID)

		require.Eventually(t, func() bool { return len(f.sender.Calls()) == 1 }, waitFor, tick)
		call := f.sender.Calls()[0]
		require.Equal(t, "access-"+emailA, call.Token)
		require.Equal(t, conn.ConnectionID(), call.ConnectionID)
		require.Equal(t, "What did I spend?", call.Prompt)
	})

	t.Run("reject policy refuses a second prompt while pending", func(t *testing.T) {
		f := setupTestFixture(t, chat.WithIdleWindow(10*time.Second))
		f.login(t, emailA)
		conn := f.connected(t)
		ctx := context.Background()

		require.NoError(t, f.channel.Send(ctx, "one"))
		require.ErrorIs(t, f.channel.Send(ctx, "two"), apperrors.ErrReplyPending)

		conn.Fragment("reply")
		conn.Complete()
		f.await(t, "finalised", func(s chat.Snapshot) bool { return !s.Streaming && len(s.Messages) == 2 })

		require.NoError(t, f.channel.Send(ctx, "three"))
		require.Eventually(t, func() bool { return len(f.sender.Calls()) == 2 }, waitFor, tick)
		require.Equal(t, "three", f.sender.Calls()[1].Prompt)
	})

	t.Run("queue policy sends after the reply is finalised", func(t *testing.T) {
		f := setupTestFixture(t, chat.WithIdleWindow(10*time.Second), chat.WithSendPolicy(chat.SendPolicyQueue))
		f.login(t, emailA)
		conn := f.connected(t)
		ctx := context.Background()

		require.NoError(t, f.channel.Send(ctx, "one"))
		require.NoError(t, f.channel.Send(ctx, "two"))
		require.Len(t, f.channel.Messages(), 1, "queued prompt is not shown before it is sent")

		conn.Fragment("first reply")
		conn.Complete()

		require.Eventually(t, func() bool { return len(f.sender.Calls()) == 2 }, waitFor, tick)
		require.Equal(t, "two", f.sender.Calls()[1].Prompt)

		snap := f.await(t, "second prompt shown", func(s chat.Snapshot) bool { return len(s.Messages) == 3 })
		require.Equal(t, []string{"one", "first reply", "two"}, contents(snap.Messages))
		require.True(t, snap.Streaming)
	})

	t.Run("delivery failure becomes an assistant message", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t, emailA)
		f.connected(t)
		f.sender.Fail(apperrors.Transport(errors.New("connection refused")))

		require.NoError(t, f.channel.Send(context.Background(), "hello"))

		snap := f.await(t, "synthetic reply", func(s chat.Snapshot) bool { return !s.Streaming && len(s.Messages) == 2 })
		reply := snap.Messages[1]
		require.Equal(t, chat.OriginAssistant, reply.Origin)
		require.Equal(t, userA, reply.OwnerUserID)
		require.Contains(t, reply.Content, "hello")
		require.Equal(t, float64(2), f.counter(t, "finstats_chat_sends_total"), "dispatched and failed are both counted")
	})
}

func contents(messages []chat.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.Content)
	}
	return out
}

func TestChannel_Streaming(t *testing.T) {
	t.Run("fragments grow one message in place", func(t *testing.T) {
		f := setupTestFixture(t, chat.WithIdleWindow(10*time.Second))
		f.login(t, emailA)
		conn := f.connected(t)

		conn.Fragment("Hel")
		first := f.await(t, "first fragment", func(s chat.Snapshot) bool { return len(s.Messages) == 1 })
		require.Equal(t, "Hel", first.Messages[0].Content)
		require.True(t, first.Streaming)

		conn.Fragment("lo")
		second := f.await(t, "second fragment", func(s chat.Snapshot) bool {
			return len(s.Messages) == 1 && s.Messages[0].Content == "Hello"
		})
		require.Equal(t, first.Messages[0].ID, second.Messages[0].ID)
		require.Equal(t, "Hel", first.Messages[0].Content, "published snapshots are never modified")
	})

	t.Run("idle window finalises the concatenation", func(t *testing.T) {
		f := setupTestFixture(t, chat.WithIdleWindow(30*time.Millisecond))
		f.login(t, emailA)
		conn := f.connected(t)
		rng := rand.New(rand.NewSource(7))

		for round := 1; round <= 5; round++ {
			n := 1 + rng.Intn(8)
			var want strings.Builder
			for i := 0; i < n; i++ {
				frag := fmt.Sprintf("<%d.%d>", round, i)
				want.WriteString(frag)
				conn.Fragment(frag)
			}

			snap := f.await(t, "finalised", func(s chat.Snapshot) bool {
				return !s.Streaming && len(assistantMessages(s)) == round
			})
			replies := assistantMessages(snap)
			require.Equal(t, want.String(), replies[round-1].Content)
		}
		require.Equal(t, float64(5), f.counter(t, "finstats_chat_replies_finalised_total"))
	})

	t.Run("explicit completion finalises immediately and only once", func(t *testing.T) {
		f := setupTestFixture(t, chat.WithIdleWindow(10*time.Second))
		f.login(t, emailA)
		conn := f.connected(t)

		conn.Fragment("x")
		conn.Fragment("y")
		conn.Complete()
		f.await(t, "complete", func(s chat.Snapshot) bool { return !s.Streaming && len(s.Messages) == 1 })

		conn.Complete()
		conn.Fragment("z")
		snap := f.await(t, "new reply", func(s chat.Snapshot) bool { return len(s.Messages) == 2 })
		require.Equal(t, []string{"xy", "z"}, contents(snap.Messages))
	})

	t.Run("completion after the idle window is a no-op", func(t *testing.T) {
		f := setupTestFixture(t, chat.WithIdleWindow(20*time.Millisecond))
		f.login(t, emailA)
		conn := f.connected(t)

		conn.Fragment("late")
		f.await(t, "idle finalised", func(s chat.Snapshot) bool { return len(s.Messages) == 1 && !s.Streaming })

		conn.Complete()
		conn.Fragment("next")
		snap := f.await(t, "next reply", func(s chat.Snapshot) bool { return len(s.Messages) == 2 })
		require.Equal(t, []string{"late", "next"}, contents(snap.Messages))
	})

	t.Run("late completion does not end the next prompt's wait", func(t *testing.T) {
		f := setupTestFixture(t, chat.WithIdleWindow(20*time.Millisecond))
		f.login(t, emailA)
		conn := f.connected(t)
		ctx := context.Background()

		require.NoError(t, f.channel.Send(ctx, "one"))
		conn.Fragment("first")
		f.await(t, "idle finalised", func(s chat.Snapshot) bool { return len(s.Messages) == 2 && !s.Streaming })

		require.NoError(t, f.channel.Send(ctx, "two"))
		conn.Complete()
		require.Never(t, func() bool { return !f.channel.Snapshot().Streaming }, 100*time.Millisecond, tick)
		require.ErrorIs(t, f.channel.Send(ctx, "three"), apperrors.ErrReplyPending)

		conn.Fragment("second")
		conn.Complete()
		snap := f.await(t, "second reply", func(s chat.Snapshot) bool { return len(s.Messages) == 4 && !s.Streaming })
		require.Equal(t, []string{"one", "first", "two", "second"}, contents(snap.Messages))
		require.Equal(t, float64(2), f.counter(t, "finstats_chat_replies_finalised_total"))
	})
}

func TestChannel_SessionChanges(t *testing.T) {
	ctx := context.Background()

	t.Run("switching user reconnects with the new token and hides old messages", func(t *testing.T) {
		f := setupTestFixture(t, chat.WithIdleWindow(10*time.Second))
		f.login(t, emailA)
		connA := f.connected(t)

		require.NoError(t, f.channel.Send(ctx, "from a"))
		connA.Fragment("reply for a")
		connA.Complete()
		f.await(t, "a conversation", func(s chat.Snapshot) bool { return len(s.Messages) == 2 && !s.Streaming })

		f.login(t, emailB)
		snap := f.await(t, "connected as b", func(s chat.Snapshot) bool {
			return s.ActiveUserID == userB && s.State == chat.Connected && s.ConnectionID == "conn-2"
		})
		require.True(t, connA.Closed())
		require.Equal(t, "access-"+emailB, f.transport.Last().Token())
		for _, m := range snap.Messages {
			require.Equal(t, userB, m.OwnerUserID)
		}
		require.Empty(t, snap.Messages)

		f.login(t, emailA)
		snap = f.await(t, "back as a", func(s chat.Snapshot) bool { return s.ActiveUserID == userA && len(s.Messages) == 2 })
		require.Equal(t, []string{"from a", "reply for a"}, contents(snap.Messages))
	})

	t.Run("a switch in the middle of a reply drops the assembly", func(t *testing.T) {
		f := setupTestFixture(t, chat.WithIdleWindow(10*time.Second))
		f.login(t, emailA)
		connA := f.connected(t)
		connA.Fragment("partial")
		f.await(t, "streaming", func(s chat.Snapshot) bool { return s.Streaming })

		f.login(t, emailB)
		snap := f.await(t, "connected as b", func(s chat.Snapshot) bool { return s.ActiveUserID == userB && s.State == chat.Connected })
		require.False(t, snap.Streaming)

		f.transport.Last().Fragment("fresh")
		snap = f.await(t, "new reply for b", func(s chat.Snapshot) bool { return len(s.Messages) == 1 })
		require.Equal(t, userB, snap.Messages[0].OwnerUserID)
		require.Equal(t, "fresh", snap.Messages[0].Content)
	})

	t.Run("token refresh reconnects and keeps history", func(t *testing.T) {
		f := setupTestFixture(t, chat.WithIdleWindow(10*time.Second))
		f.login(t, emailA)
		conn := f.connected(t)
		conn.Fragment("kept")
		conn.Complete()
		f.await(t, "reply", func(s chat.Snapshot) bool { return len(s.Messages) == 1 && !s.Streaming })

		_, err := f.store.Refresh(ctx)
		require.NoError(t, err)

		snap := f.await(t, "reconnected", func(s chat.Snapshot) bool { return s.State == chat.Connected && s.ConnectionID == "conn-2" })
		require.Equal(t, "access-"+emailA+"'", f.transport.Last().Token())
		require.Equal(t, []string{"kept"}, contents(snap.Messages))
	})

	t.Run("logout disconnects", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t, emailA)
		conn := f.connected(t)

		require.NoError(t, f.store.Logout(ctx, emailA))
		snap := f.await(t, "disconnected", func(s chat.Snapshot) bool { return s.State == chat.Disconnected && s.ActiveUserID == "" })
		require.Empty(t, snap.ConnectionID)
		require.Empty(t, snap.Messages)
		require.True(t, conn.Closed())
	})

	t.Run("rejected refresh logs out and disconnects", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t, emailA)
		f.connected(t)
		f.backend.RefreshFunc = func(context.Context, string, string) (*auth.TokenPair, error) {
			return nil, apperrors.NewStatusError(401, nil)
		}

		_, err := f.store.Refresh(ctx)
		require.ErrorIs(t, err, apperrors.ErrAuthentication)
		require.False(t, f.store.IsAuthenticated())
		f.await(t, "disconnected", func(s chat.Snapshot) bool { return s.State == chat.Disconnected && s.ActiveUserID == "" })
	})
}

func TestChannel_Reconnect(t *testing.T) {
	t.Run("unexpected drop reconnects and keeps history", func(t *testing.T) {
		f := setupTestFixture(t, chat.WithIdleWindow(10*time.Second))
		f.login(t, emailA)
		conn := f.connected(t)
		conn.Fragment("before")
		conn.Complete()
		f.await(t, "reply", func(s chat.Snapshot) bool { return len(s.Messages) == 1 && !s.Streaming })

		conn.Drop(errors.New("connection reset"))
		snap := f.await(t, "reconnected", func(s chat.Snapshot) bool { return s.State == chat.Connected && s.ConnectionID == "conn-2" })
		require.Equal(t, []string{"before"}, contents(snap.Messages))
		require.Equal(t, float64(1), f.counter(t, "finstats_chat_reconnect_attempts_total"))
	})

	t.Run("fragments received before the drop are kept", func(t *testing.T) {
		f := setupTestFixture(t, chat.WithIdleWindow(10*time.Second))
		f.login(t, emailA)
		conn := f.connected(t)

		conn.Fragment("par")
		conn.Fragment("tial")
		conn.Drop(errors.New("gone"))

		snap := f.await(t, "reconnected", func(s chat.Snapshot) bool { return s.State == chat.Connected && s.ConnectionID == "conn-2" })
		require.Equal(t, []string{"partial"}, contents(snap.Messages))
		require.False(t, snap.Streaming)
	})

	t.Run("exhausted retries wait for the liveness check", func(t *testing.T) {
		f := setupTestFixture(t)
		f.transport.FailNext(3, nil)
		f.login(t, emailA)

		f.connected(t)
		require.Len(t, f.transport.Tokens(), 4, "initial attempt, two backoff steps, then one liveness retry")
	})

	t.Run("explicit disconnect waits for the next session event", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t, emailA)
		conn := f.connected(t)

		require.NoError(t, f.channel.Disconnect(context.Background()))
		require.Equal(t, chat.Disconnected, f.channel.Snapshot().State)
		require.True(t, conn.Closed())

		time.Sleep(150 * time.Millisecond)
		require.Equal(t, chat.Disconnected, f.channel.Snapshot().State)
		require.Len(t, f.transport.Tokens(), 1)

		_, err := f.store.Refresh(context.Background())
		require.NoError(t, err)
		f.connected(t)
	})
}

func TestChannel_ClearMessages(t *testing.T) {
	f := setupTestFixture(t, chat.WithIdleWindow(10*time.Second))
	f.login(t, emailA)
	conn := f.connected(t)
	conn.Fragment("to forget")
	conn.Complete()
	f.await(t, "reply", func(s chat.Snapshot) bool { return len(s.Messages) == 1 })

	require.NoError(t, f.channel.ClearMessages(context.Background()))
	require.Empty(t, f.channel.Messages())
}

func TestChannel_Subscribe(t *testing.T) {
	f := setupTestFixture(t)
	snapshots, unsubscribe := f.channel.Subscribe()
	defer unsubscribe()

	first := <-snapshots
	require.Equal(t, chat.Disconnected, first.State)

	f.login(t, emailA)
	deadline := time.After(waitFor)
	for {
		select {
		case s := <-snapshots:
			if s.State == chat.Connected {
				require.Equal(t, userA, s.ActiveUserID)
				return
			}
		case <-deadline:
			t.Fatal("never observed a connected snapshot")
		}
	}
}

func TestChannel_RunRequiresDependencies(t *testing.T) {
	err := chat.NewChannel(nil, nil, nil).Run(context.Background())
	require.Error(t, err)
}

func TestParseSendPolicy(t *testing.T) {
	p, err := chat.ParseSendPolicy("Queue")
	require.NoError(t, err)
	require.Equal(t, chat.SendPolicyQueue, p)

	p, err = chat.ParseSendPolicy("")
	require.NoError(t, err)
	require.Equal(t, chat.SendPolicyReject, p)

	_, err = chat.ParseSendPolicy("drop")
	require.Error(t, err)
}
