package health

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accelara/treesync/internal/events"
	"github.com/accelara/treesync/internal/logging"
)

// listen returns the address of a listener accepting connections until the
// test ends.
func listen(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()
	return l.Addr().String()
}

// closedAddr returns an address nothing listens on.
func closedAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestParseTarget(t *testing.T) {
	tg, err := ParseTarget("auth=127.0.0.1:3724")
	require.NoError(t, err)
	assert.Equal(t, Target{Name: "auth", Addr: "127.0.0.1:3724"}, tg)

	tg, err = ParseTarget("example.org:8085")
	require.NoError(t, err)
	assert.Equal(t, Target{Name: "example.org:8085", Addr: "example.org:8085"}, tg)

	_, err = ParseTarget("world=example.org")
	require.Error(t, err)
	_, err = ParseTarget("=example.org:1")
	require.Error(t, err)
}

func TestCheckSummaries(t *testing.T) {
	up := listen(t)
	down := closedAddr(t)

	cases := []struct {
		name    string
		targets []Target
		online  bool
		summary string
	}{
		{"both", []Target{{"auth", up}, {"world", up}}, true, SummaryOnline},
		{"auth only", []Target{{"auth", up}, {"world", down}}, true, "auth"},
		{"world only", []Target{{"auth", down}, {"world", up}}, true, "world"},
		{"offline", []Target{{"auth", down}, {"world", down}}, false, SummaryOffline},
		{"no targets", nil, false, SummaryOffline},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewChecker(tc.targets, time.Second, nil, logging.Discard())
			rep := c.Check(context.Background())
			assert.Equal(t, tc.online, rep.Online)
			assert.Equal(t, tc.summary, rep.Summary)
			assert.Len(t, rep.Results, len(tc.targets))
		})
	}
}

func TestCheckPublishesStatus(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(events.ServiceStatus, 4)
	defer sub.Unsubscribe()

	c := NewChecker([]Target{{"auth", listen(t)}, {"world", closedAddr(t)}}, time.Second, bus, logging.Discard())
	rep := c.Check(context.Background())
	require.True(t, rep.Online)
	assert.Error(t, rep.Results[1].Err)

	ev := <-sub.C()
	require.Equal(t, events.ServiceStatus, ev.Type)
	d := ev.Data.(events.ServiceStatusData)
	assert.True(t, d.Online)
	assert.Equal(t, "auth", d.Summary)
	assert.Equal(t, []string{"auth"}, d.Up)
	assert.Equal(t, []string{"world"}, d.Down)
}

func TestCheckTimeout(t *testing.T) {
	c := NewChecker([]Target{{"slow", "10.0.0.1:1"}}, 50*time.Millisecond, nil, logging.Discard())
	c.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	start := time.Now()
	rep := c.Check(context.Background())
	assert.False(t, rep.Online)
	assert.ErrorContains(t, rep.Results[0].Err, "no answer within")
	assert.Less(t, time.Since(start), time.Second)
}

func TestWatchUntilCancelled(t *testing.T) {
	c := NewChecker([]Target{{"auth", listen(t)}}, time.Second, nil, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	var reports []Report
	err := c.Watch(ctx, 10*time.Millisecond, func(r Report) {
		reports = append(reports, r)
		if len(reports) == 3 {
			cancel()
		}
	})
	require.NoError(t, err)
	require.Len(t, reports, 3)
	for _, r := range reports {
		assert.Equal(t, SummaryOnline, r.Summary)
	}
}
