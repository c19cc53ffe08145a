package connectivity

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/plaudern/plaudern/internal/alert"
)

type recordingAlerter struct {
	ch chan alert.Alert
}

func newRecordingAlerter() *recordingAlerter {
	return &recordingAlerter{ch: make(chan alert.Alert, 16)}
}

func (r *recordingAlerter) Alert(_ context.Context, a alert.Alert) error {
	r.ch <- a
	return nil
}

func (r *recordingAlerter) wait(t *testing.T) alert.Alert {
	t.Helper()
	select {
	case a := <-r.ch:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for alert")
		return alert.Alert{}
	}
}

func (r *recordingAlerter) none(t *testing.T) {
	t.Helper()
	select {
	case a := <-r.ch:
		t.Fatalf("unexpected alert %q", a.Text)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestMonitor(t *testing.T, opts MonitorOpts) *Monitor {
	t.Helper()
	m, err := NewMonitor(opts)
	require.NoError(t, err)
	return m
}

func TestState_String(t *testing.T) {
	require.Equal(t, "offline", Offline.String())
	require.Equal(t, "online", Online.String())
	require.Equal(t, "unknown", State(9).String())
}

func TestNewMonitor_StartsOffline(t *testing.T) {
	m := newTestMonitor(t, MonitorOpts{})
	require.Equal(t, Offline, m.State())
}

func TestNewMonitor_BadSchedule(t *testing.T) {
	_, err := NewMonitor(MonitorOpts{Schedule: "every now and then"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "schedule")
}

func TestMonitor_OnlyGenuineTransitionsNotify(t *testing.T) {
	m := newTestMonitor(t, MonitorOpts{})
	var got []Event
	m.Subscribe(func(ev Event) { got = append(got, ev) })

	require.True(t, m.Set(Online))
	require.False(t, m.Set(Online))
	require.True(t, m.Set(Offline))
	require.False(t, m.Set(Offline))
	require.True(t, m.Set(Online))

	require.Len(t, got, 3)
	require.Equal(t, Online, got[0].To)
	require.Equal(t, Offline, got[1].To)
	require.Equal(t, Online, got[1].From)
	require.Equal(t, Online, got[2].To)
}

func TestMonitor_ProbeErrorCountsAsOffline(t *testing.T) {
	m := newTestMonitor(t, MonitorOpts{})
	m.Set(Online)

	var got []Event
	m.Subscribe(func(ev Event) { got = append(got, ev) })

	cause := errors.New("unreachable")
	require.True(t, m.Report(cause))
	require.Equal(t, Offline, m.State())
	require.Len(t, got, 1)
	require.ErrorIs(t, got[0].Err, cause)
}

func TestMonitor_Unsubscribe(t *testing.T) {
	m := newTestMonitor(t, MonitorOpts{})
	calls := 0
	unsubscribe := m.Subscribe(func(Event) { calls++ })
	m.Set(Online)
	unsubscribe()
	m.Set(Offline)
	require.Equal(t, 1, calls)
}

func TestMonitor_AlertsOnGoingOffline(t *testing.T) {
	rec := newRecordingAlerter()
	m := newTestMonitor(t, MonitorOpts{Alerter: rec})

	m.Set(Online)
	rec.none(t)

	m.Set(Offline)
	a := rec.wait(t)
	require.Equal(t, alert.ConnectionLost, a.Text)

	m.Set(Offline)
	rec.none(t)
}

func TestMonitor_AlertsWhenFirstFoundOffline(t *testing.T) {
	rec := newRecordingAlerter()
	m := newTestMonitor(t, MonitorOpts{Alerter: rec})

	require.False(t, m.Report(errors.New("no route")))
	require.Equal(t, alert.ConnectionLost, rec.wait(t).Text)

	// Only the first determination alerts without a transition.
	m.Report(errors.New("no route"))
	rec.none(t)
}

func TestMonitor_Check(t *testing.T) {
	var mu sync.Mutex
	var probeErr error
	m := newTestMonitor(t, MonitorOpts{
		Prober: ProbeFunc(func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			return probeErr
		}),
	})

	require.Equal(t, Online, m.Check(context.Background()))

	mu.Lock()
	probeErr = errors.New("down")
	mu.Unlock()
	require.Equal(t, Offline, m.Check(context.Background()))
}

func TestMonitor_CheckWithoutProberIsOffline(t *testing.T) {
	m := newTestMonitor(t, MonitorOpts{})
	m.Set(Online)
	require.Equal(t, Offline, m.Check(context.Background()))
}

func TestMonitor_CheckAppliesTimeout(t *testing.T) {
	m := newTestMonitor(t, MonitorOpts{
		Timeout: 20 * time.Millisecond,
		Prober: ProbeFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}),
	})
	m.Set(Online)
	require.Equal(t, Offline, m.Check(context.Background()))
}

func TestMonitor_RunProbesUntilCancelled(t *testing.T) {
	probed := make(chan struct{}, 8)
	m := newTestMonitor(t, MonitorOpts{
		Schedule: "@every 1s",
		Prober: ProbeFunc(func(ctx context.Context) error {
			select {
			case probed <- struct{}{}:
			default:
			}
			return nil
		}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case <-probed:
	case <-time.After(2 * time.Second):
		t.Fatal("no initial probe")
	}
	require.Eventually(t, func() bool { return m.State() == Online }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMonitor_RunRequiresProber(t *testing.T) {
	m := newTestMonitor(t, MonitorOpts{})
	require.Error(t, m.Run(context.Background()))
}

func TestTCPProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	addr := ln.Addr().String()
	require.NoError(t, TCPProber{Address: addr}.Probe(context.Background()))

	ln.Close()
	require.Error(t, TCPProber{Address: addr}.Probe(context.Background()))
	require.Error(t, TCPProber{}.Probe(context.Background()))
}
