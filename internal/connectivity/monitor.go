// Package connectivity tracks whether the remote room is reachable and
// notifies subscribers when that changes.
package connectivity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/plaudern/plaudern/internal/alert"
)

// State is the device's connectivity as seen by the sync engine.
type State int

const (
	// Offline is also reported when connectivity cannot be determined.
	Offline State = iota
	Online
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case Offline:
		return "offline"
	case Online:
		return "online"
	default:
		return "unknown"
	}
}

// Event describes one genuine transition.
type Event struct {
	From State
	To   State
	At   time.Time
	Err  error // probe error that caused a transition to Offline, if any
}

// Default monitor settings.
const (
	DefaultSchedule = "@every 5s"
	DefaultTimeout  = 3 * time.Second
)

// scheduleParser accepts standard 5-field expressions and @every descriptors.
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// MonitorOpts holds parameters for creating a Monitor.
type MonitorOpts struct {
	Prober   Prober        // required for Check and Run
	Schedule string        // probe schedule; defaults to DefaultSchedule
	Timeout  time.Duration // per-probe timeout; defaults to DefaultTimeout
	Alerter  alert.Alerter // notified on every transition into Offline
	Logger   zerolog.Logger
	Clock    func() time.Time
}

// Monitor holds the current State and fans transitions out to subscribers.
// Repeated reports of the same state are not forwarded.
type Monitor struct {
	prober   Prober
	schedule cron.Schedule
	timeout  time.Duration
	alerter  alert.Alerter
	log      zerolog.Logger
	now      func() time.Time

	// transition serializes state changes so subscribers see them in order.
	transition sync.Mutex

	mu     sync.Mutex
	state  State
	known  bool
	subs   map[int]func(Event)
	nextID int
}

// NewMonitor creates a Monitor in the Offline state.
func NewMonitor(opts MonitorOpts) (*Monitor, error) {
	expr := opts.Schedule
	if expr == "" {
		expr = DefaultSchedule
	}
	sched, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("connectivity: schedule %q: %w", expr, err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Monitor{
		prober:   opts.Prober,
		schedule: sched,
		timeout:  timeout,
		alerter:  opts.Alerter,
		log:      opts.Logger.With().Str("component", "connectivity").Logger(),
		now:      clock,
		subs:     make(map[int]func(Event)),
	}, nil
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn for transitions. fn runs on the reporting
// goroutine. The returned function removes the subscription.
func (m *Monitor) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Set reports an externally determined state. It returns true if the state
// changed.
func (m *Monitor) Set(s State) bool {
	return m.apply(s, nil)
}

// Report records a probe outcome: nil means reachable, any error means the
// state could not be confirmed and is treated as Offline.
func (m *Monitor) Report(probeErr error) bool {
	if probeErr != nil {
		return m.apply(Offline, probeErr)
	}
	return m.apply(Online, nil)
}

func (m *Monitor) apply(to State, cause error) bool {
	m.transition.Lock()
	defer m.transition.Unlock()

	m.mu.Lock()
	from, wasKnown := m.state, m.known
	m.state, m.known = to, true
	subs := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	ev := Event{From: from, To: to, At: m.now(), Err: cause}

	if from == to {
		// The first determination of Offline still deserves an alert.
		if !wasKnown && to == Offline {
			m.raise(ev)
		}
		return false
	}

	m.log.Info().Stringer("from", from).Stringer("to", to).AnErr("cause", cause).Msg("connectivity changed")
	for _, fn := range subs {
		fn(ev)
	}
	if to == Offline {
		m.raise(ev)
	}
	return true
}

// raise sends the offline alert without holding up subscribers.
func (m *Monitor) raise(ev Event) {
	if m.alerter == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		if err := m.alerter.Alert(ctx, alert.Alert{Text: alert.ConnectionLost, At: ev.At}); err != nil {
			m.log.Warn().Err(err).Msg("offline alert failed")
		}
	}()
}

// Check probes once and records the outcome.
func (m *Monitor) Check(ctx context.Context) State {
	if m.prober == nil {
		m.Report(fmt.Errorf("connectivity: no prober configured"))
		return m.State()
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	err := m.prober.Probe(ctx)
	if err != nil {
		m.log.Debug().Err(err).Msg("probe failed")
	}
	m.Report(err)
	return m.State()
}

// Run probes immediately, then on the configured schedule until ctx is
// cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	if m.prober == nil {
		return fmt.Errorf("connectivity: run: prober is required")
	}
	m.Check(ctx)

	c := cron.New(cron.WithParser(scheduleParser))
	c.Schedule(m.schedule, cron.FuncJob(func() { m.Check(ctx) }))
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
