// Package manager supervises the fleet of access points: it dials each
// device, replays the bootstrap header into the device model, keeps the
// event stream flowing and reconnects with backoff when a link dies.
package manager

import (
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"

	"github.com/wlansys/orcactl/ap"
	"github.com/wlansys/orcactl/helpers"
	"github.com/wlansys/orcactl/log2"
	"github.com/wlansys/orcactl/orca"
	"github.com/wlansys/orcactl/rc"
)

// EventFunc observes parsed events after the device model absorbed them.
type EventFunc func(a *ap.AccessPoint, ev *orca.Event)

// RawFunc observes every line of the steady-state stream before parsing.
type RawFunc func(a *ap.AccessPoint, line string)

type observer struct {
	kind orca.Kind
	all  bool
	fn   EventFunc
	raw  RawFunc
}

type Manager struct {
	Log       *log2.Log
	Scheduler *rc.Scheduler

	config *Config
	alive  *alive.Alive

	mu        sync.Mutex
	aps       map[string]*ap.AccessPoint
	observers map[int]*observer
	obSeq     int
}

func New(config *Config, registry *rc.Registry, log *log2.Log) *Manager {
	m := &Manager{
		Log:       log,
		Scheduler: rc.NewScheduler(registry, log),
		config:    config,
		alive:     alive.NewAlive(),
		aps:       make(map[string]*ap.AccessPoint),
		observers: make(map[int]*observer),
	}
	for i := range config.APs {
		ac := &config.APs[i]
		m.aps[ac.Name] = ap.New(ac.Name, ac.AddrPort(), log)
	}
	return m
}

// AddAccessPoint registers a device outside the config file. Must be
// called before Start.
func (m *Manager) AddAccessPoint(name, addr string) (*ap.AccessPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.aps[name]; ok {
		return nil, errors.Errorf("access point %q already registered", name)
	}
	a := ap.New(name, addr, m.Log)
	m.aps[name] = a
	return a, nil
}

func (m *Manager) AccessPoint(name string) (*ap.AccessPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.aps[name]
	if !ok {
		return nil, errors.NotFoundf("access point %q", name)
	}
	return a, nil
}

func (m *Manager) AccessPoints() []*ap.AccessPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	aps := make([]*ap.AccessPoint, 0, len(m.aps))
	for _, a := range m.aps {
		aps = append(aps, a)
	}
	return aps
}

// Subscribe registers an observer for one event kind. Returns a token
// for Unsubscribe.
func (m *Manager) Subscribe(kind orca.Kind, fn EventFunc) int {
	return m.subscribe(&observer{kind: kind, fn: fn})
}

// SubscribeAll registers an observer for every parsed event.
func (m *Manager) SubscribeAll(fn EventFunc) int {
	return m.subscribe(&observer{all: true, fn: fn})
}

// SubscribeRaw registers an observer for raw stream lines.
func (m *Manager) SubscribeRaw(fn RawFunc) int {
	return m.subscribe(&observer{raw: fn})
}

func (m *Manager) subscribe(ob *observer) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.obSeq++
	m.observers[m.obSeq] = ob
	return m.obSeq
}

func (m *Manager) Unsubscribe(token int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.observers, token)
}

func (m *Manager) fanRaw(a *ap.AccessPoint, line string) {
	m.mu.Lock()
	obs := make([]*observer, 0, len(m.observers))
	for _, ob := range m.observers {
		if ob.raw != nil {
			obs = append(obs, ob)
		}
	}
	m.mu.Unlock()
	for _, ob := range obs {
		ob.raw(a, line)
	}
}

func (m *Manager) fanEvent(a *ap.AccessPoint, ev *orca.Event) {
	m.mu.Lock()
	obs := make([]*observer, 0, len(m.observers))
	for _, ob := range m.observers {
		if ob.fn != nil && (ob.all || ob.kind == ev.Kind) {
			obs = append(obs, ob)
		}
	}
	m.mu.Unlock()
	for _, ob := range obs {
		ob.fn(a, ev)
	}
}

// Start spawns one supervision loop per access point. Non-blocking;
// use Stop to wind down.
func (m *Manager) Start() {
	m.mu.Lock()
	aps := make([]*ap.AccessPoint, 0, len(m.aps))
	for _, a := range m.aps {
		aps = append(aps, a)
	}
	m.mu.Unlock()

	for _, a := range aps {
		m.alive.Add(1)
		go m.supervise(a)
	}
}

// Stop halts pluggable control loops, reverts their stations to the
// device's own control, disconnects and waits for the supervision loops.
func (m *Manager) Stop() {
	for _, a := range m.AccessPoints() {
		if a.State() != ap.StateStreaming {
			continue
		}
		for _, sta := range a.ActiveStations() {
			name, _ := sta.Controller()
			if name == "" || name == rc.KernelAlgorithm {
				continue
			}
			m.Scheduler.Stop(sta)
			if err := sta.SetAutoRCModeFreqs(sta.UpdateFreq(), sta.SampleFreq()); err != nil {
				m.Log.Errorf("%s: revert %s to auto rate control: %v", a, sta, err)
			}
			if err := sta.SetManualTPCMode(false); err != nil {
				m.Log.Errorf("%s: revert %s to auto power control: %v", a, sta, err)
			}
		}
	}
	m.alive.Stop()
	m.alive.Wait()
}

// StopChan is closed when a manager stop was requested.
func (m *Manager) StopChan() <-chan struct{} { return m.alive.StopChan() }

func (m *Manager) supervise(a *ap.AccessPoint) {
	defer m.alive.Done()
	backoff := &helpers.Backoff{
		Min: m.config.ReconnectMin(),
		Max: m.config.ReconnectMax(),
		K:   2,
	}
	for m.alive.IsRunning() {
		err := m.session(a)
		a.HandleDisconnect()
		if !m.alive.IsRunning() {
			return
		}
		if orca.IsUnsupportedVersion(err) {
			m.Log.Errorf("%s: %v; not retrying", a, err)
			return
		}
		m.Log.Errorf("%s: session ended: %v", a, err)
		delay := backoff.DelayAfter(false)
		m.Log.Debugf("%s: reconnect in %s", a, delay)
		select {
		case <-time.After(delay):
		case <-m.alive.StopChan():
			return
		}
	}
}

// session runs one connection lifetime: dial, bootstrap, stream. The
// returned error says why the connection died.
func (m *Manager) session(a *ap.AccessPoint) error {
	a.SetConnecting()
	conn, err := orca.Dial(a.Addr, orca.ConnOptions{
		Log:            m.Log,
		NetworkTimeout: m.config.NetworkTimeout(),
	})
	if err != nil {
		return errors.Annotatef(err, "dial %s", a.Addr)
	}
	defer conn.Close()
	a.AttachConn(conn)

	// manager stop tears the connection down so reads unblock
	go func() {
		select {
		case <-m.alive.StopChan():
			_ = conn.Close()
		case <-conn.Done():
		}
	}()

	first, err := m.bootstrap(a, conn)
	if err != nil {
		return errors.Annotate(err, "bootstrap")
	}
	a.SetStreaming()
	m.Log.Infof("%s: streaming radios=%v stations=%d", a, a.RadioNames(), len(a.ActiveStations()))

	m.applyDefaultControl(a)

	events := m.config.APEvents(m.apConfig(a.Name))
	if len(events) > 0 {
		if err := a.EnableEvents("*", events...); err != nil {
			return errors.Annotate(err, "enable events")
		}
	}

	return m.pump(a, conn, first)
}

func (m *Manager) apConfig(name string) *APConfig {
	for i := range m.config.APs {
		if m.config.APs[i].Name == name {
			return &m.config.APs[i]
		}
	}
	return &APConfig{Name: name}
}

// bootstrap consumes the header block and returns the first
// steady-state line, which the caller must feed to the parser.
func (m *Manager) bootstrap(a *ap.AccessPoint, conn *orca.Conn) (string, error) {
	deadline := time.Now().Add(m.config.HeaderTimeout())
	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			return "", errors.Errorf("header incomplete after %s", m.config.HeaderTimeout())
		}
		line, err := conn.ReadLine(remain)
		if err != nil {
			return "", errors.Trace(err)
		}
		if orca.ClassifyHeader(line) == orca.HeaderUnknown {
			return line, nil
		}
		if err := a.ApplyHeaderLine(line); err != nil {
			if orca.IsUnsupportedVersion(err) {
				return "", errors.Trace(err)
			}
			m.Log.Errorf("%s: header line %q: %v", a, line, err)
		}
	}
}

// applyDefaultControl binds the configured default algorithm to
// stations that have none.
func (m *Manager) applyDefaultControl(a *ap.AccessPoint) {
	for _, sta := range a.ActiveStations() {
		m.bindDefaultControl(a, sta)
	}
}

// bindDefaultControl puts one uncontrolled station under the configured
// default algorithm. Both the stream-entry sweep and mid-stream
// associations go through here, so a station joining a live AP is never
// left without a control loop.
func (m *Manager) bindDefaultControl(a *ap.AccessPoint, sta *ap.Station) {
	if cur, _ := sta.Controller(); cur != "" {
		return
	}
	name := m.config.DefaultAlgorithm()
	if err := m.Scheduler.Start(sta, name, m.config.DefaultControlOptions()); err != nil {
		m.Log.Errorf("%s: default control %q for %s: %v", a, name, sta, err)
	}
}

func (m *Manager) pump(a *ap.AccessPoint, conn *orca.Conn, first string) error {
	line := first
	for {
		if line != "" {
			m.fanRaw(a, line)
			if ev, ok := orca.Parse(line, a.Gate()); ok {
				a.HandleEvent(ev)
				if ev.Kind == orca.KindSta && ev.Sta.Action != orca.StaRemove {
					if sta := a.Station(ev.Sta.MAC); sta != nil && sta.Associated() {
						m.bindDefaultControl(a, sta)
					}
				}
				m.fanEvent(a, ev)
			} else {
				m.Log.Debugf("%s: dropped line %q", a, line)
			}
		}

		var err error
		line, err = conn.ReadLine(m.config.NetworkTimeout())
		if err == orca.ErrTimeout {
			// a quiet link is healthy; session death comes from the
			// transport, the conn-closing watcher handles manager stop
			line = ""
			continue
		}
		if err != nil {
			return errors.Trace(err)
		}
	}
}
