package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homefleet/bmsble/pkg/bms"
)

type fakeBMS struct {
	mu          sync.Mutex
	updates     int
	disconnects int
	err         error
	nilValues   bool
	values      bms.Values
}

func (f *fakeBMS) Update(context.Context) (bms.Values, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.err != nil {
		return nil, f.err
	}
	if f.nilValues {
		return nil, nil
	}
	// Fresh map per poll, like a real driver.
	vals := make(bms.Values, len(f.values))
	for k, v := range f.values {
		vals[k] = v
	}
	return vals, nil
}

func (f *fakeBMS) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeBMS) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates, f.disconnects
}

func recvUpdate(t *testing.T, ch <-chan Update) Update {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for update")
		return Update{}
	}
}

func TestMonitorPublishesDerivedValues(t *testing.T) {
	dev := &fakeBMS{values: bms.Values{
		bms.KeyVoltage:   12.0,
		bms.KeyCurrent:   -2.0,
		bms.KeyCycleChrg: 10.0,
	}}
	m := New(dev, Config{Device: "test-derived", PollInterval: time.Hour})
	m.Start()
	defer m.Stop()

	u := recvUpdate(t, m.Updates())
	assert.Equal(t, "test-derived", u.Device)

	power, ok := u.Values.Float(bms.KeyPower)
	require.True(t, ok)
	assert.Equal(t, -24.0, power)
	charging, ok := u.Values.Bool(bms.KeyCharging)
	require.True(t, ok)
	assert.False(t, charging)
	assert.Equal(t, 18000, u.Values[bms.KeyRuntime])
	cycleCap, ok := u.Values.Float(bms.KeyCycleCap)
	require.True(t, ok)
	assert.Equal(t, 120.0, cycleCap)
}

func TestMonitorRespectsRequestedSet(t *testing.T) {
	dev := &fakeBMS{values: bms.Values{
		bms.KeyVoltage: 12.0,
		bms.KeyCurrent: 2.0,
	}}
	m := New(dev, Config{
		Device:       "test-requested",
		PollInterval: time.Hour,
		Requested:    bms.NewKeySet(bms.KeyPower),
	})
	m.Start()
	defer m.Stop()

	u := recvUpdate(t, m.Updates())
	assert.Contains(t, u.Values, bms.KeyPower)
	assert.NotContains(t, u.Values, bms.KeyCharging)
}

func TestMonitorReconnectDisconnectsAfterEachPoll(t *testing.T) {
	dev := &fakeBMS{values: bms.Values{bms.KeyVoltage: 12.0}}
	m := New(dev, Config{
		Device:       "test-reconnect",
		PollInterval: 20 * time.Millisecond,
		Reconnect:    true,
	})
	m.Start()

	recvUpdate(t, m.Updates())
	recvUpdate(t, m.Updates())
	m.Stop()

	updates, disconnects := dev.counts()
	assert.Equal(t, updates, disconnects)
	assert.GreaterOrEqual(t, updates, 2)
}

func TestMonitorKeepsLinkWithoutReconnect(t *testing.T) {
	dev := &fakeBMS{values: bms.Values{bms.KeyVoltage: 12.0}}
	m := New(dev, Config{Device: "test-keepalive", PollInterval: time.Hour})
	m.Start()

	recvUpdate(t, m.Updates())
	m.Stop()

	_, disconnects := dev.counts()
	assert.Zero(t, disconnects)
}

func TestMonitorPollErrorIsNotFatal(t *testing.T) {
	dev := &fakeBMS{err: errors.New("gatt timeout")}
	m := New(dev, Config{Device: "test-error", PollInterval: 10 * time.Millisecond})
	m.Start()

	// Let a few polls fail, then recover.
	time.Sleep(50 * time.Millisecond)
	dev.mu.Lock()
	dev.err = nil
	dev.values = bms.Values{bms.KeyVoltage: 13.1}
	dev.mu.Unlock()

	u := recvUpdate(t, m.Updates())
	volt, ok := u.Values.Float(bms.KeyVoltage)
	require.True(t, ok)
	assert.Equal(t, 13.1, volt)
	m.Stop()
}

func TestMonitorPublishesNonNilValues(t *testing.T) {
	// A driver returning (nil, nil) still yields a usable, non-nil map.
	dev := &fakeBMS{nilValues: true}
	m := New(dev, Config{Device: "test-nil", PollInterval: time.Hour})
	m.Start()
	defer m.Stop()

	u := recvUpdate(t, m.Updates())
	require.NotNil(t, u.Values)
	assert.Empty(t, u.Values)
}

func TestMonitorDisconnectSurvivesPollTimeout(t *testing.T) {
	dev := &stallingBMS{disconnected: make(chan struct{})}
	m := New(dev, Config{
		Device:       "test-stall",
		PollInterval: time.Hour,
		PollTimeout:  10 * time.Millisecond,
		Reconnect:    true,
	})
	m.Start()

	select {
	case <-dev.disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for disconnect")
	}
	m.Stop()

	assert.NoError(t, dev.disconnectErr())
}

// stallingBMS never answers a poll, so every Update dies by context.
type stallingBMS struct {
	mu           sync.Mutex
	err          error
	disconnected chan struct{}
	once         sync.Once
}

func (s *stallingBMS) Update(ctx context.Context) (bms.Values, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *stallingBMS) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	s.err = ctx.Err()
	s.mu.Unlock()
	s.once.Do(func() { close(s.disconnected) })
	return s.err
}

func (s *stallingBMS) disconnectErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func TestMonitorStopClosesUpdates(t *testing.T) {
	dev := &fakeBMS{values: bms.Values{bms.KeyVoltage: 12.0}}
	m := New(dev, Config{Device: "test-stop", PollInterval: time.Hour})
	m.Start()
	m.Stop()

	for range m.Updates() {
	}
	// Second Stop is a no-op.
	m.Stop()
}

func TestMonitorStartIsIdempotent(t *testing.T) {
	dev := &fakeBMS{values: bms.Values{bms.KeyVoltage: 12.0}}
	m := New(dev, Config{Device: "test-idem", PollInterval: time.Hour})
	m.Start()
	m.Start()
	recvUpdate(t, m.Updates())
	m.Stop()
}
