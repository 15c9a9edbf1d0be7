package worker

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"gorm.io/gorm"

	"github.com/pccr10001/modemd/internal/config"
	"github.com/pccr10001/modemd/internal/logic"
	"github.com/pccr10001/modemd/internal/model"
	"github.com/pccr10001/modemd/internal/repository"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []logic.Event
}

func (r *recordingNotifier) Dispatch(ev logic.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingNotifier) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.Event)
	}
	return out
}

func openDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "modemd.db")), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&model.Attachment{}, &model.Position{}))
	return db
}

func serialCfg() config.SerialConfig {
	return config.SerialConfig{BaudRate: 115200, ProbeTimeout: "200ms", PollInterval: "1h"}
}

func TestManagerLifecycle(t *testing.T) {
	db := openDB(t)
	f := newFakeModem(telitScript())
	opened := 0
	n := &recordingNotifier{}
	m := NewManager(db, n, serialCfg(), config.GPSConfig{}, WithOpener(f.opener(&opened)), WithSettle(0))

	h, err := m.Create("he910")
	require.NoError(t, err)
	require.NoError(t, m.SetProperty(h, "Aux", "/dev/ttyACM1"))
	require.NoError(t, m.SetProperty(h, "GPS", "/dev/ttyACM2"))
	require.NoError(t, m.SetProperty(h, "Modem", "/dev/ttyACM0"))
	require.NoError(t, m.Register(h))

	st, ok := m.Get(h)
	require.True(t, ok)
	assert.True(t, st.Registered)
	assert.Equal(t, "/dev/ttyACM0", st.Port)
	assert.Empty(t, st.GPSPort, "gps disabled")

	assert.ErrorIs(t, m.SetProperty(h, "Modem", "/dev/ttyACM3"), ErrRegistered)
	assert.ErrorIs(t, m.Register(h), ErrRegistered)

	require.Eventually(t, func() bool {
		st, _ := m.Get(h)
		return st.Info.Ready
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, opened)

	repo := repository.NewAttachmentRepository(db)
	require.Eventually(t, func() bool {
		a, err := repo.FindByHandle(h)
		return err == nil && a.Status == "ready" && a.IMEI == "356938035643809"
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := m.ExecuteAT(h, "AT+CGMR", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "12.00.024", resp)

	m.Remove(h)
	_, ok = m.Get(h)
	assert.False(t, ok)
	assert.True(t, f.isClosed())

	a, err := repo.FindByHandle(h)
	require.NoError(t, err)
	assert.Equal(t, "detached", a.Status)
	assert.Equal(t, "he910", a.Family)
	assert.Equal(t, "/dev/ttyACM1", a.Roles["Aux"])
	assert.Equal(t, []string{logic.EventAttached, logic.EventDetached}, n.kinds())

	// second remove is a no-op
	m.Remove(h)
	assert.Len(t, n.kinds(), 2)
}

func TestManagerUnknownHandle(t *testing.T) {
	m := NewManager(nil, nil, serialCfg(), config.GPSConfig{})
	assert.ErrorIs(t, m.SetProperty("nope", "Modem", "/dev/ttyACM0"), ErrUnknownHandle)
	assert.ErrorIs(t, m.Register("nope"), ErrUnknownHandle)
	_, err := m.ExecuteAT("nope", "AT", time.Second)
	assert.ErrorIs(t, err, ErrUnknownHandle)
	m.Remove("nope")

	_, err = m.Create("")
	assert.Error(t, err)
}

func TestManagerRemoveUnregistered(t *testing.T) {
	n := &recordingNotifier{}
	m := NewManager(nil, n, serialCfg(), config.GPSConfig{})
	h, err := m.Create("gobi")
	require.NoError(t, err)
	require.NoError(t, m.SetProperty(h, "Device", "/dev/cdc-wdm0"))
	m.Remove(h)
	assert.Empty(t, m.Modems())
	assert.Empty(t, n.kinds())
}

func TestManagerWithoutATPort(t *testing.T) {
	m := NewManager(nil, nil, serialCfg(), config.GPSConfig{}, WithOpener(func(string, *serial.Mode) (serial.Port, error) {
		return nil, errors.New("must not open")
	}))
	h, err := m.Create("isiusb")
	require.NoError(t, err)
	require.NoError(t, m.SetProperty(h, "Interface", "usbpn0"))
	require.NoError(t, m.SetProperty(h, "Address", "16"))
	require.NoError(t, m.Register(h))

	st, _ := m.Get(h)
	assert.Empty(t, st.Port)
	_, err = m.ExecuteAT(h, "AT", time.Second)
	assert.ErrorIs(t, err, ErrNoWorker)
	m.Remove(h)
}

func TestManagerGPS(t *testing.T) {
	db := openDB(t)
	at := newFakeModem(telitScript())
	gps := newFakeModem(nil)
	open := func(name string, mode *serial.Mode) (serial.Port, error) {
		if name == "/dev/ttyACM2" {
			assert.Equal(t, 9600, mode.BaudRate)
			return gps, nil
		}
		return at, nil
	}
	m := NewManager(db, nil, serialCfg(), config.GPSConfig{Enabled: true, BaudRate: 9600}, WithOpener(open), WithSettle(0))

	h, err := m.Create("he910")
	require.NoError(t, err)
	require.NoError(t, m.SetProperty(h, "Modem", "/dev/ttyACM0"))
	require.NoError(t, m.SetProperty(h, "GPS", "/dev/ttyACM2"))
	require.NoError(t, m.Register(h))

	gps.urc(rmcFix)
	require.Eventually(t, func() bool {
		st, _ := m.Get(h)
		return st.Position != nil
	}, time.Second, 5*time.Millisecond)

	positions := repository.NewPositionRepository(db)
	require.Eventually(t, func() bool {
		p, err := positions.Latest(h)
		return err == nil && p.Latitude > 51.5 && p.Latitude < 51.6
	}, time.Second, 10*time.Millisecond)

	m.Stop()
	assert.Empty(t, m.Modems())
	assert.True(t, gps.isClosed())
}
