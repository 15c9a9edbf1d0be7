package worker

import (
	"bufio"
	"strings"
	"sync"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/pccr10001/modemd/internal/model"
	"github.com/pccr10001/modemd/pkg/logger"
	"go.bug.st/serial"
)

// GPSReader follows the NMEA stream on a modem's GPS port.
type GPSReader struct {
	PortName string
	baud     int
	open     Opener
	onFix    func(model.Position)

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewGPSReader(portName string, baud int, open Opener, onFix func(model.Position)) *GPSReader {
	if open == nil {
		open = serial.Open
	}
	if baud <= 0 {
		baud = 9600
	}
	return &GPSReader{
		PortName: portName,
		baud:     baud,
		open:     open,
		onFix:    onFix,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (g *GPSReader) Start() {
	go g.run()
}

func (g *GPSReader) Stop() {
	g.stopOnce.Do(func() { close(g.stop) })
}

func (g *GPSReader) Done() <-chan struct{} {
	return g.done
}

func (g *GPSReader) run() {
	defer close(g.done)

	port, err := g.open(g.PortName, &serial.Mode{BaudRate: g.baud})
	if err != nil {
		logger.Log.Errorf("Failed to open GPS port %s: %v", g.PortName, err)
		return
	}
	// Close unblocks the scanner on Stop
	go func() {
		<-g.stop
		port.Close()
	}()

	logger.Log.Infof("GPS reader for %s running", g.PortName)
	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		pos, ok := parseFix(scanner.Text(), time.Now())
		if ok && g.onFix != nil {
			g.onFix(pos)
		}
	}

	select {
	case <-g.stop:
	default:
		logger.Log.Warnf("GPS port %s closed: %v", g.PortName, scanner.Err())
		g.Stop()
	}
}

// parseFix extracts a position from a valid RMC sentence.
func parseFix(line string, now time.Time) (model.Position, bool) {
	idx := strings.Index(line, "$")
	if idx < 0 {
		return model.Position{}, false
	}
	s, err := nmea.Parse(strings.TrimSpace(line[idx:]))
	if err != nil {
		return model.Position{}, false
	}
	rmc, ok := s.(nmea.RMC)
	if !ok || rmc.Validity != "A" {
		return model.Position{}, false
	}
	return model.Position{
		Latitude:  rmc.Latitude,
		Longitude: rmc.Longitude,
		Speed:     rmc.Speed,
		Course:    rmc.Course,
		FixTime:   fixTime(rmc, now),
	}, true
}

func fixTime(rmc nmea.RMC, now time.Time) time.Time {
	if !rmc.Date.Valid || !rmc.Time.Valid {
		return now
	}
	year := 2000 + rmc.Date.YY
	if rmc.Date.YY >= 70 {
		year = 1900 + rmc.Date.YY
	}
	return time.Date(year, time.Month(rmc.Date.MM), rmc.Date.DD,
		rmc.Time.Hour, rmc.Time.Minute, rmc.Time.Second, rmc.Time.Millisecond*int(time.Millisecond), time.UTC)
}
