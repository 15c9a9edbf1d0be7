package worker

import (
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// fakeModem answers AT commands from a script. Unknown commands get ERROR.
type fakeModem struct {
	serial.Port

	mu      sync.Mutex
	replies map[string][]string
	writes  []string
	buf     []byte

	rx        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeModem(replies map[string][]string) *fakeModem {
	return &fakeModem{
		replies: replies,
		rx:      make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (f *fakeModem) opener(open *int) Opener {
	return func(name string, mode *serial.Mode) (serial.Port, error) {
		if open != nil {
			*open++
		}
		return f, nil
	}
}

func (f *fakeModem) Read(p []byte) (int, error) {
	if len(f.buf) == 0 {
		select {
		case data := <-f.rx:
			f.buf = data
		case <-f.closed:
			return 0, io.EOF
		}
	}
	n := copy(p, f.buf)
	f.buf = f.buf[n:]
	return n, nil
}

func (f *fakeModem) Write(p []byte) (int, error) {
	select {
	case <-f.closed:
		return 0, errors.New("port closed")
	default:
	}
	cmd := strings.TrimSpace(string(p))
	f.mu.Lock()
	f.writes = append(f.writes, cmd)
	lines, ok := f.replies[cmd]
	f.mu.Unlock()

	var out strings.Builder
	for _, l := range lines {
		out.WriteString("\r\n" + l + "\r\n")
	}
	if ok {
		out.WriteString("\r\nOK\r\n")
	} else {
		out.WriteString("\r\nERROR\r\n")
	}
	f.rx <- []byte(out.String())
	return len(p), nil
}

// urc pushes an unsolicited line.
func (f *fakeModem) urc(line string) {
	f.rx <- []byte("\r\n" + line + "\r\n")
}

func (f *fakeModem) SetReadTimeout(time.Duration) error { return nil }

func (f *fakeModem) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeModem) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeModem) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func telitScript() map[string][]string {
	return map[string][]string{
		"AT":        nil,
		"ATE0":      nil,
		"AT+CMEE=1": nil,
		"ATI":       {"Telit", "HE910"},
		"AT+CGSN":   {"356938035643809"},
		"AT#QSS=2":  nil,
		"AT#QSS?":   {"#QSS: 2,1"},
		"AT+CPIN?":  {"+CPIN: READY"},
		"AT+CSQ":    {"+CSQ: 31,0"},
		"AT+COPS?":  {`+COPS: 0,0,"Chunghwa Telecom",2`},
		"AT+CREG?":  {"+CREG: 0,1"},
		"AT+CGMR":   {"12.00.024"},
	}
}
