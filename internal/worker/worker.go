package worker

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pccr10001/modemd/internal/mccmnc"
	"github.com/pccr10001/modemd/pkg/logger"
	"go.bug.st/serial"
)

var (
	ErrStopped = errors.New("worker stopped")
	ErrBusy    = errors.New("modem is busy")
)

// Opener opens a serial port. serial.Open satisfies it.
type Opener func(name string, mode *serial.Mode) (serial.Port, error)

// Info is what the worker learned about the modem over AT.
type Info struct {
	Revision     string `json:"revision,omitempty"`
	IMEI         string `json:"imei,omitempty"`
	Operator     string `json:"operator,omitempty"`
	Signal       int    `json:"signal"`
	Registration string `json:"registration,omitempty"`
	SIMPresent   bool   `json:"sim_present"`
	Ready        bool   `json:"ready"`
}

type WorkerOptions struct {
	BaudRate     int
	InitCommands []string
	ProbeTimeout time.Duration
	PollInterval time.Duration
	// Settle is the pause between opening the port and the first probe.
	Settle time.Duration
	// QSS enables Telit SIM-state notifications (AT#QSS=2).
	QSS bool
}

// ModemWorker owns the AT command port of one modem.
type ModemWorker struct {
	PortName string
	open     Opener
	opts     WorkerOptions
	port     serial.Port

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	cmdChan chan commandRequest
	rxChan  chan rxMsg

	busyMu sync.Mutex
	busy   bool

	infoMu   sync.Mutex
	info     Info
	onUpdate func(Info)
}

type rxMsg struct {
	Data string
	Err  error
}

type commandRequest struct {
	cmd      string
	respChan chan string
	errChan  chan error
	timeout  time.Duration
	silent   bool
}

func NewModemWorker(portName string, open Opener, opts WorkerOptions, onUpdate func(Info)) *ModemWorker {
	if open == nil {
		open = serial.Open
	}
	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 2 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	return &ModemWorker{
		PortName: portName,
		open:     open,
		opts:     opts,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		cmdChan:  make(chan commandRequest, 10),
		rxChan:   make(chan rxMsg, 100),
		onUpdate: onUpdate,
	}
}

func (w *ModemWorker) Start() {
	go w.runLoop()
}

// Done is closed once the port has been released.
func (w *ModemWorker) Done() <-chan struct{} {
	return w.done
}

func (w *ModemWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
}

func (w *ModemWorker) runLoop() {
	defer close(w.done)

	var err error
	w.port, err = w.open(w.PortName, &serial.Mode{BaudRate: w.opts.BaudRate})
	if err != nil {
		logger.Log.Errorf("Failed to open port %s: %v", w.PortName, err)
		return
	}
	defer w.port.Close()

	// readLoop wakes up periodically to notice Stop
	_ = w.port.SetReadTimeout(100 * time.Millisecond)

	go w.readLoop()
	go w.initModem()

	logger.Log.Infof("Worker for %s running", w.PortName)
	for {
		select {
		case <-w.stop:
			logger.Log.Infof("Worker for %s stopped", w.PortName)
			return

		case req := <-w.cmdChan:
			if !w.execute(req) {
				return
			}

		case msg := <-w.rxChan:
			if msg.Err != nil {
				logger.Log.Errorf("[%s] Port read error (idle): %v. Stopping.", w.PortName, msg.Err)
				w.Stop()
				return
			}
			if isURC(msg.Data) {
				w.handleURC(msg.Data)
			}
		}
	}
}

// execute writes one command and collects lines until a final result. It
// returns false when the worker has to stop.
func (w *ModemWorker) execute(req commandRequest) bool {
	if !req.silent {
		logger.Log.Debugf("[%s] TX: %s", w.PortName, req.cmd)
	}
	if _, err := w.port.Write([]byte(req.cmd + "\r\n")); err != nil {
		req.errChan <- err
		return true
	}

	var lines []string
	timeout := time.NewTimer(req.timeout)
	defer timeout.Stop()
	for {
		select {
		case <-w.stop:
			req.errChan <- ErrStopped
			return false

		case <-timeout.C:
			req.errChan <- errors.New("timeout")
			return true

		case msg := <-w.rxChan:
			if msg.Err != nil {
				req.errChan <- msg.Err
				logger.Log.Errorf("[%s] Port read error during cmd: %v. Stopping.", w.PortName, msg.Err)
				w.Stop()
				return false
			}

			line := msg.Data
			if !req.silent {
				logger.Log.Debugf("[%s] RX: %s", w.PortName, line)
			}
			switch {
			case line == req.cmd:
				// echo
			case line == "OK":
				req.respChan <- strings.Join(lines, "\n")
				return true
			case strings.Contains(line, "ERROR"):
				req.errChan <- fmt.Errorf("modem error: %s", strings.Join(append(lines, line), "\n"))
				return true
			default:
				lines = append(lines, line)
				if isURC(line) {
					w.handleURC(line)
				}
			}
		}
	}
}

func (w *ModemWorker) readLoop() {
	buf := make([]byte, 256)
	var acc []byte
	for {
		n, err := w.port.Read(buf)
		if err != nil {
			select {
			case <-w.stop:
				return
			default:
			}
			select {
			case w.rxChan <- rxMsg{Err: err}:
			case <-w.stop:
			}
			return
		}

		// n == 0 is a read timeout
		acc = append(acc, buf[:n]...)
		for {
			i := bytes.IndexByte(acc, '\n')
			if i < 0 {
				break
			}
			line := strings.TrimSpace(string(acc[:i]))
			acc = acc[i+1:]
			if line == "" {
				continue
			}
			select {
			case w.rxChan <- rxMsg{Data: line}:
			case <-w.stop:
				return
			}
		}
	}
}

func (w *ModemWorker) initModem() {
	if !w.sleep(w.opts.Settle) {
		return
	}

	if _, err := w.ExecuteATSilent("AT", w.opts.ProbeTimeout); err != nil {
		logger.Log.Warnf("[%s] Probe failed (AT timeout/error): %v. Stopping worker.", w.PortName, err)
		w.Stop()
		return
	}

	for _, cmd := range append([]string{"ATE0", "AT+CMEE=1"}, w.opts.InitCommands...) {
		if _, err := w.ExecuteAT(cmd, 5*time.Second); err != nil {
			logger.Log.Warnf("[%s] %s failed: %v", w.PortName, cmd, err)
		}
	}

	if resp, err := w.ExecuteAT("ATI", 2*time.Second); err == nil {
		w.updateInfo(func(i *Info) { i.Revision = parseRevision(resp) })
	} else {
		logger.Log.Errorf("[%s] Failed to ATI: %v", w.PortName, err)
	}

	if resp, err := w.ExecuteAT("AT+CGSN", 2*time.Second); err == nil {
		w.updateInfo(func(i *Info) { i.IMEI = parseIMEI(resp) })
	}

	if w.opts.QSS {
		// "#QSS: 2,<status>" and later "#QSS: <status>" go through handleURC
		if _, err := w.ExecuteAT("AT#QSS=2", 2*time.Second); err != nil {
			logger.Log.Warnf("[%s] Failed to enable SIM notifications: %v", w.PortName, err)
		}
		_, _ = w.ExecuteAT("AT#QSS?", 2*time.Second)
	} else {
		resp, err := w.ExecuteAT("AT+CPIN?", 2*time.Second)
		present := err == nil && strings.Contains(resp, "READY")
		w.updateInfo(func(i *Info) { i.SIMPresent = present })
	}

	w.refresh()
	w.updateInfo(func(i *Info) { i.Ready = true })
	info := w.Info()
	logger.Log.Infof("[%s] Modem ready: %s IMEI %s Op: %s Sig: %d%%", w.PortName, info.Revision, info.IMEI, info.Operator, info.Signal)

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if w.IsBusy() {
				continue
			}
			w.refresh()
		}
	}
}

// refresh polls signal, operator and registration.
func (w *ModemWorker) refresh() {
	var signal int
	var operator, reg string
	if resp, err := w.ExecuteATSilent("AT+CSQ", 2*time.Second); err == nil {
		signal = parseSignal(resp)
	}
	if resp, err := w.ExecuteATSilent("AT+COPS?", 2*time.Second); err == nil {
		operator = parseOperator(resp)
	}
	if resp, err := w.ExecuteATSilent("AT+CREG?", 2*time.Second); err == nil {
		reg = parseRegistration(parseID(resp, "+CREG:"))
	}
	w.updateInfo(func(i *Info) {
		i.Signal = signal
		i.Operator = operator
		i.Registration = reg
	})
}

func (w *ModemWorker) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-w.stop:
		return false
	}
}

func (w *ModemWorker) ExecuteAT(cmd string, timeout time.Duration) (string, error) {
	return w.enqueue(commandRequest{cmd: cmd, timeout: timeout})
}

func (w *ModemWorker) ExecuteATSilent(cmd string, timeout time.Duration) (string, error) {
	return w.enqueue(commandRequest{cmd: cmd, timeout: timeout, silent: true})
}

func (w *ModemWorker) enqueue(req commandRequest) (string, error) {
	req.respChan = make(chan string, 1)
	req.errChan = make(chan error, 1)
	select {
	case w.cmdChan <- req:
	case <-w.stop:
		return "", ErrStopped
	}

	select {
	case resp := <-req.respChan:
		return resp, nil
	case err := <-req.errChan:
		return "", err
	case <-w.stop:
		return "", ErrStopped
	case <-time.After(req.timeout + 1*time.Second): // Safety buffer
		return "", errors.New("command enqueue timeout")
	}
}

func isURC(line string) bool {
	return strings.HasPrefix(line, "+CREG:") || strings.HasPrefix(line, "#QSS:")
}

func (w *ModemWorker) handleURC(line string) {
	logger.Log.Debugf("[%s] URC: %s", w.PortName, line)
	switch {
	case strings.HasPrefix(line, "#QSS:"):
		present, ok := parseQSS(line)
		if !ok {
			return
		}
		w.updateInfo(func(i *Info) { i.SIMPresent = present })
		logger.Log.Infof("[%s] SIM present: %v", w.PortName, present)
	case strings.HasPrefix(line, "+CREG:"):
		// the unsolicited form carries only the status
		fields := strings.Split(parseID(line, "+CREG:"), ",")
		if len(fields) == 1 {
			reg := parseRegistration("0," + fields[0])
			w.updateInfo(func(i *Info) { i.Registration = reg })
		}
	}
}

func (w *ModemWorker) updateInfo(fn func(*Info)) {
	w.infoMu.Lock()
	fn(&w.info)
	info := w.info
	w.infoMu.Unlock()
	if w.onUpdate != nil {
		w.onUpdate(info)
	}
}

func (w *ModemWorker) Info() Info {
	w.infoMu.Lock()
	defer w.infoMu.Unlock()
	return w.info
}

func (w *ModemWorker) SetBusy(b bool) {
	w.busyMu.Lock()
	w.busy = b
	w.busyMu.Unlock()
}

func (w *ModemWorker) IsBusy() bool {
	w.busyMu.Lock()
	defer w.busyMu.Unlock()
	return w.busy
}

func parseID(resp, prefix string) string {
	for _, l := range strings.Split(resp, "\n") {
		l = strings.TrimSpace(l)
		if strings.HasPrefix(l, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(l, prefix))
		}
	}
	return ""
}

func parseRevision(resp string) string {
	var parts []string
	for _, l := range strings.Split(resp, "\n") {
		l = strings.TrimSpace(l)
		if l != "" && !strings.HasPrefix(l, "AT") {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, " ")
}

func parseIMEI(resp string) string {
	for _, l := range strings.Split(resp, "\n") {
		l = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(l), "+CGSN:"))
		l = strings.Trim(l, "\" ")
		if len(l) >= 14 && strings.IndexFunc(l, func(r rune) bool { return r < '0' || r > '9' }) < 0 {
			return l
		}
	}
	return ""
}

// parseSignal converts "+CSQ: <rssi>,<ber>" to percent.
func parseSignal(resp string) int {
	parts := strings.Split(parseID(resp, "+CSQ:"), ",")
	var rssi int
	if _, err := fmt.Sscanf(parts[0], "%d", &rssi); err != nil || rssi == 99 || rssi < 0 {
		return 0
	}
	if rssi > 31 {
		rssi = 31
	}
	return int(float64(rssi) / 31.0 * 100.0)
}

// parseOperator reads `+COPS: 0,0,"Chunghwa Telecom",7`, resolving numeric
// PLMN ids through the operator table.
func parseOperator(resp string) string {
	splitted := strings.Split(parseID(resp, "+COPS:"), "\"")
	if len(splitted) < 2 {
		return ""
	}
	return mccmnc.Resolve(splitted[1])
}

// parseRegistration maps "<n>,<stat>" from +CREG.
func parseRegistration(v string) string {
	parts := strings.Split(v, ",")
	if len(parts) < 2 {
		return ""
	}
	switch strings.TrimSpace(parts[1]) {
	case "1":
		return "Home Network"
	case "5":
		return "Roaming"
	case "2":
		return "Searching..."
	case "3":
		return "Denied"
	case "4":
		return "Unknown"
	default:
		return "Not Registered"
	}
}

// parseQSS reads "#QSS: <status>" or "#QSS: <mode>,<status>". Status 0 means
// no SIM inserted.
func parseQSS(line string) (bool, bool) {
	fields := strings.Split(parseID(line, "#QSS:"), ",")
	status := strings.TrimSpace(fields[len(fields)-1])
	if status == "" {
		return false, false
	}
	return status != "0", true
}
