package engine

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/morsekit/cwd/pkg/audio"
	"github.com/morsekit/cwd/pkg/config"
	"github.com/morsekit/cwd/pkg/cw"
	"github.com/morsekit/cwd/pkg/dsp"
	"github.com/morsekit/cwd/pkg/logging"
	"github.com/morsekit/cwd/pkg/morse"
	"github.com/morsekit/cwd/pkg/protocol"
	"github.com/morsekit/cwd/pkg/storage"
)

const engineVersion = "0.1.0-dev"

// How long the decoded stream must stay quiet before the accumulated
// text is stored as one received session.
const rxSessionGap = 10 * time.Second

const spectrumFFTSize = 1024

// DecodedChar is one character lifted out of the keyed sidetone,
// published to websocket subscribers as it is decoded.
type DecodedChar struct {
	Char      string    `json:"char"`
	IsWord    bool      `json:"is_word"`
	IsError   bool      `json:"is_error"`
	SpeedWPM  float64   `json:"speed_wpm"`
	Timestamp time.Time `json:"timestamp"`
}

// CoreEngine owns the CW signal chain and serves the line-oriented
// command protocol on a Unix socket. The chain is generator -> audio
// output, with the paddles and the straight key feeding the generator's
// queue and the receiver decoding the resulting key edges back to text.
type CoreEngine struct {
	config     *config.Config
	socketPath string
	listener   net.Listener
	running    bool
	sending    bool
	mutex      sync.RWMutex
	startTime  time.Time

	output    *audio.Output
	monitor   *dsp.SpectrumMonitor
	generator *cw.Generator
	keyer     *cw.IambicKeyer
	straight  *cw.StraightKey
	store     *storage.SessionStore

	// The receiver is not safe for concurrent use; rxMutex serializes
	// the key edge callbacks against the character poller.
	rxMutex  sync.Mutex
	receiver *cw.Receiver
	rxText   strings.Builder
	rxStart  time.Time
	rxLast   time.Time
	rxChars  int
	rxErrors int

	txQueue chan string

	subMutex    sync.RWMutex
	subscribers map[chan DecodedChar]struct{}
}

// NewCoreEngine builds the signal chain from configuration. Nothing runs
// until Start.
func NewCoreEngine(cfg *config.Config, socketPath string) (*CoreEngine, error) {
	output, err := audio.NewOutput(cfg.Audio.SampleRate, cfg.Audio.BufferSize, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio output: %w", err)
	}

	monitor := dsp.NewSpectrumMonitor(cfg.Audio.SampleRate, spectrumFFTSize)
	output.AddTap(monitor.ProcessSamples)

	generator, err := cw.NewGenerator(output)
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}
	if err := applyKeying(generator, cfg); err != nil {
		return nil, err
	}

	keyer := cw.NewIambicKeyer(generator)
	keyer.SetCurtisModeB(cfg.Keying.CurtisModeB)

	receiver := cw.NewReceiver()
	if err := receiver.SetTolerance(cfg.Receiver.Tolerance); err != nil {
		return nil, fmt.Errorf("invalid receiver tolerance: %w", err)
	}
	if err := receiver.SetGap(cfg.Receiver.Gap); err != nil {
		return nil, fmt.Errorf("invalid receiver gap: %w", err)
	}
	if err := receiver.SetSpeed(cfg.Receiver.Speed); err != nil {
		return nil, fmt.Errorf("invalid receiver speed: %w", err)
	}
	receiver.SetAdaptive(cfg.Receiver.Adaptive)
	threshold := time.Duration(cfg.Receiver.NoiseSpikeMs) * time.Millisecond
	if err := receiver.SetNoiseSpikeThreshold(threshold); err != nil {
		return nil, fmt.Errorf("invalid noise spike threshold: %w", err)
	}

	store, err := storage.NewSessionStore(cfg.Storage.DatabasePath, cfg.Storage.MaxSessions)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	e := &CoreEngine{
		config:      cfg,
		socketPath:  socketPath,
		startTime:   time.Now(),
		output:      output,
		monitor:     monitor,
		generator:   generator,
		keyer:       keyer,
		straight:    cw.NewStraightKey(generator),
		receiver:    receiver,
		store:       store,
		txQueue:     make(chan string, 100),
		subscribers: make(map[chan DecodedChar]struct{}),
	}

	// Every key edge the operator produces is fed straight back into
	// the receiver, so keyed text shows up in the decoded stream.
	e.keyer.RegisterKeyCallback(e.onKeyEdge)
	e.straight.RegisterKeyCallback(e.onKeyEdge)

	return e, nil
}

func applyKeying(generator *cw.Generator, cfg *config.Config) error {
	if err := generator.SetSpeed(cfg.Keying.Speed); err != nil {
		return fmt.Errorf("invalid keying speed: %w", err)
	}
	if err := generator.SetFrequency(cfg.Keying.Frequency); err != nil {
		return fmt.Errorf("invalid sidetone frequency: %w", err)
	}
	if err := generator.SetVolume(cfg.Keying.Volume); err != nil {
		return fmt.Errorf("invalid volume: %w", err)
	}
	if err := generator.SetGap(cfg.Keying.Gap); err != nil {
		return fmt.Errorf("invalid gap: %w", err)
	}
	if err := generator.SetWeighting(cfg.Keying.Weighting); err != nil {
		return fmt.Errorf("invalid weighting: %w", err)
	}
	return nil
}

// Start brings up playback and the Unix socket server.
func (e *CoreEngine) Start() error {
	e.mutex.Lock()
	e.running = true
	e.mutex.Unlock()

	if err := e.generator.Start(); err != nil {
		return fmt.Errorf("failed to start generator: %w", err)
	}

	os.Remove(e.socketPath)
	listener, err := net.Listen("unix", e.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create Unix socket: %w", err)
	}
	e.listener = listener

	if err := os.Chmod(e.socketPath, 0660); err != nil {
		logging.Warnf("engine", "failed to set socket permissions: %v", err)
	}

	logging.Infof("engine", "listening on %s", e.socketPath)

	go e.acceptConnections()
	go e.sendWorker()
	go e.receivePoller()

	return nil
}

// Stop shuts the engine down, flushing any accumulated received text.
func (e *CoreEngine) Stop() error {
	e.mutex.Lock()
	e.running = false
	e.mutex.Unlock()

	if e.listener != nil {
		e.listener.Close()
	}

	e.generator.Stop()
	e.flushReceivedSession(true)

	e.subMutex.Lock()
	for ch := range e.subscribers {
		close(ch)
	}
	e.subscribers = make(map[chan DecodedChar]struct{})
	e.subMutex.Unlock()

	if e.store != nil {
		e.store.Close()
	}
	e.output.Close()
	os.Remove(e.socketPath)
	return nil
}

func (e *CoreEngine) isRunning() bool {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.running
}

// Monitor exposes the sidetone spectrum monitor to the web layer.
func (e *CoreEngine) Monitor() *dsp.SpectrumMonitor {
	return e.monitor
}

// Subscribe returns a channel of decoded characters. Slow subscribers
// lose characters rather than stalling the decoder.
func (e *CoreEngine) Subscribe() chan DecodedChar {
	ch := make(chan DecodedChar, 16)
	e.subMutex.Lock()
	e.subscribers[ch] = struct{}{}
	e.subMutex.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (e *CoreEngine) Unsubscribe(ch chan DecodedChar) {
	e.subMutex.Lock()
	if _, ok := e.subscribers[ch]; ok {
		delete(e.subscribers, ch)
		close(ch)
	}
	e.subMutex.Unlock()
}

func (e *CoreEngine) publish(d DecodedChar) {
	e.subMutex.RLock()
	defer e.subMutex.RUnlock()
	for ch := range e.subscribers {
		select {
		case ch <- d:
		default:
		}
	}
}

// onKeyEdge runs on the playback goroutine for every key-down and key-up
// the keyer or straight key produces.
func (e *CoreEngine) onKeyEdge(down bool) {
	now := time.Now()

	e.rxMutex.Lock()
	defer e.rxMutex.Unlock()

	if down {
		if err := e.receiver.MarkBegin(now); err != nil {
			// A finalized character may still be pending; consume it
			// and open the mark on a clean receiver.
			e.pollLocked(now)
			e.receiver.ResetState()
			if err := e.receiver.MarkBegin(now); err != nil {
				logging.Debugf("engine", "mark begin: %v", err)
			}
		}
		return
	}

	if err := e.receiver.MarkEnd(now); err != nil && !errors.Is(err, cw.ErrNoiseSpike) {
		logging.Debugf("engine", "mark end: %v", err)
	}
}

// receivePoller turns completed inter-mark spaces into characters.
func (e *CoreEngine) receivePoller() {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for e.isRunning() {
		<-ticker.C

		e.rxMutex.Lock()
		e.pollLocked(time.Now())
		e.rxMutex.Unlock()

		e.flushReceivedSession(false)
	}
}

// pollLocked polls the receiver once and publishes any decoded
// character. Callers hold rxMutex.
func (e *CoreEngine) pollLocked(t time.Time) {
	c, isWord, isError, err := e.receiver.PollCharacter(t)
	switch {
	case err == nil:
	case errors.Is(err, morse.ErrNotFound):
		// Unreadable keying still advances the text stream.
		c, isError = '?', true
	default:
		return
	}
	e.receiver.ResetState()

	d := DecodedChar{
		Char:      string(c),
		IsWord:    isWord,
		IsError:   isError,
		SpeedWPM:  e.receiver.Speed(),
		Timestamp: t,
	}

	if e.rxText.Len() == 0 {
		e.rxStart = t
	}
	e.rxText.WriteRune(c)
	if isWord {
		e.rxText.WriteByte(' ')
	}
	e.rxChars++
	if isError {
		e.rxErrors++
	}
	e.rxLast = t

	e.publish(d)
}

// flushReceivedSession stores the accumulated decoded text once the air
// has been quiet long enough, or unconditionally on shutdown.
func (e *CoreEngine) flushReceivedSession(force bool) {
	e.rxMutex.Lock()

	if e.rxText.Len() == 0 || (!force && time.Since(e.rxLast) < rxSessionGap) {
		e.rxMutex.Unlock()
		return
	}

	session := protocol.Session{
		Timestamp: e.rxStart,
		Direction: "received",
		Text:      strings.TrimSpace(e.rxText.String()),
		SpeedWPM:  e.receiver.Speed(),
	}
	if e.rxChars > 0 {
		session.ErrorRate = float64(e.rxErrors) / float64(e.rxChars)
	}
	stats := e.receiver.GetStatistics()
	timing := &storage.TimingDeviations{
		Dot:       stats.Dot,
		Dash:      stats.Dash,
		MarkSpace: stats.MarkSpace,
		CharSpace: stats.CharSpace,
	}

	e.rxText.Reset()
	e.rxChars = 0
	e.rxErrors = 0
	e.rxMutex.Unlock()

	if _, err := e.store.StoreSession(session, timing); err != nil {
		logging.Warnf("engine", "failed to store received session: %v", err)
		return
	}
	logging.Infof("engine", "stored received session: %q", session.Text)
}

// sendWorker transmits queued text one request at a time.
func (e *CoreEngine) sendWorker() {
	for e.isRunning() {
		select {
		case text := <-e.txQueue:
			e.transmit(text)
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (e *CoreEngine) transmit(text string) {
	e.mutex.Lock()
	e.sending = true
	e.mutex.Unlock()
	defer func() {
		e.mutex.Lock()
		e.sending = false
		e.mutex.Unlock()
	}()

	start := time.Now()
	if err := e.generator.SendString(text); err != nil {
		logging.Warnf("engine", "send failed: %v", err)
		return
	}

	// Block until the sidetone has actually played out.
	e.generator.Queue().WaitForLevel(0)

	session := protocol.Session{
		Timestamp: start,
		Direction: "sent",
		Text:      text,
		SpeedWPM:  float64(e.generator.Speed()),
	}
	if _, err := e.store.StoreSession(session, nil); err != nil {
		logging.Warnf("engine", "failed to store sent session: %v", err)
	}
	logging.Infof("engine", "sent %q at %d WPM", text, e.generator.Speed())
}

func (e *CoreEngine) isSending() bool {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.sending
}

// acceptConnections accepts and handles socket connections.
func (e *CoreEngine) acceptConnections() {
	for e.isRunning() {
		conn, err := e.listener.Accept()
		if err != nil {
			if e.isRunning() {
				logging.Warnf("engine", "socket accept error: %v", err)
			}
			continue
		}
		go e.handleConnection(conn)
	}
}

func (e *CoreEngine) handleConnection(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		cmd, err := protocol.ParseCommand(line)
		if err != nil {
			response := protocol.NewErrorResponse(fmt.Sprintf("parse error: %v", err))
			conn.Write([]byte(response.String() + "\n"))
			continue
		}

		response := e.handleCommand(cmd)
		conn.Write([]byte(response.String() + "\n"))

		if cmd.Type == protocol.CmdQuit {
			break
		}
	}
}

func (e *CoreEngine) handleCommand(cmd *protocol.Command) *protocol.Response {
	switch cmd.Type {
	case protocol.CmdStatus:
		return e.handleStatus()
	case protocol.CmdSend:
		return e.handleSend(cmd)
	case protocol.CmdSpeed:
		return e.handleSpeed(cmd)
	case protocol.CmdFrequency:
		return e.handleNumeric(cmd, e.generator.SetFrequency)
	case protocol.CmdVolume:
		return e.handleNumeric(cmd, e.generator.SetVolume)
	case protocol.CmdGap:
		return e.handleNumeric(cmd, e.generator.SetGap)
	case protocol.CmdWeighting:
		return e.handleNumeric(cmd, e.generator.SetWeighting)
	case protocol.CmdTolerance:
		return e.handleTolerance(cmd)
	case protocol.CmdMode:
		return e.handleMode(cmd)
	case protocol.CmdKey:
		return e.handleKey(cmd)
	case protocol.CmdHalt:
		return e.handleHalt()
	case protocol.CmdStats:
		return e.handleStats()
	case protocol.CmdSessions:
		return e.handleSessions(cmd)
	case protocol.CmdPing:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"pong": time.Now().Unix(),
		})
	case protocol.CmdQuit:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"message": "goodbye",
		})
	default:
		return protocol.NewErrorResponse(fmt.Sprintf("unknown command: %s", cmd.Type))
	}
}

func (e *CoreEngine) handleStatus() *protocol.Response {
	e.rxMutex.Lock()
	receiveSpeed := e.receiver.Speed()
	adaptive := e.receiver.Adaptive()
	e.rxMutex.Unlock()

	status := protocol.Status{
		Callsign:     e.config.Station.Callsign,
		Grid:         e.config.Station.Grid,
		SendSpeed:    e.generator.Speed(),
		ReceiveSpeed: receiveSpeed,
		Frequency:    e.generator.Frequency(),
		Volume:       e.generator.Volume(),
		Adaptive:     adaptive,
		CurtisModeB:  e.keyer.CurtisModeB(),
		QueuedTones:  e.generator.Queue().Length(),
		Sending:      e.isSending(),
		Uptime:       time.Since(e.startTime).String(),
		StartTime:    e.startTime,
		Version:      engineVersion,
	}

	return protocol.NewSuccessResponse(map[string]interface{}{
		"status": status,
	})
}

func (e *CoreEngine) handleSend(cmd *protocol.Command) *protocol.Response {
	text, _ := cmd.Args["text"].(string)
	if strings.TrimSpace(text) == "" {
		return protocol.NewErrorResponse("text cannot be empty")
	}

	select {
	case e.txQueue <- text:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"status": "queued",
			"text":   text,
		})
	default:
		return protocol.NewErrorResponse("transmit queue full")
	}
}

func (e *CoreEngine) handleSpeed(cmd *protocol.Command) *protocol.Response {
	target, _ := cmd.Args["target"].(string)
	value, _ := cmd.Args["value"].(string)

	switch target {
	case "tx", "":
		wpm, err := strconv.Atoi(value)
		if err != nil {
			return protocol.NewErrorResponse(fmt.Sprintf("invalid speed: %q", value))
		}
		if err := e.generator.SetSpeed(wpm); err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		return protocol.NewSuccessResponse(map[string]interface{}{
			"target": "tx",
			"speed":  wpm,
		})

	case "rx":
		e.rxMutex.Lock()
		defer e.rxMutex.Unlock()

		if value == "adaptive" {
			e.receiver.SetAdaptive(true)
			return protocol.NewSuccessResponse(map[string]interface{}{
				"target":   "rx",
				"adaptive": true,
			})
		}
		wpm, err := strconv.Atoi(value)
		if err != nil {
			return protocol.NewErrorResponse(fmt.Sprintf("invalid speed: %q", value))
		}
		e.receiver.SetAdaptive(false)
		if err := e.receiver.SetSpeed(wpm); err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		return protocol.NewSuccessResponse(map[string]interface{}{
			"target": "rx",
			"speed":  wpm,
		})

	default:
		return protocol.NewErrorResponse(fmt.Sprintf("unknown speed target: %q", target))
	}
}

func (e *CoreEngine) handleNumeric(cmd *protocol.Command, set func(int) error) *protocol.Response {
	value, _ := cmd.Args["value"].(string)
	n, err := strconv.Atoi(value)
	if err != nil {
		return protocol.NewErrorResponse(fmt.Sprintf("invalid value: %q", value))
	}
	if err := set(n); err != nil {
		return protocol.NewErrorResponse(err.Error())
	}
	return protocol.NewSuccessResponse(map[string]interface{}{
		"value": n,
	})
}

func (e *CoreEngine) handleTolerance(cmd *protocol.Command) *protocol.Response {
	return e.handleNumeric(cmd, func(percent int) error {
		e.rxMutex.Lock()
		defer e.rxMutex.Unlock()
		return e.receiver.SetTolerance(percent)
	})
}

func (e *CoreEngine) handleMode(cmd *protocol.Command) *protocol.Response {
	mode, _ := cmd.Args["mode"].(string)
	switch mode {
	case "a":
		e.keyer.SetCurtisModeB(false)
	case "b":
		e.keyer.SetCurtisModeB(true)
	default:
		return protocol.NewErrorResponse(fmt.Sprintf("unknown keyer mode: %q", mode))
	}
	return protocol.NewSuccessResponse(map[string]interface{}{
		"mode": mode,
	})
}

func (e *CoreEngine) handleKey(cmd *protocol.Command) *protocol.Response {
	key, _ := cmd.Args["key"].(string)
	state, _ := cmd.Args["state"].(string)

	var down bool
	switch state {
	case "down":
		down = true
	case "up":
		down = false
	default:
		return protocol.NewErrorResponse(fmt.Sprintf("key state must be down or up, got %q", state))
	}

	switch key {
	case "dot":
		e.keyer.DotPaddleEvent(down)
	case "dash":
		e.keyer.DashPaddleEvent(down)
	case "straight":
		e.straight.Notify(down)
	default:
		return protocol.NewErrorResponse(fmt.Sprintf("unknown key: %q", key))
	}

	return protocol.NewSuccessResponse(map[string]interface{}{
		"key":   key,
		"state": state,
	})
}

func (e *CoreEngine) handleHalt() *protocol.Response {
	// Drop queued text first so nothing re-fills the tone queue.
	for {
		select {
		case <-e.txQueue:
			continue
		default:
		}
		break
	}

	e.straight.Notify(false)
	e.keyer.Reset()
	e.generator.Silence()

	return protocol.NewSuccessResponse(map[string]interface{}{
		"status": "halted",
	})
}

func (e *CoreEngine) handleStats() *protocol.Response {
	e.rxMutex.Lock()
	stats := e.receiver.GetStatistics()
	speed := e.receiver.Speed()
	adaptive := e.receiver.Adaptive()
	e.rxMutex.Unlock()

	data := map[string]interface{}{
		"dot_deviation_us":        stats.Dot.Microseconds(),
		"dash_deviation_us":       stats.Dash.Microseconds(),
		"mark_space_deviation_us": stats.MarkSpace.Microseconds(),
		"char_space_deviation_us": stats.CharSpace.Microseconds(),
		"receive_speed":           speed,
		"adaptive":                adaptive,
	}

	if totals, err := e.store.GetTotals(); err == nil {
		data["total_sessions"] = totals.TotalSessions
		data["total_sent"] = totals.TotalSent
		data["total_received"] = totals.TotalReceived
	}

	return protocol.NewSuccessResponse(data)
}

func (e *CoreEngine) handleSessions(cmd *protocol.Command) *protocol.Response {
	query := storage.SessionQuery{Limit: 50}

	if limitStr, ok := cmd.Args["limit"].(string); ok && limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return protocol.NewErrorResponse(fmt.Sprintf("invalid limit: %q", limitStr))
		}
		query.Limit = limit
	}
	if sinceStr, ok := cmd.Args["since"].(string); ok && sinceStr != "" {
		since, err := strconv.ParseInt(sinceStr, 10, 64)
		if err != nil {
			return protocol.NewErrorResponse(fmt.Sprintf("invalid session id: %q", sinceStr))
		}
		query.SinceID = since
	}

	sessions, err := e.store.GetSessions(query)
	if err != nil {
		return protocol.NewErrorResponse(fmt.Sprintf("session query failed: %v", err))
	}

	return protocol.NewSuccessResponse(map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}
