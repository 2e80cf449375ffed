package protocol

import (
	"encoding/json"
	"strings"
	"time"
)

// Command represents a command sent to the core engine
type Command struct {
	Type string                 `json:"type"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// Response represents a response from the core engine
type Response struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Session is one stretch of sent or decoded CW text.
type Session struct {
	ID        int       `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Direction string    `json:"direction"` // "sent" or "received"
	Text      string    `json:"text"`
	SpeedWPM  float64   `json:"speed_wpm"`
	ErrorRate float64   `json:"error_rate"` // fraction of marks out of tolerance
}

// Status represents the current daemon status
type Status struct {
	Callsign      string    `json:"callsign"`
	Grid          string    `json:"grid"`
	SendSpeed     int       `json:"send_speed"`
	ReceiveSpeed  float64   `json:"receive_speed"`
	Frequency     int       `json:"frequency"`
	Volume        int       `json:"volume"`
	Adaptive      bool      `json:"adaptive"`
	CurtisModeB   bool      `json:"curtis_mode_b"`
	QueuedTones   int       `json:"queued_tones"`
	Sending       bool      `json:"sending"`
	Uptime        string    `json:"uptime"`
	StartTime     time.Time `json:"start_time"`
	Version       string    `json:"version"`
}

// ParseCommand parses a text command into a Command struct. The wire
// format is line oriented: TYPE or TYPE:args.
func ParseCommand(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	parts := strings.SplitN(text, ":", 2)

	cmd := &Command{
		Type: strings.ToUpper(parts[0]),
		Args: make(map[string]interface{}),
	}

	if len(parts) > 1 {
		args := parts[1]

		switch cmd.Type {
		case CmdSend:
			// SEND:CQ CQ DE SP8NTH
			cmd.Args["text"] = args

		case CmdSpeed:
			// SPEED:20 or SPEED:rx:20 or SPEED:rx:adaptive
			speedParts := strings.SplitN(args, ":", 2)
			if len(speedParts) == 2 {
				cmd.Args["target"] = strings.ToLower(speedParts[0])
				cmd.Args["value"] = speedParts[1]
			} else {
				cmd.Args["target"] = "tx"
				cmd.Args["value"] = args
			}

		case CmdFrequency, CmdVolume, CmdGap, CmdWeighting, CmdTolerance:
			// Single numeric argument.
			cmd.Args["value"] = args

		case CmdKey:
			// KEY:dot:down, KEY:dash:up, KEY:straight:down
			keyParts := strings.SplitN(args, ":", 2)
			if len(keyParts) >= 1 {
				cmd.Args["key"] = strings.ToLower(keyParts[0])
			}
			if len(keyParts) >= 2 {
				cmd.Args["state"] = strings.ToLower(keyParts[1])
			}

		case CmdMode:
			// MODE:a or MODE:b
			cmd.Args["mode"] = strings.ToLower(args)

		case CmdSessions:
			// SESSIONS:10 or SESSIONS:since:123
			if strings.HasPrefix(args, "since:") {
				cmd.Args["since"] = strings.TrimPrefix(args, "since:")
			} else {
				cmd.Args["limit"] = args
			}
		}
	}

	return cmd, nil
}

// String converts a Response to its JSON wire form.
func (r *Response) String() string {
	data, _ := json.Marshal(r)
	return string(data)
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data map[string]interface{}) *Response {
	return &Response{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
	}
}

// Protocol commands
const (
	CmdStatus    = "STATUS"
	CmdSend      = "SEND"
	CmdSpeed     = "SPEED"
	CmdFrequency = "FREQUENCY"
	CmdVolume    = "VOLUME"
	CmdGap       = "GAP"
	CmdWeighting = "WEIGHTING"
	CmdTolerance = "TOLERANCE"
	CmdMode      = "MODE"
	CmdKey       = "KEY"
	CmdHalt      = "HALT"
	CmdStats     = "STATS"
	CmdSessions  = "SESSIONS"
	CmdQuit      = "QUIT"
	CmdPing      = "PING"
)
