// Package client is a thin Unix socket client for the daemon's command
// protocol, used by the web layer and the control CLI.
package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/morsekit/cwd/pkg/protocol"
)

// SocketClient talks to the core engine over its Unix socket. One
// connection per command keeps the client stateless.
type SocketClient struct {
	socketPath string
	timeout    time.Duration
}

// NewSocketClient creates a client for the given socket path.
func NewSocketClient(socketPath string) *SocketClient {
	return &SocketClient{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// SendCommand sends one raw command line and returns the parsed response.
func (c *SocketClient) SendCommand(cmd string) (*protocol.Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket: %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.timeout))

	if _, err := conn.Write([]byte(cmd + "\n")); err != nil {
		return nil, fmt.Errorf("send error: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read error: %w", err)
		}
		return nil, fmt.Errorf("no response received")
	}

	var response protocol.Response
	if err := json.Unmarshal(scanner.Bytes(), &response); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return &response, nil
}

// command sends a command and fails on protocol-level errors.
func (c *SocketClient) command(cmd string) (*protocol.Response, error) {
	resp, err := c.SendCommand(cmd)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}

// GetStatus gets the current daemon status.
func (c *SocketClient) GetStatus() (*protocol.Status, error) {
	resp, err := c.command("STATUS")
	if err != nil {
		return nil, err
	}

	statusData, ok := resp.Data["status"]
	if !ok {
		return nil, fmt.Errorf("status not found in response")
	}

	// Round trip through JSON to map the loosely typed payload back
	// onto the struct.
	statusJSON, _ := json.Marshal(statusData)
	var status protocol.Status
	if err := json.Unmarshal(statusJSON, &status); err != nil {
		return nil, fmt.Errorf("failed to parse status: %w", err)
	}
	return &status, nil
}

// SendText queues text for transmission.
func (c *SocketClient) SendText(text string) error {
	_, err := c.command("SEND:" + text)
	return err
}

// SetSendSpeed sets the transmit speed in WPM.
func (c *SocketClient) SetSendSpeed(wpm int) error {
	_, err := c.command(fmt.Sprintf("SPEED:tx:%d", wpm))
	return err
}

// SetReceiveSpeed sets a fixed receive speed in WPM, disabling adaptive
// tracking.
func (c *SocketClient) SetReceiveSpeed(wpm int) error {
	_, err := c.command(fmt.Sprintf("SPEED:rx:%d", wpm))
	return err
}

// SetAdaptive enables adaptive receive speed tracking.
func (c *SocketClient) SetAdaptive() error {
	_, err := c.command("SPEED:rx:adaptive")
	return err
}

// SetFrequency sets the sidetone frequency in Hz.
func (c *SocketClient) SetFrequency(hz int) error {
	_, err := c.command(fmt.Sprintf("FREQUENCY:%d", hz))
	return err
}

// SetVolume sets the sidetone volume in percent.
func (c *SocketClient) SetVolume(percent int) error {
	_, err := c.command(fmt.Sprintf("VOLUME:%d", percent))
	return err
}

// Key reports a key event. key is dot, dash or straight; down is the new
// key state.
func (c *SocketClient) Key(key string, down bool) error {
	state := "up"
	if down {
		state = "down"
	}
	_, err := c.command(fmt.Sprintf("KEY:%s:%s", key, state))
	return err
}

// Halt aborts the current transmission and empties the tone queue.
func (c *SocketClient) Halt() error {
	_, err := c.command("HALT")
	return err
}

// GetStats returns receive timing statistics and session totals.
func (c *SocketClient) GetStats() (map[string]interface{}, error) {
	resp, err := c.command("STATS")
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GetSessions returns up to limit recent sessions, newest first.
func (c *SocketClient) GetSessions(limit int) ([]protocol.Session, error) {
	cmd := "SESSIONS"
	if limit > 0 {
		cmd = fmt.Sprintf("SESSIONS:%d", limit)
	}

	resp, err := c.command(cmd)
	if err != nil {
		return nil, err
	}

	sessionsData, ok := resp.Data["sessions"]
	if !ok {
		return []protocol.Session{}, nil
	}

	sessionsJSON, _ := json.Marshal(sessionsData)
	var sessions []protocol.Session
	if err := json.Unmarshal(sessionsJSON, &sessions); err != nil {
		return nil, fmt.Errorf("failed to parse sessions: %w", err)
	}
	return sessions, nil
}

// Ping tests the connection.
func (c *SocketClient) Ping() error {
	_, err := c.command("PING")
	return err
}

// IsConnected tests if the daemon is reachable.
func (c *SocketClient) IsConnected() bool {
	return c.Ping() == nil
}
