package main

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/morsekit/cwd/pkg/logging"
)

// handleRoot identifies the daemon to anyone poking at the web port.
func (d *Daemon) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":     "cwd",
		"version":  Version,
		"callsign": d.config.Station.Callsign,
		"grid":     d.config.Station.Grid,
	})
}

// handleGetStatus returns daemon status via socket.
func (d *Daemon) handleGetStatus(c *gin.Context) {
	status, err := d.socketClient.GetStatus()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

// handleSend queues text for transmission.
func (d *Daemon) handleSend(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := d.socketClient.SendText(req.Text); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "queued",
		"text":   req.Text,
	})
}

// handleSetSpeed sets the transmit or receive speed. Target defaults to
// tx; receive accepts "adaptive" instead of a number.
func (d *Daemon) handleSetSpeed(c *gin.Context) {
	var req struct {
		Target string `json:"target"`
		Speed  string `json:"speed" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Target == "" {
		req.Target = "tx"
	}

	var err error
	switch {
	case req.Target == "rx" && req.Speed == "adaptive":
		err = d.socketClient.SetAdaptive()
	default:
		var wpm int
		wpm, err = strconv.Atoi(req.Speed)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid speed: %q", req.Speed)})
			return
		}
		if req.Target == "rx" {
			err = d.socketClient.SetReceiveSpeed(wpm)
		} else {
			err = d.socketClient.SetSendSpeed(wpm)
		}
	}

	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "target": req.Target, "speed": req.Speed})
}

// handleSetFrequency sets the sidetone frequency.
func (d *Daemon) handleSetFrequency(c *gin.Context) {
	var req struct {
		Frequency int `json:"frequency" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := d.socketClient.SetFrequency(req.Frequency); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "frequency": req.Frequency})
}

// handleSetVolume sets the sidetone volume.
func (d *Daemon) handleSetVolume(c *gin.Context) {
	var req struct {
		Volume *int `json:"volume" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := d.socketClient.SetVolume(*req.Volume); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "volume": *req.Volume})
}

// handleKey forwards a key event from the web UI.
func (d *Daemon) handleKey(c *gin.Context) {
	var req struct {
		Key  string `json:"key" binding:"required"`
		Down *bool  `json:"down" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := d.socketClient.Key(req.Key, *req.Down); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleHalt aborts transmission and empties the tone queue.
func (d *Daemon) handleHalt(c *gin.Context) {
	if err := d.socketClient.Halt(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "halted"})
}

// handleGetStats returns receive timing statistics.
func (d *Daemon) handleGetStats(c *gin.Context) {
	stats, err := d.socketClient.GetStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// handleGetSessions returns recent session history.
func (d *Daemon) handleGetSessions(c *gin.Context) {
	limitStr := c.DefaultQuery("limit", "50")
	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		limit = 50
	}

	sessions, err := d.socketClient.GetSessions(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// handleDecodedWebSocket streams decoded characters to the client as
// they come off the receiver.
func (d *Daemon) handleDecodedWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warnf("web", "websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	decoded := d.coreEngine.Subscribe()
	defer d.coreEngine.Unsubscribe(decoded)

	// Reader goroutine detects the client going away.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case char, ok := <-decoded:
			if !ok {
				return
			}
			if err := conn.WriteJSON(char); err != nil {
				return
			}
		case <-clientGone:
			return
		case <-d.ctx.Done():
			return
		}
	}
}

// handleAudioWebSocket streams sidetone level and spectrum data at 10 Hz.
func (d *Daemon) handleAudioWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warnf("web", "websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	monitor := d.coreEngine.Monitor()

	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			levels := monitor.Levels()
			spectrum := monitor.Spectrum()

			data := map[string]interface{}{
				"type":        "audio_data",
				"timestamp":   levels.Timestamp,
				"sample_rate": spectrum.SampleRate,
				"rms":         levels.RMSLevel,
				"peak":        levels.PeakLevel,
				"clipping":    levels.Clipping,
				"dominant_hz": monitor.DominantFrequency(),
				"spectrum": map[string]interface{}{
					"bins":      spectrum.Spectrum,
					"freq_step": spectrum.FreqStep,
				},
			}

			if err := conn.WriteJSON(data); err != nil {
				return
			}
		case <-clientGone:
			return
		case <-d.ctx.Done():
			return
		}
	}
}
