package daemon

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shaneisley/patience-gate/pkg/metrics"
	"github.com/shaneisley/patience-gate/pkg/monitoring"
	"github.com/shaneisley/patience-gate/pkg/scheduler"
	"github.com/shaneisley/patience-gate/pkg/translate"
)

// ProtocolVersion is the only version the socket protocol speaks
const ProtocolVersion = "1.0"

// Message types on the wire. Every message is one JSON object per line.
const (
	TypeHandshake         = "handshake"
	TypeHandshakeResponse = "handshake_response"
	TypeTranslate         = "translate"
	TypeTranslateResult   = "translate_result"
	TypeStats             = "stats"
	TypeStatsResponse     = "stats_response"
	TypeError             = "error"
)

// HandshakeRequest opens a session
type HandshakeRequest struct {
	Type    string `json:"type"`
	Version string `json:"version"`
	Client  string `json:"client"`
}

// HandshakeResponse accepts a session
type HandshakeResponse struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Version string `json:"version"`
}

// TranslateRequest asks the daemon to translate through its scheduler
type TranslateRequest struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"` // echoed back, chosen by the client
	translate.Request
}

// TranslateResult carries a completed translation
type TranslateResult struct {
	Type     string             `json:"type"`
	ID       string             `json:"id,omitempty"`
	Response translate.Response `json:"response"`
}

// StatsRequest asks for a daemon snapshot
type StatsRequest struct {
	Type string `json:"type"`
}

// StatsResponse is a point-in-time view of the daemon
type StatsResponse struct {
	Type      string           `json:"type"`
	Uptime    time.Duration    `json:"uptime"`
	Scheduler scheduler.Stats  `json:"scheduler"`
	Counters  metrics.Counters `json:"counters"`
	CacheSize int              `json:"cache_size"`
	Workers   WorkerPoolStats  `json:"workers"`
	Providers []string         `json:"providers"`

	Resources monitoring.ResourceSnapshot `json:"resources"`
}

// ErrorResponse reports a failed request
type ErrorResponse struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error"`
}

// Message is implemented by every protocol message
type Message interface {
	GetType() string
}

func (m HandshakeRequest) GetType() string  { return m.Type }
func (m HandshakeResponse) GetType() string { return m.Type }
func (m TranslateRequest) GetType() string  { return m.Type }
func (m TranslateResult) GetType() string   { return m.Type }
func (m StatsRequest) GetType() string      { return m.Type }
func (m StatsResponse) GetType() string     { return m.Type }
func (m ErrorResponse) GetType() string     { return m.Type }

// DecodeMessage parses one line into its concrete message type
func DecodeMessage(line []byte) (Message, error) {
	var typeCheck struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &typeCheck); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	var msg Message
	var err error
	switch typeCheck.Type {
	case TypeHandshake:
		var m HandshakeRequest
		err = json.Unmarshal(line, &m)
		msg = m
	case TypeHandshakeResponse:
		var m HandshakeResponse
		err = json.Unmarshal(line, &m)
		msg = m
	case TypeTranslate:
		var m TranslateRequest
		err = json.Unmarshal(line, &m)
		msg = m
	case TypeTranslateResult:
		var m TranslateResult
		err = json.Unmarshal(line, &m)
		msg = m
	case TypeStats:
		var m StatsRequest
		err = json.Unmarshal(line, &m)
		msg = m
	case TypeStatsResponse:
		var m StatsResponse
		err = json.Unmarshal(line, &m)
		msg = m
	case TypeError:
		var m ErrorResponse
		err = json.Unmarshal(line, &m)
		msg = m
	default:
		return nil, fmt.Errorf("unknown message type %q", typeCheck.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s message: %w", typeCheck.Type, err)
	}
	return msg, nil
}

// EncodeMessage renders msg as one newline-terminated line
func EncodeMessage(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
