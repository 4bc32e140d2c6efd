// Package config loads and validates the Hub's YAML configuration, per
// spec.md §6 "Configuration (Hub)". Edge configuration is a small subset
// (registry address, listen ports, TLS) and shares the same Validate
// aggregation style.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AutoBan holds the repeated-failed-connection throttle settings.
type AutoBan struct {
	Attempts                  int           `yaml:"attempts"`
	Timeframe                 time.Duration `yaml:"timeframe"`
	Duration                  time.Duration `yaml:"duration"`
	BanSuccessfulConnections  bool          `yaml:"banSuccessfulConnections"`
}

// Suggest holds the optional client-suggested-version/feature hints sent
// on connect.
type Suggest struct {
	Version      string `yaml:"version,omitempty"`
	Positional   *bool  `yaml:"positional,omitempty"`
	PushToTalk   *bool  `yaml:"pushToTalk,omitempty"`
}

// TLS holds certificate material for the Edge's client-facing listener.
type TLS struct {
	Cert               string `yaml:"cert"`
	Key                string `yaml:"key"`
	CA                 string `yaml:"ca,omitempty"`
	RejectUnauthorized bool   `yaml:"rejectUnauthorized"`
}

// Registry holds Edge<->Hub registration/heartbeat tuning.
type Registry struct {
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxEdges          int           `yaml:"maxEdges"`
}

// Database holds the Hub's sqlite file and periodic backup settings
// (§10 "Periodic snapshot / freeze" supplement).
type Database struct {
	Path           string        `yaml:"path"`
	BackupDir      string        `yaml:"backupDir,omitempty"`
	BackupInterval time.Duration `yaml:"backupInterval,omitempty"`
	WALMode        bool          `yaml:"walMode"`
}

// BlobStore holds pkg/blobstore's filesystem backend settings.
type BlobStore struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// WebAPI holds pkg/webadmin's listener settings.
type WebAPI struct {
	Enabled bool     `yaml:"enabled"`
	Port    int      `yaml:"port"`
	CORS    []string `yaml:"cors,omitempty"`
}

// Hub is the full Hub process configuration.
type Hub struct {
	ServerID uint64 `yaml:"server_id"`
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`

	ControlPort int           `yaml:"controlPort"`
	VoicePort   int           `yaml:"voicePort"`
	Timeout     time.Duration `yaml:"timeout"`

	MaxUsers            int `yaml:"maxUsers"`
	MaxUsersPerChannel  int `yaml:"maxUsersPerChannel"`
	ChannelNestingLimit int `yaml:"channelNestingLimit"`
	ChannelCountLimit   int `yaml:"channelCountLimit"`

	Bandwidth           int `yaml:"bandwidth"`
	TextMessageLength   int `yaml:"textMessageLength"`
	ImageMessageLength  int `yaml:"imageMessageLength"`
	MessageLimit        int `yaml:"messageLimit"`
	MessageBurst        int `yaml:"messageBurst"`
	PluginMessageLimit  int `yaml:"pluginMessageLimit"`
	PluginMessageBurst  int `yaml:"pluginMessageBurst"`

	KDFIterations int `yaml:"kdfIterations"`

	AllowHTML        bool   `yaml:"allowHTML"`
	UsernameRegex    string `yaml:"usernameRegex,omitempty"`
	ChannelNameRegex string `yaml:"channelNameRegex,omitempty"`

	DefaultChannel    int64 `yaml:"defaultChannel"`
	RememberChannel   bool  `yaml:"rememberChannel"`
	ListenersPerChannel int `yaml:"listenersPerChannel"`
	ListenersPerUser    int `yaml:"listenersPerUser"`

	AllowRecording bool `yaml:"allowRecording"`
	SendVersion    bool `yaml:"sendVersion"`
	AllowPing      bool `yaml:"allowPing"`
	LogDays        int  `yaml:"logDays"`

	AutoBan   AutoBan   `yaml:"autoBan"`
	Suggest   Suggest   `yaml:"suggest"`
	TLS       TLS       `yaml:"tls"`
	Registry  Registry  `yaml:"registry"`
	Database  Database  `yaml:"database"`
	BlobStore BlobStore `yaml:"blobStore"`
	WebAPI    WebAPI    `yaml:"webApi"`
}

// Default returns a Hub config populated with every documented default,
// ready to be overlaid by a parsed file.
func Default() *Hub {
	return &Hub{
		ControlPort:         8443,
		Timeout:             30 * time.Second,
		MaxUsers:            1000,
		ChannelNestingLimit: 10,
		ChannelCountLimit:   1000,
		Bandwidth:           558000,
		TextMessageLength:   5000,
		ImageMessageLength:  131072,
		MessageLimit:        1,
		MessageBurst:        5,
		PluginMessageLimit:  4,
		PluginMessageBurst:  15,
		KDFIterations:       -1,
		AllowHTML:           true,
		RememberChannel:     true,
		AllowRecording:      true,
		SendVersion:         true,
		AllowPing:           true,
		LogDays:             31,
		AutoBan: AutoBan{
			Attempts:                 10,
			Timeframe:                120 * time.Second,
			Duration:                 300 * time.Second,
			BanSuccessfulConnections: true,
		},
	}
}

// Load reads and parses a YAML file at path, overlaying it on Default(),
// then validates the result.
func Load(path string) (*Hub, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate aggregates every violated rule into one error instead of
// failing on the first (§7 "Configuration errors: fail-fast at startup
// with a human-readable aggregate error enumerating every violated
// rule").
func (h *Hub) Validate() error {
	var errs []string

	if h.Name == "" {
		errs = append(errs, "name is required")
	}
	if h.Host == "" {
		errs = append(errs, "host is required")
	} else if ip := net.ParseIP(h.Host); ip == nil && !isHostname(h.Host) {
		errs = append(errs, fmt.Sprintf("host %q is not a valid address or hostname", h.Host))
	}
	if h.Port < 1 || h.Port > 65535 {
		errs = append(errs, fmt.Sprintf("port %d must be in [1,65535]", h.Port))
	}

	if h.TLS.Cert == "" || h.TLS.Key == "" {
		errs = append(errs, "tls.cert and tls.key are required")
	}

	if h.Registry.MaxEdges < 0 {
		errs = append(errs, "registry.maxEdges must not be negative")
	}
	if h.Registry.HeartbeatInterval <= 0 {
		errs = append(errs, "registry.heartbeatInterval must be positive")
	}
	if h.Registry.Timeout <= 0 {
		errs = append(errs, "registry.timeout must be positive")
	}

	if h.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if h.Database.BackupInterval < 0 {
		errs = append(errs, "database.backupInterval must not be negative")
	}

	if h.BlobStore.Enabled && h.BlobStore.Path == "" {
		errs = append(errs, "blobStore.path is required when blobStore.enabled")
	}

	if h.WebAPI.Enabled && (h.WebAPI.Port < 1 || h.WebAPI.Port > 65535) {
		errs = append(errs, fmt.Sprintf("webApi.port %d must be in [1,65535]", h.WebAPI.Port))
	}

	if h.UsernameRegex != "" {
		if _, err := regexp.Compile(h.UsernameRegex); err != nil {
			errs = append(errs, fmt.Sprintf("usernameRegex is invalid: %v", err))
		}
	}
	if h.ChannelNameRegex != "" {
		if _, err := regexp.Compile(h.ChannelNameRegex); err != nil {
			errs = append(errs, fmt.Sprintf("channelNameRegex is invalid: %v", err))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.New("config: invalid configuration:\n  - " + strings.Join(errs, "\n  - "))
}

// HubConn holds the Edge's connection settings for reaching its Hub.
type HubConn struct {
	ControlAddr string        `yaml:"controlAddr"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Edge is the full Edge process configuration: its own client/voice
// listeners plus where to find the Hub it mirrors state from.
type Edge struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Region    string `yaml:"region,omitempty"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	VoicePort int    `yaml:"voicePort"`
	Capacity  int    `yaml:"capacity"`

	TLS TLS     `yaml:"tls"`
	Hub HubConn `yaml:"hub"`

	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`

	WebAPI WebAPI `yaml:"webApi"`
}

// DefaultEdge returns an Edge config populated with every documented
// default, ready to be overlaid by a parsed file.
func DefaultEdge() *Edge {
	return &Edge{
		Capacity:          200,
		HeartbeatInterval: 5 * time.Second,
		Hub:               HubConn{Timeout: 10 * time.Second},
	}
}

// LoadEdge reads and parses a YAML file at path, overlaying it on
// DefaultEdge(), then validates the result.
func LoadEdge(path string) (*Edge, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := DefaultEdge()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate aggregates every violated rule into one error, matching Hub's
// fail-fast style (§7).
func (e *Edge) Validate() error {
	var errs []string

	if e.ID == "" {
		errs = append(errs, "id is required")
	}
	if e.Host == "" {
		errs = append(errs, "host is required")
	} else if ip := net.ParseIP(e.Host); ip == nil && !isHostname(e.Host) {
		errs = append(errs, fmt.Sprintf("host %q is not a valid address or hostname", e.Host))
	}
	if e.Port < 1 || e.Port > 65535 {
		errs = append(errs, fmt.Sprintf("port %d must be in [1,65535]", e.Port))
	}
	if e.VoicePort < 1 || e.VoicePort > 65535 {
		errs = append(errs, fmt.Sprintf("voicePort %d must be in [1,65535]", e.VoicePort))
	}
	if e.Capacity <= 0 {
		errs = append(errs, "capacity must be positive")
	}

	if e.TLS.Cert == "" || e.TLS.Key == "" {
		errs = append(errs, "tls.cert and tls.key are required")
	}

	if e.Hub.ControlAddr == "" {
		errs = append(errs, "hub.controlAddr is required")
	}
	if e.Hub.Timeout <= 0 {
		errs = append(errs, "hub.timeout must be positive")
	}
	if e.HeartbeatInterval <= 0 {
		errs = append(errs, "heartbeatInterval must be positive")
	}

	if e.WebAPI.Enabled && (e.WebAPI.Port < 1 || e.WebAPI.Port > 65535) {
		errs = append(errs, fmt.Sprintf("webApi.port %d must be in [1,65535]", e.WebAPI.Port))
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.New("config: invalid configuration:\n  - " + strings.Join(errs, "\n  - "))
}

func isHostname(s string) bool {
	if s == "" || s == "localhost" {
		return true
	}
	for _, r := range s {
		if !(r == '.' || r == '-' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}
