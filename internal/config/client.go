package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/banshee-data/blockview/internal/fsutil"
)

// DefaultConfigPath is where the client looks for its configuration when no
// -config flag is given. A missing file is not an error.
const DefaultConfigPath = "config/blockview.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Defaults for every ClientConfig field.
const (
	DefaultAPIBaseURL        = "http://localhost:8000"
	DefaultRequestTimeout    = 120 * time.Second
	DefaultAtlasDescriptor   = "assets/processed_atlas.json"
	DefaultAtlasImage        = "assets/vanilla.png"
	DefaultMaxBlocks         = 128
	DefaultFill              = true
	DefaultRemoveBackground  = true
	DefaultResolution        = 256
	DefaultMaxUploadMB       = 10
	DefaultFrameRate         = 60
	DefaultViewportWidth     = 1280
	DefaultViewportHeight    = 720
	DefaultViewerListenAddr  = "localhost:50061"
	DefaultMonitorListenAddr = "localhost:8081"
	DefaultHistoryDB         = "blockview.db"
	DefaultDownloadDir       = "downloads"
	DefaultSessionLifespan   = 24 * time.Hour
)

// ClientConfig holds the settings of the blockview client. Fields are
// pointers so a partial document leaves the rest at their defaults; read
// values through the Get* methods.
type ClientConfig struct {
	// Processing service
	APIBaseURL     *string `json:"api_base_url,omitempty"`
	RequestTimeout *string `json:"request_timeout,omitempty"` // duration string like "120s"

	// Block atlas
	AtlasDescriptor *string `json:"atlas_descriptor,omitempty"`
	AtlasImage      *string `json:"atlas_image,omitempty"`

	// Pipeline parameters
	MaxBlocks        *int  `json:"max_blocks,omitempty"`
	Fill             *bool `json:"fill,omitempty"`
	RemoveBackground *bool `json:"remove_background,omitempty"`
	Resolution       *int  `json:"resolution,omitempty"`
	MaxUploadMB      *int  `json:"max_upload_mb,omitempty"`

	// Rendering
	FrameRate      *int `json:"frame_rate,omitempty"`
	ViewportWidth  *int `json:"viewport_width,omitempty"`
	ViewportHeight *int `json:"viewport_height,omitempty"`

	// Servers and storage
	ViewerListenAddr  *string `json:"viewer_listen_addr,omitempty"`
	MonitorListenAddr *string `json:"monitor_listen_addr,omitempty"`
	HistoryDB         *string `json:"history_db,omitempty"`
	DownloadDir       *string `json:"download_dir,omitempty"`
	SessionLifespan   *string `json:"session_lifespan,omitempty"`
}

// EmptyClientConfig returns a ClientConfig with every field unset.
func EmptyClientConfig() *ClientConfig {
	return &ClientConfig{}
}

// LoadClientConfig reads a ClientConfig from a JSON file on fs. The file
// must have a .json extension and be under 1MB.
func LoadClientConfig(fs fsutil.FileSystem, path string) (*ClientConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := fs.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := fs.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyClientConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads path if it exists and otherwise returns an empty
// config, which yields defaults everywhere.
func LoadOrDefault(fs fsutil.FileSystem, path string) (*ClientConfig, error) {
	if !fs.Exists(path) {
		return EmptyClientConfig(), nil
	}
	return LoadClientConfig(fs, path)
}

// Validate checks the values that are set.
func (c *ClientConfig) Validate() error {
	if c.APIBaseURL != nil {
		u, err := url.Parse(*c.APIBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("api_base_url must be an absolute URL, got %q", *c.APIBaseURL)
		}
	}
	for name, v := range map[string]*string{
		"request_timeout":  c.RequestTimeout,
		"session_lifespan": c.SessionLifespan,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}
	for name, v := range map[string]*int{
		"max_blocks":      c.MaxBlocks,
		"resolution":      c.Resolution,
		"max_upload_mb":   c.MaxUploadMB,
		"frame_rate":      c.FrameRate,
		"viewport_width":  c.ViewportWidth,
		"viewport_height": c.ViewportHeight,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, *v)
		}
	}
	return nil
}

func getString(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func getInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func getBool(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func getDuration(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return def
	}
	return d
}

func (c *ClientConfig) GetAPIBaseURL() string { return getString(c.APIBaseURL, DefaultAPIBaseURL) }

func (c *ClientConfig) GetRequestTimeout() time.Duration {
	return getDuration(c.RequestTimeout, DefaultRequestTimeout)
}

func (c *ClientConfig) GetAtlasDescriptor() string {
	return getString(c.AtlasDescriptor, DefaultAtlasDescriptor)
}

func (c *ClientConfig) GetAtlasImage() string { return getString(c.AtlasImage, DefaultAtlasImage) }
func (c *ClientConfig) GetMaxBlocks() int     { return getInt(c.MaxBlocks, DefaultMaxBlocks) }
func (c *ClientConfig) GetFill() bool         { return getBool(c.Fill, DefaultFill) }

func (c *ClientConfig) GetRemoveBackground() bool {
	return getBool(c.RemoveBackground, DefaultRemoveBackground)
}

func (c *ClientConfig) GetResolution() int  { return getInt(c.Resolution, DefaultResolution) }
func (c *ClientConfig) GetMaxUploadMB() int { return getInt(c.MaxUploadMB, DefaultMaxUploadMB) }

// GetMaxUploadBytes is max_upload_mb expressed in bytes.
func (c *ClientConfig) GetMaxUploadBytes() int64 { return int64(c.GetMaxUploadMB()) << 20 }

func (c *ClientConfig) GetFrameRate() int      { return getInt(c.FrameRate, DefaultFrameRate) }
func (c *ClientConfig) GetViewportWidth() int  { return getInt(c.ViewportWidth, DefaultViewportWidth) }
func (c *ClientConfig) GetViewportHeight() int { return getInt(c.ViewportHeight, DefaultViewportHeight) }

// GetFrameInterval is the render loop period derived from frame_rate.
func (c *ClientConfig) GetFrameInterval() time.Duration {
	return time.Second / time.Duration(c.GetFrameRate())
}

func (c *ClientConfig) GetViewerListenAddr() string {
	return getString(c.ViewerListenAddr, DefaultViewerListenAddr)
}

func (c *ClientConfig) GetMonitorListenAddr() string {
	return getString(c.MonitorListenAddr, DefaultMonitorListenAddr)
}

func (c *ClientConfig) GetHistoryDB() string   { return getString(c.HistoryDB, DefaultHistoryDB) }
func (c *ClientConfig) GetDownloadDir() string { return getString(c.DownloadDir, DefaultDownloadDir) }

func (c *ClientConfig) GetSessionLifespan() time.Duration {
	return getDuration(c.SessionLifespan, DefaultSessionLifespan)
}
