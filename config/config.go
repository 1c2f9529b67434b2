package config

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/achilleasa/vkrt/device/software"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Prefix of the environment variables that override config file values.
const EnvPrefix = "VKRT_"

var ErrInvalidConfig = errors.New("config: invalid configuration")

// Upload settings for exporting rendered frames to an S3 compatible store.
type Upload struct {
	Enabled   bool   `json:"enabled"`
	Bucket    string `json:"bucket"`
	Prefix    string `json:"prefix"`
	Endpoint  string `json:"endpoint"`
	Region    string `json:"region"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	ACL       string `json:"acl"`
}

// Config holds the render settings.
type Config struct {
	Device string `json:"device"`

	// Frame dims.
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`

	// Number of frames to render and the number of frames that may be in
	// flight at once.
	Frames          uint32 `json:"frames"`
	FramesInFlight  uint32 `json:"frames_in_flight"`
	SwapchainImages uint32 `json:"swapchain_images"`

	// Camera orbit in degrees per frame.
	Orbit float32 `json:"orbit"`

	// Scene file; the reference scene is used when empty.
	Scene string `json:"scene"`

	// Output file; the extension selects the encoding. Scale resamples the
	// exported frame to the given width when non-zero.
	Out   string `json:"out"`
	Scale uint   `json:"scale"`

	LogLevel string `json:"log_level"`

	Upload Upload `json:"upload"`
}

// Flags holds CLI flag values that override everything else.
type Flags struct {
	ConfigFile     string
	Device         string
	Width          uint32
	Height         uint32
	Frames         uint32
	FramesInFlight uint32
	Out            string
	Scale          uint
	Upload         bool
	Scene          string
}

// Load reads a JSON config file. Fields not set in the file keep their zero
// values.
func Load(path string) (Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config: read %s", path)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "config: parse %s", path)
	}
	return cfg, nil
}

// LoadDotEnv loads a .env file into the process environment. Variables that
// are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return errors.Wrapf(err, "config: load %s", path)
	}
	return nil
}

// ApplyEnv overrides config values with VKRT_* variables returned by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	u32 := func(name string, dst *uint32) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
		if err != nil {
			return errors.Wrapf(ErrInvalidConfig, "%s%s: %v", EnvPrefix, name, err)
		}
		*dst = uint32(n)
		return nil
	}

	str("DEVICE", &c.Device)
	str("SCENE", &c.Scene)
	str("OUT", &c.Out)
	str("LOG_LEVEL", &c.LogLevel)
	str("S3_BUCKET", &c.Upload.Bucket)
	str("S3_PREFIX", &c.Upload.Prefix)
	str("S3_ENDPOINT", &c.Upload.Endpoint)
	str("S3_REGION", &c.Upload.Region)
	str("S3_ACCESS_KEY", &c.Upload.AccessKey)
	str("S3_SECRET_KEY", &c.Upload.SecretKey)

	for name, dst := range map[string]*uint32{
		"WIDTH":            &c.Width,
		"HEIGHT":           &c.Height,
		"FRAMES":           &c.Frames,
		"FRAMES_IN_FLIGHT": &c.FramesInFlight,
		"SWAPCHAIN_IMAGES": &c.SwapchainImages,
	} {
		if err := u32(name, dst); err != nil {
			return err
		}
	}

	var scale uint32
	if err := u32("SCALE", &scale); err != nil {
		return err
	}
	if scale != 0 {
		c.Scale = uint(scale)
	}

	if v, ok := lookup(EnvPrefix + "ORBIT"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 32)
		if err != nil {
			return errors.Wrapf(ErrInvalidConfig, "%sORBIT: %v", EnvPrefix, err)
		}
		c.Orbit = float32(f)
	}
	if v, ok := lookup(EnvPrefix + "UPLOAD"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrapf(ErrInvalidConfig, "%sUPLOAD: %v", EnvPrefix, err)
		}
		c.Upload.Enabled = b
	}
	return nil
}

// Resolve applies the CLI flags and fills in any empty fields with defaults.
// CLI flags take priority when non-zero/non-empty.
func (c *Config) Resolve(flags Flags) {
	if flags.Device != "" {
		c.Device = flags.Device
	}
	if flags.Width > 0 {
		c.Width = flags.Width
	}
	if flags.Height > 0 {
		c.Height = flags.Height
	}
	if flags.Frames > 0 {
		c.Frames = flags.Frames
	}
	if flags.FramesInFlight > 0 {
		c.FramesInFlight = flags.FramesInFlight
	}
	if flags.Out != "" {
		c.Out = flags.Out
	}
	if flags.Scale > 0 {
		c.Scale = flags.Scale
	}
	if flags.Upload {
		c.Upload.Enabled = true
	}
	if flags.Scene != "" {
		c.Scene = flags.Scene
	}

	if c.Device == "" {
		c.Device = software.DefaultProfile
	}
	if c.Width == 0 {
		c.Width = 320
	}
	if c.Height == 0 {
		c.Height = 240
	}
	if c.Frames == 0 {
		c.Frames = 1
	}
	if c.FramesInFlight == 0 {
		c.FramesInFlight = 2
	}
	if c.SwapchainImages == 0 {
		c.SwapchainImages = c.FramesInFlight + 1
	}
	if c.Out == "" {
		c.Out = "frame.png"
	}
	if c.LogLevel == "" {
		c.LogLevel = "notice"
	}
	if c.Upload.ACL == "" {
		c.Upload.ACL = "private"
	}
}

// The object key used when uploading the exported frame.
func (c *Config) UploadKey() string {
	name := filepath.Base(c.Out)
	if c.Upload.Prefix == "" {
		return name
	}
	return strings.TrimSuffix(c.Upload.Prefix, "/") + "/" + name
}

// Validate a resolved config.
func (c *Config) Validate() error {
	if c.Width == 0 || c.Height == 0 {
		return errors.Wrapf(ErrInvalidConfig, "frame size %dx%d", c.Width, c.Height)
	}
	if c.FramesInFlight > c.SwapchainImages {
		return errors.Wrapf(ErrInvalidConfig, "%d frames in flight need at least as many swapchain images; got %d", c.FramesInFlight, c.SwapchainImages)
	}
	if c.Upload.Enabled && c.Upload.Bucket == "" {
		return errors.Wrap(ErrInvalidConfig, "upload enabled without a bucket")
	}
	return nil
}

// Build the render config: the config file (if any), then the .env file, then
// the VKRT_* environment, then the CLI flags.
func FromSources(flags Flags, dotEnv string) (Config, error) {
	var (
		cfg Config
		err error
	)
	if flags.ConfigFile != "" {
		if cfg, err = Load(flags.ConfigFile); err != nil {
			return Config{}, err
		}
	}
	if err = LoadDotEnv(dotEnv); err != nil {
		return Config{}, err
	}
	if err = cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	cfg.Resolve(flags)
	return cfg, cfg.Validate()
}
