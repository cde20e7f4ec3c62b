package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// Config holds every setting a run needs. It is built once per invocation and
// handed to each component at construction.
type Config struct {
	BackupRoot    string `mapstructure:"backup_root" toml:"backup_root"`
	OrganizedDir  string `mapstructure:"organized_dir" toml:"organized_dir"`
	RawOffloadDir string `mapstructure:"raw_offload_dir" toml:"raw_offload_dir"`
	BufferDir     string `mapstructure:"buffer_dir" toml:"buffer_dir"`
	LogDir        string `mapstructure:"log_dir" toml:"log_dir"`
	DeviceRoot    string `mapstructure:"device_root" toml:"device_root"`

	UseExifTool  bool   `mapstructure:"use_exiftool" toml:"use_exiftool"`
	ExifToolPath string `mapstructure:"exiftool_path" toml:"exiftool_path"`

	ImageExt   []string `mapstructure:"image_extensions" toml:"image_extensions"`
	VideoExt   []string `mapstructure:"video_extensions" toml:"video_extensions"`
	SidecarExt []string `mapstructure:"sidecar_extensions" toml:"sidecar_extensions"`

	OriginalPrefix string `mapstructure:"original_prefix" toml:"original_prefix"`
	EditedPrefix   string `mapstructure:"edited_prefix" toml:"edited_prefix"`

	MP4UTCOffsetHours    int  `mapstructure:"mp4_utc_offset_hours" toml:"mp4_utc_offset_hours"`
	MP4StrictDayBoundary bool `mapstructure:"mp4_strict_day_boundary" toml:"mp4_strict_day_boundary"`
	ConfirmWhitelist     bool `mapstructure:"confirm_whitelist" toml:"confirm_whitelist"`

	ConvertExt      []string `mapstructure:"convert_extensions" toml:"convert_extensions"`
	ConvertCommand  string   `mapstructure:"convert_command" toml:"convert_command"`
	DeleteConverted bool     `mapstructure:"delete_converted" toml:"delete_converted"`

	ViewerCommand string `mapstructure:"viewer_command" toml:"viewer_command"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		BackupRoot:        filepath.Join(os.Getenv("HOME"), "camroll"),
		OrganizedDir:      "Organized",
		RawOffloadDir:     "Raw_Offload",
		BufferDir:         "Categorizing_Buffer",
		LogDir:            "Logs",
		UseExifTool:       true,
		ImageExt:          []string{".jpg", ".jpeg", ".heic", ".png", ".gif", ".webp"},
		VideoExt:          []string{".mov", ".mp4", ".3gp"},
		SidecarExt:        []string{".aae"},
		OriginalPrefix:    "IMG_",
		EditedPrefix:      "IMG_E",
		MP4UTCOffsetHours: 4,
		ConvertExt:        []string{".webp"},
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("backup_root", d.BackupRoot)
	v.SetDefault("organized_dir", d.OrganizedDir)
	v.SetDefault("raw_offload_dir", d.RawOffloadDir)
	v.SetDefault("buffer_dir", d.BufferDir)
	v.SetDefault("log_dir", d.LogDir)
	v.SetDefault("device_root", d.DeviceRoot)
	v.SetDefault("use_exiftool", d.UseExifTool)
	v.SetDefault("exiftool_path", d.ExifToolPath)
	v.SetDefault("image_extensions", d.ImageExt)
	v.SetDefault("video_extensions", d.VideoExt)
	v.SetDefault("sidecar_extensions", d.SidecarExt)
	v.SetDefault("original_prefix", d.OriginalPrefix)
	v.SetDefault("edited_prefix", d.EditedPrefix)
	v.SetDefault("mp4_utc_offset_hours", d.MP4UTCOffsetHours)
	v.SetDefault("mp4_strict_day_boundary", d.MP4StrictDayBoundary)
	v.SetDefault("confirm_whitelist", d.ConfirmWhitelist)
	v.SetDefault("convert_extensions", d.ConvertExt)
	v.SetDefault("convert_command", d.ConvertCommand)
	v.SetDefault("delete_converted", d.DeleteConverted)
	v.SetDefault("viewer_command", d.ViewerCommand)
}

// DefaultConfigPath is where LoadConfig looks when no explicit path is given.
func DefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to find user config dir: %w", err)
	}
	return filepath.Join(configDir, "camroll", "camroll.toml"), nil
}

// LoadConfig reads the TOML config at path, or the default location when path
// is empty. A missing file is not an error; defaults apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix("CAMROLL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path == "" {
		path = os.Getenv("CAMROLL_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to find user config dir: %w", err)
		}
		v.SetConfigName("camroll")
		v.AddConfigPath(filepath.Join(configDir, "camroll"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

// WriteDefaultConfig writes the defaults as TOML. It never overwrites.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(DefaultConfig()); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// normalize lowercases extensions and makes sure they carry a leading dot.
func (c *Config) normalize() {
	for _, list := range []*[]string{&c.ImageExt, &c.VideoExt, &c.SidecarExt, &c.ConvertExt} {
		out := make([]string, 0, len(*list))
		for _, e := range *list {
			e = strings.ToLower(strings.TrimSpace(e))
			if e == "" {
				continue
			}
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			out = append(out, e)
		}
		*list = out
	}
}

func (c *Config) resolve(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.BackupRoot, dir)
}

// OrganizedPath is the archive tree root.
func (c *Config) OrganizedPath() string { return c.resolve(c.OrganizedDir) }

// RawOffloadPath holds one dated folder per offload.
func (c *Config) RawOffloadPath() string { return c.resolve(c.RawOffloadDir) }

// BufferPath is the flat categorization buffer.
func (c *Config) BufferPath() string { return c.resolve(c.BufferDir) }

// LogPath holds the run log and the per-session manifests.
func (c *Config) LogPath() string { return c.resolve(c.LogDir) }
