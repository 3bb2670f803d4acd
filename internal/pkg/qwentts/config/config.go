package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode     string  `mapstructure:"mode"`
	Text     string  `mapstructure:"text"`
	Speaker  string  `mapstructure:"speaker"`
	Preset   string  `mapstructure:"preset"`
	Instruct string  `mapstructure:"instruct"`
	Describe string  `mapstructure:"describe"`
	Ref      string  `mapstructure:"ref"`
	RefText  string  `mapstructure:"ref_text"`
	Record   float64 `mapstructure:"record"`

	Device string `mapstructure:"device"`
	Output string `mapstructure:"output"`
	Play   bool   `mapstructure:"play"`

	ModelsDir        string `mapstructure:"models_dir"`
	CustomVoiceModel string `mapstructure:"custom_voice_model"`
	VoiceDesignModel string `mapstructure:"voice_design_model"`
	VoiceCloneModel  string `mapstructure:"voice_clone_model"`
	MaxResident      int    `mapstructure:"max_resident"`
	SamplesDir       string `mapstructure:"samples_dir"`
	Speakers         string `mapstructure:"speakers"`

	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	ListVoices  bool `mapstructure:"list_voices"`
	ListDevices bool `mapstructure:"list_devices"`
	ListSamples bool `mapstructure:"list_samples"`
}

func defaultModelsDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "qwentts", "models")
	}
	return "models"
}

func LoadAndParse() (*Config, error) {
	viper.SetDefault("mode", "CustomVoice")
	viper.SetDefault("play", true)
	viper.SetDefault("models_dir", defaultModelsDir())
	viper.SetDefault("samples_dir", "samples")
	viper.SetDefault("max_resident", 1)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_file", "")

	flagSet := pflag.NewFlagSet("qwentts", pflag.ContinueOnError)
	configFile := flagSet.StringP("config", "c", "", "Path to config file")
	flagSet.StringP("mode", "m", "", "Generation mode (CustomVoice, VoiceDesign, VoiceClone)")
	flagSet.StringP("text", "t", "", "Text to synthesize (use '-' to read from stdin)")
	flagSet.StringP("file", "f", "", "Read text from file")
	flagSet.StringP("speaker", "v", "", "Speaker from the CustomVoice catalog")
	flagSet.StringP("preset", "p", "", "Emotion preset (Happy, Sad, Angry, Excited, Calm, Whisper)")
	flagSet.StringP("instruct", "i", "", "Free-text style instruction")
	flagSet.StringP("describe", "d", "", "Voice description (VoiceDesign mode)")
	flagSet.StringP("ref", "r", "", "Reference clip: sample name or WAV path (VoiceClone mode)")
	flagSet.String("ref-text", "", "Transcript of the reference clip")
	flagSet.Float64("record", 0, "Record a reference clip for N seconds, then exit")
	flagSet.String("device", "", "Output device name (default: system default)")
	flagSet.StringP("output", "o", "", "Save generated audio to a WAV file")
	flagSet.Bool("play", true, "Play generated audio")
	flagSet.String("models-dir", "", "Directory for downloaded model snapshots")
	flagSet.String("custom-voice-model", "", "Model id for CustomVoice mode")
	flagSet.String("voice-design-model", "", "Model id for VoiceDesign mode")
	flagSet.String("voice-clone-model", "", "Model id for VoiceClone mode")
	flagSet.Int("max-resident", 1, "How many models stay loaded (0 = all)")
	flagSet.String("samples-dir", "", "Directory for recorded reference clips")
	flagSet.String("speakers", "", "Comma-separated speaker catalog override")
	flagSet.StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	flagSet.String("log-file", "", "Log file path")
	flagSet.Bool("list-voices", false, "List catalog speakers and exit")
	flagSet.Bool("list-devices", false, "List output devices and exit")
	flagSet.Bool("list-samples", false, "List recorded reference clips and exit")
	helpFlag := flagSet.BoolP("help", "h", false, "Show help message")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	if *helpFlag {
		fmt.Fprintf(os.Stderr, "Usage: qwentts [options] [text]\n\nOptions:\n")
		flagSet.PrintDefaults()
		os.Exit(0)
	}

	bindings := map[string]string{
		"mode":               "mode",
		"text":               "text",
		"speaker":            "speaker",
		"preset":             "preset",
		"instruct":           "instruct",
		"describe":           "describe",
		"ref":                "ref",
		"ref_text":           "ref-text",
		"record":             "record",
		"device":             "device",
		"output":             "output",
		"play":               "play",
		"models_dir":         "models-dir",
		"custom_voice_model": "custom-voice-model",
		"voice_design_model": "voice-design-model",
		"voice_clone_model":  "voice-clone-model",
		"max_resident":       "max-resident",
		"samples_dir":        "samples-dir",
		"speakers":           "speakers",
		"log_level":          "log-level",
		"log_file":           "log-file",
		"list_voices":        "list-voices",
		"list_devices":       "list-devices",
		"list_samples":       "list-samples",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, flagSet.Lookup(flag)); err != nil {
			return nil, err
		}
	}

	if *configFile != "" {
		viper.SetConfigFile(*configFile)
	} else {
		viper.SetConfigName("qwentts.cfg")
		viper.SetConfigType("toml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("configs")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "qwentts"))
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	viper.SetEnvPrefix("QWENTTS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	textFile, _ := flagSet.GetString("file")
	if textFile != "" {
		content, err := os.ReadFile(textFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read text file: %w", err)
		}
		cfg.Text = strings.TrimSpace(string(content))
	} else if cfg.Text == "-" {
		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		cfg.Text = strings.TrimSpace(string(content))
	} else if cfg.Text == "" {
		args := flagSet.Args()
		if len(args) > 0 {
			cfg.Text = strings.Join(args, " ")
		}
	}

	listOnly := cfg.ListVoices || cfg.ListDevices || cfg.ListSamples
	if cfg.Text == "" && !listOnly && cfg.Record == 0 {
		return nil, fmt.Errorf("text is required (use -t, -f, or provide as argument)")
	}

	if cfg.Record < 0 {
		return nil, fmt.Errorf("record duration must be positive")
	}

	return &cfg, nil
}

// SpeakerCatalog parses the comma-separated speaker override, or returns
// nil when unset.
func (c *Config) SpeakerCatalog() []string {
	if c.Speakers == "" {
		return nil
	}
	parts := strings.Split(c.Speakers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
