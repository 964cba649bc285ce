package recorder

import (
	"fmt"
	"time"
)

// Options describe how ffmpeg captures the screen
type Options struct {
	FFmpegPath  string        `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path" json:"ffmpeg_path"`
	InputFormat string        `mapstructure:"input_format" yaml:"input_format" json:"input_format"`
	Input       string        `mapstructure:"input" yaml:"input" json:"input"`
	Resolution  string        `mapstructure:"resolution" yaml:"resolution" json:"resolution"`
	FrameRate   int           `mapstructure:"frame_rate" yaml:"frame_rate" json:"frame_rate"`
	Codec       string        `mapstructure:"codec" yaml:"codec" json:"codec"`
	Preset      string        `mapstructure:"preset" yaml:"preset" json:"preset"`
	ExtraArgs   []string      `mapstructure:"extra_args" yaml:"extra_args" json:"extra_args"`
	Extension   string        `mapstructure:"extension" yaml:"extension" json:"extension"`
	TempDir     string        `mapstructure:"temp_dir" yaml:"temp_dir" json:"temp_dir"`
	StopTimeout time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout" json:"stop_timeout"`
}

// DefaultOptions captures the X11 display :0.0
func DefaultOptions() Options {
	return Options{
		FFmpegPath:  "ffmpeg",
		InputFormat: "x11grab",
		Input:       ":0.0",
		FrameRate:   30,
		Codec:       "h264",
		Preset:      "ultrafast",
		Extension:   "mp4",
		StopTimeout: 10 * time.Second,
	}
}

// Validate checks the options and fills in defaults
func (o *Options) Validate() error {
	d := DefaultOptions()
	if o.FFmpegPath == "" {
		o.FFmpegPath = d.FFmpegPath
	}
	if o.Input == "" {
		return fmt.Errorf("recorder input is required")
	}
	if o.FrameRate < 0 {
		return fmt.Errorf("frame rate must be positive, got %d", o.FrameRate)
	}
	if o.Extension == "" {
		o.Extension = d.Extension
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = d.StopTimeout
	}
	return nil
}

// encoder maps common codec names to ffmpeg encoders
func encoder(codec string) string {
	switch codec {
	case "", "h264":
		return "libx264"
	case "h265", "hevc":
		return "libx265"
	case "vp9":
		return "libvpx-vp9"
	default:
		return codec
	}
}

// BuildArgs returns the ffmpeg arguments that capture into output
func BuildArgs(o Options, output string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}

	if o.InputFormat != "" {
		args = append(args, "-f", o.InputFormat)
	}
	if o.FrameRate > 0 {
		args = append(args, "-framerate", fmt.Sprintf("%d", o.FrameRate))
	}
	if o.Resolution != "" {
		args = append(args, "-video_size", o.Resolution)
	}
	args = append(args, "-i", o.Input)

	codec := encoder(o.Codec)
	args = append(args, "-c:v", codec)
	if o.Preset != "" && (codec == "libx264" || codec == "libx265") {
		args = append(args, "-preset", o.Preset)
	}
	args = append(args, "-pix_fmt", "yuv420p")

	args = append(args, o.ExtraArgs...)

	// Overwrite output
	return append(args, "-y", output)
}
