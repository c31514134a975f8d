package media

import (
	"fmt"
	"strconv"

	"bitgremlin/internal/pipeline"
)

// AudioFormats are the formats the audio tool writes.
var AudioFormats = []string{"mp3", "wav", "flac", "ogg", "aac"}

// Bitrates and SampleRates are the values the audio tool accepts.
var (
	Bitrates    = []string{"64", "96", "128", "160", "192", "256", "320"}
	SampleRates = []string{"22050", "32000", "44100", "48000", "96000"}
)

// MaxClipSeconds bounds start and end offsets.
const MaxClipSeconds = 24 * 3600

const loudnorm = "loudnorm=I=-14:TP=-1.5:LRA=11"

// AudioOptions configures one audio tool run. Zero values mean "not set".
type AudioOptions struct {
	Format     string
	Start      float64
	End        float64
	Bitrate    string
	SampleRate string
	Normalize  bool
}

// AudioTarget returns the output description for an audio tool format. aac is
// written into an m4a container.
func AudioTarget(format string) (Target, error) {
	switch format {
	case "mp3":
		return Target{Name: "mp3", Ext: "mp3", ContentType: "audio/mpeg"}, nil
	case "aac":
		return Target{Name: "aac", Ext: "m4a", ContentType: "audio/mp4"}, nil
	case "ogg":
		return Target{Name: "ogg", Ext: "ogg", ContentType: "audio/ogg"}, nil
	case "flac":
		return Target{Name: "flac", Ext: "flac", ContentType: "audio/flac"}, nil
	case "wav":
		return Target{Name: "wav", Ext: "wav", ContentType: "audio/wav"}, nil
	default:
		return Target{}, pipeline.UnsupportedOperation("unsupported audio format: %s", format)
	}
}

// AudioArgs builds the ffmpeg argv for the audio tool: optional trim, resample and
// loudness normalization, then encode.
func AudioArgs(in, out string, o AudioOptions) ([]string, error) {
	if _, err := AudioTarget(o.Format); err != nil {
		return nil, err
	}
	if o.End > 0 && o.End <= o.Start {
		return nil, pipeline.InvalidRequest("end must be after start")
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin", "-y", "-i", in}
	if o.Start > 0 {
		args = append(args, "-ss", formatSeconds(o.Start))
	}
	if o.End > 0 {
		args = append(args, "-to", formatSeconds(o.End))
	}
	if o.SampleRate != "" {
		args = append(args, "-ar", o.SampleRate)
	}
	if o.Normalize {
		args = append(args, "-af", loudnorm)
	}

	bitrate := o.Bitrate
	if bitrate == "" {
		bitrate = "192"
	}
	switch o.Format {
	case "mp3":
		args = append(args, "-c:a", "libmp3lame", "-b:a", bitrate+"k")
	case "aac":
		args = append(args, "-c:a", "aac", "-b:a", bitrate+"k")
	case "ogg":
		args = append(args, "-c:a", "libvorbis", "-q:a", "5")
	case "flac":
		args = append(args, "-c:a", "flac")
	case "wav":
		args = append(args, "-c:a", "pcm_s16le")
	}
	return append(args, out), nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}

// OutputName is the download name for an audio tool result.
func OutputName(t Target) string {
	return fmt.Sprintf("output.%s", t.Ext)
}
