// Package media builds ffmpeg argument vectors for audio and video conversion.
// Every supported (kind, target) pair has a fixed entry; anything else is rejected
// before a process is spawned.
package media

import (
	"sort"

	"bitgremlin/internal/pipeline"
)

// Target is one output format and the ffmpeg codec arguments that produce it.
type Target struct {
	Name        string
	Ext         string
	ContentType string
	Codec       []string
}

var convertTargets = map[pipeline.MediaKind]map[string]Target{
	pipeline.KindAudio: {
		"mp3":  {Name: "mp3", Ext: "mp3", ContentType: "audio/mpeg", Codec: []string{"-vn", "-c:a", "libmp3lame", "-q:a", "0"}},
		"wav":  {Name: "wav", Ext: "wav", ContentType: "audio/wav", Codec: []string{"-vn", "-c:a", "pcm_s16le"}},
		"flac": {Name: "flac", Ext: "flac", ContentType: "audio/flac", Codec: []string{"-vn", "-c:a", "flac"}},
		"ogg":  {Name: "ogg", Ext: "ogg", ContentType: "audio/ogg", Codec: []string{"-vn", "-c:a", "libvorbis", "-q:a", "5"}},
		"opus": {Name: "opus", Ext: "opus", ContentType: "audio/opus", Codec: []string{"-vn", "-c:a", "libopus", "-b:a", "128k"}},
		"aac":  {Name: "aac", Ext: "m4a", ContentType: "audio/mp4", Codec: []string{"-vn", "-c:a", "aac", "-b:a", "192k"}},
	},
	pipeline.KindVideo: {
		"mp4": {Name: "mp4", Ext: "mp4", ContentType: "video/mp4", Codec: []string{
			"-c:v", "libx264", "-preset", "veryfast", "-crf", "22", "-c:a", "aac", "-b:a", "192k",
		}},
		"webm": {Name: "webm", Ext: "webm", ContentType: "video/webm", Codec: []string{
			"-c:v", "libvpx-vp9", "-b:v", "0", "-crf", "34", "-c:a", "libopus", "-b:a", "160k",
		}},
	},
}

// LookupTarget returns the conversion target for kind, or UnsupportedOperation.
func LookupTarget(kind pipeline.MediaKind, target string) (Target, error) {
	t, ok := convertTargets[kind][target]
	if !ok {
		return Target{}, pipeline.UnsupportedOperation("unsupported %s target: %s", kind, target)
	}
	return t, nil
}

// Targets lists the supported targets for kind, sorted.
func Targets(kind pipeline.MediaKind) []string {
	out := make([]string, 0, len(convertTargets[kind]))
	for name := range convertTargets[kind] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ConvertArgs returns the ffmpeg argv converting in to out for the given target.
func ConvertArgs(t Target, in, out string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin", "-y", "-i", in}
	args = append(args, t.Codec...)
	return append(args, out)
}
