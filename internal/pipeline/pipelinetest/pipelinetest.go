// Package pipelinetest provides fake external tools for tests. The test binary
// re-executes itself as the tool, so no real ffmpeg, qpdf or gs is needed.
//
// A test package wires it up with:
//
//	func TestHelperProcess(t *testing.T) { pipelinetest.Main() }
package pipelinetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const helperEnv = "GO_WANT_HELPER_PROCESS"

// Command re-runs the test binary as the fake tool named by the base of name.
func Command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cs := append([]string{"-test.run=TestHelperProcess", "--", filepath.Base(name)}, args...)
	cmd := exec.CommandContext(ctx, os.Args[0], cs...)
	cmd.Env = append(os.Environ(), helperEnv+"=1")
	return cmd
}

// Call is one recorded invocation.
type Call struct {
	Tool string
	Args []string
}

// Recorder records every invocation before delegating to Command.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
}

// Command records the call and builds the fake tool command.
func (r *Recorder) Command(ctx context.Context, name string, args ...string) *exec.Cmd {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Tool: filepath.Base(name), Args: append([]string(nil), args...)})
	r.mu.Unlock()
	return Command(ctx, name, args...)
}

// Calls returns the recorded invocations.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// LookPath resolves only the listed tools, to /fake/bin/<name>.
func LookPath(available ...string) func(string) (string, error) {
	set := map[string]bool{}
	for _, name := range available {
		set[name] = true
	}
	return func(name string) (string, error) {
		if set[filepath.Base(name)] {
			if filepath.IsAbs(name) {
				return name, nil
			}
			return "/fake/bin/" + name, nil
		}
		return "", &exec.Error{Name: name, Err: exec.ErrNotFound}
	}
}

// Main runs the fake tool when the process was started by Command and exits. It
// returns immediately otherwise.
func Main() {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "no tool")
		os.Exit(2)
	}
	os.Exit(run(args[1], args[2:]))
}

func run(tool string, args []string) int {
	switch tool {
	case "cat":
		io.Copy(os.Stdout, os.Stdin)
	case "strict-cat":
		n, _ := io.Copy(os.Stdout, os.Stdin)
		if n == 0 {
			fmt.Fprint(os.Stderr, "empty input")
			return 1
		}
	case "fail":
		fmt.Fprint(os.Stderr, "boom: bad input")
		return 2
	case "silent":
		return 3
	case "sleep":
		time.Sleep(time.Minute)
	case "ffmpeg":
		return ffmpeg(args)
	case "yt-dlp", "youtube-dl":
		url := args[len(args)-1]
		if strings.Contains(url, "unavailable") {
			fmt.Fprint(os.Stderr, "ERROR: Video unavailable")
			return 1
		}
		fmt.Fprint(os.Stdout, "media-stream:"+tool)
	case "gs":
		var out string
		var inputs []string
		for _, a := range args {
			switch {
			case strings.HasPrefix(a, "-sOutputFile="):
				out = strings.TrimPrefix(a, "-sOutputFile=")
			case !strings.HasPrefix(a, "-"):
				inputs = append(inputs, a)
			}
		}
		return concat(out, inputs)
	case "pdfunite":
		return concat(args[len(args)-1], args[:len(args)-1])
	case "qpdf":
		return qpdf(args)
	case "pdftotext":
		data, err := os.ReadFile(args[len(args)-2])
		if err != nil {
			fmt.Fprint(os.Stderr, err)
			return 1
		}
		text := fmt.Sprintf("text:%d", len(data))
		if out := args[len(args)-1]; out != "-" {
			if err := os.WriteFile(out, []byte(text), 0o600); err != nil {
				return 1
			}
			return 0
		}
		fmt.Fprint(os.Stdout, text)
	case "cwebp":
		out := args[len(args)-1]
		if err := os.WriteFile(out, []byte("RIFF....WEBP"), 0o600); err != nil {
			return 1
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown fake tool %q", tool)
		return 127
	}
	return 0
}

// ffmpeg copies the input to the output. Inputs whose content starts with "corrupt"
// fail the way ffmpeg does on undecodable data.
func ffmpeg(args []string) int {
	var in string
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "-i" {
			in = args[i+1]
		}
	}
	out := args[len(args)-1]

	var data []byte
	if in == "pipe:0" || in == "-" {
		data, _ = io.ReadAll(os.Stdin)
	} else {
		var err error
		data, err = os.ReadFile(in)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: No such file or directory", in)
			return 1
		}
	}
	if bytes.HasPrefix(data, []byte("corrupt")) {
		fmt.Fprintf(os.Stderr, "%s: Invalid data found when processing input", in)
		return 1
	}

	if out == "pipe:1" || out == "-" {
		os.Stdout.Write(data)
		return 0
	}
	if err := os.WriteFile(out, data, 0o600); err != nil {
		fmt.Fprint(os.Stderr, err)
		return 1
	}
	return 0
}

// qpdf answers --show-npages with 10 and otherwise copies the input to the output.
func qpdf(args []string) int {
	var pos []string
	showPages := false
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--show-npages":
			showPages = true
		case a == "--pages":
			for i < len(args) && args[i] != "--" {
				i++
			}
		case strings.HasPrefix(a, "-"):
		default:
			pos = append(pos, a)
		}
	}
	if len(pos) == 0 {
		fmt.Fprint(os.Stderr, "qpdf: no input")
		return 2
	}
	if showPages {
		fmt.Fprintln(os.Stdout, "10")
		return 0
	}
	return concat(pos[len(pos)-1], pos[:1])
}

func concat(out string, inputs []string) int {
	var buf bytes.Buffer
	for _, in := range inputs {
		data, err := os.ReadFile(in)
		if err != nil {
			fmt.Fprint(os.Stderr, err)
			return 1
		}
		buf.Write(data)
	}
	if err := os.WriteFile(out, buf.Bytes(), 0o600); err != nil {
		fmt.Fprint(os.Stderr, err)
		return 1
	}
	return 0
}
