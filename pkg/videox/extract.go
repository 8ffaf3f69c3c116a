package videox

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Summary of the first video stream in a file, as reported by ffprobe
type VideoStreamInfo struct {
	Codec  string // ffmpeg codec name, eg "h264"
	Width  int
	Height int
	Frames int // Number of decoded frames
}

// Decode the first video stream of a file and report what we found.
// This decodes every frame, so it's only suitable for short clips.
func ProbeVideoStream(srcFilename string) (*VideoStreamInfo, error) {
	args := []string{
		"-v",
		"error",
		"-count_frames",
		"-select_streams",
		"v:0",
		"-show_entries",
		"stream=codec_name,width,height,nb_read_frames",
		"-of",
		"default=noprint_wrappers=1",
		srcFilename,
	}
	out, err := RunAppCombinedOutput("ffprobe", args)
	if err != nil {
		return nil, err
	}
	info := &VideoStreamInfo{}
	for _, line := range strings.Split(string(out), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "codec_name":
			info.Codec = value
		case "width":
			info.Width, _ = strconv.Atoi(value)
		case "height":
			info.Height, _ = strconv.Atoi(value)
		case "nb_read_frames":
			info.Frames, _ = strconv.Atoi(value)
		}
	}
	if info.Codec == "" {
		return nil, fmt.Errorf("No video stream found in %v", srcFilename)
	}
	return info, nil
}

// Extract a single frame from a video file and return the JPEG bytes
// If outputWidth is zero, then we use the same width as the input video
func ExtractFrame(srcFilename string, atSecond float64, outputWidth int) ([]byte, error) {
	tmp, err := os.CreateTemp("", "framerec-*.jpg")
	if err != nil {
		return nil, err
	}
	tmpFilename := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpFilename)
	args := []string{
		"-y",
		"-ss",
		fmt.Sprintf("%.3f", atSecond),
		"-i",
		srcFilename,
	}
	if outputWidth > 0 {
		args = append(args,
			"-vf",
			fmt.Sprintf("scale=%v:-1", outputWidth),
		)
	}
	args = append(args,
		"-frames:v",
		"1",
		"-q:v",
		"8",
		tmpFilename,
	)
	_, err = RunAppCombinedOutput("ffmpeg", args)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(tmpFilename)
}

// Returns true if the named executable (eg "ffmpeg") can be found in the PATH
func HaveApp(app_name string) bool {
	_, err := exec.LookPath(app_name)
	return err == nil
}

// app_name is an executable, such as "ffmpeg" or "ffprobe"
// args must not include the executable name as the first parameter
// Returns the string output from exec.Cmd's "CombinedOutput" method.
func RunAppCombinedOutput(app_name string, args []string) ([]byte, error) {
	app_path, err := exec.LookPath(app_name)
	if err != nil {
		return nil, fmt.Errorf("Unable to find '%v' in your path (%w)", app_name, err)
	}
	args_with_app := append([]string{app_name}, args...)
	cmd := &exec.Cmd{
		Path: app_path,
		Args: args_with_app,
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		outStr := ""
		if out != nil {
			outStr = string(out)
		}
		return nil, fmt.Errorf("%v execution failed: %w (%v)", app_name, err, outStr)
	}
	return out, nil
}
