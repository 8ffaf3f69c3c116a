package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/framerec/pkg/framesource"
	"github.com/cyclopcam/framerec/pkg/kibi"
	"github.com/cyclopcam/framerec/pkg/mux"
	"github.com/cyclopcam/framerec/pkg/recorder"
	"github.com/cyclopcam/framerec/pkg/videox"
	"github.com/cyclopcam/logs"
)

func check(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// Default output filename, eg video_2024-03-01_14-05-09.mp4
func defaultFilename(now time.Time, format mux.OutputFormat) string {
	return "video_" + now.Format("2006-01-02_15-04-05") + format.Extension()
}

func main() {
	parser := argparse.NewParser("framerec", "Encode synthetic RGBA frames into an H.264 video file")

	recordCmd := parser.NewCommand("record", "Record a test pattern to a video file")
	output := recordCmd.String("o", "output", &argparse.Options{Help: "Output file. Defaults to video_<date>_<time>.mp4"})
	configFile := recordCmd.String("c", "config", &argparse.Options{Help: "JSON config file. Flags override the config file"})
	fps := recordCmd.Float("", "fps", &argparse.Options{Help: "Frame rate", Default: 0.0})
	width := recordCmd.Int("", "width", &argparse.Options{Help: "Frame width", Default: 0})
	height := recordCmd.Int("", "height", &argparse.Options{Help: "Frame height", Default: 0})
	numFrames := recordCmd.Int("", "frames", &argparse.Options{Help: "Number of frames to record", Default: 150})
	pattern := recordCmd.Selector("", "pattern", []string{"bars", "solid"}, &argparse.Options{Help: "Frame content", Default: "bars"})
	color := recordCmd.String("", "color", &argparse.Options{Help: "Color of the solid pattern, as hex RGB", Default: "ff0000"})
	format := recordCmd.Selector("", "format", []string{"mp4", "ts"}, &argparse.Options{Help: "Container format"})
	bitRate := recordCmd.String("", "bitrate", &argparse.Options{Help: "Target bit rate, eg 500k or 2M"})
	realtime := recordCmd.Flag("", "realtime", &argparse.Options{Help: "Submit frames at the frame rate, instead of as fast as possible"})

	probeCmd := parser.NewCommand("probe", "Describe an MP4 file")
	probeFile := probeCmd.StringPositional(&argparse.Options{Help: "Video file", Required: true})
	thumbnail := probeCmd.String("t", "thumbnail", &argparse.Options{Help: "Write a JPEG of the first frame to this file (requires ffmpeg)"})

	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)

	if recordCmd.Happened() {
		cfg := recorder.DefaultConfig()
		if *configFile != "" {
			loaded, err := recorder.LoadConfig(*configFile)
			check(err)
			cfg = *loaded
		}
		if *fps != 0 {
			cfg.FPS = *fps
		}
		if *width != 0 {
			cfg.Cols = *width
		}
		if *height != 0 {
			cfg.Rows = *height
		}
		if *bitRate != "" {
			cfg.BitRate, err = kibi.ParseBitRate(*bitRate)
			check(err)
		}
		if *format != "" {
			cfg.Format = *format
		}
		if *output != "" {
			cfg.Filename = *output
			if *format == "" && strings.EqualFold(filepath.Ext(*output), ".ts") {
				cfg.Format = "ts"
			}
		}
		if cfg.Filename == "" {
			cfg.Filename = defaultFilename(time.Now(), cfg.OutputFormat())
		}
		rgb, err := framesource.ParseColor(*color)
		check(err)
		src, err := framesource.New(*pattern, cfg.Cols, cfg.Rows, rgb)
		check(err)
		check(record(logger, cfg, src, *numFrames, *realtime))
	} else if probeCmd.Happened() {
		check(probe(*probeFile, *thumbnail))
	}
}

func record(logger logs.Log, cfg recorder.Config, src framesource.Source, numFrames int, realtime bool) error {
	session := recorder.NewSession(logger, recorder.FFmpegBackend(logger))
	if err := session.Init(cfg); err != nil {
		return err
	}
	if err := session.Prepare(); err != nil {
		return err
	}

	var ticker *time.Ticker
	if realtime {
		ticker = time.NewTicker(time.Duration(float64(time.Second) / cfg.FPS))
		defer ticker.Stop()
	}

	start := time.Now()
	var writeErr error
	for i := 0; i < numFrames; i++ {
		if ticker != nil {
			<-ticker.C
		}
		if err := session.WriteFrameWait(src.Frame(i)); err != nil {
			writeErr = fmt.Errorf("Frame %v: %w", i, err)
			break
		}
	}
	endErr := session.End()
	if err := errors.Join(writeErr, endErr); err != nil {
		return err
	}
	stats := session.Stats()
	logger.Infof("Wrote %v in %.1f seconds. %v", cfg.Filename, time.Since(start).Seconds(), &stats)
	return nil
}

func probe(filename, thumbnail string) error {
	if strings.EqualFold(filepath.Ext(filename), ".ts") {
		// go-mp4 can't read transport streams
		info, err := videox.ProbeVideoStream(filename)
		if err != nil {
			return err
		}
		fmt.Printf("%v: %v %v x %v, %v frames\n", filename, info.Codec, info.Width, info.Height, info.Frames)
	} else {
		info, err := mux.ProbeMP4File(filename)
		if err != nil {
			return err
		}
		fmt.Printf("%v: fragmented: %v, tracks: %v\n", filename, info.Fragmented, len(info.Tracks))
		for _, t := range info.Tracks {
			fmt.Printf("  track %v: %v %v x %v, %v samples in %v fragments, duration %v\n", t.ID, t.Codec, t.Width, t.Height, t.Samples, t.Fragments, t.Duration)
		}
	}
	if thumbnail != "" {
		jpg, err := videox.ExtractFrame(filename, 0, 0)
		if err != nil {
			return err
		}
		if err := os.WriteFile(thumbnail, jpg, 0644); err != nil {
			return err
		}
		fmt.Printf("Wrote %v\n", thumbnail)
	}
	return nil
}
