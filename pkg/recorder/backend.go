package recorder

import (
	"os"

	"github.com/cyclopcam/framerec/pkg/mediacodec"
	"github.com/cyclopcam/framerec/pkg/mediacodec/ffcodec"
	"github.com/cyclopcam/framerec/pkg/mux"
	"github.com/cyclopcam/logs"
)

// Backend creates the platform encoder and container writer
type Backend interface {
	NewEncoder(mime string) (mediacodec.Codec, error)
	NewMuxer(file *os.File, format mux.OutputFormat) (mux.Muxer, error)
}

type ffmpegBackend struct {
	log     logs.Log
	options ffcodec.Options
}

// FFmpegBackend encodes with an ffmpeg subprocess, and writes containers with pkg/mux
func FFmpegBackend(logger logs.Log) Backend {
	return FFmpegBackendWithOptions(logger, ffcodec.DefaultOptions())
}

func FFmpegBackendWithOptions(logger logs.Log, options ffcodec.Options) Backend {
	return &ffmpegBackend{
		log:     logger,
		options: options,
	}
}

func (b *ffmpegBackend) NewEncoder(mime string) (mediacodec.Codec, error) {
	return ffcodec.NewWithOptions(b.log, mime, b.options)
}

func (b *ffmpegBackend) NewMuxer(file *os.File, format mux.OutputFormat) (mux.Muxer, error) {
	return mux.New(b.log, file, format)
}
