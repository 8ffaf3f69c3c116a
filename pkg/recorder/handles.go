package recorder

import (
	"errors"
	"os"

	"github.com/cyclopcam/framerec/pkg/mediacodec"
	"github.com/cyclopcam/framerec/pkg/mux"
)

// encoderHandle owns a codec. release stops and closes it exactly once.
type encoderHandle struct {
	codec   mediacodec.Codec
	started bool
}

func (h *encoderHandle) release() error {
	if h.codec == nil {
		return nil
	}
	var errs []error
	if h.started {
		errs = append(errs, h.codec.Stop())
		h.started = false
	}
	errs = append(errs, h.codec.Close())
	h.codec = nil
	return errors.Join(errs...)
}

// muxerHandle owns a muxer and the file that it writes to.
// release stops the muxer (if it was started), closes it, and then closes the file, exactly once.
type muxerHandle struct {
	muxer   mux.Muxer
	file    *os.File
	started bool
}

func (h *muxerHandle) release() error {
	var errs []error
	if h.muxer != nil {
		if h.started {
			errs = append(errs, h.muxer.Stop())
			h.started = false
		}
		errs = append(errs, h.muxer.Close())
		h.muxer = nil
	}
	if h.file != nil {
		errs = append(errs, h.file.Close())
		h.file = nil
	}
	return errors.Join(errs...)
}
