package sdr

import (
	"context"
	"fmt"

	"github.com/rjboer/rxcal/internal/logging"
)

// WithStream opens a stream on dev, activates it and calls fn. The stream is
// deactivated and closed on every exit path, including panics in fn.
// Activation and deactivation faults are logged and do not stop the sequence.
func WithStream(ctx context.Context, dev Device, format string, channels []int, logger logging.Logger, fn func(ctx context.Context, s Stream) error) (err error) {
	if logger == nil {
		logger = logging.Default()
	}
	stream, err := dev.SetupStream(format, channels)
	if err != nil {
		return fmt.Errorf("setup stream: %w", err)
	}

	defer func() {
		if derr := stream.Deactivate(); derr != nil {
			logger.Error("deactivate stream failed", logging.F("code", FaultCode(derr)), logging.F("fault", ErrToStr(FaultCode(derr))), logging.F("err", derr))
		} else {
			logger.Info("deactivated rx stream")
		}
		if cerr := stream.Close(); cerr != nil {
			logger.Error("close stream failed", logging.F("err", cerr))
			if err == nil {
				err = fmt.Errorf("close stream: %w", cerr)
			}
		}
	}()

	if aerr := stream.Activate(); aerr != nil {
		logger.Error("activate stream failed", logging.F("code", FaultCode(aerr)), logging.F("fault", ErrToStr(FaultCode(aerr))), logging.F("err", aerr))
	}

	return fn(ctx, stream)
}
