package consumers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/tanayshah11/mercury-stream/internal/bus"
)

// RawRecorder appends every decoded event it sees to a JSONL file, verbatim,
// for offline replay/debugging. Off by default (RECORD=false); enabling it
// adds a Bus subscription like any other consumer.
type RawRecorder struct {
	log zerolog.Logger
	fh  *os.File
	w   *bufio.Writer
}

// NewRawRecorder opens path for append, creating parent directories as
// needed. Returns an error if the file cannot be opened; callers should
// treat that as fatal only for this consumer, not the whole process.
func NewRawRecorder(path string, log zerolog.Logger) (*RawRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	fh, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &RawRecorder{log: log, fh: fh, w: bufio.NewWriter(fh)}, nil
}

// Run consumes from sub until ctx is done or the subscription is closed,
// appending each event's verbatim JSON encoding as one line.
func (r *RawRecorder) Run(ctx context.Context, sub *bus.Subscription) {
	defer r.Close()
	for {
		t, err := sub.Receive(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, bus.ErrUnsubscribed) {
				r.log.Warn().Err(err).Msg("recorder subscription ended")
			}
			return
		}

		b, err := json.Marshal(t)
		if err != nil {
			r.log.Warn().Err(err).Msg("record marshal failed")
			continue
		}
		b = append(b, '\n')
		if _, err := r.w.Write(b); err != nil {
			r.log.Warn().Err(err).Msg("record write failed")
			continue
		}
		if err := r.w.Flush(); err != nil {
			r.log.Warn().Err(err).Msg("record flush failed")
		}
	}
}

// Close flushes and closes the underlying file.
func (r *RawRecorder) Close() error {
	if err := r.w.Flush(); err != nil {
		r.fh.Close()
		return err
	}
	return r.fh.Close()
}
