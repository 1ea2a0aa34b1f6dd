package transcode

import (
	"bytes"
	"log/slog"
)

// processLogWriter splits encoder output into individual lines and forwards
// them to the job-scoped logger, so ffmpeg's progress chatter lands in the
// structured log instead of a detached pipe.
type processLogWriter struct {
	logger *slog.Logger
	stream string
}

func newProcessLogWriter(logger *slog.Logger, stream string) *processLogWriter {
	return &processLogWriter{logger: logger, stream: stream}
}

func (w *processLogWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		var line []byte
		if idx == -1 {
			line = p
			p = nil
		} else {
			line = p[:idx]
			p = p[idx+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		w.logger.Debug("encoder output", "stream", w.stream, "line", string(line))
	}
	return total, nil
}
