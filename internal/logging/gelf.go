package logging

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/Graylog2/go-gelf/gelf"
)

// NewGELFHandler returns a JSON handler shipping records to a Graylog GELF UDP
// input at addr. Close the returned closer on shutdown.
func NewGELFHandler(addr, level string) (slog.Handler, io.Closer, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to graylog at %s: %w", addr, err)
	}
	w.Facility = "chronoserver"
	lvl, _ := ParseLevel(level)
	return slog.NewJSONHandler(w, handlerOptions(lvl)), w, nil
}
