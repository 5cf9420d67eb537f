// Package idserver generates human readable identifiers, such as medical
// record numbers, that are unique per kind within a lab.
package idserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lims/patient/internal/platform/metrics"
)

// Server formats sequence numbers into identifiers.
type Server struct {
	seq     Sequence
	formats map[string]string
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

type Option func(*Server)

// WithFormat sets the fmt layout used for kind. It must hold a single
// integer verb, e.g. "P%06d".
func WithFormat(kind, format string) Option {
	return func(s *Server) { s.formats[kind] = format }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func New(seq Sequence, opts ...Option) *Server {
	s := &Server{
		seq:     seq,
		formats: make(map[string]string),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Format returns the layout used for kind. Kinds without a configured layout
// use the upper-cased kind followed by a six digit counter.
func (s *Server) Format(kind string) string {
	if f, ok := s.formats[kind]; ok {
		return f
	}
	return strings.ToUpper(kind) + "-%06d"
}

// Generate returns the next identifier of kind.
func (s *Server) Generate(ctx context.Context, kind string) (string, error) {
	if kind == "" {
		return "", fmt.Errorf("identifier kind is required")
	}

	start := time.Now()
	n, err := s.seq.Next(ctx, kind)
	s.metrics.ObserveIDGeneration(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}

	id := fmt.Sprintf(s.Format(kind), n)
	s.metrics.IncrementIDsGenerated(kind)
	s.logger.Debug().Str("kind", kind).Str("id", id).Msg("generated identifier")
	return id, nil
}
