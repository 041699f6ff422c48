// Package gts implements C8 GtsSource: resolving the start timestamp a
// new snapshot is stamped with, from whichever timestamp authority the
// node's role and recovery state dictate (spec.md §4.8).
package gts

import (
	"context"
	"net"
	"time"

	"github.com/kartikbazzad/txcoord/internal/config"
	"github.com/kartikbazzad/txcoord/internal/errs"
	"github.com/kartikbazzad/txcoord/internal/gts/oracleproto"
	"github.com/kartikbazzad/txcoord/internal/logger"
	"github.com/kartikbazzad/txcoord/internal/metrics"
	"github.com/kartikbazzad/txcoord/internal/types"
)

// Source resolves the GTS a new snapshot should be stamped with.
type Source struct {
	cfg    config.GTSConfig
	dial   func(ctx context.Context, addr string) (net.Conn, error)
	retry  *errs.RetryController
	class  *errs.Classifier
	met    *metrics.Registry
	log    *logger.Logger
	nextID uint64

	localClock func() uint64 // overridable in tests; defaults to a wall-clock-derived counter
}

// NewSource builds a Source from cfg. dial defaults to net.Dialer.DialContext.
func NewSource(cfg config.GTSConfig, met *metrics.Registry, log *logger.Logger) *Source {
	if log == nil {
		log = logger.Default()
	}
	return &Source{
		cfg:   cfg,
		dial:  func(ctx context.Context, addr string) (net.Conn, error) { return (&net.Dialer{}).DialContext(ctx, "tcp", addr) },
		retry: errs.NewRetryController(),
		class: errs.NewClassifier(),
		met:   met,
		log:   log,
		localClock: func() uint64 {
			return uint64(time.Now().UnixNano())
		},
	}
}

// Resolve returns the GTS a new snapshot should carry.
//
// Decision tree (spec.md §4.8, DESIGN.md Open Question 1):
//  1. If inRecovery, always return a Local GTS regardless of the
//     configured mode or any coordinatorHint — recovery forces
//     local-only sourcing even when running as a would-be coordinator,
//     since replay must not block on an oracle RPC that could itself be
//     waiting on the very WAL stream recovery is replaying.
//  2. Else if coordinatorHint is valid, use it — a supplied hint is
//     always cheaper and at least as fresh as a fresh RPC, regardless of
//     the configured mode.
//  3. Else dispatch on cfg.Mode: Oracle dials out, Coordinator with no
//     hint available falls back to Local (nothing was handed down),
//     Local stamps the local clock directly.
func (s *Source) Resolve(ctx context.Context, inRecovery bool, coordinatorHint types.GTS) (types.GTS, error) {
	if inRecovery {
		return s.localGTS(), nil
	}
	if coordinatorHint.Valid() {
		return coordinatorHint, nil
	}

	switch s.cfg.Mode {
	case config.GTSModeOracle:
		return s.fromOracle(ctx)
	default:
		return s.localGTS(), nil
	}
}

func (s *Source) localGTS() types.GTS {
	return types.GTS{Value: s.localClock(), Local: true}
}

// fromOracle performs the GetTimestamp RPC against cfg.OracleAddr,
// retrying transient/network failures via errs.RetryController before
// giving up with errs.ErrOracleUnavailable (Fatal, spec.md §7).
func (s *Source) fromOracle(ctx context.Context) (types.GTS, error) {
	var resp *oracleproto.Response
	err := s.retry.Retry(func() error {
		r, rerr := s.roundTrip(ctx)
		if rerr != nil {
			return rerr
		}
		resp = r
		return nil
	}, s.class)

	outcome := "ok"
	defer func() {
		if s.met != nil {
			s.met.OracleRequests.WithLabelValues(outcome).Inc()
		}
	}()

	if err != nil {
		outcome = "error"
		return types.InvalidGTS, errs.Fatal(errs.ErrOracleUnavailable)
	}
	if resp == nil || !resp.OK {
		outcome = "rejected"
		return types.InvalidGTS, errs.Fatal(errs.ErrOracleUnavailable)
	}
	return types.GTS{Value: resp.Value}, nil
}

func (s *Source) roundTrip(ctx context.Context) (*oracleproto.Response, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.OracleTimeout)
	defer cancel()

	conn, err := s.dial(dialCtx, s.cfg.OracleAddr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	s.nextID++
	req := &oracleproto.Request{RequestID: s.nextID, Mode: oracleproto.ModeGetTimestamp}
	if _, err := conn.Write(oracleproto.EncodeRequest(req)); err != nil {
		return nil, err
	}

	buf := make([]byte, oracleproto.ResponseSize)
	if _, err := readFull(conn, buf); err != nil {
		return nil, err
	}
	return oracleproto.DecodeResponse(buf)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
