package gts

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/kartikbazzad/txcoord/internal/config"
	"github.com/kartikbazzad/txcoord/internal/gts/oracleproto"
	"github.com/kartikbazzad/txcoord/internal/types"
)

// startFakeOracle runs a single-shot in-process oracle that answers every
// request with value.
func startFakeOracle(t *testing.T, value uint64) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				buf := make([]byte, oracleproto.RequestSize)
				if _, err := readAll(conn, buf); err != nil {
					return
				}
				req, err := oracleproto.DecodeRequest(buf)
				if err != nil {
					return
				}
				resp := &oracleproto.Response{RequestID: req.RequestID, OK: true, Value: value}
				conn.Write(oracleproto.EncodeResponse(resp))
			}()
		}
	}()
	return ln.Addr().String()
}

func readAll(conn net.Conn, buf []byte) (int, error) {
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

func TestResolveRecoveryForcesLocal(t *testing.T) {
	cfg := config.GTSConfig{Mode: config.GTSModeOracle, OracleTimeout: time.Second}
	s := NewSource(cfg, nil, nil)

	got, err := s.Resolve(context.Background(), true, types.GTS{Value: 999})
	if err != nil {
		t.Fatal(err)
	}
	if !got.Local {
		t.Fatal("expected recovery to force a Local GTS regardless of coordinator hint")
	}
}

func TestResolveCoordinatorHintWins(t *testing.T) {
	cfg := config.GTSConfig{Mode: config.GTSModeOracle, OracleTimeout: time.Second}
	s := NewSource(cfg, nil, nil)

	got, err := s.Resolve(context.Background(), false, types.GTS{Value: 42})
	if err != nil {
		t.Fatal(err)
	}
	if got.Value != 42 || got.Local {
		t.Fatalf("expected the supplied hint verbatim, got %+v", got)
	}
}

func TestResolveFromOracle(t *testing.T) {
	addr := startFakeOracle(t, 777)
	cfg := config.GTSConfig{Mode: config.GTSModeOracle, OracleAddr: addr, OracleTimeout: time.Second}
	s := NewSource(cfg, nil, nil)

	got, err := s.Resolve(context.Background(), false, types.InvalidGTS)
	if err != nil {
		t.Fatal(err)
	}
	if got.Value != 777 {
		t.Fatalf("want 777, got %d", got.Value)
	}
}

func TestResolveOracleUnavailable(t *testing.T) {
	cfg := config.GTSConfig{Mode: config.GTSModeOracle, OracleAddr: "127.0.0.1:1", OracleTimeout: 50 * time.Millisecond}
	s := NewSource(cfg, nil, nil)

	_, err := s.Resolve(context.Background(), false, types.InvalidGTS)
	if err == nil {
		t.Fatal("expected an error dialing an unreachable oracle")
	}
}
