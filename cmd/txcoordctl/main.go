// txcoordctl is an interactive shell for exercising the ProcArray /
// SnapshotBuilder / KnownAssignedXids stack in isolation, without a real
// storage engine attached. Grounded on docdb/cmd/docdbsh's REPL shape
// (flag-configured entry point, a prompt loop reading space-delimited
// commands from stdin) but talking directly to in-process Go values
// instead of a Unix socket, since there is no wire protocol for this
// stack to dial into — it is a library meant to be embedded.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kartikbazzad/txcoord/internal/config"
	"github.com/kartikbazzad/txcoord/internal/gts"
	"github.com/kartikbazzad/txcoord/internal/logger"
	"github.com/kartikbazzad/txcoord/internal/metrics"
	"github.com/kartikbazzad/txcoord/internal/procarray"
	"github.com/kartikbazzad/txcoord/internal/snapshot"
	"github.com/kartikbazzad/txcoord/internal/standby"
	"github.com/kartikbazzad/txcoord/internal/types"
	"github.com/kartikbazzad/txcoord/internal/visibility"
)

const prompt = "txcoord> "

func main() {
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve /metrics on, empty to disable")
	maxProcs := flag.Int("max-procs", 64, "ProcRegistry capacity")
	flag.Parse()

	cfg := config.DefaultConfig()
	cfg.Proc.MaxProcs = *maxProcs

	log := logger.Default()
	met := metrics.NewRegistry()

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", met.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Warn("metrics server stopped: %v", err)
			}
		}()
		log.Info("metrics listening on %s", *metricsAddr)
	}

	fc := newFakeCollab()

	reg := procarray.NewRegistry(cfg.Proc, cfg.Group, met, log)
	ka := standby.NewKnownAssigned(cfg.Standby, fc, fc, met, log)
	src := gts.NewSource(cfg.GTS, met, log)
	builder := snapshot.NewBuilder(reg, nil, src, cfg.Proc, cfg.GTS, met, log, fc)
	oracle := visibility.NewOracle(reg, nil, fc, fc, fc)

	sh := &shell{reg: reg, ka: ka, builder: builder, oracle: oracle, fc: fc, slots: map[int]*procarray.ProcSlot{}, log: log}

	fmt.Println("txcoordctl — in-process ProcArray/SnapshotBuilder shell")
	fmt.Println("Type 'help' for commands, 'exit' to quit.")

	reader := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(prompt)
		if !reader.Scan() {
			fmt.Println()
			return
		}
		line := strings.TrimSpace(reader.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return
		}
		sh.dispatch(line)
	}
}

type shell struct {
	reg     *procarray.Registry
	ka      *standby.KnownAssigned
	builder *snapshot.Builder
	oracle  *visibility.Oracle
	fc      *fakeCollab
	slots   map[int]*procarray.ProcSlot
	log     *logger.Logger
}

func (s *shell) dispatch(line string) {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "help":
		s.help()
	case "add":
		s.cmdAdd()
	case "begin":
		s.cmdBegin(args)
	case "commit":
		s.cmdCommit(args)
	case "snapshot":
		s.cmdSnapshot()
	case "ka-record":
		s.cmdKaRecord(args)
	case "ka-list":
		s.cmdKaList()
	case "visible":
		s.cmdVisible(args)
	case "uuid":
		fmt.Println(uuid.NewString())
	default:
		fmt.Printf("unknown command %q, try 'help'\n", cmd)
	}
}

func (s *shell) help() {
	fmt.Println(`commands:
  add                  register a new backend, prints its slot index
  begin <slot>         allocate an xid for the backend in <slot>
  commit <slot>        end the transaction in <slot> (may group-commit)
  snapshot             build and print a snapshot from the live registry
  ka-record <xid>      record <xid> into the standby known-assigned array
  ka-list              print the known-assigned array's current contents
  visible <xid>        build a snapshot and report whether <xid> is visible
  uuid                 print a fresh global transaction id
  exit                 quit`)
}

func (s *shell) cmdAdd() {
	slot, err := s.reg.Add(1, 1, os.Getpid(), int64(len(s.slots)+1), false, false)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	s.slots[slot.SlotIndex()] = slot
	fmt.Printf("added backend, slot=%d\n", slot.SlotIndex())
}

func (s *shell) cmdBegin(args []string) {
	slot, ok := s.slotArg(args)
	if !ok {
		return
	}
	xid := s.reg.Globals().AllocateXid()
	slot.SetXID(xid)
	s.reg.PublishXmin(slot, xid)
	fmt.Printf("slot=%d xid=%d\n", slot.SlotIndex(), xid)
}

func (s *shell) cmdCommit(args []string) {
	slot, ok := s.slotArg(args)
	if !ok {
		return
	}
	xid := slot.XID()
	s.reg.EndTransaction(slot, xid)
	s.fc.markCommitted(xid)
	fmt.Printf("slot=%d cleared (was xid=%d)\n", slot.SlotIndex(), xid)
}

func (s *shell) cmdVisible(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: visible <xid>")
		return
	}
	n, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	xid := types.XID(n)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := s.builder.Build(ctx, types.InvalidGTS)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf("xid=%d visible=%v in_progress=%v active=%v\n",
		xid, s.oracle.XidVisible(xid, snap), s.oracle.IsInProgress(xid), s.oracle.IsActive(xid, snap))
}

func (s *shell) cmdSnapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := s.builder.Build(ctx, types.InvalidGTS)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf("xmin=%d xmax=%d xip=%v subxip=%v prepare_xip=%v start_ts=%+v\n",
		snap.Xmin, snap.Xmax, snap.Xip, snap.SubXip, snap.PrepareXip, snap.StartTs)
}

func (s *shell) cmdKaRecord(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: ka-record <xid>")
		return
	}
	n, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	s.ka.Record(types.XID(n))
}

func (s *shell) cmdKaList() {
	fmt.Println(s.ka.Snapshot())
}

func (s *shell) slotArg(args []string) (*procarray.ProcSlot, bool) {
	if len(args) != 1 {
		fmt.Println("usage: <cmd> <slot>")
		return nil, false
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Println("error:", err)
		return nil, false
	}
	slot, ok := s.slots[n]
	if !ok {
		fmt.Printf("no such slot %d (use 'add' first)\n", n)
		return nil, false
	}
	return slot, true
}
