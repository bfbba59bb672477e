package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"

	"citytraffic.ai/internal/persistence/snapshot"
	"citytraffic.ai/internal/sim/traffic"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "destroy":
			destroyCmd(os.Args[2:])
			return
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "worlds")
	if *worldID != "" {
		base = filepath.Join(base, *worldID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	headerOnly := fs.Bool("header", false, "read only the header line")
	_ = fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: admin inspect [-header] PATH.snap.zst")
		os.Exit(2)
	}
	path := strings.TrimSpace(fs.Arg(0))
	if *headerOnly {
		h, err := snapshot.ReadHeader(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read header:", err)
			os.Exit(1)
		}
		printJSON(os.Stdout, h)
		return
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	var size uint64
	if fi, err := os.Stat(path); err == nil {
		size = uint64(fi.Size())
	}
	describeSnapshot(os.Stdout, snap, size)
}

func describeSnapshot(out io.Writer, snap snapshot.SnapshotV1, size uint64) {
	cars := snap.Traffic.Cars
	parked := lo.CountBy(cars, func(c traffic.Car) bool { return c.IsParked() && !c.Destroyed })
	destroyed := lo.CountBy(cars, func(c traffic.Car) bool { return c.Destroyed })
	states := lo.CountValuesBy(snap.Traffic.Helicopters, func(h traffic.Helicopter) string { return h.State.String() })

	fmt.Fprintf(out, "snapshot v%d world=%s run=%s tick=%d seed=%d size=%s\n",
		snap.Header.Version, snap.Header.WorldID, snap.Header.RunID, snap.Header.Tick, snap.Seed, humanize.Bytes(size))
	fmt.Fprintf(out, "cars=%d moving=%d parked=%d destroyed=%d frame=%d\n",
		len(cars), len(cars)-parked-destroyed, parked, destroyed, snap.Traffic.Frame)
	fmt.Fprintf(out, "helicopters=%d", len(snap.Traffic.Helicopters))
	for _, st := range []traffic.HeliState{traffic.HeliWaiting, traffic.HeliTakeoff, traffic.HeliFlying, traffic.HeliLanding} {
		if n := states[st.String()]; n > 0 {
			fmt.Fprintf(out, " %s=%d", st, n)
		}
	}
	fmt.Fprintf(out, "\npeds=%d network_now=%.2fs\n", len(snap.Peds), snap.NetworkNow)
}
