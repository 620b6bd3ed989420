// Command commctl scripts frequency changes against a saved session.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/signalsfoundry/constellation-comms/core"
	"github.com/signalsfoundry/constellation-comms/internal/config"
	"github.com/signalsfoundry/constellation-comms/internal/logging"
	sim "github.com/signalsfoundry/constellation-comms/internal/sim/state"
	"github.com/signalsfoundry/constellation-comms/model"
)

const usage = `usage: commctl [-config file] [-scenario file] [-db file] <command> [flags]

commands:
  list                                      show every node and its frequencies
  retune -node N -antenna H -freq F         move one antenna to frequency F
  retune-all -node N -from F -to T          move every antenna on F to T
  toggle -node N -antenna H -in-use=BOOL    select or deselect an antenna
  constellations                            show the constellation list
`

var errUsage = errors.New("usage")

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("commctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := fs.String("config", "", "path to a TOML settings file")
	scenarioPath := fs.String("scenario", "configs/scenario.yaml", "path to the YAML scenario the session was saved from")
	dbPath := fs.String("db", "", "session file, overrides the settings file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "commctl: %s\n", core.FailureReason(err))
			return 1
		}
		cfg = loaded
	}
	log := logging.New(logging.ApplyEnv(logging.Config{Level: "warn", Format: cfg.Log.Format, Output: stderr}))

	sess, err := sim.OpenSession(ctx, sim.SessionOptions{
		Config:       cfg,
		ScenarioPath: *scenarioPath,
		StorePath:    *dbPath,
		Log:          log,
	})
	if err != nil {
		fmt.Fprintf(stderr, "commctl: %s\n", core.FailureReason(err))
		return 1
	}
	defer sess.Close()

	if sess.Store != nil {
		if err := sess.Load(ctx); err != nil {
			log.Warn(ctx, "session restored with errors", logging.Err(err))
		}
	}

	cmd, cmdArgs := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "list":
		err = listNodes(sess, stdout)
	case "constellations":
		err = listConstellations(sess, stdout)
	case "retune":
		err = retune(ctx, sess, cmdArgs, stdout, stderr)
	case "retune-all":
		err = retuneAll(ctx, sess, cmdArgs, stdout, stderr)
	case "toggle":
		err = toggle(ctx, sess, cmdArgs, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "commctl: unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}
	if errors.Is(err, errUsage) {
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "commctl: %s\n", core.FailureReason(err))
		return 1
	}
	return 0
}

func listNodes(sess *sim.Session, out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tENTITY\tHOME\tMEMBERS\tPOLICY\tSTRONGEST\tFREQUENCIES")
	for _, n := range sess.Nodes() {
		freqs := make([]string, 0, len(n.Frequencies))
		for _, f := range n.Frequencies {
			freqs = append(freqs, f.String())
		}
		fmt.Fprintf(tw, "%s\t%s\t%v\t%v\t%s\t%s\t%s\n",
			n.NodeID, n.EntityID, n.Home, n.Membership, n.Policy, n.Strongest, strings.Join(freqs, ","))
	}
	return tw.Flush()
}

func listConstellations(sess *sim.Session, out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FREQUENCY\tNAME\tCOLOR\tNODES")
	for _, c := range sess.Constellations() {
		nodes := sess.Network().NodesOnFrequency(c.Frequency)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", c.Frequency, c.Name, c.Color, len(nodes))
	}
	return tw.Flush()
}

func retune(ctx context.Context, sess *sim.Session, args []string, out, stderr io.Writer) error {
	fs := subcommand("retune", stderr)
	node := fs.String("node", "", "node ID")
	antenna := fs.String("antenna", "", "antenna hardware ID")
	freq := fs.String("freq", "", "new frequency")
	if err := fs.Parse(args); err != nil || *node == "" || *antenna == "" || *freq == "" {
		fs.Usage()
		return errUsage
	}
	f, err := model.ParseFrequency(*freq)
	if err != nil {
		return err
	}
	if err := sess.RetuneAntenna(ctx, *node, model.HardwareID(*antenna), f); err != nil {
		return err
	}
	return saveAndReport(ctx, sess, *node, out)
}

func retuneAll(ctx context.Context, sess *sim.Session, args []string, out, stderr io.Writer) error {
	fs := subcommand("retune-all", stderr)
	node := fs.String("node", "", "node ID")
	from := fs.String("from", "", "frequency to move away from")
	to := fs.String("to", "", "new frequency")
	if err := fs.Parse(args); err != nil || *node == "" || *from == "" || *to == "" {
		fs.Usage()
		return errUsage
	}
	oldFreq, err := model.ParseFrequency(*from)
	if err != nil {
		return err
	}
	newFreq, err := model.ParseFrequency(*to)
	if err != nil {
		return err
	}
	if err := sess.RetuneAll(ctx, *node, oldFreq, newFreq); err != nil {
		return err
	}
	return saveAndReport(ctx, sess, *node, out)
}

func toggle(ctx context.Context, sess *sim.Session, args []string, out, stderr io.Writer) error {
	fs := subcommand("toggle", stderr)
	node := fs.String("node", "", "node ID")
	antenna := fs.String("antenna", "", "antenna hardware ID")
	inUse := fs.Bool("in-use", true, "whether the antenna is selected")
	if err := fs.Parse(args); err != nil || *node == "" || *antenna == "" {
		fs.Usage()
		return errUsage
	}
	if err := sess.ToggleAntenna(ctx, *node, model.HardwareID(*antenna), *inUse); err != nil {
		return err
	}
	return saveAndReport(ctx, sess, *node, out)
}

func subcommand(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func saveAndReport(ctx context.Context, sess *sim.Session, nodeID string, out io.Writer) error {
	if sess.Store != nil {
		if err := sess.Save(ctx); err != nil {
			return err
		}
	}
	list, err := sess.List(nodeID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: strongest frequency %s\n", nodeID, list.StrongestFrequency())
	return nil
}
