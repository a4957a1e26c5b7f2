package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/drpcorg/tally"
	"github.com/drpcorg/tally/utils"
	"github.com/ergochat/readline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),

	readline.PcItem("open"),
	readline.PcItem("row"),
	readline.PcItem("load"),
	readline.PcItem("complete"),
	readline.PcItem("close"),

	readline.PcItem("show"),
	readline.PcItem("errors"),
	readline.PcItem("dump"),
	readline.PcItem("state"),

	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

var (
	ErrNoQuery   = errors.New("no open query, try: open group=Host value=n=count()")
	HelpOpen     = errors.New("open [group=A,B] [value=name=expression]... [detail] [max=100,10]")
	HelpRow      = errors.New("row Name=value,Name=value")
	HelpLoad     = errors.New("load file.csv")
	ErrQueryOpen = errors.New("a query is open, close it first")
)

// Shell is the interactive query console.
type Shell struct {
	stores *tally.DataStoreFactory
	log    utils.Logger
	rl     *readline.Instance
	q      *query
	out    io.Writer
}

func (sh *Shell) Open() (err error) {
	sh.rl, err = readline.NewEx(&readline.Config{
		Prompt:          "▦ ",
		HistoryFile:     ".tally_cmd_log.txt",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return
	}
	sh.rl.CaptureExitSignal()
	return
}

func (sh *Shell) Close() error {
	err := sh.CommandClose()
	if sh.rl != nil {
		_ = sh.rl.Close()
		sh.rl = nil
	}
	if errors.Is(err, ErrNoQuery) {
		return nil
	}
	return err
}

func (sh *Shell) REPL() (err error) {
	var line string
	line, err = sh.rl.Readline()
	if err == readline.ErrInterrupt && len(line) != 0 {
		return nil
	}
	if err != nil {
		return err
	}
	line = strings.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "help":
		for _, help := range []error{HelpOpen, HelpRow, HelpLoad} {
			_, _ = fmt.Fprintln(sh.out, help.Error())
		}
		_, _ = fmt.Fprintln(sh.out, "show [group/path] [offset] [limit]\ncomplete | close | errors | dump | state | exit")
	// ----- query lifecycle -----
	case "open":
		err = sh.CommandOpen(strings.Fields(arg))
	case "complete":
		err = sh.CommandComplete()
	case "close":
		err = sh.CommandClose()
	case "exit", "quit":
		err = sh.Close()
		if err == nil {
			err = io.EOF
		}
	// ----- rows -----
	case "row":
		err = sh.CommandRow(arg)
	case "load":
		err = sh.CommandLoad(arg)
	// ----- results -----
	case "show", "ls":
		err = sh.CommandShow(strings.Fields(arg))
	case "errors":
		err = sh.CommandErrors()
	case "dump":
		err = sh.CommandDump()
	case "state":
		err = sh.CommandState()
	default:
		_, _ = fmt.Fprintf(os.Stderr, "command unknown: %s\n", cmd)
	}
	return
}

func (sh *Shell) CommandOpen(args []string) error {
	if sh.q != nil {
		return ErrQueryOpen
	}
	ts := tableSpec{}
	for _, arg := range args {
		key, value, _ := strings.Cut(arg, "=")
		switch key {
		case "group":
			ts.groups = append(ts.groups, strings.Split(value, ",")...)
		case "value":
			ts.values = append(ts.values, value)
		case "detail":
			ts.detail = true
		case "max":
			for _, l := range strings.Split(value, ",") {
				n, err := strconv.Atoi(l)
				if err != nil {
					return HelpOpen
				}
				ts.limits = append(ts.limits, n)
			}
		default:
			return HelpOpen
		}
	}
	if len(ts.values) == 0 {
		ts.values = []string{"count=count()"}
	}
	q, err := openQuery(sh.stores, ts, sh.log)
	if err != nil {
		return err
	}
	sh.q = q
	_, _ = fmt.Fprintf(sh.out, "query %s open\n", q.rs.Coprocessors().QueryKey())
	return nil
}

func (sh *Shell) CommandRow(arg string) error {
	if sh.q == nil {
		return ErrNoQuery
	}
	var names, cells []string
	for _, pair := range strings.Split(arg, ",") {
		name, cell, ok := strings.Cut(pair, "=")
		if !ok {
			return HelpRow
		}
		names = append(names, name)
		cells = append(cells, cell)
	}
	sh.q.rs.Receive(sh.q.row(sh.q.header(names), cells))
	return nil
}

func (sh *Shell) CommandLoad(path string) error {
	if sh.q == nil {
		return ErrNoQuery
	}
	if path == "" {
		return HelpLoad
	}
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	rows, err := sh.q.feedCSV(file)
	_, _ = fmt.Fprintf(sh.out, "%d rows\n", rows)
	return err
}

func (sh *Shell) CommandComplete() error {
	if sh.q == nil {
		return ErrNoQuery
	}
	if err := sh.q.rs.SignalComplete(); err != nil {
		return err
	}
	done, err := sh.q.rs.AwaitCompletion(context.Background(), time.Minute)
	if err == nil && !done {
		err = errors.New("completion timed out")
	}
	return err
}

func (sh *Shell) CommandClose() error {
	if sh.q == nil {
		return ErrNoQuery
	}
	err := sh.q.rs.Destroy()
	sh.q = nil
	return err
}

func (sh *Shell) CommandShow(args []string) error {
	if sh.q == nil {
		return ErrNoQuery
	}
	data, err := sh.q.data()
	if err != nil {
		return err
	}
	parent := tally.RootKey()
	nums := []int{0, 20}
	next := 0
	for _, arg := range args {
		n, err := strconv.Atoi(arg)
		if err != nil {
			parent = keyOf(arg)
			continue
		}
		if next < len(nums) {
			nums[next] = n
			next++
		}
	}
	printPage(sh.out, data, data.Page(parent, nums[0], nums[1]))
	return nil
}

func (sh *Shell) CommandErrors() error {
	if sh.q == nil {
		return ErrNoQuery
	}
	for _, msg := range sh.q.rs.Errors() {
		_, _ = fmt.Fprintln(sh.out, msg)
	}
	return nil
}

func (sh *Shell) CommandDump() error {
	if sh.q == nil {
		return ErrNoQuery
	}
	data, err := sh.q.data()
	if err != nil {
		return err
	}
	data.Dump(sh.out)
	return nil
}

func (sh *Shell) CommandState() error {
	if sh.q == nil {
		return ErrNoQuery
	}
	_, _ = fmt.Fprintf(sh.out, "%s %s\n", sh.q.rs.Coprocessors().QueryKey(), sh.q.rs.State())
	return nil
}

func serveMetrics(addr string, stores *tally.DataStoreFactory, log utils.Logger) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(tally.Metrics()...)
	registry.MustRegister(stores.Collector())
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error("metrics server stopped", "addr", addr, "err", err)
		}
	}()
}

func newShellCommand() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive query console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logger()
			stores, err := tally.NewDataStoreFactory(cfg, log)
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				serveMetrics(metricsAddr, stores, log)
			}
			sh := Shell{stores: stores, log: log, out: cmd.OutOrStdout()}
			if err = sh.Open(); err != nil {
				return err
			}
			defer sh.Close()
			for {
				err = sh.REPL()
				if err == io.EOF {
					return nil
				}
				if err != nil {
					_, _ = fmt.Fprintf(sh.out, "%s\n", err.Error())
				}
			}
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	return cmd
}
