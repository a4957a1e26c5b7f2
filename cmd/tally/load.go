package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/drpcorg/tally"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newLoadCommand() *cobra.Command {
	var (
		ts      tableSpec
		parent  string
		offset  int
		limit   int
		dump    bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "load <file.csv>",
		Short: "Aggregate a CSV file and print one page of the result",
		Args:  cobra.ExactArgs(1),
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
			q, err := openQuery(stores, ts, log)
			if err != nil {
				return err
			}
			defer q.rs.Destroy()

			file, err := os.Open(args[0])
			if err != nil {
				return errors.Wrapf(err, "can not open %s", args[0])
			}
			defer file.Close()
			rows, err := q.feedCSV(file)
			if err != nil {
				return err
			}
			if err = q.rs.SignalComplete(); err != nil {
				return err
			}
			if _, err = q.rs.AwaitCompletion(context.Background(), timeout); err != nil {
				return err
			}
			log.Info("loaded", "file", args[0], "rows", rows)

			data, err := q.data()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if dump {
				data.Dump(out)
			} else {
				printPage(out, data, data.Page(keyOf(parent), offset, limit))
			}
			for _, msg := range q.rs.Errors() {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "error:", msg)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&ts.groups, "group", nil, "group by these columns, outermost first")
	cmd.Flags().StringArrayVar(&ts.values, "value", []string{"count=count()"}, "value column as name=expression")
	cmd.Flags().BoolVar(&ts.detail, "detail", false, "keep every row under its group")
	cmd.Flags().IntSliceVar(&ts.limits, "max-results", nil, "children kept per parent, by depth")
	cmd.Flags().StringVar(&parent, "parent", "", "page the children of this group path, e.g. host1/200")
	cmd.Flags().IntVar(&offset, "offset", 0, "first row of the page")
	cmd.Flags().IntVar(&limit, "limit", 20, "rows per page")
	cmd.Flags().BoolVar(&dump, "dump", false, "print the whole result tree")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "completion timeout")
	return cmd
}
