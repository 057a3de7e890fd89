package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/imrishuroy/storefront-ledger/internal/inventory"
	"github.com/imrishuroy/storefront-ledger/internal/logging"
)

// DriftRecorder receives the drift of every repaired counter.
type DriftRecorder interface {
	StockDrift(ctx context.Context, productID string, drift int64) error
}

type env struct {
	ledger    *inventory.Ledger
	drift     DriftRecorder
	threshold int64
	logger    *log.Entry
	out       io.Writer
}

func (e *env) ctx(c *cli.Context) context.Context {
	return logging.WithEntry(c.Context, e.logger)
}

func productFlag(required bool) *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "product",
		Aliases:  []string{"p"},
		Usage:    "product id",
		Required: required,
	}
}

func newApp(e *env) *cli.App {
	return &cli.App{
		Name:   "ledgerctl",
		Usage:  "inspect and reconcile product stock",
		Writer: e.out,
		Commands: []*cli.Command{
			{
				Name:   "stock",
				Usage:  "print the cached stock of a product",
				Flags:  []cli.Flag{productFlag(true)},
				Action: e.stock,
			},
			{
				Name:  "low-stock",
				Usage: "list products below a threshold, lowest first",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "threshold", Aliases: []string{"t"}, Value: e.threshold, Usage: "alert threshold"},
				},
				Action: e.lowStock,
			},
			{
				Name:   "movements",
				Usage:  "print the movement log of a product, oldest first",
				Flags:  []cli.Flag{productFlag(true)},
				Action: e.movements,
			},
			{
				Name:  "reconcile",
				Usage: "replay movements and repair drifted counters",
				Flags: []cli.Flag{
					productFlag(false),
					&cli.BoolFlag{Name: "all", Usage: "reconcile every product"},
					&cli.IntFlag{Name: "concurrency", Value: 4, Usage: "products reconciled in parallel with --all"},
				},
				Action: e.reconcile,
			},
		},
		// exit codes are handled by main
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

func (e *env) stock(c *cli.Context) error {
	stock, err := e.ledger.CurrentStock(e.ctx(c), c.String("product"))
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "%s\t%d\n", c.String("product"), stock)
	return nil
}

func (e *env) lowStock(c *cli.Context) error {
	levels, err := e.ledger.LowStock(e.ctx(c), c.Int64("threshold"))
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PRODUCT\tSKU\tSTOCK\tNAME")
	for _, l := range levels {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", l.ProductID, l.SKU, l.Stock, l.Name)
	}
	return w.Flush()
}

func (e *env) movements(c *cli.Context) error {
	moves, err := e.ledger.Movements(e.ctx(c), c.String("product"))
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AT\tKIND\tDELTA\tACTOR\tREASON")
	for _, m := range moves {
		fmt.Fprintf(w, "%s\t%s\t%+d\t%s\t%s\n", m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), m.Kind, m.Delta, m.ActorID, m.Reason)
	}
	return w.Flush()
}

func (e *env) reconcile(c *cli.Context) error {
	ctx := e.ctx(c)
	product, all := c.String("product"), c.Bool("all")
	if (product == "") == !all {
		return cli.Exit("exactly one of --product or --all is required", 2)
	}

	var reports []inventory.Report
	if all {
		var err error
		reports, err = e.ledger.ReconcileAll(ctx, c.Int("concurrency"))
		if err != nil {
			return err
		}
	} else {
		rep, err := e.ledger.Reconcile(ctx, product)
		if err != nil && !rep.Conflict {
			return err
		}
		reports = []inventory.Report{rep}
	}

	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PRODUCT\tCACHED\tREPLAYED\tDRIFT\tRESULT")
	conflicts := 0
	for _, r := range reports {
		result := "ok"
		switch {
		case r.Conflict:
			result = "conflict"
			conflicts++
		case r.Repaired:
			result = "repaired"
			if err := e.drift.StockDrift(ctx, r.ProductID, r.Drift); err != nil {
				e.logger.WithError(err).WithField("product_id", r.ProductID).Warn("drift metric not sent")
			}
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", r.ProductID, r.Cached, r.Replayed, r.Drift, result)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if conflicts > 0 {
		return cli.Exit(fmt.Sprintf("%d product(s) changed during reconciliation, rerun", conflicts), 3)
	}
	return nil
}
