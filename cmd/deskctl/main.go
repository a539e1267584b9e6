// Command deskctl is the operator desk client: it lists the merged order
// view, creates orders (queuing them while the store is unreachable),
// replays the queue, edits an order under its edit lock, and watches lock
// status.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/laundryhub/api/internal/api"
	"github.com/laundryhub/api/internal/config"
	"github.com/laundryhub/api/internal/editlock"
	"github.com/laundryhub/api/internal/events"
	"github.com/laundryhub/api/internal/offline"
	"github.com/laundryhub/api/internal/order"
	"github.com/laundryhub/api/internal/storeclient"
	"github.com/laundryhub/api/internal/telemetry"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

const version = "0.1.0"

const usage = `usage: deskctl <command> [flags]

commands:
  login    exchange email and password for an access token
  list     show the merged order list
  create   create an order, queuing it if the store is unreachable
  sync     replay queued orders until interrupted (-once for one pass)
  edit     hold an order's edit lock, optionally saving a payment or name
  watch    print lock status for the listed orders as it changes
`

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadDesk()
	app := &app{
		cfg:    cfg,
		log:    logger,
		client: storeclient.New(cfg.APIURL, cfg.StationID, cfg.Token, nil),
	}
	app.desk = offline.NewDesk(app.client, offline.NewFileQueue(cfg.QueuePath), logger)

	commands := map[string]func(context.Context, []string) error{
		"login":  app.login,
		"list":   app.list,
		"create": app.create,
		"sync":   app.sync,
		"edit":   app.edit,
		"watch":  app.watch,
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err := cmd(ctx, os.Args[2:]); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(os.Args[1]+" failed", "error", err)
		os.Exit(1)
	}
}

type app struct {
	cfg    *config.DeskConfig
	log    *slog.Logger
	client *storeclient.Client
	desk   *offline.Desk
}

func (a *app) requireStation() error {
	if a.cfg.StationID == uuid.Nil {
		return errors.New("STATION_ID is not set")
	}
	return nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "operator email")
	password := fs.String("password", "", "operator password")
	fs.Parse(args)

	resp, err := a.client.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	fmt.Printf("export API_TOKEN=%s\n", resp.AccessToken)
	fmt.Printf("export STATION_ID=%s\n", resp.Operator.StationID)
	return nil
}

// optionalBool is a flag that stays nil unless set.
type optionalBool struct{ v *bool }

func (o *optionalBool) String() string {
	if o.v == nil {
		return ""
	}
	return strconv.FormatBool(*o.v)
}

func (o *optionalBool) Set(s string) error {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	o.v = &b
	return nil
}

func (o *optionalBool) IsBoolFlag() bool { return true }

func (a *app) list(ctx context.Context, args []string) error {
	if err := a.requireStation(); err != nil {
		return err
	}
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	var draft, archived optionalBool
	fs.Var(&draft, "draft", "only drafts (true) or only regular orders (false)")
	fs.Var(&archived, "archived", "only archived (true) or only active (false)")
	paymentStatus := fs.String("payment", "", "UNPAID, PARTIAL or PAID")
	fs.Parse(args)

	orders, err := a.desk.List(ctx, storeclient.ListFilter{
		Draft:    draft.v,
		Archived: archived.v,
		Payment:  *paymentStatus,
	})
	if err != nil {
		if !offline.Unreachable(err) {
			return err
		}
		a.log.Warn("order store unreachable, showing queued orders only", "error", err)
	}
	printOrders(orders)
	return nil
}

func printOrders(orders []order.Order) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCUSTOMER\tTOTAL\tPAID\tBALANCE\tCHANGE\tPAYMENT\tSTAGE\tCREATED\t")
	for _, o := range orders {
		stage := o.Stage
		if o.Archived {
			stage += " (archived)"
		}
		if o.Synthetic {
			stage += " (queued)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			o.ID, o.CustomerName,
			o.Total.StringFixed(2), o.Paid.StringFixed(2), o.Balance.StringFixed(2), o.Change.StringFixed(2),
			o.Payment, stage, o.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}

// itemList collects repeated -item name:qty:amount flags.
type itemList []api.OrderItem

func (l *itemList) String() string { return fmt.Sprint(len(*l)) }

func (l *itemList) Set(s string) error {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return fmt.Errorf("item %q: want name:quantity:amount", s)
	}
	qty, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return fmt.Errorf("item %q: %w", s, err)
	}
	*l = append(*l, api.OrderItem{ServiceName: parts[0], Quantity: int32(qty), Amount: parts[2]})
	return nil
}

func paymentFlag(status, amount string) *api.Payment {
	if status == "" {
		return nil
	}
	return &api.Payment{Status: strings.ToUpper(status), Amount: amount}
}

func (a *app) create(ctx context.Context, args []string) error {
	if err := a.requireStation(); err != nil {
		return err
	}
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	var items itemList
	customer := fs.String("customer", "", "customer name")
	draft := fs.Bool("draft", false, "save as a draft")
	fs.Var(&items, "item", "line item as name:quantity:amount (repeatable)")
	discountType := fs.String("discount", "", "PERCENTAGE or FIXED_AMOUNT")
	discountValue := fs.String("discount-value", "", "discount value")
	payStatus := fs.String("pay", "", "initial payment status: PARTIAL or PAID")
	payAmount := fs.String("amount", "", "amount received with the initial payment")
	fs.Parse(args)

	o, queued, err := a.desk.Submit(ctx, a.cfg.StationID, api.CreateOrderRequest{
		CustomerName:  *customer,
		IsDraft:       *draft,
		Items:         items,
		DiscountType:  *discountType,
		DiscountValue: *discountValue,
		Payment:       paymentFlag(*payStatus, *payAmount),
	})
	if err != nil {
		return err
	}
	if queued {
		a.log.Info("order queued for sync", "operation_id", o.QueuedOperationID)
	}
	printOrders([]order.Order{o})
	return nil
}

func (a *app) sync(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	once := fs.Bool("once", false, "run a single pass and exit")
	metricsAddr := fs.String("metrics", "", "serve replay counters for Prometheus on this address")
	fs.Parse(args)

	if *once {
		res, err := a.desk.Sync(ctx)
		fmt.Printf("acknowledged=%d failed=%d remaining=%d\n", res.Acknowledged, res.Failed, res.Remaining)
		return err
	}
	if *metricsAddr == "" {
		return a.desk.Run(ctx, a.cfg.SyncInterval)
	}

	handler, shutdown, err := telemetry.InitMeterProvider("deskctl", version)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer shutdown(context.Background())
	instruments, err := telemetry.NewInstruments(otel.Meter("deskctl"))
	if err != nil {
		return fmt.Errorf("register instruments: %w", err)
	}
	a.desk.WithInstruments(instruments)

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("serving metrics", "addr", *metricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return a.desk.Run(gctx, a.cfg.SyncInterval) })
	return g.Wait()
}

func (a *app) edit(ctx context.Context, args []string) error {
	if err := a.requireStation(); err != nil {
		return err
	}
	fs := flag.NewFlagSet("edit", flag.ExitOnError)
	rawID := fs.String("order", "", "order id")
	customer := fs.String("customer", "", "new customer name")
	payStatus := fs.String("pay", "", "payment status to apply: PARTIAL or PAID")
	payAmount := fs.String("amount", "", "amount received")
	fs.Parse(args)

	orderID, err := uuid.Parse(*rawID)
	if err != nil {
		return fmt.Errorf("invalid -order: %w", err)
	}

	coord := editlock.NewCoordinator(a.client, a.cfg.EditPollInterval, a.log)
	session, err := coord.Begin(ctx, orderID)
	if err != nil {
		return err
	}
	a.log.Info("editing order", "order_id", orderID)

	var req api.UpdateOrderRequest
	if *customer != "" {
		req.CustomerName = customer
	}
	req.Payment = paymentFlag(*payStatus, *payAmount)

	if req.CustomerName == nil && req.Payment == nil {
		// Nothing to save: hold the lock until interrupted or lost.
		feed, err := a.client.DialOrderFeed(ctx, orderID, a.log)
		if err != nil {
			a.log.Warn("order feed unavailable", "error", err)
		} else {
			defer feed.Close()
			go feed.Run(ctx, func(e events.Event) {
				a.log.Info("order event", "type", e.Type, "holder", e.Holder)
			})
		}
		select {
		case <-ctx.Done():
		case <-session.Lost():
			a.log.Warn("edit lock lost", "error", session.Err())
		}
		return session.Close(context.WithoutCancel(ctx))
	}

	return session.Save(ctx, func(saveCtx context.Context) error {
		o, err := a.desk.Edit(saveCtx, orderID, req)
		if err != nil {
			return err
		}
		printOrders([]order.Order{o})
		return nil
	})
}

func (a *app) watch(ctx context.Context, args []string) error {
	if err := a.requireStation(); err != nil {
		return err
	}
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	poll := fs.Bool("poll", false, "poll only, without the push feed")
	fs.Parse(args)

	orders, err := a.client.ListOrders(ctx, storeclient.ListFilter{})
	if err != nil {
		return err
	}
	ids := make([]uuid.UUID, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}

	coord := editlock.NewCoordinator(a.client, a.cfg.EditPollInterval, a.log)
	g, gctx := errgroup.WithContext(ctx)

	var trigger editlock.Trigger
	if *poll {
		pt := editlock.NewPollTrigger(a.cfg.BrowsePollInterval)
		defer pt.Stop()
		trigger = pt
	} else {
		ft := editlock.NewFeedTrigger(a.cfg.BrowsePollInterval)
		defer ft.Stop()
		trigger = ft
		feed, err := a.client.DialFeed(ctx, a.log)
		if err != nil {
			return err
		}
		defer feed.Close()
		g.Go(func() error {
			return feed.Run(gctx, func(e events.Event) {
				a.log.Debug("feed event", "type", e.Type, "order_id", e.OrderID)
				ft.Notify(e)
			})
		})
	}

	w := editlock.NewWatcher(coord, trigger, printSnapshot, a.log)
	w.SetOrders(ids)
	g.Go(func() error { return w.Run(gctx) })
	return g.Wait()
}

func printSnapshot(s editlock.Snapshot) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ORDER\tEDITABLE\tHOLDER\t")
	for id, st := range s {
		holder := st.Holder
		if st.LockedByViewer {
			holder += " (you)"
		}
		fmt.Fprintf(w, "%s\t%t\t%s\t\n", id, st.Editable(), holder)
	}
	w.Flush()
	fmt.Println()
}
