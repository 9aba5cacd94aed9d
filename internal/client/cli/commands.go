package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iudanet/cartsync/internal/models"
)

// Call sites used for debouncing; one per kind of user control
const (
	siteAdd      = "cli:add"
	siteRemove   = "cli:remove"
	siteQuantity = "cli:quantity"
	siteClear    = "cli:clear"
)

func (c *Cli) newAddCommand() *cobra.Command {
	var item models.CartItem

	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Add an item or increase its quantity by one",
		Example: `  cartsync add sku1 --name Tea --price 10
  cartsync add sku1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item.ID = args[0]
			if err := item.Validate(); err != nil {
				return err
			}
			return c.mutate(cmd, siteAdd, models.AddItem(item))
		},
	}

	cmd.Flags().StringVar(&item.Name, "name", "", "display name")
	cmd.Flags().Float64Var(&item.Price, "price", 0, "unit price")
	cmd.Flags().StringVar(&item.SKU, "sku", "", "article")
	cmd.Flags().StringVar(&item.Image, "image", "", "image URL")

	return cmd
}

func (c *Cli) newRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove an item from the cart",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.mutate(cmd, siteRemove, models.RemoveItem(args[0]))
		},
	}
}

func (c *Cli) newSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <id> <quantity>",
		Short: "Set item quantity; zero or less removes the item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			quantity, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid quantity %q: %w", args[1], err)
			}
			return c.mutate(cmd, siteQuantity, models.SetQuantity(args[0], quantity))
		},
	}
}

func (c *Cli) newClearCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every item from the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				answer, err := c.io.ReadInput("Clear the cart? [y/N]: ")
				if err != nil {
					return fmt.Errorf("failed to read confirmation: %w", err)
				}
				if a := strings.ToLower(answer); a != "y" && a != "yes" {
					c.io.Println("Cancelled.")
					return nil
				}
			}
			return c.mutate(cmd, siteClear, models.Clear())
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	return cmd
}

func (c *Cli) newShowCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := c.open(ctx, c.opts.logger(cmd))
			if err != nil {
				return err
			}
			state := s.tab.State()
			if err := s.close(ctx); err != nil {
				return err
			}
			return c.render(state, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the state as JSON")

	return cmd
}

func (c *Cli) newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print the cart on every change until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.watch(ctx, cmd)
		},
	}
}

// mutate opens the cart, applies cmd locally, broadcasts it and prints the result
func (c *Cli) mutate(cmd *cobra.Command, site string, command models.Command) error {
	ctx := cmd.Context()
	s, err := c.open(ctx, c.opts.logger(cmd))
	if err != nil {
		return err
	}

	state := s.tab.DispatchFrom(site, command)

	if err := s.close(ctx); err != nil {
		return err
	}
	return c.render(state, false)
}

func (c *Cli) watch(ctx context.Context, cmd *cobra.Command) error {
	logger := c.opts.logger(cmd)
	s, err := c.open(ctx, logger)
	if err != nil {
		return err
	}

	updates := make(chan models.CartState, 16)
	unsubscribe := s.tab.Subscribe(func(state models.CartState) {
		select {
		case updates <- state:
		default:
			logger.Debug("Render queue full, skipping intermediate state")
		}
	})

	c.io.Printf("Watching cart as %s on %s. Press Ctrl+C to stop.\n", s.tab.ID(), s.tab.Transport())
	if err := c.render(s.tab.State(), false); err != nil {
		unsubscribe()
		_ = s.close(context.Background())
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case state := <-updates:
				// Под нагрузкой показываем только последнее состояние
				for drained := false; !drained; {
					select {
					case state = <-updates:
					default:
						drained = true
					}
				}
				if err := c.render(state, false); err != nil {
					return err
				}
			}
		}
	})

	err = g.Wait()
	unsubscribe()

	stats := s.tab.Stats()
	c.io.Printf("Accepted %d, rejected %d (self %d, duplicate %d, stale %d, outdated %d, future %d), skipped %d\n",
		stats.Accepted,
		stats.RejectedSelf+stats.RejectedDuplicate+stats.RejectedStale+stats.RejectedOutdated+stats.RejectedFuture,
		stats.RejectedSelf, stats.RejectedDuplicate, stats.RejectedStale, stats.RejectedOutdated, stats.RejectedFuture,
		stats.SkippedNoop)

	if cerr := s.close(context.Background()); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (c *Cli) render(state models.CartState, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal cart: %w", err)
		}
		c.io.Println(string(data))
		return nil
	}
	if err := cartTmpl.Execute(c.io, state); err != nil {
		return fmt.Errorf("failed to render cart: %w", err)
	}
	return nil
}
