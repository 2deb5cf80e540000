package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/nantokaworks/choice-wheel/internal/coordinator"
	"github.com/nantokaworks/choice-wheel/internal/docstore"
	"github.com/nantokaworks/choice-wheel/internal/env"
	"github.com/nantokaworks/choice-wheel/internal/identity"
	"github.com/nantokaworks/choice-wheel/internal/localspin"
	"github.com/nantokaworks/choice-wheel/internal/settings"
	"github.com/nantokaworks/choice-wheel/internal/shared/logger"
	"github.com/nantokaworks/choice-wheel/internal/shared/paths"
	"github.com/nantokaworks/choice-wheel/internal/spin"
	"github.com/nantokaworks/choice-wheel/internal/types"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "sign in by email and save the API token",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Usage: "email address"},
			&cli.StringFlag{Name: "name", Usage: "display name"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			email := cmd.String("email")
			if email == "" {
				email = env.Value.Client.Email
			}
			if email == "" {
				return errors.New("--email is required")
			}

			c := newClient(cmd)
			user, err := c.SignIn(ctx, email, cmd.String("name"))
			if err != nil {
				return err
			}

			if err := paths.EnsureDataDirs(); err != nil {
				return err
			}
			saved := map[string]string{
				env.Prefix + "CLIENT_SERVER_URL": c.BaseURL,
				env.Prefix + "CLIENT_TOKEN":      c.Token,
				env.Prefix + "CLIENT_EMAIL":      user.Email,
			}
			if err := godotenv.Write(saved, paths.GetClientConfigPath()); err != nil {
				return fmt.Errorf("failed to save login: %w", err)
			}
			if err := os.Chmod(paths.GetClientConfigPath(), 0o600); err != nil {
				logger.Warn("Failed to restrict login file permissions", zap.Error(err))
			}

			fmt.Fprintf(cmd.Root().Writer, "signed in as %s (%s)\n", user.Email, user.ID)
			return nil
		},
	}
}

func createCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "create a wheel",
		ArgsUsage: "<slice> [slice...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title", Usage: "wheel title"},
			&cli.StringFlag{Name: "visibility", Usage: "private, public or anonymous-public", Value: string(types.VisibilityPrivate)},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c, err := requireClient(cmd)
			if err != nil {
				return err
			}
			slices, err := types.ValidateSlices(cmd.Args().Slice())
			if err != nil {
				return err
			}

			info, err := c.CreateWheel(ctx, cmd.String("title"), slices, types.Visibility(cmd.String("visibility")))
			if err != nil {
				return err
			}

			out := cmd.Root().Writer
			fmt.Fprintf(out, "created %s: %s\n", info.Wheel.ID, info.Wheel.Title)
			fmt.Fprintf(out, "  slices: %s\n", formatSlices(info.Wheel.Slices))
			fmt.Fprintf(out, "  share:  %s\n", info.ShareURL)
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "list wheels you own or were shared with",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c, err := requireClient(cmd)
			if err != nil {
				return err
			}
			wheels, err := c.ListWheels(ctx)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.Root().Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tSLICES\tVISIBILITY\tUPDATED")
			for _, w := range wheels {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", w.ID, w.Title, len(w.Slices), w.Visibility, humanize.Time(w.UpdatedAt))
			}
			return tw.Flush()
		},
	}
}

func shareCommand() *cli.Command {
	return &cli.Command{
		Name:      "share",
		Usage:     "change participants or visibility, or write the share QR code",
		ArgsUsage: "<wheel-id>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "editor", Usage: "email of an editor (repeatable)"},
			&cli.StringSliceFlag{Name: "viewer", Usage: "email of a viewer (repeatable)"},
			&cli.StringFlag{Name: "visibility", Usage: "private, public or anonymous-public"},
			&cli.StringFlag{Name: "qr", Usage: "write the share link QR code PNG to this path"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := requireArg(cmd, "wheel-id")
			if err != nil {
				return err
			}
			c, err := requireClient(cmd)
			if err != nil {
				return err
			}

			var fields docstore.Fields
			editors, viewers := cmd.StringSlice("editor"), cmd.StringSlice("viewer")
			if len(editors) > 0 || len(viewers) > 0 {
				participants := make([]types.Participant, 0, len(editors)+len(viewers))
				for _, e := range editors {
					participants = append(participants, types.Participant{Email: e, Role: types.RoleEditor})
				}
				for _, v := range viewers {
					participants = append(participants, types.Participant{Email: v, Role: types.RoleViewer})
				}
				fields.Participants = participants
			}
			if v := cmd.String("visibility"); v != "" {
				visibility := types.Visibility(v)
				fields.Visibility = &visibility
			}

			out := cmd.Root().Writer
			if !fields.Empty() {
				w, err := c.Update(ctx, id, fields)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s is %s\n", w.ID, w.Visibility)
				for _, p := range w.Participants {
					fmt.Fprintf(out, "  %-8s %s\n", p.Role, p.Email)
				}
			}

			info, err := c.Wheel(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "share: %s\n", info.ShareURL)

			if path := cmd.String("qr"); path != "" {
				png, err := c.QR(ctx, id, 512)
				if err != nil {
					return err
				}
				if err := os.WriteFile(path, png, 0o644); err != nil {
					return fmt.Errorf("failed to write QR code: %w", err)
				}
				fmt.Fprintf(out, "QR code written to %s\n", path)
			}
			return nil
		},
	}
}

func spinCommand() *cli.Command {
	return &cli.Command{
		Name:      "spin",
		Usage:     "spin a shared wheel, or a local one with --local",
		ArgsUsage: "<wheel-id> | --local <slice> [slice...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "local", Usage: "spin the given slices locally without a server"},
			&cli.StringFlag{Name: "force", Usage: "force the winner (case-insensitive label)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			var forced *string
			if f := cmd.String("force"); f != "" {
				forced = &f
			}
			if cmd.Bool("local") {
				return spinLocal(ctx, cmd, forced)
			}
			return spinShared(ctx, cmd, forced)
		},
	}
}

func envTiming() settings.SpinTiming {
	s := env.Value.Spin
	return settings.NewSpinTiming(s.Duration, s.TickInterval, s.ExtraTurns, s.CompleteCooldown)
}

func spinLocal(ctx context.Context, cmd *cli.Command, forced *string) error {
	slices, err := types.ValidateSlices(cmd.Args().Slice())
	if err != nil {
		return err
	}

	timing := envTiming()
	term := newTerminal(cmd.Root().Writer)
	ctrl := localspin.New(spin.NewResolver(timing.ExtraTurns), localspin.Config{
		Duration:     timing.Duration,
		TickInterval: timing.TickInterval,
	}, term)
	defer ctrl.Close()

	fmt.Fprintf(cmd.Root().Writer, "🎡 %s\n", formatSlices(slices))
	term.arm()
	if _, err := ctrl.Start(slices, forced); err != nil {
		return err
	}

	select {
	case <-term.done:
		return nil
	case <-ctx.Done():
		ctrl.Cancel()
		return ctx.Err()
	}
}

// newCoordinator builds a coordinator over the server with the server's timing.
func newCoordinator(ctx context.Context, cmd *cli.Command, term *terminal) (*coordinator.Coordinator, error) {
	c, err := requireClient(cmd)
	if err != nil {
		return nil, err
	}
	user, err := c.Me(ctx)
	if err != nil {
		return nil, err
	}

	timing, err := c.Timing(ctx)
	if err != nil || timing.Duration <= 0 {
		logger.Debug("Using local spin timing", zap.Error(err))
		timing = envTiming()
	}

	return coordinator.New(c, identity.Static{User: user}, nil, term, coordinator.Config{
		Duration:         timing.Duration,
		TickInterval:     timing.TickInterval,
		ExtraTurns:       timing.ExtraTurns,
		CompleteCooldown: timing.CompleteCooldown,
		TxAttempts:       env.Value.Spin.TxAttempts,
	}), nil
}

func spinShared(ctx context.Context, cmd *cli.Command, forced *string) error {
	id, err := requireArg(cmd, "wheel-id")
	if err != nil {
		return err
	}

	term := newTerminal(cmd.Root().Writer)
	coord, err := newCoordinator(ctx, cmd, term)
	if err != nil {
		return err
	}
	defer coord.Close()

	stop, err := coord.Observe(ctx, id)
	if err != nil {
		return err
	}
	defer stop()

	// done は自分のアニメーション開始後にだけ届く
	if err := coord.RequestSpinStart(ctx, id, forced); err != nil {
		if errors.Is(err, coordinator.ErrAlreadySpinning) {
			return errors.New("the wheel is already spinning")
		}
		return err
	}

	select {
	case <-term.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "follow a shared wheel and show every spin",
		ArgsUsage: "<wheel-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := requireArg(cmd, "wheel-id")
			if err != nil {
				return err
			}

			term := newTerminal(cmd.Root().Writer)
			coord, err := newCoordinator(ctx, cmd, term)
			if err != nil {
				return err
			}
			defer coord.Close()

			stop, err := coord.Observe(ctx, id)
			if err != nil {
				return err
			}
			defer stop()

			term.printf("watching %s (Ctrl+C to stop)\n", id)
			<-ctx.Done()
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "show recent results of a wheel",
		ArgsUsage: "<wheel-id>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Usage: "number of rows", Value: 20},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := requireArg(cmd, "wheel-id")
			if err != nil {
				return err
			}
			history, err := newClient(cmd).History(ctx, id, int(cmd.Int("limit")))
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.Root().Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tWINNER\tSLICES\tBY")
			for _, h := range history {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", humanize.Time(h.SpunAt), h.Winner, h.SliceCount, h.InitiatedBy)
			}
			return tw.Flush()
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "show the global spin counter",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			total, err := newClient(cmd).TotalSpins(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.Root().Writer, "%s spins so far\n", humanize.Comma(total))
			return nil
		},
	}
}
