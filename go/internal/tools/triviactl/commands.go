package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"

	"github.com/mcdev12/trivia/go/internal/backend"
	"github.com/mcdev12/trivia/go/internal/gateway"
	"github.com/mcdev12/trivia/go/internal/player"
	"github.com/mcdev12/trivia/go/internal/room"
	"github.com/mcdev12/trivia/go/internal/rpc"
	"github.com/spf13/cobra"
)

func (c *Config) api() backend.Backend {
	return rpc.NewClient(&http.Client{Timeout: c.timeout}, c.server)
}

func newRoomsCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List recent rooms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
			defer cancel()
			rooms, err := room.NewDirectory(cfg.api()).ListRooms(ctx, cfg.limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tPLAYERS\tSTATE\tCREATED")
			for _, r := range rooms {
				fmt.Fprintf(w, "%s\t%d/%d\t%s\t%s\n", r.Code, r.PlayerCount, r.Capacity, r.State, r.CreatedAt.Local().Format("15:04:05"))
			}
			return w.Flush()
		},
	}
}

func newCategoriesCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List question categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
			defer cancel()
			cats, err := room.NewDirectory(cfg.api()).ListCategories(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tITEMS")
			for _, c := range cats {
				fmt.Fprintf(w, "%d\t%s\t%d\n", c.ID, c.Name, c.ItemCount)
			}
			return w.Flush()
		},
	}
}

func newCreateCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a room and play in it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.requireUsername(); err != nil {
				return err
			}
			api := cfg.api()
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
			code, err := room.NewDirectory(api).CreateRoom(ctx, cfg.username)
			cancel()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created room %s\n", code)
			return play(cmd.Context(), cfg, api, code, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func newJoinCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "join CODE",
		Short: "Join a room and play in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.requireUsername(); err != nil {
				return err
			}
			return play(cmd.Context(), cfg, cfg.api(), args[0], cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func newLeaveCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "leave CODE",
		Short: "Give up your seat in a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.requireUsername(); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
			defer cancel()
			res, err := room.NewDirectory(cfg.api()).LeaveRoom(ctx, args[0], cfg.username)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case !res.Success:
				fmt.Fprintf(out, "%s was not in room %s\n", cfg.username, args[0])
			case res.RoomDeleted:
				fmt.Fprintln(out, "left; the room was empty and is gone")
			default:
				fmt.Fprintln(out, "left")
			}
			return nil
		},
	}
}

// play joins code over the API and gateway and runs the console until the
// player quits or input ends.
func play(ctx context.Context, cfg *Config, api backend.Backend, code string, in io.Reader, out io.Writer) error {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	gw, err := gateway.Dial(dialCtx, cfg.gateway, code, cfg.username)
	if err != nil {
		return err
	}
	defer gw.Close()

	app, err := player.NewApp(api, gw, cfg.username)
	if err != nil {
		return err
	}
	game, err := app.Join(dialCtx, code)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "joined room %s as %s (participant %d); type /help\n", game.Code, cfg.username, game.ParticipantID)
	return newConsole(out, game).run(ctx, in, cfg.timeout)
}
