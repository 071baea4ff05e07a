package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	server   string
	gateway  string
	username string
	timeout  time.Duration
	limit    int
	verbose  bool
}

func (c *Config) validate() error {
	for name, raw := range map[string]string{"--server": c.server, "--gateway": c.gateway} {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return fmt.Errorf("invalid %s url: %q", name, raw)
		}
	}
	if c.timeout <= 0 {
		return errors.New("--timeout must be positive")
	}
	return nil
}

func (c *Config) requireUsername() error {
	if strings.TrimSpace(c.username) == "" {
		return errors.New("--username is required (env: TRIVIA_USERNAME)")
	}
	return nil
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TRIVIA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "triviactl",
		Short:         "Play trivia rooms from the terminal.",
		Version:       releaseVersion,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cfg.verbose)
			return cfg.validate()
		},
	}

	fs := cmd.PersistentFlags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.server, "server", "s", "http://localhost:8080", "API server url (env: TRIVIA_SERVER)")
	fs.StringVarP(&cfg.gateway, "gateway", "g", "ws://localhost:8080/ws", "realtime gateway url (env: TRIVIA_GATEWAY)")
	fs.StringVarP(&cfg.username, "username", "u", "", "player name (env: TRIVIA_USERNAME)")
	fs.DurationVar(&cfg.timeout, "timeout", 10*time.Second, "timeout for one request (env: TRIVIA_TIMEOUT)")
	fs.IntVarP(&cfg.limit, "limit", "n", 20, "number of rooms to list (env: TRIVIA_LIMIT)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "log protocol traffic (env: TRIVIA_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.AddCommand(
		newRoomsCmd(cfg),
		newCategoriesCmd(cfg),
		newCreateCmd(cfg),
		newJoinCmd(cfg),
		newLeaveCmd(cfg),
	)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("triviactl v{{.Version}}\n")

	return cmd
}
