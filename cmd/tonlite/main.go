// Command tonlite queries TON lite-servers through a failover balancer.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tonlite/internal/config"
	"tonlite/internal/liteclient"
	"tonlite/internal/log"
	"tonlite/internal/metrics"
	"tonlite/internal/pprofutil"
)

const envPrefix = "TONLITE"

const (
	flagConfig          = "config"
	flagNetwork         = "network"
	flagTimeout         = "timeout"
	flagRPS             = "rps"
	flagPerClientLimit  = "per-client-limit"
	flagLogLevel        = "log-level"
	flagMetricsAddr     = "metrics-addr"
	flagMetricsSnapshot = "metrics-snapshot"
	flagPprof           = "pprof"
	flagJSON            = "json"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{v: viper.New(), stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if terr := a.teardown(); err == nil {
		err = terr
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// app carries what every subcommand shares: settings, logger, metrics and the balancer.
type app struct {
	v      *viper.Viper
	stdout io.Writer
	stderr io.Writer

	logger  log.Logger
	metrics *metrics.Metrics
	lb      *liteclient.Balancer
	diag    *pprofutil.Server
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tonlite",
		Short:         "Query TON lite-servers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.String(flagConfig, "", `global config: "mainnet", "testnet", a URL or a file (default mainnet)`)
	pf.String(flagNetwork, "", "network id to report: mainnet or testnet (default from --config)")
	pf.Duration(flagTimeout, liteclient.DefaultBalancerRequestTimeout, "timeout of one balanced request")
	pf.Int(flagRPS, 0, "requests per second allowed, 0 for no limit")
	pf.Bool(flagPerClientLimit, false, "apply --rps to every lite-server separately")
	pf.String(flagLogLevel, "", "debug, info or error (default from TONLITE_LOG_LEVEL)")
	pf.String(flagMetricsAddr, "", "serve prometheus metrics on this loopback address")
	pf.Bool(flagPprof, false, "also serve pprof on --metrics-addr")
	pf.String(flagMetricsSnapshot, "", "write a JSON metrics snapshot to this file on exit")
	pf.Bool(flagJSON, false, "print results as JSON")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return a.setup(cmd)
	}
	root.AddCommand(
		a.infoCmd(),
		a.timeCmd(),
		a.versionCmd(),
		a.accountCmd(),
		a.txsCmd(),
		a.runCmd(),
		a.configCmd(),
		a.shardsCmd(),
		a.blockCmd(),
		a.sendCmd(),
		a.healthCmd(),
		a.watchCmd(),
	)
	return root
}

// setup binds flags and env, then connects the balancer.
func (a *app) setup(cmd *cobra.Command) error {
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	a.v.AutomaticEnv()
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := a.readSettings(); err != nil {
		return err
	}

	level := log.LevelFromEnv()
	if s := a.v.GetString(flagLogLevel); s != "" {
		level = log.ParseLevel(s)
	}
	a.logger = log.NewConsole(a.stderr, level).With("session", uuid.NewString())
	a.metrics = metrics.New()
	if addr := a.v.GetString(flagMetricsAddr); addr != "" {
		srv, err := pprofutil.Start(addr, pprofutil.Options{
			Metrics: a.metrics.Handler(),
			Pprof:   a.v.GetBool(flagPprof),
			Logger:  a.logger,
		})
		if err != nil {
			return err
		}
		a.diag = srv
	}

	src := a.v.GetString(flagConfig)
	cfg, err := config.Resolve(cmd.Context(), src, config.FetchOptions{Logger: a.logger})
	if err != nil {
		return err
	}
	network, err := a.network(src)
	if err != nil {
		return err
	}
	lb, err := liteclient.NewBalancerFromConfig(cfg, liteclient.ConfigOptions{
		Balancer: liteclient.BalancerOptions{
			Network:        network,
			RequestTimeout: a.v.GetDuration(flagTimeout),
			Logger:         a.logger,
			Metrics:        a.metrics,
		},
		RPSLimit:       a.v.GetInt(flagRPS),
		PerClientLimit: a.v.GetBool(flagPerClientLimit),
	})
	if err != nil {
		return err
	}
	a.lb = lb
	if err := lb.Connect(cmd.Context()); err != nil {
		return err
	}
	a.logger.Debug("connected", "config", src, "network", network, "alive", len(lb.AliveClients()))
	return nil
}

// readSettings loads an optional tonlite.{toml,yaml,json} from the working directory
// or the user config dir. Flags and env still win.
func (a *app) readSettings() error {
	a.v.SetConfigName("tonlite")
	a.v.AddConfigPath(".")
	if dir, err := os.UserConfigDir(); err == nil {
		a.v.AddConfigPath(filepath.Join(dir, "tonlite"))
	}
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("settings: %w", err)
		}
	}
	return nil
}

func (a *app) network(src string) (liteclient.Network, error) {
	if s := a.v.GetString(flagNetwork); s != "" {
		return liteclient.ParseNetwork(s)
	}
	if strings.EqualFold(strings.TrimSpace(src), "testnet") {
		return liteclient.Testnet, nil
	}
	return liteclient.Mainnet, nil
}

// teardown runs after every command, failed or not.
func (a *app) teardown() error {
	var err error
	if a.lb != nil {
		err = a.lb.Close()
	}
	if a.diag != nil {
		_ = a.diag.Close()
	}
	if path := a.v.GetString(flagMetricsSnapshot); path != "" && a.metrics != nil {
		if werr := a.metrics.WriteSnapshot(path); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}
