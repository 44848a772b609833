package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mutant",
		Short: "Mutant DNA analyzer",
		Long: `mutant classifies square DNA grids as mutant or human. A grid is mutant
when it holds at least two runs of four identical bases across its rows,
columns and diagonals.`,
		PersistentPreRun: func(*cobra.Command, []string) {
			initConfig()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/mutant/config.yaml)")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	_ = viper.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(newServeCmd(), newCheckCmd())
	return root
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("MUTANT")
	// e.g. MUTANT_STORE_DSN for store.dsn
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	// PORT is honoured for platforms that inject it.
	_ = viper.BindEnv("server.port", "MUTANT_SERVER_PORT", "PORT")

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().Int("port", 0, "port to listen on (default 8080)")
	cmd.Flags().String("store", "", "record store driver: sqlite or memory")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	// Flags only override when set, so env and config file still apply.
	if cmd.Flags().Changed("port") {
		port, _ := cmd.Flags().GetInt("port")
		viper.Set("server.port", port)
	}
	if cmd.Flags().Changed("store") {
		driver, _ := cmd.Flags().GetString("store")
		viper.Set("store.driver", driver)
	}

	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	log := newLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	api := NewServer(store, cfg, log)
	defer api.Close()
	srv := api.HTTPServer(cfg.Server)

	errc := make(chan error, 1)
	go func() {
		log.Info("server started", "addr", srv.Addr, "store", cfg.Store.Driver, "h2c", cfg.Server.H2C)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg StoreConfig) (RecordStore, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return OpenSQLStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [FILE...]",
		Short: "Classify DNA grids without a server",
		Long: `check reads one grid per file (or stdin when no file or "-" is given)
and prints whether each is mutant or human. A file holds either a JSON
object {"dna": [...]}, a JSON array of rows, or one row per line.`,
		RunE: runCheck,
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)

	if len(args) == 0 {
		args = []string{"-"}
	}

	failed := 0
	for _, name := range args {
		mutant, err := checkOne(cmd.InOrStdin(), name, cfg.DNA)
		if err != nil {
			log.Error("check failed", "input", name, "err", err)
			failed++
			continue
		}
		label := "human"
		if mutant {
			label = "mutant"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, label)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d inputs could not be classified", failed, len(args))
	}
	return nil
}

func checkOne(stdin io.Reader, name string, cfg DNAConfig) (bool, error) {
	var r io.Reader = stdin
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return false, err
		}
		defer f.Close()
		r = f
	}

	rows, err := readRows(r)
	if err != nil {
		return false, err
	}
	g, err := validateGrid(rows, cfg)
	if err != nil {
		return false, err
	}
	return IsMutant(g), nil
}

// readRows parses a grid given as {"dna": [...]}, a JSON array, or plain
// lines. Blank lines are ignored in the plain form.
func readRows(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)

	switch {
	case bytes.HasPrefix(data, []byte("{")):
		var req struct {
			DNA []string `json:"dna"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("parse dna object: %w", err)
		}
		return req.DNA, nil
	case bytes.HasPrefix(data, []byte("[")):
		var rows []string
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, fmt.Errorf("parse dna array: %w", err)
		}
		return rows, nil
	}

	var rows []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			rows = append(rows, line)
		}
	}
	return rows, sc.Err()
}
