// Command fedsig runs a federated actor that signs its outgoing requests
// and verifies the signatures on its inbox.
package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/vitalvas/fedsig/config"
	"github.com/vitalvas/fedsig/logger"
)

var version = "dev"

type app struct {
	configPath string
	envFile    string

	cfg *config.Config
	out io.Writer
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:           "fedsig",
		Short:         "Federated actor with HTTP Signatures",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = logger.Sync()
		},
	}

	root.SetOut(out)

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("FEDSIG_CONFIG"), "path to the YAML config file (env FEDSIG_CONFIG)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the config")

	root.AddCommand(
		newKeygenCmd(a),
		newServeCmd(a),
		newDeliverCmd(a),
		newLookupCmd(a),
	)

	return root
}

// load reads the dotenv file, the config and sets up logging.
func (a *app) load() error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", a.envFile, err)
		}
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	a.cfg = cfg

	logger.Init(logger.Config{
		Env:         cfg.Log.Env,
		Level:       cfg.Log.Level,
		ServiceName: "fedsig",
		Version:     version,
	})

	return nil
}
