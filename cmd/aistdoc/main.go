package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aistant/aistdoc/internal/kbclient"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var version = "dev"

type app struct {
	verbose   bool
	logFormat string
	logger    *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	root := newRootCmd(a)
	if err := root.ExecuteContext(ctx); err != nil {
		if a.logger != nil {
			a.logger.Error("command failed", errorFields(err)...)
			_ = a.logger.Sync()
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		stop()
		os.Exit(1)
	}
}

// errorFields adds the response status and body when err came from the
// remote API.
func errorFields(err error) []zap.Field {
	fields := []zap.Field{zap.Error(err)}
	var httpErr *kbclient.HTTPError
	if errors.As(err, &httpErr) {
		fields = append(fields, zap.Int("status", httpErr.StatusCode), zap.String("body", httpErr.Body))
	}
	return fields
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "aistdoc",
		Short:         "Publish documentation into a knowledge base",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := buildLogger(a.verbose, a.logFormat, cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", boolEnv("AISTDOC_VERBOSE", false), "enable debug logging")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", envOrDefault("AISTDOC_LOG_FORMAT", "json"), "log encoding: json or console")

	root.AddCommand(
		newPublishCmd(a),
		newWatchCmd(a),
		newCreateCmd(a),
		newEmulatorCmd(a),
	)
	return root
}

func buildLogger(verbose bool, format string, sink io.Writer) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	var encoder zapcore.Encoder
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	case "console":
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(sink)), level)
	return zap.New(core), nil
}

func envOrDefault(name, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}

func boolEnv(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}
