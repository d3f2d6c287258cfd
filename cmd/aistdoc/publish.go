package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aistant/aistdoc/internal/config"
	"github.com/aistant/aistdoc/internal/filesink"
	"github.com/aistant/aistdoc/internal/kbclient"
	"github.com/aistant/aistdoc/internal/kbsync"
	"github.com/aistant/aistdoc/internal/publish"
	"github.com/aistant/aistdoc/internal/source"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type publishFlags struct {
	configPath string
	output     string
	sourcePath string
	mode       string
	timeout    time.Duration
}

func (f *publishFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", envOrDefault("AISTDOC_CONFIG", config.DefaultFileName), "config file (json or yaml)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "write markdown files into this directory instead of the knowledge base")
	cmd.Flags().StringVarP(&f.sourcePath, "source", "s", "", "markdown directory or manifest file (overrides the config)")
	cmd.Flags().StringVar(&f.mode, "mode", "", "source mode: md or manifest (overrides the config)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", durationEnv("AISTDOC_TIMEOUT", 0), "per-request timeout (overrides the config)")
}

func newPublishCmd(a *app) *cobra.Command {
	flags := &publishFlags{}
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish the configured source once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := prepareJob(flags, a.logger)
			if err != nil {
				return err
			}
			_, err = job.run(cmd.Context())
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

// publishJob is one configured publishing target. Every run bootstraps a
// fresh session with a fresh client, so ordering, section caches and the
// access token never outlive a batch.
type publishJob struct {
	cfg       *config.Config
	source    source.Source
	root      string
	logger    *zap.Logger
	newClient func() kbclient.RemoteClient
}

func prepareJob(flags *publishFlags, logger *zap.Logger) (*publishJob, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	baseDir := filepath.Dir(flags.configPath)
	if flags.sourcePath != "" {
		baseDir = "."
	}
	src, root, err := buildSource(cfg, baseDir)
	if err != nil {
		return nil, err
	}
	return &publishJob{
		cfg:    cfg,
		source: src,
		root:   root,
		logger: logger,
		newClient: func() kbclient.RemoteClient {
			return buildRemoteClient(cfg, logger)
		},
	}, nil
}

// loadConfig reads the config file, falling back to defaults when the file
// is absent and the run writes to a local directory.
func loadConfig(flags *publishFlags) (*config.Config, error) {
	var cfg *config.Config
	data, err := os.ReadFile(flags.configPath)
	switch {
	case err == nil:
		cfg, err = config.Parse(data, isYAMLPath(flags.configPath))
		if err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist) && flags.output != "":
		cfg = config.Default()
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := config.LoadDotEnv(filepath.Dir(flags.configPath)); err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()

	if flags.output != "" {
		cfg.Output = flags.output
	}
	if flags.sourcePath != "" {
		cfg.Source.Path = flags.sourcePath
	}
	if flags.mode != "" {
		cfg.Source.Mode = flags.mode
	}
	if flags.timeout > 0 {
		cfg.Aistant.Timeout = flags.timeout.String()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildSource(cfg *config.Config, baseDir string) (source.Source, string, error) {
	path := cfg.Source.Path
	if path == "" {
		return nil, "", fmt.Errorf("%w: source path is required", config.ErrInvalidConfig)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	switch cfg.Source.Mode {
	case "", "md":
		return source.MarkdownDir{Root: path}, path, nil
	case "manifest":
		return source.Manifest{Path: path}, filepath.Dir(path), nil
	default:
		return nil, "", fmt.Errorf("%w: unknown source mode %q", config.ErrInvalidConfig, cfg.Source.Mode)
	}
}

func buildRemoteClient(cfg *config.Config, logger *zap.Logger) *kbclient.HTTPClient {
	httpClient := &http.Client{Timeout: cfg.RequestTimeout()}
	tokens := kbclient.NewPasswordTokenSource(kbclient.PasswordCredentials{
		TokenURL:   cfg.TokenURL(),
		ClientID:   cfg.Aistant.ClientID,
		Username:   cfg.Aistant.Username,
		Password:   cfg.Aistant.Password,
		Scope:      cfg.Aistant.Scope,
		HTTPClient: httpClient,
		Logger:     logger,
	})
	return kbclient.NewHTTPClient(kbclient.HTTPClientOptions{
		BaseURL:       cfg.Aistant.APIHost,
		Team:          cfg.Aistant.Team,
		TokenProvider: tokens.AccessToken,
		HTTPClient:    httpClient,
		UserAgent:     "aistdoc/" + version,
		MaxRetries:    cfg.Aistant.Retries,
		Endpoints: kbclient.Endpoints{
			Articles: cfg.Aistant.ArticlesEndpoint,
			Docs:     cfg.Aistant.DocsEndpoint,
			Public:   cfg.Aistant.PublicEndpoint,
		},
		Logger: logger,
	})
}

func (j *publishJob) run(ctx context.Context) (publish.Summary, error) {
	requests, err := j.source.Requests(ctx)
	if err != nil {
		return publish.Summary{}, fmt.Errorf("read source: %w", err)
	}
	j.logger.Info("source loaded", zap.String("path", j.cfg.Source.Path), zap.Int("requests", len(requests)))

	publisher, err := j.publisher(ctx)
	if err != nil {
		return publish.Summary{}, err
	}
	summary, err := publish.Run(ctx, publisher, requests, j.logger)
	if err != nil {
		return summary, err
	}
	j.logger.Info(fmt.Sprintf("Done! %d documents added or updated", summary.Changed()),
		zap.Int("unchanged", summary.Unchanged),
		zap.Duration("elapsed", summary.Elapsed),
	)
	return summary, nil
}

func (j *publishJob) publisher(ctx context.Context) (publish.Publisher, error) {
	if j.cfg.Output != "" {
		sink, err := filesink.New(j.cfg.Output, j.logger)
		if err != nil {
			return nil, err
		}
		return sink, nil
	}
	session, err := kbsync.Bootstrap(ctx, j.newClient(), kbsync.Options{
		KnowledgeBase:    j.cfg.Aistant.KB,
		RootSectionURI:   j.cfg.Aistant.Section.URI,
		RootSectionTitle: j.cfg.Aistant.Section.Title,
		VersionOnChange:  j.cfg.Aistant.AddVersion,
		PublishOnWrite:   j.cfg.Aistant.Publish,
		Logger:           j.logger,
	})
	if err != nil {
		return nil, err
	}
	kb := session.KnowledgeBase()
	j.logger.Info("knowledge base ready", zap.String("kb", kb.Moniker), zap.String("id", kb.ID))
	return publish.NewKnowledgeBasePublisher(session), nil
}

func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
