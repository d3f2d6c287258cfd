package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/aistant/aistdoc/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCreateCmd(a *app) *cobra.Command {
	var (
		file  string
		mode  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Write a starter config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(file); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", file)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			cfg, err := config.Template(mode)
			if err != nil {
				return err
			}
			if err := cfg.Save(file); err != nil {
				return err
			}
			a.logger.Info("config template written", zap.String("file", file), zap.String("mode", cfg.Source.Mode))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", config.DefaultFileName, "path of the config file to write")
	cmd.Flags().StringVar(&mode, "mode", "md", "source mode of the template: md or manifest")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
