package app

import (
	"github.com/spf13/cobra"
)

// CreateRootCmd create root command, subcommands are added by caller
func CreateRootCmd(meta *Meta) *cobra.Command {
	return &cobra.Command{
		Use:     meta.Name,
		Short:   meta.Description,
		Version: meta.BuildInfo(),
	}
}

// CreateServeCmd create serve command
func CreateServeCmd(handler func(cmd *cobra.Command, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "command for starting connection pools and stats HTTP server",
		RunE:  handler,
	}
}

// CreateMigrateCmd create migrate command
func CreateMigrateCmd(handler func(cmd *cobra.Command, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "command for applying database migrations and exit",
		RunE:  handler,
	}
}
