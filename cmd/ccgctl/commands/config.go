package commands

import (
	"github.com/spf13/cobra"

	"github.com/DabengBa/ccg-gateway/internal/config"
)

var cfg *config.Config

// SetConfig records the loaded gateway configuration for `config show`.
func SetConfig(c *config.Config) {
	cfg = c
}

// NewConfigCommand creates a command for inspecting the effective configuration
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective gateway configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the configuration the gateway would start with",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg == nil {
				cfg = &config.Config{}
			}

			view := map[string]interface{}{
				"config_file":               cfg.File,
				"listen":                    cfg.Server.Host,
				"port":                      cfg.Server.Port,
				"database":                  redactURL(cfg.Database.URL),
				"redis":                     redactURL(cfg.Redis.URL),
				"auth_enabled":              cfg.Auth.Enabled,
				"auth_header":               cfg.Auth.HeaderName,
				"stream_first_byte_timeout": cfg.Gateway.StreamFirstByteTimeout.String(),
				"stream_idle_timeout":       cfg.Gateway.StreamIdleTimeout.String(),
				"non_stream_timeout":        cfg.Gateway.NonStreamTimeout.String(),
				"usage_retention_days":      cfg.Usage.RetentionDays,
			}

			if outputJSON {
				OutputJSON(view)
				return nil
			}
			for _, key := range []string{
				"config_file", "listen", "port", "database", "redis", "auth_enabled", "auth_header",
				"stream_first_byte_timeout", "stream_idle_timeout", "non_stream_timeout", "usage_retention_days",
			} {
				printf("%-26s %v\n", key+":", view[key])
			}
			return nil
		},
	})

	return cmd
}
