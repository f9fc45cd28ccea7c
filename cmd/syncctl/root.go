package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	keyServer  = "server"
	keyToken   = "token"
	keyJSON    = "json"
	keyTimeout = "timeout"
	keyConfig  = "config"
)

// newRootCmd builds the command tree. Flags override SYNCCTL_* env vars,
// which override the optional config file.
func newRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:   "syncctl",
		Short: "Operate the Zoho sync engine",
		Long: `syncctl talks to a running sync engine over its REST API.

Read commands work with a viewer token. Triggering runs, acknowledging alerts,
requeueing or purging dead letters, resetting breakers and running a healing
pass need an operator token. Mint one locally with 'syncctl token' on a host
that has the server configuration.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadCLIConfig(v)
		},
	}

	pf := root.PersistentFlags()
	pf.String(keyServer, "http://localhost:8080", "sync engine base URL")
	pf.String(keyToken, "", "bearer token (env SYNCCTL_TOKEN)")
	pf.Bool(keyJSON, false, "print raw JSON instead of tables")
	pf.Duration(keyTimeout, 30*time.Second, "request timeout")
	pf.String(keyConfig, "", "config file (default $HOME/.syncctl.toml)")
	for _, name := range []string{keyServer, keyToken, keyJSON, keyTimeout, keyConfig} {
		_ = v.BindPFlag(name, pf.Lookup(name))
	}

	cli := &cli{v: v}
	root.AddCommand(
		runsCmd(cli),
		alertsCmd(cli),
		deadLetterCmd(cli),
		breakersCmd(cli),
		healingCmd(cli),
		watchCmd(cli),
		tokenCmd(),
	)
	return root
}

func loadCLIConfig(v *viper.Viper) error {
	v.SetEnvPrefix("SYNCCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString(keyConfig); file != "" {
		v.SetConfigFile(file)
		return v.ReadInConfig()
	}
	v.SetConfigName(".syncctl")
	v.SetConfigType("toml")
	v.AddConfigPath("$HOME")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}
	return nil
}

// cli carries the resolved settings into each command
type cli struct {
	v *viper.Viper
}

func (c *cli) client() (*apiClient, error) {
	return newAPIClient(c.v.GetString(keyServer), c.v.GetString(keyToken), c.v.GetDuration(keyTimeout))
}

func (c *cli) printer(cmd *cobra.Command) *printer {
	return &printer{out: cmd.OutOrStdout(), json: c.v.GetBool(keyJSON)}
}
