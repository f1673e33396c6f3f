// Command taskboard serves the task board and its realtime socket.
//
// @title                       taskboard
// @version                     1.0
// @description                 Вход, привязка Telegram и WebSocket с изменениями задач.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"taskboard/internal/app"
	"taskboard/internal/config"
	"taskboard/internal/services"
)

var version = "dev"

// configFile is set by the --config flag.
var configFile string

func main() {
	code := 0
	if err := rootCmd.Execute(); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			code = int(exit)
		} else {
			fmt.Fprintln(os.Stderr, err)
			code = 1
		}
	}
	glog.Flush()
	os.Exit(code)
}

var rootCmd = &cobra.Command{
	Use:           "taskboard",
	Short:         "Collaborative task board server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// glog registers its flags (-v, -logtostderr, ...) on the std flag set
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml)")
	// keeps glog from complaining about unparsed flags
	_ = flag.CommandLine.Parse([]string{})

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(hashPasswordCmd)
	rootCmd.AddCommand(versionCmd)
}

type exitError int

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configFile)
		if err != nil {
			return err
		}
		if code := app.Run(cfg); code != 0 {
			return exitError(code)
		}
		return nil
	},
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Print a bcrypt hash for person.password_hash",
	Long:  `Print a bcrypt hash for person.password_hash. Reads the password from stdin when no argument is given.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var password string
		if len(args) == 1 {
			password = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}
		if password == "" {
			return fmt.Errorf("empty password")
		}
		hash, err := services.HashPassword(password)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "taskboard", version)
	},
}
