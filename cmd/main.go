/*
Copyright 2024 Swiftcart Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	dispatch "github.com/swiftcart/dispatch"
	"github.com/swiftcart/dispatch/config"
	"github.com/swiftcart/dispatch/database"
	"github.com/swiftcart/dispatch/internal/notification"
)

// CLI wraps the root cobra command.
type CLI struct {
	cmd *cobra.Command
}

// dispatchInstance holds the service core and its configuration for the
// lifetime of one command.
type dispatchInstance struct {
	dispatch *dispatch.Dispatch
	cnf      *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

func preRun(app *dispatchInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("dispatch.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newDispatch, err := setupDispatch(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.dispatch = newDispatch
		app.cnf = cnf

		return nil
	}
}

func setupDispatch(cfg *config.Configuration) (*dispatch.Dispatch, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newDispatch, err := dispatch.NewDispatch(db)
	if err != nil {
		return nil, fmt.Errorf("error creating dispatch: %v", err)
	}
	return newDispatch, nil
}

func NewCLI() *CLI {
	var configFile string
	d := &dispatchInstance{}

	var rootCmd = &cobra.Command{
		Use:   "dispatch",
		Short: "Delivery assignment server",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./dispatch.json", "Configuration file for the dispatch server")

	rootCmd.PersistentPreRunE = preRun(d)

	rootCmd.AddCommand(serverCommands(d))
	rootCmd.AddCommand(workerCommands(d))
	rootCmd.AddCommand(migrateCommands(d))
	rootCmd.AddCommand(configCommands())

	return &CLI{cmd: rootCmd}
}

func (w CLI) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
