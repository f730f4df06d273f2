/**
 * Copyright 2025 Marcelo Parisi (github.com/feitnomore)
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/feitnomore/sg-nft-bridge/pkg/api"
	"github.com/feitnomore/sg-nft-bridge/pkg/config"
	"github.com/feitnomore/sg-nft-bridge/pkg/driver"
	"github.com/feitnomore/sg-nft-bridge/pkg/kernel"
	"github.com/feitnomore/sg-nft-bridge/pkg/nwfilter"
	"github.com/feitnomore/sg-nft-bridge/pkg/store"
	"github.com/feitnomore/sg-nft-bridge/pkg/types"
	"github.com/feitnomore/sg-nft-bridge/pkg/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"
)

/* Our version */
var version = "dev"

/* Our nftables utility */
var thisNft = types.NewNftTables()

/* Path of the YAML configuration file */
var configPath = ""

/* Cobra Root Command */
var rootCmd = &cobra.Command{
	Use:     "sg-nft-bridge",
	Version: version,
	Short:   "Security Group Bridge Enforcer",
	Long:    "sg-nft-bridge - Security group enforcement for virtualized hosts.",
	Run: func(_ *cobra.Command, args []string) {
		/* Make sure klog use the values got by Crobra/pflag */
		klog.OsExit = func(exitCode int) {
			klog.Errorf("klog.OsExit called with code %d, panicking to allow flush", exitCode)
			panic(fmt.Sprintf("klog.OsExit called with code %d", exitCode))
		}
		/* Force log to stderr */
		klog.LogToStderr(true)

		klog.V(8).Infof("loading configuration: config.Load() \n")
		cfg, err := config.Load(configPath)
		if err != nil {
			klog.Errorf("config.Load() failed: %v \n", err)
			os.Exit(1)
		}

		klog.V(8).Infof("opening policy database: store.Open() \n")
		policy, err := store.Open(cfg.DatabasePath)
		if err != nil {
			klog.Errorf("store.Open() failed: %v \n", err)
			os.Exit(1)
		}
		defer policy.Close()

		klog.V(8).Infof("building filter graph and drivers \n")
		graph := nwfilter.NewFilterGraph(cfg, nwfilter.NewVirshHypervisor(cfg.VirshBinary))
		defer graph.Close()
		basic := driver.NewNWFilterDriver(graph, policy)

		fw, err := driver.NewChainTreeDriver(thisNft, basic, policy, cfg)
		if err != nil {
			klog.Errorf("driver.NewChainTreeDriver() failed: %v \n", err)
			os.Exit(1)
		}

		klog.V(8).Infof("starting http listener on %s \n", cfg.ListenAddress)
		server := &http.Server{
			Addr:    cfg.ListenAddress,
			Handler: api.NewServer(fw, policy).Router(),
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				klog.Errorf("http server failed: %v \n", err)
				klog.Flush()
				os.Exit(1)
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		klog.Infof("Waiting for shutdown signal...")
		<-sigChan
		klog.Infof("Shutdown signal received, exiting...\n")
		_ = server.Close()

		_ = args
	},
}

//nolint:gochecknoinits
func init() {
	defer klog.Flush()

	/* Create pflag.FlagSet for klog flags */
	klogFlags := pflag.NewFlagSet("klog", pflag.ContinueOnError)

	/* Initialize klog flags using a temporary *flag.FlagSet */
	goFlags := flag.NewFlagSet("go-flags-for-klog", flag.ContinueOnError)
	klog.InitFlags(goFlags)

	/* Add values from *flag.FlagSet to Cobra's *pflag.FlagSet */
	goFlags.VisitAll(func(f *flag.Flag) {
		pf := pflag.PFlagFromGoFlag(f)
		klogFlags.AddFlag(pf)
	})

	/* Add flags to our rootCmd */
	rootCmd.PersistentFlags().AddFlagSet(klogFlags)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path of the YAML configuration file")

	if lf := rootCmd.PersistentFlags().Lookup("logtostderr"); lf != nil {
		lf.DefValue = "true"
		lf.NoOptDefVal = "true"

		if err := rootCmd.PersistentFlags().Set("logtostderr", "true"); err != nil {
			klog.Warningf("Failed to set logtostderr via pflag in init: %v", err)
		}
	} else {
		klog.Warning("klog flag 'logtostderr' not found in PersistentFlags during init.")
	}
}

/* This is our enforcer starting point */
func main() {
	utils.DisplayBanner(version)

	if !kernel.CheckNftables() {
		klog.Errorf("Error matching nftables kernel modules...\n")
		klog.Flush()
		os.Exit(1)
	}

	thisNft.Init()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing root command: %v\n", err)
		klog.Fatalf("Error executing root command: %v \n", err)
	}
}
