// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"os"

	"github.com/kernelfs/diskfs/cfg"
	"github.com/kernelfs/diskfs/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error
	RunConfig     cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "diskfsctl",
	Short: "Format and inspect diskfs block-device filesystem images",
	Long: `diskfsctl formats a flat file as a diskfs image, dumps an inode's
block pointer tree, and runs the filesystem's documented testable-property
scenarios against a formatted image.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		if err := cfg.ValidateConfig(&RunConfig); err != nil {
			return err
		}
		logger.Init(logger.Severity(RunConfig.Logging.Severity), os.Stderr)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to the config-file")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(formatCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(scenarioCmd)
}

func initConfig() {
	RunConfig = cfg.GetDefaultConfig()
	if cfgFile == "" {
		unmarshalErr = viper.Unmarshal(&RunConfig, viper.DecodeHook(cfg.DecodeHook()))
		return
	}
	viper.SetConfigFile(cfgFile)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("error while reading config file: %w", err)
		return
	}
	unmarshalErr = viper.Unmarshal(&RunConfig, viper.DecodeHook(cfg.DecodeHook()))
}
