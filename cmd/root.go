// Package cmd has the command line interface for training and evaluating the person re-identification
// network on the CUHK03 dataset.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var globalConfig = DefaultConfig()

func init() {
	logLevel, ok := os.LookupEnv("LOG_LEVEL")
	if ok {
		level, err := log.ParseLevel(logLevel)
		if err == nil {
			log.SetLevel(level)
		} else {
			log.Warn("Invalid log level. Defaulting to Info level.")
			log.SetLevel(log.InfoLevel)
		}
	} else {
		log.SetLevel(log.InfoLevel)
	}

	initTrain()
	initEvaluate()
	initPack()
	initColorStats()
	initServe()
}

var rootCmd = &cobra.Command{
	Use:   "idla",
	Short: "CUHK03 person re-identification",
	Long:  `Train and evaluate a siamese network with a cross neighborhood difference layer on the CUHK03 dataset`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("running the root command, see help or -h for available commands\n")
	},
}

// Execute runs the command given by the program arguments.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM so that long running commands can stop cleanly.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// add the dataset flags shared by several commands
func addDataFlags(cmd *cobra.Command, conf *Config) {
	cmd.PersistentFlags().StringVarP(&conf.Data, "data", "d", "", "dataset directory or packed .h5 file")
	cmd.PersistentFlags().StringVar(&conf.Kind, "kind", conf.Kind, "dataset kind: labeled or detected")
	cmd.PersistentFlags().IntVar(&conf.Rows, "rows", conf.Rows, "image height after resizing")
	cmd.PersistentFlags().IntVar(&conf.Cols, "cols", conf.Cols, "image width after resizing")
}
