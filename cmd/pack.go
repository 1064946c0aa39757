package cmd

import (
	"time"

	"github.com/ptran/idla-person-reid/reid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Pack a dataset directory into a single HDF5 file",
	Long: `Load and resize the images of one dataset kind together with the test protocols and save them to
an HDF5 file which can be given as the --data argument of the other commands`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := globalConfig
		cfg.Mode = "pack"
		if err := cfg.Validate(); err != nil {
			log.WithError(err).Fatal("invalid config")
		}
		if err := runPack(cfg); err != nil {
			log.WithError(err).Fatal("pack failed")
		}
	},
}

func initPack() {
	rootCmd.AddCommand(packCmd)
	addDataFlags(packCmd, &globalConfig)
	packCmd.PersistentFlags().StringVarP(&globalConfig.OutFile, "out", "o", "cuhk03.h5", "output HDF5 file")
}

func runPack(cfg Config) error {
	start := time.Now()
	data, err := reid.LoadDir(cfg.Data, cfg.Kind, cfg.Rows, cfg.Cols)
	if err != nil {
		return err
	}
	if err = reid.SaveHDF5(cfg.OutFile, data); err != nil {
		return err
	}
	log.WithField("time", time.Since(start).Round(time.Millisecond)).Info("pack complete")
	return nil
}
