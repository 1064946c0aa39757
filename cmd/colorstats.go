package cmd

import (
	"github.com/ptran/idla-person-reid/img"
	"github.com/ptran/idla-person-reid/reid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var colorStatsCmd = &cobra.Command{
	Use:   "colorstats",
	Short: "Calculate the colour channel statistics of the training images",
	Long: `Calculate the mean and standard deviation of each colour channel over the images of every person
not in the test set of the given protocol and save them as JSON for use with train --stats`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := globalConfig
		cfg.Mode = "colorstats"
		if err := cfg.Validate(); err != nil {
			log.WithError(err).Fatal("invalid config")
		}
		if _, err := runColorStats(cfg); err != nil {
			log.WithError(err).Fatal("colorstats failed")
		}
	},
}

func initColorStats() {
	rootCmd.AddCommand(colorStatsCmd)
	addDataFlags(colorStatsCmd, &globalConfig)
	flags := colorStatsCmd.PersistentFlags()
	flags.IntVarP(&globalConfig.Protocol, "protocol", "p", 0, "test protocol to exclude")
	flags.StringVarP(&globalConfig.OutFile, "out", "o", colorStatsFile, "output JSON file")
}

func runColorStats(cfg Config) (reid.Input, error) {
	data, err := reid.Load(cfg.Data, cfg.Kind, cfg.Rows, cfg.Cols)
	if err != nil {
		return reid.Input{}, err
	}
	protocol, err := data.Protocol(cfg.Protocol)
	if err != nil {
		return reid.Input{}, err
	}
	var in reid.Input
	in.Mean, in.StdDev = img.ColorStats(data.Images(data.Complement(protocol)))
	return in, in.Save(cfg.OutFile)
}
