package cmd

import (
	"github.com/joho/godotenv"
	"github.com/pccr10001/modemd/internal/config"
	"github.com/pccr10001/modemd/internal/sysfs"
	"github.com/pccr10001/modemd/internal/usbinfo"
	"github.com/pccr10001/modemd/pkg/logger"
	"github.com/spf13/cobra"
)

var configPath string

var CMD = &cobra.Command{
	Use:   "modemd",
	Short: "USB cellular modem detection daemon",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		config.LoadConfig(configPath)
		logger.InitLogger(config.AppConfig.Log.Level, config.AppConfig.Log.Format)
		return nil
	},
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	CMD.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config.yaml)")
}

// newScanner builds the sysfs scanner from the detect section.
func newScanner(cfg config.DetectConfig) *sysfs.Scanner {
	s := sysfs.NewScanner(cfg.SysRoot, cfg.DevRoot)
	s.MaxDepth = cfg.MaxDepth
	if len(cfg.TTYPrefixes) > 0 {
		s.TTYPrefixes = cfg.TTYPrefixes
	}
	for _, l := range cfg.Labels {
		s.Labels = append(s.Labels, sysfs.Label{
			Vendor:    l.Vendor,
			Product:   l.Product,
			Interface: l.Interface,
			Label:     l.Label,
		})
	}
	if cfg.USBDescriptors {
		s.Describer = usbinfo.New()
	}
	return s
}
