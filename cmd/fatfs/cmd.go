package main

import (
	"errors"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rstms/fatfs"
)

const envPrefix = "FATFS"

// app carries the configuration shared by every subcommand.
type app struct {
	config  *viper.Viper
	cfgFile string
}

func newCmd() *cobra.Command {
	a := &app{config: viper.New()}
	cmd := &cobra.Command{
		Use:               "fatfs",
		Short:             "inspect and modify FAT32 images and devices",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.readConfig(); err != nil {
				return err
			}
			return a.setupLogging()
		},
	}

	cmd.AddCommand(a.infoCmd())
	cmd.AddCommand(a.lsCmd())
	cmd.AddCommand(a.catCmd())
	cmd.AddCommand(a.putCmd())
	cmd.AddCommand(a.getCmd())
	cmd.AddCommand(a.mkdirCmd())
	cmd.AddCommand(a.rmCmd())
	cmd.AddCommand(a.mvCmd())
	cmd.AddCommand(a.mkfsCmd())
	cmd.AddCommand(a.fsckFreeCmd())

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default $HOME/.fatfs.yaml)")
	flags.StringP("image", "i", "", "image file or block device holding the volume")
	flags.Bool("readonly", false, "mount the volume read-only")
	flags.String("free-count-policy", "", "when to recount free clusters at mount: trust, rescan-unknown, rescan-unclean or always-rescan")
	flags.String("log-level", "warning", "log level: error, warning, info, debug or trace")
	flags.String("log-format", "text", "log format: text or json")
	flags.Bool("stats", false, "print block device counters after the command")
	for key, flag := range map[string]string{
		"image":             "image",
		"readonly":          "readonly",
		"free_count_policy": "free-count-policy",
		"log_level":         "log-level",
		"log_format":        "log-format",
		"stats":             "stats",
	} {
		cobra.CheckErr(a.config.BindPFlag(key, flags.Lookup(flag)))
	}
	return cmd
}

func (a *app) readConfig() error {
	v := a.config
	if a.cfgFile != "" {
		v.SetConfigFile(a.cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigName(".fatfs")
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if a.cfgFile != "" || !errors.As(err, &notFound) {
			return fatfs.Fatal(err)
		}
		return nil
	}
	log.Debugf("using config file %s", v.ConfigFileUsed())
	return nil
}

func (a *app) setupLogging() error {
	level, err := log.ParseLevel(a.config.GetString("log_level"))
	if err != nil {
		return fatfs.Fatal(err)
	}
	log.SetLevel(level)
	switch a.config.GetString("log_format") {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fatfs.Fatalf("unknown log format %q", a.config.GetString("log_format"))
	}
	return nil
}

// imagePath returns the configured image or device path.
func (a *app) imagePath() (string, error) {
	image := a.config.GetString("image")
	if image == "" {
		return "", fatfs.Fatalf("%w: no image given; use --image or %s_IMAGE", fatfs.ErrInvalidOperation, envPrefix)
	}
	return filepath.Clean(image), nil
}
