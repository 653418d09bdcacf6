package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-sif/shuffle"
	"github.com/go-sif/shuffle/codec"
	"github.com/go-sif/shuffle/localdisk"
	"github.com/go-sif/shuffle/storage"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const appID = "sifshuffle"

var (
	cfg  = viper.New()
	json = jsoniter.ConfigCompatibleWithStandardLibrary
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sifshuffle",
		Short: "sifshuffle writes, reads and inspects shuffle files on local disk",
		Long: `sifshuffle drives the local disk shuffle storage of a single executor.
Every flag may also be set through an environment variable, such as SIFSHUFFLE_CODEC=lz4.`,
		SilenceUsage: true,
	}
	addExecutorFlags(rootCmd.PersistentFlags())
	cfg.BindPFlags(rootCmd.PersistentFlags())
	cfg.SetEnvPrefix("SIFSHUFFLE")
	cfg.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	cfg.AutomaticEnv()

	rootCmd.AddCommand(newWriteCommand(), newReadCommand(), newInspectCommand(), newBenchCommand())
	return rootCmd
}

// addExecutorFlags defines the flags shared by every subcommand
func addExecutorFlags(flags *pflag.FlagSet) {
	flags.StringSliceP("dir", "d", []string{os.TempDir()}, "Local directories holding shuffle files")
	flags.StringP("executor", "e", "0", "ID of the executor owning the shuffle files")
	flags.StringP("codec", "c", codec.None, "Codec for block contents (none, lz4, zstd)")
	flags.String("buffer", "32KiB", "Size of the write buffer for data files")
	flags.Bool("checksums", true, "Whether to record a checksum for every partition")
	flags.Int("subdirs", 64, "Number of subdirectories per local directory")
	flags.String("log-level", "warning", "Log level (trace, debug, info, warning, error)")
}

// newExecutor initializes executor components over the configured local directories
func newExecutor() (*localdisk.ExecutorComponents, *storage.Runtime, error) {
	id := shuffle.ShuffleServerID{ExecutorID: cfg.GetString("executor"), Host: "localhost"}
	opts := &shuffle.Options{SubDirsPerLocalDir: cfg.GetInt("subdirs")}
	rt, err := storage.NewRuntime(cfg.GetStringSlice("dir"), opts, id, cfg.GetString("codec"), nil, nil)
	if err != nil {
		return nil, nil, err
	}
	c := localdisk.NewExecutorComponents(opts, rt)
	err = c.InitializeExecutor(appID, id.ExecutorID, map[string]string{
		shuffle.FileBufferSizeKey:  cfg.GetString("buffer"),
		shuffle.ChecksumEnabledKey: strconv.FormatBool(cfg.GetBool("checksums")),
		shuffle.LogLevelKey:        cfg.GetString("log-level"),
	})
	if err != nil {
		return nil, nil, err
	}
	return c, rt, nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(out))
	return err
}
