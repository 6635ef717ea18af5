// Command xdbexport is a minimal example front-end over the export
// package. It carries no business logic of its own: --db names the
// bbolt database to open, --config an optional config file, and every
// other flag maps onto a field of export.Options; the actual work is
// entirely delegated to export.Export and boltbroker.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"xdbexport/boltbroker"
	"xdbexport/export"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "xdbexport",
		Short: "Run a failsafe database export against a bbolt-backed broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), v)
		},
	}

	flags := root.Flags()
	flags.String("db", "", "path to the bbolt database file to export from")
	flags.String("target-dir", "", "directory holding backup archives")
	flags.Bool("incremental", false, "perform an incremental export against the last archive in target-dir")
	flags.Int("max-incremental", -1, "maximum incremental chain length before a full backup is forced; -1 disables the cap")
	flags.Bool("zip", true, "write the archive as a single zip file instead of a directory tree")
	flags.String("config", "", "optional config file layering defaults under the flags above")

	_ = v.BindPFlag("db", flags.Lookup("db"))
	_ = v.BindPFlag("targetDir", flags.Lookup("target-dir"))
	_ = v.BindPFlag("incremental", flags.Lookup("incremental"))
	_ = v.BindPFlag("maxIncremental", flags.Lookup("max-incremental"))
	_ = v.BindPFlag("zip", flags.Lookup("zip"))

	cobra.OnInitialize(func() {
		if cfg, _ := flags.GetString("config"); cfg != "" {
			v.SetConfigFile(cfg)
			_ = v.ReadInConfig()
		}
	})

	return root
}

func runExport(ctx context.Context, v *viper.Viper) error {
	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync()

	dbPath := v.GetString("db")
	if dbPath == "" {
		return fmt.Errorf("xdbexport: --db is required")
	}
	targetDir := v.GetString("targetDir")
	if targetDir == "" {
		return fmt.Errorf("xdbexport: --target-dir is required")
	}

	broker, err := boltbroker.Open(dbPath)
	if err != nil {
		return fmt.Errorf("xdbexport: failed to open database: %w", err)
	}
	defer broker.Close()

	archivePath, err := export.Export(ctx, broker, boltbroker.Codec{}, export.Options{
		TargetDir:      targetDir,
		Incremental:    v.GetBool("incremental"),
		MaxIncremental: v.GetInt("maxIncremental"),
		Zip:            v.GetBool("zip"),
		Progress:       consoleProgress{},
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("xdbexport: export failed: %w", err)
	}

	fmt.Println(archivePath)
	return nil
}

// consoleProgress relays export.ProgressSink events to stdout, standing
// in for a real management-agent connection.
type consoleProgress struct{}

func (consoleProgress) StartCollection(uri string) {
	fmt.Printf("collection: %s\n", uri)
}

func (consoleProgress) StartDocument(name string, current, total int) {
	fmt.Printf("  document %d/%d: %s\n", current+1, total, name)
}

func (consoleProgress) Error(message string, cause error) {
	if cause != nil {
		fmt.Fprintf(os.Stderr, "warning: %s: %v\n", message, cause)
		return
	}
	fmt.Fprintf(os.Stderr, "warning: %s\n", message)
}

func (consoleProgress) SetPercentComplete(percent int) {
	fmt.Printf("  %d%%\n", percent)
}
