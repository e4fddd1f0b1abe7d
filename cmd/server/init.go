package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/prasenjit/mockpit/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default configuration and data directory",
	Long: `Creates the default configuration file (config.yaml) and data directory.

The generated configuration uses file storage under ./data so that
endpoints survive restarts.

If config.yaml already exists, it will not be overwritten unless --force is used.`,
	RunE: runInit,
}

var (
	initForce bool
	initPath  string
)

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite existing config file")
	initCmd.Flags().StringVarP(&initPath, "path", "p", ".", "Path where to initialize (default: current directory)")
}

func runInit(cmd *cobra.Command, args []string) error {
	absPath, err := filepath.Abs(initPath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	files, err := writeInitFiles(absPath, initForce)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, f := range files {
		fmt.Fprintf(out, "Created %s\n", f)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Initialization complete! You can now start the server with:")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  cd %s\n", absPath)
	fmt.Fprintln(out, "  mockpit serve")
	return nil
}

// writeInitFiles creates the data directory and config.yaml under dir and
// returns what it created
func writeInitFiles(dir string, force bool) ([]string, error) {
	configFile := filepath.Join(dir, "config.yaml")
	dataDir := filepath.Join(dir, "data")

	if _, err := os.Stat(configFile); err == nil && !force {
		return nil, fmt.Errorf("config.yaml already exists. Use --force to overwrite")
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dataDir, err)
	}

	cfg := config.Default()
	cfg.Storage.Type = config.StorageFile
	cfg.Storage.Path = "./data"

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to generate config: %w", err)
	}

	header := "# mockpit configuration\n# Every key can be overridden with MOCKPIT_<SECTION>_<KEY>, e.g. MOCKPIT_MOCK_PORT\n\n"
	if err := os.WriteFile(configFile, append([]byte(header), data...), 0644); err != nil {
		return nil, fmt.Errorf("failed to write config file: %w", err)
	}

	return []string{dataDir, configFile}, nil
}
