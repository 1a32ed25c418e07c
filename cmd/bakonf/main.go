package main

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"bakonf-go/internal/app"
	"bakonf-go/internal/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config named by --config, or the default location.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		defaults, err := app.GetDefaults()
		if err != nil {
			return nil, fmt.Errorf("getting defaults: %w", err)
		}
		path = defaults["config_path"]
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp creates an App for cfg. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Backup", "ListArchives").
func newApp(cmd *cobra.Command, cfg *config.Config, operation string) (*app.App, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	a, err := app.NewApp(cfg, operation, app.Options{Verbose: verbose, Stderr: cmd.ErrOrStderr()})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readPassphrase prompts on the terminal, or reads a line from stdin when it
// is not a terminal.
func readPassphrase(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:          "bakonf",
	Short:        "Incremental configuration backup",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		path, _ := cmd.Flags().GetString("config")
		if path == "" {
			path = defaults["config_path"]
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(path, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", path)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Database: %s\n", cfg.Database)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Database:   %s\n", cfg.Database)
		fmt.Printf("Max Size:   %d\n", cfg.MaxSize)
		fmt.Printf("Compress:   %t\n", cfg.Compress)
		fmt.Printf("Output:     %s\n", cfg.Output.Type)
		fmt.Printf("Encryption: %s\n", cfg.Encryption.Type)
		fmt.Println("Include:")
		for _, p := range cfg.Include {
			fmt.Printf("  %s\n", p)
		}
		fmt.Println("Exclude:")
		for _, p := range cfg.Exclude {
			fmt.Printf("  %s\n", p)
		}
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run a full or incremental backup",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetInt("level")
		store, _ := cmd.Flags().GetString("state-file")
		file, _ := cmd.Flags().GetString("file")
		dir, _ := cmd.Flags().GetString("dir")
		compress, _ := cmd.Flags().GetBool("compress")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if store != "" {
			abs, err := filepath.Abs(store)
			if err != nil {
				return fmt.Errorf("resolving state file: %w", err)
			}
			cfg.Database = abs
		}
		if compress {
			cfg.Compress = true
		}
		archiveName := ""
		if file != "" {
			dir, archiveName = filepath.Split(file)
			if dir == "" {
				dir = "."
			}
		}
		if dir != "" {
			cfg.Output = config.OutputConfig{Type: "filesystem", Name: "local", Dir: dir}
		}

		a, err := newApp(cmd, cfg, "Backup")
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.Backup(level, archiveName)
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}

		fmt.Printf("Archive:  %s\n", stats.Archive)
		fmt.Printf("Level:    %d\n", stats.Level)
		fmt.Printf("Archived: %d\n", stats.FileCount)
		if stats.Oversized > 0 {
			fmt.Printf("Too big:  %d\n", stats.Oversized)
		}
		if stats.FileErrors > 0 {
			fmt.Printf("Errors:   %d (see unarchived_files.lst in the archive)\n", stats.FileErrors)
		}
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cmd, cfg, "InitKeys")
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.EncryptionEnabled() {
			return app.ErrNoEncryption
		}
		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if pass != confirm {
			return errors.New("passphrases do not match")
		}
		if err := a.InitKeys(pass); err != nil {
			return err
		}

		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

// decrypt command
var decryptCmd = &cobra.Command{
	Use:   "decrypt ARCHIVE OUTPUT",
	Short: "Decrypt an archive",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cmd, cfg, "Decrypt")
		if err != nil {
			return err
		}
		defer a.Close()

		in, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer in.Close()

		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}

		out, err := os.OpenFile(args[1], os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if err != nil {
			return err
		}
		if err := a.Decrypt(in, out, pass); err != nil {
			out.Close()
			os.Remove(args[1])
			return fmt.Errorf("decrypt failed: %w", err)
		}
		return out.Close()
	},
}

// contents command
var contentsCmd = &cobra.Command{
	Use:   "contents ARCHIVE",
	Short: "List the members of an archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cmd, cfg, "Contents")
		if err != nil {
			return err
		}
		defer a.Close()

		pass := ""
		if strings.HasSuffix(args[0], ".age") {
			if pass, err = readPassphrase("Passphrase: "); err != nil {
				return err
			}
		}

		return a.Contents(args[0], pass, func(hdr *tar.Header) error {
			target := ""
			if hdr.Typeflag == tar.TypeSymlink {
				target = " -> " + hdr.Linkname
			}
			fmt.Printf("%s %5d %5d %10d %s %s%s\n",
				os.FileMode(hdr.Mode).Perm(),
				hdr.Uid,
				hdr.Gid,
				hdr.Size,
				hdr.ModTime.Format("2006-01-02 15:04"),
				hdr.Name,
				target,
			)
			return nil
		})
	},
}

// archives command
var archivesCmd = &cobra.Command{
	Use:   "archives",
	Short: "List archives at the output destination",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cmd, cfg, "ListArchives")
		if err != nil {
			return err
		}
		defer a.Close()

		infos, err := a.ListArchives()
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("No archives.")
			return nil
		}
		for _, info := range infos {
			fmt.Printf("%s  %10d  %s\n", info.ModTime.Format("2006-01-02 15:04:05"), info.Size, info.Name)
		}
		return nil
	},
}

// state command
var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Describe the fingerprint store",
	RunE: func(cmd *cobra.Command, args []string) error {
		withFiles, _ := cmd.Flags().GetBool("files")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cmd, cfg, "State")
		if err != nil {
			return err
		}
		defer a.Close()

		sum, paths, err := a.StoreSummary(withFiles)
		if err != nil {
			return err
		}
		fmt.Printf("Path:    %s\n", sum.Path)
		fmt.Printf("Version: %s\n", sum.Version)
		fmt.Printf("Created: %s\n", sum.Created.Format("2006-01-02 15:04:05"))
		fmt.Printf("Files:   %d\n", sum.Files)
		for _, p := range paths {
			fmt.Println(p)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file (default $BAKONF_CONFIG_PATH or /etc/bakonf/bakonf.toml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Show progress messages on the console")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// keys subcommands
	keysCmd.AddCommand(keysInitCmd)

	backupCmd.Flags().IntP("level", "L", 0, "Backup level: 0 for full, 1 for incremental")
	backupCmd.Flags().StringP("state-file", "V", "", "Fingerprint store to use instead of the configured one")
	backupCmd.Flags().StringP("file", "f", "", "Write the archive to this file")
	backupCmd.Flags().StringP("dir", "d", "", "Write the archive into this directory")
	backupCmd.Flags().BoolP("compress", "z", false, "Compress the archive with zstd")
	backupCmd.MarkFlagsMutuallyExclusive("file", "dir")

	stateCmd.Flags().Bool("files", false, "List the recorded paths")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(decryptCmd)
	rootCmd.AddCommand(contentsCmd)
	rootCmd.AddCommand(archivesCmd)
	rootCmd.AddCommand(stateCmd)
}
