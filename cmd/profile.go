// Package cmd holds the lokmanager subcommands.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/smazurov/lokmanager/internal/logging"
	"github.com/smazurov/lokmanager/internal/profile"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// CreateProfileCmd creates the profile command, which edits the profiles
// file directly. A running daemon picks the changes up through its watcher.
func CreateProfileCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage profiles offline",
		Long: `Lists and edits profiles in the profiles file without a running daemon. ` +
			`Statuses are never changed here; use the API to start or stop workers.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			// Keep stdout clean for list and export output.
			logging.Initialize(logging.Config{Level: "error", Format: "text"})
		},
	}

	defaultFile := profile.DefaultFile
	if env := os.Getenv("LOKMANAGER_PROFILES_FILE"); env != "" {
		defaultFile = env
	}
	cmd.PersistentFlags().StringVarP(&file, "file", "f", defaultFile, "Profiles file")

	open := func() (*profile.Store, error) {
		store := profile.NewStore(file)
		profiles, err := store.Read()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		store.Replace(profiles)
		return store, nil
	}

	cmd.AddCommand(
		listCmd(open),
		createCmd(open),
		cloneCmd(open),
		deleteCmd(open),
		setTokenCmd(open),
		setConfigCmd(open),
		showCmd(open),
		exportCmd(open),
	)
	return cmd
}

type storeOpener func() (*profile.Store, error)

func listCmd(open storeOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := open()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTATUS\tTOKEN\tCONFIG")
			for _, name := range store.Names() {
				p, err := store.Get(name)
				if err != nil {
					return err
				}
				cfg := "custom"
				if len(p.Config) == 0 {
					cfg = "default"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, p.Status, p.MaskedToken(), cfg)
			}
			return w.Flush()
		},
	}
}

func createCmd(open storeOpener) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a stopped profile with the default config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			if _, err := store.Create(args[0]); err != nil {
				return err
			}
			if token != "" {
				if err := store.SetToken(args[0], token); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created profile %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&token, "token", "t", "", "Game account token")
	return cmd
}

func cloneCmd(open storeOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "clone SOURCE NAME",
		Short: "Copy a profile's token and config into a new stopped profile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			if _, err := store.Clone(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cloned %s to %s\n", args[0], args[1])
			return nil
		},
	}
}

func deleteCmd(open storeOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a stopped profile",
		Long:  `Deletes a profile. Profiles recorded as Running are refused; stop them through the API first.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			p, err := store.Get(args[0])
			if err != nil {
				return err
			}
			if p.Status == profile.StatusRunning {
				return fmt.Errorf("profile %q is marked Running, stop it first", args[0])
			}
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted profile %s\n", args[0])
			return nil
		},
	}
}

func setTokenCmd(open storeOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "set-token NAME TOKEN",
		Short: "Replace a profile's token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			if err := store.SetToken(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token updated for %s\n", args[0])
			return nil
		},
	}
}

func setConfigCmd(open storeOpener) *cobra.Command {
	var from string
	var reset bool

	cmd := &cobra.Command{
		Use:   "set-config NAME [PATH VALUE]",
		Short: "Edit a profile's worker config",
		Long: `Sets one value by sjson path, replaces the whole document with --from ` +
			`(a file, or - for stdin), or restores the default with --reset. ` +
			`VALUE is parsed as JSON and taken as a plain string when that fails.`,
		Example: `  lokmanager profile set-config farm1 main.object_scanning.enabled false
  lokmanager profile set-config farm1 --from farm1.json
  lokmanager profile set-config farm1 --reset`,
		Args: func(cmd *cobra.Command, args []string) error {
			modes := 0
			if from != "" {
				modes++
			}
			if reset {
				modes++
			}
			switch {
			case modes > 1:
				return fmt.Errorf("--from and --reset are mutually exclusive")
			case modes == 1 && len(args) != 1:
				return fmt.Errorf("expected NAME only with --from or --reset")
			case modes == 0 && len(args) != 3:
				return fmt.Errorf("expected NAME PATH VALUE")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			name := args[0]

			switch {
			case reset:
				err = store.ResetConfig(name)
			case from != "":
				var doc []byte
				doc, err = readInput(cmd.InOrStdin(), from)
				if err == nil {
					err = store.SetConfig(name, doc)
				}
			default:
				err = store.SetConfigValue(name, args[1], configValue(args[2]))
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config updated for %s\n", name)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Replace the config with this JSON file, - for stdin")
	cmd.Flags().BoolVar(&reset, "reset", false, "Restore the default config")
	return cmd
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// configValue returns arg as raw JSON, quoting it when it is not JSON.
func configValue(arg string) json.RawMessage {
	if json.Valid([]byte(arg)) {
		return json.RawMessage(arg)
	}
	quoted, _ := json.Marshal(arg)
	return quoted
}

func showCmd(open storeOpener) *cobra.Command {
	var showToken bool
	cmd := &cobra.Command{
		Use:   "show NAME",
		Short: "Print a profile with its effective config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			p, err := store.Get(args[0])
			if err != nil {
				return err
			}

			token := p.MaskedToken()
			if showToken {
				token = p.Token
			}
			out := struct {
				Name      string          `json:"name"`
				Status    profile.Status  `json:"status"`
				Token     string          `json:"token"`
				StartTime *profile.Epoch  `json:"start_time,omitempty"`
				Config    json.RawMessage `json:"config"`
			}{p.Name, p.Status, token, p.StartTime, p.EffectiveConfig()}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().BoolVar(&showToken, "show-token", false, "Print the token unmasked")
	return cmd
}

func exportCmd(open storeOpener) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export [NAME...]",
		Short: "Print profiles, including tokens, as JSON or YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "yaml" {
				return fmt.Errorf("unknown format %q, want json or yaml", format)
			}
			store, err := open()
			if err != nil {
				return err
			}

			all := store.All()
			selected := all
			if len(args) > 0 {
				selected = make(map[string]profile.Profile, len(args))
				for _, name := range args {
					p, ok := all[name]
					if !ok {
						return profile.NewError(profile.ErrCodeNotFound, fmt.Sprintf("profile %q not found", name), nil)
					}
					selected[name] = p
				}
			}

			data, err := json.MarshalIndent(selected, "", "  ")
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if format == "json" {
				_, err = fmt.Fprintf(w, "%s\n", data)
				return err
			}
			return writeYAML(w, data)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", "json", "Output format: json or yaml")
	return cmd
}

// writeYAML re-encodes a JSON document as block-style YAML, keeping key order.
func writeYAML(w io.Writer, data []byte) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	clearStyle(&doc)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return err
	}
	return enc.Close()
}

func clearStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		clearStyle(c)
	}
}
