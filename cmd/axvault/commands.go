package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Picocrypt/zxcvbn-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/axiomvault/vault"
	"github.com/axiomvault/vault/store/badgerstore"
)

const passphraseEnv = "AXVAULT_PASSPHRASE"

// weakScoreCeiling is the zxcvbn score (0-4) at or below which init and
// passwd print a warning. The CLI warns, it does not refuse.
const weakScoreCeiling = 2

type cliState struct {
	vaultDir string
	verbose  bool
}

func newRootCmd() *cobra.Command {
	st := &cliState{}

	root := &cobra.Command{
		Use:           "axvault",
		Short:         "Encrypted personal-file vault",
		Long:          "axvault stores files encrypted client-side; the storage backend only ever sees opaque authenticated blobs.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&st.vaultDir, "vault", "V", "axvault.db", "vault store directory")
	root.PersistentFlags().BoolVarP(&st.verbose, "verbose", "v", false, "verbose logging")

	root.AddCommand(
		st.initCmd(),
		st.lsCmd(),
		st.putCmd(),
		st.getCmd(),
		st.catCmd(),
		st.mkdirCmd(),
		st.rmCmd(),
		st.mvCmd(),
		st.statCmd(),
		st.passwdCmd(),
		st.verifyCmd(),
		st.repairCmd(),
		st.gcCmd(),
	)
	return root
}

func (st *cliState) logger() *logrus.Logger {
	log := logrus.New()
	if st.verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}
	return log
}

// readPassphrase reads the passphrase from the environment or, when
// attached to a terminal, with echo disabled.
func readPassphrase(prompt string) ([]byte, error) {
	if env := os.Getenv(passphraseEnv); env != "" {
		return []byte(env), nil
	}
	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	return pass, nil
}

func warnIfWeak(pass []byte) {
	if zxcvbn.PasswordStrength(string(pass), nil).Score <= weakScoreCeiling {
		fmt.Fprintln(os.Stderr, "warning: passphrase is weak; consider a longer one")
	}
}

// withVault opens the store, unlocks the vault, runs fn, and locks again.
func (st *cliState) withVault(fn func(ctx context.Context, v *vault.Vault) error) error {
	ctx := context.Background()
	bs, err := badgerstore.Open(st.vaultDir)
	if err != nil {
		return err
	}
	defer bs.Close()

	v, err := vault.New(bs, &vault.Options{Logger: st.logger()})
	if err != nil {
		return err
	}
	pass, err := readPassphrase("passphrase: ")
	if err != nil {
		return err
	}
	if err := v.Unlock(ctx, pass); err != nil {
		return err
	}
	defer v.Lock(ctx)
	return fn(ctx, v)
}

func (st *cliState) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new vault",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			bs, err := badgerstore.Open(st.vaultDir)
			if err != nil {
				return err
			}
			defer bs.Close()

			pass, err := readPassphrase("new passphrase: ")
			if err != nil {
				return err
			}
			warnIfWeak(pass)

			v, err := vault.New(bs, &vault.Options{Logger: st.logger()})
			if err != nil {
				return err
			}
			if err := v.Create(ctx, pass, vault.DefaultKDFParams()); err != nil {
				return err
			}
			fmt.Println("vault created")
			return nil
		},
	}
}

func (st *cliState) lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := "/"
			if len(args) == 1 {
				p = args[0]
			}
			return st.withVault(func(ctx context.Context, v *vault.Vault) error {
				entries, err := v.List(ctx, p)
				if err != nil {
					return err
				}
				for _, e := range entries {
					if e.Kind == vault.EntryDir {
						fmt.Printf("%-5s %10s  %s/\n", e.Kind, "", e.Name)
					} else {
						fmt.Printf("%-5s %10d  %s\n", e.Kind, e.SizeHint, e.Name)
					}
				}
				return nil
			})
		},
	}
}

func (st *cliState) putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <local-file> <vault-path>",
		Short: "Store a local file in the vault",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return st.withVault(func(ctx context.Context, v *vault.Vault) error {
				return v.WriteFile(ctx, args[1], data)
			})
		},
	}
}

func (st *cliState) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <vault-path> <local-file>",
		Short: "Copy a vault file to the local filesystem",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withVault(func(ctx context.Context, v *vault.Vault) error {
				data, err := v.ReadFile(ctx, args[0])
				if err != nil {
					return err
				}
				return os.WriteFile(args[1], data, 0o600)
			})
		},
	}
}

func (st *cliState) catCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <vault-path>",
		Short: "Write a vault file to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withVault(func(ctx context.Context, v *vault.Vault) error {
				data, err := v.ReadFile(ctx, args[0])
				if err != nil {
					return err
				}
				_, err = os.Stdout.Write(data)
				return err
			})
		},
	}
}

func (st *cliState) mkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <vault-path>",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withVault(func(ctx context.Context, v *vault.Vault) error {
				return v.CreateDir(ctx, args[0])
			})
		},
	}
}

func (st *cliState) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <vault-path>",
		Short: "Remove a file or empty directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withVault(func(ctx context.Context, v *vault.Vault) error {
				return v.Remove(ctx, args[0])
			})
		},
	}
}

func (st *cliState) mvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <src> <dst>",
		Short: "Rename or move a file or directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withVault(func(ctx context.Context, v *vault.Vault) error {
				return v.Rename(ctx, args[0], args[1])
			})
		},
	}
}

func (st *cliState) statCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <vault-path>",
		Short: "Show kind and exact size",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withVault(func(ctx context.Context, v *vault.Vault) error {
				info, err := v.Stat(ctx, args[0])
				if err != nil {
					return err
				}
				if info.Kind == vault.EntryDir {
					fmt.Printf("%s: directory\n", args[0])
				} else {
					fmt.Printf("%s: file, %d bytes\n", args[0], info.Size)
				}
				return nil
			})
		},
	}
}

func (st *cliState) passwdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Change the vault passphrase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			bs, err := badgerstore.Open(st.vaultDir)
			if err != nil {
				return err
			}
			defer bs.Close()

			v, err := vault.New(bs, &vault.Options{Logger: st.logger()})
			if err != nil {
				return err
			}
			oldPass, err := readPassphrase("current passphrase: ")
			if err != nil {
				return err
			}
			if err := v.Unlock(ctx, oldPass); err != nil {
				return err
			}
			defer v.Lock(ctx)

			fmt.Fprint(os.Stderr, "new passphrase: ")
			newPass, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return err
			}
			warnIfWeak(newPass)

			if err := v.ChangePassword(ctx, oldPass, newPass, vault.DefaultKDFParams()); err != nil {
				return err
			}
			fmt.Println("passphrase changed")
			return nil
		},
	}
}

func (st *cliState) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <vault-path>",
		Short: "Check every authentication tag of a stored file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withVault(func(ctx context.Context, v *vault.Vault) error {
				if err := v.Verify(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("%s: ok\n", args[0])
				return nil
			})
		},
	}
}

func (st *cliState) repairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Reconcile the store: delete orphans, finish interrupted renames",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withVault(func(ctx context.Context, v *vault.Vault) error {
				report, err := v.Repair(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("orphans deleted:   %d\n", report.OrphansDeleted)
				fmt.Printf("staging deleted:   %d\n", report.StagingDeleted)
				fmt.Printf("renames resolved:  %d\n", report.RenamesResolved)
				fmt.Printf("dangling entries:  %d\n", report.DanglingEntries)
				if len(report.DuplicateRefs) > 0 {
					fmt.Printf("duplicate refs (unresolved): %d\n", len(report.DuplicateRefs))
				}
				return nil
			})
		},
	}
}

func (st *cliState) gcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Delete abandoned staging objects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withVault(func(ctx context.Context, v *vault.Vault) error {
				n, err := v.SweepStaging(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("staging objects deleted: %d\n", n)
				return nil
			})
		},
	}
}
