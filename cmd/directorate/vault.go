package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/mtzanidakis/directorate/internal/store"
	"github.com/mtzanidakis/directorate/internal/vault"
)

func runVault(args []string) error {
	if len(args) == 0 {
		printVaultUsage()
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	v, err := vault.New(cfg.Vault.Passphrase)
	if err != nil {
		return fmt.Errorf("%w (set DIRECTORATE_VAULT_PASSPHRASE)", err)
	}
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	secrets := vault.NewSecrets(db, v)

	switch args[0] {
	case "list":
		return vaultList(secrets)
	case "set":
		return vaultSet(secrets, args[1:])
	case "get":
		return vaultGet(secrets, args[1:])
	case "delete":
		return vaultDelete(secrets, args[1:])
	default:
		printVaultUsage()
		return fmt.Errorf("unknown vault command: %s", args[0])
	}
}

func printVaultUsage() {
	fmt.Fprintf(os.Stderr, `Usage: directorate vault <command>

Commands:
  list                                          List secrets (metadata only)
  set <name> --value <str> [--description <text>]
                                                Store a secret
  get <name>                                    Decrypt and print a secret
  delete <name>                                 Delete a secret

Reference a secret from config with llm.api_key: "secret:<name>".

Environment:
  DIRECTORATE_VAULT_PASSPHRASE                  Required. Encryption passphrase.
`)
}

func vaultList(secrets *vault.Secrets) error {
	list, err := secrets.List()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No secrets stored.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDESCRIPTION\tUPDATED")
	for _, s := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, s.Description, s.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func vaultSet(secrets *vault.Secrets, args []string) error {
	if len(args) < 3 || args[1] != "--value" {
		return fmt.Errorf("usage: directorate vault set <name> --value <string> [--description <text>]")
	}
	name, value := args[0], args[2]

	description := ""
	for i := 3; i < len(args)-1; i++ {
		if args[i] == "--description" {
			description = args[i+1]
			break
		}
	}

	if err := secrets.Set(name, description, value); err != nil {
		return err
	}
	fmt.Printf("Secret %q saved\n", name)
	return nil
}

func vaultGet(secrets *vault.Secrets, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: directorate vault get <name>")
	}
	value, err := secrets.Get(args[0])
	if err != nil {
		return err
	}
	fmt.Println(value)
	return nil
}

func vaultDelete(secrets *vault.Secrets, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: directorate vault delete <name>")
	}
	if err := secrets.Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("Secret %q deleted\n", args[0])
	return nil
}
