package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joncooperworks/capscan/trust"
)

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Manage trusted publisher and signing keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var openStore = func() (*trust.KeyringStore, error) {
	return trust.OpenKeyring(cfg.KeyringService)
}

var trustKeygenCmd = &cobra.Command{
	Use:   "keygen <name>",
	Short: "Generate a signing key in the keyring and print its public key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("public")
		self, _ := cmd.Flags().GetBool("trust")

		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		if err := store.SetSigningKey(args[0], priv); err != nil {
			return err
		}
		if self {
			if err := store.AddPublisher(args[0], pub); err != nil {
				return err
			}
		}

		pemBytes, err := trust.EncodePublicKey(pub)
		if err != nil {
			return err
		}
		if out == "" {
			_, err = cmd.OutOrStdout().Write(pemBytes)
			return err
		}
		if err := os.WriteFile(out, pemBytes, 0o644); err != nil {
			return fmt.Errorf("failed to write public key: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Signing key generated:\n")
		fmt.Fprintf(cmd.OutOrStdout(), "  Keyring ID: %s\n", args[0])
		fmt.Fprintf(cmd.OutOrStdout(), "  Public key: %s\n", out)
		return nil
	},
}

var trustAddCmd = &cobra.Command{
	Use:   "add <name> <public-key.pem>",
	Short: "Trust modules signed by a publisher key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("failed to read public key file: %w", err)
		}
		pub, err := trust.ParsePublicKey(data)
		if err != nil {
			return err
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		if err := store.AddPublisher(args[0], pub); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Publisher %s trusted\n", args[0])
		return nil
	},
}

var trustRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Stop trusting a publisher",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		return store.RemovePublisher(args[0])
	},
}

var trustListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trusted publishers and local signing keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		publishers, err := store.Publishers()
		if err != nil {
			return err
		}
		signers, err := store.Signers()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Trusted publishers (%d):\n", len(publishers))
		for _, name := range publishers {
			fmt.Fprintf(w, "  - %s\n", name)
		}
		fmt.Fprintf(w, "Signing keys (%d):\n", len(signers))
		for _, name := range signers {
			fmt.Fprintf(w, "  - %s\n", name)
		}
		return nil
	},
}

var trustSignCmd = &cobra.Command{
	Use:   "sign <module.wasm>...",
	Short: "Write detached signatures for modules",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keyID, _ := cmd.Flags().GetString("key")
		keyFile, _ := cmd.Flags().GetString("key-file")

		var priv ed25519.PrivateKey
		switch {
		case keyFile != "":
			data, err := os.ReadFile(keyFile)
			if err != nil {
				return fmt.Errorf("failed to read private key file: %w", err)
			}
			if priv, err = trust.ParsePrivateKey(data); err != nil {
				return err
			}
		case keyID != "":
			store, err := openStore()
			if err != nil {
				return err
			}
			if priv, err = store.SigningKey(keyID); err != nil {
				return err
			}
		default:
			return fmt.Errorf("--key or --key-file is required")
		}

		for _, path := range args {
			sigPath, err := trust.Sign(priv, path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed %s -> %s\n", path, sigPath)
		}
		return nil
	},
}

var trustVerifyCmd = &cobra.Command{
	Use:   "verify <module.wasm>...",
	Short: "Check module signatures against the trusted publishers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		verifier := trust.NewSignatureVerifier(store)

		failed := 0
		for _, path := range args {
			v, err := verifier.Verify(cmd.Context(), path)
			if err != nil {
				failed++
				fmt.Fprintf(cmd.OutOrStdout(), "UNTRUSTED %s: %v\n", path, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK        %s (signed by %s, sha256 %s)\n", path, v.Publisher, v.Digest)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d modules are not trusted", failed, len(args))
		}
		return nil
	},
}

func init() {
	trustKeygenCmd.Flags().String("public", "", "Write the public key to this file instead of stdout")
	trustKeygenCmd.Flags().Bool("trust", false, "Also trust the new key as a publisher")
	trustSignCmd.Flags().String("key", "", "Keyring ID of the signing key")
	trustSignCmd.Flags().String("key-file", "", "Path to a PEM Ed25519 private key")

	trustCmd.AddCommand(trustKeygenCmd)
	trustCmd.AddCommand(trustAddCmd)
	trustCmd.AddCommand(trustRemoveCmd)
	trustCmd.AddCommand(trustListCmd)
	trustCmd.AddCommand(trustSignCmd)
	trustCmd.AddCommand(trustVerifyCmd)
}
