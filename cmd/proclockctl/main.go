package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"proclock/internal/chain"
	"proclock/internal/config"
	"proclock/internal/engine"
	"proclock/internal/signature"
	"proclock/internal/store"
)

func main() {
	root := &cobra.Command{
		Use:           "proclockctl",
		Short:         "Offline tooling for process-integrity chains",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(verifyCmd(), compareCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "proclockctl: %v\n", err)
		os.Exit(1)
	}
}

// verifyCmd re-verifies an exported chain without a running daemon.
func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <export.json>",
		Short: "Re-verify an exported chain file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var exp engine.Export
			if err := json.Unmarshal(raw, &exp); err != nil {
				return fmt.Errorf("parse export: %w", err)
			}
			if exp.Version != engine.ExportVersion {
				return fmt.Errorf("unsupported export version %d", exp.Version)
			}

			report := engine.VerifyExport(exp, engine.BoundsFromConfig(config.Load()))
			printJSON(cmd, report)
			if !report.Valid {
				return errors.New(report.Verdict)
			}
			return nil
		},
	}
}

// compareCmd judges convergence between two signature files.
func compareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare <a.json> <b.json>",
		Short: "Compare two process signatures",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := readSignature(args[0])
			if err != nil {
				return err
			}
			b, err := readSignature(args[1])
			if err != nil {
				return err
			}
			comparison := signature.Compare(a, b)
			printJSON(cmd, comparison)
			if !comparison.Convergent {
				return errors.New(comparison.Verdict)
			}
			return nil
		},
	}
}

// statusCmd authenticates and walks the chain stored in a daemon's database.
func statusCmd() *cobra.Command {
	var dbPath, namespace string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Inspect a stored chain directly",
		RunE: func(cmd *cobra.Command, args []string) error {
			kv, err := store.OpenSQLiteReadOnly(dbPath, namespace)
			if err != nil {
				return err
			}
			defer kv.Close()

			raw, err := kv.Get("chain")
			if err != nil {
				return fmt.Errorf("read chain: %w", err)
			}
			key, err := kv.Get("hmac_key")
			if err != nil {
				return fmt.Errorf("read hmac key: %w", err)
			}
			mac, err := kv.Get("chain_hmac")
			if err != nil {
				return fmt.Errorf("read chain hmac: %w", err)
			}
			sealed := seal(key, raw)
			if !hmac.Equal([]byte(sealed), mac) {
				return errors.New("stored chain failed HMAC authentication")
			}

			var links []chain.Link
			if err := json.Unmarshal(raw, &links); err != nil {
				return fmt.Errorf("parse chain: %w", err)
			}
			res := chain.Verify(links)
			printJSON(cmd, map[string]interface{}{
				"authenticated": true,
				"chain_length":  len(links),
				"report":        res,
			})
			if !res.Valid {
				return errors.New("chain failed coherence verification")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "./data/proclock.db", "path to the daemon database")
	cmd.Flags().StringVar(&namespace, "namespace", "proclock", "store namespace")
	return cmd
}

// readSignature accepts either a bare signature file or a full export, in
// which case the newest signature is used.
func readSignature(path string) (signature.Signature, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return signature.Signature{}, err
	}
	var exp engine.Export
	if err := json.Unmarshal(raw, &exp); err == nil && len(exp.Signatures) > 0 {
		return exp.Signatures[len(exp.Signatures)-1], nil
	}
	var sig signature.Signature
	if err := json.Unmarshal(raw, &sig); err != nil {
		return signature.Signature{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if sig.SignatureHash == "" {
		return signature.Signature{}, fmt.Errorf("%s is not a signature or export", path)
	}
	return sig, nil
}

func seal(key, data []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func printJSON(cmd *cobra.Command, v interface{}) {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
