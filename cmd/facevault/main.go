// Command facevault is the local CLI for the face-gated file vault.
//
// Exit codes: 0 success, 1 authentication failure, 2 I/O or integrity
// failure, 3 invalid arguments.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	facevault "github.com/lumivault/facevault"
	"github.com/lumivault/facevault/internal/embedding"
)

const (
	exitOK         = 0
	exitAuthFailed = 1
	exitIOFailure  = 2
	exitBadArgs    = 3
)

var (
	vaultPath     string
	embeddingPath string
	timeout       time.Duration
	verbose       bool

	// commandStarted flips once a command body runs. Errors raised before
	// that are argument and usage mistakes, not operation failures.
	commandStarted bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.Red("✗ %v", err)
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "facevault",
		Short:         "Protect files with your face as the only credential",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultPath := ".facevault"
	if home, err := os.UserHomeDir(); err == nil {
		defaultPath = filepath.Join(home, ".facevault")
	}
	root.PersistentFlags().StringVar(&vaultPath, "vault", defaultPath, "vault storage directory")
	root.PersistentFlags().StringVar(&embeddingPath, "embedding", "", "JSON file with a captured embedding (scripted capture source)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "per-operation timeout")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	root.AddCommand(enrollCmd(), authCmd(), encryptCmd(), decryptCmd(), verifyCmd(), deleteCmd(), consentCmd(), auditCmd())
	return root
}

// run marks the command body as started before delegating.
func run(fn func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		commandStarted = true
		return fn(cmd, args)
	}
}

func openVault() (*facevault.Vault, error) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return facevault.Init(&facevault.Config{
		Path:             vaultPath,
		Logger:           logger,
		OperationTimeout: timeout,
	})
}

func captureSource() (embedding.Source, error) {
	if embeddingPath == "" {
		return nil, fmt.Errorf("no capture source: pass --embedding (camera capture is provided by the desktop frontend)")
	}
	return &embedding.FileSource{Path: embeddingPath}, nil
}

func enrollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enroll <user-id>",
		Short: "Enroll a face as a new identity",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			defer v.Close()
			src, err := captureSource()
			if err != nil {
				return err
			}

			result, err := v.Enroll(context.Background(), args[0], src, nil)
			if err != nil {
				return err
			}
			color.Green("✓ enrolled %s (%d samples, average quality %.2f)", result.UserID, result.SampleCount, result.AverageQuality)
			return nil
		}),
	}
}

func authCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth <user-id>",
		Short: "Authenticate against an enrolled identity",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			defer v.Close()
			src, err := captureSource()
			if err != nil {
				return err
			}

			result, err := v.Authenticate(context.Background(), args[0], src, nil)
			if err != nil {
				return err
			}
			if !result.OK() {
				return facevault.ErrAuthenticationFailed
			}
			color.Green("✓ authenticated %s (similarity %.2f)", args[0], result.Similarity)
			return nil
		}),
	}
}

func encryptCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "encrypt <file>",
		Short: "Encrypt a file for an enrolled identity",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			defer v.Close()
			src, err := captureSource()
			if err != nil {
				return err
			}

			out, err := v.EncryptFile(context.Background(), args[0], userID, src)
			if err != nil {
				return err
			}
			color.Green("✓ encrypted to %s", out)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id (required)")
	cmd.MarkFlagRequired("user")
	return cmd
}

func decryptCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "decrypt <container>",
		Short: "Decrypt a container back to its original file",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			defer v.Close()
			src, err := captureSource()
			if err != nil {
				return err
			}

			out, err := v.DecryptFile(context.Background(), args[0], userID, src)
			if err != nil {
				return err
			}
			color.Green("✓ decrypted to %s", out)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id (required)")
	cmd.MarkFlagRequired("user")
	return cmd
}

func verifyCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "verify <container>",
		Short: "Verify a container's integrity without writing plaintext",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			defer v.Close()
			src, err := captureSource()
			if err != nil {
				return err
			}

			if err := v.VerifyFile(context.Background(), args[0], userID, src); err != nil {
				return err
			}
			color.Green("✓ container intact")
			return nil
		}),
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id (required)")
	cmd.MarkFlagRequired("user")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <user-id>",
		Short: "Delete an identity (crypto-erase; containers become unrecoverable)",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			defer v.Close()

			if err := v.DeleteUser(context.Background(), args[0]); err != nil {
				return err
			}
			color.Green("✓ deleted %s", args[0])
			return nil
		}),
	}
}

func consentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consent",
		Short: "Manage biometric consent",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <user-id>",
		Short: "Revoke biometric consent",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			defer v.Close()
			if err := v.RevokeConsent(context.Background(), args[0]); err != nil {
				return err
			}
			color.Green("✓ consent revoked for %s", args[0])
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "grant <user-id>",
		Short: "Restore biometric consent",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			defer v.Close()
			if err := v.GrantConsent(context.Background(), args[0]); err != nil {
				return err
			}
			color.Green("✓ consent granted for %s", args[0])
			return nil
		}),
	})
	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Verify the audit log hash chain",
		RunE: run(func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			defer v.Close()
			count, err := v.VerifyAuditLog()
			if err != nil {
				return err
			}
			color.Green("✓ audit chain intact (%d entries)", count)
			return nil
		}),
	})
	return cmd
}

func exitCode(err error) int {
	if !commandStarted {
		return exitBadArgs
	}
	return exitCodeFor(err)
}

func exitCodeFor(err error) int {
	var (
		integrityErr  *facevault.FileIntegrityError
		auditErr      *facevault.AuditIntegrityError
		storageErr    *facevault.StorageError
		authTimeout   *facevault.AuthenticationTimeoutError
		enrollTimeout *facevault.EnrollmentTimeoutError
	)
	switch {
	case errors.Is(err, facevault.ErrAuthenticationFailed), errors.As(err, &authTimeout), errors.As(err, &enrollTimeout):
		return exitAuthFailed
	case errors.Is(err, facevault.ErrInvalidUserID), errors.Is(err, facevault.ErrUserExists), errors.Is(err, facevault.ErrUserNotFound):
		return exitBadArgs
	case errors.As(err, &integrityErr), errors.As(err, &auditErr), errors.As(err, &storageErr):
		return exitIOFailure
	default:
		return exitIOFailure
	}
}
