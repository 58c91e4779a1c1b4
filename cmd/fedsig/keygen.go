package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitalvas/fedsig/keystore"
	"github.com/vitalvas/fedsig/logger"
)

func newKeygenCmd(a *app) *cobra.Command {
	var (
		bits  int
		force bool
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the actor key pair",
		Long:  "Generate an RSA key pair and write it to keys.private_path (PKCS#8) and keys.public_path.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("bits") {
				bits = a.cfg.Keys.Bits
			}

			kp, err := keystore.Generate(bits)
			if err != nil {
				return err
			}

			priv, pub := a.cfg.Keys.PrivatePath, a.cfg.Keys.PublicPath

			if err := keystore.WriteFiles(kp, priv, pub, keystore.WriteOptions{Overwrite: force}); err != nil {
				return err
			}

			logger.Named("keygen").Info("key pair written")
			fmt.Fprintf(a.out, "private key: %s\npublic key:  %s\n", priv, pub)

			return nil
		},
	}

	cmd.Flags().IntVar(&bits, "bits", keystore.DefaultBits, "RSA modulus size")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing key files")

	return cmd
}
