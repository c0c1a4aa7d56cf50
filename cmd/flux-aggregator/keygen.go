package main

import (
	"crypto/ecdsa"

	"github.com/spf13/cobra"

	"github.com/StrathCole/flux-aggregator/pkg/config"
	"github.com/StrathCole/flux-aggregator/pkg/quote"
)

func keygenCommand() *cobra.Command {
	var (
		withMnemonic bool
		hdPath       string
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a quote signing key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				key *ecdsa.PrivateKey
				err error
			)
			if withMnemonic {
				mnemonic, merr := quote.NewMnemonic()
				if merr != nil {
					return merr
				}
				if key, err = quote.KeyFromMnemonic(mnemonic, hdPath); err != nil {
					return err
				}
				cmd.Printf("mnemonic: %s\nhd_path:  %s\n", mnemonic, hdPath)
			} else if key, err = quote.GenerateKey(); err != nil {
				return err
			}

			cmd.Printf("key:      %s\naddress:  %s\n", quote.KeyHex(key), quote.NewSigner(key).Address().Hex())
			return nil
		},
	}
	cmd.Flags().BoolVar(&withMnemonic, "mnemonic", false, "Derive the key from a new BIP39 mnemonic")
	cmd.Flags().StringVar(&hdPath, "hd-path", config.DefaultHDPath, "HD derivation path used with --mnemonic")
	return cmd
}
