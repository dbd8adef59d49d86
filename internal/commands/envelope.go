package commands

import (
	"fmt"

	"bienestar/internal/crypto"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newEnvelopeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "envelope",
		Short: "Encrypt or decrypt wire envelopes with the shared secret",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "encrypt <plaintext>",
		Short: "Print the envelope JSON for a plaintext",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := newCodec(loadConfig(v))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), codec.Encrypt(args[0]).String())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "decrypt <envelope-json>",
		Short: "Print the plaintext of an envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := newCodec(loadConfig(v))
			if err != nil {
				return err
			}
			env, err := crypto.ParseEnvelope(args[0])
			if err != nil {
				return err
			}
			plaintext, err := codec.Decrypt(env)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), plaintext)
			return nil
		},
	})

	return cmd
}
