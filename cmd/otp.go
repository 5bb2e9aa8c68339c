// File: cmd/otp.go
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/steady/internal/engine"
)

// now is the clock the otp command reads. Tests pin it.
var now = time.Now

// newOTPCmd creates the `otp` command, which prints the code a passcode
// step would submit right now.
func newOTPCmd() *cobra.Command {
	var secretEnv string
	cmd := &cobra.Command{
		Use:   "otp",
		Short: "Prints the current one-time passcode and how long it stays valid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			pc := cfg.Passcode()
			name := pc.SecretEnv
			if secretEnv != "" {
				name = secretEnv
			}
			secret, err := engine.EnvSecret(name).Reveal()
			if err != nil {
				return err
			}
			gen, err := engine.NewTOTPGenerator(pc.Digits, pc.Period, pc.Algorithm)
			if err != nil {
				return err
			}
			at := now()
			code, err := gen.Generate(secret, at)
			if err != nil {
				return err
			}
			remaining := engine.StepRemaining(gen.Period(), at)
			fmt.Fprintf(cmd.OutOrStdout(), "%s %ds\n", code, int(remaining.Seconds()))
			return nil
		},
	}
	cmd.Flags().StringVar(&secretEnv, "secret-env", "", "environment variable holding the base32 secret (default from config)")
	return cmd
}
