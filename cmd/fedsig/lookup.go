package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/vitalvas/fedsig/activitypub"
)

func newLookupCmd(a *app) *cobra.Command {
	var (
		scheme  string
		keyOnly bool
	)

	cmd := &cobra.Command{
		Use:   "lookup user@domain",
		Short: "Resolve an account through WebFinger and print its actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &activitypub.Client{
				HTTP:      &http.Client{Timeout: a.cfg.Resolver.Timeout},
				Scheme:    scheme,
				UserAgent: a.cfg.Delivery.UserAgent,
			}

			actorURL, err := client.Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			actor, err := client.FetchActor(cmd.Context(), actorURL)
			if err != nil {
				return err
			}

			if keyOnly {
				fmt.Fprint(a.out, actor.PublicKey.PublicKeyPem)
				return nil
			}

			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")

			return enc.Encode(actor)
		},
	}

	cmd.Flags().StringVar(&scheme, "scheme", "https", "scheme used for the WebFinger request")
	cmd.Flags().BoolVar(&keyOnly, "key", false, "print only the actor's publicKeyPem")

	return cmd
}
