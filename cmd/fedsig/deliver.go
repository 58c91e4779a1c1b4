package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vitalvas/fedsig/activitypub"
	"github.com/vitalvas/fedsig/deliver"
	"github.com/vitalvas/fedsig/httpsig"
	"github.com/vitalvas/fedsig/keystore"
)

func newDeliverCmd(a *app) *cobra.Command {
	var inbox, file string

	cmd := &cobra.Command{
		Use:   "deliver",
		Short: "Sign an activity and POST it to a remote inbox",
		Example: `  fedsig deliver --inbox https://remote.example/inbox --file reply.json
  cat reply.json | fedsig deliver --inbox https://remote.example/inbox --file -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			activity, err := readActivity(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			kp, err := keystore.Load(a.cfg.Keys.PrivatePath)
			if err != nil {
				return err
			}

			id, err := activitypub.NewIdentity(a.cfg.Actor.Scheme, a.cfg.Actor.Domain, a.cfg.Actor.User)
			if err != nil {
				return err
			}

			signer, err := httpsig.NewRSASigner(id.KeyID, kp.Private)
			if err != nil {
				return err
			}

			d, err := deliver.New(deliver.Config{
				Signer:       signer,
				Headers:      a.cfg.Signature.Headers,
				Timeout:      a.cfg.Delivery.Timeout,
				UserAgent:    a.cfg.Delivery.UserAgent,
				IncludeQuery: a.cfg.Signature.IncludeQuery,
			})
			if err != nil {
				return err
			}

			resp, err := d.Deliver(cmd.Context(), inbox, activity)
			if err != nil {
				return err
			}

			fmt.Fprintf(a.out, "status=%d\n", resp.StatusCode)

			if len(resp.Body) > 0 {
				fmt.Fprintln(a.out, string(resp.Body))
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&inbox, "inbox", "", "remote inbox URL")
	cmd.Flags().StringVarP(&file, "file", "f", "", "activity JSON file, - for stdin")
	_ = cmd.MarkFlagRequired("inbox")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func readActivity(stdin io.Reader, file string) ([]byte, error) {
	var (
		data []byte
		err  error
	)

	if file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(file)
	}

	if err != nil {
		return nil, fmt.Errorf("read activity: %w", err)
	}

	if len(data) == 0 {
		return nil, errors.New("read activity: empty input")
	}

	return data, nil
}
