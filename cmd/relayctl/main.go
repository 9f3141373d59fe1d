package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/flowchartsman/retry"
	"github.com/spf13/cobra"

	"relaystore/internal/client"
	"relaystore/internal/clock"
	"relaystore/internal/config"
	"relaystore/internal/log"
	"relaystore/internal/quorum"
	"relaystore/internal/record"
)

func main() {
	root := NewRelayctlCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRelayctlCommand creates the root `relayctl` command.
func NewRelayctlCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "relayctl",
		Short:         "Publish and resolve signed records on a set of relays",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		NewKeygenCommand(),
		NewPublishCommand(),
		NewResolveCommand(),
	)
	return cmd
}

// ClientFlags are the flags shared by every command talking to relays.
type ClientFlags struct {
	Relays   string
	Timeout  time.Duration
	LogLevel string
}

func (f *ClientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Relays, "relays", "", "comma separated relay URLs")
	cmd.Flags().DurationVar(&f.Timeout, "timeout", config.DefaultTimeout, "per-relay request timeout")
	cmd.Flags().StringVar(&f.LogLevel, "log-level", "warn", "log level [debug, info, warn, error]")
	_ = cmd.MarkFlagRequired("relays")
}

func (f *ClientFlags) newClient(readRepair bool) (*client.Client, error) {
	relays, err := config.ParseRelays(f.Relays)
	if err != nil {
		return nil, err
	}
	level, err := log.ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	return client.New(config.ClientConfig{
		Relays:     relays,
		Timeout:    f.Timeout,
		ReadRepair: readRepair,
	}, client.WithLogger(log.New(level, os.Stderr)))
}

// NewKeygenCommand creates the `keygen` command.
func NewKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing keypair",
		Long: `Generate a new ed25519 keypair. The hex seed is the secret to pass to
` + "`relayctl publish --seed`" + `; the public key addresses the records.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := record.GenerateKeypair()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seed:       %s\npublic key: %s\n", hex.EncodeToString(kp.Seed()), kp.PublicKey())
			return nil
		},
	}
}

// PublishOptions holds the state of the publish command.
type PublishOptions struct {
	ClientFlags

	Seed      string
	CAS       string
	Timestamp string
	Retries   int

	keypair *record.Keypair
	cas     *clock.Timestamp
	ts      *clock.Timestamp
	payload []byte
}

// NewPublishCommand creates the `publish` command.
func NewPublishCommand() *cobra.Command {
	o := &PublishOptions{}
	cmd := &cobra.Command{
		Use:   "publish [payload]",
		Short: "Sign a payload and publish it to the relays",
		Long: `Sign the payload with the keypair derived from --seed and write it to
every relay. The command succeeds once a majority of relays accepted the
record. With --cas the write only applies where the stored record is not
newer than the given timestamp.`,
		Example: `  relayctl publish --relays http://a:6881,http://b:6881,http://c:6881 --seed $SEED "hello"

  # read the payload from stdin, retrying when relays time out
  echo hello | relayctl publish --relays $RELAYS --seed $SEED --retries 3 -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd.InOrStdin(), args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), cmd.OutOrStdout())
		},
	}

	o.register(cmd)
	cmd.Flags().StringVar(&o.Seed, "seed", "", "hex encoded 32 byte keypair seed")
	cmd.Flags().StringVar(&o.CAS, "cas", "", "publish only over a record not newer than this timestamp")
	cmd.Flags().StringVar(&o.Timestamp, "ts", "", "record timestamp, defaults to now")
	cmd.Flags().IntVar(&o.Retries, "retries", 0, "extra attempts when the relays time out")
	_ = cmd.MarkFlagRequired("seed")

	return cmd
}

// Complete parses the flags and reads the payload; "-" reads it from in.
func (o *PublishOptions) Complete(in io.Reader, args []string) (err error) {
	seed, err := hex.DecodeString(o.Seed)
	if err != nil {
		return fmt.Errorf("invalid seed: %w", err)
	}
	if o.keypair, err = record.KeypairFromSeed(seed); err != nil {
		return err
	}

	if o.CAS != "" {
		cas, err := clock.Parse(o.CAS)
		if err != nil {
			return fmt.Errorf("invalid --cas: %w", err)
		}
		o.cas = &cas
	}
	if o.Timestamp != "" {
		ts, err := clock.Parse(o.Timestamp)
		if err != nil {
			return fmt.Errorf("invalid --ts: %w", err)
		}
		o.ts = &ts
	}
	if o.Retries < 0 {
		return fmt.Errorf("--retries must not be negative: %d", o.Retries)
	}

	if args[0] == "-" {
		if o.payload, err = io.ReadAll(io.LimitReader(in, record.MaxPayloadBytes+1)); err != nil {
			return fmt.Errorf("failed to read payload: %w", err)
		}
	} else {
		o.payload = []byte(args[0])
	}
	return nil
}

// Run signs and publishes the payload.
func (o *PublishOptions) Run(ctx context.Context, out io.Writer) error {
	var (
		rec *record.SignedRecord
		err error
	)
	if o.ts != nil {
		rec, err = record.Sign(o.keypair, o.payload, *o.ts)
	} else {
		rec, err = record.New(o.keypair, o.payload)
	}
	if err != nil {
		return err
	}

	c, err := o.newClient(false)
	if err != nil {
		return err
	}
	defer c.Close()

	retrier := retry.NewRetrier(o.Retries+1, 100*time.Millisecond, time.Second)
	err = retrier.RunContext(ctx, func(ctx context.Context) error {
		err := c.Publish(ctx, rec, o.cas)
		if err == nil || errors.Is(err, quorum.ErrTimeout) {
			return err
		}
		return retry.Stop(err)
	})
	if err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	relays := c.Relays()
	fmt.Fprintf(out, "published %s ts=%s, accepted by at least %d of %d relays:\n", rec.PublicKey(), rec.Timestamp(), c.Majority(), len(relays))
	for _, relay := range relays {
		fmt.Fprintf(out, "  %s\n", relay)
	}
	return nil
}

// ResolveOptions holds the state of the resolve command.
type ResolveOptions struct {
	ClientFlags

	Since      string
	MostRecent bool
	ReadRepair bool

	key   record.PublicKey
	since *clock.Timestamp
}

// NewResolveCommand creates the `resolve` command.
func NewResolveCommand() *cobra.Command {
	o := &ResolveOptions{}
	cmd := &cobra.Command{
		Use:   "resolve [public key]",
		Short: "Fetch the records the relays hold for a public key",
		Long: `Print every verified record the relays return for the public key, one
line per relay answer. With --most-recent only the winning record is printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), cmd.OutOrStdout())
		},
	}

	o.register(cmd)
	cmd.Flags().StringVar(&o.Since, "since", "", "only return records newer than this timestamp")
	cmd.Flags().BoolVar(&o.MostRecent, "most-recent", false, "print only the most recent record")
	cmd.Flags().BoolVar(&o.ReadRepair, "read-repair", false, "with --most-recent, bring stale relays up to date")

	return cmd
}

// Complete parses the key and flags.
func (o *ResolveOptions) Complete(args []string) (err error) {
	if o.key, err = record.ParsePublicKey(args[0]); err != nil {
		return err
	}
	if o.Since != "" {
		since, err := clock.Parse(o.Since)
		if err != nil {
			return fmt.Errorf("invalid --since: %w", err)
		}
		o.since = &since
	}
	if o.MostRecent && o.since != nil {
		return errors.New("--since cannot be combined with --most-recent")
	}
	return nil
}

// Run resolves the key and prints the records.
func (o *ResolveOptions) Run(ctx context.Context, out io.Writer) error {
	c, err := o.newClient(o.ReadRepair)
	if err != nil {
		return err
	}
	defer c.Close()

	if o.MostRecent {
		rec, err := c.ResolveMostRecent(ctx, o.key)
		if err != nil {
			return err
		}
		printRecord(out, rec)
		return nil
	}

	var n int
	for rec := range c.Resolve(ctx, o.key, o.since) {
		printRecord(out, rec)
		n++
	}
	if n == 0 {
		return client.ErrNotFound
	}
	return nil
}

func printRecord(out io.Writer, rec *record.SignedRecord) {
	fmt.Fprintf(out, "ts=%s %s\n", rec.Timestamp(), rec.Payload())
}
