package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	genesiscfg "usdengine/config"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// cli holds the global flags shared by every command.
type cli struct {
	out      io.Writer
	endpoint string
	token    string
	account  string
	output   string
	decimals uint8
	idemKey  string
	timeout  time.Duration
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}
	root := &cobra.Command{
		Use:           "cdpctl",
		Short:         "Operate positions on a cdpd debt engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch c.output {
			case "table", "json":
				return nil
			default:
				return fmt.Errorf("--output must be table or json")
			}
		},
	}
	root.SetOut(out)
	flags := root.PersistentFlags()
	flags.StringVar(&c.endpoint, "endpoint", envOr("CDP_URL", "http://localhost:8480"), "cdpd base URL")
	flags.StringVar(&c.token, "token", os.Getenv("CDP_TOKEN"), "bearer token")
	flags.StringVar(&c.account, "account", os.Getenv("CDP_ACCOUNT"), "acting account when cdpd runs without auth")
	flags.StringVarP(&c.output, "output", "o", "table", "output format (table|json)")
	flags.Uint8Var(&c.decimals, "decimals", 18, "decimals used to scale amount flags into base units")
	flags.StringVar(&c.idemKey, "idempotency-key", "", "reuse a key to retry a write safely")
	flags.DurationVar(&c.timeout, "timeout", 15*time.Second, "request timeout")

	root.AddCommand(
		c.positionCmd(),
		c.collateralsCmd(),
		c.supplyCmd(),
		c.mintableCmd(),
		c.burnableCmd(),
		c.balanceCmd(),
		c.eventsCmd(),
		c.approveCmd(),
		c.depositMintCmd(),
		c.depositCmd(),
		c.redeemCmd(),
		c.redeemCollateralCmd(),
		c.mintCmd(),
		c.burnCmd(),
		c.adminCmd(),
	)
	return root
}

func (c *cli) client() *client {
	return newClient(c.endpoint, c.token, c.account, c.timeout)
}

func (c *cli) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), c.timeout)
}

// units converts a human amount such as "12.5" into base units.
func (c *cli) units(flag, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("--%s is required", flag)
	}
	v, err := genesiscfg.ParseUnits(raw, c.decimals)
	if err != nil {
		return "", fmt.Errorf("--%s: %w", flag, err)
	}
	return v.String(), nil
}

func (c *cli) optionalUnits(flag, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	return c.units(flag, raw)
}

// printJSON writes raw indented when --output json is set and reports
// whether it did.
func (c *cli) printJSON(raw json.RawMessage) bool {
	if c.output != "json" {
		return false
	}
	var buf any
	if err := json.Unmarshal(raw, &buf); err != nil {
		fmt.Fprintln(c.out, string(raw))
		return true
	}
	pretty, _ := json.MarshalIndent(buf, "", "  ")
	fmt.Fprintln(c.out, string(pretty))
	return true
}

// formatUnits renders a base-unit integer with the configured decimals.
func (c *cli) formatUnits(raw string) string {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return raw
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(c.decimals)), nil)
	whole, frac := new(big.Int).QuoRem(v, scale, new(big.Int))
	if frac.Sign() == 0 {
		return whole.String()
	}
	fracStr := frac.String()
	fracStr = strings.Repeat("0", int(c.decimals)-len(fracStr)) + fracStr
	return whole.String() + "." + strings.TrimRight(fracStr, "0")
}
