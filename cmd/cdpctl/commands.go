package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func accountArg(args []string) string {
	if len(args) == 0 || args[0] == "" {
		return "me"
	}
	return args[0]
}

func (c *cli) positionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "position [account]",
		Short: "Show collateral, debt and health factor of an account",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			raw, err := c.client().get(ctx, "/v1/positions/"+url.PathEscape(accountArg(args)), nil)
			if err != nil {
				return err
			}
			if c.printJSON(raw) {
				return nil
			}
			var p position
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decode position: %w", err)
			}
			c.renderPosition(&p)
			return nil
		},
	}
}

func (c *cli) collateralsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collaterals",
		Short: "List accepted collateral assets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			raw, err := c.client().get(ctx, "/v1/collaterals", nil)
			if err != nil {
				return err
			}
			if c.printJSON(raw) {
				return nil
			}
			var resp struct {
				Collaterals []collateral `json:"collaterals"`
				Weth        string       `json:"weth"`
			}
			if err := json.Unmarshal(raw, &resp); err != nil {
				return fmt.Errorf("decode collaterals: %w", err)
			}
			c.renderCollaterals(resp.Collaterals, resp.Weth)
			return nil
		},
	}
}

func (c *cli) supplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "supply",
		Short: "Compare stablecoin supply with recorded debt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			raw, err := c.client().get(ctx, "/v1/supply", nil)
			if err != nil {
				return err
			}
			if c.printJSON(raw) {
				return nil
			}
			var s struct {
				TotalSupply string `json:"totalSupply"`
				TotalDebt   string `json:"totalDebt"`
				Accounts    int    `json:"accounts"`
				Balanced    bool   `json:"balanced"`
			}
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("decode supply: %w", err)
			}
			t := c.newTable()
			t.AppendHeader(table.Row{"Total supply", "Total debt", "Accounts", "Balanced"})
			t.AppendRow(table.Row{c.formatUnits(s.TotalSupply), c.formatUnits(s.TotalDebt), s.Accounts, s.Balanced})
			t.Render()
			return nil
		},
	}
}

func (c *cli) mintableCmd() *cobra.Command {
	var asset, account, additional string
	cmd := &cobra.Command{
		Use:   "mintable",
		Short: "Show how much USD an account can still mint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			extra, err := c.optionalUnits("additional", additional)
			if err != nil {
				return err
			}
			q := url.Values{"asset": {asset}}
			if account != "" {
				q.Set("account", account)
			}
			if extra != "" {
				q.Set("additional", extra)
			}
			ctx, cancel := c.context(cmd)
			defer cancel()
			raw, err := c.client().get(ctx, "/v1/mintable", q)
			if err != nil {
				return err
			}
			if c.printJSON(raw) {
				return nil
			}
			var resp struct {
				Amount  string `json:"amount"`
				Healthy bool   `json:"healthy"`
			}
			if err := json.Unmarshal(raw, &resp); err != nil {
				return fmt.Errorf("decode mintable: %w", err)
			}
			fmt.Fprintf(c.out, "mintable: %s USD (healthy: %t)\n", c.formatUnits(resp.Amount), resp.Healthy)
			return nil
		},
	}
	cmd.Flags().StringVar(&asset, "asset", "", "collateral asset to deposit")
	cmd.Flags().StringVar(&account, "account-of", "", "account to inspect (defaults to caller)")
	cmd.Flags().StringVar(&additional, "additional", "", "extra collateral to include")
	_ = cmd.MarkFlagRequired("asset")
	return cmd
}

func (c *cli) burnableCmd() *cobra.Command {
	var asset, account, amount string
	cmd := &cobra.Command{
		Use:   "burnable",
		Short: "Show how much collateral a burn would release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			burn, err := c.optionalUnits("amount", amount)
			if err != nil {
				return err
			}
			q := url.Values{"asset": {asset}}
			if account != "" {
				q.Set("account", account)
			}
			if burn != "" {
				q.Set("amount", burn)
			}
			ctx, cancel := c.context(cmd)
			defer cancel()
			raw, err := c.client().get(ctx, "/v1/burnable", q)
			if err != nil {
				return err
			}
			if c.printJSON(raw) {
				return nil
			}
			var resp struct {
				Amount string `json:"amount"`
			}
			if err := json.Unmarshal(raw, &resp); err != nil {
				return fmt.Errorf("decode burnable: %w", err)
			}
			fmt.Fprintf(c.out, "redeemable: %s\n", c.formatUnits(resp.Amount))
			return nil
		},
	}
	cmd.Flags().StringVar(&asset, "asset", "", "collateral asset to redeem")
	cmd.Flags().StringVar(&account, "account-of", "", "account to inspect (defaults to caller)")
	cmd.Flags().StringVar(&amount, "amount", "", "USD to burn")
	_ = cmd.MarkFlagRequired("asset")
	return cmd
}

func (c *cli) balanceCmd() *cobra.Command {
	var tokenAddr string
	cmd := &cobra.Command{
		Use:   "balance [account]",
		Short: "Show a token balance",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			path := "/v1/tokens/" + url.PathEscape(tokenAddr) + "/balances/" + url.PathEscape(accountArg(args))
			raw, err := c.client().get(ctx, path, nil)
			if err != nil {
				return err
			}
			if c.printJSON(raw) {
				return nil
			}
			var resp map[string]string
			if err := json.Unmarshal(raw, &resp); err != nil {
				return fmt.Errorf("decode balance: %w", err)
			}
			fmt.Fprintf(c.out, "%s holds %s of %s\n", resp["account"], c.formatUnits(resp["balance"]), resp["token"])
			return nil
		},
	}
	cmd.Flags().StringVar(&tokenAddr, "token", "", "token address")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func (c *cli) eventsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events [account]",
		Short: "Show recent engine events for an account",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			q := url.Values{"limit": {strconv.Itoa(limit)}}
			raw, err := c.client().get(ctx, "/v1/accounts/"+url.PathEscape(accountArg(args))+"/events", q)
			if err != nil {
				return err
			}
			if c.printJSON(raw) {
				return nil
			}
			var resp struct {
				Events []event `json:"events"`
			}
			if err := json.Unmarshal(raw, &resp); err != nil {
				return fmt.Errorf("decode events: %w", err)
			}
			c.renderEvents(resp.Events)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum events to show")
	return cmd
}

// mutate posts body and prints the refreshed position the server returns.
func (c *cli) mutate(cmd *cobra.Command, path string, body any) error {
	ctx, cancel := c.context(cmd)
	defer cancel()
	raw, err := c.client().post(ctx, path, body, c.idemKey)
	if err != nil {
		return err
	}
	if c.printJSON(raw) {
		return nil
	}
	var resp struct {
		Status   string    `json:"status"`
		Position *position `json:"position"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Position == nil {
		return c.renderKV(raw)
	}
	c.renderPosition(resp.Position)
	return nil
}

func (c *cli) approveCmd() *cobra.Command {
	var tokenAddr, spender, amount string
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Allow the engine (or --spender) to pull tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			units, err := c.units("amount", amount)
			if err != nil {
				return err
			}
			return c.mutate(cmd, "/v1/tokens/approve", map[string]string{
				"token":   tokenAddr,
				"spender": spender,
				"amount":  units,
			})
		},
	}
	cmd.Flags().StringVar(&tokenAddr, "token", "", "token address")
	cmd.Flags().StringVar(&spender, "spender", "", "spender (defaults to the engine)")
	cmd.Flags().StringVar(&amount, "amount", "", "allowance")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func (c *cli) depositMintCmd() *cobra.Command {
	var asset, collateralAmt, usd, value string
	cmd := &cobra.Command{
		Use:   "deposit-mint",
		Short: "Deposit collateral and mint USD in one step",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			col, err := c.units("collateral", collateralAmt)
			if err != nil {
				return err
			}
			mint, err := c.units("usd", usd)
			if err != nil {
				return err
			}
			native, err := c.optionalUnits("value", value)
			if err != nil {
				return err
			}
			return c.mutate(cmd, "/v1/deposit-and-mint", map[string]string{
				"asset":            asset,
				"collateralAmount": col,
				"usdAmount":        mint,
				"value":            native,
			})
		},
	}
	cmd.Flags().StringVar(&asset, "asset", "", "collateral asset")
	cmd.Flags().StringVar(&collateralAmt, "collateral", "", "collateral to deposit")
	cmd.Flags().StringVar(&usd, "usd", "", "USD to mint")
	cmd.Flags().StringVar(&value, "value", "", "native coin attached to the call")
	_ = cmd.MarkFlagRequired("asset")
	return cmd
}

func (c *cli) depositCmd() *cobra.Command {
	var asset, amount, value string
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Deposit collateral without minting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			units, err := c.units("amount", amount)
			if err != nil {
				return err
			}
			native, err := c.optionalUnits("value", value)
			if err != nil {
				return err
			}
			return c.mutate(cmd, "/v1/deposit", map[string]string{"asset": asset, "amount": units, "value": native})
		},
	}
	cmd.Flags().StringVar(&asset, "asset", "", "collateral asset")
	cmd.Flags().StringVar(&amount, "amount", "", "collateral to deposit")
	cmd.Flags().StringVar(&value, "value", "", "native coin attached to the call")
	_ = cmd.MarkFlagRequired("asset")
	return cmd
}

func (c *cli) redeemCmd() *cobra.Command {
	var asset, collateralAmt, usd string
	cmd := &cobra.Command{
		Use:   "redeem",
		Short: "Burn USD and withdraw collateral in one step",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			col, err := c.units("collateral", collateralAmt)
			if err != nil {
				return err
			}
			burn, err := c.units("usd", usd)
			if err != nil {
				return err
			}
			return c.mutate(cmd, "/v1/redeem", map[string]string{
				"asset":            asset,
				"collateralAmount": col,
				"usdAmount":        burn,
			})
		},
	}
	cmd.Flags().StringVar(&asset, "asset", "", "collateral asset")
	cmd.Flags().StringVar(&collateralAmt, "collateral", "", "collateral to withdraw")
	cmd.Flags().StringVar(&usd, "usd", "", "USD to burn")
	_ = cmd.MarkFlagRequired("asset")
	return cmd
}

func (c *cli) redeemCollateralCmd() *cobra.Command {
	var asset, amount string
	cmd := &cobra.Command{
		Use:   "redeem-collateral",
		Short: "Withdraw collateral while keeping the position healthy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			units, err := c.units("amount", amount)
			if err != nil {
				return err
			}
			return c.mutate(cmd, "/v1/redeem-collateral", map[string]string{"asset": asset, "amount": units})
		},
	}
	cmd.Flags().StringVar(&asset, "asset", "", "collateral asset")
	cmd.Flags().StringVar(&amount, "amount", "", "collateral to withdraw")
	_ = cmd.MarkFlagRequired("asset")
	return cmd
}

func (c *cli) mintCmd() *cobra.Command {
	return c.amountCmd("mint", "Mint USD against deposited collateral", "/v1/mint")
}

func (c *cli) burnCmd() *cobra.Command {
	return c.amountCmd("burn", "Burn USD to reduce debt", "/v1/burn")
}

func (c *cli) amountCmd(use, short, path string) *cobra.Command {
	var amount string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			units, err := c.units("amount", amount)
			if err != nil {
				return err
			}
			return c.mutate(cmd, path, map[string]string{"amount": units})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "USD amount")
	return cmd
}

func (c *cli) adminCmd() *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Administrative engine operations",
	}

	var assets, feeds []string
	var thresholds []uint
	updateFeeds := &cobra.Command{
		Use:   "update-feeds",
		Short: "Replace the collateral list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pct := make([]uint64, 0, len(thresholds))
			for _, v := range thresholds {
				pct = append(pct, uint64(v))
			}
			return c.adminPost(cmd, "/v1/admin/feeds", map[string]any{
				"assets":     assets,
				"feeds":      feeds,
				"thresholds": pct,
			})
		},
	}
	updateFeeds.Flags().StringSliceVar(&assets, "asset", nil, "collateral asset (repeat per entry)")
	updateFeeds.Flags().StringSliceVar(&feeds, "feed", nil, "price feed id (repeat per entry)")
	updateFeeds.Flags().UintSliceVar(&thresholds, "threshold", nil, "liquidation threshold percent (repeat per entry)")

	var weth string
	setWeth := &cobra.Command{
		Use:   "set-weth",
		Short: "Set the wrapped native collateral",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.adminPost(cmd, "/v1/admin/weth", map[string]string{"asset": weth})
		},
	}
	setWeth.Flags().StringVar(&weth, "asset", "", "wrapped native token address")
	_ = setWeth.MarkFlagRequired("asset")

	var feed, price string
	setPrice := &cobra.Command{
		Use:   "set-price",
		Short: "Publish a price on a manual feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.adminPost(cmd, "/v1/admin/prices", map[string]string{"feed": feed, "price": price})
		},
	}
	setPrice.Flags().StringVar(&feed, "feed", "", "feed id")
	setPrice.Flags().StringVar(&price, "price", "", "decimal USD price such as 1800.25")
	_ = setPrice.MarkFlagRequired("feed")
	_ = setPrice.MarkFlagRequired("price")

	reconcile := &cobra.Command{
		Use:   "recon",
		Short: "Write a supply reconciliation report now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.adminPost(cmd, "/v1/admin/recon", map[string]string{})
		},
	}

	admin.AddCommand(updateFeeds, setWeth, setPrice, reconcile)
	return admin
}

func (c *cli) adminPost(cmd *cobra.Command, path string, body any) error {
	ctx, cancel := c.context(cmd)
	defer cancel()
	raw, err := c.client().post(ctx, path, body, c.idemKey)
	if err != nil {
		return err
	}
	if c.printJSON(raw) {
		return nil
	}
	if path == "/v1/admin/feeds" {
		var resp struct {
			Collaterals []collateral `json:"collaterals"`
			Weth        string       `json:"weth"`
		}
		if err := json.Unmarshal(raw, &resp); err == nil {
			c.renderCollaterals(resp.Collaterals, resp.Weth)
			return nil
		}
	}
	return c.renderKV(raw)
}
