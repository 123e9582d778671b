package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

type holding struct {
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
	ValueUSD      string `json:"valueUsd"`
	AdjustedUSD   string `json:"adjustedUsd"`
	Threshold     uint64 `json:"threshold"`
	Price         string `json:"price"`
	PriceDecimals uint8  `json:"priceDecimals"`
	ZeroPriced    bool   `json:"zeroPriced"`
}

type position struct {
	Account             string    `json:"account"`
	Status              string    `json:"status"`
	Debt                string    `json:"debt"`
	CollateralUSD       string    `json:"collateralUsd"`
	AdjustedUSD         string    `json:"adjustedUsd"`
	HealthFactorDisplay string    `json:"healthFactorDisplay"`
	Holdings            []holding `json:"holdings"`
}

type collateral struct {
	Index                int    `json:"index"`
	Address              string `json:"address"`
	PriceFeed            string `json:"priceFeed"`
	LiquidationThreshold uint64 `json:"liquidationThreshold"`
	Decimals             uint8  `json:"decimals"`
}

type event struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  time.Time         `json:"timestamp"`
}

func (c *cli) newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.SetOutputMirror(c.out)
	return t
}

func (c *cli) renderPosition(p *position) {
	summary := c.newTable()
	summary.AppendHeader(table.Row{"Account", "Status", "Debt", "Collateral USD", "Adjusted USD", "Health"})
	summary.AppendRow(table.Row{
		p.Account,
		p.Status,
		c.formatUnits(p.Debt),
		c.formatUnits(p.CollateralUSD),
		c.formatUnits(p.AdjustedUSD),
		p.HealthFactorDisplay,
	})
	summary.Render()
	if len(p.Holdings) == 0 {
		return
	}
	holdings := c.newTable()
	holdings.AppendHeader(table.Row{"Asset", "Amount", "Value USD", "Adjusted USD", "Threshold", "Price"})
	for _, h := range p.Holdings {
		price := h.Price
		if h.ZeroPriced {
			price += " (unpriced)"
		}
		holdings.AppendRow(table.Row{
			h.Asset,
			c.formatUnits(h.Amount),
			c.formatUnits(h.ValueUSD),
			c.formatUnits(h.AdjustedUSD),
			fmt.Sprintf("%d%%", h.Threshold),
			price,
		})
	}
	holdings.Render()
}

func (c *cli) renderCollaterals(list []collateral, weth string) {
	t := c.newTable()
	t.AppendHeader(table.Row{"#", "Asset", "Feed", "Threshold", "Decimals", "Wrapped native"})
	for _, col := range list {
		native := ""
		if weth != "" && strings.EqualFold(weth, col.Address) {
			native = "yes"
		}
		t.AppendRow(table.Row{col.Index, col.Address, col.PriceFeed, fmt.Sprintf("%d%%", col.LiquidationThreshold), col.Decimals, native})
	}
	t.Render()
}

func (c *cli) renderEvents(list []event) {
	t := c.newTable()
	t.AppendHeader(table.Row{"Seq", "Time", "Type", "Details"})
	for _, ev := range list {
		t.AppendRow(table.Row{ev.Sequence, ev.Timestamp.UTC().Format(time.RFC3339), ev.Type, attrs(ev.Attributes)})
	}
	t.Render()
}

// renderKV prints a flat JSON object as a two column table.
func (c *cli) renderKV(raw json.RawMessage) error {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	t := c.newTable()
	for _, k := range keys {
		t.AppendRow(table.Row{k, fmt.Sprint(fields[k])})
	}
	t.Render()
	return nil
}

func attrs(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if k == "account" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+m[k])
	}
	return strings.Join(parts, " ")
}
