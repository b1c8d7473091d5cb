package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/vector-10/compound-safe/internal/app"
)

var (
	simulateWallet     string
	simulateCollateral float64
	simulateDebt       float64
	simulatePrice      float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一个仓位并触发真实的健康度告警流程",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateCollateral < 0 || simulateDebt < 0 {
			return errors.New("--collateral-weth 与 --debt-usdc 不能为负")
		}
		if simulatePrice <= 0 {
			return errors.New("--price 必须大于 0")
		}

		opts := app.SimulateOptions{
			Wallet:         simulateWallet,
			CollateralWETH: simulateCollateral,
			DebtUSDC:       simulateDebt,
			PriceUSD:       simulatePrice,
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateWallet, "wallet", "", "已链接的钱包地址")
	simulateCmd.Flags().Float64Var(&simulateCollateral, "collateral-weth", 0, "模拟的 WETH 抵押数量")
	simulateCmd.Flags().Float64Var(&simulateDebt, "debt-usdc", 0, "模拟的 USDC 借款金额")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "模拟的 WETH 美元价格")

	_ = simulateCmd.MarkFlagRequired("wallet")
}
