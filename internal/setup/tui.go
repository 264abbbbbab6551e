package setup

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/lendpool/config"
	"github.com/vadiminshakov/lendpool/internal/domain"
)

// DefaultConfigFile is where the wizard writes the generated config.
const DefaultConfigFile = "lendpool.gen.yaml"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// BankAnswers are the wizard inputs of one bank.
type BankAnswers struct {
	MaxLTV                 string
	LiquidateThreshold     string
	LiquidateBonus         string
	LiquidateCloseFactor   string
	DepositedInterestRatio string
	BorrowedInterestRatio  string
}

// Answers collects every wizard input.
type Answers struct {
	Listen        string
	StorageDriver string
	StoragePath   string
	JournalDir    string
	PricerSource  string
	MaxPriceAge   string
	Prices        map[domain.AssetKind]string
	Authority     string
	Banks         map[domain.AssetKind]*BankAnswers
}

// DefaultAnswers pre-fills the wizard.
func DefaultAnswers() Answers {
	return Answers{
		Listen:        ":8080",
		StorageDriver: config.StorageWAL,
		StoragePath:   "ledgerdata",
		JournalDir:    "journaldata",
		PricerSource:  config.PricerStatic,
		MaxPriceAge:   "1m",
		Prices: map[domain.AssetKind]string{
			domain.AssetSOL:  "150",
			domain.AssetUSDC: "1",
		},
		Authority: "admin",
		Banks: map[domain.AssetKind]*BankAnswers{
			domain.AssetSOL: {
				MaxLTV: "0.5", LiquidateThreshold: "0.8", LiquidateBonus: "0.05", LiquidateCloseFactor: "0.5",
				DepositedInterestRatio: "0.000000001", BorrowedInterestRatio: "0.000000002",
			},
			domain.AssetUSDC: {
				MaxLTV: "0.75", LiquidateThreshold: "0.85", LiquidateBonus: "0.05", LiquidateCloseFactor: "0.5",
				DepositedInterestRatio: "0.000000001", BorrowedInterestRatio: "0.000000002",
			},
		},
	}
}

// Build converts the answers into a validated yaml config.
func (a Answers) Build() (config.ConfigTmp, error) {
	maxAge, err := time.ParseDuration(a.MaxPriceAge)
	if err != nil {
		return config.ConfigTmp{}, fmt.Errorf("max price age: %w", err)
	}

	tmp := config.ConfigTmp{
		Listen:      a.Listen,
		MaxPriceAge: maxAge,
		Storage:     config.StorageTmp{Driver: a.StorageDriver},
		JournalDir:  a.JournalDir,
		Pricer:      config.PricerTmp{Source: a.PricerSource},
	}
	if a.StorageDriver != config.StorageMemory {
		tmp.Storage.Path = a.StoragePath
	}
	if a.PricerSource == config.PricerStatic {
		tmp.Pricer.Prices = make(map[string]string, len(a.Prices))
		for asset, price := range a.Prices {
			tmp.Pricer.Prices[asset.String()] = price
		}
	}
	for _, asset := range domain.AllAssetKinds() {
		b, ok := a.Banks[asset]
		if !ok {
			continue
		}
		tmp.Banks = append(tmp.Banks, config.BankTmp{
			Asset:                     asset.String(),
			Authority:                 a.Authority,
			MaxLTVStr:                 b.MaxLTV,
			LiquidateThresholdStr:     b.LiquidateThreshold,
			LiquidateBonusStr:         b.LiquidateBonus,
			LiquidateCloseFactorStr:   b.LiquidateCloseFactor,
			DepositedInterestRatioStr: b.DepositedInterestRatio,
			BorrowedInterestRatioStr:  b.BorrowedInterestRatio,
		})
	}

	if _, err := tmp.Config(); err != nil {
		return config.ConfigTmp{}, err
	}
	return tmp, nil
}

func clearScreen(step string) {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("LENDPOOL CONFIG WIZARD"))
	fmt.Println(stepStyle.Render(step))
}

// RunTUI launches the terminal configuration wizard and writes the result to path.
func RunTUI(path string) error {
	if path == "" {
		path = DefaultConfigFile
	}
	a := DefaultAnswers()
	var confirm bool

	// step 1: welcome
	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(headerStyle.Render("LENDPOOL CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Set up your lending pool ledger.\n"))

	fmt.Println(stepStyle.Render("STEP 1: STORAGE"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Ledger storage").
				Options(
					huh.NewOption("Write-ahead log", config.StorageWAL),
					huh.NewOption("Bolt database", config.StorageBolt),
					huh.NewOption("In memory (lost on restart)", config.StorageMemory),
				).
				Value(&a.StorageDriver),
			huh.NewInput().
				Title("Storage path").
				Description("Directory for the WAL, file for bolt; ignored in memory").
				Value(&a.StoragePath),
			huh.NewInput().
				Title("Event journal directory").
				Description("Empty disables the journal and the event stream").
				Value(&a.JournalDir),
		),
	).Run()
	if err != nil {
		return err
	}

	clearScreen("STEP 2: PRICES")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Price source").
				Options(
					huh.NewOption("Static prices", config.PricerStatic),
					huh.NewOption("Binance", config.PricerBinance),
					huh.NewOption("Bybit", config.PricerBybit),
					huh.NewOption("Hyperliquid (USDC mids)", config.PricerHyperliquid),
				).
				Value(&a.PricerSource),
			huh.NewInput().
				Title("Max price age").
				Description("Duration string (e.g. 30s, 1m)").
				Value(&a.MaxPriceAge).
				Validate(func(s string) error {
					_, err := time.ParseDuration(s)
					return err
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	if a.PricerSource == config.PricerStatic {
		clearScreen("STEP 2b: STATIC PRICES")
		inputs := make(map[domain.AssetKind]*string, len(a.Prices))
		fields := make([]huh.Field, 0, len(a.Prices))
		for _, asset := range domain.AllAssetKinds() {
			price := a.Prices[asset]
			inputs[asset] = &price
			fields = append(fields, huh.NewInput().
				Title(fmt.Sprintf("%s price per whole token", asset)).
				Value(&price).
				Validate(validatePositive))
		}
		if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
			return err
		}
		for asset, price := range inputs {
			a.Prices[asset] = *price
		}
	}

	for i, asset := range domain.AllAssetKinds() {
		b := a.Banks[asset]
		clearScreen(fmt.Sprintf("STEP %d: %s BANK", 3+i, asset))
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().Title("Max LTV").Description("Fraction, below the liquidation threshold").
					Value(&b.MaxLTV).Validate(validateFraction),
				huh.NewInput().Title("Liquidation threshold").Value(&b.LiquidateThreshold).Validate(validateFraction),
				huh.NewInput().Title("Liquidation bonus").Value(&b.LiquidateBonus).Validate(validateFraction),
				huh.NewInput().Title("Liquidation close factor").Value(&b.LiquidateCloseFactor).Validate(validateFraction),
				huh.NewInput().Title("Deposit interest per second").Value(&b.DepositedInterestRatio).Validate(validateRate),
				huh.NewInput().Title("Borrow interest per second").Value(&b.BorrowedInterestRatio).Validate(validateRate),
			),
		).Run()
		if err != nil {
			return err
		}
	}

	clearScreen("STEP 5: SERVER")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Listen address").Value(&a.Listen),
			huh.NewInput().Title("Bank authority").Value(&a.Authority),
		),
	).Run()
	if err != nil {
		return err
	}

	clearScreen("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Storage: %s %s\nJournal: %s\nPrices: %s (max age %s)\nListen: %s\n",
		a.StorageDriver, a.StoragePath, a.JournalDir, a.PricerSource, a.MaxPriceAge, a.Listen,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	return Write(path, a)
}

// Write builds the config from a and saves it to path.
func Write(path string, a Answers) error {
	tmp, err := a.Build()
	if err != nil {
		return err
	}
	data, err := tmp.Marshal()
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s", path)))
	return nil
}

func validateFraction(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("must be between 0 and 1")
	}
	return nil
}

func validateRate(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.IsNegative() {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func validatePositive(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if !d.IsPositive() {
		return fmt.Errorf("must be positive")
	}
	return nil
}
