package volume

import (
	"regexp"

	apperrors "github.com/subgraph-volume/internal/errors"
	"github.com/subgraph-volume/internal/types"
)

// Entity and field names used by Uniswap V2 style subgraphs
const (
	DefaultTotalVolumeFactory = "uniswapFactories"
	DefaultTotalVolumeField   = "totalVolumeUSD"
	DefaultDailyVolumeFactory = "uniswapDayData"
	DefaultDailyVolumeField   = "dailyVolumeUSD"
	DefaultDateField          = "date"

	// Gas token subgraphs report volume in the chain's native unit
	DefaultTotalVolumeGasField = "totalVolumeETH"
	DefaultDailyVolumeGasField = "dailyVolumeETH"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// EntityField names a numeric field on a queryable entity
type EntityField struct {
	Entity string
	Field  string
}

// DailyEntityField names the per-day entity, its volume field and its date field
type DailyEntityField struct {
	Entity    string
	Field     string
	DateField string
}

// QueryConfig describes what to query on a subgraph.
// A QueryConfig is never mutated after construction.
type QueryConfig struct {
	TotalVolume EntityField
	DailyVolume DailyEntityField

	// CustomDailyVolume replaces the id based daily query body
	CustomDailyVolume string

	HasTotalVolume bool
	HasDailyVolume bool

	// CustomBlock overrides the block resolver passed in FetchOptions
	CustomBlock types.BlockResolverFunc
}

// DefaultUniswapV2Config returns the config for a stock Uniswap V2 subgraph
func DefaultUniswapV2Config() QueryConfig {
	return QueryConfig{
		TotalVolume: EntityField{
			Entity: DefaultTotalVolumeFactory,
			Field:  DefaultTotalVolumeField,
		},
		DailyVolume: DailyEntityField{
			Entity:    DefaultDailyVolumeFactory,
			Field:     DefaultDailyVolumeField,
			DateField: DefaultDateField,
		},
		HasTotalVolume: true,
		HasDailyVolume: true,
	}
}

// DefaultGasTokenConfig returns the config for a Uniswap V2 fork that reports
// volume in the native gas token
func DefaultGasTokenConfig() QueryConfig {
	cfg := DefaultUniswapV2Config()
	cfg.TotalVolume.Field = DefaultTotalVolumeGasField
	cfg.DailyVolume.Field = DefaultDailyVolumeGasField
	return cfg
}

// Validate checks that every name interpolated into a query is a plain identifier
func (c QueryConfig) Validate() error {
	if c.HasTotalVolume {
		if err := validateIdentifier("totalVolume.entity", c.TotalVolume.Entity); err != nil {
			return err
		}
		if err := validateIdentifier("totalVolume.field", c.TotalVolume.Field); err != nil {
			return err
		}
	}
	if c.HasDailyVolume {
		return c.DailyVolume.Validate()
	}
	return nil
}

// Validate checks the daily entity, field and date field names
func (d DailyEntityField) Validate() error {
	if err := validateIdentifier("dailyVolume.entity", d.Entity); err != nil {
		return err
	}
	if err := validateIdentifier("dailyVolume.field", d.Field); err != nil {
		return err
	}
	return validateIdentifier("dailyVolume.dateField", d.DateField)
}

func validateIdentifier(name, value string) error {
	if !identifierPattern.MatchString(value) {
		return apperrors.NewInvalidIdentifierError(name, value)
	}
	return nil
}
