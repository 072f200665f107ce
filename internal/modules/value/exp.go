package value

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/canectors/normalizer/internal/logger"
	"github.com/canectors/normalizer/internal/modules/filter"
	"github.com/canectors/normalizer/pkg/record"
)

// DefaultBonusColumn receives the bonus part of "value(+bonus)".
const DefaultBonusColumn = "party_exp"

var (
	expWithBonus = regexp.MustCompile(`^([0-9.]+)\(?\+\(?([0-9.]+)\)?$`)
	expPlain     = regexp.MustCompile(`^([0-9.]+)$`)
	expCleaner   = strings.NewReplacer("、", "", " ", "")
)

// ExpConfig configures the exp transform.
type ExpConfig struct {
	// BonusColumn receives the bonus. Defaults to "party_exp".
	BonusColumn string `json:"bonusColumn,omitempty"`
	Unknown     string `json:"unknown,omitempty"`
}

// Exp splits "200(+32)" into the number 200 and a bonus of 32 written to a
// sibling column. A plain number leaves the bonus unknown. Anything else, such
// as "?", "不明" or "200以上", makes both unknown.
type Exp struct {
	bonusColumn record.Column
	unknown     string
}

// NewExpFromConfig creates an exp transform.
func NewExpFromConfig(config ExpConfig) *Exp {
	col := config.BonusColumn
	if col == "" {
		col = DefaultBonusColumn
	}
	return &Exp{bonusColumn: record.Column(col), unknown: unknownOr(config.Unknown)}
}

// ParseExpConfig parses a raw configuration map into ExpConfig.
func ParseExpConfig(config map[string]interface{}) (ExpConfig, error) {
	var cfg ExpConfig
	cfg.BonusColumn, _ = config["bonusColumn"].(string)
	cfg.Unknown, _ = config["unknown"].(string)
	return cfg, nil
}

// ProcessValue implements filter.ValueFilter.
func (e *Exp) ProcessValue(v any, ctx filter.ValueContext) (filter.Output, error) {
	raw, ok := asString(v)
	if !ok {
		return passThrough(v), nil
	}
	s := expCleaner.Replace(raw)
	unknown := record.Scalar(e.unknown)

	if m := expWithBonus.FindStringSubmatch(s); m != nil {
		base, err1 := strconv.ParseFloat(m[1], 64)
		bonus, err2 := strconv.ParseFloat(m[2], 64)
		if err1 == nil && err2 == nil {
			return filter.Emit(base).With(e.bonusColumn, record.Scalar(bonus)), nil
		}
	} else if m := expPlain.FindStringSubmatch(s); m != nil {
		if base, err := strconv.ParseFloat(m[1], 64); err == nil {
			return filter.Emit(base).With(e.bonusColumn, unknown), nil
		}
	}

	if strings.Trim(s, "?") != "" && !strings.Contains(s, "不明") {
		logger.Debug("experience value not recognized, using unknown",
			slog.String("column", string(ctx.Column())),
			slog.String("value", raw))
	}
	return filter.Emit(e.unknown).With(e.bonusColumn, unknown), nil
}

var _ filter.ValueFilter = (*Exp)(nil)
