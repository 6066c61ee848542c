package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/inferloop/studentprep/internal/export"
	"github.com/inferloop/studentprep/internal/impute"
	"github.com/inferloop/studentprep/internal/loader"
	"github.com/inferloop/studentprep/internal/observability/metrics"
	"github.com/inferloop/studentprep/internal/pipeline"
	"github.com/inferloop/studentprep/internal/storage"
	"github.com/inferloop/studentprep/pkg/constants"
	"github.com/inferloop/studentprep/pkg/errors"
)

type CLIConfig struct {
	Input           string               `mapstructure:"input"`
	Output          string               `mapstructure:"output" validate:"required"`
	CanonicalSchema []string             `mapstructure:"canonical_schema" validate:"min=1,dive,required"`
	Cutoff          float64              `mapstructure:"cutoff" validate:"gte=0,lte=1"`
	StrictSchema    bool                 `mapstructure:"strict_schema"`
	Loader          loader.Options       `mapstructure:"loader"`
	Impute          ImputeConfig         `mapstructure:"impute"`
	Range           RangeConfig          `mapstructure:"range"`
	Features        FeatureConfig        `mapstructure:"features"`
	Encode          EncodeConfig         `mapstructure:"encode"`
	Export          export.ExportOptions `mapstructure:"export"`
	Storage         storage.Config       `mapstructure:"storage"`
	Report          string               `mapstructure:"report"`
	Metrics         MetricsConfig        `mapstructure:"metrics"`
	Logging         LoggingConfig        `mapstructure:"logging"`
}

type ImputeConfig struct {
	Strategy           string   `mapstructure:"strategy" validate:"oneof=impute drop"`
	NumericColumns     []string `mapstructure:"numeric_columns"`
	CategoricalColumns []string `mapstructure:"categorical_columns"`
}

type RangeConfig struct {
	Columns []string `mapstructure:"columns"`
	Min     float64  `mapstructure:"min"`
	Max     float64  `mapstructure:"max" validate:"gtefield=Min"`
}

type FeatureConfig struct {
	ScoreColumns  []string `mapstructure:"score_columns"`
	PassThreshold float64  `mapstructure:"pass_threshold" validate:"gte=0"`
}

type EncodeConfig struct {
	DropFirst     bool     `mapstructure:"drop_first"`
	OneHotColumns []string `mapstructure:"onehot_columns"`
}

type MetricsConfig struct {
	Path      string            `mapstructure:"path"`
	Namespace string            `mapstructure:"namespace" validate:"required"`
	Subsystem string            `mapstructure:"subsystem"`
	Labels    map[string]string `mapstructure:"labels"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"input":         "input",
	"output":        "output",
	"cutoff":        "cutoff",
	"strict-schema": "strict_schema",
	"strategy":      "impute.strategy",
	"min":           "range.min",
	"max":           "range.max",
	"threshold":     "features.pass_threshold",
	"drop-first":    "encode.drop_first",
	"report":        "report",
	"metrics-file":  "metrics.path",
	"log-format":    "logging.format",
}

// LoadConfig reads cfgFile (or ~/.studentprep/config.yaml when it exists),
// then STUDENTPREP_* environment variables, then any flags set on flags.
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*CLIConfig, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".studentprep"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for name, key := range flagKeys {
			if flag := flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig,
						fmt.Sprintf("failed to bind flag %s", name))
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			return nil, errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig,
				"error reading config file")
		}
	}

	config := &CLIConfig{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig,
			"error unmarshaling config")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input", "")
	v.SetDefault("output", constants.DefaultOutputPath)
	v.SetDefault("canonical_schema", constants.CanonicalSchema())
	v.SetDefault("cutoff", constants.DefaultFuzzyCutoff)
	v.SetDefault("strict_schema", false)
	v.SetDefault("loader.delimiter", "")
	v.SetDefault("loader.sheet", "")
	v.SetDefault("impute.strategy", constants.DefaultStrategy)
	v.SetDefault("impute.numeric_columns", constants.NumericColumns())
	v.SetDefault("impute.categorical_columns", constants.CategoricalColumns())
	v.SetDefault("range.columns", constants.NumericColumns())
	v.SetDefault("range.min", constants.DefaultRangeMin)
	v.SetDefault("range.max", constants.DefaultRangeMax)
	v.SetDefault("features.score_columns", constants.NumericColumns())
	v.SetDefault("features.pass_threshold", constants.DefaultPassThreshold)
	v.SetDefault("encode.drop_first", false)
	v.SetDefault("encode.onehot_columns", constants.OneHotColumns())
	v.SetDefault("export.csv.delimiter", "")
	v.SetDefault("export.csv.null_value", "")
	v.SetDefault("export.json.pretty", false)
	v.SetDefault("export.json.stream_format", false)
	v.SetDefault("export.xlsx.sheet_name", "")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")
	v.SetDefault("storage.s3.force_path_style", false)
	v.SetDefault("storage.s3.prefix", "")
	v.SetDefault("storage.s3.timeout", "30s")
	v.SetDefault("storage.postgres.schema", "public")
	v.SetDefault("storage.postgres.connect_timeout", "10s")
	v.SetDefault("storage.postgres.query_timeout", "5m")
	v.SetDefault("storage.postgres.replace", false)
	v.SetDefault("report", "")
	v.SetDefault("metrics.path", "")
	v.SetDefault("metrics.namespace", constants.AppName)
	v.SetDefault("metrics.subsystem", "pipeline")
	v.SetDefault("logging.level", constants.DefaultLogLevel)
	v.SetDefault("logging.format", constants.DefaultLogFormat)
}

// Validate checks field constraints and reports every failure at once.
func (c *CLIConfig) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig, "invalid configuration")
	}

	verrs := errors.NewValidationErrors()
	for _, fe := range fieldErrs {
		verrs.Add(fieldPath(fe.Namespace()), errors.CodeInvalidConfig,
			fmt.Sprintf("failed on the '%s' rule", fe.Tag()), fe.Value())
	}
	return verrs
}

// PipelineConfig converts the CLI settings into a run configuration.
func (c *CLIConfig) PipelineConfig() *pipeline.Config {
	config := pipeline.DefaultConfig()
	config.Input = c.Input
	config.Output = c.Output
	config.Canonical = c.CanonicalSchema
	config.Cutoff = c.Cutoff
	config.StrictSchema = c.StrictSchema
	config.Loader = c.Loader
	config.Impute.Strategy = impute.Strategy(c.Impute.Strategy)
	config.Impute.NumericColumns = c.Impute.NumericColumns
	config.Impute.CategoricalColumns = c.Impute.CategoricalColumns
	config.Quality.RangeColumns = c.Range.Columns
	config.Quality.RangeMin = c.Range.Min
	config.Quality.RangeMax = c.Range.Max
	config.Features.ScoreColumns = c.Features.ScoreColumns
	config.Features.PassThreshold = c.Features.PassThreshold
	config.Encode.DropFirst = c.Encode.DropFirst
	config.Encode.OneHotColumns = c.Encode.OneHotColumns
	config.Export = c.Export
	config.ReportPath = c.Report
	config.MetricsPath = c.Metrics.Path
	return config
}

// PrometheusConfig returns the metrics registry settings.
func (c *CLIConfig) PrometheusConfig() *metrics.PrometheusConfig {
	return &metrics.PrometheusConfig{
		Namespace: c.Metrics.Namespace,
		Subsystem: c.Metrics.Subsystem,
		Labels:    c.Metrics.Labels,
	}
}

func GetDefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".studentprep", "config.yaml")
}

// fieldPath turns "CLIConfig.Range.Max" into "range.max" and
// "CLIConfig.CanonicalSchema[0]" into "canonical_schema[0]".
func fieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, part := range parts {
		parts[i] = snakeCase(part)
	}
	return strings.Join(parts, ".")
}

func snakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
