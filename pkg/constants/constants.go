package constants

// Application constants
const (
	// Application metadata
	AppName        = "studentprep"
	AppDescription = "Student records cleaning and feature preparation"
	AppVersion     = "0.1.0"

	// Environment prefix for viper.AutomaticEnv
	EnvPrefix = "STUDENTPREP"

	// Logging defaults
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// Canonical display names, in output order.
const (
	ColumnGender           = "gender"
	ColumnRaceEthnicity    = "race/ethnicity"
	ColumnParentEducation  = "parental level of education"
	ColumnLunch            = "lunch"
	ColumnTestPreparation  = "test preparation course"
	ColumnMathScore        = "math score"
	ColumnReadingScore     = "reading score"
	ColumnWritingScore     = "writing score"
	ColumnTotalScore       = "total_score"
	ColumnAverageScore     = "average_score"
	ColumnFallbackPrefix   = "column"
	MissingFlagSuffix      = "_missing"
	BinaryColumnSuffix     = "_bin"
	PassColumnPrefix       = "pass_"
	ScoreColumnSuffix      = "_score"
	UnknownCategory        = "Unknown"
	DuplicateHeaderSep     = "."
	DuplicateTargetSep     = "_"
	LowConfidenceThreshold = 0.8
)

// Pipeline defaults
const (
	DefaultFuzzyCutoff   = 0.5
	DefaultRangeMin      = 0.0
	DefaultRangeMax      = 100.0
	DefaultPassThreshold = 50.0
	DefaultStrategy      = "impute"
	DefaultOutputPath    = "student_clean.csv"
	DefaultPostgresTable = "students_clean"
)

// CanonicalSchema returns the canonical column display names in order. A new
// slice is returned on every call so callers cannot mutate the schema.
func CanonicalSchema() []string {
	return []string{
		ColumnGender,
		ColumnRaceEthnicity,
		ColumnParentEducation,
		ColumnLunch,
		ColumnTestPreparation,
		ColumnMathScore,
		ColumnReadingScore,
		ColumnWritingScore,
	}
}

// NumericColumns are the sanitized score columns imputed with the median and
// range-checked.
func NumericColumns() []string {
	return []string{"math_score", "reading_score", "writing_score"}
}

// CategoricalColumns are the sanitized categorical columns imputed with the mode.
func CategoricalColumns() []string {
	return []string{
		"gender",
		"race_ethnicity",
		"parental_level_of_education",
		"lunch",
		"test_preparation_course",
	}
}

// OneHotColumns are encoded into one indicator column per category.
func OneHotColumns() []string {
	return []string{
		"race_ethnicity",
		"parental_level_of_education",
		"lunch",
		"test_preparation_course",
	}
}

// BinaryColumn is the two-valued column encoded as 0/1.
const BinaryColumn = "gender"

// BinaryMapping maps the normalized gender values to their code.
func BinaryMapping() map[string]float64 {
	return map[string]float64{"Female": 0, "Male": 1}
}

// EducationLevels are the expected parental education values, lower-cased.
func EducationLevels() []string {
	return []string{
		"some high school",
		"high school",
		"some college",
		"associate's degree",
		"bachelor's degree",
		"master's degree",
	}
}

// NullTokens are cell values loaded as missing.
func NullTokens() []string {
	return []string{"", "NA", "N/A", "n/a", "NaN", "nan", "null", "NULL"}
}
