package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// Default values
	DefaultLogLevel        = "info"
	DefaultConcurrency     = 0 // 0 means one worker per CPU
	DefaultRecordTimeout   = 30 * time.Second
	DefaultFilenamePattern = "record-%05d.pdf"

	// Directory permissions
	DefaultDirPerm = 0o750
)

// Config holds all configuration for the bulk filler CLI
type Config struct {
	// Input configuration
	DataPath    string
	Sheet       string
	HeaderRow   int
	DataRow     int
	FirstColumn int

	// Template and mapping configuration
	TemplatePath string
	MappingPath  string

	// Output configuration
	OutputDir      string
	CombinedOutput string
	Flatten        bool

	// Run configuration
	StrictValues  bool
	Concurrency   int
	RecordTimeout time.Duration

	// Application configuration
	Version  string
	LogLevel string
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	currentDir, err := os.Getwd()
	if err != nil {
		// Fallback to current directory if working directory cannot be determined
		currentDir = "."
	}

	return &Config{
		OutputDir:     filepath.Join(currentDir, "filled"),
		Concurrency:   DefaultConcurrency,
		RecordTimeout: DefaultRecordTimeout,
		Version:       "1.0.0",
		LogLevel:      DefaultLogLevel,
	}
}

// LoadFromFlags parses command line flags and returns a configuration
func LoadFromFlags() (*Config, error) {
	cfg := DefaultConfig()

	setupViperEnvironment(cfg)
	defineCommandLineFlags(cfg)
	bindFlagsToViper()
	setupUsageMessage()

	// Check for version flag before parsing
	if err := checkVersionFlag(); err != nil {
		return nil, err
	}

	pflag.Parse()

	populateConfigFromViper(cfg)

	// Expand paths if needed
	for _, p := range []*string{&cfg.DataPath, &cfg.TemplatePath, &cfg.MappingPath, &cfg.OutputDir, &cfg.CombinedOutput} {
		if *p == "" {
			continue
		}
		if expandedPath, err := filepath.Abs(*p); err == nil {
			*p = expandedPath
		}
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupViperEnvironment configures viper with environment variables and defaults
func setupViperEnvironment(cfg *Config) {
	// Set environment variable prefix
	viper.SetEnvPrefix("PDF_FILLER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// Define flags with Viper
	viper.SetDefault("data", cfg.DataPath)
	viper.SetDefault("sheet", cfg.Sheet)
	viper.SetDefault("header-row", cfg.HeaderRow)
	viper.SetDefault("data-row", cfg.DataRow)
	viper.SetDefault("first-column", cfg.FirstColumn)
	viper.SetDefault("template", cfg.TemplatePath)
	viper.SetDefault("mapping", cfg.MappingPath)
	viper.SetDefault("output-dir", cfg.OutputDir)
	viper.SetDefault("combine", cfg.CombinedOutput)
	viper.SetDefault("flatten", cfg.Flatten)
	viper.SetDefault("strict-values", cfg.StrictValues)
	viper.SetDefault("concurrency", cfg.Concurrency)
	viper.SetDefault("record-timeout", cfg.RecordTimeout)
	viper.SetDefault("loglevel", cfg.LogLevel)
}

// defineCommandLineFlags sets up all command line flags
func defineCommandLineFlags(cfg *Config) {
	pflag.String("data", cfg.DataPath, "Spreadsheet with one record per row (.csv, .tsv, .xlsx)")
	pflag.String("sheet", cfg.Sheet, "Worksheet name for multi-sheet workbooks")
	pflag.Int("header-row", cfg.HeaderRow, "Zero-based row holding column headers")
	pflag.Int("data-row", cfg.DataRow, "Zero-based first data row (default: header row + 1)")
	pflag.Int("first-column", cfg.FirstColumn, "Zero-based first column to read")
	pflag.String("template", cfg.TemplatePath, "PDF form template to fill")
	pflag.String("mapping", cfg.MappingPath, "Mapping file associating columns with form fields")
	pflag.String("output-dir", cfg.OutputDir, "Directory for one filled PDF per record")
	pflag.String("combine", cfg.CombinedOutput, "Merge all filled PDFs into this single file")
	pflag.Bool("flatten", cfg.Flatten, "Make filled fields non-editable")
	pflag.Bool("strict-values", cfg.StrictValues, "Fail a record on any unfillable value")
	pflag.Int("concurrency", cfg.Concurrency, "Concurrent fill workers (0 = one per CPU)")
	pflag.Duration("record-timeout", cfg.RecordTimeout, "Per-record fill timeout (0 = no limit)")
	pflag.String("loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
}

// bindFlagsToViper binds command line flags to viper configuration
func bindFlagsToViper() {
	for _, name := range []string{
		"data", "sheet", "header-row", "data-row", "first-column",
		"template", "mapping", "output-dir", "combine", "flatten",
		"strict-values", "concurrency", "record-timeout", "loglevel",
	} {
		_ = viper.BindPFlag(name, pflag.Lookup(name))
	}
}

// setupUsageMessage configures the custom usage message
func setupUsageMessage() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nPDF Bulk Filler - Fill a PDF form once per spreadsheet row\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --template=form.pdf --data=people.csv               "+
			"# positional column/field pairing\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --template=form.pdf --data=people.xlsx --sheet=Q3   "+
			"# pick a worksheet\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --template=form.pdf --data=people.csv --mapping=m.json --combine=all.pdf\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  PDF_FILLER_DATA           Spreadsheet path\n")
		fmt.Fprintf(os.Stderr, "  PDF_FILLER_TEMPLATE       Template path\n")
		fmt.Fprintf(os.Stderr, "  PDF_FILLER_MAPPING        Mapping file path\n")
		fmt.Fprintf(os.Stderr, "  PDF_FILLER_OUTPUT_DIR     Output directory\n")
		fmt.Fprintf(os.Stderr, "  PDF_FILLER_CONCURRENCY    Worker count\n")
		fmt.Fprintf(os.Stderr, "  PDF_FILLER_LOGLEVEL       Log level\n")
	}
}

// checkVersionFlag checks if version flag was requested
func checkVersionFlag() error {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			return fmt.Errorf("version requested")
		}
	}
	return nil
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(cfg *Config) {
	cfg.DataPath = viper.GetString("data")
	cfg.Sheet = viper.GetString("sheet")
	cfg.HeaderRow = viper.GetInt("header-row")
	cfg.DataRow = viper.GetInt("data-row")
	cfg.FirstColumn = viper.GetInt("first-column")
	cfg.TemplatePath = viper.GetString("template")
	cfg.MappingPath = viper.GetString("mapping")
	cfg.OutputDir = viper.GetString("output-dir")
	cfg.CombinedOutput = viper.GetString("combine")
	cfg.Flatten = viper.GetBool("flatten")
	cfg.StrictValues = viper.GetBool("strict-values")
	cfg.Concurrency = viper.GetInt("concurrency")
	cfg.RecordTimeout = viper.GetDuration("record-timeout")
	cfg.LogLevel = viper.GetString("loglevel")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DataPath == "" {
		return errors.New("data path cannot be empty")
	}
	if c.TemplatePath == "" {
		return errors.New("template path cannot be empty")
	}

	if c.HeaderRow < 0 {
		return errors.New("header row must not be negative")
	}
	if c.DataRow < 0 {
		return errors.New("data row must not be negative")
	}
	if c.DataRow > 0 && c.DataRow <= c.HeaderRow {
		return errors.New("data row must come after the header row")
	}
	if c.FirstColumn < 0 {
		return errors.New("first column must not be negative")
	}

	if c.Concurrency < 0 {
		return errors.New("concurrency must not be negative")
	}
	if c.RecordTimeout < 0 {
		return errors.New("record timeout must not be negative")
	}

	// Validate output directory
	if c.OutputDir == "" {
		return errors.New("output directory cannot be empty")
	}

	// Check if output directory exists, create if it doesn't
	if _, err := os.Stat(c.OutputDir); os.IsNotExist(err) {
		if err := os.MkdirAll(c.OutputDir, DefaultDirPerm); err != nil {
			return fmt.Errorf("cannot create output directory %s: %w", c.OutputDir, err)
		}
	} else if err != nil {
		return fmt.Errorf("cannot access output directory %s: %w", c.OutputDir, err)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	return nil
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{Data: %s, Template: %s, Mapping: %s, OutputDir: %s, Combine: %s, "+
		"Flatten: %t, StrictValues: %t, Concurrency: %d, RecordTimeout: %s, LogLevel: %s}",
		c.DataPath, c.TemplatePath, c.MappingPath, c.OutputDir, c.CombinedOutput,
		c.Flatten, c.StrictValues, c.Concurrency, c.RecordTimeout, c.LogLevel)
}
