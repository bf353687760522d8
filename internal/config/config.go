package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"seq_miner/internal/fasta"
	"seq_miner/internal/models"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	DefaultCatalogURL  = "https://www.ebi.ac.uk/interpro/api/protein/UniProt/entry/InterPro"
	DefaultSequenceURL = "https://rest.uniprot.org/uniprotkb"
	DefaultFormat      = "fasta"
	DefaultUserAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	DefaultPageSize    = 100
	DefaultDelayMS     = 500
	DefaultTimeoutSec  = 30
	DefaultAlignBinary = "clustalo"

	// MinDelayMS is the floor for the pause between catalog pages.
	MinDelayMS = 500
)

type SourceConfig struct {
	EntryID       string `yaml:"entry_id"`
	CatalogURL    string `yaml:"catalog_url"`
	SequenceURL   string `yaml:"sequence_url"`
	Format        string `yaml:"format"`
	PageSize      int    `yaml:"page_size"`
	MaxSequences  int    `yaml:"max_sequences"`
	UserAgent     string `yaml:"user_agent"`
	RespectRobots bool   `yaml:"respect_robots"`
}

type LogicConfig struct {
	DelayMS              int `yaml:"delay_ms"`
	TimeoutSec           int `yaml:"timeout_sec"`
	MaxConcurrentWorkers int `yaml:"max_concurrent_workers"`
}

type FilterConfig struct {
	Reference     string `yaml:"reference"`
	ReferenceFile string `yaml:"reference_file"`
	MinDistance   *int   `yaml:"min_distance"`
	MaxDistance   *int   `yaml:"max_distance"`
}

type OutputConfig struct {
	Path string `yaml:"path"`
}

type AlignConfig struct {
	Enabled bool   `yaml:"enabled"`
	Binary  string `yaml:"binary"`
	Output  string `yaml:"output"`
}

type DBConfig struct {
	Connection  string `yaml:"connection"`
	Database    string `yaml:"database"`
	Collections struct {
		Sequences  string `yaml:"sequences"`
		RunHistory string `yaml:"run_history"`
	} `yaml:"collections"`
}

// Enabled reports whether a MongoDB recorder was configured.
func (d DBConfig) Enabled() bool {
	return strings.TrimSpace(d.Connection) != ""
}

type MinerConfig struct {
	Source SourceConfig `yaml:"source"`
	Logic  LogicConfig  `yaml:"logic"`
	Filter FilterConfig `yaml:"filter"`
	Output OutputConfig `yaml:"output"`
	Align  AlignConfig  `yaml:"align"`
	DB     DBConfig     `yaml:"db"`
}

func LoadConfig(path string) (*MinerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML and fills defaults. It does not validate, so flag
// overrides can still be applied before Validate.
func Parse(data []byte) (*MinerConfig, error) {
	var cfg MinerConfig
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

func (c *MinerConfig) ApplyDefaults() {
	if c.Source.CatalogURL == "" {
		c.Source.CatalogURL = DefaultCatalogURL
	}
	if c.Source.SequenceURL == "" {
		c.Source.SequenceURL = DefaultSequenceURL
	}
	if c.Source.Format == "" {
		c.Source.Format = DefaultFormat
	}
	if c.Source.UserAgent == "" {
		c.Source.UserAgent = DefaultUserAgent
	}
	if c.Source.PageSize == 0 {
		c.Source.PageSize = DefaultPageSize
	}
	if c.Logic.DelayMS == 0 {
		c.Logic.DelayMS = DefaultDelayMS
	}
	if c.Logic.TimeoutSec == 0 {
		c.Logic.TimeoutSec = DefaultTimeoutSec
	}
	if c.Logic.MaxConcurrentWorkers == 0 {
		c.Logic.MaxConcurrentWorkers = 1
	}
	if c.Align.Binary == "" {
		c.Align.Binary = DefaultAlignBinary
	}
	if c.DB.Database == "" {
		c.DB.Database = "seq_miner"
	}
	if c.DB.Collections.Sequences == "" {
		c.DB.Collections.Sequences = "sequences"
	}
	if c.DB.Collections.RunHistory == "" {
		c.DB.Collections.RunHistory = "run_history"
	}
}

func (c *MinerConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Source.EntryID) == "" {
		errs = append(errs, errors.New("source.entry_id is required"))
	}
	if c.Source.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("source.page_size must be positive, got %d", c.Source.PageSize))
	}
	if c.Source.MaxSequences < 0 {
		errs = append(errs, fmt.Errorf("source.max_sequences must not be negative, got %d", c.Source.MaxSequences))
	}
	if c.Logic.DelayMS < MinDelayMS {
		errs = append(errs, fmt.Errorf("logic.delay_ms must be at least %d, got %d", MinDelayMS, c.Logic.DelayMS))
	}
	if c.Logic.TimeoutSec < 0 {
		errs = append(errs, fmt.Errorf("logic.timeout_sec must not be negative, got %d", c.Logic.TimeoutSec))
	}
	if c.Logic.MaxConcurrentWorkers < 1 {
		errs = append(errs, fmt.Errorf("logic.max_concurrent_workers must be at least 1, got %d", c.Logic.MaxConcurrentWorkers))
	}
	if c.Filter.Reference != "" && c.Filter.ReferenceFile != "" {
		errs = append(errs, errors.New("filter.reference and filter.reference_file are mutually exclusive"))
	}
	if lo, hi := c.Filter.MinDistance, c.Filter.MaxDistance; lo != nil && hi != nil && *lo > *hi {
		errs = append(errs, fmt.Errorf("filter.min_distance %d exceeds filter.max_distance %d", *lo, *hi))
	}
	for name, v := range map[string]*int{"min_distance": c.Filter.MinDistance, "max_distance": c.Filter.MaxDistance} {
		if v != nil && *v < 0 {
			errs = append(errs, fmt.Errorf("filter.%s must not be negative, got %d", name, *v))
		}
	}
	return errors.Join(errs...)
}

func (c *MinerConfig) Delay() time.Duration {
	return time.Duration(c.Logic.DelayMS) * time.Millisecond
}

func (c *MinerConfig) Timeout() time.Duration {
	return time.Duration(c.Logic.TimeoutSec) * time.Second
}

// OutputPath defaults to interpro_<entry>.fasta.
func (c *MinerConfig) OutputPath() string {
	if c.Output.Path != "" {
		return c.Output.Path
	}
	return fmt.Sprintf("interpro_%s.fasta", c.Source.EntryID)
}

// AlignOutput defaults to aligned_<output> next to the mined FASTA file.
func (c *MinerConfig) AlignOutput() string {
	if c.Align.Output != "" {
		return c.Align.Output
	}
	out := c.OutputPath()
	return filepath.Join(filepath.Dir(out), "aligned_"+filepath.Base(out))
}

func (c *MinerConfig) Window() models.FilterWindow {
	return models.FilterWindow{MinDistance: c.Filter.MinDistance, MaxDistance: c.Filter.MaxDistance}
}

// Reference resolves the reference sequence from filter.reference or
// filter.reference_file. A nil result means no reference was configured.
func (c *MinerConfig) Reference() (*string, error) {
	if ref := strings.TrimSpace(c.Filter.Reference); ref != "" {
		entries, err := fasta.ParseString(">reference\n" + strings.Join(strings.Fields(ref), "\n"))
		if err != nil {
			return nil, fmt.Errorf("filter.reference: %w", err)
		}
		return &entries[0].Sequence, nil
	}
	if c.Filter.ReferenceFile != "" {
		entry, err := fasta.ReadOne(c.Filter.ReferenceFile)
		if err != nil {
			return nil, fmt.Errorf("filter.reference_file: %w", err)
		}
		return &entry.Sequence, nil
	}
	return nil, nil
}
