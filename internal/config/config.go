package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Input    Input    `yaml:"input"`
	Output   Output   `yaml:"output"`
	Location Location `yaml:"location"`
	Geocode  Geocode  `yaml:"geocode"`
	Cleaning Cleaning `yaml:"cleaning"`
	Columns  Columns  `yaml:"columns"`
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
}

type Input struct {
	Path string `yaml:"path" validate:"required"`
}

type Output struct {
	Path    string `yaml:"path" validate:"required"`
	DataDir string `yaml:"data_dir"`
}

// Location is the single municipality the dataset covers. Every record is
// geocoded as "<cross street>, <city>, <state>".
type Location struct {
	City  string `yaml:"city" validate:"required"`
	State string `yaml:"state" validate:"required"`
}

type Geocode struct {
	ResultsFile       string   `yaml:"results_file" validate:"required"`
	AddressesFile     string   `yaml:"addresses_file" validate:"required"`
	BaseURL           string   `yaml:"base_url" validate:"required,url"`
	APIKeyEnv         string   `yaml:"api_key_env"`
	BatchSize         int      `yaml:"batch_size" validate:"gte=1,lte=10000"`
	Concurrency       int      `yaml:"concurrency" validate:"gte=1,lte=16"`
	RequestsPerSecond float64  `yaml:"requests_per_second" validate:"gt=0"`
	MaxRetries        int      `yaml:"max_retries" validate:"gte=0,lte=10"`
	TimeoutSeconds    int      `yaml:"timeout_seconds" validate:"gte=1"`
	MinAccuracy       float64  `yaml:"min_accuracy" validate:"gte=0,lte=1"`
	ExcludeCounties   []string `yaml:"exclude_counties"`
}

type Cleaning struct {
	// Strict fails the run on an out-of-domain severity code instead of
	// dropping the record.
	Strict   bool     `yaml:"strict"`
	NAValues []string `yaml:"na_values"`
}

// Columns names the raw export column behind each canonical field.
type Columns struct {
	CaseID           string `yaml:"case_id" validate:"required"`
	AccidentYear     string `yaml:"accident_year" validate:"required"`
	PrimaryRoad      string `yaml:"primary_road" validate:"required"`
	SecondaryRoad    string `yaml:"secondary_road" validate:"required"`
	IntersectionFlag string `yaml:"intersection_flag" validate:"required"`
	Weather          string `yaml:"weather" validate:"required"`
	Severity         string `yaml:"collision_severity" validate:"required"`
	PCFViolation     string `yaml:"pcf_violation_category" validate:"required"`
	Lighting         string `yaml:"lighting" validate:"required"`
	RoadSurface      string `yaml:"road_surface" validate:"required"`
	PedestrianAction string `yaml:"pedestrian_action" validate:"required"`
	CollisionType    string `yaml:"type_of_collision" validate:"required"`
}

type Server struct {
	Port int `yaml:"port" validate:"gte=1,lte=65535"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for collisionclean.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "collisionclean")
}

// DataDir returns the XDG data directory for collisionclean.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "collisionclean")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/collisionclean/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'collisionclean init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// parse parses YAML bytes into a Config, applying defaults, then validates it.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Output: Output{Path: "collisions_clean.csv"},
		Geocode: Geocode{
			ResultsFile:       "coordinates_geocodio.csv",
			AddressesFile:     "addresses.csv",
			BaseURL:           "https://api.geocod.io/v1.7",
			APIKeyEnv:         "GEOCODIO_API_KEY",
			BatchSize:         1000,
			Concurrency:       1,
			RequestsPerSecond: 1,
			MaxRetries:        3,
			TimeoutSeconds:    600,
			MinAccuracy:       0.52,
		},
		Cleaning: Cleaning{NAValues: []string{"", "NA"}},
		Columns:  DefaultColumns(),
		Server:   Server{Port: 8000},
		Logging:  Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
			}
			return nil, fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultColumns returns the SWITRS collision export column names.
func DefaultColumns() Columns {
	return Columns{
		CaseID:           "CASE_ID",
		AccidentYear:     "ACCIDENT_YEAR",
		PrimaryRoad:      "PRIMARY_RD",
		SecondaryRoad:    "SECONDARY_RD",
		IntersectionFlag: "INTERSECTION",
		Weather:          "WEATHER_1",
		Severity:         "COLLISION_SEVERITY",
		PCFViolation:     "PCF_VIOL_CATEGORY",
		Lighting:         "LIGHTING",
		RoadSurface:      "ROAD_SURFACE",
		PedestrianAction: "PED_ACTION",
		CollisionType:    "TYPE_OF_COLLISION",
	}
}

// Raw returns the raw column name for each canonical field, keyed by the
// canonical name.
func (c Columns) Raw() map[string]string {
	return map[string]string{
		"case_id":                c.CaseID,
		"accident_year":          c.AccidentYear,
		"primary_road":           c.PrimaryRoad,
		"secondary_road":         c.SecondaryRoad,
		"intersection_flag":      c.IntersectionFlag,
		"weather":                c.Weather,
		"collision_severity":     c.Severity,
		"pcf_violation_category": c.PCFViolation,
		"lighting":               c.Lighting,
		"road_surface":           c.RoadSurface,
		"pedestrian_action":      c.PedestrianAction,
		"type_of_collision":      c.CollisionType,
	}
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// APIKey returns the geocoding API key from the configured environment
// variable, or "" when unset.
func (c *Config) APIKey() string {
	if c.Geocode.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Geocode.APIKeyEnv)
}

// UnaddressablePath is where records with no road names are listed, next
// to the cleaned output.
func (c *Config) UnaddressablePath() string {
	return filepath.Join(filepath.Dir(c.Output.Path), "unaddressable.csv")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
