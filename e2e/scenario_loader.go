package e2e

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/config"
)

// ScenarioConfig represents a complete reconciliation scenario
type ScenarioConfig struct {
	Name        string
	Description string
	Dir         string
	ObjectKey   string
	Policy      ScenarioPolicy
	Users       []ScenarioUser
	Directory   ScenarioDirectory
	Expected    ExpectedResults
}

// ScenarioPolicy is the driver configuration under test
type ScenarioPolicy struct {
	TargetDomain  string
	SourceDomains []string
	Whitelist     []string
}

// ScenarioUser is one entry of the authoritative export. An empty Email
// produces an entry without primary_email.
type ScenarioUser struct {
	Key       string `yaml:"key"`
	Email     string `yaml:"email"`
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
}

// ScenarioDirectory is the directory state before the run
type ScenarioDirectory struct {
	Active        []string
	Suspended     []string
	CreateErrors  map[string]string // email -> error code
	DisableErrors map[string]string // email -> error code
}

// ExpectedResults defines what to expect from the scenario
type ExpectedResults struct {
	Status     int
	FinalState string
	Created    []string
	Disabled   []string
	Skipped    []string
	Malformed  int
	Collisions int
}

// ScenarioYAML represents the YAML format for scenario.yaml
type ScenarioYAML struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	ObjectKey   string `yaml:"object_key"`
	Policy      struct {
		TargetDomain  string   `yaml:"target_domain"`
		SourceDomains []string `yaml:"source_domains"`
		Whitelist     []string `yaml:"whitelist"`
	} `yaml:"policy"`
	Users     []ScenarioUser `yaml:"users"`
	Directory struct {
		Active        []string          `yaml:"active"`
		Suspended     []string          `yaml:"suspended"`
		CreateErrors  map[string]string `yaml:"create_errors"`
		DisableErrors map[string]string `yaml:"disable_errors"`
	} `yaml:"directory"`
	Expected struct {
		Status     int      `yaml:"status"`
		FinalState string   `yaml:"final_state"`
		Created    []string `yaml:"created"`
		Disabled   []string `yaml:"disabled"`
		Skipped    []string `yaml:"skipped"`
		Malformed  int      `yaml:"malformed"`
		Collisions int      `yaml:"collisions"`
	} `yaml:"expected"`
}

// LoadScenarios discovers and loads all scenarios from testdata/scenarios/
func LoadScenarios(testdataPath string) ([]ScenarioConfig, error) {
	scenariosPath := filepath.Join(testdataPath, "scenarios")

	if _, err := os.Stat(scenariosPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("scenarios directory not found: %s", scenariosPath)
	}

	var scenarios []ScenarioConfig

	err := filepath.Walk(scenariosPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && (info.Name() == "scenario.yaml" || info.Name() == "scenario.yml") {
			scenarioDir := filepath.Dir(path)
			scenario, err := LoadScenario(scenarioDir)
			if err != nil {
				return fmt.Errorf("failed to load scenario from %s: %w", scenarioDir, err)
			}
			scenarios = append(scenarios, *scenario)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return scenarios, nil
}

// LoadScenario loads a specific scenario from a directory
func LoadScenario(scenarioDir string) (*ScenarioConfig, error) {
	scenarioYAML, err := loadScenarioYAML(scenarioDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load scenario.yaml: %w", err)
	}

	scenario := &ScenarioConfig{
		Name:        scenarioYAML.Name,
		Description: scenarioYAML.Description,
		Dir:         scenarioDir,
		ObjectKey:   scenarioYAML.ObjectKey,
		Policy: ScenarioPolicy{
			TargetDomain:  strings.ToLower(scenarioYAML.Policy.TargetDomain),
			SourceDomains: scenarioYAML.Policy.SourceDomains,
			Whitelist:     scenarioYAML.Policy.Whitelist,
		},
		Users: scenarioYAML.Users,
		Directory: ScenarioDirectory{
			Active:        scenarioYAML.Directory.Active,
			Suspended:     scenarioYAML.Directory.Suspended,
			CreateErrors:  scenarioYAML.Directory.CreateErrors,
			DisableErrors: scenarioYAML.Directory.DisableErrors,
		},
		Expected: ExpectedResults{
			Status:     scenarioYAML.Expected.Status,
			FinalState: scenarioYAML.Expected.FinalState,
			Created:    nonNil(scenarioYAML.Expected.Created),
			Disabled:   nonNil(scenarioYAML.Expected.Disabled),
			Skipped:    nonNil(scenarioYAML.Expected.Skipped),
			Malformed:  scenarioYAML.Expected.Malformed,
			Collisions: scenarioYAML.Expected.Collisions,
		},
	}

	// Defaults
	if scenario.ObjectKey == "" {
		scenario.ObjectKey = "ldap-full-profile-v2.json.xz"
	}
	if scenario.Policy.TargetDomain == "" {
		scenario.Policy.TargetDomain = "gcp.infra.mozilla.com"
	}
	if len(scenario.Policy.SourceDomains) == 0 {
		scenario.Policy.SourceDomains = []string{"mozilla.com"}
	}
	if scenario.Expected.Status == 0 {
		scenario.Expected.Status = 200
	}
	if scenario.Expected.FinalState == "" {
		scenario.Expected.FinalState = "done"
	}

	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("scenario validation failed: %w", err)
	}

	return scenario, nil
}

// Config builds the driver configuration for the scenario
func (s *ScenarioConfig) Config() *config.Config {
	return &config.Config{
		Source: config.SourceConfig{
			Bucket:    "e2e-bucket",
			ObjectKey: s.ObjectKey,
		},
		Directory: config.DirectoryConfig{
			Domain:           s.Policy.TargetDomain,
			PageSize:         500,
			SuspensionReason: "e2e",
		},
		Policy: config.PolicyConfig{
			SourceDomains: s.Policy.SourceDomains,
			Whitelist:     s.Policy.Whitelist,
		},
		RunMode: config.RunModeOnce,
	}
}

// loadScenarioYAML loads and parses scenario.yaml
func loadScenarioYAML(scenarioDir string) (*ScenarioYAML, error) {
	paths := []string{
		filepath.Join(scenarioDir, "scenario.yaml"),
		filepath.Join(scenarioDir, "scenario.yml"),
	}

	var content []byte
	var err error

	for _, path := range paths {
		content, err = os.ReadFile(path) // #nosec G304 - test fixture path
		if err == nil {
			break
		}
	}

	if err != nil {
		return nil, fmt.Errorf("scenario.yaml not found in %s", scenarioDir)
	}

	var scenarioYAML ScenarioYAML
	if err := yaml.Unmarshal(content, &scenarioYAML); err != nil {
		return nil, fmt.Errorf("failed to parse scenario.yaml: %w", err)
	}

	return &scenarioYAML, nil
}

// validateScenario validates that a scenario has required structure
func validateScenario(scenario *ScenarioConfig) error {
	if scenario.Name == "" {
		return fmt.Errorf("scenario name is required")
	}

	for code := range invertCodes(scenario.Directory.CreateErrors, scenario.Directory.DisableErrors) {
		if _, ok := knownErrorCodes[code]; !ok {
			return fmt.Errorf("unknown error code %q", code)
		}
	}

	switch scenario.Expected.Status {
	case 200, 500:
	default:
		return fmt.Errorf("expected status must be 200 or 500, got %d", scenario.Expected.Status)
	}

	return nil
}

func invertCodes(maps ...map[string]string) map[string]struct{} {
	codes := make(map[string]struct{})
	for _, m := range maps {
		for _, code := range m {
			codes[code] = struct{}{}
		}
	}
	return codes
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// FilterScenariosByTag filters scenarios by tags in their names or descriptions
func FilterScenariosByTag(scenarios []ScenarioConfig, tags []string) []ScenarioConfig {
	if len(tags) == 0 {
		return scenarios
	}

	var filtered []ScenarioConfig
	for _, scenario := range scenarios {
		for _, tag := range tags {
			if strings.Contains(strings.ToLower(scenario.Name), strings.ToLower(tag)) ||
				strings.Contains(strings.ToLower(scenario.Description), strings.ToLower(tag)) {
				filtered = append(filtered, scenario)
				break
			}
		}
	}

	return filtered
}
