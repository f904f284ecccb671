// Package config loads and validates the configuration of a run.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"slices"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/naka-gawa/grade-report/internal/domain"
	"github.com/naka-gawa/grade-report/internal/gateway"
	"github.com/naka-gawa/grade-report/internal/logging"
	"github.com/naka-gawa/grade-report/internal/notify"
	"github.com/naka-gawa/grade-report/internal/usecase"
	"github.com/spf13/viper"
)

// Name is the base name of the configuration file and the prefix of the environment variables.
const Name = "grade-report"

// ErrInvalidConfig is returned when the loaded configuration cannot drive a run.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the configuration of a run.
type Config struct {
	Listings    []domain.ProductListing `mapstructure:"listings"`
	SendMail    bool                    `mapstructure:"send_mail"`
	AbortPolicy usecase.AbortPolicy     `mapstructure:"abort_policy"`
	TagSnapshot usecase.TagSnapshot     `mapstructure:"tag_snapshot"`
	Concurrency int                     `mapstructure:"concurrency"`

	// Template is an html/template file replacing the built-in report template.
	Template    string `mapstructure:"template"`
	OutputDir   string `mapstructure:"output_dir"`
	MetricsFile string `mapstructure:"metrics_file"`

	Catalog gateway.Config     `mapstructure:"catalog"`
	Email   notify.EmailConfig `mapstructure:"email"`
	Slack   notify.SlackConfig `mapstructure:"slack"`
	Log     logging.Config     `mapstructure:"log"`
}

var defaults = map[string]any{
	"send_mail":         false,
	"abort_policy":      string(usecase.AbortListing),
	"tag_snapshot":      string(usecase.TagSnapshotFull),
	"concurrency":       1,
	"template":          "",
	"output_dir":        "",
	"metrics_file":      "",
	"catalog.base_url":  gateway.DefaultBaseURL,
	"catalog.registry":  gateway.DefaultRegistry,
	"catalog.token":     "",
	"catalog.timeout":   gateway.DefaultTimeout.String(),
	"email.address":     "",
	"email.password":    "",
	"email.host":        notify.DefaultSMTPHost,
	"email.port":        notify.DefaultSMTPPort,
	"slack.token":       "",
	"slack.channel":     "",
	"slack.api_url":     "",
	"log.console_level": "INFO",
	"log.file_level":    "DEBUG",
	"log.file_dir":      ".",
	"log.json":          false,
}

// legacyEnv are unprefixed environment variables still honored for some keys.
var legacyEnv = map[string]string{
	"email.address":     "EMAIL_ADDRESS",
	"email.password":    "EMAIL_PASSWORD",
	"log.console_level": "CONSOLE_LOG_LEVEL",
	"log.file_level":    "FILE_LOG_LEVEL",
	"log.file_dir":      "FILE_LOG_DIR",
}

// InitViper sets the defaults of vip, reads the configuration file and binds the environment.
//
// configFile is used when set. Otherwise grade-report.yaml is searched in the working directory, the system
// configuration directories and beside the executable; not finding one is not an error.
// Every key can be set with GRADE_REPORT_<KEY>, dots replaced by underscores.
func InitViper(configFile string, vip *viper.Viper, logger *slog.Logger) error {
	for k, v := range defaults {
		vip.SetDefault(k, v)
	}

	if configFile != "" {
		vip.SetConfigFile(configFile)
	} else {
		vip.SetConfigName(Name)
		vip.AddConfigPath(".")

		if runtime.GOOS == "windows" {
			vip.AddConfigPath("C:\\ProgramData\\" + Name)
		} else {
			vip.AddConfigPath("/etc/" + Name)
			vip.AddConfigPath("/usr/local/etc/" + Name)
		}

		if binPath, err := os.Executable(); err != nil {
			logger.Warn("Failed to get current executable path, not adding it as a config dir", "error", err)
		} else {
			vip.AddConfigPath(filepath.Dir(binPath))
		}
	}
	if err := vip.ReadInConfig(); err != nil {
		var e viper.ConfigFileNotFoundError
		if !errors.As(err, &e) {
			return fmt.Errorf("invalid configuration file: %w", err)
		}
		logger.Info("No configuration file. Only defaults, environment variables and flags are used.")
	} else {
		logger.Info("Using configuration file", "file", vip.ConfigFileUsed())
	}

	prefix := strings.ToUpper(strings.ReplaceAll(Name, "-", "_")) + "_"
	for k := range defaults {
		envs := []string{prefix + strings.ToUpper(strings.ReplaceAll(k, ".", "_"))}
		if legacy, ok := legacyEnv[k]; ok {
			envs = append(envs, legacy)
		}
		if err := vip.BindEnv(append([]string{k}, envs...)...); err != nil {
			return fmt.Errorf("could not bind environment variable: %w", err)
		}
	}
	return nil
}

// Load decodes vip into a Config and validates it.
func Load(vip *viper.Viper) (Config, error) {
	var cfg Config
	if err := vip.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		enumHook,
		listingKeysHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// enumHook decodes policy names, rejecting unknown values.
func enumHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}
	switch to {
	case reflect.TypeOf(usecase.AbortListing):
		return usecase.ParseAbortPolicy(data.(string))
	case reflect.TypeOf(usecase.TagSnapshotFull):
		return usecase.ParseTagSnapshot(data.(string))
	}
	return data, nil
}

// listingKeysHook accepts hyphenated keys in listing entries, so product-listing-id is read as
// product_listing_id. The underscore spelling wins when both are set.
func listingKeysHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.Map || to != reflect.TypeOf(domain.ProductListing{}) {
		return data, nil
	}
	m, ok := data.(map[string]any)
	if !ok {
		return data, nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range m {
		norm := strings.ReplaceAll(k, "-", "_")
		if norm == k {
			continue
		}
		delete(out, k)
		if _, set := m[norm]; !set {
			out[norm] = v
		}
	}
	return out, nil
}

// Validate reports every setting preventing a run, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	var errs []error

	if len(c.Listings) == 0 {
		errs = append(errs, errors.New("no product listing configured"))
	}
	seen := make(map[string]struct{}, len(c.Listings))
	for i, l := range c.Listings {
		if l.ID == "" {
			errs = append(errs, fmt.Errorf("listing %d: product_listing_id is required", i))
		} else if _, ok := seen[l.ID]; ok {
			errs = append(errs, fmt.Errorf("listing %d: duplicate product_listing_id %q", i, l.ID))
		}
		seen[l.ID] = struct{}{}
		if l.Name == "" {
			errs = append(errs, fmt.Errorf("listing %d: name is required", i))
		}
		if c.SendMail && len(l.EmailRecipients) == 0 {
			errs = append(errs, fmt.Errorf("listing %d: email_recipients are required to send mail", i))
		}
	}

	if _, err := usecase.ParseAbortPolicy(string(c.AbortPolicy)); err != nil {
		errs = append(errs, err)
	}
	if _, err := usecase.ParseTagSnapshot(string(c.TagSnapshot)); err != nil {
		errs = append(errs, err)
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.SendMail && (c.Email.Address == "" || c.Email.Password == "") {
		errs = append(errs, errors.New("email address and password are required to send mail"))
	}
	if c.Slack.Channel != "" && c.Slack.Token == "" {
		errs = append(errs, errors.New("slack token is required to post to a channel"))
	}
	if _, err := logging.ParseLevel(c.Log.ConsoleLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseLevel(c.Log.FileLevel); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// SelectListings returns the configured listings with the given ids, in configuration order.
// No id selects every listing.
func (c Config) SelectListings(ids []string) ([]domain.ProductListing, error) {
	if len(ids) == 0 {
		return c.Listings, nil
	}
	var selected []domain.ProductListing
	for _, l := range c.Listings {
		if slices.Contains(ids, l.ID) {
			selected = append(selected, l)
		}
	}
	for _, id := range ids {
		if !slices.ContainsFunc(selected, func(l domain.ProductListing) bool { return l.ID == id }) {
			return nil, fmt.Errorf("%w: product listing %q is not configured", ErrInvalidConfig, id)
		}
	}
	return selected, nil
}
